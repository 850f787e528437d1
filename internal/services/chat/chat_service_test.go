package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/viniciusmb/trampo-backend/internal/domain"
	"github.com/viniciusmb/trampo-backend/internal/models"
	"github.com/viniciusmb/trampo-backend/internal/realtime"
)

// feedRecorder captures published events instead of hitting Redis.
type feedRecorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *feedRecorder) Publish(_ context.Context, ev realtime.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *feedRecorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Topic)
	}
	return out
}

func (r *feedRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Service{}, &models.Booking{},
		&models.Conversation{}, &models.Message{}, &models.Proposal{}, &models.ChangeEvent{},
	))
	return db
}

type fixture struct {
	client   models.User
	provider models.User
	booking  models.Booking
}

func seed(t *testing.T, db *gorm.DB) fixture {
	t.Helper()
	f := fixture{
		client:   models.User{Name: "Ana", Email: "ana@example.com", Password: "x", Role: models.RoleClient},
		provider: models.User{Name: "Bruno", Email: "bruno@example.com", Password: "x", Role: models.RoleProvider},
	}
	require.NoError(t, db.Create(&f.client).Error)
	require.NoError(t, db.Create(&f.provider).Error)

	svc := models.Service{ProviderID: f.provider.ID, Name: "Pintura", Price: 250}
	require.NoError(t, db.Create(&svc).Error)

	f.booking = models.Booking{
		ClientID:       f.client.ID,
		ProfessionalID: f.provider.ID,
		ServiceID:      svc.ID,
		Status:         models.BookingStatusPending,
		ScheduledDate:  time.Now().Add(24 * time.Hour),
	}
	require.NoError(t, db.Create(&f.booking).Error)
	return f
}

func clientSession(f fixture) domain.Session {
	return domain.Session{UserID: f.client.ID, Role: domain.RoleClient}
}

func providerSession(f fixture) domain.Session {
	return domain.Session{UserID: f.provider.ID, Role: domain.RoleProvider}
}

func TestOpenConversationIsLazyAndIdempotent(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewChatService(db, &feedRecorder{})

	conv, created, err := svc.OpenConversation(context.Background(), clientSession(f), f.booking.ID)
	require.NoError(t, err)
	require.True(t, created)

	again, created2, err := svc.OpenConversation(context.Background(), providerSession(f), f.booking.ID)
	require.NoError(t, err)
	require.False(t, created2)
	require.Equal(t, conv.ID, again.ID)
}

func TestOpenConversationOutsiderForbidden(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewChatService(db, &feedRecorder{})

	outsider := models.User{Name: "Eve", Email: "eve@example.com", Password: "x", Role: models.RoleClient}
	require.NoError(t, db.Create(&outsider).Error)

	_, _, err := svc.OpenConversation(context.Background(),
		domain.Session{UserID: outsider.ID, Role: domain.RoleClient}, f.booking.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestPostMessagePersistsAndEmitsEvents(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	rec := &feedRecorder{}
	svc := NewChatService(db, rec)

	conv, _, err := svc.OpenConversation(context.Background(), clientSession(f), f.booking.ID)
	require.NoError(t, err)

	msg, err := svc.PostMessage(context.Background(), clientSession(f), conv.ID, "  Oi, tudo bem?  ")
	require.NoError(t, err)
	require.Equal(t, "Oi, tudo bem?", msg.Content)
	require.Equal(t, models.MessageText, msg.MessageType)
	require.False(t, msg.Read)

	// outbox rows written in the same transaction
	var rows int64
	require.NoError(t, db.Model(&models.ChangeEvent{}).Count(&rows).Error)
	require.EqualValues(t, 2, rows)

	topics := rec.topics()
	require.Contains(t, topics, realtime.ChatTopic(conv.ID))
	require.Contains(t, topics, realtime.UnreadTopic(f.provider.ID))
}

func TestPostMessageEmptyContent(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewChatService(db, &feedRecorder{})

	conv, _, err := svc.OpenConversation(context.Background(), clientSession(f), f.booking.ID)
	require.NoError(t, err)

	_, err = svc.PostMessage(context.Background(), clientSession(f), conv.ID, "   ")
	require.ErrorIs(t, err, domain.ErrEmptyContent)
}

func TestLockedChatRefusesWritesButKeepsHistory(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewChatService(db, &feedRecorder{})

	conv, _, err := svc.OpenConversation(context.Background(), clientSession(f), f.booking.ID)
	require.NoError(t, err)

	_, err = svc.PostMessage(context.Background(), clientSession(f), conv.ID, "antes do lock")
	require.NoError(t, err)

	require.NoError(t, db.Model(&models.Booking{}).Where("id = ?", f.booking.ID).
		Updates(map[string]interface{}{"chat_locked": true, "chat_locked_at": time.Now()}).Error)

	_, err = svc.PostMessage(context.Background(), clientSession(f), conv.ID, "depois do lock")
	require.ErrorIs(t, err, domain.ErrChatLocked)
	_, err = svc.PostMessage(context.Background(), providerSession(f), conv.ID, "tambem bloqueado")
	require.ErrorIs(t, err, domain.ErrChatLocked)

	msgs, err := svc.Messages(context.Background(), clientSession(f), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "antes do lock", msgs[0].Content)
}

func TestMarkReadFlipsOnlyCounterpartMessages(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	rec := &feedRecorder{}
	svc := NewChatService(db, rec)

	conv, _, err := svc.OpenConversation(context.Background(), clientSession(f), f.booking.ID)
	require.NoError(t, err)

	_, err = svc.PostMessage(context.Background(), providerSession(f), conv.ID, "bom dia")
	require.NoError(t, err)
	_, err = svc.PostMessage(context.Background(), providerSession(f), conv.ID, "posso comecar amanha")
	require.NoError(t, err)
	_, err = svc.PostMessage(context.Background(), clientSession(f), conv.ID, "pode sim")
	require.NoError(t, err)
	rec.reset()

	flipped, err := svc.MarkRead(context.Background(), clientSession(f), conv.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, flipped)

	topics := rec.topics()
	require.Contains(t, topics, realtime.ChatTopic(conv.ID))
	require.Contains(t, topics, realtime.UnreadTopic(f.client.ID))

	// own message stays unread for the counterpart
	var ownUnread int64
	require.NoError(t, db.Model(&models.Message{}).
		Where("sender_id = ? AND read = ?", f.client.ID, false).
		Count(&ownUnread).Error)
	require.EqualValues(t, 1, ownUnread)

	// second call is a no-op and stays silent
	rec.reset()
	flipped, err = svc.MarkRead(context.Background(), clientSession(f), conv.ID)
	require.NoError(t, err)
	require.Zero(t, flipped)
	require.Empty(t, rec.topics())
}

func TestMessagesOrderedOldestFirst(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewChatService(db, &feedRecorder{})

	conv, _, err := svc.OpenConversation(context.Background(), clientSession(f), f.booking.ID)
	require.NoError(t, err)

	for _, text := range []string{"primeira", "segunda", "terceira"} {
		_, err := svc.PostMessage(context.Background(), clientSession(f), conv.ID, text)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	msgs, err := svc.Messages(context.Background(), providerSession(f), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "primeira", msgs[0].Content)
	require.Equal(t, "terceira", msgs[2].Content)
	for i := 1; i < len(msgs); i++ {
		require.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}
}

func TestUnreadTotalSpansConversations(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewChatService(db, &feedRecorder{})

	conv, _, err := svc.OpenConversation(context.Background(), clientSession(f), f.booking.ID)
	require.NoError(t, err)

	// second booking between the same pair, its own thread
	b2 := models.Booking{
		ClientID:       f.client.ID,
		ProfessionalID: f.provider.ID,
		ServiceID:      f.booking.ServiceID,
		Status:         models.BookingStatusPending,
		ScheduledDate:  time.Now().Add(48 * time.Hour),
	}
	require.NoError(t, db.Create(&b2).Error)
	conv2, _, err := svc.OpenConversation(context.Background(), clientSession(f), b2.ID)
	require.NoError(t, err)

	_, err = svc.PostMessage(context.Background(), providerSession(f), conv.ID, "um")
	require.NoError(t, err)
	_, err = svc.PostMessage(context.Background(), providerSession(f), conv2.ID, "dois")
	require.NoError(t, err)
	_, err = svc.PostMessage(context.Background(), clientSession(f), conv.ID, "resposta")
	require.NoError(t, err)

	total, err := svc.UnreadTotal(context.Background(), clientSession(f))
	require.NoError(t, err)
	require.EqualValues(t, 2, total)

	total, err = svc.UnreadTotal(context.Background(), providerSession(f))
	require.NoError(t, err)
	require.EqualValues(t, 1, total)

	_, err = svc.MarkRead(context.Background(), clientSession(f), conv.ID)
	require.NoError(t, err)
	total, err = svc.UnreadTotal(context.Background(), clientSession(f))
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}

func TestListConversationsNewestActivityFirst(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewChatService(db, &feedRecorder{})

	conv1, _, err := svc.OpenConversation(context.Background(), clientSession(f), f.booking.ID)
	require.NoError(t, err)

	b2 := models.Booking{
		ClientID:       f.client.ID,
		ProfessionalID: f.provider.ID,
		ServiceID:      f.booking.ServiceID,
		Status:         models.BookingStatusPending,
		ScheduledDate:  time.Now().Add(48 * time.Hour),
	}
	require.NoError(t, db.Create(&b2).Error)
	conv2, _, err := svc.OpenConversation(context.Background(), clientSession(f), b2.ID)
	require.NoError(t, err)

	_, err = svc.PostMessage(context.Background(), providerSession(f), conv2.ID, "mensagem antiga")
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = svc.PostMessage(context.Background(), providerSession(f), conv1.ID, "mensagem nova")
	require.NoError(t, err)

	items, err := svc.ListConversations(context.Background(), clientSession(f))
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, conv1.ID.String(), items[0].ID)
	require.NotNil(t, items[0].LastMessage)
	require.Equal(t, "mensagem nova", items[0].LastMessage.Content)
	require.EqualValues(t, 1, items[0].UnreadCount)
	require.Equal(t, f.provider.Name, items[0].Counterpart.Name)
	require.Equal(t, models.DisplayStatusNegotiating, items[0].BookingStatus)
}
