package booking

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/viniciusmb/trampo-backend/internal/domain"
	"github.com/viniciusmb/trampo-backend/internal/models"
)

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
	service  models.Service
}

func seed(t *testing.T, db *gorm.DB) fixture {
	t.Helper()
	f := fixture{
		client:   models.User{Name: "Ana", Email: "ana@example.com", Password: "x", Role: models.RoleClient},
		provider: models.User{Name: "Bruno", Email: "bruno@example.com", Password: "x", Role: models.RoleProvider},
	}
	require.NoError(t, db.Create(&f.client).Error)
	require.NoError(t, db.Create(&f.provider).Error)

	f.service = models.Service{ProviderID: f.provider.ID, Name: "Pintura", Price: 250, Unit: "diaria"}
	require.NoError(t, db.Create(&f.service).Error)
	return f
}

func clientSession(f fixture) domain.Session {
	return domain.Session{UserID: f.client.ID, Role: domain.RoleClient}
}

func providerSession(f fixture) domain.Session {
	return domain.Session{UserID: f.provider.ID, Role: domain.RoleProvider}
}

func TestRequestCreatesPendingBooking(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewBookingService(db)

	when := time.Now().Add(48 * time.Hour)
	b, err := svc.Request(context.Background(), clientSession(f), RequestInput{
		ProviderID:    f.provider.ID,
		ServiceID:     f.service.ID,
		ScheduledDate: when,
		Description:   "Pintar sala e cozinha",
	})
	require.NoError(t, err)
	require.Equal(t, models.BookingStatusPending, b.Status)
	require.Equal(t, f.client.ID, b.ClientID)
	require.Equal(t, f.provider.ID, b.ProfessionalID)
	require.Nil(t, b.FinalPrice)
	require.Nil(t, b.PaymentMethod)
	require.False(t, b.ChatLocked)
}

func TestRequestRejectsPastDate(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewBookingService(db)

	_, err := svc.Request(context.Background(), clientSession(f), RequestInput{
		ProviderID:    f.provider.ID,
		ServiceID:     f.service.ID,
		ScheduledDate: time.Now().Add(-time.Hour),
	})
	require.ErrorIs(t, err, domain.ErrInvalidDate)
}

func TestRequestOnlyClientsMayBook(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewBookingService(db)

	_, err := svc.Request(context.Background(), providerSession(f), RequestInput{
		ProviderID:    f.provider.ID,
		ServiceID:     f.service.ID,
		ScheduledDate: time.Now().Add(time.Hour),
	})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestRequestServiceMustBelongToProvider(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewBookingService(db)

	other := models.User{Name: "Carla", Email: "carla@example.com", Password: "x", Role: models.RoleProvider}
	require.NoError(t, db.Create(&other).Error)

	_, err := svc.Request(context.Background(), clientSession(f), RequestInput{
		ProviderID:    other.ID,
		ServiceID:     f.service.ID, // belongs to f.provider
		ScheduledDate: time.Now().Add(time.Hour),
	})
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func mustBooking(t *testing.T, db *gorm.DB, svc *BookingService, f fixture) *models.Booking {
	t.Helper()
	b, err := svc.Request(context.Background(), clientSession(f), RequestInput{
		ProviderID:    f.provider.ID,
		ServiceID:     f.service.ID,
		ScheduledDate: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	return b
}

func TestDirectAcceptFreezesRequestedTerms(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewBookingService(db)
	b := mustBooking(t, db, svc, f)

	out, err := svc.RespondDirect(context.Background(), providerSession(f), b.ID, DecisionAccept)
	require.NoError(t, err)
	require.Equal(t, models.BookingStatusAccepted, out.Status)
	require.NotNil(t, out.FinalPrice)
	require.Equal(t, f.service.Price, *out.FinalPrice)
	require.NotNil(t, out.FinalScheduledDate)
	require.WithinDuration(t, b.ScheduledDate, *out.FinalScheduledDate, time.Second)
	// payment method stays open until a proposal settles it
	require.Nil(t, out.PaymentMethod)
	require.False(t, out.ChatLocked)
}

func TestDirectReject(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewBookingService(db)
	b := mustBooking(t, db, svc, f)

	out, err := svc.RespondDirect(context.Background(), providerSession(f), b.ID, DecisionReject)
	require.NoError(t, err)
	require.Equal(t, models.BookingStatusRejected, out.Status)
	require.Nil(t, out.FinalPrice)
}

func TestRespondOnlyByAddressedProvider(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewBookingService(db)
	b := mustBooking(t, db, svc, f)

	other := models.User{Name: "Davi", Email: "davi@example.com", Password: "x", Role: models.RoleProvider}
	require.NoError(t, db.Create(&other).Error)

	_, err := svc.RespondDirect(context.Background(),
		domain.Session{UserID: other.ID, Role: domain.RoleProvider}, b.ID, DecisionAccept)
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestRespondLosesRaceToConcurrentCancel(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewBookingService(db.Session(&gorm.Session{SkipDefaultTransaction: true}))
	b := mustBooking(t, db, svc, f)

	// flip the row away from pending after the precondition read passed,
	// right before the conditional write runs
	fired := false
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("cancel_in_flight", func(tx *gorm.DB) {
		if fired {
			return
		}
		fired = true
		db.Exec("UPDATE bookings SET status = ? WHERE id = ?", models.BookingStatusCancelled, b.ID)
	}))
	defer db.Callback().Update().Remove("cancel_in_flight")

	_, err := svc.RespondDirect(context.Background(), providerSession(f), b.ID, DecisionAccept)
	require.ErrorIs(t, err, domain.ErrStateConflict)

	// the concurrent decision stands, nothing was overwritten
	var cur models.Booking
	require.NoError(t, db.First(&cur, "id = ?", b.ID).Error)
	require.Equal(t, models.BookingStatusCancelled, cur.Status)
	require.Nil(t, cur.FinalPrice)
}

func TestRespondTwiceIsInvalidState(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewBookingService(db)
	b := mustBooking(t, db, svc, f)

	_, err := svc.RespondDirect(context.Background(), providerSession(f), b.ID, DecisionAccept)
	require.NoError(t, err)

	_, err = svc.RespondDirect(context.Background(), providerSession(f), b.ID, DecisionReject)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancelPendingBooking(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewBookingService(db)
	b := mustBooking(t, db, svc, f)

	out, err := svc.Cancel(context.Background(), clientSession(f), b.ID)
	require.NoError(t, err)
	require.Equal(t, models.BookingStatusCancelled, out.Status)
}

func TestCancelAfterAcceptIsInvalidState(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewBookingService(db)
	b := mustBooking(t, db, svc, f)

	_, err := svc.RespondDirect(context.Background(), providerSession(f), b.ID, DecisionAccept)
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), clientSession(f), b.ID)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancelOnlyByBookingClient(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewBookingService(db)
	b := mustBooking(t, db, svc, f)

	_, err := svc.Cancel(context.Background(), providerSession(f), b.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestListForClientDerivesNegotiating(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewBookingService(db)
	b := mustBooking(t, db, svc, f)

	views, err := svc.ListForClient(context.Background(), clientSession(f))
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, "pending", views[0].Status)

	conv := models.Conversation{BookingID: b.ID}
	require.NoError(t, db.Create(&conv).Error)

	views, err = svc.ListForClient(context.Background(), clientSession(f))
	require.NoError(t, err)
	require.Equal(t, models.DisplayStatusNegotiating, views[0].Status)
	require.NotNil(t, views[0].ConversationID)
	require.Equal(t, f.provider.Name, views[0].Counterpart.Name)
	require.Equal(t, f.service.Name, views[0].ServiceName)
}

func TestListForProviderComputesDistance(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewBookingService(db)
	mustBooking(t, db, svc, f)

	// Sao Paulo -> Campinas, roughly 88 km
	spLat, spLng := -23.5505, -46.6333
	cpLat, cpLng := -22.9056, -47.0608
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", f.client.ID).
		Updates(map[string]interface{}{"latitude": spLat, "longitude": spLng}).Error)
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", f.provider.ID).
		Updates(map[string]interface{}{"latitude": cpLat, "longitude": cpLng}).Error)

	views, err := svc.ListForProvider(context.Background(), providerSession(f))
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.NotNil(t, views[0].DistanceKm)
	require.InDelta(t, 88, *views[0].DistanceKm, 5)
	require.Equal(t, f.client.Name, views[0].Counterpart.Name)
}

func TestListForProviderWithoutCoordinates(t *testing.T) {
	db := newTestDB(t)
	f := seed(t, db)
	svc := NewBookingService(db)
	mustBooking(t, db, svc, f)

	views, err := svc.ListForProvider(context.Background(), providerSession(f))
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Nil(t, views[0].DistanceKm)
}
