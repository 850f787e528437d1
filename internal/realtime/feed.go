package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Topic naming convention shared by publishers and the synchronizer.
func ChatTopic(conversationID uuid.UUID) string      { return "chat:" + conversationID.String() }
func ProposalsTopic(conversationID uuid.UUID) string { return "proposals:" + conversationID.String() }
func UnreadTopic(userID uuid.UUID) string            { return "unread:" + userID.String() }

// Event is the wire shape of one change-feed notification. Delivery is
// at-least-once and unordered across topics; consumers must re-fetch the
// authoritative rows instead of trusting the event body.
type Event struct {
	Topic  string    `json:"topic"`
	Table  string    `json:"table"`
	Action string    `json:"action"` // INSERT | UPDATE
	RowID  uuid.UUID `json:"row_id"`
}

// Publisher is what the mutating services need from the feed.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Feed pushes row-level change notifications through Redis pub/sub.
type Feed struct {
	rdb *redis.Client
}

func NewFeed(rdb *redis.Client) *Feed {
	return &Feed{rdb: rdb}
}

func (f *Feed) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, ev.Topic, b).Err()
}

// Subscribe opens a pattern subscription (e.g. "chat:*"). The caller owns
// the returned PubSub and must Close it.
func (f *Feed) Subscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	return f.rdb.PSubscribe(ctx, patterns...)
}
