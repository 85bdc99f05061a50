package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jasonk87/selfevolve/internal/model"
)

// RedisNotifier mirrors every notification onto a Redis stream so an
// external dashboard can tail it with XREAD instead of polling the JSON
// store. It implements Mirror.
type RedisNotifier struct {
	client *redis.Client
	stream string
}

// NewRedisNotifier wraps an already-connected client. Callers own the
// client's lifecycle (Ping before passing it in, Close on shutdown).
func NewRedisNotifier(client *redis.Client, stream string) *RedisNotifier {
	return &RedisNotifier{client: client, stream: stream}
}

// Publish XADDs the notification's fields to the configured stream.
func (r *RedisNotifier) Publish(ctx context.Context, n model.Notification) error {
	// TODO: add MAXLEN ~ to XAdd once the dashboard consumer settles on a
	// retention window; unbounded for now.
	values := map[string]any{
		"notification_id": n.NotificationID,
		"event_type":      string(n.EventType),
		"summary":         n.SummaryMessage,
		"status":          string(n.Status),
		"timestamp":       n.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if n.RelatedItemID != "" {
		values["related_item_id"] = n.RelatedItemID
	}
	if n.RelatedItemType != "" {
		values["related_item_type"] = n.RelatedItemType
	}

	if err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("mirror notification to redis (stream=%s): %w", r.stream, err)
	}
	return nil
}

// Close releases the underlying client.
func (r *RedisNotifier) Close() error {
	return r.client.Close()
}
