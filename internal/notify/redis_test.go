package notify

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jasonk87/selfevolve/internal/model"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisNotifier_PublishXAddsToStream(t *testing.T) {
	client := setupTestRedis(t)
	notifier := NewRedisNotifier(client, "agent-notifications")

	n := model.Notification{
		NotificationID:  42,
		EventType:       model.EventTaskCompletedSuccessfully,
		SummaryMessage:  "done",
		Status:          model.NotificationUnread,
		RelatedItemID:   "7",
		RelatedItemType: "task",
	}

	err := notifier.Publish(context.Background(), n)
	require.NoError(t, err)

	entries, err := client.XRange(context.Background(), "agent-notifications", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "done", entries[0].Values["summary"])
	require.Equal(t, "7", entries[0].Values["related_item_id"])
}

func TestRedisNotifier_PublishErrorsOnClosedClient(t *testing.T) {
	client := setupTestRedis(t)
	notifier := NewRedisNotifier(client, "agent-notifications")
	require.NoError(t, client.Close())

	err := notifier.Publish(context.Background(), model.Notification{NotificationID: 1})
	require.Error(t, err)
}

func TestBus_MirrorsThroughRedisNotifier(t *testing.T) {
	client := setupTestRedis(t)
	notifier := NewRedisNotifier(client, "agent-notifications")

	bus := New(t.TempDir()+"/notifications.json", testNode(t), notifier)
	_, err := bus.AddNotification(context.Background(), model.EventGeneralInfo, "fact already known", "3", "insight")
	require.NoError(t, err)

	entries, err := client.XRange(context.Background(), "agent-notifications", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "fact already known", entries[0].Values["summary"])
}
