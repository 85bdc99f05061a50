package notify

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"

	"github.com/jasonk87/selfevolve/internal/model"
)

func testNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	return node
}

type recordingMirror struct {
	published []model.Notification
}

func (m *recordingMirror) Publish(ctx context.Context, n model.Notification) error {
	m.published = append(m.published, n)
	return nil
}

func TestAddNotification_DefaultsToUnreadAndMirrors(t *testing.T) {
	mirror := &recordingMirror{}
	b := New(filepath.Join(t.TempDir(), "notifications.json"), testNode(t), mirror)

	n, err := b.AddNotification(context.Background(), model.EventTaskCompletedSuccessfully, "done", "1", "task")
	require.NoError(t, err)
	require.Equal(t, model.NotificationUnread, n.Status)
	require.Len(t, mirror.published, 1)
	require.Equal(t, n.NotificationID, mirror.published[0].NotificationID)
}

func TestGetNotifications_NewestFirstAndFiltered(t *testing.T) {
	b := New(filepath.Join(t.TempDir(), "notifications.json"), testNode(t), nil)

	first, err := b.AddNotification(context.Background(), model.EventTaskCompletedSuccessfully, "first", "1", "task")
	require.NoError(t, err)
	second, err := b.AddNotification(context.Background(), model.EventTaskFailedInterrupted, "second", "2", "task")
	require.NoError(t, err)

	all := b.GetNotifications(model.NotificationUnread, nil, 10)
	require.Len(t, all, 2)
	require.Equal(t, second.NotificationID, all[0].NotificationID, "newest first")
	require.Equal(t, first.NotificationID, all[1].NotificationID)

	typeFilter := model.EventTaskFailedInterrupted
	filtered := b.GetNotifications(model.NotificationUnread, &typeFilter, 10)
	require.Len(t, filtered, 1)
	require.Equal(t, second.NotificationID, filtered[0].NotificationID)
}

func TestMarkAsRead_ThenExcludedFromUnreadFilter(t *testing.T) {
	b := New(filepath.Join(t.TempDir(), "notifications.json"), testNode(t), nil)
	n, err := b.AddNotification(context.Background(), model.EventTaskCompletedSuccessfully, "done", "1", "task")
	require.NoError(t, err)

	require.NoError(t, b.MarkAsRead([]int64{n.NotificationID}))

	unread := b.GetNotifications(model.NotificationUnread, nil, 10)
	require.Empty(t, unread)

	read := b.GetNotifications(model.NotificationRead, nil, 10)
	require.Len(t, read, 1)
	require.Equal(t, n.NotificationID, read[0].NotificationID)
}

func TestMarkAsArchived_RoundTripsAfterReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifications.json")
	b := New(path, testNode(t), nil)
	n, err := b.AddNotification(context.Background(), model.EventTaskCompletedSuccessfully, "done", "1", "task")
	require.NoError(t, err)
	require.NoError(t, b.MarkAsArchived([]int64{n.NotificationID}))

	reloaded := New(path, testNode(t), nil)
	require.NoError(t, reloaded.Load(context.Background()))

	archived := reloaded.GetNotifications(model.NotificationArchived, nil, 10)
	require.Len(t, archived, 1)
	require.Equal(t, n.NotificationID, archived[0].NotificationID)
}

func TestAddNotification_SummaryTruncated(t *testing.T) {
	b := New(filepath.Join(t.TempDir(), "notifications.json"), testNode(t), nil)
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'x'
	}
	n, err := b.AddNotification(context.Background(), model.EventTaskCompletedSuccessfully, string(long), "1", "task")
	require.NoError(t, err)
	require.Len(t, n.SummaryMessage, 500)
}
