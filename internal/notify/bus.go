// Package notify implements the Notification Bus (SPEC_FULL §4.4): a typed
// event emitter with an in-memory, newest-first, atomically persisted store,
// tolerating multiple subscribers, plus an optional Redis-stream mirror for
// external dashboards (SPEC_FULL DOMAIN STACK).
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/jasonk87/selfevolve/internal/model"
	"github.com/jasonk87/selfevolve/internal/repo"
)

// Mirror is an optional secondary sink (e.g. RedisNotifier) notified after
// every successful AddNotification. Mirror failures are logged by the
// implementation and never fail the emitting call.
type Mirror interface {
	Publish(ctx context.Context, n model.Notification) error
}

// Bus is the in-process, file-backed notification store.
type Bus struct {
	mu            sync.Mutex
	notifications []model.Notification
	path          string
	node          *snowflake.Node
	mirror        Mirror
}

// New constructs a Bus persisting to path. mirror may be nil.
func New(path string, node *snowflake.Node, mirror Mirror) *Bus {
	return &Bus{path: path, node: node, mirror: mirror}
}

// AddNotification appends a new notification (newest-first ordering is
// maintained on every read, not by insertion order) and persists atomically.
func (b *Bus) AddNotification(ctx context.Context, eventType model.NotificationEventType, summary string, relatedItemID, relatedItemType string) (model.Notification, error) {
	n := model.Notification{
		NotificationID:  b.node.Generate().Int64(),
		EventType:       eventType,
		SummaryMessage:  model.TruncateSummary(summary),
		Timestamp:       time.Now().UTC(),
		Status:          model.NotificationUnread,
		RelatedItemID:   relatedItemID,
		RelatedItemType: relatedItemType,
	}

	b.mu.Lock()
	b.notifications = append(b.notifications, n)
	snapshot := b.sortedSnapshotLocked()
	b.mu.Unlock()

	if err := repo.WriteJSONAtomic(b.path, snapshot); err != nil {
		return n, err
	}

	if b.mirror != nil {
		_ = b.mirror.Publish(ctx, n) // mirror is best-effort, never blocks primary emission
	}

	return n, nil
}

func (b *Bus) sortedSnapshotLocked() []model.Notification {
	out := append([]model.Notification(nil), b.notifications...)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// GetNotifications returns up to limit notifications matching the filters,
// newest first. A zero-value statusFilter defaults to UNREAD.
func (b *Bus) GetNotifications(statusFilter model.NotificationStatus, typeFilter *model.NotificationEventType, limit int) []model.Notification {
	if statusFilter == "" {
		statusFilter = model.NotificationUnread
	}
	if limit <= 0 {
		limit = 10
	}

	b.mu.Lock()
	snapshot := b.sortedSnapshotLocked()
	b.mu.Unlock()

	out := make([]model.Notification, 0, limit)
	for _, n := range snapshot {
		if n.Status != statusFilter {
			continue
		}
		if typeFilter != nil && n.EventType != *typeFilter {
			continue
		}
		out = append(out, n)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// MarkAsRead transitions the given notification ids to READ.
func (b *Bus) MarkAsRead(ids []int64) error {
	return b.setStatus(ids, model.NotificationRead)
}

// MarkAsArchived transitions the given notification ids to ARCHIVED.
func (b *Bus) MarkAsArchived(ids []int64) error {
	return b.setStatus(ids, model.NotificationArchived)
}

func (b *Bus) setStatus(ids []int64, status model.NotificationStatus) error {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	b.mu.Lock()
	for i := range b.notifications {
		if want[b.notifications[i].NotificationID] {
			b.notifications[i].Status = status
		}
	}
	snapshot := b.sortedSnapshotLocked()
	b.mu.Unlock()

	return repo.WriteJSONAtomic(b.path, snapshot)
}

// Load restores notifications from disk. The file is stored newest-first, so
// it is reversed back into the in-memory insertion order.
func (b *Bus) Load(ctx context.Context) error {
	var stored []model.Notification
	ok, err := repo.ReadJSON(b.path, &stored)
	if err != nil {
		return fmt.Errorf("loading notifications: %w", err)
	}
	if !ok {
		return nil
	}
	for i, j := 0, len(stored)-1; i < j; i, j = i+1, j-1 {
		stored[i], stored[j] = stored[j], stored[i]
	}
	b.mu.Lock()
	b.notifications = stored
	b.mu.Unlock()
	return nil
}
