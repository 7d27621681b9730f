package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"judgeconnect/internal/domain"
	"judgeconnect/internal/models"
	"judgeconnect/internal/realtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = uint(7)

type fakeStore struct {
	mu          sync.Mutex
	rows        []models.Notification
	listErr     error
	markReadErr error
	readCalls   []uint
	allReadN    int
	// onAllRead runs inside MarkAllRead, before it returns.
	onAllRead func()
}

func (f *fakeStore) ListRecent(ctx context.Context, userID uint, limit int) ([]models.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.Notification, 0, limit)
	for _, n := range f.rows {
		if n.UserID == userID && len(out) < limit {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkRead(ctx context.Context, id, userID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markReadErr != nil {
		return f.markReadErr
	}
	f.readCalls = append(f.readCalls, id)
	return nil
}

func (f *fakeStore) MarkAllRead(ctx context.Context, userID uint) error {
	f.mu.Lock()
	f.allReadN++
	hook := f.onAllRead
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

type fakePusher struct {
	mu     sync.Mutex
	pushed []models.Notification
}

func (f *fakePusher) Push(ctx context.Context, userID uint, n models.Notification) error {
	f.mu.Lock()
	f.pushed = append(f.pushed, n)
	f.mu.Unlock()
	return nil
}

func (f *fakePusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

func notif(id uint, read bool) models.Notification {
	n := models.Notification{
		ID:        id,
		UserID:    testUser,
		Type:      domain.NotifNewAnswer,
		Title:     "New answer",
		CreatedAt: time.Now(),
	}
	if read {
		at := time.Now()
		n.ReadAt = &at
	}
	return n
}

func userKeys() map[string]string {
	return map[string]string{"user_id": "7"}
}

func TestStartComputesWindowUnread(t *testing.T) {
	broker := realtime.NewBroker()
	store := &fakeStore{rows: []models.Notification{
		notif(3, false), notif(2, true), notif(1, false),
	}}
	d := NewDispatcher(testUser, 50, broker, store, nil)
	require.NoError(t, d.Start(context.Background()))
	defer d.Close()

	assert.Equal(t, 2, d.Unread())
	assert.Len(t, d.Notifications(), 3)
}

func TestStartPropagatesLoadError(t *testing.T) {
	broker := realtime.NewBroker()
	store := &fakeStore{listErr: errors.New("gateway down")}
	d := NewDispatcher(testUser, 50, broker, store, nil)
	assert.Error(t, d.Start(context.Background()))
}

func TestInsertPrependsCountsAndCues(t *testing.T) {
	broker := realtime.NewBroker()
	store := &fakeStore{rows: []models.Notification{notif(1, true)}}
	pusher := &fakePusher{}
	d := NewDispatcher(testUser, 50, broker, store, pusher)

	cues := make(chan models.Notification, 4)
	d.OnCue = func(n models.Notification) { cues <- n }
	require.NoError(t, d.Start(context.Background()))
	defer d.Close()

	fresh := notif(2, false)
	broker.PublishInsert("notifications", fresh, userKeys())

	select {
	case n := <-cues:
		assert.Equal(t, uint(2), n.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no cue for new notification")
	}

	feed := d.Notifications()
	require.Len(t, feed, 2)
	assert.Equal(t, uint(2), feed[0].ID, "newest first")
	assert.Equal(t, 1, d.Unread())

	require.Eventually(t, func() bool { return pusher.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestDuplicateInsertIgnored(t *testing.T) {
	broker := realtime.NewBroker()
	store := &fakeStore{}
	d := NewDispatcher(testUser, 50, broker, store, nil)
	cues := make(chan struct{}, 4)
	d.OnCue = func(models.Notification) { cues <- struct{}{} }
	require.NoError(t, d.Start(context.Background()))
	defer d.Close()

	fresh := notif(5, false)
	broker.PublishInsert("notifications", fresh, userKeys())
	broker.PublishInsert("notifications", fresh, userKeys())

	<-cues
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, cues, "cue fired once")
	assert.Len(t, d.Notifications(), 1)
	assert.Equal(t, 1, d.Unread())
}

func TestOtherUsersRowsFiltered(t *testing.T) {
	broker := realtime.NewBroker()
	store := &fakeStore{}
	d := NewDispatcher(testUser, 50, broker, store, nil)
	require.NoError(t, d.Start(context.Background()))
	defer d.Close()

	other := notif(3, false)
	other.UserID = 99
	broker.PublishInsert("notifications", other, map[string]string{"user_id": "99"})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, d.Notifications())
	assert.Zero(t, d.Unread())
}

func TestMarkReadOptimisticAndEchoSafe(t *testing.T) {
	broker := realtime.NewBroker()
	store := &fakeStore{rows: []models.Notification{notif(1, false)}}
	d := NewDispatcher(testUser, 50, broker, store, nil)
	require.NoError(t, d.Start(context.Background()))
	defer d.Close()

	require.NoError(t, d.MarkRead(context.Background(), 1))
	assert.Zero(t, d.Unread())
	assert.Equal(t, []uint{1}, store.readCalls)

	// The persistence layer echoes the update; the counter must not go
	// negative or decrement twice.
	echoed := notif(1, true)
	broker.PublishUpdate("notifications", echoed, userKeys())
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, d.Unread())

	// Marking an already-read entry is a no-op.
	require.NoError(t, d.MarkRead(context.Background(), 1))
	assert.Len(t, store.readCalls, 1)
}

func TestMarkReadOutsideWindow(t *testing.T) {
	broker := realtime.NewBroker()
	store := &fakeStore{}
	d := NewDispatcher(testUser, 50, broker, store, nil)
	require.NoError(t, d.Start(context.Background()))
	defer d.Close()

	assert.ErrorIs(t, d.MarkRead(context.Background(), 404), ErrUnknownEntry)
}

func TestMarkAllRead(t *testing.T) {
	broker := realtime.NewBroker()
	store := &fakeStore{rows: []models.Notification{
		notif(3, false), notif(2, false), notif(1, true),
	}}
	d := NewDispatcher(testUser, 50, broker, store, nil)
	require.NoError(t, d.Start(context.Background()))
	defer d.Close()

	require.NoError(t, d.MarkAllRead(context.Background()))
	assert.Zero(t, d.Unread())
	for _, n := range d.Notifications() {
		assert.True(t, n.IsRead())
	}
	assert.Equal(t, 1, store.allReadN)

	// A brand-new unread insert after the sweep counts normally.
	broker.PublishInsert("notifications", notif(9, false), userKeys())
	require.Eventually(t, func() bool { return d.Unread() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestMarkAllReadLeavesRacingInsertUnread(t *testing.T) {
	broker := realtime.NewBroker()
	store := &fakeStore{rows: []models.Notification{notif(1, false)}}
	d := NewDispatcher(testUser, 50, broker, store, nil)
	cues := make(chan struct{}, 1)
	d.OnCue = func(models.Notification) { cues <- struct{}{} }
	require.NoError(t, d.Start(context.Background()))
	defer d.Close()

	// An insert handled while the store call is in flight must survive the
	// local sweep unread.
	store.onAllRead = func() {
		broker.PublishInsert("notifications", notif(2, false), userKeys())
		<-cues
	}
	require.NoError(t, d.MarkAllRead(context.Background()))

	assert.Equal(t, 1, d.Unread())
	feed := d.Notifications()
	require.Len(t, feed, 2)
	assert.Equal(t, uint(2), feed[0].ID)
	assert.False(t, feed[0].IsRead())
	assert.True(t, feed[1].IsRead())
}

func TestWindowIsBounded(t *testing.T) {
	broker := realtime.NewBroker()
	store := &fakeStore{}
	for i := 10; i >= 1; i-- {
		store.rows = append(store.rows, notif(uint(i), false))
	}
	d := NewDispatcher(testUser, 4, broker, store, nil)
	require.NoError(t, d.Start(context.Background()))
	defer d.Close()

	assert.Len(t, d.Notifications(), 4)
	assert.Equal(t, 4, d.Unread())
}

func TestCloseStopsHandling(t *testing.T) {
	broker := realtime.NewBroker()
	store := &fakeStore{}
	d := NewDispatcher(testUser, 50, broker, store, nil)
	require.NoError(t, d.Start(context.Background()))

	d.Close()
	d.Close()

	broker.PublishInsert("notifications", notif(1, false), userKeys())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, d.Notifications())
}
