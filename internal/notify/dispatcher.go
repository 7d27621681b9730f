package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"judgeconnect/internal/models"
	"judgeconnect/internal/realtime"
)

var (
	ErrNotStarted   = errors.New("dispatcher not started")
	ErrUnknownEntry = errors.New("notification not in loaded window")
)

var notificationsTable = models.Notification{}.TableName()

type Store interface {
	ListRecent(ctx context.Context, userID uint, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID uint) error
	MarkAllRead(ctx context.Context, userID uint) error
}

// Pusher delivers an OS-level notification. Best-effort: errors are logged
// and never affect the read/unread model.
type Pusher interface {
	Push(ctx context.Context, userID uint, n models.Notification) error
}

// Dispatcher maintains one user's notification feed, unread counter and
// read-state transitions, independent of which conversation is open.
//
// The feed is a bounded window (the most recent `window` entries at load
// time) and the unread count is computed within that window only. This is a
// deliberate bounded approximation, not a global count.
type Dispatcher struct {
	userID uint
	window int
	broker *realtime.Broker
	store  Store
	pusher Pusher

	// OnChange fires after every visible change, OnCue at most once per new
	// insert (the audible signal). Set before Start.
	OnChange func()
	OnCue    func(models.Notification)

	mu      sync.Mutex
	feed    []models.Notification
	unread  int
	sub     *realtime.Subscription
	started bool
	closed  bool
}

func NewDispatcher(userID uint, window int, broker *realtime.Broker, store Store, pusher Pusher) *Dispatcher {
	if window <= 0 {
		window = 50
	}
	return &Dispatcher{
		userID: userID,
		window: window,
		broker: broker,
		store:  store,
		pusher: pusher,
	}
}

// Start bulk-loads the recent window and opens the per-user live
// subscription.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started || d.closed {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	feed, err := d.store.ListRecent(ctx, d.userID, d.window)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	unread := 0
	for i := range feed {
		if !feed[i].IsRead() {
			unread++
		}
	}

	sub := d.broker.Subscribe("notifications:"+strconv.FormatUint(uint64(d.userID), 10),
		realtime.Filter{Table: notificationsTable, Column: "user_id", Value: strconv.FormatUint(uint64(d.userID), 10)},
	)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		sub.Close()
		return nil
	}
	d.started = true
	d.feed = feed
	d.unread = unread
	d.sub = sub
	d.mu.Unlock()

	go func() {
		for ev := range sub.Events() {
			d.handle(ev)
		}
	}()
	d.changed()
	return nil
}

// MarkRead flips one entry optimistically, then persists. The live echo of
// the update is a no-op because the entry is already read locally.
func (d *Dispatcher) MarkRead(ctx context.Context, id uint) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return ErrNotStarted
	}
	idx := -1
	for i := range d.feed {
		if d.feed[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		d.mu.Unlock()
		return ErrUnknownEntry
	}
	if d.feed[idx].IsRead() {
		d.mu.Unlock()
		return nil
	}
	now := time.Now()
	d.feed[idx].ReadAt = &now
	if d.unread > 0 {
		d.unread--
	}
	d.mu.Unlock()
	d.changed()

	if err := d.store.MarkRead(ctx, id, d.userID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// MarkAllRead persists read for the entries unread when the call starts,
// then flips exactly those locally. Inserts racing past that point stay
// unread and count normally; if the store swept one anyway, its update echo
// reconciles it.
func (d *Dispatcher) MarkAllRead(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return ErrNotStarted
	}
	sweep := make(map[uint]struct{}, len(d.feed))
	for i := range d.feed {
		if !d.feed[i].IsRead() {
			sweep[d.feed[i].ID] = struct{}{}
		}
	}
	d.mu.Unlock()
	if err := d.store.MarkAllRead(ctx, d.userID); err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	now := time.Now()
	d.mu.Lock()
	for i := range d.feed {
		if _, ok := sweep[d.feed[i].ID]; !ok || d.feed[i].IsRead() {
			continue
		}
		d.feed[i].ReadAt = &now
		if d.unread > 0 {
			d.unread--
		}
	}
	d.mu.Unlock()
	d.changed()
	return nil
}

// Notifications returns a snapshot of the feed, newest first.
func (d *Dispatcher) Notifications() []models.Notification {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.Notification, len(d.feed))
	copy(out, d.feed)
	return out
}

// Unread returns the unread count within the loaded window.
func (d *Dispatcher) Unread() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unread
}

// Close releases the subscription. Idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	sub := d.sub
	d.sub = nil
	d.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (d *Dispatcher) handle(ev realtime.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[notify] event handler panic: %v", r)
		}
	}()
	switch ev.Type {
	case realtime.RowInserted:
		n, err := notificationFromEvent(ev)
		if err != nil {
			log.Printf("[notify] drop insert event: %v", err)
			return
		}
		d.mu.Lock()
		if d.closed || !d.started || d.hasLocked(n.ID) {
			d.mu.Unlock()
			return
		}
		d.feed = append([]models.Notification{n}, d.feed...)
		if !n.IsRead() {
			d.unread++
		}
		d.mu.Unlock()
		d.changed()
		d.sideEffects(n)
	case realtime.RowUpdated:
		n, err := notificationFromEvent(ev)
		if err != nil {
			log.Printf("[notify] drop update event: %v", err)
			return
		}
		changed := false
		d.mu.Lock()
		for i := range d.feed {
			if d.feed[i].ID != n.ID {
				continue
			}
			// Decrement only on the unread->read transition; an echo of a
			// locally-applied read must not double-decrement.
			if !d.feed[i].IsRead() && n.IsRead() && d.unread > 0 {
				d.unread--
			}
			d.feed[i] = n
			changed = true
			break
		}
		d.mu.Unlock()
		if changed {
			d.changed()
		}
	}
}

// sideEffects runs the at-most-once delivery extras for a new insert. Their
// failure never touches the read/unread model.
func (d *Dispatcher) sideEffects(n models.Notification) {
	if d.pusher != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d.pusher.Push(ctx, d.userID, n); err != nil {
				log.Printf("[notify] push for notification %d: %v", n.ID, err)
			}
		}()
	}
	if d.OnCue != nil {
		d.OnCue(n)
	}
}

func (d *Dispatcher) hasLocked(id uint) bool {
	for i := range d.feed {
		if d.feed[i].ID == id {
			return true
		}
	}
	return false
}

func (d *Dispatcher) changed() {
	if d.OnChange != nil {
		d.OnChange()
	}
}

func notificationFromEvent(ev realtime.Event) (models.Notification, error) {
	var n models.Notification
	switch row := ev.Row.(type) {
	case models.Notification:
		n = row
	case *models.Notification:
		n = *row
	case json.RawMessage:
		if err := json.Unmarshal(row, &n); err != nil {
			return models.Notification{}, errors.New("malformed notification row")
		}
	default:
		return models.Notification{}, errors.New("malformed notification row")
	}
	if n.ID == 0 || n.UserID == 0 {
		return models.Notification{}, errors.New("malformed notification row")
	}
	return n, nil
}
