package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"

	"judgeconnect/internal/models"
	"judgeconnect/internal/realtime"
)

var rewardsTable = models.RewardNotification{}.TableName()

type RewardStore interface {
	ListUnreadRewards(ctx context.Context, userID uint) ([]models.RewardNotification, error)
	MarkRewardRead(ctx context.Context, id, userID uint) error
}

// RewardQueue presents reward notifications one at a time, first-unread-
// first. The head of the queue is the currently-displayed entry; arrivals
// while one is displayed are queued behind it, never force-displayed.
// Acknowledging the current one persists its read flag and promotes the
// next.
type RewardQueue struct {
	userID uint
	broker *realtime.Broker
	store  RewardStore

	// OnChange fires whenever the displayed entry or queue length changes.
	// Set before Start.
	OnChange func()

	mu      sync.Mutex
	queue   []models.RewardNotification
	sub     *realtime.Subscription
	started bool
	closed  bool
}

func NewRewardQueue(userID uint, broker *realtime.Broker, store RewardStore) *RewardQueue {
	return &RewardQueue{userID: userID, broker: broker, store: store}
}

func (q *RewardQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started || q.closed {
		q.mu.Unlock()
		return nil
	}
	q.mu.Unlock()

	pending, err := q.store.ListUnreadRewards(ctx, q.userID)
	if err != nil {
		return fmt.Errorf("load reward notifications: %w", err)
	}

	uid := strconv.FormatUint(uint64(q.userID), 10)
	sub := q.broker.Subscribe("rewards:"+uid,
		realtime.Filter{Table: rewardsTable, Column: "user_id", Value: uid},
	)

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		sub.Close()
		return nil
	}
	q.started = true
	q.queue = pending
	q.sub = sub
	q.mu.Unlock()

	go func() {
		for ev := range sub.Events() {
			q.handle(ev)
		}
	}()
	q.changed()
	return nil
}

// Current returns the displayed reward notification, nil when none is due.
func (q *RewardQueue) Current() *models.RewardNotification {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return nil
	}
	n := q.queue[0]
	return &n
}

// QueuedCount reports how many entries wait behind the current one.
func (q *RewardQueue) QueuedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return 0
	}
	return len(q.queue) - 1
}

// Acknowledge closes the current entry: its read flag is persisted and the
// next queued unread reward, if any, becomes current.
func (q *RewardQueue) Acknowledge(ctx context.Context) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return ErrNotStarted
	}
	if len(q.queue) == 0 {
		q.mu.Unlock()
		return nil
	}
	current := q.queue[0]
	q.mu.Unlock()

	if err := q.store.MarkRewardRead(ctx, current.ID, q.userID); err != nil {
		return fmt.Errorf("acknowledge reward %d: %w", current.ID, err)
	}

	q.mu.Lock()
	if len(q.queue) > 0 && q.queue[0].ID == current.ID {
		q.queue = q.queue[1:]
	}
	q.mu.Unlock()
	q.changed()
	return nil
}

// Close releases the subscription. Idempotent.
func (q *RewardQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	sub := q.sub
	q.sub = nil
	q.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (q *RewardQueue) handle(ev realtime.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[notify] reward handler panic: %v", r)
		}
	}()
	if ev.Type != realtime.RowInserted {
		return
	}
	n, err := rewardFromEvent(ev)
	if err != nil {
		log.Printf("[notify] drop reward event: %v", err)
		return
	}
	if n.IsRead() {
		return
	}
	q.mu.Lock()
	if q.closed || !q.started {
		q.mu.Unlock()
		return
	}
	for i := range q.queue {
		if q.queue[i].ID == n.ID {
			q.mu.Unlock()
			return
		}
	}
	q.queue = append(q.queue, n)
	q.mu.Unlock()
	q.changed()
}

func (q *RewardQueue) changed() {
	if q.OnChange != nil {
		q.OnChange()
	}
}

func rewardFromEvent(ev realtime.Event) (models.RewardNotification, error) {
	var n models.RewardNotification
	switch row := ev.Row.(type) {
	case models.RewardNotification:
		n = row
	case *models.RewardNotification:
		n = *row
	case json.RawMessage:
		if err := json.Unmarshal(row, &n); err != nil {
			return models.RewardNotification{}, errors.New("malformed reward row")
		}
	default:
		return models.RewardNotification{}, errors.New("malformed reward row")
	}
	if n.ID == 0 || n.UserID == 0 {
		return models.RewardNotification{}, errors.New("malformed reward row")
	}
	return n, nil
}
