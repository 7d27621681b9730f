package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"judgeconnect/internal/domain"
	"judgeconnect/internal/models"
	"judgeconnect/internal/realtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRewardStore struct {
	mu       sync.Mutex
	unread   []models.RewardNotification
	ackCalls []uint
}

func (f *fakeRewardStore) ListUnreadRewards(ctx context.Context, userID uint) ([]models.RewardNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.RewardNotification, len(f.unread))
	copy(out, f.unread)
	return out, nil
}

func (f *fakeRewardStore) MarkRewardRead(ctx context.Context, id, userID uint) error {
	f.mu.Lock()
	f.ackCalls = append(f.ackCalls, id)
	f.mu.Unlock()
	return nil
}

func reward(id uint, kind, rarity string) models.RewardNotification {
	return models.RewardNotification{
		ID:        id,
		UserID:    testUser,
		Kind:      kind,
		Rarity:    rarity,
		Title:     "Reward",
		CreatedAt: time.Now(),
	}
}

func TestRewardQueueLoadsOldestFirst(t *testing.T) {
	broker := realtime.NewBroker()
	store := &fakeRewardStore{unread: []models.RewardNotification{
		reward(1, domain.RewardPoints, domain.RarityCommon),
		reward(2, domain.RewardLevelUp, domain.RarityEpic),
	}}
	q := NewRewardQueue(testUser, broker, store)
	require.NoError(t, q.Start(context.Background()))
	defer q.Close()

	current := q.Current()
	require.NotNil(t, current)
	assert.Equal(t, uint(1), current.ID)
	assert.Equal(t, 1, q.QueuedCount())
}

func TestArrivalQueuesBehindDisplayed(t *testing.T) {
	broker := realtime.NewBroker()
	store := &fakeRewardStore{unread: []models.RewardNotification{
		reward(1, domain.RewardPoints, domain.RarityCommon),
	}}
	q := NewRewardQueue(testUser, broker, store)
	require.NoError(t, q.Start(context.Background()))
	defer q.Close()

	// A legendary landing mid-display must wait its turn.
	broker.PublishInsert("reward_notifications",
		reward(2, domain.RewardLevelUp, domain.RarityLegendary), userKeys())

	require.Eventually(t, func() bool { return q.QueuedCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	current := q.Current()
	require.NotNil(t, current)
	assert.Equal(t, uint(1), current.ID, "displayed entry is never replaced")
}

func TestAcknowledgePersistsAndPromotes(t *testing.T) {
	broker := realtime.NewBroker()
	store := &fakeRewardStore{unread: []models.RewardNotification{
		reward(1, domain.RewardPoints, domain.RarityCommon),
		reward(2, domain.RewardBadge, domain.RarityRare),
	}}
	q := NewRewardQueue(testUser, broker, store)
	require.NoError(t, q.Start(context.Background()))
	defer q.Close()

	require.NoError(t, q.Acknowledge(context.Background()))
	assert.Equal(t, []uint{1}, store.ackCalls)

	current := q.Current()
	require.NotNil(t, current)
	assert.Equal(t, uint(2), current.ID)
	assert.Zero(t, q.QueuedCount())

	require.NoError(t, q.Acknowledge(context.Background()))
	assert.Nil(t, q.Current())

	// Empty queue: acknowledging is a no-op, not an error.
	require.NoError(t, q.Acknowledge(context.Background()))
	assert.Len(t, store.ackCalls, 2)
}

func TestRewardDuplicateInsertIgnored(t *testing.T) {
	broker := realtime.NewBroker()
	store := &fakeRewardStore{}
	q := NewRewardQueue(testUser, broker, store)
	require.NoError(t, q.Start(context.Background()))
	defer q.Close()

	r := reward(7, domain.RewardAchievement, domain.RarityEpic)
	broker.PublishInsert("reward_notifications", r, userKeys())
	broker.PublishInsert("reward_notifications", r, userKeys())

	require.Eventually(t, func() bool { return q.Current() != nil }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, q.QueuedCount())
}

func TestReadRewardInsertSkipped(t *testing.T) {
	broker := realtime.NewBroker()
	store := &fakeRewardStore{}
	q := NewRewardQueue(testUser, broker, store)
	require.NoError(t, q.Start(context.Background()))
	defer q.Close()

	r := reward(3, domain.RewardPoints, domain.RarityCommon)
	at := time.Now()
	r.ReadAt = &at
	broker.PublishInsert("reward_notifications", r, userKeys())

	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, q.Current())
}
