package chatsync

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"judgeconnect/internal/domain"
	"judgeconnect/internal/models"
	"judgeconnect/internal/realtime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessageStore struct {
	mu        sync.Mutex
	rows      []models.Message
	nextID    uint
	createErr error
	// onCreate runs after the row got its ID, before Create returns.
	onCreate  func(m models.Message)
	listGate  chan struct{} // when set, ListByConversation blocks until closed
	listEntry chan struct{} // when set, closed once ListByConversation is entered
	readIDs   []uint
}

func (f *fakeMessageStore) ListByConversation(ctx context.Context, conversationID uint) ([]models.Message, error) {
	// Snapshot when the query starts; rows created while the gate holds the
	// result back are not part of it, as with a real query.
	f.mu.Lock()
	out := make([]models.Message, len(f.rows))
	copy(out, f.rows)
	f.mu.Unlock()
	if f.listEntry != nil {
		close(f.listEntry)
		f.listEntry = nil
	}
	if f.listGate != nil {
		<-f.listGate
	}
	return out, nil
}

func (f *fakeMessageStore) Create(ctx context.Context, m *models.Message) error {
	f.mu.Lock()
	if f.createErr != nil {
		err := f.createErr
		f.mu.Unlock()
		return err
	}
	f.nextID++
	m.ID = f.nextID
	f.rows = append(f.rows, *m)
	hook := f.onCreate
	row := *m
	f.mu.Unlock()
	if hook != nil {
		hook(row)
	}
	return nil
}

func (f *fakeMessageStore) MarkRead(ctx context.Context, id uint, at time.Time) error {
	f.mu.Lock()
	f.readIDs = append(f.readIDs, id)
	f.mu.Unlock()
	return nil
}

func (f *fakeMessageStore) readReceipts() []uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint, len(f.readIDs))
	copy(out, f.readIDs)
	return out
}

type fakeConversationStore struct {
	mu      sync.Mutex
	conv    models.Conversation
	touched []time.Time
}

func (f *fakeConversationStore) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conv.ID != id {
		return nil, errors.New("not found")
	}
	c := f.conv
	return &c, nil
}

func (f *fakeConversationStore) TouchLastMessage(ctx context.Context, id uint, at time.Time) error {
	f.mu.Lock()
	f.touched = append(f.touched, at)
	f.mu.Unlock()
	return nil
}

const (
	testPlayer = uint(7)
	testJudge  = uint(9)
)

func newFixture() (*realtime.Broker, *fakeMessageStore, *fakeConversationStore) {
	broker := realtime.NewBroker()
	msgs := &fakeMessageStore{}
	convs := &fakeConversationStore{conv: models.Conversation{
		ID:       1,
		PlayerID: testPlayer,
		JudgeID:  testJudge,
		Status:   domain.ConversationActive,
	}}
	return broker, msgs, convs
}

func msgKeys(conversationID uint) map[string]string {
	return map[string]string{"conversation_id": strconv.FormatUint(uint64(conversationID), 10)}
}

func at(sec int) time.Time {
	return time.Date(2026, 3, 1, 12, 0, sec, 0, time.UTC)
}

func TestOpenLoadsSortedHistory(t *testing.T) {
	broker, msgs, convs := newFixture()
	msgs.rows = []models.Message{
		{ID: 3, ConversationID: 1, SenderID: testJudge, Content: "third", CreatedAt: at(30)},
		{ID: 1, ConversationID: 1, SenderID: testPlayer, Content: "first", CreatedAt: at(10)},
		{ID: 2, ConversationID: 1, SenderID: testJudge, Content: "second", CreatedAt: at(20)},
	}

	s := NewSynchronizer(testPlayer, broker, msgs, convs, time.Minute)
	require.NoError(t, s.Open(context.Background(), 1))
	defer s.Close()

	assert.Equal(t, StateLive, s.State())
	view := s.Messages()
	require.Len(t, view, 3)
	assert.Equal(t, []string{"first", "second", "third"},
		[]string{view[0].Content, view[1].Content, view[2].Content})
}

func TestOpenRejectsNonParticipant(t *testing.T) {
	broker, msgs, convs := newFixture()
	s := NewSynchronizer(42, broker, msgs, convs, time.Minute)
	err := s.Open(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotParticipant)
	assert.Equal(t, StateUninitialized, s.State())
}

func TestOpenTwice(t *testing.T) {
	broker, msgs, convs := newFixture()
	s := NewSynchronizer(testPlayer, broker, msgs, convs, time.Minute)
	require.NoError(t, s.Open(context.Background(), 1))
	defer s.Close()
	assert.ErrorIs(t, s.Open(context.Background(), 1), ErrAlreadyOpen)
}

func TestInsertDuringLoadIsMergedOnce(t *testing.T) {
	broker, msgs, convs := newFixture()
	live := models.Message{ID: 2, ConversationID: 1, SenderID: testJudge, Content: "live", CreatedAt: at(20)}
	// The bulk fetch already contains the row the live event also carries.
	msgs.rows = []models.Message{
		{ID: 1, ConversationID: 1, SenderID: testJudge, Content: "old", CreatedAt: at(10)},
		live,
	}
	gate := make(chan struct{})
	entered := make(chan struct{})
	msgs.listGate = gate
	msgs.listEntry = entered

	s := NewSynchronizer(testPlayer, broker, msgs, convs, time.Minute)
	openDone := make(chan error, 1)
	go func() { openDone <- s.Open(context.Background(), 1) }()

	<-entered // subscription is active, bulk fetch is in flight
	broker.PublishInsert("messages", live, msgKeys(1))
	close(gate)

	require.NoError(t, <-openDone)
	defer s.Close()

	require.Eventually(t, func() bool {
		return len(s.Messages()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Deduped by ID: the buffered event must not duplicate the loaded row.
	time.Sleep(50 * time.Millisecond)
	view := s.Messages()
	require.Len(t, view, 2)
	assert.Equal(t, "live", view[1].Content)
}

func TestSendDuringLoadSurvivesLoadCompletion(t *testing.T) {
	broker, msgs, convs := newFixture()
	msgs.onCreate = func(m models.Message) {
		broker.PublishInsert("messages", m, msgKeys(m.ConversationID))
	}
	gate := make(chan struct{})
	entered := make(chan struct{})
	msgs.listGate = gate
	msgs.listEntry = entered

	s := NewSynchronizer(testPlayer, broker, msgs, convs, time.Minute)
	openDone := make(chan error, 1)
	go func() { openDone <- s.Open(context.Background(), 1) }()

	// Persist a message while the bulk fetch is still in flight; its empty
	// snapshot must not wipe the reconciled entry on completion.
	<-entered
	sent, err := s.Send(context.Background(), "sent mid-load", "", "")
	require.NoError(t, err)
	require.NotZero(t, sent.ID)
	close(gate)

	require.NoError(t, <-openDone)
	defer s.Close()

	require.Eventually(t, func() bool {
		view := s.Messages()
		return len(view) == 1 && view[0].ID == sent.ID && !view[0].Pending
	}, 2*time.Second, 10*time.Millisecond)

	// The buffered echo of the same row must not duplicate it either.
	time.Sleep(50 * time.Millisecond)
	view := s.Messages()
	require.Len(t, view, 1)
	assert.Equal(t, "sent mid-load", view[0].Content)
}

func TestForeignInsertDuringLoadCuesAndReceipts(t *testing.T) {
	broker, msgs, convs := newFixture()
	gate := make(chan struct{})
	entered := make(chan struct{})
	msgs.listGate = gate
	msgs.listEntry = entered

	s := NewSynchronizer(testPlayer, broker, msgs, convs, time.Minute)
	var mu sync.Mutex
	var cues []models.Message
	s.OnIncoming = func(m models.Message) {
		mu.Lock()
		cues = append(cues, m)
		mu.Unlock()
	}
	openDone := make(chan error, 1)
	go func() { openDone <- s.Open(context.Background(), 1) }()

	<-entered
	foreign := models.Message{ID: 11, ConversationID: 1, SenderID: testJudge, Content: "while you were loading", CreatedAt: at(5)}
	broker.PublishInsert("messages", foreign, msgKeys(1))
	time.Sleep(20 * time.Millisecond) // let the event reach the buffer
	close(gate)

	require.NoError(t, <-openDone)
	defer s.Close()

	view := s.Messages()
	require.Len(t, view, 1)
	assert.Equal(t, "while you were loading", view[0].Content)

	// A foreign insert merged from the load buffer still gets its one cue
	// and one read-receipt write-back.
	require.Eventually(t, func() bool {
		ids := msgs.readReceipts()
		return len(ids) == 1 && ids[0] == 11
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Len(t, cues, 1, "cue fires once per message")
	mu.Unlock()
}

func TestSendAppliesOptimisticallyThenReconciles(t *testing.T) {
	broker, msgs, convs := newFixture()
	// Echo the durable row through the broker before Create returns, the
	// same interleaving a fast stream produces.
	msgs.onCreate = func(m models.Message) {
		broker.PublishInsert("messages", m, msgKeys(m.ConversationID))
	}

	s := NewSynchronizer(testPlayer, broker, msgs, convs, time.Minute)
	require.NoError(t, s.Open(context.Background(), 1))
	defer s.Close()

	sent, err := s.Send(context.Background(), "hello judge", "", "")
	require.NoError(t, err)
	assert.NotZero(t, sent.ID)
	assert.Equal(t, domain.MessageText, sent.Type)
	assert.NotEmpty(t, sent.ClientKey)

	// Exactly one entry regardless of which path reconciled first.
	require.Eventually(t, func() bool {
		view := s.Messages()
		return len(view) == 1 && view[0].ID == sent.ID && !view[0].Pending
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, s.Messages(), 1)
}

func TestSendEmptyContent(t *testing.T) {
	broker, msgs, convs := newFixture()
	s := NewSynchronizer(testPlayer, broker, msgs, convs, time.Minute)
	require.NoError(t, s.Open(context.Background(), 1))
	defer s.Close()

	_, err := s.Send(context.Background(), "   ", "", "")
	assert.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, s.Messages())
}

func TestFailedSendStaysVisibleAndResends(t *testing.T) {
	broker, msgs, convs := newFixture()
	msgs.createErr = errors.New("gateway unavailable")

	s := NewSynchronizer(testPlayer, broker, msgs, convs, time.Minute)
	require.NoError(t, s.Open(context.Background(), 1))
	defer s.Close()

	sent, err := s.Send(context.Background(), "did this land?", "", "")
	require.Error(t, err)

	view := s.Messages()
	require.Len(t, view, 1)
	assert.True(t, view[0].Failed)
	assert.False(t, view[0].Pending)
	assert.Zero(t, view[0].ID)

	// The gateway recovers; an explicit resend succeeds.
	msgs.mu.Lock()
	msgs.createErr = nil
	msgs.mu.Unlock()

	resent, err := s.Resend(context.Background(), sent.ClientKey)
	require.NoError(t, err)
	assert.NotZero(t, resent.ID)

	view = s.Messages()
	require.Len(t, view, 1)
	assert.False(t, view[0].Failed)
	assert.Equal(t, resent.ID, view[0].ID)
}

func TestResendUnknownKey(t *testing.T) {
	broker, msgs, convs := newFixture()
	s := NewSynchronizer(testPlayer, broker, msgs, convs, time.Minute)
	require.NoError(t, s.Open(context.Background(), 1))
	defer s.Close()

	_, err := s.Resend(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestPendingEntryExpiresIntoFailure(t *testing.T) {
	broker, msgs, convs := newFixture()
	block := make(chan struct{})
	msgs.onCreate = func(models.Message) { <-block }
	defer close(block)

	s := NewSynchronizer(testPlayer, broker, msgs, convs, 30*time.Millisecond)
	require.NoError(t, s.Open(context.Background(), 1))
	defer s.Close()

	go s.Send(context.Background(), "slow boat", "", "")

	require.Eventually(t, func() bool {
		view := s.Messages()
		return len(view) == 1 && view[0].Failed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestForeignMessageCueAndReceipt(t *testing.T) {
	broker, msgs, convs := newFixture()
	s := NewSynchronizer(testPlayer, broker, msgs, convs, time.Minute)

	var mu sync.Mutex
	var cues []models.Message
	s.OnIncoming = func(m models.Message) {
		mu.Lock()
		cues = append(cues, m)
		mu.Unlock()
	}
	require.NoError(t, s.Open(context.Background(), 1))
	defer s.Close()

	foreign := models.Message{ID: 11, ConversationID: 1, SenderID: testJudge, Content: "the stack resolves", CreatedAt: at(5)}
	broker.PublishInsert("messages", foreign, msgKeys(1))
	// Duplicate delivery of the same row.
	broker.PublishInsert("messages", foreign, msgKeys(1))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(cues) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Len(t, cues, 1, "cue fires once per message")
	mu.Unlock()

	require.Eventually(t, func() bool {
		ids := msgs.readReceipts()
		return len(ids) == 1 && ids[0] == 11
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOwnEchoDoesNotCue(t *testing.T) {
	broker, msgs, convs := newFixture()
	s := NewSynchronizer(testPlayer, broker, msgs, convs, time.Minute)
	cued := false
	s.OnIncoming = func(models.Message) { cued = true }
	require.NoError(t, s.Open(context.Background(), 1))
	defer s.Close()

	// A row from this user, e.g. sent from another device.
	own := models.Message{ID: 4, ConversationID: 1, SenderID: testPlayer, Content: "other tab", CreatedAt: at(1)}
	broker.PublishInsert("messages", own, msgKeys(1))

	require.Eventually(t, func() bool {
		return len(s.Messages()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, cued)
	assert.Empty(t, msgs.readReceipts())
}

func TestReadUpdateApplies(t *testing.T) {
	broker, msgs, convs := newFixture()
	msgs.rows = []models.Message{
		{ID: 1, ConversationID: 1, SenderID: testPlayer, Content: "seen yet?", CreatedAt: at(1)},
	}
	s := NewSynchronizer(testPlayer, broker, msgs, convs, time.Minute)
	require.NoError(t, s.Open(context.Background(), 1))
	defer s.Close()

	readAt := at(2)
	updated := msgs.rows[0]
	updated.ReadAt = &readAt
	broker.PublishUpdate("messages", updated, msgKeys(1))

	require.Eventually(t, func() bool {
		view := s.Messages()
		return view[0].ReadAt != nil && view[0].ReadAt.Equal(readAt)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestConversationStatusFollowsUpdates(t *testing.T) {
	broker, msgs, convs := newFixture()
	s := NewSynchronizer(testPlayer, broker, msgs, convs, time.Minute)
	require.NoError(t, s.Open(context.Background(), 1))
	defer s.Close()

	ended := at(50)
	update := models.Conversation{ID: 1, PlayerID: testPlayer, JudgeID: testJudge, Status: domain.ConversationEnded, EndedAt: &ended}
	broker.PublishUpdate("conversations", update, map[string]string{"id": "1"})

	require.Eventually(t, func() bool {
		c := s.Conversation()
		return c != nil && c.Status == domain.ConversationEnded && c.EndedAt != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseIsTerminal(t *testing.T) {
	broker, msgs, convs := newFixture()
	s := NewSynchronizer(testPlayer, broker, msgs, convs, time.Minute)
	require.NoError(t, s.Open(context.Background(), 1))

	s.Close()
	s.Close()
	assert.Equal(t, StateClosed, s.State())

	_, err := s.Send(context.Background(), "too late", "", "")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Open(context.Background(), 1), ErrClosed)
}

func TestStatusEventSurfacesStreamErr(t *testing.T) {
	broker, msgs, convs := newFixture()
	s := NewSynchronizer(testPlayer, broker, msgs, convs, time.Minute)
	require.NoError(t, s.Open(context.Background(), 1))
	defer s.Close()

	cause := errors.New("bridge down")
	broker.AnnounceStatus(cause, "receive loop")

	require.Eventually(t, func() bool {
		return errors.Is(s.StreamErr(), cause)
	}, 2*time.Second, 10*time.Millisecond)
}
