package chatsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"judgeconnect/internal/domain"
	"judgeconnect/internal/models"
	"judgeconnect/internal/realtime"

	"github.com/google/uuid"
)

// State is the lifecycle of one conversation view.
type State int

const (
	StateUninitialized State = iota
	StateLoading             // bulk fetch in flight, live events buffered
	StateLive                // merging live events
	StateClosed              // terminal
)

var (
	ErrAlreadyOpen    = errors.New("synchronizer already opened")
	ErrClosed         = errors.New("synchronizer closed")
	ErrNotParticipant = errors.New("user is not a participant of this conversation")
	ErrEmptyMessage   = errors.New("message content is empty")
	ErrUnknownMessage = errors.New("no such pending message")
)

// How far apart a provisional entry and its durable row may sit in time and
// still be considered the same message when the client key is missing.
const reconcileWindow = 10 * time.Second

type MessageStore interface {
	ListByConversation(ctx context.Context, conversationID uint) ([]models.Message, error)
	Create(ctx context.Context, m *models.Message) error
	MarkRead(ctx context.Context, id uint, at time.Time) error
}

type ConversationStore interface {
	GetByID(ctx context.Context, id uint) (*models.Conversation, error)
	TouchLastMessage(ctx context.Context, id uint, at time.Time) error
}

// Synchronizer produces a single time-ordered view of a conversation's
// messages from a bulk load, live insert/update events and locally-originated
// optimistic sends. One instance owns exactly one subscription handle,
// acquired in Open and released in Close.
type Synchronizer struct {
	userID         uint
	broker         *realtime.Broker
	messages       MessageStore
	conversations  ConversationStore
	pendingTimeout time.Duration

	// OnChange fires after every visible state change, OnIncoming exactly
	// once per inbound foreign message. Set before Open.
	OnChange   func()
	OnIncoming func(models.Message)

	mu        sync.Mutex
	state     State
	conv      *models.Conversation
	list      []models.Message
	ids       map[uint]struct{}
	buffered  []realtime.Event
	ledger    *Ledger[models.Message]
	sub       *realtime.Subscription
	streamErr error
}

func NewSynchronizer(userID uint, broker *realtime.Broker, messages MessageStore, conversations ConversationStore, pendingTimeout time.Duration) *Synchronizer {
	if pendingTimeout <= 0 {
		pendingTimeout = 30 * time.Second
	}
	return &Synchronizer{
		userID:         userID,
		broker:         broker,
		messages:       messages,
		conversations:  conversations,
		pendingTimeout: pendingTimeout,
		ids:            make(map[uint]struct{}),
		ledger: NewLedger(func(pending, durable models.Message) bool {
			if pending.SenderID != durable.SenderID || pending.Content != durable.Content {
				return false
			}
			d := durable.CreatedAt.Sub(pending.CreatedAt)
			if d < 0 {
				d = -d
			}
			return d <= reconcileWindow
		}),
	}
}

// Topic names the realtime topic for a conversation.
func Topic(conversationID uint) string {
	return "conversation:" + strconv.FormatUint(uint64(conversationID), 10)
}

// Open loads the existing history and attaches the live subscription. The
// subscription is opened before the bulk fetch so that rows inserted while
// the fetch is in flight are buffered and merged, never lost. Membership is
// checked before any local mutation.
func (s *Synchronizer) Open(ctx context.Context, conversationID uint) error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		if s.state == StateClosed {
			return ErrClosed
		}
		return ErrAlreadyOpen
	}
	s.mu.Unlock()

	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load conversation %d: %w", conversationID, err)
	}
	if !conv.HasParticipant(s.userID) {
		return ErrNotParticipant
	}

	convID := strconv.FormatUint(uint64(conversationID), 10)
	sub := s.broker.Subscribe(Topic(conversationID),
		realtime.Filter{Table: messagesTable, Column: "conversation_id", Value: convID},
		realtime.Filter{Table: conversationsTable, Column: "id", Value: convID},
	)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		sub.Close()
		return ErrClosed
	}
	s.state = StateLoading
	s.conv = conv
	s.sub = sub
	s.mu.Unlock()

	go s.loop(sub)

	rows, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		s.Close()
		return fmt.Errorf("load messages: %w", err)
	}

	s.mu.Lock()
	if s.state != StateLoading {
		// closed while the fetch was in flight; discard the result
		s.mu.Unlock()
		return ErrClosed
	}
	// Merge rather than replace: a Send racing the fetch may already have
	// put provisional or freshly reconciled entries in the list.
	for _, row := range rows {
		if _, dup := s.ids[row.ID]; dup {
			continue
		}
		if key, ok := s.ledger.Resolve(row.ClientKey, row); ok {
			s.replaceProvisionalLocked(key, row)
			continue
		}
		s.list = append(s.list, row)
		s.ids[row.ID] = struct{}{}
	}
	sortMessages(s.list)
	buffered := s.buffered
	s.buffered = nil
	s.state = StateLive
	var arrivals []models.Message
	for _, ev := range buffered {
		if m := s.applyLocked(ev); m != nil {
			arrivals = append(arrivals, *m)
		}
	}
	s.mu.Unlock()

	s.changed()
	for i := range arrivals {
		s.receipt(arrivals[i])
	}
	return nil
}

// Send validates, applies the message optimistically and persists it. On
// failure the entry stays visible with a failure marker and the error is
// returned; there is no automatic retry.
func (s *Synchronizer) Send(ctx context.Context, content, cardData, msgType string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if msgType == "" {
		msgType = domain.MessageText
	}

	s.mu.Lock()
	if s.state == StateClosed || s.state == StateUninitialized {
		s.mu.Unlock()
		return models.Message{}, ErrClosed
	}
	provisional := models.Message{
		ConversationID: s.conv.ID,
		SenderID:       s.userID,
		Content:        content,
		CardData:       cardData,
		Type:           msgType,
		ClientKey:      uuid.NewString(),
		CreatedAt:      time.Now(),
		Pending:        true,
	}
	s.list = append(s.list, provisional)
	sortMessages(s.list)
	s.ledger.Apply(provisional.ClientKey, provisional)
	s.mu.Unlock()
	s.changed()

	s.scheduleExpiry(provisional.ClientKey)
	return s.persist(ctx, provisional)
}

// Resend retries a failed optimistic entry, identified by its client key.
func (s *Synchronizer) Resend(ctx context.Context, clientKey string) (models.Message, error) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateUninitialized {
		s.mu.Unlock()
		return models.Message{}, ErrClosed
	}
	idx := s.indexByClientKey(clientKey)
	if idx < 0 || !s.list[idx].Failed {
		s.mu.Unlock()
		return models.Message{}, ErrUnknownMessage
	}
	s.list[idx].Failed = false
	s.list[idx].Pending = true
	provisional := s.list[idx]
	s.ledger.Apply(clientKey, provisional)
	s.mu.Unlock()
	s.changed()

	s.scheduleExpiry(clientKey)
	return s.persist(ctx, provisional)
}

func (s *Synchronizer) persist(ctx context.Context, provisional models.Message) (models.Message, error) {
	persisted := provisional
	persisted.Pending = false
	if err := s.messages.Create(ctx, &persisted); err != nil {
		s.markFailed(provisional.ClientKey)
		return provisional, fmt.Errorf("persist message: %w", err)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return persisted, nil
	}
	// The broker echo may have reconciled this entry already; Resolve
	// consumes it at most once either way.
	if _, ok := s.ledger.Resolve(provisional.ClientKey, persisted); ok {
		s.replaceProvisionalLocked(provisional.ClientKey, persisted)
	}
	s.mu.Unlock()
	s.changed()

	s.touchConversation(persisted.CreatedAt)
	return persisted, nil
}

// Close releases the subscription. Idempotent; events already queued are
// ignored and late load results discarded.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	sub := s.sub
	s.sub = nil
	s.buffered = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

// Messages returns a snapshot of the ordered view.
func (s *Synchronizer) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.list))
	copy(out, s.list)
	return out
}

func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Synchronizer) Conversation() *models.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return nil
	}
	c := *s.conv
	return &c
}

// StreamErr reports the last stream status error, nil while healthy.
func (s *Synchronizer) StreamErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamErr
}

func (s *Synchronizer) loop(sub *realtime.Subscription) {
	for ev := range sub.Events() {
		s.handleEvent(ev)
	}
}

// handleEvent isolates its own failures: one bad event must never take the
// component down.
func (s *Synchronizer) handleEvent(ev realtime.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[chatsync] event handler panic: %v", r)
		}
	}()
	var incoming *models.Message
	s.mu.Lock()
	switch s.state {
	case StateClosed, StateUninitialized:
		s.mu.Unlock()
		return
	case StateLoading:
		s.buffered = append(s.buffered, ev)
		s.mu.Unlock()
		return
	}
	incoming = s.applyLocked(ev)
	s.mu.Unlock()

	s.changed()
	if incoming != nil {
		s.receipt(*incoming)
	}
}

// applyLocked merges one event into the view. Returns the message when it is
// a newly-inserted foreign message that needs a read receipt and cue.
func (s *Synchronizer) applyLocked(ev realtime.Event) *models.Message {
	switch ev.Type {
	case realtime.RowInserted:
		if ev.Table != messagesTable {
			return nil
		}
		m, err := messageFromEvent(ev)
		if err != nil {
			log.Printf("[chatsync] drop insert event: %v", err)
			return nil
		}
		if _, dup := s.ids[m.ID]; dup {
			return nil
		}
		if key, ok := s.ledger.Resolve(m.ClientKey, m); ok {
			s.replaceProvisionalLocked(key, m)
			return nil
		}
		s.list = append(s.list, m)
		sortMessages(s.list)
		s.ids[m.ID] = struct{}{}
		if m.SenderID != s.userID {
			return &m
		}
		return nil
	case realtime.RowUpdated:
		switch ev.Table {
		case messagesTable:
			m, err := messageFromEvent(ev)
			if err != nil {
				log.Printf("[chatsync] drop update event: %v", err)
				return nil
			}
			for i := range s.list {
				if s.list[i].ID == m.ID {
					s.list[i].ReadAt = m.ReadAt
					break
				}
			}
		case conversationsTable:
			c, err := conversationFromEvent(ev)
			if err != nil {
				log.Printf("[chatsync] drop conversation event: %v", err)
				return nil
			}
			if s.conv != nil && c.ID == s.conv.ID {
				s.conv.Status = c.Status
				s.conv.EndedAt = c.EndedAt
				s.conv.Rating = c.Rating
			}
		}
	case realtime.Status:
		s.streamErr = ev.Err
	}
	return nil
}

// receipt persists the read timestamp for an inbound foreign message and
// fires the incoming cue, once per message (duplicates never reach here).
func (s *Synchronizer) receipt(m models.Message) {
	now := time.Now()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.messages.MarkRead(ctx, m.ID, now); err != nil {
			log.Printf("[chatsync] read receipt for message %d: %v", m.ID, err)
		}
	}()
	if s.OnIncoming != nil {
		s.OnIncoming(m)
	}
	s.touchConversation(m.CreatedAt)
}

func (s *Synchronizer) touchConversation(at time.Time) {
	s.mu.Lock()
	conv := s.conv
	closed := s.state == StateClosed
	if conv != nil && at.After(conv.LastMessageAt) {
		conv.LastMessageAt = at
	}
	s.mu.Unlock()
	if conv == nil || closed {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.conversations.TouchLastMessage(ctx, conv.ID, at); err != nil {
			log.Printf("[chatsync] bump last message: %v", err)
		}
	}()
}

func (s *Synchronizer) scheduleExpiry(clientKey string) {
	time.AfterFunc(s.pendingTimeout, func() {
		s.markFailed(clientKey)
	})
}

// markFailed flips a still-pending entry into the visible failure state.
// No-op when the entry already resolved or already failed.
func (s *Synchronizer) markFailed(clientKey string) {
	if !s.ledger.Fail(clientKey) {
		return
	}
	s.mu.Lock()
	if idx := s.indexByClientKey(clientKey); idx >= 0 {
		s.list[idx].Pending = false
		s.list[idx].Failed = true
	}
	s.mu.Unlock()
	s.changed()
}

func (s *Synchronizer) replaceProvisionalLocked(clientKey string, durable models.Message) {
	durable.Pending = false
	durable.Failed = false
	if idx := s.indexByClientKey(clientKey); idx >= 0 {
		s.list[idx] = durable
	} else {
		s.list = append(s.list, durable)
	}
	sortMessages(s.list)
	s.ids[durable.ID] = struct{}{}
}

// indexByClientKey finds a local entry by its provisional key. Only unsent
// entries are searched; durable rows are matched by ID elsewhere.
func (s *Synchronizer) indexByClientKey(clientKey string) int {
	for i := range s.list {
		if s.list[i].ID == 0 && s.list[i].ClientKey == clientKey {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) changed() {
	if s.OnChange != nil {
		s.OnChange()
	}
}

func sortMessages(list []models.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Before(&list[j])
	})
}
