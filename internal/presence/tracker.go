package presence

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"judgeconnect/internal/realtime"
)

const (
	eventTyping     = "typing"
	eventStopTyping = "stop_typing"
)

// DefaultTypingTTL is how long a typing indicator lives without a fresh
// signal.
const DefaultTypingTTL = 3 * time.Second

type typingSignal struct {
	User string `json:"user"`
}

// Tracker maintains who is connected to a conversation topic and who is
// composing. The authoritative online set is always taken from the last
// presence-sync event; join/leave events are informational only. The local
// user never appears in the others-online or others-typing views. One
// instance owns exactly one subscription, acquired in Start and released in
// Stop.
type Tracker struct {
	broker  *realtime.Broker
	topic   string
	selfKey string
	ttl     time.Duration

	// OnChange fires after every visible change. Set before Start.
	OnChange func()

	mu        sync.Mutex
	sub       *realtime.Subscription
	online    map[string]struct{}
	typing    map[string]*time.Timer
	selfTimer *time.Timer
	started   bool
	stopped   bool
}

func NewTracker(broker *realtime.Broker, topic, selfKey string, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &Tracker{
		broker:  broker,
		topic:   topic,
		selfKey: selfKey,
		ttl:     ttl,
		online:  make(map[string]struct{}),
		typing:  make(map[string]*time.Timer),
	}
}

// Start subscribes to the topic and announces local presence.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.started || t.stopped {
		t.mu.Unlock()
		return
	}
	t.started = true
	sub := t.broker.Subscribe(t.topic)
	t.sub = sub
	t.mu.Unlock()

	t.broker.Track(t.topic, t.selfKey, sub)
	go func() {
		for ev := range sub.Events() {
			t.handle(ev)
		}
	}()
}

// NotifyTyping broadcasts a typing signal for the local user and arms the
// debounced auto-stop: each call resets the previous schedule rather than
// stacking a new one.
func (t *Tracker) NotifyTyping() {
	t.mu.Lock()
	if t.stopped || !t.started {
		t.mu.Unlock()
		return
	}
	if t.selfTimer != nil {
		t.selfTimer.Stop()
	}
	t.selfTimer = time.AfterFunc(t.ttl, t.StopTyping)
	t.mu.Unlock()

	t.broker.Publish(t.topic, eventTyping, typingSignal{User: t.selfKey})
}

// StopTyping broadcasts an explicit stop and cancels any pending auto-stop.
func (t *Tracker) StopTyping() {
	t.mu.Lock()
	if t.stopped || !t.started {
		t.mu.Unlock()
		return
	}
	if t.selfTimer != nil {
		t.selfTimer.Stop()
		t.selfTimer = nil
	}
	t.mu.Unlock()

	t.broker.Publish(t.topic, eventStopTyping, typingSignal{User: t.selfKey})
}

// Online returns the other participants currently present, as of the last
// sync event.
func (t *Tracker) Online() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.online)
}

// Typing returns the other participants currently composing.
func (t *Tracker) Typing() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.typing))
	for k := range t.typing {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Stop releases the subscription (which withdraws local presence) and cancels
// every timer. Idempotent.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	sub := t.sub
	t.sub = nil
	if t.selfTimer != nil {
		t.selfTimer.Stop()
		t.selfTimer = nil
	}
	for user, timer := range t.typing {
		timer.Stop()
		delete(t.typing, user)
	}
	t.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
}

func (t *Tracker) handle(ev realtime.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[presence] event handler panic: %v", r)
		}
	}()
	changed := false
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	switch ev.Type {
	case realtime.PresenceSync:
		// Full-state recompute; join/leave events never mutate the set.
		next := make(map[string]struct{}, len(ev.Members))
		for _, m := range ev.Members {
			if m != t.selfKey {
				next[m] = struct{}{}
			}
		}
		changed = !sameSet(t.online, next)
		t.online = next
	case realtime.Broadcast:
		var sig typingSignal
		if err := json.Unmarshal(ev.Payload, &sig); err != nil || sig.User == "" {
			log.Printf("[presence] drop malformed %s broadcast", ev.Name)
			break
		}
		if sig.User == t.selfKey {
			break
		}
		switch ev.Name {
		case eventTyping:
			changed = t.armTypingLocked(sig.User)
		case eventStopTyping:
			changed = t.clearTypingLocked(sig.User)
		}
	}
	t.mu.Unlock()
	if changed {
		t.changed()
	}
}

// armTypingLocked adds or refreshes a remote typer. A repeated signal from
// the same user (or another device of that user) resets the expiry instead
// of adding a duplicate entry. Reports whether the set visibly changed.
func (t *Tracker) armTypingLocked(user string) bool {
	if timer, ok := t.typing[user]; ok {
		timer.Stop()
		t.typing[user] = t.expireTimer(user)
		return false
	}
	t.typing[user] = t.expireTimer(user)
	return true
}

func (t *Tracker) clearTypingLocked(user string) bool {
	timer, ok := t.typing[user]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.typing, user)
	return true
}

func (t *Tracker) expireTimer(user string) *time.Timer {
	return time.AfterFunc(t.ttl, func() {
		t.mu.Lock()
		if t.stopped {
			t.mu.Unlock()
			return
		}
		removed := t.clearTypingLocked(user)
		t.mu.Unlock()
		if removed {
			t.changed()
		}
	})
}

func (t *Tracker) changed() {
	if t.OnChange != nil {
		t.OnChange()
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
