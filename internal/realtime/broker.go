package realtime

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
)

// Broker fans typed events out to subscriptions. Row events are matched by
// table+key filters, presence and broadcast events by topic. A bridge may be
// attached to mirror row/broadcast events across instances; bridge failures
// surface as Status events, never as terminal errors.
type Broker struct {
	mu       sync.RWMutex
	subs     map[*Subscription]struct{}
	presence map[string]map[string]int // topic -> member -> connection count
	bridge   *RedisBridge
}

func NewBroker() *Broker {
	return &Broker{
		subs:     make(map[*Subscription]struct{}),
		presence: make(map[string]map[string]int),
	}
}

// Subscribe registers interest in a topic plus optional row filters and
// returns immediately; events arrive on the handle's channel.
func (b *Broker) Subscribe(topic string, filters ...Filter) *Subscription {
	s := newSubscription(b, topic, filters)
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Broker) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

func (b *Broker) snapshot() []*Subscription {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	return subs
}

// PublishInsert delivers a row-inserted event to every subscription whose
// filter matches. keys carries the filterable columns of the row.
func (b *Broker) PublishInsert(table string, row interface{}, keys map[string]string) {
	b.deliverRow(Event{Type: RowInserted, Table: table, Keys: keys, Row: row})
	b.forward(envelope{Kind: RowInserted, Table: table, Keys: keys, Row: marshalRow(row)})
}

// PublishUpdate delivers a row-updated event, same matching rules as inserts.
func (b *Broker) PublishUpdate(table string, row interface{}, keys map[string]string) {
	b.deliverRow(Event{Type: RowUpdated, Table: table, Keys: keys, Row: row})
	b.forward(envelope{Kind: RowUpdated, Table: table, Keys: keys, Row: marshalRow(row)})
}

// Publish broadcasts a named event to the topic's other subscribers.
// Best-effort: no delivery guarantee, no acknowledgment.
func (b *Broker) Publish(topic, name string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[realtime] drop broadcast %s/%s: %v", topic, name, err)
		return
	}
	b.deliverTopic(topic, Event{Type: Broadcast, Topic: topic, Name: name, Payload: data})
	b.forward(envelope{Kind: Broadcast, Topic: topic, Name: name, Payload: data})
}

// Track announces a member on a topic. Members are reference-counted so a
// user connected twice stays present until both connections untrack. Every
// change emits join/leave info events plus an authoritative full-state sync.
func (b *Broker) Track(topic, member string, on *Subscription) {
	// The key is recorded on the handle under its lock, held across the
	// refcount bump: a Close racing this call either lands first and the
	// count is never incremented, or lands after and untracks the key.
	if on != nil {
		on.mu.Lock()
		if on.closed {
			on.mu.Unlock()
			return
		}
		on.tracked = member
	}
	b.mu.Lock()
	m := b.presence[topic]
	if m == nil {
		m = make(map[string]int)
		b.presence[topic] = m
	}
	m[member]++
	first := m[member] == 1
	members := memberList(m)
	b.mu.Unlock()
	if on != nil {
		on.mu.Unlock()
	}

	if first {
		b.deliverTopic(topic, Event{Type: PresenceJoin, Topic: topic, Member: member})
	}
	b.deliverTopic(topic, Event{Type: PresenceSync, Topic: topic, Members: members})
}

func (b *Broker) Untrack(topic, member string) {
	b.mu.Lock()
	m := b.presence[topic]
	if m == nil || m[member] == 0 {
		b.mu.Unlock()
		return
	}
	m[member]--
	last := m[member] == 0
	if last {
		delete(m, member)
	}
	if len(m) == 0 {
		delete(b.presence, topic)
	}
	members := memberList(m)
	b.mu.Unlock()

	if last {
		b.deliverTopic(topic, Event{Type: PresenceLeave, Topic: topic, Member: member})
	}
	b.deliverTopic(topic, Event{Type: PresenceSync, Topic: topic, Members: members})
}

// AnnounceStatus pushes a stream-status event to every subscription, e.g.
// when the bridge connection degrades. Recoverable by design: subscribers
// stay registered.
func (b *Broker) AnnounceStatus(err error, detail string) {
	ev := Event{Type: Status, Err: err, Detail: detail}
	for _, s := range b.snapshot() {
		s.push(ev)
	}
}

func (b *Broker) deliverRow(ev Event) {
	for _, s := range b.snapshot() {
		if s.wantsRow(ev.Table, ev.Keys) {
			s.push(ev)
		}
	}
}

func (b *Broker) deliverTopic(topic string, ev Event) {
	for _, s := range b.snapshot() {
		if s.topic == topic {
			s.push(ev)
		}
	}
}

// AttachBridge wires a cross-instance bridge and starts consuming remote
// events. Call before serving traffic.
func (b *Broker) AttachBridge(bridge *RedisBridge) {
	b.mu.Lock()
	b.bridge = bridge
	b.mu.Unlock()
	bridge.start(b)
}

func (b *Broker) forward(env envelope) {
	b.mu.RLock()
	bridge := b.bridge
	b.mu.RUnlock()
	if bridge != nil {
		bridge.forward(env)
	}
}

// deliverRemote replays a bridged envelope locally without re-forwarding.
// Bridged rows stay encoded; consumers decode at the boundary.
func (b *Broker) deliverRemote(env envelope) {
	switch env.Kind {
	case RowInserted, RowUpdated:
		b.deliverRow(Event{Type: env.Kind, Table: env.Table, Keys: env.Keys, Row: env.Row})
	case Broadcast:
		b.deliverTopic(env.Topic, Event{Type: Broadcast, Topic: env.Topic, Name: env.Name, Payload: env.Payload})
	}
}

func memberList(m map[string]int) []string {
	members := make([]string, 0, len(m))
	for k := range m {
		members = append(members, k)
	}
	sort.Strings(members)
	return members
}

func marshalRow(row interface{}) json.RawMessage {
	data, err := json.Marshal(row)
	if err != nil {
		return nil
	}
	return data
}
