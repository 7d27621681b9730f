package realtime

import "sync"

// Subscription is one registered interest: a topic for presence/broadcast
// events plus row filters for change events. Delivery is push-based through
// an internal unbounded queue so pushing never blocks the broker; the caller
// drains Events(). Close is idempotent; events published after Close are
// never delivered, and the queue is discarded rather than drained.
type Subscription struct {
	broker  *Broker
	topic   string
	filters []Filter

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Event
	closed  bool
	tracked string // presence key announced on this subscription, if any

	out  chan Event
	done chan struct{}
}

func newSubscription(b *Broker, topic string, filters []Filter) *Subscription {
	s := &Subscription{
		broker:  b,
		topic:   topic,
		filters: filters,
		out:     make(chan Event),
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.pump()
	return s
}

// Events yields the subscription's event sequence. The channel is closed
// after Close once the queue is drained or abandoned.
func (s *Subscription) Events() <-chan Event {
	return s.out
}

func (s *Subscription) Topic() string {
	return s.topic
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *Subscription) pump() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			close(s.out)
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		select {
		case s.out <- ev:
		case <-s.done:
			close(s.out)
			return
		}
	}
}

// Close releases the subscription. Safe to call more than once; queued and
// in-flight events are discarded, not delivered.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	tracked := s.tracked
	s.tracked = ""
	close(s.done)
	s.cond.Signal()
	s.mu.Unlock()

	s.broker.remove(s)
	if tracked != "" {
		s.broker.Untrack(s.topic, tracked)
	}
}

func (s *Subscription) wantsRow(table string, keys map[string]string) bool {
	if len(s.filters) == 0 {
		return false
	}
	for _, f := range s.filters {
		if f.matches(table, keys) {
			return true
		}
	}
	return false
}
