package trace

import "sync"

// Store is a thread-safe, fixed-capacity ring buffer of exchanges with
// pub/sub.
type Store struct {
	mu          sync.RWMutex
	exchanges   []*Exchange
	index       map[string]*Exchange
	capacity    int
	head        int // next write position
	count       int // current number of stored exchanges
	subscribers []chan Event
}

// NewStore creates a store with the given capacity. Oldest exchanges are
// evicted when full.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Store{
		exchanges: make([]*Exchange, capacity),
		index:     make(map[string]*Exchange),
		capacity:  capacity,
	}
}

// Add stores a new exchange and notifies subscribers.
func (s *Store) Add(e *Exchange) {
	s.mu.Lock()
	if s.count == s.capacity {
		// Evict the oldest entry.
		old := s.exchanges[s.head]
		if old != nil {
			delete(s.index, old.ID)
		}
	} else {
		s.count++
	}
	s.exchanges[s.head] = e
	s.index[e.ID] = e
	s.head = (s.head + 1) % s.capacity
	subs := s.copySubscribers()
	s.mu.Unlock()

	s.broadcast(subs, Event{Type: EventNew, Exchange: e})
}

// Update notifies subscribers of a change to an existing exchange.
func (s *Store) Update(e *Exchange, eventType EventType) {
	s.mu.RLock()
	subs := s.copySubscribers()
	s.mu.RUnlock()
	s.broadcast(subs, Event{Type: eventType, Exchange: e})
}

// Get returns the exchange with the given ID, or nil if not found.
func (s *Store) Get(id string) *Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index[id]
}

// All returns exchanges in insertion order (oldest first).
func (s *Store) All() []*Exchange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.count == 0 {
		return nil
	}
	result := make([]*Exchange, 0, s.count)
	if s.count < s.capacity {
		for i := 0; i < s.count; i++ {
			if s.exchanges[i] != nil {
				result = append(result, s.exchanges[i])
			}
		}
	} else {
		for i := 0; i < s.capacity; i++ {
			idx := (s.head + i) % s.capacity
			if s.exchanges[idx] != nil {
				result = append(result, s.exchanges[idx])
			}
		}
	}
	return result
}

// Clear removes all exchanges from the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges = make([]*Exchange, s.capacity)
	s.index = make(map[string]*Exchange)
	s.head = 0
	s.count = 0
}

// Count returns the number of exchanges currently held.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Subscribe returns a channel that receives Events. The channel is
// buffered; slow consumers will have events dropped.
func (s *Store) Subscribe() chan Event {
	ch := make(chan Event, 128)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (s *Store) Unsubscribe(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// copySubscribers returns a snapshot of the current subscriber list.
// Must be called with at least a read lock held.
func (s *Store) copySubscribers() []chan Event {
	cp := make([]chan Event, len(s.subscribers))
	copy(cp, s.subscribers)
	return cp
}

func (s *Store) broadcast(subs []chan Event, evt Event) {
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber; drop the event rather than blocking.
		}
	}
}
