package store

import "sync"

// Notifier fans out change signals per key. Each subscriber holds at most one
// pending signal; a newer signal replaces an unread one, so slow readers
// coalesce to the latest change and never block publishers.
type Notifier[K comparable] struct {
	mu   sync.Mutex
	subs map[K]map[*Subscription[K]]struct{}
}

// Subscription receives change signals for one key.
type Subscription[K comparable] struct {
	key K
	ch  chan Origin
	n   *Notifier[K]
}

// NewNotifier creates an empty notifier.
func NewNotifier[K comparable]() *Notifier[K] {
	return &Notifier[K]{subs: make(map[K]map[*Subscription[K]]struct{})}
}

// Subscribe registers interest in key. Callers must Close the subscription.
func (n *Notifier[K]) Subscribe(key K) *Subscription[K] {
	sub := &Subscription[K]{key: key, ch: make(chan Origin, 1), n: n}
	n.mu.Lock()
	defer n.mu.Unlock()
	set, ok := n.subs[key]
	if !ok {
		set = make(map[*Subscription[K]]struct{})
		n.subs[key] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Publish signals every subscriber of key.
func (n *Notifier[K]) Publish(key K, origin Origin) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for sub := range n.subs[key] {
		select {
		case sub.ch <- origin:
		default:
			// Replace the pending signal with the newer one.
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- origin
		}
	}
}

// PublishAll signals every subscriber of every key.
func (n *Notifier[K]) PublishAll(origin Origin) {
	n.mu.Lock()
	keys := make([]K, 0, len(n.subs))
	for k := range n.subs {
		keys = append(keys, k)
	}
	n.mu.Unlock()
	for _, k := range keys {
		n.Publish(k, origin)
	}
}

// C returns the signal channel.
func (s *Subscription[K]) C() <-chan Origin { return s.ch }

// Close unregisters the subscription.
func (s *Subscription[K]) Close() {
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	set := s.n.subs[s.key]
	delete(set, s)
	if len(set) == 0 {
		delete(s.n.subs, s.key)
	}
}
