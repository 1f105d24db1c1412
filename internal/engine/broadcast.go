package engine

import "sync"

// Broadcaster fans snapshots out to subscribers. A subscriber that is not
// keeping up loses updates rather than stalling the engine.
type Broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Snapshot
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Snapshot)}
}

// Subscribe returns a channel of snapshots and a func that closes it.
func (b *Broadcaster) Subscribe() (<-chan Snapshot, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Snapshot, 8)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

func (b *Broadcaster) Publish(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
