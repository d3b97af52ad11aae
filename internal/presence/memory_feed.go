package presence

import (
	"context"
	"sync"
)

const subscriberBuffer = 8

// MemoryFeed fans updates out to in-process subscribers.
type MemoryFeed struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]chan Update
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[int]chan Update)}
}

func (f *MemoryFeed) Subscribe(ctx context.Context, userID string) (<-chan Update, func()) {
	f.mu.Lock()
	id := f.next
	f.next++
	ch := make(chan Update, subscriberBuffer)
	if f.subs[userID] == nil {
		f.subs[userID] = make(map[int]chan Update)
	}
	f.subs[userID][id] = ch
	f.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			f.mu.Lock()
			delete(f.subs[userID], id)
			if len(f.subs[userID]) == 0 {
				delete(f.subs, userID)
			}
			f.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel
}

// Announce delivers u to every subscriber of u.UserID. Slow subscribers
// lose updates rather than block the sender.
func (f *MemoryFeed) Announce(_ context.Context, u Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[u.UserID] {
		select {
		case ch <- u:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions for a user.
func (f *MemoryFeed) Subscribers(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[userID])
}
