package worker

import (
	"sync"
	"time"
)

const (
	// subscriberBufferSize is the channel buffer for each log subscriber.
	// Lines are dropped if a subscriber falls this far behind.
	subscriberBufferSize = 256

	// DefaultFinishedTTL is how long a finished store's marker is kept.
	DefaultFinishedTTL = 10 * time.Minute
)

// LogBroker fans out live deployment-tool output per store. It is safe for
// concurrent use.
//
// Finishing a store closes its subscribers and leaves a marker, so that a
// subscriber arriving shortly after provisioning ends gets a closed channel
// instead of waiting for output that will never come. Markers expire after
// the broker's TTL; Forget drops one immediately.
type LogBroker struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	live      map[string]map[chan string]struct{}
	finished  map[string]time.Time
	lastSweep time.Time
}

// NewLogBroker creates a broker keeping finished markers for
// DefaultFinishedTTL.
func NewLogBroker() *LogBroker {
	return NewLogBrokerTTL(DefaultFinishedTTL)
}

// NewLogBrokerTTL creates a broker keeping finished markers for ttl.
func NewLogBrokerTTL(ttl time.Duration) *LogBroker {
	return &LogBroker{
		ttl:      ttl,
		now:      time.Now,
		live:     make(map[string]map[chan string]struct{}),
		finished: make(map[string]time.Time),
	}
}

// Subscribe returns a channel of output lines for storeID and an
// unsubscribe function. The channel is closed when provisioning finishes,
// or immediately if it recently has.
func (b *LogBroker) Subscribe(storeID string) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan string, subscriberBufferSize)
	if at, ok := b.finished[storeID]; ok && b.now().Sub(at) < b.ttl {
		close(ch)
		return ch, func() {}
	}

	subs := b.live[storeID]
	if subs == nil {
		subs = make(map[chan string]struct{})
		b.live[storeID] = subs
	}
	subs[ch] = struct{}{}

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.detach(storeID, ch)
	}
}

// detach removes ch from storeID's subscribers without closing it.
func (b *LogBroker) detach(storeID string, ch chan string) {
	subs, ok := b.live[storeID]
	if !ok {
		return
	}
	delete(subs, ch)
	if len(subs) == 0 {
		delete(b.live, storeID)
	}
}

// Publish sends a line to all current subscribers of storeID, dropping it
// for subscribers whose buffers are full.
func (b *LogBroker) Publish(storeID string, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.live[storeID] {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close ends the stream for storeID, closing every subscriber channel and
// marking the store finished.
func (b *LogBroker) Close(storeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.closeSubscribers(storeID)
	b.finished[storeID] = now

	if now.Sub(b.lastSweep) >= b.ttl {
		b.sweep(now)
		b.lastSweep = now
	}
}

// Forget closes any stream for storeID and drops its marker. Used once the
// store no longer exists.
func (b *LogBroker) Forget(storeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closeSubscribers(storeID)
	delete(b.finished, storeID)
}

// Markers reports how many finished markers are held.
func (b *LogBroker) Markers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.finished)
}

func (b *LogBroker) closeSubscribers(storeID string) {
	for ch := range b.live[storeID] {
		close(ch)
	}
	delete(b.live, storeID)
}

// sweep drops markers older than the TTL.
func (b *LogBroker) sweep(now time.Time) {
	for id, at := range b.finished {
		if now.Sub(at) >= b.ttl {
			delete(b.finished, id)
		}
	}
}
