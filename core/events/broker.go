package events

import (
	"context"
	"sync"

	"interra/core/types"
)

const subscriberBuffer = 64

// Entry pairs an event with its authoritative position in the log. Offsets
// are contiguous in the log itself, so a subscriber that sees a jump between
// consecutive deliveries knows events were dropped and can resubscribe from
// the last offset it processed.
type Entry struct {
	Offset int
	Event  *types.Event
}

// Broker implements Emitter with an ordered, append-only event log plus
// fan-out to live subscribers. Every successful state transition appends
// exactly one event, so the log is the canonical transition history consumed
// by off-chain relayers.
type Broker struct {
	mu     sync.Mutex
	log    []*types.Event
	subs   map[uint64]chan Entry
	nextID uint64
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[uint64]chan Entry)}
}

// Emit appends the event to the log and delivers it to all live subscribers
// tagged with its log offset. Subscribers that cannot keep up are skipped;
// the offset gap tells them what they missed and cursor resubscription
// recovers it.
func (b *Broker) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	payload, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	record := payload.Event()
	if record == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	entry := Entry{Offset: len(b.log), Event: record}
	b.log = append(b.log, record)
	for _, ch := range b.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}

// Events returns an ordered copy of the full event log.
func (b *Broker) Events() []*types.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*types.Event, len(b.log))
	copy(out, b.log)
	return out
}

// Len reports the current log length, usable as a cursor for Subscribe.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.log)
}

// Subscribe registers a live feed starting after the supplied cursor. Events
// already logged past the cursor are returned as backlog; subsequent events
// arrive on the channel until cancel is invoked or the context ends.
func (b *Broker) Subscribe(ctx context.Context, cursor int) (<-chan Entry, func(), []Entry) {
	b.mu.Lock()
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(b.log) {
		cursor = len(b.log)
	}
	backlog := make([]Entry, 0, len(b.log)-cursor)
	for i := cursor; i < len(b.log); i++ {
		backlog = append(backlog, Entry{Offset: i, Event: b.log[i]})
	}
	id := b.nextID
	b.nextID++
	ch := make(chan Entry, subscriberBuffer)
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return ch, cancel, backlog
}
