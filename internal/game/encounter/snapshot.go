package encounter

import (
	"sync"

	"github.com/cory-johannsen/tracker/internal/game/condition"
)

// Snapshot is the immutable view of an encounter emitted after every mutating
// tracker call. Renderers and the persistence dispatcher each consume their
// own subscription; nothing ever reads live tracker state.
type Snapshot struct {
	EncounterID string
	// Version increases by exactly one per published snapshot. Consumers can
	// rely on versions to discard anything older than what they last saw.
	Version     uint64
	Round       int
	ActiveID    string
	CanProgress bool
	// Combatants is the full roster in turn order. Deep-copied; safe to hold.
	Combatants []Combatant
	// Conditions maps combatant id to its active attachments.
	Conditions map[string][]condition.Attachment
}

// Clone returns a deep copy of the snapshot: fresh combatant records and
// fresh attachment slices, sharing nothing with the receiver.
func (s Snapshot) Clone() Snapshot {
	s.Combatants = cloneRoster(s.Combatants)
	conds := make(map[string][]condition.Attachment, len(s.Conditions))
	for id, atts := range s.Conditions {
		conds[id] = append([]condition.Attachment(nil), atts...)
	}
	s.Conditions = conds
	return s
}

// Publisher fans snapshots out to subscribers. Each subscriber owns a
// buffered channel of capacity one holding only the newest snapshot: when a
// publish finds the buffer full, the stale snapshot is dropped and replaced.
// A slow consumer therefore skips intermediate states but never observes an
// older snapshot after a newer one.
type Publisher struct {
	mu      sync.Mutex
	nextSub int
	subs    map[int]chan Snapshot
	version uint64
}

// NewPublisher creates an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[int]chan Snapshot)}
}

// Subscribe registers a consumer and returns its snapshot channel along with
// a cancel function. Cancelling closes the channel.
//
// Postcondition: The channel yields monotonically newer snapshots.
func (p *Publisher) Subscribe() (<-chan Snapshot, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSub
	p.nextSub++
	ch := make(chan Snapshot, 1)
	p.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish stamps the snapshot with the next version and delivers it to every
// subscriber, displacing any undelivered older snapshot.
//
// Postcondition: Returns the stamped snapshot.
func (p *Publisher) Publish(s Snapshot) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.version++
	s.Version = p.version
	for _, ch := range p.subs {
		select {
		case ch <- s:
		default:
			// Buffer holds a stale snapshot; replace it with the newest.
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
	return s
}

// SubscriberCount returns the number of active subscriptions.
func (p *Publisher) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}
