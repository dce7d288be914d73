// Package feed fans committed change events out to subscribers.
//
// One dispatcher goroutine per entity type preserves per-type commit order
// while types proceed in parallel. Each subscriber owns a bounded backlog;
// a subscriber that fails to drain it is forcibly disconnected and must
// resubscribe and re-fetch current state. Events carry identifying metadata
// only, which is what makes that resync sufficient.
package feed

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/karateway/controlplane/internal/domain"
)

// ErrBacklogExceeded terminates a subscriber's stream when its backlog
// overflows. It is never returned to mutation callers.
var ErrBacklogExceeded = errors.New("subscriber backlog exceeded, resync required")

// DefaultBacklog is the per-subscriber backlog capacity when none is configured.
const DefaultBacklog = 256

// Feed is the in-process change-event fan-out.
type Feed struct {
	capacity int
	logger   *zap.Logger
	done     chan struct{}

	mu         sync.Mutex
	subs       map[*Subscription]struct{}
	partitions map[domain.EntityType]*partition
	closed     bool
	wg         sync.WaitGroup
}

// partition carries the undispatched events of one entity type. Publish
// appends under the lock and never blocks on subscriber I/O; the dispatcher
// drains and delivers.
type partition struct {
	mu      sync.Mutex
	queue   []domain.ChangeEvent
	pending map[int64]domain.ChangeEvent
	next    int64
	wake    chan struct{}
}

// New starts one dispatcher per entity type. startSequences holds the last
// committed sequence per type (from Store.CurrentSequences) so dispatch
// resumes exactly after it; publishes racing out of commit order are held
// until their predecessors arrive, which the gap-free sequencer guarantees
// will happen.
func New(capacity int, startSequences map[domain.EntityType]int64, logger *zap.Logger) *Feed {
	if capacity <= 0 {
		capacity = DefaultBacklog
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Feed{
		capacity:   capacity,
		logger:     logger,
		done:       make(chan struct{}),
		subs:       make(map[*Subscription]struct{}),
		partitions: make(map[domain.EntityType]*partition),
	}
	for _, t := range domain.EntityTypes {
		p := &partition{
			pending: make(map[int64]domain.ChangeEvent),
			next:    startSequences[t] + 1,
			wake:    make(chan struct{}, 1),
		}
		f.partitions[t] = p
		f.wg.Add(1)
		go f.dispatch(t, p)
	}
	return f
}

// Publish enqueues committed events for dispatch. It never blocks and never
// reports errors back to the mutation path; publishing to a closed feed is a
// no-op.
func (f *Feed) Publish(events ...domain.ChangeEvent) {
	for _, ev := range events {
		p, ok := f.partitions[ev.EntityType]
		if !ok {
			continue
		}
		p.mu.Lock()
		p.queue = append(p.queue, ev)
		p.mu.Unlock()
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

// Subscribe registers a subscriber for the given entity types (all types when
// none are named). The stream starts at the next event committed after the
// call; there is no replay.
func (f *Feed) Subscribe(types ...domain.EntityType) (*Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, errors.New("feed is closed")
	}

	if len(types) == 0 {
		types = domain.EntityTypes
	}
	wanted := make(map[domain.EntityType]bool, len(types))
	for _, t := range types {
		if _, ok := f.partitions[t]; !ok {
			return nil, errors.New("unknown entity type " + string(t))
		}
		wanted[t] = true
	}

	sub := &Subscription{
		feed:  f,
		types: wanted,
		ch:    make(chan domain.ChangeEvent, f.capacity),
	}
	f.subs[sub] = struct{}{}
	return sub, nil
}

// Close stops dispatch and terminates every subscription without error.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := make([]*Subscription, 0, len(f.subs))
	for sub := range f.subs {
		subs = append(subs, sub)
	}
	f.subs = make(map[*Subscription]struct{})
	f.mu.Unlock()

	// The wake channels stay open so a Publish racing shutdown cannot panic;
	// dispatchers exit through done instead.
	close(f.done)
	f.wg.Wait()
	for _, sub := range subs {
		sub.terminate(nil)
	}
}

func (f *Feed) dispatch(t domain.EntityType, p *partition) {
	defer f.wg.Done()
	for {
		select {
		case <-f.done:
			return
		case <-p.wake:
		}
		for {
			p.mu.Lock()
			batch := p.queue
			p.queue = nil
			p.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, ev := range batch {
				if ev.Sequence < p.next {
					// Already dispatched; at-least-once duplicate.
					continue
				}
				p.pending[ev.Sequence] = ev
			}
			for {
				ev, ok := p.pending[p.next]
				if !ok {
					break
				}
				delete(p.pending, p.next)
				p.next++
				f.deliver(t, ev)
			}
		}
	}
}

func (f *Feed) deliver(t domain.EntityType, ev domain.ChangeEvent) {
	f.mu.Lock()
	subs := make([]*Subscription, 0, len(f.subs))
	for sub := range f.subs {
		if sub.types[t] {
			subs = append(subs, sub)
		}
	}
	f.mu.Unlock()

	for _, sub := range subs {
		if !sub.offer(ev) {
			f.drop(sub)
		}
	}
}

// drop disconnects a subscriber that overran its backlog.
func (f *Feed) drop(sub *Subscription) {
	f.mu.Lock()
	_, present := f.subs[sub]
	delete(f.subs, sub)
	f.mu.Unlock()
	if present {
		f.logger.Warn("disconnecting slow subscriber",
			zap.Int("backlog_capacity", f.capacity))
		sub.terminate(ErrBacklogExceeded)
	}
}

func (f *Feed) unsubscribe(sub *Subscription) {
	f.mu.Lock()
	delete(f.subs, sub)
	f.mu.Unlock()
}

// Subscription is one subscriber's ordered, bounded event stream.
type Subscription struct {
	feed  *Feed
	types map[domain.EntityType]bool
	ch    chan domain.ChangeEvent

	mu     sync.Mutex
	closed bool
	err    error
}

// Events yields change events in per-type commit order. The channel closes
// when the subscription ends; check Err afterwards.
func (s *Subscription) Events() <-chan domain.ChangeEvent { return s.ch }

// Err reports why the stream ended: ErrBacklogExceeded after a forced
// disconnect, nil after Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the subscription. It has no effect on the store and may be
// called at any time.
func (s *Subscription) Close() {
	s.feed.unsubscribe(s)
	s.terminate(nil)
}

// offer attempts a non-blocking handoff into the subscriber's backlog.
func (s *Subscription) offer(ev domain.ChangeEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) terminate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.ch)
}
