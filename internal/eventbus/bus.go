// Package eventbus fans out posting lifecycle events to in-process listeners
// such as the Telegram notifier and the status view.
//
// Publish never blocks. Each subscriber owns a buffered channel; when it is
// full the event is dropped for that subscriber and counted.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"autoposter/internal/core"
)

type Kind string

const (
	PostStarted   Kind = "post.started"
	PostSucceeded Kind = "post.succeeded"
	PostFailed    Kind = "post.failed"
	PostSkipped   Kind = "post.skipped"

	VerificationRequested Kind = "session.verification_requested"

	SchedulerStarted Kind = "scheduler.started"
	SchedulerStopped Kind = "scheduler.stopped"
	SchedulerRearmed Kind = "scheduler.rearmed"
)

// Event is a small in-memory signal. Data is one of the payload types below
// or nil.
type Event struct {
	Kind Kind
	Time time.Time
	Data any
}

// PostInfo accompanies PostStarted/PostSucceeded/PostFailed/PostSkipped.
type PostInfo struct {
	Period    core.Period
	CaptionID string
	Images    []string
	Stage     core.Stage
	Err       error
	Trigger   string // "schedule" or "manual"
}

// SchedulerInfo accompanies the scheduler events.
type SchedulerInfo struct {
	NextTrigger time.Time
	Reason      string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int, kinds ...Kind) (ch <-chan Event, unsubscribe func())
}

func New() *MemBus {
	return &MemBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	kinds  map[Kind]struct{}
	closed bool
}

func (s *subscriber) wants(k Kind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[k]
	return ok
}

func (s *subscriber) offer(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// MemBus is the in-memory Bus. It owns no goroutines.
type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Kind) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		if !s.offer(e) {
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a listener for the given kinds (all kinds when none
// are given).
func (b *MemBus) Subscribe(buffer int, kinds ...Kind) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			s.close()
		})
	}
}

// Dropped reports how many deliveries were discarded because a subscriber
// buffer was full.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Subscribe(int, ...Kind) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
