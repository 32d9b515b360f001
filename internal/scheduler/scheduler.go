// Package scheduler implements spec.md §4.12 / §4.1 step 5: three
// priority queues admitted under a bounded concurrency budget, drained
// with a weighted round-robin that guarantees lower priorities progress.
package scheduler

import (
	"container/list"
	"context"
	"sync"

	"netstack/internal/netreq"
	"netstack/internal/nserr"
)

// weights implements the 4:2:1 fairness ratio from spec.md §4.12 for
// High:Medium:Low.
var weights = [3]int{4, 2, 1}

type waiter struct {
	id       uint64
	priority netreq.Priority
	ready    chan struct{}
	done     bool
}

// Scheduler admits requests under a max-concurrency budget, draining its
// three priority queues fairly.
type Scheduler struct {
	mu          sync.Mutex
	maxInFlight int
	inFlight    int
	queues      [3]*list.List // indexed by netreq.Priority
	nextID      uint64
	cursor      int // round-robin cursor over priority classes
	budget      int // remaining releases owed to the current cursor class
}

// New returns a Scheduler admitting at most maxConcurrent requests at once.
func New(maxConcurrent int) *Scheduler {
	s := &Scheduler{maxInFlight: maxConcurrent}
	for i := range s.queues {
		s.queues[i] = list.New()
	}
	s.budget = weights[0]
	return s
}

// Admit blocks until a slot is available for priority p or ctx is done.
// It returns a release function the caller must call exactly once when
// the request completes, and an error if ctx was cancelled first.
func (s *Scheduler) Admit(ctx context.Context, p netreq.Priority) (release func(), err error) {
	s.mu.Lock()
	w := &waiter{id: s.nextID, priority: p, ready: make(chan struct{})}
	s.nextID++
	el := s.queues[p].PushBack(w)
	s.tryDrainLocked()
	s.mu.Unlock()

	select {
	case <-w.ready:
		return func() { s.release() }, nil
	case <-ctx.Done():
		s.mu.Lock()
		if !w.done {
			s.queues[p].Remove(el)
		} else {
			// Already granted a slot concurrently with cancellation;
			// release it immediately so the budget isn't leaked.
			s.mu.Unlock()
			s.release()
			return nil, admitErr(ctx)
		}
		s.mu.Unlock()
		return nil, admitErr(ctx)
	}
}

// admitErr reports why ctx ended the wait for a scheduler slot: a deadline
// miss is a Timeout, distinct from an explicit caller cancellation.
func admitErr(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return nserr.Timeout(0)
	}
	return nserr.New(nserr.KindAborted, "request cancelled while queued")
}

// release returns one admitted slot to the budget and attempts to drain
// the queues again.
func (s *Scheduler) release() {
	s.mu.Lock()
	s.inFlight--
	s.tryDrainLocked()
	s.mu.Unlock()
}

// tryDrainLocked grants slots using the weighted round-robin policy
// while capacity remains. Caller must hold s.mu.
func (s *Scheduler) tryDrainLocked() {
	for s.inFlight < s.maxInFlight {
		p, ok := s.pickLocked()
		if !ok {
			return
		}
		el := s.queues[p].Front()
		w := el.Value.(*waiter)
		s.queues[p].Remove(el)
		w.done = true
		s.inFlight++
		close(w.ready)
	}
}

// pickLocked selects the next priority class to serve, consuming one
// unit of the current class's weight budget before rotating, per the
// 4:2:1 weighted round-robin. A class with an empty queue is skipped
// without consuming budget so idle priorities don't starve busy ones.
func (s *Scheduler) pickLocked() (netreq.Priority, bool) {
	anyNonEmpty := false
	for i := 0; i < 3; i++ {
		if s.queues[i].Len() > 0 {
			anyNonEmpty = true
			break
		}
	}
	if !anyNonEmpty {
		return 0, false
	}

	for attempts := 0; attempts < 3; attempts++ {
		cur := netreq.Priority(s.cursor)
		if s.queues[cur].Len() > 0 {
			s.budget--
			if s.budget <= 0 {
				s.advanceCursorLocked()
			}
			return cur, true
		}
		s.advanceCursorLocked()
	}
	return 0, false
}

func (s *Scheduler) advanceCursorLocked() {
	s.cursor = (s.cursor + 1) % 3
	s.budget = weights[s.cursor]
}

// QueueDepth reports the number of queued (not yet admitted) requests at
// priority p, for tests and metrics.
func (s *Scheduler) QueueDepth(p netreq.Priority) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queues[p].Len()
}

// InFlight reports the current number of admitted (not yet released)
// requests.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}
