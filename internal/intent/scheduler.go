package intent

import (
	"container/heap"
	"sync"
	"time"
)

// timerKind distinguishes the two timer families spec.md §9 calls for:
// the bidding-window deadline and the execution/failover deadline.
type timerKind string

const (
	timerBidding   timerKind = "bidding"
	timerExecution timerKind = "execution"
)

type timerKey struct {
	intentID string
	kind     timerKind
}

// timerEntry is one scheduled fire, held both in the heap slice and in the
// scheduler's active map so cancellation/reschedule can tombstone it in
// place instead of searching the heap.
type timerEntry struct {
	fireAt    time.Time
	key       timerKey
	seq       uint64
	cancelled bool
	index     int // heap.Interface bookkeeping
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if !h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].fireAt.Before(h[j].fireAt)
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// scheduler drains a min-heap of (intent_id, kind) fire times on a single
// goroutine and dispatches into the engine's critical section, per
// spec.md §9 ("a single scheduler goroutine/thread drains the heap ...
// avoid per-intent native OS timers"). Cancellation replaces an entry
// with a tombstone (cancelled=true) rather than removing it from the
// heap's backing slice.
type scheduler struct {
	mu     sync.Mutex
	h      timerHeap
	active map[timerKey]*timerEntry
	seq    uint64

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	onFire func(key timerKey)
}

func newScheduler(onFire func(key timerKey)) *scheduler {
	s := &scheduler{
		active: make(map[timerKey]*timerEntry),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		onFire: onFire,
	}
	heap.Init(&s.h)
	go s.run()
	return s
}

// Schedule arms (or re-arms) the timer for key to fire at fireAt, replacing
// any existing entry for the same key.
func (s *scheduler) Schedule(key timerKey, fireAt time.Time) {
	s.mu.Lock()
	if old, ok := s.active[key]; ok {
		old.cancelled = true
	}
	s.seq++
	e := &timerEntry{fireAt: fireAt, key: key, seq: s.seq}
	heap.Push(&s.h, e)
	s.active[key] = e
	s.mu.Unlock()
	s.nudge()
}

// Cancel tombstones the timer for key, if one is armed. A cancelled timer
// never fires a callback.
func (s *scheduler) Cancel(key timerKey) {
	s.mu.Lock()
	if e, ok := s.active[key]; ok {
		e.cancelled = true
		delete(s.active, key)
	}
	s.mu.Unlock()
}

// CancelIntent tombstones every timer family for an intent (used by
// cancel_intent and completion, spec.md §5: "cancel_intent atomically
// cancels both timers").
func (s *scheduler) CancelIntent(intentID string) {
	s.Cancel(timerKey{intentID: intentID, kind: timerBidding})
	s.Cancel(timerKey{intentID: intentID, kind: timerExecution})
}

// ActiveCount returns the number of currently armed (non-cancelled) timers.
func (s *scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Stop halts the scheduler goroutine. The cleanup/scheduler timer must not
// keep the process alive after external shutdown (spec.md §4.2).
func (s *scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *scheduler) run() {
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		d, ready := s.nextDelay()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if ready {
			timer.Reset(0)
		} else if d > 0 {
			timer.Reset(d)
		} else {
			timer.Reset(time.Hour)
		}

		select {
		case <-s.stop:
			return
		case <-s.wake:
			continue
		case <-timer.C:
			s.fireReady()
		}
	}
}

// nextDelay returns how long until the earliest live entry fires, and
// whether one is already due.
func (s *scheduler) nextDelay() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.h.Len() > 0 && s.h[0].cancelled {
		heap.Pop(&s.h)
	}
	if s.h.Len() == 0 {
		return 0, false
	}
	d := time.Until(s.h[0].fireAt)
	return d, d <= 0
}

func (s *scheduler) fireReady() {
	for {
		s.mu.Lock()
		for s.h.Len() > 0 && s.h[0].cancelled {
			heap.Pop(&s.h)
		}
		if s.h.Len() == 0 || time.Now().Before(s.h[0].fireAt) {
			s.mu.Unlock()
			return
		}
		e := heap.Pop(&s.h).(*timerEntry)
		if cur, ok := s.active[e.key]; ok && cur == e {
			delete(s.active, e.key)
		}
		s.mu.Unlock()

		if !e.cancelled {
			s.onFire(e.key)
		}
	}
}
