package peer

import (
	"container/heap"
	"time"
)

// timer is a scheduled wakeup: fire once after an instant, carrying an
// opaque token the handler's idle hook uses to identify it.
type timer struct {
	fireAfter time.Time
	token     int
}

// timerHeap is a min-heap ordered by fireAfter, so the soonest timer is
// always at index 0.
type timerHeap []timer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].fireAfter.Before(h[j].fireAfter) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(timer)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// timerQueue wraps timerHeap with the peek/pop-if-due operations the
// dispatch loop needs, guarded by its own mutex so it composes independently
// of the rx queue and pending table.
type timerQueue struct {
	h timerHeap
}

func newTimerQueue() *timerQueue {
	return &timerQueue{}
}

func (q *timerQueue) schedule(after time.Duration, token int) {
	heap.Push(&q.h, timer{fireAfter: time.Now().Add(after), token: token})
}

// checkDue peeks the soonest timer. If it has already fired, it is popped
// and the token is returned with ok=true. Otherwise ok=false and wait is
// the duration until it next fires (zero value if the heap is empty).
func (q *timerQueue) checkDue() (token int, ok bool, wait time.Duration, hasNext bool) {
	if q.h.Len() == 0 {
		return 0, false, 0, false
	}
	next := q.h[0]
	now := time.Now()
	if !next.fireAfter.After(now) {
		popped := heap.Pop(&q.h).(timer)
		return popped.token, true, 0, true
	}
	return 0, false, next.fireAfter.Sub(now), true
}
