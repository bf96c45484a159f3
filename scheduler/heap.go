package scheduler

import (
	"container/heap"
	"time"
)

// FdTimeout parks a socket until its next send is allowed.
type FdTimeout struct {
	Fd       int
	Eligible time.Time
}

// delayHeap is a min-heap ordered by eligible time.
type delayHeap []FdTimeout

func (h delayHeap) Len() int           { return len(h) }
func (h delayHeap) Less(i, j int) bool { return h[i].Eligible.Before(h[j].Eligible) }
func (h delayHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *delayHeap) Push(x any) { *h = append(*h, x.(FdTimeout)) }

func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	*h = old[:n-1]
	return it
}

func (h *delayHeap) push(t FdTimeout) { heap.Push(h, t) }
func (h *delayHeap) pop() FdTimeout   { return heap.Pop(h).(FdTimeout) }
func (h delayHeap) top() FdTimeout    { return h[0] }

// popDue appends the sockets whose eligible time is not after now.
func (h *delayHeap) popDue(now time.Time, out []int) []int {
	for h.Len() > 0 && !h.top().Eligible.After(now) {
		out = append(out, h.pop().Fd)
	}
	return out
}
