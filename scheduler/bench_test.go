package scheduler

import (
	"testing"
	"time"
)

// The clock is read once per wait and once per reply.
func BenchmarkTimeNow(b *testing.B) {
	var x int64
	for i := 0; i < b.N; i++ {
		x ^= time.Now().UnixNano()
	}
	_ = x
}

func BenchmarkDelayHeap(b *testing.B) {
	var h delayHeap
	now := time.Now()
	for i := 0; i < 1024; i++ {
		h.push(FdTimeout{Fd: i, Eligible: now.Add(time.Duration(i*7919%1024) * time.Microsecond)})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		it := h.pop()
		it.Eligible = it.Eligible.Add(time.Millisecond)
		h.push(it)
	}
}
