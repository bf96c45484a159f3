package selector

import (
	"sync"

	"github.com/GaryBoone/GoStats/stats"
)

// Sink observes every completed Wait: how many fds were ready and how
// many calls into the facility it took.
type Sink interface {
	Waited(ready, polls int)
}

type NopSink struct{}

func (NopSink) Waited(int, int) {}

// MultiSink fans out to each non-nil sink in order.
type MultiSink []Sink

func (m MultiSink) Waited(ready, polls int) {
	for _, s := range m {
		if s != nil {
			s.Waited(ready, polls)
		}
	}
}

// StatsSink accumulates wait statistics. Ready counts only cover waits
// that returned events. Safe for use by several selectors.
type StatsSink struct {
	mu    sync.Mutex
	ready stats.Stats
	polls stats.Stats
	empty int
}

func (s *StatsSink) Waited(ready, polls int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.polls.Update(float64(polls))
	if ready == 0 {
		s.empty++
		return
	}
	s.ready.Update(float64(ready))
}

type WaitSummary struct {
	Waits      int
	EmptyWaits int
	AvgReady   float64
	AvgPolls   float64
}

func (s *StatsSink) Summary() WaitSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := WaitSummary{
		Waits:      s.polls.Count(),
		EmptyWaits: s.empty,
	}
	if s.ready.Count() != 0 {
		sum.AvgReady = s.ready.Mean()
	}
	if s.polls.Count() != 0 {
		sum.AvgPolls = s.polls.Mean()
	}
	return sum
}

func (s *StatsSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = stats.Stats{}
	s.polls = stats.Stats{}
	s.empty = 0
}
