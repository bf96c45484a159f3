package common

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	// MaxRequestLen is the size of the control connection input buffer.
	// A request line that fills it is rejected.
	MaxRequestLen = 1024

	// MaxMessageLen bounds the ping payload size.
	MaxMessageLen = 1 << 20

	// MaxRuntime and MaxDelay bound the request's durations.
	MaxRuntime = 7 * 24 * time.Hour
	MaxDelay   = time.Hour

	// PercentileCount is the number of fairness percentiles reported.
	PercentileCount = 19
)

type (
	// TestParams is one test request, as received on the
	// control connection.
	TestParams struct {
		Host        string
		Port        int
		Connections int
		Runtime     time.Duration

		// Inter-message delay range. Both zero means the socket is
		// pinged again as soon as its reply arrives.
		MinDelay time.Duration
		MaxDelay time.Duration

		MessageLen int
	}

	// TestResult is the partial result of one worker. It is owned by
	// that worker until the worker returns.
	TestResult struct {
		// Messages counts inbound readiness events.
		Messages uint64
		// Latency maps a histogram bucket index to its sample count.
		Latency map[int]uint64
		// PerSocket counts completed replies for each socket.
		PerSocket map[int]uint64
		// Faults counts sockets dropped after a read or write failure.
		Faults int
	}

	// Fairness describes how the per-socket reply counts are spread.
	Fairness struct {
		Sockets int
		Min     float64
		Max     float64
		Mean    float64
		StdDev  float64
	}

	// Report is the merged result of a test.
	Report struct {
		Messages    uint64
		AvgLatency  Duration
		Base        float64
		Latency     map[int]uint64
		Percentiles []uint64

		// Fairness is logged, it is not part of the wire format.
		Fairness Fairness `json:"-"`
	}
)

func NewTestResult() *TestResult {
	return &TestResult{
		Latency:   map[int]uint64{},
		PerSocket: map[int]uint64{},
	}
}

// AddLatency files one round-trip sample into the histogram.
func (r *TestResult) AddLatency(d time.Duration) {
	r.Latency[BucketIndex(d)]++
}

// HasDelay reports whether sockets wait between messages.
func (p TestParams) HasDelay() bool {
	return p.MinDelay != 0 || p.MaxDelay != 0
}

// Address returns the target as a host:port string.
func (p TestParams) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// String formats the parameters as a control request line.
func (p TestParams) String() string {
	return fmt.Sprintf("%s %d %d %d %d %d %d",
		p.Host, p.Port, p.Connections, int64(p.Runtime/time.Second),
		p.MinDelay.Nanoseconds(), p.MaxDelay.Nanoseconds(), p.MessageLen)
}

// MessagesPerSecond is the average message rate over the run.
func (r *Report) MessagesPerSecond(runtime time.Duration) float64 {
	if runtime <= 0 {
		return 0
	}
	return float64(r.Messages) / runtime.Seconds()
}
