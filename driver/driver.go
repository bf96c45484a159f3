//go:build linux

// Package driver runs one ping-pong test at a time: it connects, shards
// the sockets across workers, releases them together, stops them after
// the requested runtime and merges their results.
package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/opentracing/opentracing-go"
	otlog "github.com/opentracing/opentracing-go/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/koder-ua/network-ping-test/bench"
	"github.com/koder-ua/network-ping-test/common"
	"github.com/koder-ua/network-ping-test/connector"
	"github.com/koder-ua/network-ping-test/scheduler"
	"github.com/koder-ua/network-ping-test/selector"
)

const (
	DefaultSettle = time.Second

	// Orchestrator polling step while workers run.
	runStep = 10 * time.Millisecond

	// Filler byte of the initial payload.
	payloadByte = 'X'
)

type State int32

const (
	Idle State = iota
	Connecting
	AwaitingStart
	Running
	Draining
	Reporting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case AwaitingStart:
		return "awaiting-start-barrier"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Reporting:
		return "reporting"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Recorder receives test lifecycle updates.
type Recorder interface {
	SetState(state string)
	TestFinished(r *common.Report, runtime time.Duration)
	TestFailed(reason string)
}

type Config struct {
	// Workers caps the worker count; zero means one per CPU core.
	Workers        int
	Window         int
	ConnectTimeout time.Duration
	// Settle is the pause between connecting and the first message, so
	// the responder can accept its whole backlog.
	Settle     time.Duration
	LocalAddrs []net.IP
	Selector   selector.Kind
	Sink       selector.Sink
	Tracer     opentracing.Tracer
	Recorder   Recorder
}

type Driver struct {
	cfg   Config
	mu    sync.Mutex
	state atomic.Int32
	gate  atomic.Pointer[scheduler.Gate]
	waits selector.StatsSink
}

func New(cfg Config) *Driver {
	if cfg.Workers <= 0 {
		cfg.Workers = bench.DefaultWorkerCount()
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	}
	return &Driver{cfg: cfg}
}

func (d *Driver) State() State { return State(d.state.Load()) }

// Active reports how many workers of the current test are inside their
// round-trip loop. It is zero between tests.
func (d *Driver) Active() int {
	if g := d.gate.Load(); g != nil {
		return g.Active()
	}
	return 0
}

func (d *Driver) setState(s State) {
	d.state.Store(int32(s))
	if d.cfg.Recorder != nil {
		d.cfg.Recorder.SetState(s.String())
	}
	if glog.V(1) {
		glog.Infof("State: %v", s)
	}
}

func (d *Driver) tracer() opentracing.Tracer {
	if d.cfg.Tracer != nil {
		return d.cfg.Tracer
	}
	return opentracing.GlobalTracer()
}

// Run executes one test. Concurrent calls are serialized.
func (d *Driver) Run(ctx context.Context, p common.TestParams) (*common.Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.setState(Idle)

	span := d.tracer().StartSpan("pingload.test")
	defer span.Finish()
	span.SetTag("target", p.Address())
	span.SetTag("connections", p.Connections)
	span.SetTag("runtime", p.Runtime.String())
	span.SetTag("delay.min", p.MinDelay.String())
	span.SetTag("delay.max", p.MaxDelay.String())
	span.SetTag("message.len", p.MessageLen)
	ctx = opentracing.ContextWithSpan(ctx, span)

	report, elapsed, err := d.run(ctx, span, p)
	if err != nil {
		span.SetTag("error", true)
		span.LogFields(otlog.String("event", "error"), otlog.Error(err))
		if d.cfg.Recorder != nil {
			d.cfg.Recorder.TestFailed(failureReason(err))
		}
		return nil, err
	}
	span.SetTag("messages", report.Messages)
	if d.cfg.Recorder != nil {
		d.cfg.Recorder.TestFinished(report, elapsed)
	}
	return report, nil
}

func (d *Driver) run(ctx context.Context, span opentracing.Span, p common.TestParams) (*common.Report, time.Duration, error) {
	d.setState(Connecting)
	target, err := connector.Resolve(p.Host, p.Port)
	if err != nil {
		return nil, 0, err
	}

	d.waits.Reset()
	sink := selector.MultiSink{&d.waits, d.cfg.Sink}

	socks, err := connector.Connect(ctx, target, p.Connections, connector.Config{
		Window:     d.cfg.Window,
		Timeout:    d.cfg.ConnectTimeout,
		LocalAddrs: d.cfg.LocalAddrs,
		Selector:   d.cfg.Selector,
		Sink:       sink,
	})
	defer socks.Close()
	if err != nil {
		return nil, 0, err
	}
	glog.Infof("Connected %d sockets to %s", len(socks), connector.SockaddrString(target))
	span.LogFields(otlog.String("event", "connected"), otlog.Int("sockets", len(socks)))

	if err := sleepCtx(ctx, d.cfg.Settle); err != nil {
		return nil, 0, err
	}

	shards := shard(socks, min(d.cfg.Workers, len(socks)))
	sels := make([]selector.Selector, 0, len(shards))
	defer func() {
		for _, s := range sels {
			s.Close()
		}
	}()
	for _, sh := range shards {
		sel, err := selector.New(d.cfg.Selector, len(sh)+1, sink)
		if err != nil {
			return nil, 0, err
		}
		sels = append(sels, sel)
	}

	d.setState(AwaitingStart)
	gate := scheduler.NewGate()
	d.gate.Store(gate)
	defer d.gate.Store(nil)
	results := make([]*common.TestResult, len(shards))
	var g errgroup.Group
	for i, sh := range shards {
		w := scheduler.NewWorker(i, sels[i], sh, p, gate)
		g.Go(func() error {
			r, err := w.Run()
			results[i] = r
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			return nil
		})
	}

	payload := bytes.Repeat([]byte{payloadByte}, p.MessageLen)
	for _, fd := range socks {
		if n, err := unix.Write(fd, payload); err != nil || n != len(payload) {
			glog.Warningf("Initial write on fd %d: %d bytes, %v", fd, n, err)
		}
	}

	for gate.Registered() < len(shards) {
		time.Sleep(time.Millisecond)
	}

	startUsage := bench.GetSelfUsage()
	start := time.Now()
	gate.Release()
	d.setState(Running)
	span.LogFields(otlog.String("event", "started"), otlog.Int("workers", len(shards)))

	deadline := start.Add(p.Runtime)
	tick := time.NewTicker(runStep)
run:
	for time.Now().Before(deadline) {
		if gate.Active() == 0 {
			glog.Warning("All workers exited early")
			break
		}
		select {
		case <-ctx.Done():
			break run
		case <-tick.C:
		}
	}
	tick.Stop()

	d.setState(Draining)
	gate.Stop()
	if err := g.Wait(); err != nil {
		glog.Errorf("Aggregating surviving workers: %v", err)
	}
	elapsed := time.Since(start)
	usage := bench.Since(startUsage)
	span.LogFields(otlog.String("event", "stopped"), otlog.String("elapsed", elapsed.String()))

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	d.setState(Reporting)
	report := common.Merge(results, common.PercentileCount)
	d.logSummary(report, results, elapsed, usage)
	return report, elapsed, nil
}

// shard deals sockets to n workers round-robin.
func shard(socks connector.Sockets, n int) [][]int {
	if n <= 0 {
		return nil
	}
	out := make([][]int, n)
	for i, fd := range socks {
		out[i%n] = append(out[i%n], fd)
	}
	return out
}

func (d *Driver) logSummary(r *common.Report, parts []*common.TestResult, elapsed time.Duration, usage common.Timing) {
	faults := 0
	for _, p := range parts {
		if p != nil {
			faults += p.Faults
		}
	}
	glog.Infof("Messages: %d, %.0f msg/s, avg latency %dus, %d faults",
		r.Messages, r.MessagesPerSecond(elapsed), r.AvgLatency.Microseconds(), faults)
	if n := len(r.Percentiles); n > 0 {
		glog.Infof("Per-socket replies: 5%% %d, 95%% %d, min %.0f, max %.0f, stddev %.1f over %d sockets",
			r.Percentiles[0], r.Percentiles[n-1], r.Fairness.Min, r.Fairness.Max,
			r.Fairness.StdDev, r.Fairness.Sockets)
	}
	w := d.waits.Summary()
	glog.Infof("Selector: %d waits, %d empty, %.2f ready per wait, %.2f polls per wait",
		w.Waits, w.EmptyWaits, w.AvgReady, w.AvgPolls)
	glog.Infof("CPU: %v, load %.2f", usage, usage.Load())
}

func failureReason(err error) string {
	var (
		re *connector.ResolutionError
		ce *connector.ConnectionError
		we *selector.WaitError
	)
	switch {
	case errors.As(err, &re):
		return "resolve"
	case errors.As(err, &ce):
		return "connect"
	case errors.As(err, &we):
		return "selector"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "error"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
