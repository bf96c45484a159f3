//go:build linux

// Package scheduler runs the ping-pong loop over one shard of sockets.
package scheduler

import (
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"

	"github.com/koder-ua/network-ping-test/common"
	"github.com/koder-ua/network-ping-test/selector"
)

// FallbackWait bounds a wait with no pending timers, so the stopping
// flag is still observed.
const FallbackWait = 100 * time.Millisecond

// Worker owns a selector and a shard of sockets. Nothing in it is shared
// except the Gate.
type Worker struct {
	id     int
	sel    selector.Selector
	fds    []int
	params common.TestParams
	gate   *Gate
	rng    *rand.Rand
	buf    []byte

	lastSend map[int]time.Time
	delays   delayHeap
	parked   map[int]bool
	dead     map[int]bool
	result   *common.TestResult
}

func NewWorker(id int, sel selector.Selector, fds []int, p common.TestParams, g *Gate) *Worker {
	seed := uint64(time.Now().UnixNano())
	return &Worker{
		id:       id,
		sel:      sel,
		fds:      fds,
		params:   p,
		gate:     g,
		rng:      rand.New(rand.NewPCG(seed, uint64(id))),
		buf:      make([]byte, p.MessageLen),
		lastSend: make(map[int]time.Time, len(fds)),
		parked:   map[int]bool{},
		dead:     map[int]bool{},
		result:   common.NewTestResult(),
	}
}

// Run registers the shard, waits at the start barrier and serves sockets
// until the gate is stopped. An error means the selector itself failed;
// no result is returned then.
func (w *Worker) Run() (*common.TestResult, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for _, fd := range w.fds {
		if err := w.sel.Register(fd, selector.Readable); err != nil {
			glog.Warningf("Worker %d: %v", w.id, err)
			w.dead[fd] = true
			w.result.Faults++
		}
	}

	w.gate.enter()
	defer w.gate.exit()

	if err := w.loop(); err != nil {
		glog.Errorf("Worker %d stopped: %v", w.id, err)
		return nil, err
	}
	if glog.V(1) {
		glog.Infof("Worker %d: %d messages on %d sockets, %d faults",
			w.id, w.result.Messages, len(w.fds), w.result.Faults)
	}
	return w.result, nil
}

func (w *Worker) loop() error {
	var ready []int
	for {
		timeout := FallbackWait
		if w.delays.Len() > 0 {
			timeout = time.Until(w.delays.top().Eligible)
			if timeout < 0 {
				timeout = 0
			}
		}

		if err := w.sel.Wait(timeout); err != nil {
			return err
		}
		if w.gate.Stopping() {
			return nil
		}

		now := time.Now()
		ready = ready[:0]
		arrived := 0
		for ev, ok := w.sel.Next(); ok; ev, ok = w.sel.Next() {
			if ev.Failed() {
				w.fault(ev.Fd, nil)
				continue
			}
			arrived++
			if last, ok := w.lastSend[ev.Fd]; ok {
				w.result.AddLatency(now.Sub(last))
			}
			if !w.params.HasDelay() {
				ready = append(ready, ev.Fd)
				continue
			}
			w.delays.push(FdTimeout{Fd: ev.Fd, Eligible: now.Add(w.delay())})
			if !w.sel.EdgeTriggered() {
				if err := w.sel.RemoveCurrent(); err != nil {
					w.fault(ev.Fd, err)
					continue
				}
				w.parked[ev.Fd] = true
			}
		}
		w.result.Messages += uint64(arrived)

		ready = w.delays.popDue(time.Now(), ready)
		for _, fd := range ready {
			if !w.dead[fd] {
				w.roundTrip(fd)
			}
		}
	}
}

func (w *Worker) delay() time.Duration {
	lo, hi := w.params.MinDelay, w.params.MaxDelay
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(w.rng.Uint64N(uint64(hi-lo)+1))
}

// roundTrip reads one whole message and echoes it back.
func (w *Worker) roundTrip(fd int) {
	n, err := unix.Read(fd, w.buf)
	if err != nil || n != len(w.buf) {
		w.fault(fd, shortIO(n, err))
		return
	}
	n, err = unix.Write(fd, w.buf)
	if err != nil || n != len(w.buf) {
		w.fault(fd, shortIO(n, err))
		return
	}
	w.lastSend[fd] = time.Now()
	w.result.PerSocket[fd]++

	if w.parked[fd] {
		delete(w.parked, fd)
		if err := w.sel.Register(fd, selector.Readable); err != nil {
			w.fault(fd, err)
		}
	}
}

// fault drops a socket for the rest of the test. The descriptor stays
// open; the orchestrator closes the whole shard.
func (w *Worker) fault(fd int, err error) {
	if w.dead[fd] {
		return
	}
	w.dead[fd] = true
	w.result.Faults++
	delete(w.lastSend, fd)
	if !w.parked[fd] {
		w.sel.Deregister(fd)
	}
	delete(w.parked, fd)
	if glog.V(2) {
		glog.Infof("Worker %d: dropping fd %d: %v", w.id, fd, err)
	}
}

func shortIO(n int, err error) error {
	if err != nil {
		return err
	}
	if n == 0 {
		return unix.ECONNRESET
	}
	return unix.EMSGSIZE
}
