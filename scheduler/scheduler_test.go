//go:build linux

package scheduler

import (
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/koder-ua/network-ping-test/common"
	"github.com/koder-ua/network-ping-test/selector"
)

func TestDelayHeapOrder(t *testing.T) {
	var h delayHeap
	base := time.Now()
	for i := 0; i < 100; i++ {
		h.push(FdTimeout{Fd: i, Eligible: base.Add(time.Duration(rand.IntN(1000)) * time.Microsecond)})
	}
	prev := time.Time{}
	for h.Len() > 0 {
		it := h.pop()
		if it.Eligible.Before(prev) {
			t.Fatal("Heap popped out of order: ", it.Eligible, prev)
		}
		prev = it.Eligible
	}

	h.push(FdTimeout{Fd: 1, Eligible: base})
	h.push(FdTimeout{Fd: 2, Eligible: base.Add(time.Hour)})
	h.push(FdTimeout{Fd: 3, Eligible: base.Add(-time.Second)})
	due := h.popDue(base, nil)
	if len(due) != 2 || due[0] != 3 || due[1] != 1 {
		t.Error("Incorrect due set: ", due)
	}
	if h.Len() != 1 {
		t.Error("Future entry should stay parked")
	}
}

func TestGate(t *testing.T) {
	g := NewGate()
	done := make(chan struct{})
	go func() {
		g.enter()
		g.exit()
		close(done)
	}()

	for g.Registered() != 1 {
		time.Sleep(time.Millisecond)
	}
	select {
	case <-done:
		t.Fatal("Worker passed a closed gate")
	case <-time.After(10 * time.Millisecond):
	}
	g.Release()
	g.Release()
	<-done
	if g.Active() != 0 || g.Registered() != 1 {
		t.Error("Incorrect counters: ", g.Active(), g.Registered())
	}
	if g.Stopping() {
		t.Error("Gate should not be stopping")
	}
	g.Stop()
	if !g.Stopping() {
		t.Error("Gate should be stopping")
	}
}

// echoPeer answers every whole message on a blocking socket and records
// when each request arrived and when its reply was started.
type echoPeer struct {
	fd   int
	mu   sync.Mutex
	sent []time.Time
	recv []time.Time
	done chan struct{}
}

func startEcho(fd, size int) *echoPeer {
	e := &echoPeer{fd: fd, done: make(chan struct{})}
	go func() {
		defer close(e.done)
		buf := make([]byte, size)
		for {
			for got := 0; got < size; {
				n, err := unix.Read(fd, buf[got:])
				if err != nil || n == 0 {
					return
				}
				got += n
			}
			now := time.Now()
			e.mu.Lock()
			e.recv = append(e.recv, now)
			e.sent = append(e.sent, now)
			e.mu.Unlock()
			if _, err := unix.Write(fd, buf); err != nil {
				return
			}
		}
	}()
	return e
}

type shard struct {
	worker []int
	peers  []*echoPeer
}

func newShard(t *testing.T, n, size int) *shard {
	s := &shard{}
	for i := 0; i < n; i++ {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			t.Fatal(err)
		}
		if err := unix.SetNonblock(fds[0], true); err != nil {
			t.Fatal(err)
		}
		s.worker = append(s.worker, fds[0])
		s.peers = append(s.peers, startEcho(fds[1], size))
	}
	t.Cleanup(func() {
		for i, p := range s.peers {
			unix.Shutdown(p.fd, unix.SHUT_RDWR)
			<-p.done
			unix.Close(p.fd)
			unix.Close(s.worker[i])
		}
	})
	return s
}

func runWorker(t *testing.T, kind selector.Kind, fds []int, p common.TestParams, d time.Duration) *common.TestResult {
	sel, err := selector.New(kind, len(fds)+1, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sel.Close()

	g := NewGate()
	w := NewWorker(0, sel, fds, p, g)
	type out struct {
		r   *common.TestResult
		err error
	}
	ch := make(chan out, 1)
	go func() {
		r, err := w.Run()
		ch <- out{r, err}
	}()

	for g.Registered() != 1 {
		time.Sleep(time.Millisecond)
	}
	payload := make([]byte, p.MessageLen)
	for _, fd := range fds {
		// A dead peer shows up as a fault inside the worker.
		unix.Write(fd, payload)
	}
	g.Release()
	time.Sleep(d)
	g.Stop()

	select {
	case o := <-ch:
		if o.err != nil {
			t.Fatal(o.err)
		}
		if g.Active() != 0 {
			t.Error("Worker still active after exit")
		}
		return o.r
	case <-time.After(2 * FallbackWait):
		t.Fatal("Worker did not observe the stopping flag")
	}
	return nil
}

func TestWorkerPingPong(t *testing.T) {
	for _, k := range []selector.Kind{selector.Epoll, selector.Poll} {
		s := newShard(t, 4, 64)
		r := runWorker(t, k, s.worker, common.TestParams{MessageLen: 64}, 200*time.Millisecond)
		if r.Messages == 0 {
			t.Fatal(k, ": no messages")
		}
		if len(r.PerSocket) != 4 {
			t.Error(k, ": expected all sockets to reply, got ", r.PerSocket)
		}
		var samples, replies uint64
		for _, c := range r.Latency {
			samples += c
		}
		for _, c := range r.PerSocket {
			replies += c
		}
		if samples == 0 {
			t.Error(k, ": no latency samples")
		}
		// The first arrival on each socket has no prior send to measure.
		if samples > r.Messages || r.Messages-samples > 4 {
			t.Error(k, ": samples ", samples, " inconsistent with messages ", r.Messages)
		}
		if replies > r.Messages {
			t.Error(k, ": more replies than arrivals: ", replies, r.Messages)
		}
		if r.Faults != 0 {
			t.Error(k, ": unexpected faults: ", r.Faults)
		}
	}
}

func TestWorkerRespectsMinDelay(t *testing.T) {
	const minDelay = 15 * time.Millisecond
	for _, k := range []selector.Kind{selector.Epoll, selector.Poll} {
		s := newShard(t, 3, 32)
		p := common.TestParams{MessageLen: 32, MinDelay: minDelay, MaxDelay: 25 * time.Millisecond}
		r := runWorker(t, k, s.worker, p, 300*time.Millisecond)
		if r.Messages < 3 {
			t.Fatal(k, ": too few messages: ", r.Messages)
		}

		for _, peer := range s.peers {
			peer.mu.Lock()
			// A request can only follow the previous reply after the delay.
			for i := 1; i < len(peer.recv) && i-1 < len(peer.sent); i++ {
				if gap := peer.recv[i].Sub(peer.sent[i-1]); gap < minDelay {
					t.Errorf("%v: request %d sent %v after the reply", k, i, gap)
				}
			}
			if len(peer.recv) < 3 {
				t.Errorf("%v: socket served only %d times", k, len(peer.recv))
			}
			peer.mu.Unlock()
		}
	}
}

func TestWorkerDropsFailedSocket(t *testing.T) {
	s := newShard(t, 3, 16)
	// Kill one peer before the test starts.
	unix.Shutdown(s.peers[0].fd, unix.SHUT_RDWR)

	r := runWorker(t, selector.Epoll, s.worker, common.TestParams{MessageLen: 16}, 150*time.Millisecond)
	if r.Faults != 1 {
		t.Error("Expected one fault, got ", r.Faults)
	}
	if r.PerSocket[s.worker[0]] != 0 {
		t.Error("Dead socket should not complete replies")
	}
	if r.PerSocket[s.worker[1]] == 0 || r.PerSocket[s.worker[2]] == 0 {
		t.Error("Surviving sockets should keep running: ", r.PerSocket)
	}
}

func TestDelayDraw(t *testing.T) {
	w := NewWorker(1, nil, nil, common.TestParams{MinDelay: 5, MaxDelay: 9}, NewGate())
	for i := 0; i < 1000; i++ {
		if d := w.delay(); d < 5 || d > 9 {
			t.Fatal("Delay out of range: ", d)
		}
	}
	w.params.MaxDelay = 5
	if d := w.delay(); d != 5 {
		t.Error("Fixed delay expected, got ", d)
	}
}

func TestDelayDrawFullRange(t *testing.T) {
	w := NewWorker(1, nil, nil, common.TestParams{MaxDelay: math.MaxInt64}, NewGate())
	for i := 0; i < 1000; i++ {
		if d := w.delay(); d < 0 {
			t.Fatal("Negative delay: ", d)
		}
	}
}
