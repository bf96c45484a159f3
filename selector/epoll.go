//go:build linux

package selector

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollSelector is the edge-triggered variant.
type epollSelector struct {
	efd    int
	events []unix.EpollEvent
	ready  int
	cur    int
	last   int
	sink   Sink
}

func newEpoll(capacity int, sink Sink) (*epollSelector, error) {
	efd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, &WaitError{Err: err}
	}
	return &epollSelector{
		efd:    efd,
		events: make([]unix.EpollEvent, capacity),
		last:   -1,
		sink:   sink,
	}, nil
}

func (s *epollSelector) Register(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: unix.EPOLLET, Fd: int32(fd)}
	if interest&Readable != 0 {
		ev.Events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&Writable != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	if err := unix.EpollCtl(s.efd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return &RegistrationError{Fd: fd, Err: err}
	}
	return nil
}

func (s *epollSelector) Deregister(fd int) error {
	return unix.EpollCtl(s.efd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (s *epollSelector) Wait(timeout time.Duration) error {
	s.ready, s.cur, s.last = 0, 0, -1
	n, calls, err := waitLoop(timeout, func(msec int) (int, error) {
		return unix.EpollWait(s.efd, s.events, msec)
	})
	s.sink.Waited(n, calls)
	if err != nil {
		return &WaitError{Err: err}
	}
	s.ready = n
	return nil
}

func (s *epollSelector) Next() (Event, bool) {
	if s.cur >= s.ready {
		return Event{}, false
	}
	ev := s.events[s.cur]
	s.cur++
	s.last = int(ev.Fd)
	return Event{Fd: int(ev.Fd), Flags: epollFlags(ev.Events)}, true
}

func (s *epollSelector) RemoveCurrent() error {
	if s.last < 0 {
		return ErrNoCurrent
	}
	fd := s.last
	s.last = -1
	return s.Deregister(fd)
}

func (s *epollSelector) EdgeTriggered() bool { return true }

func (s *epollSelector) Close() error {
	if s.efd < 0 {
		return nil
	}
	err := unix.Close(s.efd)
	s.efd = -1
	return err
}

func epollFlags(ev uint32) uint32 {
	var f uint32
	if ev&unix.EPOLLIN != 0 {
		f |= FlagReadable
	}
	if ev&unix.EPOLLOUT != 0 {
		f |= FlagWritable
	}
	if ev&unix.EPOLLERR != 0 {
		f |= FlagError
	}
	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		f |= FlagHangup
	}
	return f
}
