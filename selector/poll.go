//go:build linux

package selector

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollSelector is the level-triggered variant. Slots of deregistered fds
// are kept with a negative fd, which the kernel ignores, and reused by
// later registrations.
type pollSelector struct {
	fds      []unix.PollFd
	slots    map[int]int
	free     []int
	capacity int
	cur      int
	last     int
	sink     Sink
}

func newPoll(capacity int, sink Sink) *pollSelector {
	return &pollSelector{
		fds:      make([]unix.PollFd, 0, capacity),
		slots:    make(map[int]int, capacity),
		capacity: capacity,
		last:     -1,
		sink:     sink,
	}
}

func (s *pollSelector) Register(fd int, interest Interest) error {
	if fd < 0 {
		return &RegistrationError{Fd: fd, Err: unix.EBADF}
	}
	if _, ok := s.slots[fd]; ok {
		return &RegistrationError{Fd: fd, Err: unix.EEXIST}
	}

	pfd := unix.PollFd{Fd: int32(fd)}
	if interest&Readable != 0 {
		pfd.Events |= unix.POLLIN | unix.POLLRDHUP
	}
	if interest&Writable != 0 {
		pfd.Events |= unix.POLLOUT
	}

	switch {
	case len(s.free) > 0:
		idx := s.free[len(s.free)-1]
		s.free = s.free[:len(s.free)-1]
		s.fds[idx] = pfd
		s.slots[fd] = idx
	case len(s.fds) < s.capacity:
		s.slots[fd] = len(s.fds)
		s.fds = append(s.fds, pfd)
	default:
		return &RegistrationError{Fd: fd, Err: unix.ENOSPC}
	}
	return nil
}

func (s *pollSelector) Deregister(fd int) error {
	idx, ok := s.slots[fd]
	if !ok {
		return unix.ENOENT
	}
	delete(s.slots, fd)
	s.fds[idx] = unix.PollFd{Fd: -1}
	s.free = append(s.free, idx)
	return nil
}

func (s *pollSelector) Wait(timeout time.Duration) error {
	s.cur, s.last = len(s.fds), -1
	n, calls, err := waitLoop(timeout, func(msec int) (int, error) {
		return unix.Poll(s.fds, msec)
	})
	s.sink.Waited(n, calls)
	if err != nil {
		return &WaitError{Err: err}
	}
	s.cur = 0
	return nil
}

func (s *pollSelector) Next() (Event, bool) {
	for s.cur < len(s.fds) {
		pfd := s.fds[s.cur]
		s.cur++
		if pfd.Fd < 0 || pfd.Revents == 0 {
			continue
		}
		s.last = int(pfd.Fd)
		return Event{Fd: int(pfd.Fd), Flags: pollFlags(pfd.Revents)}, true
	}
	return Event{}, false
}

func (s *pollSelector) RemoveCurrent() error {
	if s.last < 0 {
		return ErrNoCurrent
	}
	fd := s.last
	s.last = -1
	return s.Deregister(fd)
}

func (s *pollSelector) EdgeTriggered() bool { return false }

func (s *pollSelector) Close() error {
	s.fds = s.fds[:0]
	s.free = s.free[:0]
	s.slots = map[int]int{}
	return nil
}

func pollFlags(ev int16) uint32 {
	var f uint32
	if ev&unix.POLLIN != 0 {
		f |= FlagReadable
	}
	if ev&unix.POLLOUT != 0 {
		f |= FlagWritable
	}
	if ev&(unix.POLLERR|unix.POLLNVAL) != 0 {
		f |= FlagError
	}
	if ev&(unix.POLLHUP|unix.POLLRDHUP) != 0 {
		f |= FlagHangup
	}
	return f
}
