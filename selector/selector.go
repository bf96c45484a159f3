//go:build linux

// Package selector turns a readiness-notification facility into an
// iterable ready set with sub-millisecond wait deadlines.
//
// A Selector is owned by a single goroutine. The ready set returned by
// Next is valid only until the following Wait.
package selector

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Interest selects which readiness conditions a registration reports.
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
)

// Event flags, translated from the facility's native bits.
const (
	FlagReadable uint32 = 1 << iota
	FlagWritable
	FlagError
	FlagHangup
)

// Infinite blocks Wait until an event arrives.
const Infinite time.Duration = -1

type Event struct {
	Fd    int
	Flags uint32
}

func (e Event) Readable() bool { return e.Flags&FlagReadable != 0 }
func (e Event) Writable() bool { return e.Flags&FlagWritable != 0 }

// Failed reports an error or hangup without pending input.
func (e Event) Failed() bool {
	return e.Flags&(FlagError|FlagHangup) != 0 && !e.Readable()
}

type Selector interface {
	// Register adds fd to the registration set.
	Register(fd int, interest Interest) error
	// Deregister removes fd from the registration set.
	Deregister(fd int) error
	// Wait blocks until a registered fd is ready or timeout elapses.
	// A negative timeout blocks indefinitely. Interrupted waits are
	// retried.
	Wait(timeout time.Duration) error
	// Next yields the next ready fd, or false once the ready set is
	// exhausted.
	Next() (Event, bool)
	// RemoveCurrent deregisters the fd most recently yielded by Next.
	RemoveCurrent() error
	// EdgeTriggered reports whether readiness is reported once per
	// transition rather than while the condition holds.
	EdgeTriggered() bool
	Close() error
}

type Kind int

const (
	Epoll Kind = iota
	Poll
)

func (k Kind) String() string {
	switch k {
	case Epoll:
		return "epoll"
	case Poll:
		return "poll"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "epoll", "":
		return Epoll, nil
	case "poll":
		return Poll, nil
	}
	return 0, fmt.Errorf("unknown selector %q", s)
}

// New creates a selector able to report up to capacity ready fds per
// Wait. A nil sink is replaced by NopSink.
func New(kind Kind, capacity int, sink Sink) (Selector, error) {
	if sink == nil {
		sink = NopSink{}
	}
	if capacity < 1 {
		capacity = 1
	}
	switch kind {
	case Epoll:
		s, err := newEpoll(capacity, sink)
		if err != nil {
			return nil, err
		}
		return s, nil
	case Poll:
		return newPoll(capacity, sink), nil
	}
	return nil, fmt.Errorf("unknown selector %v", kind)
}

var ErrNoCurrent = errors.New("selector: no current event")

// RegistrationError is returned when the facility rejects a descriptor.
type RegistrationError struct {
	Fd  int
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("selector: register fd %d: %v", e.Fd, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// WaitError is an unrecoverable failure of the readiness facility.
type WaitError struct {
	Err error
}

func (e *WaitError) Error() string {
	return fmt.Sprintf("selector: wait: %v", e.Err)
}

func (e *WaitError) Unwrap() error { return e.Err }
