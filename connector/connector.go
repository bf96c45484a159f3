//go:build linux

// Package connector opens large numbers of outbound TCP connections under
// an admission window, so a connection storm cannot outrun the kernel's
// handshake processing.
package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"

	"github.com/koder-ua/network-ping-test/selector"
)

const (
	DefaultWindow  = 64
	DefaultTimeout = time.Second
)

// ErrStalled reports a wait cycle in which no pending connection
// completed.
var ErrStalled = errors.New("no connection completed within timeout")

type Config struct {
	// Window bounds the number of connections mid-handshake at once.
	Window int
	// Timeout bounds each wait cycle. A cycle that completes nothing
	// fails the whole operation.
	Timeout time.Duration
	// LocalAddrs, when set, are bound round-robin as source addresses.
	LocalAddrs []net.IP
	Selector   selector.Kind
	Sink       selector.Sink
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

type ResolutionError struct {
	Host string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Host, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ConnectionError aborts the whole connect operation. Established counts
// the sockets handed back to the caller alongside the error.
type ConnectionError struct {
	Op          string
	Established int
	Err         error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect: %s after %d connections: %v", e.Op, e.Established, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Sockets are raw non-blocking descriptors in connection order.
type Sockets []int

// Close closes every descriptor and returns the first error.
func (s Sockets) Close() error {
	var first error
	for _, fd := range s {
		if err := unix.Close(fd); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Resolve turns host and port into a socket address, preferring IPv4.
func Resolve(host string, port int) (unix.Sockaddr, error) {
	if port <= 0 || port > 65535 {
		return nil, &ResolutionError{Host: host, Err: fmt.Errorf("invalid port %d", port)}
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, &ResolutionError{Host: host, Err: err}
	}
	for _, ip := range ips {
		if sa := sockaddr(ip, port); sa != nil {
			if _, ok := sa.(*unix.SockaddrInet4); ok {
				return sa, nil
			}
		}
	}
	for _, ip := range ips {
		if sa := sockaddr(ip, port); sa != nil {
			return sa, nil
		}
	}
	return nil, &ResolutionError{Host: host, Err: errors.New("no usable address")}
}

func sockaddr(ip net.IP, port int) unix.Sockaddr {
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa
	}
	if ip16 := ip.To16(); ip16 != nil {
		sa := &unix.SockaddrInet6{Port: port}
		copy(sa.Addr[:], ip16)
		return sa
	}
	return nil
}

// SockaddrString formats a socket address for logging.
func SockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	}
	return fmt.Sprintf("%v", sa)
}

func family(sa unix.Sockaddr) int {
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

// Connect establishes count connections to target. On failure the
// sockets established so far are returned with a *ConnectionError and
// belong to the caller; descriptors still mid-handshake are closed here.
func Connect(ctx context.Context, target unix.Sockaddr, count int, cfg Config) (Sockets, error) {
	cfg = cfg.withDefaults()

	var locals []unix.Sockaddr
	for _, ip := range cfg.LocalAddrs {
		if sa := sockaddr(ip, 0); sa != nil && family(sa) == family(target) {
			locals = append(locals, sa)
		}
	}
	if len(cfg.LocalAddrs) != 0 && len(locals) == 0 {
		return nil, &ConnectionError{Op: "bind", Err: errors.New("no local address matches the target family")}
	}

	sel, err := selector.New(cfg.Selector, cfg.Window, cfg.Sink)
	if err != nil {
		return nil, &ConnectionError{Op: "selector", Err: err}
	}
	defer sel.Close()

	established := make(Sockets, 0, count)
	pending := make(map[int]struct{}, cfg.Window)
	fail := func(op string, err error) (Sockets, error) {
		for fd := range pending {
			unix.Close(fd)
		}
		return established, &ConnectionError{Op: op, Established: len(established), Err: err}
	}

	nextLocal := 0
	for len(established) < count {
		if err := ctx.Err(); err != nil {
			return fail("connect", err)
		}

		for len(pending) < cfg.Window && len(established)+len(pending) < count {
			fd, err := unix.Socket(family(target), unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
			if err != nil {
				return fail("socket", err)
			}
			if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
				unix.Close(fd)
				return fail("setsockopt", err)
			}
			if len(locals) != 0 {
				err := unix.Bind(fd, locals[nextLocal%len(locals)])
				nextLocal++
				if err != nil {
					unix.Close(fd)
					return fail("bind", err)
				}
			}
			if err := unix.Connect(fd, target); err != nil && !errors.Is(err, unix.EINPROGRESS) {
				unix.Close(fd)
				return fail("connect", err)
			}
			pending[fd] = struct{}{}
			if err := sel.Register(fd, selector.Writable); err != nil {
				return fail("register", err)
			}
		}

		if err := sel.Wait(cfg.Timeout); err != nil {
			return fail("wait", err)
		}

		ready := 0
		for ev, ok := sel.Next(); ok; ev, ok = sel.Next() {
			ready++
			if err := sel.RemoveCurrent(); err != nil {
				return fail("deregister", err)
			}
			delete(pending, ev.Fd)
			if err := socketError(ev.Fd); err != nil {
				unix.Close(ev.Fd)
				return fail("connect", err)
			}
			if err := unix.SetsockoptInt(ev.Fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
				glog.Warningf("TCP_NODELAY on fd %d: %v", ev.Fd, err)
			}
			established = append(established, ev.Fd)
		}
		if ready == 0 {
			return fail("wait", ErrStalled)
		}
		if glog.V(2) {
			glog.Infof("Connected %d/%d, %d in flight", len(established), count, len(pending))
		}
	}
	return established, nil
}

func socketError(fd int) error {
	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if soerr != 0 {
		return unix.Errno(soerr)
	}
	return nil
}
