//go:build linux

package connector

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/koder-ua/network-ping-test/selector"
)

func listen(t *testing.T) (net.Listener, int) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	t.Cleanup(func() {
		l.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	return l, l.Addr().(*net.TCPAddr).Port
}

func TestConnectAll(t *testing.T) {
	_, port := listen(t)
	target, err := Resolve("127.0.0.1", port)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []selector.Kind{selector.Epoll, selector.Poll} {
		sink := &selector.StatsSink{}
		socks, err := Connect(context.Background(), target, 10, Config{
			Window:   3,
			Timeout:  time.Second,
			Selector: k,
			Sink:     sink,
		})
		if err != nil {
			t.Fatal(k, ": ", err)
		}
		if len(socks) != 10 {
			t.Error("Expected 10 sockets, got ", len(socks))
		}
		seen := map[int]bool{}
		for _, fd := range socks {
			if seen[fd] {
				t.Error("Duplicate descriptor ", fd)
			}
			seen[fd] = true
			if nd, err := unix.GetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY); err != nil || nd == 0 {
				t.Error("TCP_NODELAY not set on ", fd)
			}
		}
		if sink.Summary().Waits == 0 {
			t.Error("Sink saw no waits")
		}
		if err := socks.Close(); err != nil {
			t.Error("Close: ", err)
		}
	}
}

func TestConnectLocalAddr(t *testing.T) {
	_, port := listen(t)
	target, _ := Resolve("127.0.0.1", port)
	socks, err := Connect(context.Background(), target, 2, Config{
		LocalAddrs: []net.IP{net.ParseIP("127.0.0.1")},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer socks.Close()
	for _, fd := range socks {
		sa, err := unix.Getsockname(fd)
		if err != nil {
			t.Fatal(err)
		}
		if in4, ok := sa.(*unix.SockaddrInet4); !ok || in4.Addr != [4]byte{127, 0, 0, 1} {
			t.Error("Socket not bound to the local address: ", SockaddrString(sa))
		}
	}
}

func TestConnectRefused(t *testing.T) {
	l, port := listen(t)
	l.Close()
	target, _ := Resolve("127.0.0.1", port)

	socks, err := Connect(context.Background(), target, 4, Config{Window: 2, Timeout: time.Second})
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Fatal("Expected ConnectionError, got ", err)
	}
	if ce.Established != 0 || len(socks) != 0 {
		t.Error("Refused target should establish nothing: ", ce.Established, len(socks))
	}
}

func TestConnectCancelled(t *testing.T) {
	_, port := listen(t)
	target, _ := Resolve("127.0.0.1", port)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Connect(ctx, target, 1, Config{})
	if !errors.Is(err, context.Canceled) {
		t.Error("Expected context.Canceled, got ", err)
	}
}

func TestResolve(t *testing.T) {
	sa, err := Resolve("127.0.0.1", 9000)
	if err != nil {
		t.Fatal(err)
	}
	if s := SockaddrString(sa); s != "127.0.0.1:9000" {
		t.Error("Incorrect address: ", s)
	}

	var re *ResolutionError
	if _, err := Resolve("127.0.0.1", 0); !errors.As(err, &re) {
		t.Error("Expected ResolutionError for port 0, got ", err)
	}
	if _, err := Resolve("host.invalid", 9000); !errors.As(err, &re) {
		t.Error("Expected ResolutionError for an unresolvable host, got ", err)
	}
}
