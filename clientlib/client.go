// Package clientlib submits tests to a running loader over its control
// protocol.
package clientlib

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/golang/glog"

	"github.com/koder-ua/network-ping-test/common"
)

const (
	DefaultDialTimeout = 5 * time.Second

	// DefaultGrace covers connecting, settling and draining on top of
	// the test runtime.
	DefaultGrace = 30 * time.Second
)

// ErrNoResponse means the loader closed the control connection without a
// report: the request was rejected or the test failed.
var ErrNoResponse = errors.New("loader closed the connection without a report")

type Client struct {
	Addr        string
	DialTimeout time.Duration
	Grace       time.Duration
}

func New(addr string) *Client {
	return &Client{Addr: addr, DialTimeout: DefaultDialTimeout, Grace: DefaultGrace}
}

// Run sends one test and waits for its report.
func (c *Client) Run(ctx context.Context, p common.TestParams) (*common.Report, error) {
	d := net.Dialer{Timeout: c.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.Addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetDeadline(time.Now().Add(p.Runtime + c.Grace))
	req := p.String() + "\n"
	if len(req) >= common.MaxRequestLen {
		return nil, &common.SpecError{Line: req[:32], Reason: "request too long"}
	}
	glog.V(1).Infof("Sending %q to %s", req, c.Addr)
	if _, err := io.WriteString(conn, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	b, err := io.ReadAll(conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read report: %w", err)
	}
	if len(b) == 0 {
		return nil, ErrNoResponse
	}
	return common.ParseReport(string(b))
}

// Run is a shorthand for New(addr).Run(ctx, p).
func Run(ctx context.Context, addr string, p common.TestParams) (*common.Report, error) {
	return New(addr).Run(ctx, p)
}
