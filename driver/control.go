//go:build linux

package driver

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/golang/glog"

	"github.com/koder-ua/network-ping-test/common"
)

const (
	ControlReadTimeout  = 5 * time.Second
	ControlWriteTimeout = 5 * time.Second
)

// ServeConn handles one control exchange: read a request line, run the
// test, write the response line. Malformed requests and failed tests
// close the connection without writing anything.
func (d *Driver) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr()

	conn.SetReadDeadline(time.Now().Add(ControlReadTimeout))
	line, err := readRequest(conn)
	if err != nil {
		glog.Warningf("Control read from %v: %v", remote, err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	p, err := common.ParseTestParams(line)
	if err != nil {
		glog.Warningf("Bad request from %v: %v", remote, err)
		if d.cfg.Recorder != nil {
			d.cfg.Recorder.TestFailed("request")
		}
		return
	}
	glog.Infof("Test from %v: %v", remote, p)

	report, err := d.Run(ctx, p)
	if err != nil {
		glog.Errorf("Test %v failed: %v", p, err)
		return
	}

	b, err := report.MarshalText()
	if err != nil {
		glog.Errorf("Encode report: %v", err)
		return
	}
	conn.SetWriteDeadline(time.Now().Add(ControlWriteTimeout))
	if _, err := conn.Write(b); err != nil {
		glog.Warningf("Control write to %v: %v", remote, err)
	}
}

// readRequest reads up to a newline, EOF or MaxRequestLen bytes,
// whichever comes first.
func readRequest(r io.Reader) (string, error) {
	buf := make([]byte, common.MaxRequestLen)
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if bytes.IndexByte(buf[n-m:n], '\n') >= 0 {
			break
		}
		if errors.Is(err, io.EOF) {
			if n == 0 {
				return "", io.ErrUnexpectedEOF
			}
			break
		}
		if err != nil {
			return "", err
		}
	}
	return string(buf[:n]), nil
}

// Serve accepts control connections and handles them one at a time
// until ctx is done or the listener fails.
func (d *Driver) Serve(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		d.ServeConn(ctx, conn)
	}
}

// ServeOne handles exactly one control connection.
func (d *Driver) ServeOne(ctx context.Context, l net.Listener) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	conn, err := l.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	d.ServeConn(ctx, conn)
	return nil
}
