//go:build linux

// Command loader accepts test requests on its control port and drives
// ping-pong load against the requested echo responder.
//
// Positional arguments are local source addresses, bound round-robin.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	lightstep "github.com/lightstep/lightstep-tracer-go"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/koder-ua/network-ping-test/bench"
	"github.com/koder-ua/network-ping-test/driver"
	"github.com/koder-ua/network-ping-test/env"
	"github.com/koder-ua/network-ping-test/metrics"
	"github.com/koder-ua/network-ping-test/selector"
)

var (
	flagAddr       = flag.String("addr", env.ControlAddr, "control listen address")
	flagSingleShot = flag.Bool("s", env.IsTrue(env.SingleShot), "serve one control connection and exit")
	flagWorkers    = flag.Int("workers", env.Workers, "worker threads (0: one per core)")
	flagSelector   = flag.String("selector", env.SelectorKind, "readiness facility: epoll or poll")
	flagMetrics    = flag.String("metrics", env.MetricsAddr, "Prometheus listen address, empty to disable")
)

func buildTracer() opentracing.Tracer {
	if env.TracerToken == "" {
		return opentracing.NoopTracer{}
	}
	return lightstep.NewTracer(lightstep.Options{
		AccessToken: env.TracerToken,
		UseHttp:     true,
		Tags: map[string]interface{}{
			lightstep.ComponentNameKey: "pingload",
		},
		Collector: lightstep.Endpoint{
			Host:      env.TracerCollectorHost,
			Port:      env.TracerCollectorPort,
			Plaintext: true,
		},
	})
}

func main() {
	flag.Parse()
	defer glog.Flush()

	kind, err := selector.ParseKind(*flagSelector)
	if err != nil {
		glog.Fatal(err)
	}
	locals, err := env.ParseIPList(append([]string{env.LocalAddrs}, flag.Args()...)...)
	if err != nil {
		glog.Fatal(err)
	}

	if n, err := bench.RaiseFileLimit(); err != nil {
		glog.Warning("Could not raise the descriptor limit: ", err)
	} else {
		glog.Infof("Descriptor limit: %d", n)
	}
	glog.Info("Machine: ", bench.ProcessMachineInfo())

	tracer := buildTracer()
	opentracing.SetGlobalTracer(tracer)
	defer func() {
		if lt, ok := tracer.(lightstep.Tracer); ok {
			lt.Close(context.Background())
		}
	}()

	cfg := driver.Config{
		Workers:        *flagWorkers,
		Window:         env.Window,
		ConnectTimeout: env.ConnectTimeout,
		Settle:         env.Settle,
		LocalAddrs:     locals,
		Selector:       kind,
		Tracer:         tracer,
	}

	if *flagMetrics != "" {
		m := metrics.New()
		m.Registry().MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		cfg.Sink = m
		cfg.Recorder = m
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		srv := &http.Server{Addr: *flagMetrics, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				glog.Error("Metrics server: ", err)
			}
		}()
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := net.Listen("tcp", *flagAddr)
	if err != nil {
		glog.Fatal(err)
	}
	d := driver.New(cfg)
	glog.Infof("Listening on %v, %s selector, local addresses %v", l.Addr(), kind, locals)

	if *flagSingleShot {
		err = d.ServeOne(ctx, l)
	} else {
		err = d.Serve(ctx, l)
	}
	if err != nil && ctx.Err() == nil {
		glog.Error(err)
	}
}
