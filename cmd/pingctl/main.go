// Command pingctl submits one test to a loader and prints the result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/golang/glog"

	"github.com/koder-ua/network-ping-test/clientlib"
	"github.com/koder-ua/network-ping-test/common"
	"github.com/koder-ua/network-ping-test/env"
)

var (
	flagLoader   = flag.String("loader", "127.0.0.1"+env.ControlAddr, "loader control address")
	flagTarget   = flag.String("target", "127.0.0.1", "echo responder host")
	flagPort     = flag.Int("port", 33332, "echo responder port")
	flagConns    = flag.Int("c", 100, "connections")
	flagRuntime  = flag.Duration("t", 10*time.Second, "test runtime (whole seconds)")
	flagMinDelay = flag.Duration("min-delay", 0, "minimum delay between messages on a socket")
	flagMaxDelay = flag.Duration("max-delay", 0, "maximum delay between messages on a socket")
	flagSize     = flag.Int("size", 64, "message size in bytes")
	flagJSON     = flag.Bool("json", false, "print the report as JSON")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	p := common.TestParams{
		Host:        *flagTarget,
		Port:        *flagPort,
		Connections: *flagConns,
		Runtime:     flagRuntime.Truncate(time.Second),
		MinDelay:    *flagMinDelay,
		MaxDelay:    *flagMaxDelay,
		MessageLen:  *flagSize,
	}
	// Validate locally with the loader's own rules.
	if _, err := common.ParseTestParams(p.String()); err != nil {
		glog.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	r, err := clientlib.Run(ctx, *flagLoader, p)
	if err != nil {
		glog.Fatal(err)
	}

	if *flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			glog.Fatal(err)
		}
		return
	}

	fmt.Printf("messages:    %d (%.0f/s)\n", r.Messages, r.MessagesPerSecond(p.Runtime))
	fmt.Printf("avg latency: %v\n", r.AvgLatency)
	keys := make([]int, 0, len(r.Latency))
	for k := range r.Latency {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		fmt.Printf("  %12v %d\n", time.Duration(common.BucketValue(k)), r.Latency[k])
	}
	if len(r.Percentiles) != 0 {
		fmt.Printf("per-socket replies (5%%..95%%): %v\n", r.Percentiles)
	}
}
