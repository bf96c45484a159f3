// Package bench inspects the driver process and its host: CPU timing of
// a test run, machine limits relevant to opening many connections.
package bench

import (
	"time"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"

	"github.com/koder-ua/network-ping-test/common"
	"github.com/koder-ua/network-ping-test/env"
)

// DefaultWorkers is used when the core count cannot be read.
const DefaultWorkers = 3

func GetSelfUsage() common.Timing {
	var self unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &self); err != nil {
		env.Fatal("Can't getrusage(self)", err)
	}
	return common.Timing{
		Wall: common.Time(float64(time.Now().UnixNano()) / 1e9),
		User: common.UnixTime(self.Utime.Unix()),
		Sys:  common.UnixTime(self.Stime.Unix())}
}

// Since is the process CPU usage accumulated after start.
func Since(start common.Timing) common.Timing {
	return GetSelfUsage().Sub(start)
}

// DefaultWorkerCount is one worker per CPU core.
func DefaultWorkerCount() int {
	if n := ProcessMachineInfo().CPUCores; n > 0 {
		return n
	}
	return DefaultWorkers
}

// RaiseFileLimit lifts the soft descriptor limit to the hard limit and
// returns the new soft limit.
func RaiseFileLimit() (uint64, error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, err
	}
	if lim.Cur >= lim.Max {
		return lim.Cur, nil
	}
	lim.Cur = lim.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, err
	}
	glog.V(1).Infof("Raised RLIMIT_NOFILE to %d", lim.Cur)
	return lim.Cur, nil
}
