package env

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
)

var (
	ControlAddr    = GetEnv("PINGLOAD_CONTROL_ADDR", ":33331")
	MetricsAddr    = GetEnv("PINGLOAD_METRICS_ADDR", "")
	SelectorKind   = GetEnv("PINGLOAD_SELECTOR", "epoll")
	Workers        = GetEnvInt("PINGLOAD_WORKERS", 0)
	Window         = GetEnvInt("PINGLOAD_WINDOW", 64)
	ConnectTimeout = GetEnvDuration("PINGLOAD_CONNECT_TIMEOUT", time.Second)
	Settle         = GetEnvDuration("PINGLOAD_SETTLE", time.Second)
	LocalAddrs     = GetEnv("PINGLOAD_LOCAL_ADDRS", "")
	SingleShot     = GetEnv("PINGLOAD_SINGLE_SHOT", "")
	Verbose        = GetEnv("PINGLOAD_VERBOSE", "")

	TracerToken         = GetEnv("LIGHTSTEP_ACCESS_TOKEN", "")
	TracerCollectorHost = GetEnv("LIGHTSTEP_COLLECTOR_HOST", "127.0.0.1")
	TracerCollectorPort = GetEnvInt("LIGHTSTEP_COLLECTOR_PORT", 8360)
)

func GetEnv(name, defval string) string {
	if r := os.Getenv(name); r != "" {
		return r
	}
	return defval
}

func GetEnvInt(name string, defval int) int {
	s := os.Getenv(name)
	if s == "" {
		return defval
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		Fatal("Could not parse ", name, ": ", err)
	}
	return v
}

func GetEnvDuration(name string, defval time.Duration) time.Duration {
	s := os.Getenv(name)
	if s == "" {
		return defval
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		Fatal("Could not parse ", name, ": ", err)
	}
	return d
}

// ParseIPList parses a comma or whitespace separated list of IP literals.
func ParseIPList(list ...string) ([]net.IP, error) {
	var ips []net.IP
	for _, l := range list {
		for _, f := range strings.FieldsFunc(l, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		}) {
			ip := net.ParseIP(f)
			if ip == nil {
				return nil, fmt.Errorf("bad local address %q", f)
			}
			ips = append(ips, ip)
		}
	}
	return ips, nil
}

func IsTrue(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

func Fatal(x ...interface{}) {
	panic(fmt.Sprintln(x...))
}

func Print(x ...interface{}) {
	if IsTrue(Verbose) {
		glog.InfoDepth(1, fmt.Sprintln(x...))
	}
}
