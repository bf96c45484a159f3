package common

import (
	"fmt"
	"time"
)

type (
	Time float64

	// Timing is a process CPU usage sample, in seconds.
	Timing struct {
		Wall, User, Sys Time
	}
)

func WallTiming(seconds float64) Timing {
	return Timing{Wall: Time(seconds)}
}

func (t Time) Seconds() float64 {
	return float64(t)
}

func (t Time) Duration() Duration {
	return Duration(t * Time(time.Second))
}

func (t Timing) Sub(s Timing) Timing {
	t.Wall -= s.Wall
	t.User -= s.User
	t.Sys -= s.Sys
	return t
}

// Load is the CPU share (user+sys over wall) of the interval.
func (t Timing) Load() float64 {
	if t.Wall <= 0 {
		return 0
	}
	return float64((t.User + t.Sys) / t.Wall)
}

// UnixTime converts a seconds and nanoseconds pair, as returned by
// unix.Timeval.Unix, to Time.
func UnixTime(sec, nsec int64) Time {
	return Time(float64(sec) + float64(nsec)*1e-9)
}

func (t Time) String() string {
	if t < 10e-9 && t > -10e-9 {
		return fmt.Sprintf("%.3fns", float64(t)*1e9)
	}
	return t.Duration().String()
}

func (ts Timing) String() string {
	return fmt.Sprintf("W: %v U: %v S: %v", ts.Wall, ts.User, ts.Sys)
}
