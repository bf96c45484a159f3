package selector

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// waitLoop drives a millisecond-granularity wait primitive to a
// nanosecond deadline. The primitive is called with the remaining time
// rounded down to whole milliseconds; an empty return before the
// deadline polls again, a non-empty one returns at once. The primitive
// is always called at least once.
func waitLoop(timeout time.Duration, wait func(msec int) (int, error)) (ready, calls int, err error) {
	if timeout < 0 {
		for {
			n, err := wait(-1)
			calls++
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if err != nil {
				return 0, calls, err
			}
			if n > 0 {
				return n, calls, nil
			}
		}
	}

	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			if calls > 0 {
				return 0, calls, nil
			}
			left = 0
		}

		n, err := wait(int(left / time.Millisecond))
		calls++
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, calls, err
		}
		if n > 0 {
			return n, calls, nil
		}
		if !time.Now().Before(deadline) {
			return 0, calls, nil
		}
	}
}
