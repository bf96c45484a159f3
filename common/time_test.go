package common

import (
	"math"
	"testing"
)

func TestUnixTime(t *testing.T) {
	if v := UnixTime(3, 250_000_000); math.Abs(float64(v)-3.25) > 1e-9 {
		t.Error("Incorrect time: ", v)
	}
	if v := UnixTime(0, 0); v != 0 {
		t.Error("Expected zero, got ", v)
	}
}
