package common

import (
	"math"
	"time"
)

const (
	// HistogramBase is the ratio between neighbouring latency buckets,
	// 2^0.1. Bucket k represents HistogramBase^k nanoseconds.
	HistogramBase = 1.0717734625362931

	// BucketCount covers 2^0 .. 2^29.9 ns (about 1 s). Larger
	// latencies are counted in the top bucket.
	BucketCount = 300

	bucketsPerOctave = 10
)

// BucketIndex returns the log-scaled histogram bucket for d.
func BucketIndex(d time.Duration) int {
	if d < 1 {
		return 0
	}
	k := int(math.Round(math.Log2(float64(d)) * bucketsPerOctave))
	if k < 0 {
		return 0
	}
	if k >= BucketCount {
		return BucketCount - 1
	}
	return k
}

// BucketValue is the representative latency of bucket k, in ns.
func BucketValue(k int) float64 {
	return math.Pow(HistogramBase, float64(k))
}
