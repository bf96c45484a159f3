package common

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Merge reduces the partial results of all workers into one report.
// Nil parts are skipped. The parts must no longer be mutated.
func Merge(parts []*TestResult, percentiles int) *Report {
	r := &Report{
		Base:    HistogramBase,
		Latency: map[int]uint64{},
	}

	var counts []float64
	for _, p := range parts {
		if p == nil {
			continue
		}
		r.Messages += p.Messages
		for k, c := range p.Latency {
			r.Latency[k] += c
		}
		for _, c := range p.PerSocket {
			counts = append(counts, float64(c))
		}
	}

	r.AvgLatency = Duration(averageLatency(r.Latency))
	r.Percentiles = Percentiles(counts, percentiles)
	r.Fairness = fairness(counts)
	return r
}

// averageLatency weights each bucket's representative value by its count.
func averageLatency(hist map[int]uint64) float64 {
	if len(hist) == 0 {
		return 0
	}
	keys := make([]int, 0, len(hist))
	for k := range hist {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	values := make([]float64, 0, len(hist))
	weights := make([]float64, 0, len(hist))
	for _, k := range keys {
		c := hist[k]
		if c == 0 {
			continue
		}
		values = append(values, BucketValue(k))
		weights = append(weights, float64(c))
	}
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, weights)
}

// Percentiles samples the sorted counts at n evenly spaced ranks strictly
// between 0 and 1. Every returned value is an element of counts. counts
// is sorted in place.
func Percentiles(counts []float64, n int) []uint64 {
	if len(counts) == 0 || n <= 0 {
		return nil
	}
	sort.Float64s(counts)
	out := make([]uint64, n)
	for i := range out {
		p := float64(i+1) / float64(n+1)
		out[i] = uint64(stat.Quantile(p, stat.Empirical, counts, nil))
	}
	return out
}

func fairness(counts []float64) Fairness {
	if len(counts) == 0 {
		return Fairness{}
	}
	sorted := append([]float64(nil), counts...)
	sort.Float64s(sorted)
	m, std := stat.MeanStdDev(sorted, nil)
	if len(sorted) == 1 {
		std = 0
	}
	return Fairness{
		Sockets: len(sorted),
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Mean:    m,
		StdDev:  std,
	}
}
