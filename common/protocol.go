package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SpecError reports a malformed control request.
type SpecError struct {
	Line   string
	Reason string
}

func (e *SpecError) Error() string {
	return fmt.Sprintf("malformed test request %q: %s", e.Line, e.Reason)
}

// ParseTestParams parses a control request line:
//
//	<ip> <port> <connections> <runtime-s> <min-delay-ns> <max-delay-ns> <message-len>
func ParseTestParams(line string) (TestParams, error) {
	var p TestParams

	if len(line) >= MaxRequestLen {
		return p, &SpecError{Line: line[:32], Reason: "request too large"}
	}
	line = strings.TrimRight(line, "\x00\r\n")
	fields := strings.Fields(line)
	if len(fields) != 7 {
		return p, &SpecError{Line: line, Reason: fmt.Sprintf("expected 7 fields, got %d", len(fields))}
	}
	bad := func(field string, err error) (TestParams, error) {
		return TestParams{}, &SpecError{Line: line, Reason: fmt.Sprintf("%s: %v", field, err)}
	}

	p.Host = fields[0]
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return bad("port", err)
	}
	if port <= 0 || port > math.MaxUint16 {
		return bad("port", fmt.Errorf("%d out of range", port))
	}
	p.Port = port

	if p.Connections, err = strconv.Atoi(fields[2]); err != nil {
		return bad("connection count", err)
	}
	if p.Connections <= 0 {
		return bad("connection count", fmt.Errorf("%d is not positive", p.Connections))
	}

	runtime, err := strconv.Atoi(fields[3])
	if err != nil {
		return bad("runtime", err)
	}
	if runtime < 0 {
		return bad("runtime", fmt.Errorf("%d is negative", runtime))
	}
	if runtime > int(MaxRuntime/time.Second) {
		return bad("runtime", fmt.Errorf("%d exceeds %v", runtime, MaxRuntime))
	}
	p.Runtime = time.Duration(runtime) * time.Second

	minDelay, err := strconv.ParseUint(fields[4], 10, 63)
	if err != nil {
		return bad("min delay", err)
	}
	maxDelay, err := strconv.ParseUint(fields[5], 10, 63)
	if err != nil {
		return bad("max delay", err)
	}
	if minDelay > maxDelay {
		return bad("delay", fmt.Errorf("min %d > max %d", minDelay, maxDelay))
	}
	if maxDelay > uint64(MaxDelay) {
		return bad("max delay", fmt.Errorf("%d exceeds %v", maxDelay, MaxDelay))
	}
	p.MinDelay = time.Duration(minDelay)
	p.MaxDelay = time.Duration(maxDelay)

	if p.MessageLen, err = strconv.Atoi(fields[6]); err != nil {
		return bad("message length", err)
	}
	if p.MessageLen <= 0 || p.MessageLen > MaxMessageLen {
		return bad("message length", fmt.Errorf("%d out of range", p.MessageLen))
	}
	return p, nil
}

// MarshalText encodes the report as a control response line:
//
//	<messages> <base> <buckets> (<index> <count>)* <percentiles> (<value>)*
func (r *Report) MarshalText() ([]byte, error) {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(r.Messages, 10))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatFloat(r.Base, 'g', 12, 64))

	keys := make([]int, 0, len(r.Latency))
	for k := range r.Latency {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	fmt.Fprintf(&b, " %d", len(keys))
	for _, k := range keys {
		fmt.Fprintf(&b, " %d %d", k, r.Latency[k])
	}

	fmt.Fprintf(&b, " %d", len(r.Percentiles))
	for _, v := range r.Percentiles {
		fmt.Fprintf(&b, " %d", v)
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// ParseReport decodes a control response line. The average latency is
// recomputed from the histogram.
func ParseReport(line string) (*Report, error) {
	fields := strings.Fields(line)
	pos := 0
	next := func(what string) (string, error) {
		if pos >= len(fields) {
			return "", fmt.Errorf("response truncated before %s", what)
		}
		pos++
		return fields[pos-1], nil
	}
	nextUint := func(what string) (uint64, error) {
		s, err := next(what)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("bad %s: %w", what, err)
		}
		return v, nil
	}

	r := &Report{Latency: map[int]uint64{}}
	var err error
	if r.Messages, err = nextUint("message count"); err != nil {
		return nil, err
	}
	s, err := next("histogram base")
	if err != nil {
		return nil, err
	}
	if r.Base, err = strconv.ParseFloat(s, 64); err != nil {
		return nil, fmt.Errorf("bad histogram base: %w", err)
	}
	buckets, err := nextUint("bucket count")
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < buckets; i++ {
		k, err := nextUint("bucket index")
		if err != nil {
			return nil, err
		}
		c, err := nextUint("bucket value")
		if err != nil {
			return nil, err
		}
		r.Latency[int(k)] += c
	}
	n, err := nextUint("percentile count")
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		v, err := nextUint("percentile")
		if err != nil {
			return nil, err
		}
		r.Percentiles = append(r.Percentiles, v)
	}
	if pos != len(fields) {
		return nil, fmt.Errorf("%d trailing fields in response", len(fields)-pos)
	}

	var sum, count float64
	for k, c := range r.Latency {
		sum += float64(c) * math.Pow(r.Base, float64(k))
		count += float64(c)
	}
	if count > 0 {
		r.AvgLatency = Duration(sum / count)
	}
	return r, nil
}
