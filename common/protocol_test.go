package common

import (
	"strings"
	"testing"
	"time"
)

func TestParseTestParams(t *testing.T) {
	p, err := ParseTestParams("127.0.0.1 9000 4 2 1000 5000 64\n")
	if err != nil {
		t.Fatal("Should have parsed: ", err)
	}
	want := TestParams{
		Host:        "127.0.0.1",
		Port:        9000,
		Connections: 4,
		Runtime:     2 * time.Second,
		MinDelay:    1000,
		MaxDelay:    5000,
		MessageLen:  64,
	}
	if p != want {
		t.Errorf("Parsed %+v, expected %+v", p, want)
	}
	if !p.HasDelay() {
		t.Error("Should have a delay")
	}
	if p.String() != "127.0.0.1 9000 4 2 1000 5000 64" {
		t.Error("Incorrect request line: ", p.String())
	}
	if p.Address() != "127.0.0.1:9000" {
		t.Error("Incorrect address: ", p.Address())
	}
}

func TestParseTestParamsMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"badline",
		"127.0.0.1 9000 4 2 0 0",
		"127.0.0.1 9000 4 2 0 0 64 extra",
		"127.0.0.1 port 4 2 0 0 64",
		"127.0.0.1 0 4 2 0 0 64",
		"127.0.0.1 70000 4 2 0 0 64",
		"127.0.0.1 9000 0 2 0 0 64",
		"127.0.0.1 9000 4 -1 0 0 64",
		"127.0.0.1 9000 4 2 -5 0 64",
		"127.0.0.1 9000 4 2 10 5 64",
		"127.0.0.1 9000 4 2 0 0 0",
		"127.0.0.1 9000 4 2 0 0 2000000",
		"127.0.0.1 9000 1 9300000000 0 0 64",
		"127.0.0.1 9000 1 604801 0 0 64",
		"127.0.0.1 9000 1 1 0 9223372036854775807 64",
		"127.0.0.1 9000 1 1 0 3600000000001 64",
		"127.0.0.1 9000 4 2 0 0 64 " + strings.Repeat("x", MaxRequestLen),
	} {
		_, err := ParseTestParams(line)
		if err == nil {
			t.Errorf("Should have rejected %q", line)
			continue
		}
		if _, ok := err.(*SpecError); !ok {
			t.Errorf("Expected a SpecError for %q, got %T", line, err)
		}
	}
}

func TestReportText(t *testing.T) {
	r := &Report{
		Messages:    1234,
		Base:        HistogramBase,
		Latency:     map[int]uint64{170: 5, 3: 1, 90: 10},
		Percentiles: []uint64{1, 2, 2, 3},
	}
	b, err := r.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	const expect = "1234 1.07177346254 3 3 1 90 10 170 5 4 1 2 2 3\n"
	if string(b) != expect {
		t.Errorf("Encoded %q, expected %q", string(b), expect)
	}

	back, err := ParseReport(string(b))
	if err != nil {
		t.Fatal("Should have parsed: ", err)
	}
	if back.Messages != r.Messages || len(back.Latency) != 3 || back.Latency[90] != 10 {
		t.Error("Incorrect decoded report: ", back)
	}
	if len(back.Percentiles) != 4 || back.Percentiles[3] != 3 {
		t.Error("Incorrect decoded percentiles: ", back.Percentiles)
	}
	if back.AvgLatency <= 0 {
		t.Error("Average latency should be recomputed: ", back.AvgLatency)
	}
}

func TestParseReportMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"10",
		"10 2 1 5",
		"10 2 0 2 1",
		"10 x 0 0",
		"10 2 0 0 7",
	} {
		if _, err := ParseReport(line); err == nil {
			t.Errorf("Should have rejected %q", line)
		}
	}
}

func TestParseTestParamsLimits(t *testing.T) {
	p, err := ParseTestParams("127.0.0.1 9000 1 604800 3600000000000 3600000000000 64")
	if err != nil {
		t.Fatal("Should have accepted the largest durations: ", err)
	}
	if p.Runtime != MaxRuntime || p.MaxDelay != MaxDelay {
		t.Errorf("Incorrect durations: %v %v", p.Runtime, p.MaxDelay)
	}
}
