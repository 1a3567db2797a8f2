package metrics

import (
	"testing"
	"time"
)

func TestSummarizeComputesRatesAndLatency(t *testing.T) {
	clock := time.Now()
	c := NewWithClock(func() time.Time { return clock })

	c.RecordSent("K1")
	c.RecordSent("K1")
	c.RecordSent("K1")
	c.RecordRetry("K1")
	c.RecordCompleted("K1", true, 2*time.Second)
	c.RecordCompleted("K1", false, time.Second)

	clock = clock.Add(10 * time.Second)
	s := c.Summarize(map[string]int{"K1": 1})

	if s.TotalSent != 3 {
		t.Fatalf("TotalSent = %d, want 3", s.TotalSent)
	}
	if s.TotalSuccessful != 1 || s.TotalFailedPermanent != 1 {
		t.Fatalf("successful=%d failed=%d, want 1/1", s.TotalSuccessful, s.TotalFailedPermanent)
	}
	if s.TotalPending != 1 {
		t.Fatalf("TotalPending = %d, want 1", s.TotalPending)
	}
	if got, want := s.AverageLatencySeconds, 1.5; got != want {
		t.Fatalf("AverageLatencySeconds = %v, want %v", got, want)
	}
	if got, want := s.SimulationDuration, 10.0; got != want {
		t.Fatalf("SimulationDuration = %v, want %v", got, want)
	}
	if got, want := s.SuccessRateOverall, 1.0/3.0; got != want {
		t.Fatalf("SuccessRateOverall = %v, want %v", got, want)
	}
}

func TestSummarizeWithNoTrafficIsAllZero(t *testing.T) {
	c := New()
	s := c.Summarize(nil)
	if s.TotalSent != 0 || s.SuccessRateOverall != 0 || s.Throughput != 0 {
		t.Fatalf("expected all-zero summary, got %+v", s)
	}
}
