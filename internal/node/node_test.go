package node

import "testing"

func TestNewCoreStartsInitializing(t *testing.T) {
	c := NewCore("N1", nil)
	if c.Status() != StatusInitializing {
		t.Fatalf("Status() = %v, want Initializing", c.Status())
	}
	if c.IsRunning() {
		t.Fatal("a freshly built Core should not report running")
	}
}

func TestSetRunningRequiresNonTerminalStatus(t *testing.T) {
	c := NewCore("N1", nil)
	c.SetRunning(true)
	c.SetStatus(StatusRunning)
	if !c.IsRunning() {
		t.Fatal("IsRunning() should be true once running and Status is Running")
	}

	c.SetStatus(StatusDown)
	if c.IsRunning() {
		t.Fatal("IsRunning() should be false once Status is Down, even if running flag is set")
	}
}

func TestSetRunningFalseStopsReportingRunning(t *testing.T) {
	c := NewCore("N1", nil)
	c.SetRunning(true)
	c.SetStatus(StatusBusy)
	if !c.IsRunning() {
		t.Fatal("expected IsRunning() true")
	}
	c.SetRunning(false)
	if c.IsRunning() {
		t.Fatal("IsRunning() should be false once the running flag is cleared")
	}
}

func TestStatusStringCoversAllValues(t *testing.T) {
	cases := map[Status]string{
		StatusInitializing: "initializing",
		StatusRunning:      "running",
		StatusBusy:         "busy",
		StatusIdle:         "idle",
		StatusDown:         "down",
		StatusStopped:      "stopped",
		Status(99):         "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("Status(%d).String() = %q, want %q", s, got, want)
		}
	}
}
