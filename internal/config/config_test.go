package config

import "testing"

func TestDefaultMatchesSpecBaseline(t *testing.T) {
	c := Default()
	if c.Scaling.AvgWaitThreshold != 5.0 {
		t.Fatalf("AvgWaitThreshold = %v, want 5.0", c.Scaling.AvgWaitThreshold)
	}
	if c.Scaling.MinPerClass != 1 || c.Scaling.MaxPerClass != 5 {
		t.Fatalf("MinPerClass/MaxPerClass = %d/%d, want 1/5", c.Scaling.MinPerClass, c.Scaling.MaxPerClass)
	}
	if c.Fault.MaxRetries != 2 {
		t.Fatalf("MaxRetries = %d, want 2", c.Fault.MaxRetries)
	}
	if c.Network.TCPPortBase != 5000 {
		t.Fatalf("TCPPortBase = %d, want 5000", c.Network.TCPPortBase)
	}
}

func TestLoadWithMissingFileReturnsDefaults(t *testing.T) {
	c, err := Load("/nonexistent/reqsim.toml")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if c.Simulation.RandomSeed != 326 {
		t.Fatalf("RandomSeed = %d, want 326 (default)", c.Simulation.RandomSeed)
	}
}

func TestServiceConfigToParams(t *testing.T) {
	sc := ServiceConfig{Type: "fixed", Fixed: 2.5}
	p := sc.ToParams()
	if p.Kind != "fixed" || p.Fixed != 2.5 {
		t.Fatalf("ToParams() = %+v, want Kind=fixed Fixed=2.5", p)
	}
}
