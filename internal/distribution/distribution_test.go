package distribution

import "testing"

func TestFixedAlwaysReturnsConfiguredValue(t *testing.T) {
	g := New(Params{Kind: Fixed, Fixed: 0.1}, 1)
	for i := 0; i < 5; i++ {
		if v := g.Next(); v != 0.1 {
			t.Fatalf("Next() = %v, want 0.1", v)
		}
	}
}

func TestFixedClampedToFloor(t *testing.T) {
	g := New(Params{Kind: Fixed, Fixed: 0}, 1)
	if v := g.Next(); v != minServiceTime {
		t.Fatalf("Next() = %v, want %v", v, minServiceTime)
	}
}

func TestUniformWithinBounds(t *testing.T) {
	g := New(Params{Kind: Uniform, UniformA: 0.5, UniformB: 2.0}, 42)
	for i := 0; i < 1000; i++ {
		v := g.Next()
		if v < 0.5 || v > 2.0 {
			t.Fatalf("Next() = %v, want in [0.5, 2.0]", v)
		}
	}
}

func TestExponentialPositiveAndDeterministicPerSeed(t *testing.T) {
	a := New(Params{Kind: Exponential, ExpLambda: 1.0}, 7)
	b := New(Params{Kind: Exponential, ExpLambda: 1.0}, 7)
	for i := 0; i < 20; i++ {
		va, vb := a.Next(), b.Next()
		if va <= 0 {
			t.Fatalf("Next() = %v, want > 0", va)
		}
		if va != vb {
			t.Fatalf("same seed diverged: %v != %v", va, vb)
		}
	}
}

func TestNormalClampedToFloor(t *testing.T) {
	g := New(Params{Kind: Normal, NormalMean: -5, NormalStdev: 0.01}, 3)
	for i := 0; i < 50; i++ {
		if v := g.Next(); v < minServiceTime {
			t.Fatalf("Next() = %v, want >= %v", v, minServiceTime)
		}
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{"fixed ok", Params{Kind: Fixed, Fixed: 1}, false},
		{"fixed negative", Params{Kind: Fixed, Fixed: -1}, true},
		{"uniform ok", Params{Kind: Uniform, UniformA: 0, UniformB: 1}, false},
		{"uniform inverted", Params{Kind: Uniform, UniformA: 2, UniformB: 1}, true},
		{"exponential ok", Params{Kind: Exponential, ExpLambda: 1}, false},
		{"exponential zero lambda", Params{Kind: Exponential, ExpLambda: 0}, true},
		{"normal ok", Params{Kind: Normal, NormalStdev: 0.2}, false},
		{"normal negative stdev", Params{Kind: Normal, NormalStdev: -1}, true},
		{"unknown kind", Params{Kind: "bogus"}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.params.Validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
}
