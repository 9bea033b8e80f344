package stall

import "testing"

func TestShouldInterrupt(t *testing.T) {
	tests := []struct {
		name                       string
		minTime, maxTime, fracTime float64
		last, now                  float64
		want                       bool
	}{
		{"default at start", 0, inf, 1, 0, 0, false},
		{"default after 1s", 0, inf, 1, 0, 1, false},
		{"default at infinity", 0, inf, 1, 0, inf, false},

		{"quarter not at start", 0, inf, 0.25, 0, 0, false},
		{"quarter stops early", 0, inf, 0.25, 0, 1, true},
		{"quarter below mintime", 2, inf, 0.25, 0, 1, false},
		{"quarter at mintime", 2, inf, 0.25, 0, 2, false},
		{"quarter above mintime", 2, inf, 0.25, 0, 3, true},

		{"quarter+sol at improvement", 0, inf, 0.25, 10, 10, false},
		{"quarter+sol too early", 0, inf, 0.25, 10, 11, false},
		{"quarter+sol too late", 0, inf, 0.25, 10, 14, true},
		{"quarter+sol at mintime", 5, inf, 0.25, 10, 15, false},
		{"quarter+sol above mintime", 5, inf, 0.25, 10, 16, true},

		{"below maxtime", 0, 1, 1, 0, 0.5, false},
		{"at maxtime", 0, 1, 1, 0, 1, false},
		{"above maxtime", 0, 1, 1, 0, 1.5, true},

		{"mintime beats maxtime", 5, 1, 1, 0, 4, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldInterrupt(tt.minTime, tt.maxTime, tt.fracTime, tt.last, tt.now)
			if got != tt.want {
				t.Errorf("ShouldInterrupt(%g, %g, %g, %g, %g) = %v, want %v",
					tt.minTime, tt.maxTime, tt.fracTime, tt.last, tt.now, got, tt.want)
			}
		})
	}
}

func TestDefaultsNeverInterrupt(t *testing.T) {
	def := DefaultConfig()
	for now := 0.0; now < 1e6; now = now*2 + 1 {
		if ShouldInterrupt(def.MinTime, def.MaxTime, def.FracTime, 0, now) {
			t.Fatalf("Default configuration interrupted at t=%g", now)
		}
	}
}

func TestStallReason(t *testing.T) {
	if got := StallReason(0, 1, 1, 0, 1.5); got != ReasonMaxTime {
		t.Errorf("Expected %s, got %s", ReasonMaxTime, got)
	}
	if got := StallReason(0, inf, 0.25, 0, 1); got != ReasonFracTime {
		t.Errorf("Expected %s, got %s", ReasonFracTime, got)
	}
	// maxtime is checked before fractime
	if got := StallReason(0, 1, 0.25, 0, 2); got != ReasonMaxTime {
		t.Errorf("Expected %s when both bounds fire, got %s", ReasonMaxTime, got)
	}
	if got := StallReason(0, inf, 1, 0, 5); got != ReasonNone {
		t.Errorf("Expected no reason, got %s", got)
	}
	if ReasonNone.String() != "none" {
		t.Errorf("Expected ReasonNone to print as none, got %q", ReasonNone.String())
	}
}
