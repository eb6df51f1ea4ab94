package distance

import (
	"math"
	"testing"
)

func defaultEstimator() *Estimator {
	return New(-69, 2.0, 2.0, 5.0)
}

func TestEstimateAtReferenceRSSI(t *testing.T) {
	e := defaultEstimator()
	d := e.Estimate(-69)
	if math.Abs(d-1.0) > 1e-9 {
		t.Errorf("Estimate(-69) = %v, want 1.0", d)
	}
}

func TestEstimateMonotonicallyIncreasesAsSignalWeakens(t *testing.T) {
	e := defaultEstimator()
	prev := 0.0
	for rssi := -30; rssi >= -100; rssi-- {
		d := e.Estimate(rssi)
		if d <= prev {
			t.Fatalf("Estimate(%d) = %v, not greater than %v", rssi, d, prev)
		}
		prev = d
	}
}

func TestEstimateAlwaysPositiveAndFinite(t *testing.T) {
	e := defaultEstimator()
	for _, rssi := range []int{0, -69, -127, 127, -10000, 10000, math.MinInt32, math.MaxInt32} {
		d := e.Estimate(rssi)
		if d <= 0 {
			t.Errorf("Estimate(%d) = %v, want > 0", rssi, d)
		}
		if math.IsInf(d, 0) || math.IsNaN(d) {
			t.Errorf("Estimate(%d) = %v, want finite", rssi, d)
		}
	}
}

func TestEstimateKnownValues(t *testing.T) {
	e := defaultEstimator()
	tests := []struct {
		rssi int
		want float64
	}{
		{-69, 1.0},
		{-79, 10.0},  // 10 dB weaker = one decade with n=2
		{-59, 0.1},   // 10 dB stronger
		{-89, 100.0}, // 20 dB weaker
	}
	for _, tt := range tests {
		got := e.Estimate(tt.rssi)
		if math.Abs(got-tt.want)/tt.want > 1e-9 {
			t.Errorf("Estimate(%d) = %v, want %v", tt.rssi, got, tt.want)
		}
	}
}

func TestClassifyBoundaries(t *testing.T) {
	e := defaultEstimator()
	tests := []struct {
		d    float64
		want Category
	}{
		{0.1, Close},
		{1.99, Close},
		{2.0, Close}, // boundary belongs to the lower category
		{2.01, Medium},
		{4.0, Medium},
		{5.0, Medium}, // boundary belongs to the lower category
		{5.01, Far},
		{100, Far},
	}
	for _, tt := range tests {
		if got := e.Classify(tt.d); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.d, got, tt.want)
		}
	}
}

func TestClassifyRespectsConfiguredThresholds(t *testing.T) {
	e := New(-69, 2.0, 3.0, 10.0)
	if got := e.Classify(2.5); got != Close {
		t.Errorf("Classify(2.5) with close=3 = %v, want CLOSE", got)
	}
	if got := e.Classify(7.0); got != Medium {
		t.Errorf("Classify(7.0) with medium=10 = %v, want MEDIUM", got)
	}
	if got := e.Classify(10.5); got != Far {
		t.Errorf("Classify(10.5) with medium=10 = %v, want FAR", got)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		d    float64
		want string
	}{
		{0.3, "< 1 m"},
		{0.99, "< 1 m"},
		{1.0, "1 m"},
		{1.4, "1 m"},
		{2.6, "3 m"},
		{10.2, "10 m"},
	}
	for _, tt := range tests {
		if got := Format(tt.d); got != tt.want {
			t.Errorf("Format(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
