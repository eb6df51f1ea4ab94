// Package distance converts raw RSSI readings into distance estimates using
// the log-distance path-loss model, and classifies distances into coarse
// proximity categories.
package distance

import (
	"fmt"
	"math"
)

// Category is a coarse proximity bucket derived from an estimated distance.
type Category string

const (
	Close  Category = "CLOSE"
	Medium Category = "MEDIUM"
	Far    Category = "FAR"
)

// maxMeters caps the estimate for pathologically low RSSI values so the
// result stays finite.
const maxMeters = 1e6

// Estimator computes distances from RSSI samples. Calibration constants come
// from configuration; the zero value is not usable, construct with New.
type Estimator struct {
	rssiAtOneMeter  int
	envFactor       float64
	closeThreshold  float64
	mediumThreshold float64
}

// New creates an Estimator with the given calibration.
// rssiAtOneMeter is the reference RSSI measured at one meter (dBm) and
// envFactor the path-loss exponent for the environment.
func New(rssiAtOneMeter int, envFactor, closeThreshold, mediumThreshold float64) *Estimator {
	return &Estimator{
		rssiAtOneMeter:  rssiAtOneMeter,
		envFactor:       envFactor,
		closeThreshold:  closeThreshold,
		mediumThreshold: mediumThreshold,
	}
}

// Estimate returns the distance in meters for an RSSI sample:
//
//	d = 10 ^ ((rssiAtOneMeter - rssi) / (10 * envFactor))
//
// The result is always positive and finite; extreme inputs saturate.
func (e *Estimator) Estimate(rssi int) float64 {
	d := math.Pow(10, float64(e.rssiAtOneMeter-rssi)/(10*e.envFactor))
	if math.IsInf(d, 1) || d > maxMeters {
		return maxMeters
	}
	if d <= 0 || math.IsNaN(d) {
		// Not reachable for sane calibration, but never return a
		// non-positive distance.
		return math.SmallestNonzeroFloat64
	}
	return d
}

// Classify buckets a distance against the configured thresholds. Boundary
// values belong to the lower category.
func (e *Estimator) Classify(d float64) Category {
	switch {
	case d <= e.closeThreshold:
		return Close
	case d <= e.mediumThreshold:
		return Medium
	default:
		return Far
	}
}

// Format renders a distance for display: "< 1 m" below one meter, otherwise
// rounded whole meters.
func Format(d float64) string {
	if d < 1.0 {
		return "< 1 m"
	}
	return fmt.Sprintf("%d m", int(math.Round(d)))
}
