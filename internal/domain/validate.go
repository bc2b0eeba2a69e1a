package domain

import "fmt"

// Trip duration bounds in seconds, inclusive.
const (
	MinTripDurationSec = 60
	MaxTripDurationSec = 86400
)

// Average speed bounds in km/h, inclusive. Below the floor the cab was
// effectively parked; above the ceiling the GPS fix is implausible.
const (
	MinAvgSpeedKmh = 0.5
	MaxAvgSpeedKmh = 100.0
)

// BoundingBox is an inclusive lat/lon rectangle.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Contains reports whether the point lies inside the box, edges included.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// NYCBounds covers the five boroughs plus the airports.
var NYCBounds = BoundingBox{MinLat: 40.4, MaxLat: 41.0, MinLon: -74.3, MaxLon: -73.7}

// Filter stage names, in application order.
const (
	StageDuration   = "duration"
	StageBounds     = "bounds"
	StagePassengers = "passengers"
	StageSpeed      = "speed"
)

// StageRemoval counts the records a single filter stage removed.
type StageRemoval struct {
	Stage     string
	Removed   int
	Remaining int
}

// FilterReport summarises one validator pass.
type FilterReport struct {
	Input  int
	Kept   int
	Stages []StageRemoval
}

// Removed returns the total number of records dropped.
func (r FilterReport) Removed() int { return r.Input - r.Kept }

// RemovedPct returns the share of input dropped, in percent. Zero for empty input.
func (r FilterReport) RemovedPct() float64 {
	if r.Input == 0 {
		return 0
	}
	return float64(r.Removed()) / float64(r.Input) * 100
}

// Err returns ErrDataQualityExhausted when non-empty input was filtered to nothing.
func (r FilterReport) Err() error {
	if r.Input > 0 && r.Kept == 0 {
		return fmt.Errorf("%w: %d input records", ErrDataQualityExhausted, r.Input)
	}
	return nil
}

// DurationInRange reports 60 ≤ trip_duration ≤ 86400.
func DurationInRange(t ValidatedTrip) bool {
	return t.TripDuration >= MinTripDurationSec && t.TripDuration <= MaxTripDurationSec
}

// WithinNYC reports both pickup and dropoff inside NYCBounds.
func WithinNYC(t ValidatedTrip) bool {
	return NYCBounds.Contains(t.PickupLatitude, t.PickupLongitude) &&
		NYCBounds.Contains(t.DropoffLatitude, t.DropoffLongitude)
}

// HasPassengers reports passenger_count > 0.
func HasPassengers(t ValidatedTrip) bool {
	return t.PassengerCount > 0
}

// SpeedInRange reports 0.5 ≤ avg_speed_kmh ≤ 100. NaN and Inf speeds fail.
func SpeedInRange(t ValidatedTrip) bool {
	return t.AvgSpeedKmh >= MinAvgSpeedKmh && t.AvgSpeedKmh <= MaxAvgSpeedKmh
}

type predicate struct {
	stage string
	keep  func(ValidatedTrip) bool
}

// filterStages is the fixed predicate sequence. The predicates are independent,
// so order only affects the per-stage counts.
var filterStages = []predicate{
	{StageDuration, DurationInRange},
	{StageBounds, WithinNYC},
	{StagePassengers, HasPassengers},
	{StageSpeed, SpeedInRange},
}

// ValidateTrips applies the quality predicates to raw and returns the passing
// records in input order, with derived features filled in. Empty input yields
// an empty result and a zero report.
func ValidateTrips(raw []RawTrip) ([]ValidatedTrip, FilterReport) {
	report := FilterReport{Input: len(raw), Stages: make([]StageRemoval, 0, len(filterStages))}

	current := make([]ValidatedTrip, len(raw))
	for i := range raw {
		current[i] = DeriveFeatures(raw[i])
	}

	for _, p := range filterStages {
		kept := current[:0]
		for _, t := range current {
			if p.keep(t) {
				kept = append(kept, t)
			}
		}
		report.Stages = append(report.Stages, StageRemoval{
			Stage:     p.stage,
			Removed:   len(current) - len(kept),
			Remaining: len(kept),
		})
		current = kept
	}

	report.Kept = len(current)
	return current, report
}
