package model

import (
	"math"
	"slices"

	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
)

// FeatureColumns is the ordered candidate feature set. Training uses the
// subset present in the input dataset, in this order.
var FeatureColumns = []string{
	// geographic
	"pickup_latitude", "pickup_longitude",
	"dropoff_latitude", "dropoff_longitude",
	"trip_distance_km",
	// temporal
	"pickup_hour", "pickup_dayofweek", "pickup_month",
	"is_weekend", "is_rush_hour",
	// passenger and vendor
	"passenger_count", "vendor_id",
	// weather
	"temperature_c", "humidity_pct", "precipitation_mm",
	"wind_speed_kmh", "is_raining", "is_bad_weather",
}

// Frame is a dense feature matrix with its label column. X is row-major.
type Frame struct {
	Features []string
	X        [][]float64
	Y        []float64 // trip_duration, seconds
}

// SelectFeatures returns the FeatureColumns present in columns. A nil
// columns slice selects every feature.
func SelectFeatures(columns []string) []string {
	if columns == nil {
		return slices.Clone(FeatureColumns)
	}
	var out []string
	for _, f := range FeatureColumns {
		if slices.Contains(columns, f) {
			out = append(out, f)
		}
	}
	return out
}

// NewFrame extracts features from trips. The label is the trip duration in
// seconds, never the derived minutes column.
func NewFrame(trips []domain.EnrichedTrip, features []string) *Frame {
	fr := &Frame{
		Features: features,
		X:        make([][]float64, len(trips)),
		Y:        make([]float64, len(trips)),
	}
	for i := range trips {
		row := make([]float64, len(features))
		for j, f := range features {
			row[j] = featureValue(&trips[i], f)
		}
		fr.X[i] = row
		fr.Y[i] = float64(trips[i].TripDuration)
	}
	return fr
}

// FillMissing replaces NaN and infinite cells with the column median over
// the frame, or 0 when a column has no finite values. It returns the fill
// value used per feature.
func (fr *Frame) FillMissing() []float64 {
	fills := make([]float64, len(fr.Features))
	col := make([]float64, 0, len(fr.X))
	for j := range fr.Features {
		col = col[:0]
		missing := false
		for _, row := range fr.X {
			if finite(row[j]) {
				col = append(col, row[j])
			} else {
				missing = true
			}
		}
		if m, ok := domain.Median(col); ok {
			fills[j] = m
		}
		if !missing {
			continue
		}
		for _, row := range fr.X {
			if !finite(row[j]) {
				row[j] = fills[j]
			}
		}
	}
	return fills
}

// Rows returns the sub-frame at the given row indices. Rows are shared, not copied.
func (fr *Frame) Rows(idx []int) *Frame {
	sub := &Frame{
		Features: fr.Features,
		X:        make([][]float64, len(idx)),
		Y:        make([]float64, len(idx)),
	}
	for k, i := range idx {
		sub.X[k] = fr.X[i]
		sub.Y[k] = fr.Y[i]
	}
	return sub
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func featureValue(t *domain.EnrichedTrip, name string) float64 {
	switch name {
	case "pickup_latitude":
		return t.PickupLatitude
	case "pickup_longitude":
		return t.PickupLongitude
	case "dropoff_latitude":
		return t.DropoffLatitude
	case "dropoff_longitude":
		return t.DropoffLongitude
	case "trip_distance_km":
		return t.TripDistanceKm
	case "pickup_hour":
		return float64(t.Hour)
	case "pickup_dayofweek":
		return float64(t.DayOfWeek)
	case "pickup_month":
		return float64(t.Month)
	case "is_weekend":
		return boolValue(t.IsWeekend)
	case "is_rush_hour":
		return boolValue(t.IsRushHour)
	case "passenger_count":
		return float64(t.PassengerCount)
	case "vendor_id":
		return float64(t.VendorID)
	case "temperature_c":
		return t.TemperatureC
	case "humidity_pct":
		return t.HumidityPct
	case "precipitation_mm":
		return t.PrecipitationMm
	case "wind_speed_kmh":
		return t.WindSpeedKmh
	case "is_raining":
		return boolValue(t.IsRaining)
	case "is_bad_weather":
		return boolValue(t.IsBadWeather)
	default:
		return math.NaN()
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
