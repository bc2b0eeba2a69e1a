package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang/geo/s2"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// TimestampLayout is the wall-clock layout of trip and dataset timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// DateLayout is the layout of calendar date columns.
const DateLayout = "2006-01-02"

// DistanceKm returns the haversine great-circle distance in kilometres between
// two points given in decimal degrees. s2.LatLng.Distance evaluates the
// haversine formula on the radian-converted coordinates.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusKm
}

// ParseTimestamp parses a trip timestamp in loc. It accepts the dataset's
// "2006-01-02 15:04:05" layout and RFC 3339.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(TimestampLayout, s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: parse timestamp %q", ErrSchema, s)
	}
	return t.In(loc), nil
}

// DeriveTimeFeatures computes calendar buckets from a pickup time.
// Day of week follows the Monday=0 convention.
func DeriveTimeFeatures(pickup time.Time) TimeFeatures {
	dow := (int(pickup.Weekday()) + 6) % 7
	y, m, d := pickup.Date()
	return TimeFeatures{
		Hour:      pickup.Hour(),
		Day:       d,
		Month:     int(m),
		DayOfWeek: dow,
		Date:      time.Date(y, m, d, 0, 0, 0, 0, pickup.Location()),
		IsWeekend: dow == 5 || dow == 6,
	}
}

// IsRushHour reports weekday pickups between 7–9 or 16–19 inclusive.
func IsRushHour(tf TimeFeatures) bool {
	if tf.IsWeekend {
		return false
	}
	return (tf.Hour >= 7 && tf.Hour <= 9) || (tf.Hour >= 16 && tf.Hour <= 19)
}

// AvgSpeedKmh converts a distance and a duration in seconds into km/h.
func AvgSpeedKmh(distanceKm float64, durationSec int) float64 {
	return distanceKm / float64(durationSec) * 3600
}

// DeriveFeatures builds the ValidatedTrip view of raw without applying any filter.
func DeriveFeatures(raw RawTrip) ValidatedTrip {
	tf := DeriveTimeFeatures(raw.PickupDatetime)
	dist := DistanceKm(raw.PickupLatitude, raw.PickupLongitude, raw.DropoffLatitude, raw.DropoffLongitude)
	return ValidatedTrip{
		RawTrip:         raw,
		TimeFeatures:    tf,
		IsRushHour:      IsRushHour(tf),
		TripDistanceKm:  dist,
		AvgSpeedKmh:     AvgSpeedKmh(dist, raw.TripDuration),
		TripDurationMin: float64(raw.TripDuration) / 60,
	}
}
