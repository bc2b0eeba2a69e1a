package domain

import (
	"math"
	"sort"
	"time"
)

// TruncateToHour rounds t down to the start of its local wall-clock hour.
func TruncateToHour(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), 0, 0, 0, t.Location())
}

// hourKey identifies a local wall-clock hour. Comparing wall-clock fields keeps
// the join stable across DST transitions, where two distinct instants share an
// hour label.
type hourKey struct {
	year  int
	month time.Month
	day   int
	hour  int
}

func keyOf(t time.Time) hourKey {
	y, m, d := t.Date()
	return hourKey{year: y, month: m, day: d, hour: t.Hour()}
}

// EnrichStats summarises one join pass.
type EnrichStats struct {
	Trips          int
	Matched        int
	DuplicateHours int // observations dropped because their hour was already indexed
	RainyTrips     int
	MinTempC       float64
	MaxTempC       float64
	Medians        Weather // back-fill values; WeatherCode is always 0
}

// Unmatched returns the number of trips with no weather hour.
func (s EnrichStats) Unmatched() int { return s.Trips - s.Matched }

// RainyPct returns the share of trips during rain, in percent.
func (s EnrichStats) RainyPct() float64 {
	if s.Trips == 0 {
		return 0
	}
	return float64(s.RainyTrips) / float64(s.Trips) * 100
}

// joined holds the nullable weather columns for one trip before back-fill.
type joined struct {
	temp, humidity, precip, rain, snow, wind *float64
	code                                     *int
}

// EnrichTrips left-joins trips to observations on the truncated pickup hour.
// At most one observation is used per hour (the first seen), so the join never
// fans out. Numeric fields missing after the join take the median of that column
// across the joined trips, or 0 when no trip matched a value. Rain, snow and
// bad-weather flags and the condition label are derived from the joined values
// before back-fill; the temperature category is derived after it.
func EnrichTrips(trips []ValidatedTrip, observations []HourlyWeatherObservation) ([]EnrichedTrip, EnrichStats) {
	stats := EnrichStats{Trips: len(trips)}

	byHour := make(map[hourKey]int, len(observations))
	for i, obs := range observations {
		k := keyOf(TruncateToHour(obs.Time))
		if _, dup := byHour[k]; dup {
			stats.DuplicateHours++
			continue
		}
		byHour[k] = i
	}

	rows := make([]joined, len(trips))
	for i := range trips {
		idx, ok := byHour[keyOf(TruncateToHour(trips[i].PickupDatetime))]
		if !ok {
			continue
		}
		obs := observations[idx]
		rows[i] = joined{
			temp:     obs.TemperatureC,
			humidity: obs.HumidityPct,
			precip:   obs.PrecipitationMm,
			rain:     obs.RainMm,
			snow:     obs.SnowfallMm,
			wind:     obs.WindSpeedKmh,
			code:     obs.WeatherCode,
		}
		stats.Matched++
	}

	stats.Medians = Weather{
		TemperatureC:    columnMedian(rows, func(j joined) *float64 { return j.temp }),
		HumidityPct:     columnMedian(rows, func(j joined) *float64 { return j.humidity }),
		PrecipitationMm: columnMedian(rows, func(j joined) *float64 { return j.precip }),
		RainMm:          columnMedian(rows, func(j joined) *float64 { return j.rain }),
		SnowfallMm:      columnMedian(rows, func(j joined) *float64 { return j.snow }),
		WindSpeedKmh:    columnMedian(rows, func(j joined) *float64 { return j.wind }),
	}

	out := make([]EnrichedTrip, len(trips))
	for i := range trips {
		j := rows[i]
		e := EnrichedTrip{ValidatedTrip: trips[i]}

		e.IsRaining = j.rain != nil && *j.rain > 0
		e.IsSnowing = j.snow != nil && *j.snow > 0
		e.WeatherCondition = UnknownCondition
		if j.code != nil {
			e.WeatherCode = *j.code
			e.WeatherCondition = DecodeWeatherCode(*j.code)
		}
		e.IsBadWeather = e.IsRaining || e.IsSnowing || (j.code != nil && IsBadWeatherCode(*j.code))

		e.TemperatureC = valueOr(j.temp, stats.Medians.TemperatureC)
		e.HumidityPct = valueOr(j.humidity, stats.Medians.HumidityPct)
		e.PrecipitationMm = valueOr(j.precip, stats.Medians.PrecipitationMm)
		e.RainMm = valueOr(j.rain, stats.Medians.RainMm)
		e.SnowfallMm = valueOr(j.snow, stats.Medians.SnowfallMm)
		e.WindSpeedKmh = valueOr(j.wind, stats.Medians.WindSpeedKmh)
		e.TempCategory = TempCategory(e.TemperatureC)

		if e.IsRaining {
			stats.RainyTrips++
		}
		if i == 0 || e.TemperatureC < stats.MinTempC {
			stats.MinTempC = e.TemperatureC
		}
		if i == 0 || e.TemperatureC > stats.MaxTempC {
			stats.MaxTempC = e.TemperatureC
		}
		out[i] = e
	}

	return out, stats
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return fallback
	}
	return *v
}

func columnMedian(rows []joined, col func(joined) *float64) float64 {
	vals := make([]float64, 0, len(rows))
	for _, r := range rows {
		if v := col(r); v != nil && !math.IsNaN(*v) {
			vals = append(vals, *v)
		}
	}
	m, ok := Median(vals)
	if !ok {
		return 0
	}
	return m
}

// Median returns the middle value of vals, averaging the two middle values for
// even lengths. vals is not modified. ok is false for an empty slice.
func Median(vals []float64) (m float64, ok bool) {
	n := len(vals)
	if n == 0 {
		return 0, false
	}
	sorted := make([]float64, n)
	copy(sorted, vals)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2], true
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2, true
}
