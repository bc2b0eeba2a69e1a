// Command validate checks an enriched trip dataset against the pipeline's
// data quality rules: filter bounds, derived feature consistency, weather
// decoding, and row parity with the processed dataset. It exits non-zero if
// any check fails.
//
// Usage:
//
//	go run ./cmd/validate \
//	  --enriched data/processed/enriched_taxi_data.csv \
//	  --processed data/processed/cleaned_taxi_data.csv
package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/couchcryptid/taxi-trip-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
)

// maxErrorsShown caps the detail printed per phase.
const maxErrorsShown = 20

const tolerance = 1e-6

type cli struct {
	Enriched  string `help:"Enriched CSV to check." default:"data/processed/enriched_taxi_data.csv" type:"existingfile"`
	Processed string `help:"Processed CSV whose row count must match; skipped when empty." type:"path"`
	Timezone  string `help:"IANA timezone of the trip timestamps." default:"America/New_York"`
}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	var c cli
	kong.Parse(&c, kong.Name("validate"), kong.Description("Check an enriched trip dataset."))
	os.Exit(run(c))
}

func run(c cli) int {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load timezone: %v\n", err)
		return 1
	}

	fmt.Println("=== Taxi Trip Data Validation ===")
	fmt.Println()

	trips, err := csvfile.ReadEnrichedFile(c.Enriched, loc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load enriched trips: %v\n", err)
		return 1
	}

	phases := checkTrips(trips)
	if c.Processed != "" {
		processed, err := csvfile.ReadValidatedFile(c.Processed, loc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load processed trips: %v\n", err)
			return 1
		}
		phases = append(phases, checkParity(processed, trips))
	}

	return report(phases, len(trips))
}

// checkTrips runs every per-row phase over trips.
func checkTrips(trips []domain.EnrichedTrip) []*phase {
	filters := &phase{name: "Filter bounds"}
	features := &phase{name: "Derived features"}
	weather := &phase{name: "Weather fields"}
	ids := &phase{name: "Unique trip IDs"}

	seen := make(map[string]int, len(trips))
	for i := range trips {
		t := &trips[i]
		checkFilters(filters, t)
		checkFeatures(features, t)
		checkWeather(weather, t)

		if prev, ok := seen[t.ID]; ok {
			ids.errorf("%s: duplicate of row %d", t.ID, prev+1)
		}
		seen[t.ID] = i
	}
	return []*phase{filters, features, weather, ids}
}

func checkFilters(p *phase, t *domain.EnrichedTrip) {
	v := t.ValidatedTrip
	if !domain.DurationInRange(v) {
		p.errorf("%s: trip_duration %d outside [%d, %d]", t.ID, t.TripDuration, domain.MinTripDurationSec, domain.MaxTripDurationSec)
	}
	if !domain.WithinNYC(v) {
		p.errorf("%s: coordinates outside the NYC bounding box", t.ID)
	}
	if !domain.HasPassengers(v) {
		p.errorf("%s: passenger_count %d", t.ID, t.PassengerCount)
	}
	if !domain.SpeedInRange(v) {
		p.errorf("%s: avg_speed_kmh %.3f outside [%.1f, %.1f]", t.ID, t.AvgSpeedKmh, domain.MinAvgSpeedKmh, domain.MaxAvgSpeedKmh)
	}
}

func checkFeatures(p *phase, t *domain.EnrichedTrip) {
	want := domain.DeriveFeatures(t.RawTrip)

	if !sameTimeFeatures(want.TimeFeatures, t.TimeFeatures) {
		p.errorf("%s: time features %+v, want %+v", t.ID, t.TimeFeatures, want.TimeFeatures)
	}
	if want.IsRushHour != t.IsRushHour {
		p.errorf("%s: is_rush_hour %t at hour %d", t.ID, t.IsRushHour, t.Hour)
	}
	if t.IsWeekend && t.IsRushHour {
		p.errorf("%s: weekend trip flagged as rush hour", t.ID)
	}
	if !near(want.TripDistanceKm, t.TripDistanceKm) {
		p.errorf("%s: trip_distance_km %.6f, want %.6f", t.ID, t.TripDistanceKm, want.TripDistanceKm)
	}
	if !near(want.AvgSpeedKmh, t.AvgSpeedKmh) {
		p.errorf("%s: avg_speed_kmh %.6f, want %.6f", t.ID, t.AvgSpeedKmh, want.AvgSpeedKmh)
	}
	if !near(want.TripDurationMin, t.TripDurationMin) {
		p.errorf("%s: trip_duration_min %.4f, want %.4f", t.ID, t.TripDurationMin, want.TripDurationMin)
	}
}

func sameTimeFeatures(a, b domain.TimeFeatures) bool {
	return a.Hour == b.Hour && a.Day == b.Day && a.Month == b.Month &&
		a.DayOfWeek == b.DayOfWeek && a.IsWeekend == b.IsWeekend && a.Date.Equal(b.Date)
}

// checkWeather verifies the weather columns agree with each other. Flags are
// computed before back-fill, so a filled rain_mm may be positive on a trip
// that is not raining, but never the other way round.
func checkWeather(p *phase, t *domain.EnrichedTrip) {
	if t.WeatherCondition != domain.UnknownCondition && t.WeatherCondition != domain.DecodeWeatherCode(t.WeatherCode) {
		p.errorf("%s: weather_condition %q does not match code %d", t.ID, t.WeatherCondition, t.WeatherCode)
	}
	if got := domain.TempCategory(t.TemperatureC); got != t.TempCategory {
		p.errorf("%s: temp_category %q for %.1f°C, want %q", t.ID, t.TempCategory, t.TemperatureC, got)
	}
	if t.IsRaining && !(t.RainMm > 0) {
		p.errorf("%s: is_raining with rain_mm %.2f", t.ID, t.RainMm)
	}
	if t.IsSnowing && !(t.SnowfallMm > 0) {
		p.errorf("%s: is_snowing with snowfall_mm %.2f", t.ID, t.SnowfallMm)
	}
	if (t.IsRaining || t.IsSnowing) && !t.IsBadWeather {
		p.errorf("%s: precipitation without is_bad_weather", t.ID)
	}
	if t.IsBadWeather && !t.IsRaining && !t.IsSnowing && !domain.IsBadWeatherCode(t.WeatherCode) {
		p.errorf("%s: is_bad_weather without precipitation or a fog/thunderstorm code", t.ID)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"temperature_c", t.TemperatureC},
		{"humidity_pct", t.HumidityPct},
		{"precipitation_mm", t.PrecipitationMm},
		{"rain_mm", t.RainMm},
		{"snowfall_mm", t.SnowfallMm},
		{"wind_speed_kmh", t.WindSpeedKmh},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			p.errorf("%s: %s is %v after back-fill", t.ID, f.name, f.v)
		}
	}
}

// checkParity verifies enrichment neither dropped nor added trips.
func checkParity(processed []domain.ValidatedTrip, enriched []domain.EnrichedTrip) *phase {
	p := &phase{name: "Processed/enriched parity"}
	if len(processed) != len(enriched) {
		p.errorf("row count: %d processed, %d enriched", len(processed), len(enriched))
		return p
	}
	for i := range processed {
		if processed[i].ID != enriched[i].ID {
			p.errorf("row %d: processed %s, enriched %s", i+1, processed[i].ID, enriched[i].ID)
		}
	}
	return p
}

func near(want, got float64) bool {
	return math.Abs(want-got) <= tolerance*math.Max(1, math.Abs(want))
}

func report(phases []*phase, rows int) int {
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d enriched\n", rows)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i == maxErrorsShown {
				fmt.Printf("  ... %d more\n", len(p.errors)-maxErrorsShown)
				break
			}
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}
