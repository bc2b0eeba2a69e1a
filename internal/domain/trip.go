package domain

import "time"

// RawTrip is one taxi trip as ingested. Fields mirror the source CSV columns.
type RawTrip struct {
	ID               string    `json:"id"`
	VendorID         int       `json:"vendor_id"`
	PickupDatetime   time.Time `json:"pickup_datetime"`
	DropoffDatetime  time.Time `json:"dropoff_datetime"`
	PassengerCount   int       `json:"passenger_count"`
	PickupLatitude   float64   `json:"pickup_latitude"`
	PickupLongitude  float64   `json:"pickup_longitude"`
	DropoffLatitude  float64   `json:"dropoff_latitude"`
	DropoffLongitude float64   `json:"dropoff_longitude"`
	StoreAndFwdFlag  string    `json:"store_and_fwd_flag,omitempty"` // optional column, "Y" or "N"
	TripDuration     int       `json:"trip_duration"`                // seconds
}

// TimeFeatures are the calendar buckets derived from a pickup timestamp.
type TimeFeatures struct {
	Hour      int       `json:"pickup_hour"`
	Day       int       `json:"pickup_day"`
	Month     int       `json:"pickup_month"`
	DayOfWeek int       `json:"pickup_dayofweek"` // Monday=0
	Date      time.Time `json:"pickup_date"`      // midnight of the pickup day, same location
	IsWeekend bool      `json:"is_weekend"`
}

// ValidatedTrip is a RawTrip that passed every quality predicate, plus derived fields.
type ValidatedTrip struct {
	RawTrip
	TimeFeatures

	IsRushHour      bool    `json:"is_rush_hour"`
	TripDistanceKm  float64 `json:"trip_distance_km"`
	AvgSpeedKmh     float64 `json:"avg_speed_kmh"`
	TripDurationMin float64 `json:"trip_duration_min"`
}

// Weather holds the joined, back-filled weather measurements for a trip.
type Weather struct {
	TemperatureC    float64 `json:"temperature_c"`
	HumidityPct     float64 `json:"humidity_pct"`
	PrecipitationMm float64 `json:"precipitation_mm"`
	RainMm          float64 `json:"rain_mm"`
	SnowfallMm      float64 `json:"snowfall_mm"`
	WindSpeedKmh    float64 `json:"wind_speed_kmh"`
	WeatherCode     int     `json:"weather_code"`
}

// EnrichedTrip is the terminal artifact of the core pipeline.
type EnrichedTrip struct {
	ValidatedTrip
	Weather

	IsRaining        bool   `json:"is_raining"`
	IsSnowing        bool   `json:"is_snowing"`
	IsBadWeather     bool   `json:"is_bad_weather"`
	WeatherCondition string `json:"weather_condition"`
	TempCategory     string `json:"temp_category"`
}

// DateRange is an inclusive range of local calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// DateRangeOf returns the min/max pickup date spanned by trips.
// ok is false for an empty slice.
func DateRangeOf(trips []ValidatedTrip) (r DateRange, ok bool) {
	if len(trips) == 0 {
		return DateRange{}, false
	}
	r.Start, r.End = trips[0].Date, trips[0].Date
	for i := 1; i < len(trips); i++ {
		d := trips[i].Date
		if d.Before(r.Start) {
			r.Start = d
		}
		if d.After(r.End) {
			r.End = d
		}
	}
	return r, true
}

// TripSource yields enriched trips in chunks of at most n. It returns io.EOF,
// possibly alongside a final chunk, once exhausted.
type TripSource interface {
	Next(n int) ([]EnrichedTrip, error)
}
