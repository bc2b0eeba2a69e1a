package domain

import (
	"context"
	"time"
)

// HourlyWeatherObservation is one hour of weather at the reference point.
// Nil fields were missing from the source response.
type HourlyWeatherObservation struct {
	Time            time.Time `json:"time"`
	TemperatureC    *float64  `json:"temperature_c"`
	HumidityPct     *float64  `json:"humidity_pct"`
	PrecipitationMm *float64  `json:"precipitation_mm"`
	RainMm          *float64  `json:"rain_mm"`
	SnowfallMm      *float64  `json:"snowfall_mm"`
	WindSpeedKmh    *float64  `json:"wind_speed_kmh"`
	WeatherCode     *int      `json:"weather_code"`
}

// WeatherSource fetches hourly observations covering a date range.
type WeatherSource interface {
	// FetchHourly returns observations for every hour of r, local dates inclusive.
	// Errors wrap ErrWeatherFetch.
	FetchHourly(ctx context.Context, r DateRange) ([]HourlyWeatherObservation, error)
}

// UnknownCondition is the label for codes outside the WMO table.
const UnknownCondition = "Unknown"

var weatherConditions = map[int]string{
	0:  "Clear",
	1:  "Mainly Clear",
	2:  "Partly Cloudy",
	3:  "Overcast",
	45: "Fog",
	48: "Depositing Rime Fog",
	51: "Light Drizzle",
	53: "Moderate Drizzle",
	55: "Dense Drizzle",
	61: "Slight Rain",
	63: "Moderate Rain",
	65: "Heavy Rain",
	66: "Light Freezing Rain",
	67: "Heavy Freezing Rain",
	71: "Slight Snow",
	73: "Moderate Snow",
	75: "Heavy Snow",
	77: "Snow Grains",
	80: "Slight Rain Showers",
	81: "Moderate Rain Showers",
	82: "Violent Rain Showers",
	85: "Slight Snow Showers",
	86: "Heavy Snow Showers",
	95: "Thunderstorm",
	96: "Thunderstorm with Hail",
	99: "Thunderstorm with Heavy Hail",
}

// DecodeWeatherCode maps a WMO weather code to its label, or UnknownCondition.
func DecodeWeatherCode(code int) string {
	if label, ok := weatherConditions[code]; ok {
		return label
	}
	return UnknownCondition
}

// badWeatherCodes are fog and thunderstorm codes that count as bad weather
// regardless of measured precipitation.
var badWeatherCodes = map[int]bool{45: true, 48: true, 95: true, 96: true, 99: true}

// IsBadWeatherCode reports whether code is a fog or thunderstorm code.
func IsBadWeatherCode(code int) bool {
	return badWeatherCodes[code]
}

// Temperature category labels.
const (
	TempFreezing = "Freezing"
	TempCold     = "Cold"
	TempMild     = "Mild"
	TempWarm     = "Warm"
	TempHot      = "Hot"
)

// TempCategory buckets a temperature in °C. Bins are right-inclusive with
// breakpoints at 0, 10, 20 and 30, open-ended at both extremes:
// (-inf,0] Freezing, (0,10] Cold, (10,20] Mild, (20,30] Warm, (30,inf) Hot.
func TempCategory(tempC float64) string {
	switch {
	case tempC <= 0:
		return TempFreezing
	case tempC <= 10:
		return TempCold
	case tempC <= 20:
		return TempMild
	case tempC <= 30:
		return TempWarm
	default:
		return TempHot
	}
}
