// Package domain models NYC yellow-cab trip records and the hourly weather
// observations they are enriched with.
//
// # Data Source
//
// Trip records come from the NYC Taxi Trip Duration dataset (one CSV row per
// trip). The upstream ingestion step drops the file in place; this package never
// reads files itself, it only operates on parsed records.
//
// # Trip Data Conventions
//
// Timestamps:
//
//	"2016-03-14 17:24:55", local wall-clock time in America/New_York with no
//	offset. Parsed with [ParseTimestamp] in the configured location so that
//	hour, weekday, and date features reflect what the driver saw on the meter.
//
// Coordinates:
//
//	Decimal degrees, WGS-84. Trips are only kept when both ends fall inside the
//	NYC bounding box lat ∈ [40.4, 41.0], lon ∈ [-74.3, -73.7] (see [NYCBounds]).
//
// Durations:
//
//	trip_duration is whole seconds between pickup and dropoff as reported by
//	the vendor, not recomputed from the timestamps.
//
// # Weather Conventions
//
// Hourly observations follow the Open-Meteo archive API: one row per local
// hour at a single reference point (central Manhattan). Weather codes are WMO
// 4677 present-weather codes restricted to the subset Open-Meteo emits:
//
//	0        clear
//	1–3      mainly clear, partly cloudy, overcast
//	45, 48   fog, depositing rime fog
//	51–67    drizzle, rain, freezing rain bands
//	71–86    snow, snow grains, snow showers
//	95–99    thunderstorm, with hail
//
// Any other code decodes to "Unknown" (see [DecodeWeatherCode]).
//
// # Join Semantics
//
// Trips are matched to weather on the pickup time truncated to the local hour.
// The join keeps every trip; trips without a matching hour get the column
// median for numeric fields, weather code 0 and condition "Unknown".
package domain
