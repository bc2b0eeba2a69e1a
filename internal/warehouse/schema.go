// Package warehouse replace-loads enriched trips into a relational table.
package warehouse

import (
	"fmt"
	"strings"
	"time"

	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
)

// Kind is a warehouse column type.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindTimestamp
	KindDate
)

// Column is one warehouse column with its explicit type.
type Column struct {
	Name string
	Kind Kind
	Size int // VARCHAR length for KindString
}

// SQLType returns the column's declared type. The names are accepted by both
// Postgres and SQLite.
func (c Column) SQLType() string {
	switch c.Kind {
	case KindString:
		return fmt.Sprintf("VARCHAR(%d)", c.Size)
	case KindInt:
		return "INTEGER"
	case KindFloat:
		return "DOUBLE PRECISION"
	case KindTimestamp:
		return "TIMESTAMP"
	case KindDate:
		return "DATE"
	default:
		panic(fmt.Sprintf("warehouse: unknown column kind %d", c.Kind))
	}
}

// Columns is the enriched trip table layout, in insert order. Flags are
// stored as 0/1 integers.
var Columns = []Column{
	{Name: "id", Kind: KindString, Size: 50},
	{Name: "vendor_id", Kind: KindInt},
	{Name: "pickup_datetime", Kind: KindTimestamp},
	{Name: "dropoff_datetime", Kind: KindTimestamp},
	{Name: "passenger_count", Kind: KindInt},
	{Name: "pickup_longitude", Kind: KindFloat},
	{Name: "pickup_latitude", Kind: KindFloat},
	{Name: "dropoff_longitude", Kind: KindFloat},
	{Name: "dropoff_latitude", Kind: KindFloat},
	{Name: "store_and_fwd_flag", Kind: KindString, Size: 5},
	{Name: "trip_duration", Kind: KindInt},
	{Name: "pickup_hour", Kind: KindInt},
	{Name: "pickup_day", Kind: KindInt},
	{Name: "pickup_month", Kind: KindInt},
	{Name: "pickup_dayofweek", Kind: KindInt},
	{Name: "pickup_date", Kind: KindDate},
	{Name: "is_weekend", Kind: KindInt},
	{Name: "is_rush_hour", Kind: KindInt},
	{Name: "trip_distance_km", Kind: KindFloat},
	{Name: "avg_speed_kmh", Kind: KindFloat},
	{Name: "trip_duration_min", Kind: KindFloat},
	{Name: "temperature_c", Kind: KindFloat},
	{Name: "humidity_pct", Kind: KindFloat},
	{Name: "precipitation_mm", Kind: KindFloat},
	{Name: "rain_mm", Kind: KindFloat},
	{Name: "snowfall_mm", Kind: KindFloat},
	{Name: "wind_speed_kmh", Kind: KindFloat},
	{Name: "weather_code", Kind: KindInt},
	{Name: "is_raining", Kind: KindInt},
	{Name: "is_snowing", Kind: KindInt},
	{Name: "is_bad_weather", Kind: KindInt},
	{Name: "weather_condition", Kind: KindString, Size: 50},
	{Name: "temp_category", Kind: KindString, Size: 20},
}

// ColumnNames returns the names of Columns in order.
func ColumnNames() []string {
	names := make([]string, len(Columns))
	for i, c := range Columns {
		names[i] = c.Name
	}
	return names
}

// Index is a secondary index created after the load.
type Index struct {
	Name    string
	Columns []string
}

// Indexes returns the indexes for table.
func Indexes(table string) []Index {
	return []Index{
		{Name: "idx_" + table + "_pickup_datetime", Columns: []string{"pickup_datetime"}},
		{Name: "idx_" + table + "_pickup_date", Columns: []string{"pickup_date"}},
		{Name: "idx_" + table + "_weather", Columns: []string{"is_raining", "is_bad_weather"}},
	}
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func dropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + quote(table)
}

func createTableSQL(table string) string {
	defs := make([]string, len(Columns))
	for i, c := range Columns {
		defs[i] = quote(c.Name) + " " + c.SQLType()
	}
	return "CREATE TABLE " + quote(table) + " (\n\t" + strings.Join(defs, ",\n\t") + "\n)"
}

func createIndexSQL(table string, idx Index) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = quote(c)
	}
	return "CREATE INDEX IF NOT EXISTS " + quote(idx.Name) + " ON " + quote(table) + " (" + strings.Join(cols, ", ") + ")"
}

func countSQL(table string) string {
	return "SELECT COUNT(*) FROM " + quote(table)
}

// rowValues returns t's values in Columns order. Timestamps keep their local
// wall clock; an absent dropoff time or flag is NULL.
func rowValues(t *domain.EnrichedTrip) []any {
	return []any{
		t.ID,
		int64(t.VendorID),
		t.PickupDatetime,
		nullTime(t.DropoffDatetime),
		int64(t.PassengerCount),
		t.PickupLongitude,
		t.PickupLatitude,
		t.DropoffLongitude,
		t.DropoffLatitude,
		nullString(t.StoreAndFwdFlag),
		int64(t.TripDuration),
		int64(t.Hour),
		int64(t.Day),
		int64(t.Month),
		int64(t.DayOfWeek),
		t.Date,
		flag(t.IsWeekend),
		flag(t.IsRushHour),
		t.TripDistanceKm,
		t.AvgSpeedKmh,
		t.TripDurationMin,
		t.TemperatureC,
		t.HumidityPct,
		t.PrecipitationMm,
		t.RainMm,
		t.SnowfallMm,
		t.WindSpeedKmh,
		int64(t.WeatherCode),
		flag(t.IsRaining),
		flag(t.IsSnowing),
		flag(t.IsBadWeather),
		t.WeatherCondition,
		t.TempCategory,
	}
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func flag(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
