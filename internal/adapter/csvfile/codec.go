// Package csvfile reads and writes the pipeline's tabular datasets.
//
// Each dataset is a header-named CSV. Raw files follow the public NYC taxi
// trip-duration layout; processed and enriched files append derived columns.
// Timestamps are written as local wall-clock "YYYY-MM-DD HH:MM:SS", dates as
// "YYYY-MM-DD" and flags as 0/1.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
)

// Column sets, in file order.
var (
	RawColumns = []string{
		"id", "vendor_id", "pickup_datetime", "dropoff_datetime", "passenger_count",
		"pickup_longitude", "pickup_latitude", "dropoff_longitude", "dropoff_latitude",
		"store_and_fwd_flag", "trip_duration",
	}
	derivedColumns = []string{
		"pickup_hour", "pickup_day", "pickup_month", "pickup_dayofweek", "pickup_date",
		"is_weekend", "is_rush_hour", "trip_distance_km", "avg_speed_kmh", "trip_duration_min",
	}
	weatherColumns = []string{
		"temperature_c", "humidity_pct", "precipitation_mm", "rain_mm", "snowfall_mm",
		"wind_speed_kmh", "weather_code", "is_raining", "is_snowing", "is_bad_weather",
		"weather_condition", "temp_category",
	}

	ValidatedColumns = slices.Concat(RawColumns, derivedColumns)
	EnrichedColumns  = slices.Concat(ValidatedColumns, weatherColumns)
)

// optionalColumns may be absent from any input file.
var optionalColumns = map[string]bool{
	"dropoff_datetime":   true,
	"store_and_fwd_flag": true,
}

// table is a header-indexed CSV stream.
type table struct {
	r    *csv.Reader
	idx  map[string]int
	cols []string
	line int
}

func newTable(r io.Reader, required []string) (*table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file, no header", domain.ErrSchema)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %w", domain.ErrSchema, err)
	}

	t := &table{r: cr, idx: make(map[string]int, len(header)), line: 1}
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		t.idx[name] = i
		t.cols = append(t.cols, name)
	}

	var missing []string
	for _, col := range required {
		if _, ok := t.idx[col]; !ok && !optionalColumns[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns: %s", domain.ErrSchema, strings.Join(missing, ", "))
	}
	return t, nil
}

// next returns the next record, or io.EOF.
func (t *table) next() (*row, error) {
	rec, err := t.r.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	t.line++
	if err != nil {
		return nil, fmt.Errorf("%w: line %d: %w", domain.ErrSchema, t.line, err)
	}
	return &row{rec: rec, idx: t.idx, line: t.line}, nil
}

// row decodes typed fields from one record. The first failure sticks in err.
type row struct {
	rec  []string
	idx  map[string]int
	line int
	err  error
}

func (r *row) fail(col string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: line %d column %s: %w", domain.ErrSchema, r.line, col, err)
	}
}

func (r *row) str(col string) string {
	i, ok := r.idx[col]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

func (r *row) integer(col string) int {
	s := r.str(col)
	n, err := strconv.Atoi(s)
	if err != nil {
		// Integer columns written by a float-typed tool come back as "3.0".
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			r.fail(col, err)
			return 0
		}
		n = int(f)
	}
	return n
}

func (r *row) number(col string) float64 {
	f, err := strconv.ParseFloat(r.str(col), 64)
	if err != nil {
		r.fail(col, err)
	}
	return f
}

func (r *row) flag(col string) bool {
	switch strings.ToLower(r.str(col)) {
	case "1", "true", "1.0":
		return true
	case "0", "false", "0.0":
		return false
	default:
		r.fail(col, fmt.Errorf("invalid flag %q", r.str(col)))
		return false
	}
}

func (r *row) timestamp(col string, loc *time.Location) time.Time {
	t, err := domain.ParseTimestamp(r.str(col), loc)
	if err != nil {
		r.fail(col, err)
	}
	return t
}

// optionalTimestamp returns the zero time for an absent or empty column.
func (r *row) optionalTimestamp(col string, loc *time.Location) time.Time {
	if r.str(col) == "" {
		return time.Time{}
	}
	return r.timestamp(col, loc)
}

func (r *row) date(col string, loc *time.Location) time.Time {
	s := r.str(col)
	// Accept a full timestamp too; some tools write dates with a midnight time part.
	if len(s) > len(domain.DateLayout) {
		s = s[:len(domain.DateLayout)]
	}
	t, err := time.ParseInLocation(domain.DateLayout, s, loc)
	if err != nil {
		r.fail(col, err)
	}
	return t
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(domain.TimestampLayout)
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func formatFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// createFile opens path for writing, creating parent directories.
func createFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

// writeFile streams records produced by write to path.
func writeFile(path string, write func(io.Writer) error) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close() //nolint:errcheck // write error takes precedence
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
