package csvfile

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
)

// ReadRaw decodes every trip from a raw CSV stream. A missing required column
// or an unparseable value fails with domain.ErrSchema.
func ReadRaw(r io.Reader, loc *time.Location) ([]domain.RawTrip, error) {
	t, err := newTable(r, RawColumns)
	if err != nil {
		return nil, err
	}
	var trips []domain.RawTrip
	for {
		rw, err := t.next()
		if errors.Is(err, io.EOF) {
			return trips, nil
		}
		if err != nil {
			return nil, err
		}
		trip := decodeRaw(rw, loc)
		if rw.err != nil {
			return nil, rw.err
		}
		trips = append(trips, trip)
	}
}

// ReadRawFile is ReadRaw over the file at path.
func ReadRawFile(path string, loc *time.Location) ([]domain.RawTrip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadRaw(bufio.NewReader(f), loc)
}

// ReadValidated decodes a processed dataset.
func ReadValidated(r io.Reader, loc *time.Location) ([]domain.ValidatedTrip, error) {
	t, err := newTable(r, ValidatedColumns)
	if err != nil {
		return nil, err
	}
	var trips []domain.ValidatedTrip
	for {
		rw, err := t.next()
		if errors.Is(err, io.EOF) {
			return trips, nil
		}
		if err != nil {
			return nil, err
		}
		trip := decodeValidated(rw, loc)
		if rw.err != nil {
			return nil, rw.err
		}
		trips = append(trips, trip)
	}
}

// ReadValidatedFile is ReadValidated over the file at path.
func ReadValidatedFile(path string, loc *time.Location) ([]domain.ValidatedTrip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return ReadValidated(bufio.NewReader(f), loc)
}

// WriteRaw encodes trips in the raw layout.
func WriteRaw(w io.Writer, trips []domain.RawTrip) error {
	return writeAll(w, RawColumns, len(trips), func(i int, rec []string) []string {
		return appendRaw(rec, trips[i])
	})
}

// WriteRawFile is WriteRaw to the file at path.
func WriteRawFile(path string, trips []domain.RawTrip) error {
	return writeFile(path, func(w io.Writer) error { return WriteRaw(w, trips) })
}

// WriteValidated encodes trips in the processed layout.
func WriteValidated(w io.Writer, trips []domain.ValidatedTrip) error {
	return writeAll(w, ValidatedColumns, len(trips), func(i int, rec []string) []string {
		return appendValidated(rec, trips[i])
	})
}

// WriteValidatedFile is WriteValidated to the file at path.
func WriteValidatedFile(path string, trips []domain.ValidatedTrip) error {
	return writeFile(path, func(w io.Writer) error { return WriteValidated(w, trips) })
}

// WriteEnriched encodes trips in the enriched layout.
func WriteEnriched(w io.Writer, trips []domain.EnrichedTrip) error {
	return writeAll(w, EnrichedColumns, len(trips), func(i int, rec []string) []string {
		return appendEnriched(rec, trips[i])
	})
}

// WriteEnrichedFile is WriteEnriched to the file at path.
func WriteEnrichedFile(path string, trips []domain.EnrichedTrip) error {
	return writeFile(path, func(w io.Writer) error { return WriteEnriched(w, trips) })
}

// EnrichedReader streams an enriched dataset in bounded chunks.
type EnrichedReader struct {
	t      *table
	loc    *time.Location
	closer io.Closer
}

// NewEnrichedReader validates the header of r and prepares chunked reads.
func NewEnrichedReader(r io.Reader, loc *time.Location) (*EnrichedReader, error) {
	t, err := newTable(r, EnrichedColumns)
	if err != nil {
		return nil, err
	}
	return &EnrichedReader{t: t, loc: loc}, nil
}

// OpenEnriched opens the enriched dataset at path. The caller must Close it.
func OpenEnriched(path string, loc *time.Location) (*EnrichedReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	er, err := NewEnrichedReader(bufio.NewReader(f), loc)
	if err != nil {
		f.Close() //nolint:errcheck // header error takes precedence
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	er.closer = f
	return er, nil
}

// Columns returns the header of the underlying file.
func (er *EnrichedReader) Columns() []string { return er.t.cols }

// Next returns up to n trips. It returns io.EOF, with no trips, once the
// stream is exhausted.
func (er *EnrichedReader) Next(n int) ([]domain.EnrichedTrip, error) {
	chunk := make([]domain.EnrichedTrip, 0, n)
	for len(chunk) < n {
		rw, err := er.t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		trip := decodeEnriched(rw, er.loc)
		if rw.err != nil {
			return nil, rw.err
		}
		chunk = append(chunk, trip)
	}
	if len(chunk) == 0 {
		return nil, io.EOF
	}
	return chunk, nil
}

// Close releases the file opened by OpenEnriched.
func (er *EnrichedReader) Close() error {
	if er.closer == nil {
		return nil
	}
	return er.closer.Close()
}

// ReadAll drains the reader.
func (er *EnrichedReader) ReadAll() ([]domain.EnrichedTrip, error) {
	var all []domain.EnrichedTrip
	for {
		chunk, err := er.Next(4096)
		if errors.Is(err, io.EOF) {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
		all = append(all, chunk...)
	}
}

// ReadEnrichedFile reads the whole enriched dataset at path.
func ReadEnrichedFile(path string, loc *time.Location) ([]domain.EnrichedTrip, error) {
	er, err := OpenEnriched(path, loc)
	if err != nil {
		return nil, err
	}
	defer er.Close()
	return er.ReadAll()
}

func decodeRaw(rw *row, loc *time.Location) domain.RawTrip {
	return domain.RawTrip{
		ID:               rw.str("id"),
		VendorID:         rw.integer("vendor_id"),
		PickupDatetime:   rw.timestamp("pickup_datetime", loc),
		DropoffDatetime:  rw.optionalTimestamp("dropoff_datetime", loc),
		PassengerCount:   rw.integer("passenger_count"),
		PickupLongitude:  rw.number("pickup_longitude"),
		PickupLatitude:   rw.number("pickup_latitude"),
		DropoffLongitude: rw.number("dropoff_longitude"),
		DropoffLatitude:  rw.number("dropoff_latitude"),
		StoreAndFwdFlag:  rw.str("store_and_fwd_flag"),
		TripDuration:     rw.integer("trip_duration"),
	}
}

func decodeValidated(rw *row, loc *time.Location) domain.ValidatedTrip {
	return domain.ValidatedTrip{
		RawTrip: decodeRaw(rw, loc),
		TimeFeatures: domain.TimeFeatures{
			Hour:      rw.integer("pickup_hour"),
			Day:       rw.integer("pickup_day"),
			Month:     rw.integer("pickup_month"),
			DayOfWeek: rw.integer("pickup_dayofweek"),
			Date:      rw.date("pickup_date", loc),
			IsWeekend: rw.flag("is_weekend"),
		},
		IsRushHour:      rw.flag("is_rush_hour"),
		TripDistanceKm:  rw.number("trip_distance_km"),
		AvgSpeedKmh:     rw.number("avg_speed_kmh"),
		TripDurationMin: rw.number("trip_duration_min"),
	}
}

func decodeEnriched(rw *row, loc *time.Location) domain.EnrichedTrip {
	return domain.EnrichedTrip{
		ValidatedTrip: decodeValidated(rw, loc),
		Weather: domain.Weather{
			TemperatureC:    rw.number("temperature_c"),
			HumidityPct:     rw.number("humidity_pct"),
			PrecipitationMm: rw.number("precipitation_mm"),
			RainMm:          rw.number("rain_mm"),
			SnowfallMm:      rw.number("snowfall_mm"),
			WindSpeedKmh:    rw.number("wind_speed_kmh"),
			WeatherCode:     rw.integer("weather_code"),
		},
		IsRaining:        rw.flag("is_raining"),
		IsSnowing:        rw.flag("is_snowing"),
		IsBadWeather:     rw.flag("is_bad_weather"),
		WeatherCondition: rw.str("weather_condition"),
		TempCategory:     rw.str("temp_category"),
	}
}

func appendRaw(rec []string, t domain.RawTrip) []string {
	return append(rec,
		t.ID,
		strconv.Itoa(t.VendorID),
		formatTimestamp(t.PickupDatetime),
		formatTimestamp(t.DropoffDatetime),
		strconv.Itoa(t.PassengerCount),
		formatFloat(t.PickupLongitude),
		formatFloat(t.PickupLatitude),
		formatFloat(t.DropoffLongitude),
		formatFloat(t.DropoffLatitude),
		t.StoreAndFwdFlag,
		strconv.Itoa(t.TripDuration),
	)
}

func appendValidated(rec []string, t domain.ValidatedTrip) []string {
	rec = appendRaw(rec, t.RawTrip)
	return append(rec,
		strconv.Itoa(t.Hour),
		strconv.Itoa(t.Day),
		strconv.Itoa(t.Month),
		strconv.Itoa(t.DayOfWeek),
		t.Date.Format(domain.DateLayout),
		formatFlag(t.IsWeekend),
		formatFlag(t.IsRushHour),
		formatFloat(t.TripDistanceKm),
		formatFloat(t.AvgSpeedKmh),
		formatFloat(t.TripDurationMin),
	)
}

func appendEnriched(rec []string, t domain.EnrichedTrip) []string {
	rec = appendValidated(rec, t.ValidatedTrip)
	return append(rec,
		formatFloat(t.TemperatureC),
		formatFloat(t.HumidityPct),
		formatFloat(t.PrecipitationMm),
		formatFloat(t.RainMm),
		formatFloat(t.SnowfallMm),
		formatFloat(t.WindSpeedKmh),
		strconv.Itoa(t.WeatherCode),
		formatFlag(t.IsRaining),
		formatFlag(t.IsSnowing),
		formatFlag(t.IsBadWeather),
		t.WeatherCondition,
		t.TempCategory,
	)
}

// writeAll writes a header and n records built by encode into a reused buffer.
func writeAll(w io.Writer, header []string, n int, encode func(i int, rec []string) []string) error {
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, 0, len(header))
	for i := 0; i < n; i++ {
		rec = encode(i, rec[:0])
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}
