package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/taxi-trip-etl/internal/config"
	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
	"github.com/couchcryptid/taxi-trip-etl/internal/observability"
)

// hourlyFields are requested in this order and decoded by name.
var hourlyFields = []string{
	"temperature_2m",
	"relative_humidity_2m",
	"precipitation",
	"rain",
	"snowfall",
	"wind_speed_10m",
	"weather_code",
}

const timeLayout = "2006-01-02T15:04"

// Client implements domain.WeatherSource using the Open-Meteo historical archive API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	lat, lon   float64
	loc        *time.Location
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates an archive client for the configured reference point.
// Timestamps are requested and parsed in loc.
func NewClient(cfg config.WeatherConfig, loc *time.Location, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: cfg.BaseURL,
		lat:     cfg.Latitude,
		lon:     cfg.Longitude,
		loc:     loc,
		metrics: metrics,
		logger:  logger,
	}
}

// FetchHourly returns one observation per hour of r as reported by the archive.
// Hours with a missing field keep that field nil.
func (c *Client) FetchHourly(ctx context.Context, r domain.DateRange) ([]domain.HourlyWeatherObservation, error) {
	start := r.Start.Format(domain.DateLayout)
	end := r.End.Format(domain.DateLayout)
	c.logger.Info("fetching weather", "start_date", start, "end_date", end)

	params := url.Values{
		"latitude":   {strconv.FormatFloat(c.lat, 'f', -1, 64)},
		"longitude":  {strconv.FormatFloat(c.lon, 'f', -1, 64)},
		"start_date": {start},
		"end_date":   {end},
		"hourly":     {strings.Join(hourlyFields, ",")},
		"timezone":   {c.loc.String()},
	}

	began := time.Now()
	obs, err := c.doRequest(ctx, c.baseURL+"?"+params.Encode())
	c.metrics.WeatherAPIDuration.Observe(time.Since(began).Seconds())
	if err != nil {
		c.metrics.WeatherRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s to %s: %w", domain.ErrWeatherFetch, start, end, err)
	}
	c.metrics.WeatherRequests.WithLabelValues("success").Inc()
	c.logger.Info("fetched weather", "hours", len(obs))
	return obs, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]domain.HourlyWeatherObservation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("archive request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("open-meteo API error: status %d: %s", resp.StatusCode, body)
	}

	var archive response
	if err := json.NewDecoder(resp.Body).Decode(&archive); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return archive.Hourly.observations(c.loc)
}

// Open-Meteo API response types. Every series is parallel to Time; values may
// be null and series may be shorter than Time.

type response struct {
	Hourly hourly `json:"hourly"`
}

type hourly struct {
	Time          []string   `json:"time"`
	Temperature   []*float64 `json:"temperature_2m"`
	Humidity      []*float64 `json:"relative_humidity_2m"`
	Precipitation []*float64 `json:"precipitation"`
	Rain          []*float64 `json:"rain"`
	Snowfall      []*float64 `json:"snowfall"`
	WindSpeed     []*float64 `json:"wind_speed_10m"`
	WeatherCode   []*float64 `json:"weather_code"`
}

func (h hourly) observations(loc *time.Location) ([]domain.HourlyWeatherObservation, error) {
	out := make([]domain.HourlyWeatherObservation, 0, len(h.Time))
	for i, ts := range h.Time {
		t, err := time.ParseInLocation(timeLayout, ts, loc)
		if err != nil {
			return nil, fmt.Errorf("parse hour %q: %w", ts, err)
		}
		obs := domain.HourlyWeatherObservation{
			Time:            t,
			TemperatureC:    at(h.Temperature, i),
			HumidityPct:     at(h.Humidity, i),
			PrecipitationMm: at(h.Precipitation, i),
			RainMm:          at(h.Rain, i),
			SnowfallMm:      at(h.Snowfall, i),
			WindSpeedKmh:    at(h.WindSpeed, i),
		}
		if code := at(h.WeatherCode, i); code != nil {
			n := int(*code)
			obs.WeatherCode = &n
		}
		out = append(out, obs)
	}
	return out, nil
}

func at(series []*float64, i int) *float64 {
	if i >= len(series) {
		return nil
	}
	return series[i]
}
