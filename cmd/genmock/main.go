// Command genmock writes a deterministic synthetic raw trip CSV in the layout
// of the Kaggle NYC taxi trip duration dataset. A small share of rows is
// deliberately invalid so every validation filter has something to remove.
//
// Usage:
//
//	go run ./cmd/genmock --out data/raw/train.csv --trips 50000 --seed 7
package main

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/couchcryptid/taxi-trip-etl/internal/adapter/csvfile"
	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
)

type cli struct {
	Out      string    `help:"Output CSV path." default:"data/raw/train.csv" type:"path"`
	Trips    int       `help:"Number of trips to generate." default:"10000"`
	Seed     uint64    `help:"Random seed." default:"7"`
	Start    time.Time `help:"First pickup day (YYYY-MM-DD)." default:"2016-01-01" format:"2006-01-02"`
	Days     int       `help:"Number of days the pickups span." default:"31"`
	Timezone string    `help:"IANA timezone of the pickup timestamps." default:"America/New_York"`
	Invalid  float64   `help:"Share of rows made invalid, in [0, 1]." default:"0.03"`
}

// place is a pickup or dropoff hotspot.
type place struct {
	name     string
	lat, lon float64
	weight   int
}

var places = []place{
	{"midtown", 40.7549, -73.9840, 30},
	{"financial_district", 40.7075, -74.0113, 12},
	{"upper_east_side", 40.7736, -73.9566, 14},
	{"upper_west_side", 40.7870, -73.9754, 10},
	{"chelsea", 40.7465, -74.0014, 10},
	{"williamsburg", 40.7081, -73.9571, 6},
	{"lga", 40.7769, -73.8740, 5},
	{"jfk", 40.6413, -73.7781, 4},
	{"astoria", 40.7644, -73.9235, 4},
	{"harlem", 40.8116, -73.9465, 5},
}

func main() {
	var c cli
	kong.Parse(&c, kong.Name("genmock"), kong.Description("Generate synthetic raw taxi trips."))
	if err := run(c); err != nil {
		slog.Error("genmock failed", "error", err)
		os.Exit(1)
	}
}

func run(c cli) error {
	if c.Trips < 1 || c.Days < 1 {
		return fmt.Errorf("--trips and --days must be positive")
	}
	if c.Invalid < 0 || c.Invalid > 1 {
		return fmt.Errorf("--invalid must be within [0, 1]")
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}
	start := time.Date(c.Start.Year(), c.Start.Month(), c.Start.Day(), 0, 0, 0, 0, loc)

	g := newGenerator(rand.New(rand.NewPCG(c.Seed, c.Seed)), start, c.Days, c.Invalid)
	trips := g.trips(c.Trips)
	if err := csvfile.WriteRawFile(c.Out, trips); err != nil {
		return err
	}

	kept, report := domain.ValidateTrips(trips)
	slog.Info("synthetic trips written",
		"path", c.Out,
		"trips", len(trips),
		"valid", len(kept),
		"removed_pct", report.RemovedPct(),
	)
	return nil
}

type generator struct {
	rng     *rand.Rand
	start   time.Time
	days    int
	invalid float64
	total   int
}

func newGenerator(rng *rand.Rand, start time.Time, days int, invalid float64) *generator {
	g := &generator{rng: rng, start: start, days: days, invalid: invalid}
	for _, p := range places {
		g.total += p.weight
	}
	return g
}

func (g *generator) trips(n int) []domain.RawTrip {
	out := make([]domain.RawTrip, n)
	for i := range out {
		out[i] = g.trip(i)
		if g.rng.Float64() < g.invalid {
			g.corrupt(&out[i])
		}
	}
	return out
}

func (g *generator) trip(i int) domain.RawTrip {
	pickup := g.pickupTime()
	from, to := g.place(), g.place()
	pLat, pLon := g.jitter(from)
	dLat, dLon := g.jitter(to)

	dist := domain.DistanceKm(pLat, pLon, dLat, dLon)
	speed := 22.0
	if domain.IsRushHour(domain.DeriveTimeFeatures(pickup)) {
		speed = 14
	}
	speed *= 0.75 + g.rng.Float64()*0.5
	duration := int(math.Round(dist/speed*3600)) + 90 + g.rng.IntN(120)

	flag := "N"
	if g.rng.IntN(100) == 0 {
		flag = "Y"
	}

	return domain.RawTrip{
		ID:               fmt.Sprintf("id%07d", i),
		VendorID:         1 + g.rng.IntN(2),
		PickupDatetime:   pickup,
		DropoffDatetime:  pickup.Add(time.Duration(duration) * time.Second),
		PassengerCount:   g.passengers(),
		PickupLatitude:   pLat,
		PickupLongitude:  pLon,
		DropoffLatitude:  dLat,
		DropoffLongitude: dLon,
		StoreAndFwdFlag:  flag,
		TripDuration:     duration,
	}
}

// pickupTime favours daytime hours over the small hours.
func (g *generator) pickupTime() time.Time {
	day := g.start.AddDate(0, 0, g.rng.IntN(g.days))
	hour := g.rng.IntN(24)
	if hour < 5 && g.rng.IntN(2) == 0 {
		hour += 8
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, g.rng.IntN(60), g.rng.IntN(60), 0, day.Location())
}

func (g *generator) place() place {
	n := g.rng.IntN(g.total)
	for _, p := range places {
		if n < p.weight {
			return p
		}
		n -= p.weight
	}
	return places[0]
}

func (g *generator) jitter(p place) (lat, lon float64) {
	return p.lat + g.rng.NormFloat64()*0.008, p.lon + g.rng.NormFloat64()*0.008
}

func (g *generator) passengers() int {
	switch r := g.rng.IntN(100); {
	case r < 70:
		return 1
	case r < 85:
		return 2
	case r < 92:
		return 3
	case r < 97:
		return 5
	default:
		return 6
	}
}

// corrupt makes t fail validation.
func (g *generator) corrupt(t *domain.RawTrip) {
	switch g.rng.IntN(4) {
	case 0:
		t.TripDuration = g.rng.IntN(domain.MinTripDurationSec)
	case 1:
		t.PickupLatitude, t.PickupLongitude = 0, 0
	case 2:
		t.PassengerCount = 0
	default:
		t.TripDuration = domain.MaxTripDurationSec + 1 + g.rng.IntN(3600)
	}
	t.DropoffDatetime = t.PickupDatetime.Add(time.Duration(t.TripDuration) * time.Second)
}
