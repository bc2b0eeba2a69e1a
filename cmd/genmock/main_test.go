package main

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/couchcryptid/taxi-trip-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGenerator(t *testing.T, invalid float64) *generator {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	start := time.Date(2016, 1, 1, 0, 0, 0, 0, loc)
	return newGenerator(rand.New(rand.NewPCG(7, 7)), start, 31, invalid)
}

func TestGenerator_Deterministic(t *testing.T) {
	a := testGenerator(t, 0.05).trips(200)
	b := testGenerator(t, 0.05).trips(200)
	assert.Equal(t, a, b)
}

func TestGenerator_CleanTripsPassValidation(t *testing.T) {
	trips := testGenerator(t, 0).trips(500)

	kept, report := domain.ValidateTrips(trips)
	// Jitter occasionally pushes a point past the box or a speed past a bound.
	assert.GreaterOrEqual(t, len(kept), 490)
	assert.Equal(t, 500, report.Input)

	for _, tr := range trips {
		assert.Equal(t, tr.TripDuration, int(tr.DropoffDatetime.Sub(tr.PickupDatetime).Seconds()))
		assert.True(t, tr.PickupDatetime.Month() == time.January)
	}
}

func TestGenerator_CorruptTripsAreRemoved(t *testing.T) {
	g := testGenerator(t, 0)
	trips := g.trips(100)
	for i := range trips {
		g.corrupt(&trips[i])
	}

	kept, _ := domain.ValidateTrips(trips)
	assert.Empty(t, kept)
}
