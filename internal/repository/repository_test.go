package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStationLifecycle(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()

	repo.PutStation(&Station{
		ID: "st1", Mountpoint: "VRS01", Latitude: 21.0285, Longitude: 105.8542,
		UpstreamHost: "caster.example", UpstreamPort: 2101, UpstreamMountpoint: "SRC",
		Status: StatusInactive,
	})

	got, err := repo.StationFindByName(ctx, "VRS01")
	require.NoError(t, err)
	assert.Equal(t, "st1", got.ID)

	active, err := repo.StationFindActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, repo.StationUpdateStatus(ctx, "st1", StatusActive))
	active, err = repo.StationFindActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "st1", active[0].ID)

	_, err = repo.StationFindByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRoverEffectiveActive(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	active := Rover{Status: StatusActive}
	assert.True(t, active.EffectiveActive(now))

	inactive := Rover{Status: StatusInactive}
	assert.False(t, inactive.EffectiveActive(now))

	yesterday := now.Add(-24 * time.Hour)
	expired := Rover{Status: StatusActive, EndDate: &yesterday}
	assert.False(t, expired.EffectiveActive(now))

	tomorrow := now.Add(24 * time.Hour)
	notYetStarted := Rover{Status: StatusActive, StartDate: &tomorrow}
	assert.False(t, notYetStarted.EffectiveActive(now))
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("rover123")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "rover123"))
	assert.False(t, CheckPassword(hash, "wrong"))
}

func TestStationValidate(t *testing.T) {
	s := Station{
		ID: "st1", Mountpoint: "VRS01", Latitude: 999, Longitude: 0,
		UpstreamHost: "h", UpstreamPort: 2101, UpstreamMountpoint: "SRC",
		Status: StatusActive,
	}
	assert.Error(t, s.Validate())

	s.Latitude = 21.0285
	assert.NoError(t, s.Validate())
}
