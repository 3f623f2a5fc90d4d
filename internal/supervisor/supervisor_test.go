package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bramburn/ntrip-relay/internal/caster"
	"github.com/bramburn/ntrip-relay/internal/repository"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *repository.Memory, *caster.Server) {
	t.Helper()
	repo := repository.NewMemory()
	cstr := caster.NewServer(caster.Config{Host: "127.0.0.1", Port: 0}, repo, nil)
	require.NoError(t, cstr.Start())
	t.Cleanup(func() { cstr.Stop() })
	return New(repo, cstr, nil), repo, cstr
}

func station(id, mountpoint string, status repository.Status) *repository.Station {
	return &repository.Station{
		ID:                 id,
		Mountpoint:         mountpoint,
		Latitude:           21.0285,
		Longitude:          105.8542,
		UpstreamHost:       "127.0.0.1",
		UpstreamPort:       59999, // nothing listening; Source Client will just backoff
		UpstreamMountpoint: "SRC",
		Status:             status,
	}
}

func TestStopAbsentMountpointIsNoop(t *testing.T) {
	sv, _, _ := newTestSupervisor(t)
	assert.NotPanics(t, func() { sv.Stop("does-not-exist", true) })
}

func TestStartRegistersMountpointOnCaster(t *testing.T) {
	sv, repo, cstr := newTestSupervisor(t)
	repo.PutStation(station("st1", "VRS01", repository.StatusInactive))

	res, err := sv.Start(context.Background(), "st1")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.False(t, res.AlreadyRunning)

	// registerMountpoint must be reflected in the sourcetable immediately.
	body := string(cstr.Sourcetable())
	assert.Contains(t, body, "VRS01")

	t.Cleanup(func() { sv.Stop("VRS01", false) })
}

func TestStartMissingUpstreamFieldsIsConfigurationError(t *testing.T) {
	sv, repo, _ := newTestSupervisor(t)
	repo.PutStation(&repository.Station{ID: "st2", Mountpoint: "VRS02", Status: repository.StatusInactive})

	_, err := sv.Start(context.Background(), "st2")
	assert.ErrorIs(t, err, ErrConfigurationError)
}

func TestSyncReconcilesStationSet(t *testing.T) {
	sv, repo, cstr := newTestSupervisor(t)
	repo.PutStation(station("stA", "A", repository.StatusActive))
	repo.PutStation(station("stB", "B", repository.StatusActive))

	require.NoError(t, sv.SyncWithRepository(context.Background()))

	sv.mu.Lock()
	_, hasA := sv.sessions["A"]
	_, hasB := sv.sessions["B"]
	sv.mu.Unlock()
	assert.True(t, hasA)
	assert.True(t, hasB)
	assert.Equal(t, 0, cstr.SubscriberCount("A")) // registered, zero subscribers

	repo.PutStation(station("stB", "B", repository.StatusInactive))
	require.NoError(t, sv.SyncWithRepository(context.Background()))

	sv.mu.Lock()
	_, hasA = sv.sessions["A"]
	_, hasB = sv.sessions["B"]
	sv.mu.Unlock()
	assert.True(t, hasA)
	assert.False(t, hasB)

	t.Cleanup(sv.Shutdown)
}

func TestStatusOfflineWithoutRecentData(t *testing.T) {
	sv, repo, _ := newTestSupervisor(t)
	repo.PutStation(station("st1", "VRS01", repository.StatusInactive))

	_, err := sv.Start(context.Background(), "st1")
	require.NoError(t, err)
	t.Cleanup(func() { sv.Stop("VRS01", false) })

	time.Sleep(50 * time.Millisecond)
	report := sv.Status()
	assert.True(t, report.CasterRunning)
	assert.Equal(t, 1, report.TotalRelays)
	assert.Equal(t, 0, report.TotalRovers)
	require.Len(t, report.Relays, 1)
	assert.False(t, report.Relays[0].SourceConnected)
}

func TestStationStatusOfflineWithoutUpstreamData(t *testing.T) {
	sv, repo, _ := newTestSupervisor(t)
	repo.PutStation(station("st1", "VRS01", repository.StatusInactive))

	_, err := sv.Start(context.Background(), "st1")
	require.NoError(t, err)
	t.Cleanup(func() { sv.Stop("VRS01", false) })

	// Nothing listens on the upstream port, so no frame ever arrives and the
	// running station is reported offline.
	time.Sleep(50 * time.Millisecond)
	status, err := sv.StationStatus(context.Background(), "st1")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.False(t, status.SourceConnected)
	assert.Equal(t, "127.0.0.1", status.SourceHost)
	assert.Equal(t, "SRC", status.SourceMountpoint)
}

func TestStationStatusUnknownStationIsNil(t *testing.T) {
	sv, _, _ := newTestSupervisor(t)
	status, err := sv.StationStatus(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, status)
}
