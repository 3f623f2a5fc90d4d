// Package supervisor implements the Relay Supervisor (spec.md §4.3): the
// single source of truth for which Source Client relays are running. It
// binds persisted Station configuration to live Source Client sessions and
// keeps the Caster Server's mountpoint registry reconciled against the
// Repository's active set. Structured like the teacher's pkg/server.Server
// in spirit (one owned goroutine per session, a mutex-guarded map, explicit
// start/stop), generalized to own heterogeneous sessions instead of one
// kind of listener.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bramburn/ntrip-relay/internal/analytics"
	"github.com/bramburn/ntrip-relay/internal/caster"
	"github.com/bramburn/ntrip-relay/internal/repository"
	"github.com/bramburn/ntrip-relay/internal/source"
	"github.com/bramburn/ntrip-relay/internal/wire"
)

// dataLivenessWindow is T_data from spec.md §4.1/§4.3: the window within
// which lastDataAt must fall for a station to be considered online.
const dataLivenessWindow = 15 * time.Second

// keepAliveInterval is how often the Supervisor resends the station's own
// position as a keep-alive GGA while a session is connected (spec.md §4.1).
const keepAliveInterval = 60 * time.Second

// keepAliveAltitude is the fixed altitude the Supervisor reports for its
// VRS keep-alive sentences. Treated as configuration, not truth, per
// spec.md §9's open question on NMEA altitude default; the station's real
// elevation is not modeled.
const keepAliveAltitude = 100.0

// relaySession is one Source Session (spec.md §3): a running Source Client
// plus the bookkeeping the Supervisor needs to stop it cleanly.
type relaySession struct {
	stationID   string
	stationName string
	mountpoint  string
	client      *source.Client
	frames      *analytics.FrameCounter

	stopKeepAlive chan struct{}
	keepAliveOnce sync.Once
}

// Supervisor owns every relaySession keyed by mountpoint name (spec.md
// §4.3). Exactly one Supervisor is constructed per process, bound to one
// Repository and one Caster Server.
type Supervisor struct {
	repo   repository.Repository
	caster *caster.Server
	log    logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*relaySession
}

// New constructs a Supervisor bound to repo and cstr.
func New(repo repository.Repository, cstr *caster.Server, log logrus.FieldLogger) *Supervisor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Supervisor{
		repo:     repo,
		caster:   cstr,
		log:      log.WithField("component", "supervisor"),
		sessions: make(map[string]*relaySession),
	}
}

// StartResult is the admin-facing outcome of Start (spec.md §6 startRelay).
type StartResult struct {
	OK             bool
	Message        string
	AlreadyRunning bool
}

// Start loads the station and begins relaying it (spec.md §4.3). If a
// session already exists and is connected, this is a no-op returning
// AlreadyRunning. If a session exists but is not connected, it is stopped
// and recreated.
func (sv *Supervisor) Start(ctx context.Context, stationID string) (StartResult, error) {
	st, err := sv.repo.StationFindByID(ctx, stationID)
	if err != nil {
		return StartResult{}, fmt.Errorf("supervisor: start: %w", err)
	}
	if err := st.Validate(); err != nil {
		return StartResult{}, fmt.Errorf("%w: %v", ErrConfigurationError, err)
	}

	sv.mu.Lock()
	existing, ok := sv.sessions[st.Mountpoint]
	alreadyConnected := ok && existing.client.Stats().Connected
	sv.mu.Unlock()

	if alreadyConnected {
		return StartResult{OK: true, Message: "already running", AlreadyRunning: true}, nil
	}
	if ok {
		sv.Stop(st.Mountpoint, false)
	}

	sv.caster.RegisterMountpoint(caster.MountpointMeta{
		Name:        st.Mountpoint,
		Identifier:  st.Mountpoint,
		Latitude:    st.Latitude,
		Longitude:   st.Longitude,
		CountryCode: st.Country,
		NavSystem:   st.NavSystem,
		Network:     st.Network,
	})

	sess := &relaySession{
		stationID:     st.ID,
		stationName:   firstNonEmpty(st.Description, st.Mountpoint),
		mountpoint:    st.Mountpoint,
		frames:        analytics.NewFrameCounter(),
		stopKeepAlive: make(chan struct{}),
	}
	sess.client = source.New(source.Config{
		Host:       st.UpstreamHost,
		Port:       st.UpstreamPort,
		Mountpoint: st.UpstreamMountpoint,
		Username:   st.UpstreamUsername,
		Password:   st.UpstreamPassword,
	}, sv.log.WithField("station", st.ID))

	sv.wireCallbacks(sess, st.Latitude, st.Longitude)

	sv.mu.Lock()
	sv.sessions[st.Mountpoint] = sess
	sv.mu.Unlock()

	if err := sess.client.Connect(); err != nil {
		return StartResult{}, fmt.Errorf("supervisor: start: %w", err)
	}

	if err := sv.repo.StationUpdateStatus(ctx, st.ID, repository.StatusActive); err != nil {
		sv.log.WithError(err).Warn("failed to persist station status=active")
	}

	return StartResult{OK: true, Message: "started"}, nil
}

// wireCallbacks connects a Source Client's observer hooks to the Caster
// broadcast and keep-alive timer per spec.md §4.3's wiring table.
func (sv *Supervisor) wireCallbacks(sess *relaySession, lat, lon float64) {
	mp := sess.mountpoint
	sess.client.OnFrame(func(b []byte) {
		sv.caster.Broadcast(mp, b)
		sess.frames.Feed(b)
	})
	// connStop ends the keep-alive of the current upstream connection. Both
	// hooks run on the Source Client's run goroutine, so no lock is needed.
	var connStop chan struct{}
	sess.client.OnConnected(func() {
		sess.client.SendPosition(lat, lon, keepAliveAltitude)
		connStop = make(chan struct{})
		go sv.runKeepAlive(sess, connStop, lat, lon)
	})
	sess.client.OnDisconnected(func() {
		if connStop != nil {
			close(connStop)
			connStop = nil
		}
	})
	sess.client.OnError(func(err error) {
		sv.log.WithField("mountpoint", mp).WithError(err).Warn("source client error")
	})
}

func (sv *Supervisor) runKeepAlive(sess *relaySession, connStop <-chan struct{}, lat, lon float64) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.stopKeepAlive:
			return
		case <-connStop:
			return
		case <-ticker.C:
			sess.client.SendPosition(lat, lon, keepAliveAltitude)
		}
	}
}

// Stop cancels the keep-alive timer, disconnects the Source Client (which
// delivers no callbacks once Disconnect returns), removes it from the map,
// and always unregisters the
// mountpoint from the Caster (spec.md §4.3). Always succeeds; stopping an
// absent mountpoint is not an error.
func (sv *Supervisor) Stop(mountpoint string, persistStatus bool) {
	sv.mu.Lock()
	sess, ok := sv.sessions[mountpoint]
	delete(sv.sessions, mountpoint)
	sv.mu.Unlock()

	if ok {
		sess.keepAliveOnce.Do(func() { close(sess.stopKeepAlive) })
		_ = sess.client.Disconnect()

		if persistStatus {
			if err := sv.repo.StationUpdateStatus(context.Background(), sess.stationID, repository.StatusInactive); err != nil {
				sv.log.WithError(err).Warn("failed to persist station status=inactive")
			}
		}
	}

	sv.caster.UnregisterMountpoint(mountpoint)
}

// SyncWithRepository reconciles the running set against the Repository's
// active stations (spec.md §4.3, §8 scenario 6).
func (sv *Supervisor) SyncWithRepository(ctx context.Context) error {
	if err := sv.caster.RefreshFromRepository(ctx); err != nil {
		return err
	}

	active, err := sv.repo.StationFindActive(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: sync: %w", err)
	}

	activeByMount := make(map[string]*repository.Station, len(active))
	for _, st := range active {
		activeByMount[st.Mountpoint] = st
	}

	sv.mu.Lock()
	var toStop []string
	for mp := range sv.sessions {
		if _, ok := activeByMount[mp]; !ok {
			toStop = append(toStop, mp)
		}
	}
	sv.mu.Unlock()

	for _, mp := range toStop {
		sv.Stop(mp, false)
	}

	for _, st := range active {
		sv.mu.Lock()
		_, running := sv.sessions[st.Mountpoint]
		sv.mu.Unlock()
		if running {
			continue
		}
		if _, err := sv.Start(ctx, st.ID); err != nil {
			sv.log.WithField("station", st.ID).WithError(err).Warn("failed to start relay during sync")
		}
	}
	return nil
}

// RelayStatus is one entry of StatusReport.Relays (spec.md §6 status()
// relays:[{id,name,sourceConnected,clientsConnected}]). FrameTypeCounts is
// the optional per-station analytics tally (SPEC_FULL.md §C.1); nil until a
// frame has been fed.
type RelayStatus struct {
	ID               string
	Name             string
	Mountpoint       string
	SourceConnected  bool
	DataFlowing      bool
	ClientsConnected int
	FrameTypeCounts  map[int]int
}

// StatusReport is the full result of Status (spec.md §6 status()).
type StatusReport struct {
	CasterRunning bool
	TotalRelays   int
	TotalRovers   int
	Relays        []RelayStatus
}

// Status returns an aggregate view across every running session plus the
// counters spec.md §6 names alongside it (spec.md §4.3).
func (sv *Supervisor) Status() StatusReport {
	sv.mu.Lock()
	sessions := make([]*relaySession, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		sessions = append(sessions, s)
	}
	sv.mu.Unlock()

	relays := make([]RelayStatus, 0, len(sessions))
	totalRovers := 0
	for _, s := range sessions {
		clients := sv.caster.SubscriberCount(s.mountpoint)
		totalRovers += clients
		relays = append(relays, sv.relayStatus(s, clients))
	}
	return StatusReport{
		CasterRunning: sv.caster.Running(),
		TotalRelays:   len(sessions),
		TotalRovers:   totalRovers,
		Relays:        relays,
	}
}

// StationStatusResult is the admin-facing per-station lookup (spec.md §6
// stationStatus(id)).
type StationStatusResult struct {
	StationName      string
	SourceConnected  bool
	SourceHost       string
	SourceMountpoint string
	ClientsConnected int
}

// StationStatus looks up one station's live relay status by id (spec.md §6
// stationStatus(id)). It returns (nil, nil) if the station has no record in
// the Repository; a configured-but-not-started station reports
// SourceConnected false and ClientsConnected 0.
func (sv *Supervisor) StationStatus(ctx context.Context, stationID string) (*StationStatusResult, error) {
	st, err := sv.repo.StationFindByID(ctx, stationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("supervisor: station status: %w", err)
	}

	sv.mu.Lock()
	sess, ok := sv.sessions[st.Mountpoint]
	sv.mu.Unlock()

	result := &StationStatusResult{
		StationName:      firstNonEmpty(st.Description, st.Mountpoint),
		SourceHost:       st.UpstreamHost,
		SourceMountpoint: st.UpstreamMountpoint,
	}
	if ok {
		result.SourceConnected = sv.isOnline(sess)
		result.ClientsConnected = sv.caster.SubscriberCount(st.Mountpoint)
	}
	return result, nil
}

func (sv *Supervisor) relayStatus(s *relaySession, clientsConnected int) RelayStatus {
	var frameCounts map[int]int
	if snap := s.frames.Snapshot(); snap.TotalFrames > 0 {
		frameCounts = snap.ByType
	}
	return RelayStatus{
		ID:               s.stationID,
		Name:             s.stationName,
		Mountpoint:       s.mountpoint,
		SourceConnected:  sv.isOnline(s),
		DataFlowing:      sv.isOnline(s),
		ClientsConnected: clientsConnected,
		FrameTypeCounts:  frameCounts,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// isOnline implements the "online" predicate of spec.md §4.3: connected AND
// lastDataAt != zero AND now - lastDataAt < T_data. TCP-up without recent
// data is reported offline.
func (sv *Supervisor) isOnline(s *relaySession) bool {
	stats := s.client.Stats()
	if !stats.Connected || stats.LastDataAt.IsZero() {
		return false
	}
	return time.Since(stats.LastDataAt) < dataLivenessWindow
}

// ActiveRoverSessions delegates to the Caster Server (spec.md §4.3).
func (sv *Supervisor) ActiveRoverSessions() []caster.Snapshot {
	return sv.caster.ActiveRovers()
}

// ProbeSource discovers a remote caster's sourcetable (spec.md §4.3).
func (sv *Supervisor) ProbeSource(host string, port int, user, pass string) ([]wire.MountpointInfo, error) {
	return ProbeSource(host, port, user, pass)
}

// Shutdown stops every session (without touching the Repository) then stops
// the Caster, which destroys all rover sockets (spec.md §5).
func (sv *Supervisor) Shutdown() {
	sv.mu.Lock()
	mountpoints := make([]string, 0, len(sv.sessions))
	for mp := range sv.sessions {
		mountpoints = append(mountpoints, mp)
	}
	sv.mu.Unlock()

	for _, mp := range mountpoints {
		sv.Stop(mp, false)
	}
	_ = sv.caster.Stop()
}
