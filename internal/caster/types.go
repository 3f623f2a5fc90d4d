package caster

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bramburn/ntrip-relay/internal/wire"
)

// MountpointMeta is what registerMountpoint needs to describe a Live Station
// (spec.md §3, §4.2): enough to render its STR; sourcetable line and to
// accept rover connections against it.
type MountpointMeta struct {
	Name          string
	Identifier    string
	Latitude      float64
	Longitude     float64
	CountryCode   string
	NavSystem     string
	Network       string
}

// liveStation is a registered mountpoint plus its live subscriber set
// (spec.md §3 "Live Station"). Subscribers are mutated only under mu, per
// spec.md §5; broadcast snapshots the slice and writes outside the lock.
type liveStation struct {
	mu          sync.RWMutex
	meta        MountpointMeta
	subscribers map[string]*RoverSession // keyed by session id
}

func newLiveStation(meta MountpointMeta) *liveStation {
	return &liveStation{
		meta:        meta,
		subscribers: make(map[string]*RoverSession),
	}
}

func (ls *liveStation) snapshot() []*RoverSession {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	out := make([]*RoverSession, 0, len(ls.subscribers))
	for _, s := range ls.subscribers {
		out = append(out, s)
	}
	return out
}

func (ls *liveStation) add(s *RoverSession) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.subscribers[s.ID] = s
}

func (ls *liveStation) remove(id string) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	delete(ls.subscribers, id)
}

func (ls *liveStation) count() int {
	ls.mu.RLock()
	defer ls.mu.RUnlock()
	return len(ls.subscribers)
}

// RoverSession is one authenticated rover connection (spec.md §3 "Rover
// Session"). Position fields are updated from NMEA ingest on the streaming
// goroutine and read by status/activeRoverSessions snapshots; guarded by mu.
type RoverSession struct {
	ID          string
	Mountpoint  string
	RoverID     string
	Username    string
	PeerAddr    string
	ConnectedAt time.Time

	conn net.Conn

	mu                 sync.Mutex
	lastPosition       *wire.Position
	lastPositionUpdate time.Time
	gnssStatus         wire.FixQuality

	writeMu sync.Mutex
	evicted bool
}

func newRoverSession(mountpoint, roverID, username string, conn net.Conn) *RoverSession {
	return &RoverSession{
		ID:          uuid.New().String(),
		Mountpoint:  mountpoint,
		RoverID:     roverID,
		Username:    username,
		PeerAddr:    conn.RemoteAddr().String(),
		ConnectedAt: time.Now().UTC(),
		conn:        conn,
		gnssStatus:  wire.FixNone,
	}
}

// roverWriteTimeout bounds each broadcast write so a rover whose socket
// cannot accept data right now is evicted promptly instead of stalling
// Broadcast for every other subscriber on the mountpoint (spec.md §4.2,
// §5: no per-subscriber queue, evict on a non-writable socket).
const roverWriteTimeout = 2 * time.Second

// write sends a broadcast frame to this rover. Any error, or a write onto an
// already-evicted session, is reported so the caller can evict (spec.md
// §4.2 "A rover that is not writable ... is evicted").
func (s *RoverSession) write(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.evicted {
		return net.ErrClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(roverWriteTimeout)); err != nil {
		return err
	}
	_, err := s.conn.Write(b)
	return err
}

func (s *RoverSession) updatePosition(pos wire.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := pos
	s.lastPosition = &p
	s.lastPositionUpdate = pos.Time
	s.gnssStatus = pos.Quality
}

// Snapshot is the read-only view returned by activeRoverSessions (spec.md
// §6 admin surface).
type Snapshot struct {
	SessionID          string
	RoverID            string
	Username           string
	Mountpoint         string
	PeerAddr           string
	ConnectedAt        time.Time
	GNSSStatus         wire.FixQuality
	LastPosition       *wire.Position
	LastPositionUpdate time.Time
}

func (s *RoverSession) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pos *wire.Position
	if s.lastPosition != nil {
		p := *s.lastPosition
		pos = &p
	}
	return Snapshot{
		SessionID:          s.ID,
		RoverID:            s.RoverID,
		Username:           s.Username,
		Mountpoint:         s.Mountpoint,
		PeerAddr:           s.PeerAddr,
		ConnectedAt:        s.ConnectedAt,
		GNSSStatus:         s.gnssStatus,
		LastPosition:       pos,
		LastPositionUpdate: s.lastPositionUpdate,
	}
}
