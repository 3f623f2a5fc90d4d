// Package caster implements the Caster Server half of the relay (spec.md
// §4.2): a single TCP listener that serves an NTRIP sourcetable at "/" and
// per-mountpoint RTCM streams to authenticated rovers. Structured like the
// teacher's pkg/caster (logrus field-logger per request, a narrow service
// interface for auth and subscriber fan-out), but speaking raw TCP per
// spec.md instead of wrapping net/http, since the protocol here needs
// header accumulation bounded at 16KiB and residual-byte recovery into the
// streaming phase that net/http's server loop does not expose.
package caster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bramburn/ntrip-relay/internal/repository"
	"github.com/bramburn/ntrip-relay/internal/wire"
)

// Config configures the Caster Server's own identity within the sourcetable
// it renders (spec.md §4.4, §6).
type Config struct {
	Host     string
	Port     int
	Operator string
	Identifier  string
	CountryCode string
}

func (c *Config) setDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 9001
	}
	if c.Operator == "" {
		c.Operator = "NTRIP Relay Service"
	}
	if c.Identifier == "" {
		c.Identifier = "NTRIP-Relay"
	}
}

// Server is the single NTRIP caster listener (spec.md §4.2). It owns the
// mountpoint registry and every Rover Session's socket.
type Server struct {
	cfg  Config
	repo repository.Repository
	log  logrus.FieldLogger

	mu       sync.RWMutex
	stations map[string]*liveStation

	ln     net.Listener
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer constructs a Caster Server bound to repo for rover
// authentication and last_connection bookkeeping.
func NewServer(cfg Config, repo repository.Repository, log logrus.FieldLogger) *Server {
	cfg.setDefaults()
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{
		cfg:      cfg,
		repo:     repo,
		log:      log.WithField("component", "caster"),
		stations: make(map[string]*liveStation),
	}
}

// Start binds the listener and begins accepting connections. Idempotent.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.ln != nil {
		s.mu.Unlock()
		return nil
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("caster: bind %s: %w", addr, err)
	}
	s.ln = ln
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)
	s.log.WithField("addr", addr).Info("caster listening")
	return nil
}

// Stop unbinds the listener and destroys every rover socket (spec.md §5
// shutdown). Idempotent.
func (s *Server) Stop() error {
	s.mu.Lock()
	ln := s.ln
	cancel := s.cancel
	s.ln = nil
	s.cancel = nil
	stations := make([]*liveStation, 0, len(s.stations))
	for _, ls := range s.stations {
		stations = append(stations, ls)
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ln != nil {
		_ = ln.Close()
	}

	for _, ls := range stations {
		for _, sess := range ls.snapshot() {
			s.evict(ls, sess)
		}
	}
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithError(err).Warn("accept failed")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// RegisterMountpoint inserts or replaces a mountpoint entry. Creates an
// empty Live Station if absent; never disturbs existing subscribers
// (spec.md §4.2). Registering identical metadata twice is a no-op for the
// subscriber set.
func (s *Server) RegisterMountpoint(meta MountpointMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ls, ok := s.stations[meta.Name]
	if !ok {
		s.stations[meta.Name] = newLiveStation(meta)
		return
	}
	ls.mu.Lock()
	ls.meta = meta
	ls.mu.Unlock()
}

// UnregisterMountpoint drops all subscribers (destroying their sockets) and
// removes the mountpoint (spec.md §4.2).
func (s *Server) UnregisterMountpoint(name string) {
	s.mu.Lock()
	ls, ok := s.stations[name]
	delete(s.stations, name)
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, sess := range ls.snapshot() {
		s.evict(ls, sess)
	}
}

// Broadcast writes bytes to every writable subscriber of mountpoint name,
// evicting those that fail, and returns the number of successful writes
// (spec.md §4.2, §5 snapshot-then-write).
func (s *Server) Broadcast(name string, b []byte) int {
	s.mu.RLock()
	ls, ok := s.stations[name]
	s.mu.RUnlock()
	if !ok {
		return 0
	}

	count := 0
	for _, sess := range ls.snapshot() {
		if err := sess.write(b); err != nil {
			s.evict(ls, sess)
			continue
		}
		count++
	}
	return count
}

func (s *Server) evict(ls *liveStation, sess *RoverSession) {
	sess.writeMu.Lock()
	sess.evicted = true
	sess.writeMu.Unlock()
	ls.remove(sess.ID)
	_ = sess.conn.Close()
}

// Sourcetable renders the full NTRIP sourcetable response (spec.md §4.4).
func (s *Server) Sourcetable() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := wire.Sourcetable{
		Caster: wire.CasterEntry{
			Host:       s.cfg.Host,
			Port:       s.cfg.Port,
			Identifier: s.cfg.Identifier,
			Operator:   s.cfg.Operator,
			Country:    s.cfg.CountryCode,
		},
		Network: wire.NetworkEntry{
			Identifier: s.cfg.Identifier,
			Operator:   s.cfg.Operator,
		},
	}
	for _, ls := range s.stations {
		ls.mu.RLock()
		m := ls.meta
		ls.mu.RUnlock()
		st.Streams = append(st.Streams, wire.StreamEntry{
			Name:          m.Name,
			Identifier:    firstNonEmpty(m.Identifier, m.Name),
			Format:        "RTCM 3.2",
			FormatDetails: "1004(1),1005/1006(5),1019(5),1020(5)",
			Carrier:       "2",
			NavSystem:     firstNonEmpty(m.NavSystem, "GPS+GLO+GAL+BDS"),
			Network:       firstNonEmpty(m.Network, "CORS"),
			CountryCode:   m.CountryCode,
			Latitude:      m.Latitude,
			Longitude:     m.Longitude,
			NMEARequired:  true,
			Solution:      true,
			Generator:     "NTRIP-Relay/1.0",
			Compression:   "none",
			Bitrate:       2400,
		})
	}
	return st.Render()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ActiveRovers lists a snapshot of every connected Rover Session across all
// mountpoints (spec.md §4.2 activeRovers).
func (s *Server) ActiveRovers() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Snapshot
	for _, ls := range s.stations {
		for _, sess := range ls.snapshot() {
			out = append(out, sess.snapshot())
		}
	}
	return out
}

// Running reports whether the listener is currently bound (spec.md §6
// status() casterRunning).
func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ln != nil
}

// SubscriberCount returns the number of rover sessions subscribed to
// mountpoint name, or 0 if it is not registered.
func (s *Server) SubscriberCount(name string) int {
	s.mu.RLock()
	ls, ok := s.stations[name]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return ls.count()
}

// RefreshFromRepository syncs the Live Station registry with the
// Repository's status=active set: registers missing mountpoints, removes
// stale ones whose station is no longer active (spec.md §4.2). It does not
// touch subscriber sets belonging to stations that remain active.
func (s *Server) RefreshFromRepository(ctx context.Context) error {
	active, err := s.repo.StationFindActive(ctx)
	if err != nil {
		return fmt.Errorf("caster: refresh: %w", err)
	}

	wanted := make(map[string]MountpointMeta, len(active))
	for _, st := range active {
		wanted[st.Mountpoint] = MountpointMeta{
			Name:        st.Mountpoint,
			Identifier:  st.Mountpoint,
			Latitude:    st.Latitude,
			Longitude:   st.Longitude,
			CountryCode: st.Country,
			NavSystem:   st.NavSystem,
			Network:     st.Network,
		}
	}

	s.mu.Lock()
	var toRemove []string
	for name := range s.stations {
		if _, ok := wanted[name]; !ok {
			toRemove = append(toRemove, name)
		}
	}
	s.mu.Unlock()

	for _, meta := range wanted {
		s.RegisterMountpoint(meta)
	}
	for _, name := range toRemove {
		s.UnregisterMountpoint(name)
	}
	return nil
}

// handleConn implements the per-connection protocol state machine of
// spec.md §4.2: accumulate headers, dispatch by target, authenticate, then
// either close with a short error response or promote to streaming.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	req, err := wire.ReadRequest(conn)
	if err != nil {
		if errors.Is(err, wire.ErrHeaderTooLarge) {
			writeShort(conn, "HTTP/1.1 400 Bad Request\r\n\r\n")
		}
		conn.Close()
		return
	}

	if req.Method != "GET" {
		writeShort(conn, "HTTP/1.1 405 Method Not Allowed\r\n\r\n")
		conn.Close()
		return
	}

	mount := strings.TrimPrefix(req.Target, "/")
	if mount == "" {
		conn.Write(s.Sourcetable())
		conn.Close()
		return
	}

	s.mu.RLock()
	ls, ok := s.stations[mount]
	s.mu.RUnlock()
	if !ok {
		writeShort(conn, "HTTP/1.1 404 Not Found\r\n\r\nERROR - Mountpoint not found")
		conn.Close()
		return
	}

	username, password, ok := req.BasicAuth()
	if !ok {
		writeUnauthorized(conn)
		conn.Close()
		return
	}

	rover, err := s.authenticate(ctx, username, password)
	if err != nil {
		writeUnauthorized(conn)
		conn.Close()
		return
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(30 * time.Second)
		_ = tcpConn.SetNoDelay(true)
	}

	if _, err := conn.Write([]byte("ICY 200 OK\r\n\r\n")); err != nil {
		conn.Close()
		return
	}

	sess := newRoverSession(mount, rover.ID, username, conn)
	ls.add(sess)
	s.log.WithFields(logrus.Fields{
		"mountpoint": mount,
		"rover":      username,
		"session":    sess.ID,
	}).Info("rover session started")

	s.streamFromRover(ctx, ls, sess, req.Residual)
}

func (s *Server) authenticate(ctx context.Context, username, password string) (*repository.Rover, error) {
	rover, err := s.repo.RoverFindByUsername(ctx, username)
	if err != nil {
		return nil, ErrNotAuthorized
	}
	if !repository.CheckPassword(rover.PasswordHash, password) {
		return nil, ErrNotAuthorized
	}
	if !rover.EffectiveActive(time.Now().UTC()) {
		return nil, ErrNotAuthorized
	}
	if err := s.repo.RoverTouchLastConnection(ctx, rover.ID, time.Now().UTC()); err != nil {
		s.log.WithError(err).Warn("failed to persist rover last_connection")
	}
	return rover, nil
}

// streamFromRover reads inbound bytes from an authenticated rover and scans
// them line-wise for NMEA GGA (spec.md §4.2 streaming mode). Outbound bytes
// come only from Broadcast; this loop never writes. residual holds the bytes
// that arrived after the request headers and is scanned first, as the start
// of the inbound stream.
func (s *Server) streamFromRover(ctx context.Context, ls *liveStation, sess *RoverSession, residual []byte) {
	defer s.evict(ls, sess)

	buf := make([]byte, 4096)
	partial := s.ingestLines(sess, residual)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := sess.conn.Read(buf)
		if n > 0 {
			partial = s.ingestLines(sess, append(partial, buf[:n]...))
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) ingestNMEA(sess *RoverSession, b []byte) {
	_ = s.ingestLines(sess, b)
}

// ingestLines scans data for complete newline-terminated lines, parsing
// $GPGGA/$GNGGA ones onto sess, and returns the unterminated remainder.
func (s *Server) ingestLines(sess *RoverSession, data []byte) []byte {
	for {
		idx := indexByte(data, '\n')
		if idx < 0 {
			return data
		}
		line := string(data[:idx])
		data = data[idx+1:]
		if pos, ok := wire.ParseGGA(line); ok {
			sess.updatePosition(pos)
		}
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func writeShort(conn net.Conn, status string) {
	_, _ = conn.Write([]byte(status))
}

func writeUnauthorized(conn net.Conn) {
	_, _ = conn.Write([]byte("HTTP/1.1 401 Unauthorized\r\nWWW-Authenticate: Basic realm=\"NTRIP Caster\"\r\n\r\n"))
}
