package repository

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory Repository, grounded on the teacher's
// InMemorySourceService (pkg/caster/inmemory.go): a single mutex guarding a
// couple of maps. It exists so cmd/ntrip-relay can run standalone without a
// database, and so tests don't need a real store; it is not meant as a
// production persistence layer.
type Memory struct {
	mu       sync.RWMutex
	stations map[string]*Station // by ID
	byMount  map[string]string   // mountpoint -> ID
	rovers   map[string]*Rover   // by username
}

// NewMemory constructs an empty in-memory Repository.
func NewMemory() *Memory {
	return &Memory{
		stations: make(map[string]*Station),
		byMount:  make(map[string]string),
		rovers:   make(map[string]*Rover),
	}
}

// PutStation inserts or replaces a station, used by tests and by the
// standalone CLI to seed configuration.
func (m *Memory) PutStation(s *Station) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.stations[s.ID] = &cp
	m.byMount[s.Mountpoint] = s.ID
}

// PutRover inserts or replaces a rover.
func (m *Memory) PutRover(r *Rover) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.rovers[r.Username] = &cp
}

func (m *Memory) StationFindByID(_ context.Context, id string) (*Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) StationFindByName(_ context.Context, mountpoint string) (*Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byMount[mountpoint]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.stations[id]
	return &cp, nil
}

func (m *Memory) StationFindActive(_ context.Context) ([]*Station, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Station
	for _, s := range m.stations {
		if s.Status == StatusActive {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) StationUpdateStatus(_ context.Context, id string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stations[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	return nil
}

func (m *Memory) RoverFindByUsername(_ context.Context, username string) (*Rover, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rovers[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) RoverTouchLastConnection(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rovers {
		if r.ID == id {
			t := at
			r.LastConnection = &t
			return nil
		}
	}
	return ErrNotFound
}

var _ Repository = (*Memory)(nil)
