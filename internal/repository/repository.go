package repository

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by the Find* methods when no matching record
// exists.
var ErrNotFound = errors.New("repository: not found")

// Repository is the narrow persistence contract the relay core consumes
// (spec.md §6). Implementations may fail any call; failures from the Find*
// methods are wrapped and returned to the caller, failures from the Update/Touch
// methods are logged and swallowed by the caller (the running set of Source
// Sessions remains the source of truth, not the database).
type Repository interface {
	StationFindByID(ctx context.Context, id string) (*Station, error)
	StationFindByName(ctx context.Context, mountpoint string) (*Station, error)
	StationFindActive(ctx context.Context) ([]*Station, error)
	StationUpdateStatus(ctx context.Context, id string, status Status) error

	RoverFindByUsername(ctx context.Context, username string) (*Rover, error)
	RoverTouchLastConnection(ctx context.Context, id string, at time.Time) error
}
