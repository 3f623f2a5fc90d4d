// Package repository defines the narrow persistence contract the relay core
// consumes (spec.md §6) plus the Station/Rover data model (spec.md §3). The
// core never assumes a particular store; production deployments supply their
// own Repository, this package also ships an in-memory reference
// implementation (memory.go) good enough to run the relay standalone.
package repository

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Status is the admin-controlled lifecycle state of a Station or Rover.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Station is a configured upstream relay target, bound to one mountpoint on
// this caster (spec.md §3).
type Station struct {
	ID          string  `validate:"required"`
	Mountpoint  string  `validate:"required"`
	Description string
	Latitude    float64 `validate:"gte=-90,lte=90"`
	Longitude   float64 `validate:"gte=-180,lte=180"`

	UpstreamHost       string `validate:"required"`
	UpstreamPort       int    `validate:"gte=1,lte=65535"`
	UpstreamMountpoint string `validate:"required"`
	UpstreamUsername   string
	UpstreamPassword   string

	Status Status `validate:"oneof=active inactive"`

	Carrier   string
	NavSystem string
	Network   string
	Country   string
}

var validate = validator.New()

// Validate checks the invariants of spec.md §3, returning a validation error
// that the admin surface reports as ConfigurationError.
func (s Station) Validate() error {
	return validate.Struct(s)
}

// Rover is a registered rover account, optionally pinned to one station
// (spec.md §3).
type Rover struct {
	ID       string `validate:"required"`
	Username string `validate:"required"`
	// PasswordHash is a bcrypt verifier; never the plaintext password.
	PasswordHash string `validate:"required"`
	UserID       string
	StationID    string
	Status       Status `validate:"oneof=active inactive"`

	StartDate *time.Time
	EndDate   *time.Time

	LastConnection *time.Time
}

func (r Rover) Validate() error {
	return validate.Struct(r)
}

// EffectiveActive is the pure, non-persisted is_currently_active predicate
// from spec.md §3/§9: active status AND within the optional date window, as
// of "now".
func (r Rover) EffectiveActive(now time.Time) bool {
	if r.Status != StatusActive {
		return false
	}
	if r.StartDate != nil && now.Before(*r.StartDate) {
		return false
	}
	if r.EndDate != nil && now.After(*r.EndDate) {
		return false
	}
	return true
}
