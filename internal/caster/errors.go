package caster

import "errors"

// Error kinds per spec.md §7. Mirrors the teacher's caster.Error sentinel
// style (pkg/caster/caster.go) but as distinct sentinels so callers can use
// errors.Is instead of string/value comparison.
var (
	ErrNotAuthorized = errors.New("caster: not authorized")
	ErrNotFound      = errors.New("caster: mountpoint not found")
	ErrBadRequest    = errors.New("caster: malformed request")
	ErrMethodNotAllowed = errors.New("caster: method not allowed")
)
