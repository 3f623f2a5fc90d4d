package supervisor

import "errors"

// Error kinds surfaced to the admin-facing core surface (spec.md §7).
var (
	ErrConfigurationError = errors.New("supervisor: station missing required fields")
	ErrUnauthorized       = errors.New("supervisor: probe rejected credentials")
	ErrTimeout            = errors.New("supervisor: probe timed out")
)
