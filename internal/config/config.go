// Package config loads the recognised environment configuration of
// spec.md §6: the Caster Server's bind address and sourcetable operator
// identity. Everything else (reconnect budget, intervals, timeouts) is an
// internal constant per spec.md §4, owned by the package that uses it.
package config

import (
	"os"
	"strconv"
)

// Caster holds the environment-driven Caster Server configuration.
type Caster struct {
	Host     string
	Port     int
	Operator string
}

// LoadCaster reads NTRIP_CASTER_HOST, NTRIP_CASTER_PORT and
// NTRIP_CASTER_OPERATOR, falling back to spec.md §6's defaults.
func LoadCaster() Caster {
	c := Caster{
		Host:     "0.0.0.0",
		Port:     9001,
		Operator: "NTRIP Relay Service",
	}
	if v := os.Getenv("NTRIP_CASTER_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("NTRIP_CASTER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("NTRIP_CASTER_OPERATOR"); v != "" {
		c.Operator = v
	}
	return c
}
