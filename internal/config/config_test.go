package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadCasterDefaults(t *testing.T) {
	t.Setenv("NTRIP_CASTER_HOST", "")
	t.Setenv("NTRIP_CASTER_PORT", "")
	t.Setenv("NTRIP_CASTER_OPERATOR", "")

	c := LoadCaster()
	assert.Equal(t, "0.0.0.0", c.Host)
	assert.Equal(t, 9001, c.Port)
	assert.Equal(t, "NTRIP Relay Service", c.Operator)
}

func TestLoadCasterOverrides(t *testing.T) {
	t.Setenv("NTRIP_CASTER_HOST", "127.0.0.1")
	t.Setenv("NTRIP_CASTER_PORT", "9002")
	t.Setenv("NTRIP_CASTER_OPERATOR", "Test Operator")

	c := LoadCaster()
	assert.Equal(t, "127.0.0.1", c.Host)
	assert.Equal(t, 9002, c.Port)
	assert.Equal(t, "Test Operator", c.Operator)
}
