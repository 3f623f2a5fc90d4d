package wire

import (
	"math"
	"testing"
	"time"

	gonmea "github.com/adrianmo/go-nmea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// negZero returns an IEEE-754 negative zero at runtime. The literal -0.0
// cannot be used directly: Go's constant arithmetic has no signed zero, so
// a constant -0.0 converts to a plain positive zero.
func negZero() float64 { return math.Copysign(0, -1) }

func TestFormatGGARoundTrip(t *testing.T) {
	cases := []struct {
		name     string
		lat, lon float64
	}{
		{"hanoi", 21.0285, 105.8542},
		{"southern hemisphere", -33.8688, 151.2093},
		{"zero lat south", negZero(), 105.0},
		{"zero both", 0, 0},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			sentence := FormatGGAAt(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), c.lat, c.lon, 100, FixSingle)
			pos, ok := ParseGGA(sentence)
			require.True(t, ok)
			assert.InDelta(t, c.lat, pos.Latitude, 1e-5)
			assert.InDelta(t, c.lon, pos.Longitude, 1e-5)
		})
	}
}

func TestFormatGGAZeroLatSouthEncoding(t *testing.T) {
	sentence := FormatGGAAt(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), negZero(), 105.0, 0, FixSingle)
	assert.Contains(t, sentence, "0000.00000,S")
}

func TestFormatGGAParseableByGoNMEA(t *testing.T) {
	sentence := FormatGGAAt(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), 21.0285, 105.8542, 100, FixSingle)
	trimmed := sentence[:len(sentence)-2] // go-nmea doesn't want the trailing CRLF
	parsed, err := gonmea.Parse(trimmed)
	require.NoError(t, err)
	gga, ok := parsed.(gonmea.GGA)
	require.True(t, ok)
	assert.InDelta(t, 21.0285, gga.Latitude, 1e-4)
	assert.InDelta(t, 105.8542, gga.Longitude, 1e-4)
}

func TestParseGGAMalformedIsSilentlyDropped(t *testing.T) {
	_, ok := ParseGGA("not a sentence")
	assert.False(t, ok)

	_, ok = ParseGGA("$GPGGA,too,few,fields*00")
	assert.False(t, ok)

	_, ok = ParseGGA("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*FF")
	assert.False(t, ok) // bad checksum
}

func TestParseGGAValidSentence(t *testing.T) {
	pos, ok := ParseGGA("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47")
	require.True(t, ok)
	assert.InDelta(t, 48.1173, pos.Latitude, 1e-4)
	assert.InDelta(t, 11.5167, pos.Longitude, 1e-4)
	assert.Equal(t, FixSingle, pos.Quality)
}
