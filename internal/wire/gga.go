// Package wire implements the small, dependency-light wire-format helpers
// shared by the Source Client and the Caster Server: NMEA GGA encode/decode
// and the NTRIP sourcetable line format. Neither the client nor the caster
// package should hand-roll these a second time.
package wire

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FixQuality labels the rover/VRS fix quality carried on a Rover Session.
type FixQuality string

const (
	FixNone   FixQuality = "N/A"
	FixSingle FixQuality = "Single"
	FixDGPS   FixQuality = "DGPS"
	FixRTKFix FixQuality = "RTK Fixed"
	FixRTKFlt FixQuality = "RTK Float"
)

func fixQualityFromDigit(d int) FixQuality {
	switch d {
	case 1:
		return FixSingle
	case 2:
		return FixDGPS
	case 4:
		return FixRTKFix
	case 5:
		return FixRTKFlt
	default:
		return FixNone
	}
}

func fixQualityDigit(q FixQuality) int {
	switch q {
	case FixSingle:
		return 1
	case FixDGPS:
		return 2
	case FixRTKFix:
		return 4
	case FixRTKFlt:
		return 5
	default:
		return 1
	}
}

// Position is a decoded or to-be-encoded GGA fix.
type Position struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
	Quality   FixQuality
	Time      time.Time
}

// FormatGGA renders lat/lon (decimal degrees) and altitude (metres) as a
// $GPGGA sentence per spec.md §4.1, using the current UTC time as the fix
// time and a fixed quality of 1 (single), 08 satellites, HDOP 1.0.
func FormatGGA(lat, lon, alt float64) string {
	return FormatGGAAt(time.Now().UTC(), lat, lon, alt, FixSingle)
}

// FormatGGAAt is FormatGGA with an explicit UTC timestamp and fix quality,
// split out so tests (and formatGGA(parseGGA(x)) round-trips) don't depend
// on wall-clock time.
func FormatGGAAt(t time.Time, lat, lon, alt float64, quality FixQuality) string {
	timeStr := t.Format("150405.00")

	latHem := "N"
	if math.Signbit(lat) {
		latHem = "S"
	}
	lat = math.Abs(lat)
	lonHem := "E"
	if math.Signbit(lon) {
		lonHem = "W"
	}
	lon = math.Abs(lon)

	latStr := formatDegrees(lat, 2)
	lonStr := formatDegrees(lon, 3)

	body := fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,%d,%02d,%.1f,%.1f,M,0.0,M,,",
		timeStr, latStr, latHem, lonStr, lonHem, fixQualityDigit(quality), 8, 1.0, alt)

	return "$" + body + "*" + checksum(body) + "\r\n"
}

// formatDegrees renders decimal degrees as DDMM.mmmmm (degIntDigits=2) or
// DDDMM.mmmmm (degIntDigits=3).
func formatDegrees(deg float64, degIntDigits int) string {
	d := math.Floor(deg)
	min := (deg - d) * 60.0
	return fmt.Sprintf("%0*d%08.5f", degIntDigits, int(d), min)
}

// checksum computes the NMEA XOR checksum over body (bytes between '$' and
// '*' exclusive), as two upper-case hex digits.
func checksum(body string) string {
	var c byte
	for i := 0; i < len(body); i++ {
		c ^= body[i]
	}
	return fmt.Sprintf("%02X", c)
}

// ParseGGA parses a $GPGGA or $GNGGA sentence into a Position. Malformed
// sentences (bad checksum, too few fields, unparseable numbers) are reported
// via ok=false and must be silently dropped by the caller per spec.md §4.2.
func ParseGGA(line string) (pos Position, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "$") {
		return pos, false
	}

	star := strings.LastIndexByte(line, '*')
	body := line[1:]
	if star >= 0 {
		body = line[1:star]
		want := line[star+1:]
		if len(want) >= 2 && !strings.EqualFold(checksum(body), want[:2]) {
			return pos, false
		}
	}

	fields := strings.Split(body, ",")
	if len(fields) < 10 {
		return pos, false
	}
	if fields[0] != "GPGGA" && fields[0] != "GNGGA" {
		return pos, false
	}

	lat, ok1 := parseDegrees(fields[2], fields[3])
	lon, ok2 := parseDegrees(fields[4], fields[5])
	if !ok1 || !ok2 {
		return pos, false
	}

	qualityDigit := 0
	if fields[6] != "" {
		if d, err := strconv.Atoi(fields[6]); err == nil {
			qualityDigit = d
		}
	}

	alt := 0.0
	if len(fields) > 9 && fields[9] != "" {
		if a, err := strconv.ParseFloat(fields[9], 64); err == nil {
			alt = a
		}
	}

	return Position{
		Latitude:  lat,
		Longitude: lon,
		Altitude:  alt,
		Quality:   fixQualityFromDigit(qualityDigit),
		Time:      time.Now().UTC(),
	}, true
}

// parseDegrees turns a NMEA DDMM.mmmmm/DDDMM.mmmmm field plus hemisphere
// letter into signed decimal degrees.
func parseDegrees(field, hem string) (float64, bool) {
	if field == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, false
	}
	deg := math.Floor(v / 100.0)
	min := v - deg*100.0
	dec := deg + min/60.0
	switch hem {
	case "S", "W":
		dec = -dec
	case "N", "E", "":
	default:
		return 0, false
	}
	return dec, true
}
