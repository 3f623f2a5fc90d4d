package wire

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourcetableEmptyRender(t *testing.T) {
	st := Sourcetable{
		Caster:  CasterEntry{Host: "relay.example", Port: 9001, Identifier: "NTRIP Relay", Operator: "NTRIP Relay Service"},
		Network: NetworkEntry{Identifier: "RELAY", Operator: "NTRIP Relay Service"},
	}
	body := string(st.Render())

	assert.True(t, strings.HasSuffix(body, "ENDSOURCETABLE\r\n"))
	assert.NotContains(t, body, "STR;")
	assert.Contains(t, body, "CAS;relay.example;9001;")
	assert.Contains(t, body, "NET;RELAY;")
	assert.True(t, strings.HasPrefix(body, "SOURCETABLE 200 OK\r\n"))
}

func TestSourcetableRoundTrip(t *testing.T) {
	st := Sourcetable{
		Caster: CasterEntry{Host: "relay.example", Port: 9001, Identifier: "NTRIP Relay", Operator: "Op"},
		Streams: []StreamEntry{
			{
				Name: "VRS01", Identifier: "VRS01", Format: "RTCM 3.2",
				FormatDetails: "1004(1),1005/1006(5),1019(5),1020(5)",
				Carrier:       "2", NavSystem: "GPS+GLO+GAL+BDS", Network: "CORS",
				CountryCode: "VNM", Latitude: 21.0285, Longitude: 105.8542,
				NMEARequired: true, Generator: "NTRIP-Relay/1.0", Compression: "none",
				Bitrate: 2400,
			},
		},
	}

	rendered := st.Render()
	idx := strings.Index(string(rendered), "\r\n\r\n")
	require.True(t, idx >= 0)
	body := string(rendered)[idx+4:]

	mounts := ParseSourcetableBody(body)
	require.Len(t, mounts, 1)
	assert.Equal(t, "VRS01", mounts[0].Name)
	assert.InDelta(t, 21.0285, mounts[0].Latitude, 1e-4)
	assert.InDelta(t, 105.8542, mounts[0].Longitude, 1e-4)
}
