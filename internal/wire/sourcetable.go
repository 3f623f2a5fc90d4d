package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// StreamEntry is one STR; line of an NTRIP sourcetable, describing a single
// mountpoint. Field layout matches spec.md §4.4 and mirrors the teacher's
// caster.StreamEntry (pkg/caster/sourcetable.go), trimmed to the fields this
// relay actually fills in.
type StreamEntry struct {
	Name          string
	Identifier    string
	Format        string
	FormatDetails string
	Carrier       string
	NavSystem     string
	Network       string
	CountryCode   string
	Latitude      float64
	Longitude     float64
	NMEARequired  bool
	Solution      bool
	Generator     string
	Compression   string
	Authentication string
	Fee            bool
	Bitrate        int
}

func (s StreamEntry) String() string {
	return strings.Join([]string{
		"STR", s.Name, s.Identifier, s.Format, s.FormatDetails, s.Carrier,
		s.NavSystem, s.Network, s.CountryCode,
		fmt.Sprintf("%.4f", s.Latitude), fmt.Sprintf("%.4f", s.Longitude),
		boolStr(s.NMEARequired, "1", "0"), boolStr(s.Solution, "1", "0"),
		s.Generator, s.Compression, s.Authentication, boolStr(s.Fee, "Y", "N"),
		strconv.Itoa(s.Bitrate),
	}, ";")
}

// CasterEntry is the CAS; line describing the caster itself.
type CasterEntry struct {
	Host       string
	Port       int
	Identifier string
	Operator   string
	Country    string
	Latitude   float64
	Longitude  float64
}

func (c CasterEntry) String() string {
	return strings.Join([]string{
		"CAS", c.Host, strconv.Itoa(c.Port), c.Identifier, c.Operator, "0",
		c.Country, fmt.Sprintf("%.4f", c.Latitude), fmt.Sprintf("%.4f", c.Longitude),
		"", "0", "",
	}, ";")
}

// NetworkEntry is the NET; line describing the network the streams belong to.
type NetworkEntry struct {
	Identifier string
	Operator   string
}

func (n NetworkEntry) String() string {
	return strings.Join([]string{"NET", n.Identifier, n.Operator, "B", "N", "", "", "", ""}, ";")
}

// Sourcetable is the full response body rendered at GET /.
type Sourcetable struct {
	Caster   CasterEntry
	Network  NetworkEntry
	Streams  []StreamEntry
}

// Render produces the full SOURCETABLE 200 OK response, including headers,
// per spec.md §4.4.
func (st Sourcetable) Render() []byte {
	var body strings.Builder
	for _, s := range st.Streams {
		body.WriteString(s.String())
		body.WriteString("\r\n")
	}
	body.WriteString(st.Caster.String())
	body.WriteString("\r\n")
	body.WriteString(st.Network.String())
	body.WriteString("\r\n")
	body.WriteString("ENDSOURCETABLE\r\n")

	bodyBytes := []byte(body.String())

	var resp strings.Builder
	resp.WriteString("SOURCETABLE 200 OK\r\n")
	resp.WriteString("Server: NTRIP-Relay/1.0\r\n")
	resp.WriteString("Content-Type: text/plain\r\n")
	fmt.Fprintf(&resp, "Content-Length: %d\r\n", len(bodyBytes))
	resp.WriteString("Connection: close\r\n")
	resp.WriteString("\r\n")
	resp.WriteString(body.String())

	return []byte(resp.String())
}

func boolStr(b bool, t, f string) string {
	if b {
		return t
	}
	return f
}

// MountpointInfo is a single parsed STR; record, as recovered by ProbeSource
// when discovering a remote caster's sourcetable (spec.md §4.3/§4.4).
type MountpointInfo struct {
	Name          string
	Identifier    string
	Format        string
	FormatDetails string
	Carrier       string
	NavSystem     string
	Network       string
	CountryCode   string
	Latitude      float64
	Longitude     float64
	NMEARequired  bool
	Bitrate       int
}

// ParseSourcetableBody parses the body of a SOURCETABLE 200 OK response
// (after the blank line) into a list of MountpointInfo, tolerating unknown
// extra fields per spec.md §4.4. Grounded on de-bkg-gognss/ntrip.parseSTR,
// adapted to decimal-degree float64 and to stop without erroring when
// ENDSOURCETABLE never arrives (callers enforce their own timeouts).
func ParseSourcetableBody(body string) []MountpointInfo {
	var out []MountpointInfo
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, "STR;") {
			continue
		}
		fields := strings.Split(line, ";")
		if len(fields) < 11 {
			continue
		}
		lat, _ := strconv.ParseFloat(fields[9], 64)
		lon, _ := strconv.ParseFloat(fields[10], 64)
		bitrate := 0
		if len(fields) > 17 {
			bitrate, _ = strconv.Atoi(fields[17])
		}
		nmea := false
		if len(fields) > 11 {
			nmea = fields[11] == "1"
		}
		out = append(out, MountpointInfo{
			Name:          fields[1],
			Identifier:    fields[2],
			Format:        fields[3],
			FormatDetails: fields[4],
			Carrier:       fields[5],
			NavSystem:     fields[6],
			Network:       fields[7],
			CountryCode:   fields[8],
			Latitude:      lat,
			Longitude:     lon,
			NMEARequired:  nmea,
			Bitrate:       bitrate,
		})
	}
	return out
}
