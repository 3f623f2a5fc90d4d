package supervisor

import (
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/bramburn/ntrip-relay/internal/wire"
)

const probeTimeout = 10 * time.Second

// ProbeSource discovers a remote caster's sourcetable (spec.md §4.3).
func ProbeSource(host string, port int, user, pass string) ([]wire.MountpointInfo, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		return nil, classifyProbeErr(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(probeTimeout)
	_ = conn.SetDeadline(deadline)

	var req strings.Builder
	req.WriteString("GET / HTTP/1.1\r\n")
	fmt.Fprintf(&req, "Host: %s\r\n", addr)
	req.WriteString("User-Agent: NTRIP-Relay/1.0\r\n")
	if user != "" {
		token := base64.StdEncoding.EncodeToString([]byte(user + ":" + pass))
		fmt.Fprintf(&req, "Authorization: Basic %s\r\n", token)
	}
	req.WriteString("\r\n")

	if _, err := conn.Write([]byte(req.String())); err != nil {
		return nil, classifyProbeErr(err)
	}

	body, err := io.ReadAll(conn)
	if err != nil && len(body) == 0 {
		return nil, classifyProbeErr(err)
	}

	resp := string(body)
	if strings.Contains(firstLine(resp), "401") {
		return nil, ErrUnauthorized
	}
	if !strings.Contains(resp, "SOURCETABLE 200 OK") {
		return nil, fmt.Errorf("supervisor: probe: unexpected response %q", firstLine(resp))
	}

	idx := strings.Index(resp, "\r\n\r\n")
	if idx < 0 {
		return nil, fmt.Errorf("supervisor: probe: missing header terminator")
	}
	return wire.ParseSourcetableBody(resp[idx+4:]), nil
}

func classifyProbeErr(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("supervisor: probe: %w", err)
}

func firstLine(s string) string {
	if idx := strings.IndexAny(s, "\r\n"); idx >= 0 {
		return s[:idx]
	}
	return s
}
