package source

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const maxHandshakeBytes = 8 * 1024

// handshakeResult is what readHandshake recovers from the upstream caster's
// response: the status line, and any bytes that arrived in the same read as
// part of the streaming body (spec.md §4.1 step 3-4, §8 residual-bytes
// boundary behaviour).
type handshakeResult struct {
	StatusLine string
	Residual   []byte
}

// readHandshake accumulates bytes from r until either the first status line
// is terminated by CRLF (the success path — ICY responses carry no further
// headers, so bytes after that CRLF are already the RTCM stream) or, failing
// that, until the header-section terminator "\r\n\r\n" is found (the
// diagnostic path for non-ICY responses, so the full status can be reported).
func readHandshake(r io.Reader) (*handshakeResult, error) {
	br := bufio.NewReaderSize(r, maxHandshakeBytes+1)

	var buf []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
		if len(buf) > maxHandshakeBytes {
			return nil, fmt.Errorf("%w: handshake exceeded %d bytes", ErrProtocolError, maxHandshakeBytes)
		}

		if n := len(buf); n >= 2 && buf[n-2] == '\r' && buf[n-1] == '\n' {
			statusLine := strings.TrimRight(string(buf[:n-2]), "\r\n")
			if strings.HasPrefix(statusLine, "ICY 200 OK") {
				residual := make([]byte, br.Buffered())
				if len(residual) > 0 {
					_, _ = io.ReadFull(br, residual)
				}
				return &handshakeResult{StatusLine: statusLine, Residual: residual}, nil
			}
			// Not the success line: keep reading until the header
			// terminator so the full diagnostic response is available.
			return readUntilHeaderEnd(br, buf, statusLine)
		}
	}
}

func readUntilHeaderEnd(br *bufio.Reader, buf []byte, statusLine string) (*handshakeResult, error) {
	for {
		if n := len(buf); n >= 4 && buf[n-4] == '\r' && buf[n-3] == '\n' && buf[n-2] == '\r' && buf[n-1] == '\n' {
			residual := make([]byte, br.Buffered())
			if len(residual) > 0 {
				_, _ = io.ReadFull(br, residual)
			}
			return &handshakeResult{StatusLine: statusLine, Residual: residual}, nil
		}
		b, err := br.ReadByte()
		if err != nil {
			// EOF with a status line already in hand is still a usable
			// diagnostic (some casters close immediately after the error
			// status line without a blank-line terminator).
			if statusLine != "" {
				return &handshakeResult{StatusLine: statusLine}, nil
			}
			return nil, err
		}
		buf = append(buf, b)
		if len(buf) > maxHandshakeBytes {
			return nil, fmt.Errorf("%w: handshake exceeded %d bytes", ErrProtocolError, maxHandshakeBytes)
		}
	}
}
