package source

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCaster accepts one connection, reads the request line, and lets the
// test control the handshake response and subsequent data.
func fakeCaster(t *testing.T) (addr string, accept func() net.Conn, close func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			connCh <- conn
		}
	}()

	return ln.Addr().String(), func() net.Conn {
		select {
		case c := <-connCh:
			return c
		case <-time.After(2 * time.Second):
			t.Fatal("no connection accepted")
			return nil
		}
	}, func() { ln.Close() }
}

func hostPort(t *testing.T, addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	var port int
	_, err = fmtSscan(portStr, &port)
	require.NoError(t, err)
	return host, port
}

func fmtSscan(s string, i *int) (int, error) {
	n := 0
	v := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		v = v*10 + int(r-'0')
		n++
	}
	*i = v
	return n, nil
}

func TestClientHandshakeSuccessAndFrames(t *testing.T) {
	addr, accept, closeLn := fakeCaster(t)
	defer closeLn()
	host, port := hostPort(t, addr)

	c := New(Config{Host: host, Port: port, Mountpoint: "VRS01"}, nil)

	var frames [][]byte
	connectedCh := make(chan struct{}, 1)
	c.OnFrame(func(b []byte) { frames = append(frames, append([]byte(nil), b...)) })
	c.OnConnected(func() { connectedCh <- struct{}{} })

	require.NoError(t, c.Connect())
	defer c.Disconnect()

	serverConn := accept()
	defer serverConn.Close()

	br := bufio.NewReader(serverConn)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "GET /VRS01 HTTP/1.1")

	// Drain headers.
	for {
		l, err := br.ReadString('\n')
		require.NoError(t, err)
		if l == "\r\n" {
			break
		}
	}

	_, err = serverConn.Write([]byte("ICY 200 OK\r\n\r\n\xD3\x00\x01\xFF"))
	require.NoError(t, err)

	select {
	case <-connectedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("onConnected not called")
	}

	require.Eventually(t, func() bool {
		return len(frames) > 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, c.Stats().Connected)
}

func TestClientAuthRejectedStopsRetrying(t *testing.T) {
	addr, accept, closeLn := fakeCaster(t)
	defer closeLn()
	host, port := hostPort(t, addr)

	c := New(Config{Host: host, Port: port, Mountpoint: "VRS01", MaxAttempts: 2, ReconnectInterval: 10 * time.Millisecond}, nil)

	errCh := make(chan error, 5)
	c.OnError(func(err error) { errCh <- err })

	require.NoError(t, c.Connect())
	defer c.Disconnect()

	serverConn := accept()
	defer serverConn.Close()

	br := bufio.NewReader(serverConn)
	for {
		l, err := br.ReadString('\n')
		require.NoError(t, err)
		if l == "\r\n" {
			break
		}
	}
	_, err := serverConn.Write([]byte("HTTP/1.1 401 Unauthorized\r\n\r\n"))
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrAuthRejected)
	case <-time.After(2 * time.Second):
		t.Fatal("expected AuthRejected error")
	}

	assert.False(t, c.Stats().Connected)
}

func TestClientDisconnectStopsFrames(t *testing.T) {
	addr, accept, closeLn := fakeCaster(t)
	defer closeLn()
	host, port := hostPort(t, addr)

	c := New(Config{Host: host, Port: port, Mountpoint: "VRS01"}, nil)
	var frameCount int
	c.OnFrame(func(b []byte) { frameCount++ })

	require.NoError(t, c.Connect())
	serverConn := accept()
	defer serverConn.Close()

	br := bufio.NewReader(serverConn)
	for {
		l, err := br.ReadString('\n')
		require.NoError(t, err)
		if l == "\r\n" {
			break
		}
	}
	_, err := serverConn.Write([]byte("ICY 200 OK\r\n\r\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Stats().Connected }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Disconnect())
	after := frameCount
	_, _ = serverConn.Write([]byte{0xD3, 0x00, 0x01})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, frameCount)
}
