package gps

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"
)

const (
	SourceSerial = "serial"
	SourceTCP    = "tcp"
	SourceGPSD   = "gpsd"
	SourceReplay = "replay"
)

const (
	gpsdDefaultAddr = "127.0.0.1:2947"

	dialTimeout      = 2 * time.Second
	handshakeTimeout = 5 * time.Second
	maxHandshake     = 16
)

// NormalizeSource lower-cases s and applies the serial default.
func NormalizeSource(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return SourceSerial
	}
	return s
}

type readCloser struct {
	io.Reader
	io.Closer
}

func dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: dialTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

// gpsdWatch asks gpsd to pass the receiver bytes through unmodified.
func gpsdWatch(conn net.Conn) error {
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"raw\":2}\n"))
	return err
}

type gpsdMsgBase struct {
	Class   string `json:"class"`
	Message string `json:"message"`
}

// gpsdHandshake consumes gpsd's JSON replies (VERSION, DEVICES, ...) up to
// and including the WATCH acknowledgement. Raw data follows in r.
func gpsdHandshake(r *bufio.Reader) error {
	for i := 0; i < maxHandshake; i++ {
		line, err := r.ReadBytes('\n')
		if err != nil {
			return fmt.Errorf("gpsd handshake: %w", err)
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var m gpsdMsgBase
		if err := json.Unmarshal(line, &m); err != nil {
			return fmt.Errorf("gpsd handshake: %w", err)
		}
		switch m.Class {
		case "WATCH":
			return nil
		case "ERROR":
			return fmt.Errorf("gpsd error: %s", m.Message)
		}
	}
	return fmt.Errorf("gpsd handshake: no WATCH reply after %d lines", maxHandshake)
}

func openGPSD(ctx context.Context, addr string) (io.ReadCloser, error) {
	conn, err := dialTCP(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := gpsdWatch(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("gpsd watch failed: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	br := bufio.NewReaderSize(conn, 4096)
	if err := gpsdHandshake(br); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	return readCloser{Reader: br, Closer: conn}, nil
}

func autoDetectDevice() string {
	candidates := []string{}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
