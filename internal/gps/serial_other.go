//go:build !linux

package gps

import (
	"io"
	"time"

	"github.com/tarm/serial"
)

// tarm/serial surfaces its read timeout as io.EOF.
const serialEOFIsTimeout = true

func openSerial(path string, baud int) (io.ReadWriteCloser, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        path,
		Baud:        baud,
		ReadTimeout: time.Second,
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}
