// Package udp forwards delivered messages as UDP datagrams, one message per
// datagram.
package udp

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"gnssmux/internal/parser"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type (
	resolveFunc func(network, address string) (*net.UDPAddr, error)
	dialFunc    func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)
)

// Forwarder implements parser.Handler. Only messages whose checksum matched
// are sent. Invalid data and unattributed bytes are dropped.
type Forwarder struct {
	dest      string
	conn      udpConn
	protocols map[parser.Protocol]bool
	log       *logrus.Entry

	sent   atomic.Uint64
	errors atomic.Uint64
}

// NewForwarder dials dest. An empty protocols list forwards every protocol.
func NewForwarder(dest string, protocols []parser.Protocol, log *logrus.Entry) (*Forwarder, error) {
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		// DialUDP selects a suitable local address automatically.
		return net.DialUDP(network, laddr, raddr)
	}
	f, err := newForwarder(dest, net.ResolveUDPAddr, dial)
	if err != nil {
		return nil, err
	}
	for _, p := range protocols {
		f.protocols[p] = true
	}
	if log != nil {
		f.log = log.WithField("forward", dest)
	}
	return f, nil
}

func newForwarder(dest string, resolve resolveFunc, dial dialFunc) (*Forwarder, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Forwarder{
		dest:      dest,
		conn:      conn,
		protocols: map[parser.Protocol]bool{},
	}, nil
}

// Dest returns the configured destination.
func (f *Forwarder) Dest() string { return f.dest }

// Sent returns the number of datagrams written.
func (f *Forwarder) Sent() uint64 { return f.sent.Load() }

// Errors returns the number of failed writes.
func (f *Forwarder) Errors() uint64 { return f.errors.Load() }

// Send writes payload as a single datagram.
func (f *Forwarder) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := f.conn.Write(payload)
	return err
}

func (f *Forwarder) OnMessage(p *parser.Parser, msg parser.Message) {
	if !msg.ChecksumOK {
		return
	}
	if len(f.protocols) > 0 && !f.protocols[msg.Protocol] {
		return
	}
	if err := f.Send(msg.Data); err != nil {
		// Only the first failure is logged.
		if f.errors.Add(1) == 1 && f.log != nil {
			f.log.WithError(err).Warn("udp forward failed")
		}
		return
	}
	f.sent.Add(1)
}

func (f *Forwarder) OnInvalidData(*parser.Parser, []byte, int64) {}

func (f *Forwarder) OnUnattributed(*parser.Parser, byte, int64) {}

func (f *Forwarder) Close() error {
	if f.conn == nil {
		return nil
	}
	return f.conn.Close()
}
