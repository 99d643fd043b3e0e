package parser

import (
	"fmt"
	"strings"
)

// Protocol tags a delivered message with the framing it was recognized by.
type Protocol uint8

const (
	ProtocolNone Protocol = iota
	ProtocolNMEA
	ProtocolRTCM
	ProtocolUBX
)

func (p Protocol) String() string {
	switch p {
	case ProtocolNone:
		return "none"
	case ProtocolNMEA:
		return "nmea"
	case ProtocolRTCM:
		return "rtcm"
	case ProtocolUBX:
		return "ubx"
	default:
		return fmt.Sprintf("protocol(%d)", uint8(p))
	}
}

// ParseProtocol maps "nmea", "rtcm" or "ubx" (any case) to its Protocol.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nmea":
		return ProtocolNMEA, nil
	case "rtcm":
		return ProtocolRTCM, nil
	case "ubx":
		return ProtocolUBX, nil
	default:
		return ProtocolNone, fmt.Errorf("unknown protocol %q (must be nmea, rtcm or ubx)", s)
	}
}

// Message is a framed message handed to Handler.OnMessage.
//
// Data aliases the parser buffer and is only valid until OnMessage returns;
// consumers that keep it must copy it (see Clone).
type Message struct {
	Protocol Protocol

	// Data holds every byte of the message including framing and, for NMEA,
	// any line termination that was consumed.
	Data []byte

	// Name is the NMEA sentence name without '$' (e.g. "GNGGA").
	Name string

	// ID is class<<8|id for UBX and the 12-bit message number for RTCM.
	ID uint16

	// ChecksumOK reports whether the NMEA checksum, UBX CK_A/CK_B or RTCM
	// CRC-24Q matched.
	ChecksumOK bool

	// Offset is the stream offset of the first byte of Data.
	Offset int64
}

// Identity returns the key statistics are aggregated under.
func (m Message) Identity() string {
	switch m.Protocol {
	case ProtocolNMEA:
		return m.Name
	case ProtocolUBX:
		return fmt.Sprintf("%d.%d", m.ID>>8, m.ID&0xFF)
	case ProtocolRTCM:
		return fmt.Sprintf("%d", m.ID)
	default:
		return ""
	}
}

// Clone returns a copy of m whose Data no longer aliases the parser buffer.
func (m Message) Clone() Message {
	m.Data = append([]byte(nil), m.Data...)
	return m
}
