// Package parser splits a raw GNSS receiver byte stream into NMEA sentences,
// u-blox UBX frames and RTCM 3 frames.
//
// A Parser is a byte-at-a-time state machine. Every byte is either part of a
// message being assembled, the start of a new one, or reported as
// unattributed. Bytes that break the framing of the message in progress
// abandon it (OnInvalidData) and are then re-examined as a possible preamble,
// so a corrupted message never swallows the start of the next one.
//
// A Parser is not safe for concurrent use. Independent streams use
// independent parsers.
package parser

import (
	"gnssmux/internal/checksum"
)

// DefaultBufferSize bounds a single message. Some USB RAWX messages are
// larger than 2 KiB.
const DefaultBufferSize = 3000

// minBufferSize fits the largest fixed framing overhead (UBX: 8 bytes).
const minBufferSize = 16

const (
	nmeaPreamble = '$'
	ubxSync1     = 0xB5
	ubxSync2     = 0x62
	rtcmPreamble = 0xD3

	maxNameLength = 16

	ubxOverhead  = 8 // sync(2) class id length(2) ck_a ck_b
	rtcmOverhead = 6 // preamble length(2) crc(3)
)

type state uint8

const (
	stateWaitPreamble state = iota

	stateNMEAName
	stateNMEAData
	stateNMEAChecksum1
	stateNMEAChecksum2
	stateNMEATerminator

	stateUBXSync2
	stateUBXClass
	stateUBXID
	stateUBXLength1
	stateUBXLength2
	stateUBXPayload
	stateUBXCkA
	stateUBXCkB

	stateRTCMLength1
	stateRTCMLength2
	stateRTCMMessage1
	stateRTCMMessage2
	stateRTCMData
	stateRTCMCRC
)

// Config controls a Parser.
type Config struct {
	// Name tags diagnostics (e.g. "Tx", "rover").
	Name string

	// BufferSize is the fixed capacity of the message buffer. Messages that
	// would not fit are abandoned as invalid data. Defaults to
	// DefaultBufferSize.
	BufferSize int
}

// Parser is the per-stream parse context.
type Parser struct {
	name    string
	handler Handler

	state state
	buf   []byte

	maxLength int
	offset    int64 // stream offset of the next byte
	start     int64 // stream offset of buf[0]
	delivered Protocol

	// NMEA
	xor        byte
	nameBuf    [maxNameLength]byte
	nameLen    int
	nmeaLength int
	sawCR      bool

	// UBX
	ck checksum.Fletcher8

	// RTCM
	crc uint32

	// UBX and RTCM
	id             uint16
	bytesRemaining int
}

// New returns a parser that reports to h. A nil h discards everything.
func New(cfg Config, h Handler) *Parser {
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	if size < minBufferSize {
		size = minBufferSize
	}
	if h == nil {
		h = HandlerFuncs{}
	}
	return &Parser{
		name:    cfg.Name,
		handler: h,
		buf:     make([]byte, 0, size),
	}
}

// Name returns the diagnostic tag given in Config.
func (p *Parser) Name() string { return p.name }

// Len returns the number of bytes buffered for the message in progress.
func (p *Parser) Len() int { return len(p.buf) }

// Cap returns the fixed buffer capacity.
func (p *Parser) Cap() int { return cap(p.buf) }

// MaxLength returns the longest message delivered so far.
func (p *Parser) MaxLength() int { return p.maxLength }

// Offset returns the number of bytes consumed.
func (p *Parser) Offset() int64 { return p.offset }

// Idle reports whether the parser is waiting for a preamble with nothing
// buffered.
func (p *Parser) Idle() bool { return p.state == stateWaitPreamble && len(p.buf) == 0 }

// Reset drops any message in progress without reporting it. Statistics
// (MaxLength, Offset) are kept.
func (p *Parser) Reset() {
	p.buf = p.buf[:0]
	p.state = stateWaitPreamble
	p.resetAccumulators()
}

// Flush ends the message in progress and returns to the dispatcher. A
// sentence complete through its checksum digits is delivered; anything else
// is reported as invalid data. Call it when the stream ends or the source
// reconnects.
func (p *Parser) Flush() {
	switch {
	case p.state == stateNMEATerminator:
		p.finishNMEA(p.buf)
	case len(p.buf) > 0:
		p.handler.OnInvalidData(p, p.buf, p.start)
	}
	p.Reset()
}

// Feed consumes one stream byte. It returns the protocol of the message
// delivered while handling b, or ProtocolNone.
func (p *Parser) Feed(b byte) Protocol {
	p.delivered = ProtocolNone
	if len(p.buf) == cap(p.buf) {
		// A message in progress cannot grow any further.
		p.abandon(p.buf, b)
	} else {
		if len(p.buf) == 0 {
			p.start = p.offset
		}
		p.buf = append(p.buf, b)
		p.step(b)
	}
	p.offset++
	return p.delivered
}

// Write feeds every byte of data in order. It implements io.Writer and never
// fails.
func (p *Parser) Write(data []byte) (int, error) {
	for _, b := range data {
		p.Feed(b)
	}
	return len(data), nil
}

func (p *Parser) step(b byte) {
	switch {
	case p.state == stateWaitPreamble:
		p.waitForPreamble(b)
	case p.state <= stateNMEATerminator:
		p.stepNMEA(b)
	case p.state <= stateUBXCkB:
		p.stepUBX(b)
	default:
		p.stepRTCM(b)
	}
}

// waitForPreamble classifies b, which is already buf[0].
func (p *Parser) waitForPreamble(b byte) {
	p.resetAccumulators()
	switch b {
	case nmeaPreamble:
		p.state = stateNMEAName
	case ubxSync1:
		p.state = stateUBXSync2
	case rtcmPreamble:
		// The preamble is part of the CRC domain.
		p.crc = checksum.UpdateCRC24Q(0, b)
		p.state = stateRTCMLength1
	default:
		p.state = stateWaitPreamble
		p.handler.OnUnattributed(p, b, p.start)
		p.buf = p.buf[:0]
	}
}

func (p *Parser) resetAccumulators() {
	p.xor = 0
	p.nameLen = 0
	p.nmeaLength = 0
	p.sawCR = false
	p.ck.Reset()
	p.crc = 0
	p.id = 0
	p.bytesRemaining = 0
}

// abandon reports data as invalid, restarts the buffer with b alone and
// re-dispatches b.
func (p *Parser) abandon(data []byte, b byte) {
	if len(data) > 0 {
		p.handler.OnInvalidData(p, data, p.start)
	}
	p.restart(b)
}

// restart makes b the first byte of a new message and classifies it.
func (p *Parser) restart(b byte) {
	p.buf = append(p.buf[:0], b)
	p.start = p.offset
	p.state = stateWaitPreamble
	p.waitForPreamble(b)
}

// deliver hands data to the handler and returns to the dispatcher.
func (p *Parser) deliver(proto Protocol, data []byte, ok bool) {
	if len(data) > p.maxLength {
		p.maxLength = len(data)
	}
	msg := Message{
		Protocol:   proto,
		Data:       data,
		ID:         p.id,
		ChecksumOK: ok,
		Offset:     p.start,
	}
	if proto == ProtocolNMEA {
		msg.Name = string(p.nameBuf[:p.nameLen])
	}
	p.handler.OnMessage(p, msg)

	p.delivered = proto
	p.buf = p.buf[:0]
	p.state = stateWaitPreamble
	p.resetAccumulators()
}

// last returns buf without the byte just appended.
func (p *Parser) last() []byte {
	return p.buf[:len(p.buf)-1]
}
