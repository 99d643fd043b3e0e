package parser

import "gnssmux/internal/checksum"

// RTCM 10403.x transport layer:
//
//	|<------------- 3 bytes ------------>|<----- length ----->|<- 3 bytes ->|
//	+----------+--------+----------------+---------+----------+-------------+
//	| Preamble |  Fill  | Message Length | Message |   Fill   |   CRC-24Q   |
//	|  8 bits  | 6 bits |    10 bits     |  n-bits | 0-7 bits |   24 bits   |
//	|   0xd3   | 000000 |   (in bytes)   |         |   zeros  |             |
//	+----------+--------+----------------+---------+----------+-------------+
//	|<------------------------ CRC ------------------------->|
func (p *Parser) stepRTCM(b byte) {
	if p.state != stateRTCMCRC {
		p.crc = checksum.UpdateCRC24Q(p.crc, b)
	}

	switch p.state {
	case stateRTCMLength1:
		if b&^0x03 != 0 {
			p.abandon(p.last(), b)
			return
		}
		p.bytesRemaining = int(b) << 8
		p.state = stateRTCMLength2

	case stateRTCMLength2:
		p.bytesRemaining |= int(b)
		if rtcmOverhead+p.bytesRemaining > cap(p.buf) {
			p.abandon(p.last(), b)
			return
		}
		p.state = stateRTCMMessage1
		p.endOfPayload()

	case stateRTCMMessage1:
		// Upper 8 bits of the 12-bit message number.
		p.id = uint16(b) << 4
		p.bytesRemaining--
		p.state = stateRTCMMessage2
		p.endOfPayload()

	case stateRTCMMessage2:
		p.id |= uint16(b) >> 4
		p.bytesRemaining--
		p.state = stateRTCMData
		p.endOfPayload()

	case stateRTCMData:
		p.bytesRemaining--
		p.endOfPayload()

	case stateRTCMCRC:
		p.bytesRemaining--
		if p.bytesRemaining > 0 {
			return
		}
		n := len(p.buf)
		sent := uint32(p.buf[n-3])<<16 | uint32(p.buf[n-2])<<8 | uint32(p.buf[n-1])
		p.deliver(ProtocolRTCM, p.buf, sent == p.crc&checksum.CRC24QMask)
	}
}

// endOfPayload switches to reading the CRC once the payload is consumed.
func (p *Parser) endOfPayload() {
	if p.bytesRemaining == 0 {
		p.bytesRemaining = 3
		p.state = stateRTCMCRC
	}
}
