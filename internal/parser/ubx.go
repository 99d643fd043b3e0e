package parser

//	|<-- Preamble --->|
//	+--------+--------+---------+--------+---------+---------+--------+--------+
//	|  SYNC  |  SYNC  |  Class  |   ID   | Length  | Payload |  CK_A  |  CK_B  |
//	|  0xb5  |  0x62  |  8 bits | 8 bits | 2 bytes | n bytes | 8 bits | 8 bits |
//	+--------+--------+---------+--------+---------+---------+--------+--------+
//	                  |<------------- Checksum ------------->|
func (p *Parser) stepUBX(b byte) {
	switch p.state {
	case stateUBXSync2:
		if b != ubxSync2 {
			p.abandon(p.last(), b)
			return
		}
		p.state = stateUBXClass

	case stateUBXClass:
		p.ck.Reset()
		p.ck.Add(b)
		p.id = uint16(b) << 8
		p.state = stateUBXID

	case stateUBXID:
		p.ck.Add(b)
		p.id |= uint16(b)
		p.state = stateUBXLength1

	case stateUBXLength1:
		p.ck.Add(b)
		p.bytesRemaining = int(b)
		p.state = stateUBXLength2

	case stateUBXLength2:
		p.ck.Add(b)
		p.bytesRemaining |= int(b) << 8
		if ubxOverhead+p.bytesRemaining > cap(p.buf) {
			p.abandon(p.last(), b)
			return
		}
		if p.bytesRemaining == 0 {
			p.state = stateUBXCkA
			return
		}
		p.state = stateUBXPayload

	case stateUBXPayload:
		p.ck.Add(b)
		p.bytesRemaining--
		if p.bytesRemaining == 0 {
			p.state = stateUBXCkA
		}

	case stateUBXCkA:
		p.state = stateUBXCkB

	case stateUBXCkB:
		n := len(p.buf)
		ok := p.buf[n-2] == p.ck.A && p.buf[n-1] == p.ck.B
		p.deliver(ProtocolUBX, p.buf, ok)
	}
}
