package parser

import "gnssmux/internal/checksum"

//	+----------+---------+--------+---------+----------+----------+-------+
//	| Preamble |  Name   | Comma  |  Data   | Asterisk | Checksum | CR LF |
//	|    $     | A-Z ... |   ,    | n bytes |    *     | 2 hex    |       |
//	+----------+---------+--------+---------+----------+----------+-------+
//	           |<------------ XOR checksum -------->|
func (p *Parser) stepNMEA(b byte) {
	switch p.state {
	case stateNMEAName:
		if b == ',' && p.nameLen > 0 {
			p.xor ^= b
			p.state = stateNMEAData
			return
		}
		if b < 'A' || b > 'Z' || p.nameLen == maxNameLength {
			p.abandon(p.last(), b)
			return
		}
		p.xor ^= b
		p.nameBuf[p.nameLen] = b
		p.nameLen++

	case stateNMEAData:
		if b == '*' {
			p.state = stateNMEAChecksum1
			return
		}
		p.xor ^= b

	// Any two bytes are taken as the checksum field. Non-hex digits fail
	// the comparison in finishNMEA.
	case stateNMEAChecksum1:
		p.state = stateNMEAChecksum2

	case stateNMEAChecksum2:
		p.nmeaLength = len(p.buf)
		p.state = stateNMEATerminator

	case stateNMEATerminator:
		switch {
		case b == '\r' && !p.sawCR:
			p.sawCR = true
		case b == '\n':
			p.finishNMEA(p.buf)
		default:
			// No (complete) line termination: the sentence ends before b,
			// and b may start the next message.
			p.finishNMEA(p.last())
			p.restart(b)
		}
	}
}

func (p *Parser) finishNMEA(data []byte) {
	want, ok := checksum.ParseNMEAHex(p.buf[p.nmeaLength-2], p.buf[p.nmeaLength-1])
	p.deliver(ProtocolNMEA, data, ok && want == p.xor)
}
