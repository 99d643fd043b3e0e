package parser

import (
	"encoding/hex"
	"fmt"
	"testing"
)

const (
	gnggaSentence = "$GNGGA,172814.00,4005.4202,N,10512.3398,W,1,08,0.81,1601,M,21.5,M,,*75\r\n"
	gprmcSentence = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A\r\n"

	rtcm1005Hex  = "d300143ed000038a0eda45127e713620937c3f095b24b3ece441"
	ubxMonVerHex = "b5620a0400000e34"
	ubxNavHex    = "b5620107080000010203040506072cfd"
	ubxAckHex    = "b56205010200068a98c1"
)

type invalidEvent struct {
	data   []byte
	offset int64
}

// recorder keeps copies of everything a parser reports.
type recorder struct {
	msgs         []Message
	invalid      []invalidEvent
	unattributed []byte
	unattrOffs   []int64
}

func (r *recorder) OnMessage(_ *Parser, msg Message) {
	r.msgs = append(r.msgs, msg.Clone())
}

func (r *recorder) OnInvalidData(_ *Parser, data []byte, offset int64) {
	r.invalid = append(r.invalid, invalidEvent{data: append([]byte(nil), data...), offset: offset})
}

func (r *recorder) OnUnattributed(_ *Parser, b byte, offset int64) {
	r.unattributed = append(r.unattributed, b)
	r.unattrOffs = append(r.unattrOffs, offset)
}

func (r *recorder) checksumFailures() int {
	n := 0
	for _, m := range r.msgs {
		if !m.ChecksumOK {
			n++
		}
	}
	return n
}

func newRecorded(bufferSize int) (*Parser, *recorder) {
	rec := &recorder{}
	return New(Config{Name: "test", BufferSize: bufferSize}, rec), rec
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("DecodeString(%q) error: %v", s, err)
	}
	return b
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func ubxFrame(class, id byte, payload []byte) []byte {
	body := []byte{class, id, byte(len(payload)), byte(len(payload) >> 8)}
	body = append(body, payload...)
	var a, b byte
	for _, c := range body {
		a += c
		b += a
	}
	out := append([]byte{ubxSync1, ubxSync2}, body...)
	return append(out, a, b)
}

// rtcmFrame appends a CRC-24Q computed bit by bit, independent of the
// parser's table.
func rtcmFrame(payload []byte) []byte {
	frame := []byte{rtcmPreamble, byte(len(payload)>>8) & 0x03, byte(len(payload))}
	frame = append(frame, payload...)
	var crc uint32
	for _, c := range frame {
		crc ^= uint32(c) << 16
		for bit := 0; bit < 8; bit++ {
			crc <<= 1
			if crc&0x1000000 != 0 {
				crc ^= 0x1864CFB
			}
		}
	}
	return append(frame, byte(crc>>16), byte(crc>>8), byte(crc))
}

func nmeaSentence(body string) []byte {
	var ck byte
	for i := 0; i < len(body); i++ {
		ck ^= body[i]
	}
	return []byte(fmt.Sprintf("$%s*%02X\r\n", body, ck))
}
