package parser

import (
	"bytes"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_UnattributedBytes(t *testing.T) {
	p, rec := newRecorded(0)
	_, _ = p.Write([]byte("xyz"))

	assert.Equal(t, []byte("xyz"), rec.unattributed)
	assert.Equal(t, []int64{0, 1, 2}, rec.unattrOffs)
	assert.Empty(t, rec.msgs)
	assert.Empty(t, rec.invalid)
	assert.True(t, p.Idle())
	assert.Equal(t, int64(3), p.Offset())
}

func TestParser_MixedStream(t *testing.T) {
	nmea := []byte(gnggaSentence)
	ubx := mustHex(t, ubxNavHex)
	rtcm := mustHex(t, rtcm1005Hex)
	rmc := []byte(gprmcSentence)
	in := concat(nmea, ubx, rtcm, rmc)

	p, rec := newRecorded(0)
	n, err := io.Copy(p, bytes.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, int64(len(in)), n)

	require.Len(t, rec.msgs, 4)
	wantProto := []Protocol{ProtocolNMEA, ProtocolUBX, ProtocolRTCM, ProtocolNMEA}
	wantData := [][]byte{nmea, ubx, rtcm, rmc}
	offset := int64(0)
	for i, msg := range rec.msgs {
		assert.Equal(t, wantProto[i], msg.Protocol, "message %d", i)
		assert.Equal(t, wantData[i], msg.Data, "message %d", i)
		assert.Equal(t, offset, msg.Offset, "message %d", i)
		assert.True(t, msg.ChecksumOK, "message %d", i)
		offset += int64(len(wantData[i]))
	}
	assert.Empty(t, rec.invalid)
	assert.Empty(t, rec.unattributed)
	assert.Equal(t, len(nmea), p.MaxLength())
}

func TestParser_PartialVendorMessageThenText(t *testing.T) {
	cases := []struct {
		name       string
		partial    []byte
		wantUnattr []byte
	}{
		{name: "SyncOnly", partial: []byte{0xB5}},
		{name: "BadSync2", partial: []byte{0xB5, 0x01, 0x02}, wantUnattr: []byte{0x01, 0x02}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, rec := newRecorded(0)
			_, _ = p.Write(concat(tc.partial, []byte(gnggaSentence)))

			require.Len(t, rec.invalid, 1)
			assert.Equal(t, []byte{0xB5}, rec.invalid[0].data)
			assert.Equal(t, tc.wantUnattr, rec.unattributed)
			require.Len(t, rec.msgs, 1)
			assert.Equal(t, ProtocolNMEA, rec.msgs[0].Protocol)
			assert.Equal(t, gnggaSentence, string(rec.msgs[0].Data))
			assert.True(t, rec.msgs[0].ChecksumOK)
		})
	}
}

func TestParser_IdleAfterTerminalEvents(t *testing.T) {
	badChecksum := mustHex(t, ubxAckHex)
	badChecksum[len(badChecksum)-1] ^= 0x55

	cases := []struct {
		name string
		in   []byte
	}{
		{name: "Success", in: mustHex(t, rtcm1005Hex)},
		{name: "ChecksumFailure", in: badChecksum},
		{name: "InvalidData", in: []byte{0xB5, 0x00}},
		{name: "InvalidRTCMLength", in: []byte{0xD3, 0xFC}},
		{name: "Unattributed", in: []byte{0x00}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, _ := newRecorded(0)
			_, _ = p.Write(tc.in)
			assert.Equal(t, 0, p.Len())
			assert.Equal(t, stateWaitPreamble, p.state)
			assert.True(t, p.Idle())
		})
	}
}

func TestParser_NoAccumulatorLeakage(t *testing.T) {
	cases := []struct {
		name    string
		aborted []byte
		next    []byte
	}{
		{name: "RTCMThenUBX", aborted: []byte{0xD3, 0x12}, next: mustHex(t, ubxNavHex)},
		{name: "NMEAThenRTCM", aborted: []byte("$GNG#"), next: mustHex(t, rtcm1005Hex)},
		{name: "NMEAThenUBX", aborted: []byte("$GPG"), next: mustHex(t, ubxAckHex)},
		{name: "UBXThenNMEA", aborted: []byte{0xB5, 0x63}, next: []byte(gprmcSentence)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, rec := newRecorded(0)
			_, _ = p.Write(concat(tc.aborted, tc.next))

			require.Len(t, rec.invalid, 1)
			require.Len(t, rec.msgs, 1)
			assert.Equal(t, tc.next, rec.msgs[0].Data)
			assert.True(t, rec.msgs[0].ChecksumOK)
		})
	}
}

func TestParser_NMEAOverflowResyncs(t *testing.T) {
	p, rec := newRecorded(32)
	long := []byte(gnggaSentence)
	follow := mustHex(t, ubxMonVerHex)

	_, _ = p.Write(concat(long, follow))

	require.Len(t, rec.invalid, 1)
	assert.Equal(t, long[:32], rec.invalid[0].data)
	assert.Equal(t, long[32:], rec.unattributed)
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, follow, rec.msgs[0].Data)
	assert.LessOrEqual(t, p.MaxLength(), p.Cap())
}

func TestParser_BufferSizeDefaults(t *testing.T) {
	assert.Equal(t, DefaultBufferSize, New(Config{}, nil).Cap())
	assert.Equal(t, minBufferSize, New(Config{BufferSize: 3}, nil).Cap())
	assert.Equal(t, 4096, New(Config{BufferSize: 4096}, nil).Cap())
}

func TestParser_NilHandler(t *testing.T) {
	p := New(Config{Name: "Tx"}, nil)
	in := concat([]byte(gnggaSentence), []byte{0xB5, 0x00, 0xD3, 0xFF}, mustHex(t, rtcm1005Hex))
	assert.NotPanics(t, func() { _, _ = p.Write(in) })
	assert.Equal(t, "Tx", p.Name())
	assert.True(t, p.Idle())
}

func TestParser_ResetDropsMessageInProgress(t *testing.T) {
	p, rec := newRecorded(0)
	in := []byte(gnggaSentence)
	_, _ = p.Write(in[:20])
	require.Equal(t, 20, p.Len())

	p.Reset()
	assert.True(t, p.Idle())

	_, _ = p.Write(in)
	require.Len(t, rec.msgs, 1)
	assert.True(t, rec.msgs[0].ChecksumOK)
	assert.Empty(t, rec.invalid)
}

func TestParser_FlushReportsPartialMessage(t *testing.T) {
	p, rec := newRecorded(0)
	in := mustHex(t, rtcm1005Hex)
	_, _ = p.Write([]byte("zz"))
	_, _ = p.Write(in[:10])

	p.Flush()
	require.Len(t, rec.invalid, 1)
	assert.Equal(t, in[:10], rec.invalid[0].data)
	assert.Equal(t, int64(2), rec.invalid[0].offset)
	assert.True(t, p.Idle())

	// Nothing buffered, nothing reported.
	p.Flush()
	assert.Len(t, rec.invalid, 1)

	_, _ = p.Write(in)
	require.Len(t, rec.msgs, 1)
	assert.True(t, rec.msgs[0].ChecksumOK)
	assert.Equal(t, int64(12), rec.msgs[0].Offset)
}

func TestParser_FlushDeliversUnterminatedSentence(t *testing.T) {
	body := strings.TrimSuffix(gnggaSentence, "\r\n")
	cases := []struct {
		name string
		in   string
	}{
		{name: "NoTerminator", in: body},
		{name: "CROnly", in: body + "\r"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, rec := newRecorded(0)
			_, _ = p.Write([]byte(tc.in))
			require.Empty(t, rec.msgs)

			p.Flush()
			require.Len(t, rec.msgs, 1)
			assert.Equal(t, tc.in, string(rec.msgs[0].Data))
			assert.Equal(t, "GNGGA", rec.msgs[0].Name)
			assert.True(t, rec.msgs[0].ChecksumOK)
			assert.Empty(t, rec.invalid)
			assert.True(t, p.Idle())
			assert.Equal(t, len(tc.in), p.MaxLength())
		})
	}
}

func TestParser_FlushMidChecksumIsInvalid(t *testing.T) {
	p, rec := newRecorded(0)
	in := strings.TrimSuffix(gnggaSentence, "5\r\n")
	_, _ = p.Write([]byte(in))

	p.Flush()
	assert.Empty(t, rec.msgs)
	require.Len(t, rec.invalid, 1)
	assert.Equal(t, in, string(rec.invalid[0].data))
}

func TestParser_RandomInputKeepsInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	preambles := []byte{'$', 0xB5, 0x62, 0xD3, '*', ',', '\r', '\n'}
	good := concat([]byte(gnggaSentence), mustHex(t, ubxNavHex), mustHex(t, rtcm1005Hex))

	var consumed int64
	h := HandlerFuncs{
		Message: func(p *Parser, msg Message) {
			consumed += int64(len(msg.Data))
		},
		InvalidData: func(p *Parser, data []byte, offset int64) {
			consumed += int64(len(data))
		},
		Unattributed: func(p *Parser, b byte, offset int64) {
			consumed++
		},
	}
	p := New(Config{Name: "fuzz", BufferSize: 512}, h)

	for i := 0; i < 200000; i++ {
		var b byte
		switch r := rng.Intn(10); {
		case r < 3:
			b = preambles[rng.Intn(len(preambles))]
		default:
			b = byte(rng.Intn(256))
		}
		p.Feed(b)
		require.LessOrEqual(t, p.Len(), p.Cap())
		// Every consumed byte is either buffered or was reported exactly once.
		require.Equal(t, p.Offset(), consumed+int64(p.Len()))
	}

	// Known-good traffic still comes through after arbitrary noise.
	p.Reset()
	consumed = 0
	var delivered []Protocol
	for _, b := range good {
		if proto := p.Feed(b); proto != ProtocolNone {
			delivered = append(delivered, proto)
		}
	}
	assert.Equal(t, []Protocol{ProtocolNMEA, ProtocolUBX, ProtocolRTCM}, delivered)
	assert.Equal(t, int64(len(good)), consumed)
}

func TestProtocol_String(t *testing.T) {
	assert.Equal(t, "none", ProtocolNone.String())
	assert.Equal(t, "nmea", ProtocolNMEA.String())
	assert.Equal(t, "rtcm", ProtocolRTCM.String())
	assert.Equal(t, "ubx", ProtocolUBX.String())
	assert.Equal(t, "protocol(9)", Protocol(9).String())
}

func TestHandlers_FanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	p := New(Config{}, Handlers{a, b})
	_, _ = p.Write(concat([]byte{0x00, 0xB5, 0x00}, mustHex(t, ubxAckHex)))

	for _, r := range []*recorder{a, b} {
		assert.Len(t, r.msgs, 1)
		assert.Len(t, r.invalid, 1)
		assert.Equal(t, []byte{0x00, 0x00}, r.unattributed)
	}
}

func TestParseProtocol(t *testing.T) {
	for in, want := range map[string]Protocol{"nmea": ProtocolNMEA, " RTCM": ProtocolRTCM, "Ubx": ProtocolUBX} {
		got, err := ParseProtocol(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseProtocol("sbf")
	assert.EqualError(t, err, `unknown protocol "sbf" (must be nmea, rtcm or ubx)`)
}
