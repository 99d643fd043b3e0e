package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUBX_KnownFrames(t *testing.T) {
	cases := []struct {
		name     string
		hex      string
		id       uint16
		identity string
	}{
		{name: "MonVerPoll", hex: ubxMonVerHex, id: 0x0A04, identity: "10.4"},
		{name: "Nav", hex: ubxNavHex, id: 0x0107, identity: "1.7"},
		{name: "AckAck", hex: ubxAckHex, id: 0x0501, identity: "5.1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := mustHex(t, tc.hex)
			p, rec := newRecorded(0)

			var last Protocol
			for _, b := range in {
				last = p.Feed(b)
			}

			assert.Equal(t, ProtocolUBX, last)
			require.Len(t, rec.msgs, 1)
			msg := rec.msgs[0]
			assert.Equal(t, ProtocolUBX, msg.Protocol)
			assert.Equal(t, in, msg.Data)
			assert.Equal(t, tc.id, msg.ID)
			assert.Equal(t, tc.identity, msg.Identity())
			assert.True(t, msg.ChecksumOK)
			assert.Empty(t, msg.Name)
			assert.True(t, p.Idle())
		})
	}
}

func TestUBX_PayloadBitFlip(t *testing.T) {
	good := ubxFrame(0x02, 0x15, []byte{0x10, 0x20, 0x30, 0x40, 0x50})
	for i := 6; i < len(good)-2; i++ {
		for bit := 0; bit < 8; bit++ {
			in := append([]byte(nil), good...)
			in[i] ^= 1 << bit

			p, rec := newRecorded(0)
			_, _ = p.Write(in)

			require.Len(t, rec.msgs, 1, "byte %d bit %d", i, bit)
			assert.False(t, rec.msgs[0].ChecksumOK, "byte %d bit %d", i, bit)
			assert.Equal(t, uint16(0x0215), rec.msgs[0].ID)
		}
	}
}

func TestUBX_ChecksumFieldMismatch(t *testing.T) {
	in := mustHex(t, ubxNavHex)
	in[len(in)-1] ^= 0xFF

	p, rec := newRecorded(0)
	_, _ = p.Write(in)

	require.Len(t, rec.msgs, 1)
	assert.False(t, rec.msgs[0].ChecksumOK)
	assert.Equal(t, in, rec.msgs[0].Data)
}

func TestUBX_LargePayload(t *testing.T) {
	payload := make([]byte, 2000)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	in := ubxFrame(0x02, 0x15, payload)

	p, rec := newRecorded(0)
	_, _ = p.Write(in)

	require.Len(t, rec.msgs, 1)
	assert.True(t, rec.msgs[0].ChecksumOK)
	assert.Len(t, rec.msgs[0].Data, len(payload)+ubxOverhead)
	assert.Equal(t, len(in), p.MaxLength())
}

func TestUBX_Sync2MismatchRedispatchesByte(t *testing.T) {
	// The second 0xB5 breaks the first frame and starts the real one.
	frame := mustHex(t, ubxMonVerHex)
	in := concat([]byte{ubxSync1}, frame)

	p, rec := newRecorded(0)
	_, _ = p.Write(in)

	require.Len(t, rec.invalid, 1)
	assert.Equal(t, []byte{ubxSync1}, rec.invalid[0].data)
	assert.Empty(t, rec.unattributed)
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, frame, rec.msgs[0].Data)
	assert.Equal(t, int64(1), rec.msgs[0].Offset)
}

func TestUBX_LengthBeyondBufferIsInvalid(t *testing.T) {
	p, rec := newRecorded(64)
	header := []byte{ubxSync1, ubxSync2, 0x02, 0x15, 0x00, 0x01} // 256 byte payload
	follow := mustHex(t, ubxAckHex)

	_, _ = p.Write(concat(header, follow))

	require.Len(t, rec.invalid, 1)
	assert.Equal(t, header[:5], rec.invalid[0].data)
	assert.Equal(t, []byte{0x01}, rec.unattributed)
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, follow, rec.msgs[0].Data)
	assert.True(t, rec.msgs[0].ChecksumOK)
}
