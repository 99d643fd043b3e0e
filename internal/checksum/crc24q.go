package checksum

// crc24qPoly is the CRC-24Q generator polynomial used by the RTCM 3
// transport layer (x^24 + x^23 + x^18 + x^17 + x^14 + x^11 + x^10 +
// x^7 + x^6 + x^5 + x^4 + x^3 + x + 1).
const crc24qPoly = 0x1864CFB

// CRC24QMask keeps a running CRC within 24 bits.
const CRC24QMask = 0xFFFFFF

// UpdateCRC24Q folds one byte into a running CRC-24Q value.
func UpdateCRC24Q(crc uint32, b byte) uint32 {
	return ((crc << 8) ^ crc24qTable[b^byte(crc>>16)]) & CRC24QMask
}

var crc24qTable = func() [256]uint32 {
	var table [256]uint32
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 16
		for bit := 0; bit < 8; bit++ {
			crc <<= 1
			if (crc & 0x1000000) != 0 {
				crc ^= crc24qPoly
			}
		}
		table[i] = crc & CRC24QMask
	}
	return table
}()
