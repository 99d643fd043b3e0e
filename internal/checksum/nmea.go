package checksum

// ParseNMEAHex decodes the two checksum digits of a sentence. Either case is
// accepted. ok is false when a digit is not hexadecimal.
func ParseNMEAHex(hi, lo byte) (ck byte, ok bool) {
	h, okHi := nibble(hi)
	l, okLo := nibble(lo)
	if !okHi || !okLo {
		return 0, false
	}
	return h<<4 | l, true
}

func nibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
