package checksum

// Fletcher8 is the running pair-sum used by u-blox UBX frames (RFC 1145).
// It covers the class, ID, length and payload bytes.
type Fletcher8 struct {
	A byte
	B byte
}

// Reset zeroes both accumulators.
func (f *Fletcher8) Reset() {
	f.A = 0
	f.B = 0
}

// Add folds one byte into the checksum.
func (f *Fletcher8) Add(b byte) {
	f.A += b
	f.B += f.A
}
