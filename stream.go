package protocol2

import (
	"github.com/pkg/errors"
)

// ErrOverflow is returned when a read or write would run past the end of the
// underlying buffer.
var ErrOverflow = errors.New("bit stream overflow")

// BitsRequired returns the number of bits needed to represent any integer in
// [min,max].
func BitsRequired(min, max int) int {
	if min >= max {
		return 0
	}
	bits := 0
	for v := max - min; v > 0; v >>= 1 {
		bits++
	}
	return bits
}

// WriteStream packs values bit-by-bit into a caller-supplied buffer, most
// significant bit first, so multi-byte fields land in network byte order.
type WriteStream struct {
	data     []byte
	bitIndex int
}

func NewWriteStream(data []byte) *WriteStream {
	return &WriteStream{data: data}
}

// WriteBits writes the low `bits` bits of value. The buffer must have been
// zeroed beforehand (NewWriteStream over a fresh allocation qualifies).
func (s *WriteStream) WriteBits(value uint32, bits int) error {
	if bits <= 0 || bits > 32 {
		return errors.Errorf("invalid bit count %d", bits)
	}
	if s.bitIndex+bits > len(s.data)*8 {
		return errors.Wrapf(ErrOverflow, "write of %d bits at bit %d", bits, s.bitIndex)
	}
	for i := bits - 1; i >= 0; i-- {
		if value&(1<<uint(i)) != 0 {
			s.data[s.bitIndex>>3] |= 0x80 >> uint(s.bitIndex&7)
		}
		s.bitIndex++
	}
	return nil
}

// WriteAlign pads with zero bits up to the next byte boundary.
func (s *WriteStream) WriteAlign() error {
	remainder := s.bitIndex & 7
	if remainder == 0 {
		return nil
	}
	return s.WriteBits(0, 8-remainder)
}

// WriteBytes copies raw bytes into the stream. The stream must be byte aligned.
func (s *WriteStream) WriteBytes(p []byte) error {
	if s.bitIndex&7 != 0 {
		return errors.Errorf("byte write at unaligned bit %d", s.bitIndex)
	}
	byteIndex := s.bitIndex >> 3
	if byteIndex+len(p) > len(s.data) {
		return errors.Wrapf(ErrOverflow, "write of %d bytes at byte %d", len(p), byteIndex)
	}
	copy(s.data[byteIndex:], p)
	s.bitIndex += len(p) * 8
	return nil
}

// BytesProcessed returns how many bytes of the buffer the stream has touched,
// rounding partial bytes up.
func (s *WriteStream) BytesProcessed() int {
	return (s.bitIndex + 7) / 8
}

// ReadStream is the reading counterpart of WriteStream.
type ReadStream struct {
	data     []byte
	bitIndex int
}

func NewReadStream(data []byte) *ReadStream {
	return &ReadStream{data: data}
}

func (s *ReadStream) ReadBits(bits int) (uint32, error) {
	if bits <= 0 || bits > 32 {
		return 0, errors.Errorf("invalid bit count %d", bits)
	}
	if s.bitIndex+bits > len(s.data)*8 {
		return 0, errors.Wrapf(ErrOverflow, "read of %d bits at bit %d", bits, s.bitIndex)
	}
	var value uint32
	for i := 0; i < bits; i++ {
		value <<= 1
		if s.data[s.bitIndex>>3]&(0x80>>uint(s.bitIndex&7)) != 0 {
			value |= 1
		}
		s.bitIndex++
	}
	return value, nil
}

// ReadAlign consumes padding up to the next byte boundary and fails if any
// padding bit is nonzero.
func (s *ReadStream) ReadAlign() error {
	remainder := s.bitIndex & 7
	if remainder == 0 {
		return nil
	}
	value, err := s.ReadBits(8 - remainder)
	if err != nil {
		return err
	}
	if value != 0 {
		return errors.Errorf("nonzero padding bits %#x", value)
	}
	return nil
}

// ReadBytes returns the next n bytes without copying. The stream must be byte
// aligned.
func (s *ReadStream) ReadBytes(n int) ([]byte, error) {
	if s.bitIndex&7 != 0 {
		return nil, errors.Errorf("byte read at unaligned bit %d", s.bitIndex)
	}
	byteIndex := s.bitIndex >> 3
	if byteIndex+n > len(s.data) {
		return nil, errors.Wrapf(ErrOverflow, "read of %d bytes at byte %d", n, byteIndex)
	}
	s.bitIndex += n * 8
	return s.data[byteIndex : byteIndex+n], nil
}

func (s *ReadStream) BitsRemaining() int {
	return len(s.data)*8 - s.bitIndex
}

func (s *ReadStream) BytesProcessed() int {
	return (s.bitIndex + 7) / 8
}
