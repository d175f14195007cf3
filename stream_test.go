package protocol2

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestBitsRequired(t *testing.T) {
	require.Equal(t, 0, BitsRequired(0, 0))
	require.Equal(t, 1, BitsRequired(0, 1))
	require.Equal(t, 2, BitsRequired(0, 3))
	require.Equal(t, 3, BitsRequired(0, 4))
	require.Equal(t, 8, BitsRequired(0, 255))
	require.Equal(t, 16, BitsRequired(0, 65535))
}

func TestStreamRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	w := NewWriteStream(buf)

	require.NoError(t, w.WriteBits(0xDEADBEEF, 32))
	require.NoError(t, w.WriteBits(12345, 16))
	require.NoError(t, w.WriteBits(2, 2))
	require.NoError(t, w.WriteBits(200, 8))
	require.NoError(t, w.WriteAlign())
	require.NoError(t, w.WriteBytes([]byte{1, 2, 3}))

	r := NewReadStream(buf[:w.BytesProcessed()])

	v32, err := r.ReadBits(32)
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), v32)

	v16, err := r.ReadBits(16)
	require.NoError(t, err)
	require.Equal(t, uint32(12345), v16)

	v2, err := r.ReadBits(2)
	require.NoError(t, err)
	require.Equal(t, uint32(2), v2)

	v8, err := r.ReadBits(8)
	require.NoError(t, err)
	require.Equal(t, uint32(200), v8)

	require.NoError(t, r.ReadAlign())
	require.Equal(t, 24, r.BitsRemaining())

	tail, err := r.ReadBytes(3)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, tail)
	require.Equal(t, 0, r.BitsRemaining())
}

func TestStreamNetworkByteOrder(t *testing.T) {
	buf := make([]byte, 8)
	w := NewWriteStream(buf)
	require.NoError(t, w.WriteBits(0x11223344, 32))
	require.NoError(t, w.WriteBits(0xABCD, 16))

	// MSB-first packing puts multi-byte fields on the wire big endian
	require.Equal(t, []byte{0x11, 0x22, 0x33, 0x44, 0xAB, 0xCD}, buf[:6])
}

func TestStreamOverflow(t *testing.T) {
	w := NewWriteStream(make([]byte, 2))
	require.NoError(t, w.WriteBits(0xFFFF, 16))
	err := w.WriteBits(1, 1)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrOverflow))

	r := NewReadStream(make([]byte, 2))
	_, err = r.ReadBits(17)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrOverflow))
}

func TestStreamUnalignedByteAccess(t *testing.T) {
	w := NewWriteStream(make([]byte, 8))
	require.NoError(t, w.WriteBits(1, 3))
	require.Error(t, w.WriteBytes([]byte{1}))

	r := NewReadStream(make([]byte, 8))
	_, err := r.ReadBits(3)
	require.NoError(t, err)
	_, err = r.ReadBytes(1)
	require.Error(t, err)
}

func TestReadAlignRejectsNonzeroPadding(t *testing.T) {
	r := NewReadStream([]byte{0xFF})
	_, err := r.ReadBits(2)
	require.NoError(t, err)
	require.Error(t, r.ReadAlign())
}
