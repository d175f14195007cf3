package protocol2

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

// FragmentHeader is the decoded leading fields of one datagram. The fragment
// fields are only meaningful when PacketType is PacketTypeFragment.
type FragmentHeader struct {
	Checksum     uint32
	Sequence     uint16
	PacketType   int
	FragmentID   int
	NumFragments int

	// HeaderBytes and FragmentBytes are derived on decode: the byte offset
	// where the fragment payload starts, and its length.
	HeaderBytes   int
	FragmentBytes int
}

// WriteFragment encodes one complete fragment datagram into the stream: a
// zero checksum placeholder, sequence, the fragment type tag, fragment id and
// count, alignment padding, then the payload bytes. The caller patches the
// real checksum in afterwards (see PatchChecksum).
func WriteFragment(s *WriteStream, config *Config, sequence uint16, fragmentID, numFragments int, fragmentData []byte) error {
	if err := s.WriteBits(0, 32); err != nil {
		return errors.Wrap(err, "checksum")
	}
	if err := s.WriteBits(uint32(sequence), 16); err != nil {
		return errors.Wrap(err, "sequence")
	}
	typeBits := BitsRequired(0, config.NumPacketTypes-1)
	if err := s.WriteBits(PacketTypeFragment, typeBits); err != nil {
		return errors.Wrap(err, "packet type")
	}
	if err := s.WriteBits(uint32(fragmentID), 8); err != nil {
		return errors.Wrap(err, "fragment id")
	}
	// the wire carries numFragments-1 so a count of 256 fits in 8 bits
	if err := s.WriteBits(uint32(numFragments-1), 8); err != nil {
		return errors.Wrap(err, "num fragments")
	}
	if err := s.WriteAlign(); err != nil {
		return errors.Wrap(err, "align")
	}
	if err := s.WriteBytes(fragmentData); err != nil {
		return errors.Wrap(err, "fragment data")
	}
	return nil
}

// ReadFragmentHeader decodes the leading fields of a datagram. For fragment
// datagrams it also validates the fragment fields and derives the payload
// length from the bytes remaining in the stream. For any other packet type it
// stops after the type tag; the remainder is opaque application payload.
func ReadFragmentHeader(s *ReadStream, config *Config) (*FragmentHeader, error) {
	var h FragmentHeader

	checksum, err := s.ReadBits(32)
	if err != nil {
		return nil, errors.Wrap(err, "checksum")
	}
	h.Checksum = checksum

	sequence, err := s.ReadBits(16)
	if err != nil {
		return nil, errors.Wrap(err, "sequence")
	}
	h.Sequence = uint16(sequence)

	typeBits := BitsRequired(0, config.NumPacketTypes-1)
	packetType, err := s.ReadBits(typeBits)
	if err != nil {
		return nil, errors.Wrap(err, "packet type")
	}
	if int(packetType) >= config.NumPacketTypes {
		return nil, errors.Errorf("packet type %d out of range", packetType)
	}
	h.PacketType = int(packetType)

	if h.PacketType != PacketTypeFragment {
		return &h, nil
	}

	fragmentID, err := s.ReadBits(8)
	if err != nil {
		return nil, errors.Wrap(err, "fragment id")
	}
	numFragments, err := s.ReadBits(8)
	if err != nil {
		return nil, errors.Wrap(err, "num fragments")
	}
	h.FragmentID = int(fragmentID)
	h.NumFragments = int(numFragments) + 1

	if h.NumFragments > config.MaxFragmentsPerPacket {
		return nil, errors.Errorf("num fragments %d exceeds maximum %d", h.NumFragments, config.MaxFragmentsPerPacket)
	}
	if h.FragmentID >= h.NumFragments {
		return nil, errors.Errorf("fragment id %d outside of num fragments %d", h.FragmentID, h.NumFragments)
	}

	if err := s.ReadAlign(); err != nil {
		return nil, errors.Wrap(err, "align")
	}

	h.HeaderBytes = s.BytesProcessed()
	h.FragmentBytes = s.BitsRemaining() / 8
	if h.FragmentBytes <= 0 || h.FragmentBytes > config.MaxFragmentSize {
		return nil, errors.Errorf("fragment size %d out of bounds", h.FragmentBytes)
	}
	if h.FragmentID != h.NumFragments-1 && h.FragmentBytes != config.MaxFragmentSize {
		return nil, errors.Errorf("non-final fragment %d is %d bytes, expected %d", h.FragmentID, h.FragmentBytes, config.MaxFragmentSize)
	}

	return &h, nil
}

// Checksum computes the CRC-32 of a whole datagram, seeded with the protocol
// id and with the embedded checksum field treated as zero.
func Checksum(packetData []byte) uint32 {
	var prefix [8]byte
	binary.BigEndian.PutUint32(prefix[:4], ProtocolID)
	// prefix[4:8] stays zero in place of the embedded checksum field
	crc := crc32.Update(0, crc32.IEEETable, prefix[:])
	return crc32.Update(crc, crc32.IEEETable, packetData[4:])
}

// PatchChecksum computes the datagram's checksum and stores it in the first
// four bytes in network byte order.
func PatchChecksum(packetData []byte) {
	binary.BigEndian.PutUint32(packetData[:4], Checksum(packetData))
}

// EmbeddedChecksum reads the checksum field a sender patched into the
// datagram.
func EmbeddedChecksum(packetData []byte) uint32 {
	return binary.BigEndian.Uint32(packetData[:4])
}
