package protocol2

import (
	"github.com/pkg/errors"
)

// Packet is one application packet kind. Implementations serialize their
// fields symmetrically through the bit streams.
type Packet interface {
	Type() int
	SerializeWrite(s *WriteStream) error
	SerializeRead(s *ReadStream) error
}

// Factory maps wire type tags to packet constructors. Type 0 is reserved for
// fragments and cannot be registered.
type Factory struct {
	numTypes int
	create   map[int]func() Packet
}

func NewFactory(numTypes int) *Factory {
	return &Factory{
		numTypes: numTypes,
		create:   map[int]func() Packet{},
	}
}

func (f *Factory) NumTypes() int {
	return f.numTypes
}

func (f *Factory) Register(packetType int, create func() Packet) error {
	if packetType <= PacketTypeFragment || packetType >= f.numTypes {
		return errors.Errorf("packet type %d out of range", packetType)
	}
	if f.create[packetType] != nil {
		return errors.Errorf("packet type %d already registered", packetType)
	}
	f.create[packetType] = create
	return nil
}

func (f *Factory) Create(packetType int) (Packet, error) {
	create := f.create[packetType]
	if create == nil {
		return nil, errors.Errorf("no packet registered for type %d", packetType)
	}
	return create(), nil
}

// WritePacket encodes a whole application packet in the same leading wire
// form as a fragment (checksum, sequence, type) so the receive path can route
// both through one decoder. The result is ready to send, or to split when it
// exceeds the fragment size.
func WritePacket(config *Config, sequence uint16, packet Packet) ([]byte, error) {
	if packet.Type() <= PacketTypeFragment || packet.Type() >= config.NumPacketTypes {
		return nil, errors.Errorf("packet type %d out of range", packet.Type())
	}

	buf := make([]byte, config.MaxPacketSize())
	stream := NewWriteStream(buf)

	if err := stream.WriteBits(0, 32); err != nil {
		return nil, errors.Wrap(err, "checksum")
	}
	if err := stream.WriteBits(uint32(sequence), 16); err != nil {
		return nil, errors.Wrap(err, "sequence")
	}
	typeBits := BitsRequired(0, config.NumPacketTypes-1)
	if err := stream.WriteBits(uint32(packet.Type()), typeBits); err != nil {
		return nil, errors.Wrap(err, "packet type")
	}
	if err := packet.SerializeWrite(stream); err != nil {
		return nil, errors.Wrapf(err, "serialize packet type %d", packet.Type())
	}
	if err := stream.WriteAlign(); err != nil {
		return nil, errors.Wrap(err, "align")
	}

	packetData := buf[:stream.BytesProcessed()]
	PatchChecksum(packetData)
	return packetData, nil
}

// ReadPacket decodes a whole application packet produced by WritePacket,
// typically after reassembly. It verifies the checksum, reads the leading
// fields and dispatches to the factory for the packet body.
func ReadPacket(config *Config, factory *Factory, packetData []byte) (Packet, uint16, error) {
	if len(packetData) <= 4 {
		return nil, 0, errors.Errorf("packet is %d bytes, too small to carry a checksum", len(packetData))
	}
	if checksum := Checksum(packetData); checksum != EmbeddedChecksum(packetData) {
		return nil, 0, errors.Errorf("checksum mismatch: expected %x, got %x", checksum, EmbeddedChecksum(packetData))
	}

	stream := NewReadStream(packetData)
	header, err := ReadFragmentHeader(stream, config)
	if err != nil {
		return nil, 0, errors.Wrap(err, "header")
	}
	if header.PacketType == PacketTypeFragment {
		return nil, 0, errors.New("unexpected fragment, packet was not reassembled")
	}

	packet, err := factory.Create(header.PacketType)
	if err != nil {
		return nil, 0, err
	}
	if err := packet.SerializeRead(stream); err != nil {
		return nil, 0, errors.Wrapf(err, "deserialize packet type %d", header.PacketType)
	}

	return packet, header.Sequence, nil
}
