package protocol2

import "github.com/pkg/errors"

// ProtocolID is mixed into every checksum so datagrams from unrelated
// protocols never validate. It is shared by sender and receiver.
const ProtocolID uint32 = 0x55667788

// PacketTypeFragment is the reserved type tag that marks a datagram as a
// fragment of a larger packet. Application packet types start at 1.
const PacketTypeFragment = 0

const (
	DefaultWindowSize            = 256
	DefaultMaxFragmentSize       = 1024
	DefaultMaxFragmentsPerPacket = 256
	DefaultMaxBufferedFragments  = 256
	DefaultNumPacketTypes        = 4
)

// Config holds the sizing limits shared by the splitter, the wire codec and
// the packet buffer. Sender and receiver must agree on every field.
type Config struct {
	Name string

	// WindowSize is the number of in-flight sequence numbers the receiver
	// tracks at once.
	WindowSize int

	// MaxFragmentSize is the byte size of every fragment except the last of
	// a packet.
	MaxFragmentSize int

	MaxFragmentsPerPacket int

	// MaxBufferedFragments caps fragments buffered across all reassembly
	// slots; new fragments are rejected once it is reached.
	MaxBufferedFragments int

	// NumPacketTypes sizes the wire type discriminator. Type 0 is the
	// fragment type, so at least 2 are required.
	NumPacketTypes int
}

// NewDefaultConfig creates a typical configuration
func NewDefaultConfig() *Config {
	return &Config{
		Name:                  "protocol2",
		WindowSize:            DefaultWindowSize,
		MaxFragmentSize:       DefaultMaxFragmentSize,
		MaxFragmentsPerPacket: DefaultMaxFragmentsPerPacket,
		MaxBufferedFragments:  DefaultMaxBufferedFragments,
		NumPacketTypes:        DefaultNumPacketTypes,
	}
}

func (c *Config) Validate() error {
	if c.WindowSize <= 0 {
		return errors.Errorf("window size %d out of range", c.WindowSize)
	}
	if c.MaxFragmentSize <= 0 {
		return errors.Errorf("max fragment size %d out of range", c.MaxFragmentSize)
	}
	if c.MaxFragmentsPerPacket <= 0 || c.MaxFragmentsPerPacket > 256 {
		// numFragments-1 must fit in the 8 bit wire field
		return errors.Errorf("max fragments per packet %d out of range", c.MaxFragmentsPerPacket)
	}
	if c.MaxBufferedFragments <= 0 {
		return errors.Errorf("max buffered fragments %d out of range", c.MaxBufferedFragments)
	}
	if c.NumPacketTypes < 2 {
		return errors.Errorf("num packet types %d out of range", c.NumPacketTypes)
	}
	return nil
}

// MaxPacketSize is the largest whole packet the splitter accepts.
func (c *Config) MaxPacketSize() int {
	return c.MaxFragmentSize * c.MaxFragmentsPerPacket
}

// FragmentHeaderBytes is the encoded size of a fragment header: checksum,
// sequence, type discriminator, fragment id, fragment count, byte alignment.
func (c *Config) FragmentHeaderBytes() int {
	bits := 16 + BitsRequired(0, c.NumPacketTypes-1) + 8 + 8
	return 4 + (bits+7)/8
}
