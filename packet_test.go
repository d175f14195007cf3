package protocol2

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testPacketTypeA = 1
	testPacketTypeB = 2
)

type testPacketA struct {
	x, y, z uint32
}

func (p *testPacketA) Type() int { return testPacketTypeA }

func (p *testPacketA) SerializeWrite(s *WriteStream) error {
	for _, v := range []uint32{p.x, p.y, p.z} {
		if err := s.WriteBits(v, 8); err != nil {
			return err
		}
	}
	return nil
}

func (p *testPacketA) SerializeRead(s *ReadStream) error {
	for _, v := range []*uint32{&p.x, &p.y, &p.z} {
		value, err := s.ReadBits(8)
		if err != nil {
			return err
		}
		*v = value
	}
	return nil
}

type testPacketB struct {
	items []byte
}

func (p *testPacketB) Type() int { return testPacketTypeB }

func (p *testPacketB) SerializeWrite(s *WriteStream) error {
	if err := s.WriteBits(uint32(len(p.items)), 16); err != nil {
		return err
	}
	if err := s.WriteAlign(); err != nil {
		return err
	}
	return s.WriteBytes(p.items)
}

func (p *testPacketB) SerializeRead(s *ReadStream) error {
	count, err := s.ReadBits(16)
	if err != nil {
		return err
	}
	if err := s.ReadAlign(); err != nil {
		return err
	}
	items, err := s.ReadBytes(int(count))
	if err != nil {
		return err
	}
	p.items = append([]byte(nil), items...)
	return nil
}

func newTestFactory(t *testing.T) *Factory {
	factory := NewFactory(DefaultNumPacketTypes)
	require.NoError(t, factory.Register(testPacketTypeA, func() Packet { return &testPacketA{} }))
	require.NoError(t, factory.Register(testPacketTypeB, func() Packet { return &testPacketB{} }))
	return factory
}

func TestFactoryRegister(t *testing.T) {
	factory := NewFactory(DefaultNumPacketTypes)

	// type 0 is the fragment type and cannot be claimed
	require.Error(t, factory.Register(PacketTypeFragment, func() Packet { return &testPacketA{} }))
	require.Error(t, factory.Register(DefaultNumPacketTypes, func() Packet { return &testPacketA{} }))

	require.NoError(t, factory.Register(testPacketTypeA, func() Packet { return &testPacketA{} }))
	require.Error(t, factory.Register(testPacketTypeA, func() Packet { return &testPacketA{} }))

	_, err := factory.Create(testPacketTypeB)
	require.Error(t, err)
}

func TestWritePacketReadPacket(t *testing.T) {
	config := NewDefaultConfig()
	factory := newTestFactory(t)

	write := &testPacketA{x: 10, y: 20, z: 30}
	packetData, err := WritePacket(config, 77, write)
	require.NoError(t, err)

	packet, sequence, err := ReadPacket(config, factory, packetData)
	require.NoError(t, err)
	require.Equal(t, uint16(77), sequence)
	require.Equal(t, write, packet)
}

func TestReadPacketRejectsFragment(t *testing.T) {
	config := NewDefaultConfig()
	factory := newTestFactory(t)

	fragments, err := SplitPacket(config, 0, testPacketData(2500))
	require.NoError(t, err)

	_, _, err = ReadPacket(config, factory, fragments[0])
	require.Error(t, err)
}

func TestUnfragmentedDelivery(t *testing.T) {
	config := NewDefaultConfig()
	factory := newTestFactory(t)
	pb, err := NewPacketBuffer(config)
	require.NoError(t, err)

	write := &testPacketA{x: 1, y: 2, z: 3}
	packetData, err := WritePacket(config, 3, write)
	require.NoError(t, err)
	require.LessOrEqual(t, len(packetData), config.MaxFragmentSize)

	// small packets skip the splitter and enter the window whole
	require.True(t, pb.ProcessPacket(packetData))

	packets := pb.ReceivePackets()
	require.Len(t, packets, 1)

	packet, sequence, err := ReadPacket(config, factory, packets[0])
	require.NoError(t, err)
	require.Equal(t, uint16(3), sequence)
	require.Equal(t, write, packet)
}

func TestFragmentedDeliveryEndToEnd(t *testing.T) {
	config := NewDefaultConfig()
	factory := newTestFactory(t)
	pb, err := NewPacketBuffer(config)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	items := make([]byte, 5000)
	rng.Read(items)

	write := &testPacketB{items: items}
	packetData, err := WritePacket(config, 11, write)
	require.NoError(t, err)
	require.Greater(t, len(packetData), config.MaxFragmentSize)

	fragments, err := SplitPacket(config, 11, packetData)
	require.NoError(t, err)

	rng.Shuffle(len(fragments), func(i, j int) {
		fragments[i], fragments[j] = fragments[j], fragments[i]
	})
	for _, fragmentPacket := range fragments {
		require.True(t, pb.ProcessPacket(fragmentPacket))
	}

	packets := pb.ReceivePackets()
	require.Len(t, packets, 1)

	packet, sequence, err := ReadPacket(config, factory, packets[0])
	require.NoError(t, err)
	require.Equal(t, uint16(11), sequence)
	require.Equal(t, items, packet.(*testPacketB).items)
}
