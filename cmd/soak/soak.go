package main

import (
	"bytes"
	"flag"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/chewbranca/protocol2"
	"github.com/op/go-logging"
)

var iterations = flag.Int("iterations", -1, "number of iterations to run")
var loss = flag.Int("loss", 0, "percent of fragment datagrams to drop")
var loglevel = flag.Int("loglevel", int(logging.ERROR), "log level (5 for debug)")

const (
	packetTypeA = 1
	packetTypeB = 2
	packetTypeC = 3
)

// packetA is a handful of small bounded ints.
type packetA struct {
	a, b, c uint32
}

func (p *packetA) Type() int { return packetTypeA }

func (p *packetA) SerializeWrite(s *protocol2.WriteStream) error {
	for _, v := range []uint32{p.a, p.b, p.c} {
		if err := s.WriteBits(v, 6); err != nil {
			return err
		}
	}
	return nil
}

func (p *packetA) SerializeRead(s *protocol2.ReadStream) error {
	for _, v := range []*uint32{&p.a, &p.b, &p.c} {
		value, err := s.ReadBits(6)
		if err != nil {
			return err
		}
		*v = value
	}
	return nil
}

const maxItems = 64 * 1024

// packetB carries a variable item list, big enough to force fragmentation.
type packetB struct {
	items []byte
}

func (p *packetB) Type() int { return packetTypeB }

func (p *packetB) SerializeWrite(s *protocol2.WriteStream) error {
	if err := s.WriteBits(uint32(len(p.items)), 17); err != nil {
		return err
	}
	if err := s.WriteAlign(); err != nil {
		return err
	}
	return s.WriteBytes(p.items)
}

func (p *packetB) SerializeRead(s *protocol2.ReadStream) error {
	count, err := s.ReadBits(17)
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

// packetC is a position/velocity pair with an at-rest flag, so a resting
// object costs one bit instead of three floats.
type packetC struct {
	position [3]float32
	velocity [3]float32
}

func (p *packetC) Type() int { return packetTypeC }

func (p *packetC) SerializeWrite(s *protocol2.WriteStream) error {
	for _, v := range p.position {
		if err := s.WriteBits(math.Float32bits(v), 32); err != nil {
			return err
		}
	}
	atRest := p.velocity == [3]float32{}
	restFlag := uint32(0)
	if atRest {
		restFlag = 1
	}
	if err := s.WriteBits(restFlag, 1); err != nil {
		return err
	}
	if atRest {
		return nil
	}
	for _, v := range p.velocity {
		if err := s.WriteBits(math.Float32bits(v), 32); err != nil {
			return err
		}
	}
	return nil
}

func (p *packetC) SerializeRead(s *protocol2.ReadStream) error {
	for i := range p.position {
		bits, err := s.ReadBits(32)
		if err != nil {
			return err
		}
		p.position[i] = math.Float32frombits(bits)
	}
	atRest, err := s.ReadBits(1)
	if err != nil {
		return err
	}
	if atRest == 1 {
		p.velocity = [3]float32{}
		return nil
	}
	for i := range p.velocity {
		bits, err := s.ReadBits(32)
		if err != nil {
			return err
		}
		p.velocity[i] = math.Float32frombits(bits)
	}
	return nil
}

func randomPacket(rng *rand.Rand) protocol2.Packet {
	switch 1 + rng.Intn(3) {
	case packetTypeA:
		return &packetA{a: rng.Uint32() & 63, b: rng.Uint32() & 63, c: rng.Uint32() & 63}
	case packetTypeB:
		items := make([]byte, 1+rng.Intn(maxItems))
		rng.Read(items)
		return &packetB{items: items}
	default:
		p := &packetC{}
		for i := range p.position {
			p.position[i] = rng.Float32() * 1000
		}
		if rng.Intn(2) == 0 {
			for i := range p.velocity {
				p.velocity[i] = rng.Float32() * 100
			}
		}
		return p
	}
}

func packetsEqual(p1, p2 protocol2.Packet) bool {
	if p1.Type() != p2.Type() {
		return false
	}
	switch a := p1.(type) {
	case *packetA:
		return *a == *p2.(*packetA)
	case *packetB:
		return bytes.Equal(a.items, p2.(*packetB).items)
	case *packetC:
		b := p2.(*packetC)
		return a.position == b.position && a.velocity == b.velocity
	}
	return false
}

func main() {
	flag.Parse()

	logging.SetLevel(logging.Level(*loglevel), "protocol2")

	config := protocol2.NewDefaultConfig()
	config.Name = "soak"

	factory := protocol2.NewFactory(config.NumPacketTypes)
	must(factory.Register(packetTypeA, func() protocol2.Packet { return &packetA{} }))
	must(factory.Register(packetTypeB, func() protocol2.Packet { return &packetB{} }))
	must(factory.Register(packetTypeC, func() protocol2.Packet { return &packetC{} }))

	packetBuffer, err := protocol2.NewPacketBuffer(config)
	must(err)

	var quit bool
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT)
	go func() {
		<-signals
		quit = true
		close(signals)
	}()

	rng := rand.New(rand.NewSource(1))
	inFlight := map[uint16]protocol2.Packet{}
	var sequence uint16
	var delivered int

	for i := 0; *iterations < 0 || i < *iterations; i++ {
		if quit {
			break
		}

		writePacket := randomPacket(rng)
		packetData, err := protocol2.WritePacket(config, sequence, writePacket)
		must(err)

		datagrams := [][]byte{packetData}
		if len(packetData) > config.MaxFragmentSize {
			datagrams, err = protocol2.SplitPacket(config, sequence, packetData)
			must(err)
		}

		// deliver out of order with optional loss and duplication
		rng.Shuffle(len(datagrams), func(i, j int) {
			datagrams[i], datagrams[j] = datagrams[j], datagrams[i]
		})
		lost := false
		for _, datagram := range datagrams {
			if rng.Intn(100) < *loss {
				lost = true
				continue
			}
			packetBuffer.ProcessPacket(datagram)
			if rng.Intn(10) == 0 {
				packetBuffer.ProcessPacket(datagram)
			}
		}
		if !lost {
			inFlight[sequence] = writePacket
		}

		for _, received := range packetBuffer.ReceivePackets() {
			readPacket, readSequence, err := protocol2.ReadPacket(config, factory, received)
			must(err)
			expected, ok := inFlight[readSequence]
			if !ok {
				log.Fatal("received packet that was never sent: ", readSequence)
			}
			if !packetsEqual(expected, readPacket) {
				log.Fatal("reassembled packet does not match written packet ", readSequence)
			}
			delete(inFlight, readSequence)
			delivered++
		}

		sequence++
	}

	log.Printf("delivered %d packets, %d lost to fragment drops, %d fragments still buffered",
		delivered, len(inFlight), packetBuffer.BufferedFragments())
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
