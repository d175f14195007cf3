package protocol2

import (
	"github.com/op/go-logging"
	"github.com/pkg/errors"
)

var log = logging.MustGetLogger("protocol2")

const (
	CounterNumFragmentsReceived = iota
	CounterNumFragmentsInvalid
	CounterNumFragmentsDuplicate
	CounterNumFragmentsEvicted
	CounterNumPacketsReceived
	CounterNumPacketsInvalid
	CounterNumPacketsReassembled
	CounterMax
)

// packetEntry is the reassembly state for one sequence number. fragmentData
// buffers are owned by the entry from acceptance until eviction or drain.
type packetEntry struct {
	sequence          uint16
	numFragments      int
	receivedFragments int
	fragmentData      [][]byte
}

// PacketBuffer is the receive-side sliding window of reassembly slots. Slots
// are addressed by sequence modulo the window size and cover the range
// [currentSequence-WindowSize+1, currentSequence]. It is not safe for
// concurrent use; a single receive loop owns it.
type PacketBuffer struct {
	Config   *Config
	Counters [CounterMax]uint64

	currentSequence   uint16
	bufferedFragments int
	valid             []bool
	entries           []packetEntry
}

func NewPacketBuffer(config *Config) (*PacketBuffer, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &PacketBuffer{
		Config:  config,
		valid:   make([]bool, config.WindowSize),
		entries: make([]packetEntry, config.WindowSize),
	}, nil
}

// CurrentSequence is the newest sequence number ever accepted.
func (pb *PacketBuffer) CurrentSequence() uint16 {
	return pb.currentSequence
}

// BufferedFragments is the number of fragments currently held across all
// slots.
func (pb *PacketBuffer) BufferedFragments() int {
	return pb.bufferedFragments
}

// ProcessFragment validates one fragment and, if accepted, copies it into the
// slot for its sequence number. Each check rejects with no side effects, so a
// malicious fragment can never corrupt window state or other slots.
func (pb *PacketBuffer) ProcessFragment(fragmentData []byte, sequence uint16, fragmentID, numFragments int) bool {
	name := pb.Config.Name

	// too many buffered fragments? discard the fragment
	if pb.bufferedFragments >= pb.Config.MaxBufferedFragments {
		log.Errorf("[%s] ignoring fragment %d of packet %d. fragment buffer is full", name, fragmentID, sequence)
		pb.Counters[CounterNumFragmentsInvalid]++
		return false
	}

	fragmentSize := len(fragmentData)
	if fragmentSize <= 0 || fragmentSize > pb.Config.MaxFragmentSize {
		log.Errorf("[%s] ignoring fragment %d of packet %d. fragment size %d out of bounds", name, fragmentID, sequence, fragmentSize)
		pb.Counters[CounterNumFragmentsInvalid]++
		return false
	}

	if numFragments <= 0 || numFragments > pb.Config.MaxFragmentsPerPacket {
		log.Errorf("[%s] ignoring fragment of packet %d. num fragments %d out of range", name, sequence, numFragments)
		pb.Counters[CounterNumFragmentsInvalid]++
		return false
	}

	if fragmentID < 0 || fragmentID >= numFragments {
		log.Errorf("[%s] ignoring fragment of packet %d. fragment id %d outside of num fragments %d", name, sequence, fragmentID, numFragments)
		pb.Counters[CounterNumFragmentsInvalid]++
		return false
	}

	// a non-final fragment must be exactly MaxFragmentSize, otherwise a
	// forged short fragment could shift every later fragment's bytes
	if fragmentID != numFragments-1 && fragmentSize != pb.Config.MaxFragmentSize {
		log.Errorf("[%s] ignoring fragment %d of packet %d. non-final fragment is %d bytes", name, fragmentID, sequence, fragmentSize)
		pb.Counters[CounterNumFragmentsInvalid]++
		return false
	}

	if Difference(sequence, pb.currentSequence) > 10*pb.Config.WindowSize {
		log.Errorf("[%s] ignoring fragment of packet %d. sequence is wildly out of range of %d", name, sequence, pb.currentSequence)
		pb.Counters[CounterNumFragmentsInvalid]++
		return false
	}

	index := int(sequence) % pb.Config.WindowSize
	if pb.valid[index] && pb.entries[index].sequence != sequence {
		log.Errorf("[%s] ignoring fragment of packet %d. slot is held by packet %d", name, sequence, pb.entries[index].sequence)
		pb.Counters[CounterNumFragmentsInvalid]++
		return false
	}

	if !pb.valid[index] {
		pb.Advance(sequence)
		pb.entries[index] = packetEntry{
			sequence:     sequence,
			numFragments: numFragments,
			fragmentData: make([][]byte, numFragments),
		}
		pb.valid[index] = true
	}

	entry := &pb.entries[index]

	if numFragments != entry.numFragments {
		log.Errorf("[%s] ignoring fragment of packet %d. num fragments mismatch. expected %d, got %d", name, sequence, entry.numFragments, numFragments)
		pb.Counters[CounterNumFragmentsInvalid]++
		return false
	}

	if entry.fragmentData[fragmentID] != nil {
		log.Debugf("[%s] ignoring fragment %d of packet %d. fragment already received", name, fragmentID, sequence)
		pb.Counters[CounterNumFragmentsDuplicate]++
		return false
	}

	log.Debugf("[%s] added fragment %d of packet %d to buffer (%d/%d)", name, fragmentID, sequence, entry.receivedFragments+1, numFragments)

	owned := make([]byte, fragmentSize)
	copy(owned, fragmentData)
	entry.fragmentData[fragmentID] = owned
	entry.receivedFragments++
	pb.bufferedFragments++
	pb.Counters[CounterNumFragmentsReceived]++

	return true
}

// Advance moves the window forward to the given sequence, evicting only the
// slots that fall behind the new window. Slots still in range keep their
// partially assembled state.
func (pb *PacketBuffer) Advance(sequence uint16) {
	if !GreaterThan(sequence, pb.currentSequence) {
		return
	}

	log.Debugf("[%s] advance to %d", pb.Config.Name, sequence)

	oldestSequence := sequence - uint16(pb.Config.WindowSize) + 1

	for i := range pb.entries {
		if pb.valid[i] && LessThan(pb.entries[i].sequence, oldestSequence) {
			log.Debugf("[%s] evicting stale packet %d", pb.Config.Name, pb.entries[i].sequence)
			pb.releaseEntry(i)
			pb.Counters[CounterNumFragmentsEvicted]++
		}
	}

	pb.currentSequence = sequence
}

// releaseEntry frees every fragment buffer a slot owns and returns the slot
// to the unbound state.
func (pb *PacketBuffer) releaseEntry(index int) {
	entry := &pb.entries[index]
	for _, fragment := range entry.fragmentData {
		if fragment != nil {
			pb.bufferedFragments--
		}
	}
	pb.entries[index] = packetEntry{}
	pb.valid[index] = false
}

// ProcessPacket routes one raw arriving datagram: it verifies the checksum,
// decodes the header, and feeds either the fragment payload or the whole
// buffer (as a single-fragment packet) into the window.
func (pb *PacketBuffer) ProcessPacket(packetData []byte) bool {
	name := pb.Config.Name

	if len(packetData) <= 4 {
		log.Errorf("[%s] ignoring packet. too small to carry a checksum", name)
		pb.Counters[CounterNumPacketsInvalid]++
		return false
	}

	checksum := Checksum(packetData)
	if checksum != EmbeddedChecksum(packetData) {
		log.Errorf("[%s] ignoring packet. checksum mismatch: expected %x, got %x", name, checksum, EmbeddedChecksum(packetData))
		pb.Counters[CounterNumPacketsInvalid]++
		return false
	}

	header, err := ReadFragmentHeader(NewReadStream(packetData), pb.Config)
	if err != nil {
		log.Errorf("[%s] ignoring packet. %v", name, err)
		pb.Counters[CounterNumPacketsInvalid]++
		return false
	}

	pb.Counters[CounterNumPacketsReceived]++

	if header.PacketType == PacketTypeFragment {
		log.Debugf("[%s] processing fragment %d/%d of packet %d", name, header.FragmentID, header.NumFragments, header.Sequence)
		return pb.ProcessFragment(packetData[header.HeaderBytes:], header.Sequence, header.FragmentID, header.NumFragments)
	}

	log.Debugf("[%s] processing regular packet %d", name, header.Sequence)
	return pb.ProcessFragment(packetData, header.Sequence, 0, 1)
}

// ReceivePackets drains every completed slot in ascending sequence order and
// returns the reconstructed packets. Ownership of the returned buffers
// transfers to the caller. Incomplete slots stay buffered for the next call.
func (pb *PacketBuffer) ReceivePackets() [][]byte {
	var packets [][]byte

	oldestSequence := pb.currentSequence - uint16(pb.Config.WindowSize) + 1

	for i := 0; i < pb.Config.WindowSize; i++ {
		sequence := oldestSequence + uint16(i)
		index := int(sequence) % pb.Config.WindowSize

		if !pb.valid[index] || pb.entries[index].sequence != sequence {
			continue
		}
		entry := &pb.entries[index]

		if entry.receivedFragments != entry.numFragments {
			log.Debugf("[%s] packet %d is incomplete [%d/%d]", pb.Config.Name, sequence, entry.receivedFragments, entry.numFragments)
			continue
		}

		log.Debugf("[%s] received all fragments for packet %d [%d/%d]", pb.Config.Name, sequence, entry.receivedFragments, entry.numFragments)

		packetSize := 0
		for _, fragment := range entry.fragmentData {
			packetSize += len(fragment)
		}

		// reconstruct strictly by each fragment's own id and length
		packet := make([]byte, 0, packetSize)
		for fragmentID := 0; fragmentID < entry.numFragments; fragmentID++ {
			packet = append(packet, entry.fragmentData[fragmentID]...)
		}

		pb.releaseEntry(index)
		pb.Counters[CounterNumPacketsReassembled]++
		packets = append(packets, packet)
	}

	return packets
}

// Reset returns the buffer to its initial state, releasing every slot.
func (pb *PacketBuffer) Reset() {
	for i := range pb.entries {
		if pb.valid[i] {
			pb.releaseEntry(i)
		}
	}
	pb.currentSequence = 0
	pb.bufferedFragments = 0
}
