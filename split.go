package protocol2

import (
	"github.com/pkg/errors"
)

// SplitPacket divides a whole packet into wire-ready fragment datagrams, each
// independently headered and checksummed. Every fragment except the last is
// exactly MaxFragmentSize bytes of payload. The split is all or nothing: any
// encode failure discards every fragment produced so far.
func SplitPacket(config *Config, sequence uint16, packetData []byte) ([][]byte, error) {
	packetSize := len(packetData)
	if packetSize <= 0 {
		return nil, errors.New("packet data is empty")
	}
	if packetSize > config.MaxPacketSize() {
		return nil, errors.Errorf("packet is %d bytes, maximum is %d", packetSize, config.MaxPacketSize())
	}

	numFragments := packetSize / config.MaxFragmentSize
	if packetSize%config.MaxFragmentSize != 0 {
		numFragments++
	}
	if numFragments > config.MaxFragmentsPerPacket {
		return nil, errors.Errorf("packet needs %d fragments, maximum is %d", numFragments, config.MaxFragmentsPerPacket)
	}

	log.Debugf("[%s] splitting packet %d into %d fragments", config.Name, sequence, numFragments)

	fragmentPackets := make([][]byte, 0, numFragments)
	src := 0

	for fragmentID := 0; fragmentID < numFragments; fragmentID++ {
		fragmentSize := config.MaxFragmentSize
		if fragmentID == numFragments-1 {
			fragmentSize = packetSize - src
		}

		buf := make([]byte, config.MaxFragmentSize+config.FragmentHeaderBytes())
		stream := NewWriteStream(buf)
		err := WriteFragment(stream, config, sequence, fragmentID, numFragments, packetData[src:src+fragmentSize])
		if err != nil {
			return nil, errors.Wrapf(err, "encode fragment %d of packet %d", fragmentID, sequence)
		}

		fragmentPacket := buf[:stream.BytesProcessed()]
		PatchChecksum(fragmentPacket)
		fragmentPackets = append(fragmentPackets, fragmentPacket)

		src += fragmentSize
	}

	return fragmentPackets, nil
}
