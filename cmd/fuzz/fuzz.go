package main

import (
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/chewbranca/protocol2"
	"github.com/op/go-logging"
)

// Feeds random garbage, mutated fragments and valid fragments into the
// receive path. The engine must reject or accept every datagram without
// panicking and without exceeding its fragment budget.
func main() {
	logging.SetLevel(logging.CRITICAL, "protocol2")

	numIterations := -1
	if len(os.Args) > 1 {
		var err error
		numIterations, err = strconv.Atoi(os.Args[1])
		if err != nil {
			panic("argument must be an integer")
		}
	}

	config := protocol2.NewDefaultConfig()
	config.Name = "fuzz"

	packetBuffer, err := protocol2.NewPacketBuffer(config)
	if err != nil {
		log.Fatal(err)
	}

	var quit bool
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT)
	go func() {
		<-signals
		quit = true
		close(signals)
	}()

	var sequence uint16

	for i := 0; !quit && (numIterations < 0 || i < numIterations); i++ {
		switch rand.Intn(3) {
		case 0:
			// pure garbage
			packetData := make([]byte, 1+rand.Intn(config.MaxFragmentSize+config.FragmentHeaderBytes()))
			rand.Read(packetData)
			packetBuffer.ProcessPacket(packetData)
		case 1:
			// valid split packet, partially delivered
			packetData := make([]byte, 1+rand.Intn(4*config.MaxFragmentSize))
			rand.Read(packetData)
			fragments, err := protocol2.SplitPacket(config, sequence, packetData)
			if err != nil {
				log.Fatal(err)
			}
			for _, fragment := range fragments {
				if rand.Intn(4) == 0 {
					continue
				}
				packetBuffer.ProcessPacket(fragment)
			}
			sequence++
		case 2:
			// valid fragment with a few bytes flipped, checksum intact or not
			packetData := make([]byte, config.MaxFragmentSize)
			rand.Read(packetData)
			fragments, err := protocol2.SplitPacket(config, sequence, packetData)
			if err != nil {
				log.Fatal(err)
			}
			fragment := fragments[0]
			fragment[rand.Intn(len(fragment))] ^= byte(1 + rand.Intn(255))
			packetBuffer.ProcessPacket(fragment)
			sequence++
		}

		packetBuffer.ReceivePackets()

		if packetBuffer.BufferedFragments() > config.MaxBufferedFragments {
			log.Fatal("fragment budget exceeded: ", packetBuffer.BufferedFragments())
		}
	}

	log.Printf("done, %d fragments still buffered", packetBuffer.BufferedFragments())
}
