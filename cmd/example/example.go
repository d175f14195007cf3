package main

import (
	"bytes"
	"flag"
	"log"
	"math/rand"
	"net"
	"time"

	"github.com/chewbranca/protocol2"
	"github.com/op/go-logging"
)

var name = flag.String("name", "receiver", "sender or receiver")
var addr = flag.String("addr", "0.0.0.0:8987", "host and port of connection")
var loss = flag.Int("loss", 5, "percent of datagrams the sender drops on purpose")
var loglevel = flag.Int("loglevel", int(logging.ERROR), "log level (5 for debug)")

const tickrate = 20
const maxPayloadBytes = 64 * 1024

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	flag.Parse()

	logging.SetLevel(logging.Level(*loglevel), "protocol2")

	config := protocol2.NewDefaultConfig()
	config.Name = *name

	if *name == "receiver" {
		receive(config)
	} else {
		send(config)
	}
}

// send splits one generated payload per tick into fragment datagrams and
// fires them at the receiver over UDP, dropping some deliberately so the
// receiver's eviction path gets exercised.
func send(config *protocol2.Config) {
	conn, err := net.Dial("udp", *addr)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	log.Println("Sender ready")

	ticker := time.NewTicker(time.Second / tickrate)
	var sequence uint16

	for range ticker.C {
		payload := generatePayload(sequence)

		fragments, err := protocol2.SplitPacket(config, sequence, payload)
		if err != nil {
			log.Fatal(err)
		}

		for _, fragment := range fragments {
			if rand.Intn(100) < *loss {
				continue
			}
			if _, err := conn.Write(fragment); err != nil {
				log.Fatal(err)
			}
		}

		sequence++
	}
}

// receive feeds every arriving datagram into the packet buffer and verifies
// each reassembled payload against what the sender must have generated.
func receive(config *protocol2.Config) {
	packetConn, err := net.ListenPacket("udp", *addr)
	if err != nil {
		log.Fatal(err)
	}
	defer packetConn.Close()

	packetBuffer, err := protocol2.NewPacketBuffer(config)
	if err != nil {
		log.Fatal(err)
	}

	log.Println("Receiver ready")

	incoming := make(chan []byte, 1000)
	go func() {
		for {
			buffer := make([]byte, config.MaxFragmentSize+config.FragmentHeaderBytes())
			n, _, err := packetConn.ReadFrom(buffer)
			if err != nil {
				log.Fatal(err)
			}
			incoming <- buffer[:n]
		}
	}()

	ticker := time.NewTicker(time.Second / tickrate)
	var received int

	for {
		select {
		case datagram := <-incoming:
			packetBuffer.ProcessPacket(datagram)
		case <-ticker.C:
			for _, payload := range packetBuffer.ReceivePackets() {
				if len(payload) < 2 {
					log.Fatal("payload too small: ", len(payload))
				}
				var sequence uint16
				sequence |= uint16(payload[0])
				sequence |= uint16(payload[1]) << 8
				if !bytes.Equal(payload, generatePayload(sequence)) {
					log.Fatal("payload mismatch for packet ", sequence)
				}
				received++
			}
			log.Printf("%d packets received | %d fragments buffered | %d invalid",
				received, packetBuffer.BufferedFragments(),
				packetBuffer.Counters[protocol2.CounterNumFragmentsInvalid])
		}
	}
}

// generatePayload derives a payload deterministically from its sequence
// number so the receiver can verify it without a side channel.
func generatePayload(sequence uint16) []byte {
	payloadBytes := ((int(sequence) * 1023) % (maxPayloadBytes - 2)) + 2
	payload := make([]byte, payloadBytes)
	payload[0] = byte(sequence & 0xFF)
	payload[1] = byte((sequence >> 8) & 0xFF)
	for i := 2; i < payloadBytes; i++ {
		payload[i] = byte((i + int(sequence)) % 256)
	}
	return payload
}
