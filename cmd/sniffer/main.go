// The sniffer command reads a packet capture of clients talking to the server and
// prints the messages it can make sense of: sub-protocol selection, update
// requests, login requests and, given the server's RSA key, game packets.
//
// Usage:
//
//	sniffer -f capture.pcap [-port 43594] [-key rsa.pem] [-v]
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/dcrodman/lodestone/internal/encryption"
)

var (
	file    = flag.String("f", "", "pcap file to read")
	port    = flag.Int("port", 43594, "Port the server was listening on")
	keyFile = flag.String("key", "", "Server RSA key, required to follow game sessions")
	verbose = flag.Bool("v", false, "Dump the raw bytes of every segment")
)

func main() {
	flag.Parse()
	if *file == "" {
		flag.Usage()
		os.Exit(1)
	}

	f, err := os.Open(*file)
	if err != nil {
		exit("error opening capture: %v", err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		exit("error reading capture: %v", err)
	}

	s := newSniffer(bufio.NewWriter(os.Stdout), uint16(*port), *verbose)
	if *keyFile != "" {
		if s.key, err = encryption.LoadLoginKey(*keyFile); err != nil {
			exit("error loading key: %v", err)
		}
	}

	packetSource := gopacket.NewPacketSource(reader, reader.LinkType())
	for packet := range packetSource.Packets() {
		tcp, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if !ok || packet.NetworkLayer() == nil {
			continue
		}
		s.handleSegment(packet.NetworkLayer().NetworkFlow(), tcp)
	}
	_ = s.Writer.Flush()
}

func exit(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}
