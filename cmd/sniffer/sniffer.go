package main

import (
	"bufio"
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/dcrodman/lodestone/internal/core/buffer"
	"github.com/dcrodman/lodestone/internal/encryption"
	"github.com/dcrodman/lodestone/internal/js5"
	"github.com/dcrodman/lodestone/internal/login"
	"github.com/dcrodman/lodestone/internal/packets"
	"github.com/dcrodman/lodestone/internal/session"
)

// stream tracks what the client side of one connection is speaking. Segments are
// assumed to arrive in order and without retransmissions.
type stream struct {
	state session.State
	carry []byte
	// Game opcodes are unmasked as they are read, so carry[0] is always plaintext
	// once the connection is in the game state.
	unmasked bool
	cipher   *encryption.ISAAC
}

type sniffer struct {
	Writer *bufio.Writer

	port    layers.TCPPort
	verbose bool
	key     login.Decrypter
	streams map[string]*stream
}

func newSniffer(w *bufio.Writer, port uint16, verbose bool) *sniffer {
	return &sniffer{
		Writer:  w,
		port:    layers.TCPPort(port),
		verbose: verbose,
		streams: make(map[string]*stream),
	}
}

func (s *sniffer) handleSegment(network gopacket.Flow, tcp *layers.TCP) {
	var client string
	var fromClient bool
	switch {
	case tcp.DstPort == s.port:
		client = fmt.Sprintf("%s:%d", network.Src(), tcp.SrcPort)
		fromClient = true
	case tcp.SrcPort == s.port:
		client = fmt.Sprintf("%s:%d", network.Dst(), tcp.DstPort)
	default:
		return
	}

	st, ok := s.streams[client]
	if !ok {
		st = &stream{state: session.StateNew}
		s.streams[client] = st
	}

	switch {
	case len(tcp.Payload) == 0:
	case fromClient:
		s.printf("%s -> server (%s): %d bytes\n", client, st.state, len(tcp.Payload))
		s.dump(tcp.Payload)
		s.handleClientData(client, st, tcp.Payload)
	default:
		s.printf("server -> %s (%s): %d bytes\n", client, st.state, len(tcp.Payload))
		s.dump(tcp.Payload)
	}
	if tcp.FIN || tcp.RST {
		delete(s.streams, client)
	}
}

// handleClientData decodes as many messages as data completes, keeping whatever is
// left over for the next segment.
func (s *sniffer) handleClientData(client string, st *stream, data []byte) {
	st.carry = append(st.carry, data...)
	for len(st.carry) > 0 {
		var n int
		switch st.state {
		case session.StateNew:
			n = s.handleTitle(st)
		case session.StateJS5:
			n = s.handleJS5(st)
		case session.StateLogin:
			n = s.handleLogin(client, st)
		case session.StateGame:
			n = s.handleGame(st)
		default:
			// Nothing more can be made of this connection.
			st.carry = nil
			return
		}
		if n == 0 {
			return
		}
		st.carry = st.carry[n:]
	}
}

func (s *sniffer) handleTitle(st *stream) int {
	opcode := st.carry[0]
	s.printf("\t%s (%d)\n", titleName(opcode), opcode)

	switch opcode {
	case packets.TitleJS5OpenType:
		if len(st.carry) < 5 {
			return 0
		}
		s.printf("\tclient version %d\n", buffer.Wrap(st.carry[1:5]).ReadUint32())
		st.state = session.StateJS5
		return 5
	case packets.TitleLoginType:
		if len(st.carry) < 2 {
			return 0
		}
		st.state = session.StateLogin
		return 2
	case packets.TitleWorldListType:
		if len(st.carry) < 5 {
			return 0
		}
		st.state = session.StateWorldList
		return 5
	default:
		// Account creation requests only ever get a status byte in reply.
		st.state = session.StateClosed
		return len(st.carry)
	}
}

func (s *sniffer) handleJS5(st *stream) int {
	requests, rest := js5.ParseRequests(st.carry)
	for _, req := range requests {
		s.printf("\tgroup %d/%d (priority=%t)\n", req.Archive, req.Group, req.Priority())
	}
	return len(st.carry) - len(rest)
}

func (s *sniffer) handleLogin(client string, st *stream) int {
	if len(st.carry) < 3 {
		return 0
	}
	typ := st.carry[0]
	length := int(buffer.Wrap(st.carry[1:3]).ReadUint16())
	if len(st.carry) < 3+length {
		return 0
	}
	s.printf("\tlogin request type %d, %d bytes\n", typ, length)

	if s.key == nil {
		s.printf("\tno key provided, not following %s\n", client)
		st.state = session.StateClosed
		return 3 + length
	}

	l, err := login.ParseLoginBlock(typ, st.carry[3:3+length], s.key)
	if err != nil {
		s.printf("\tfailed to read login block: %v\n", err)
		st.state = session.StateClosed
		return 3 + length
	}
	s.printf("\tuser %q, revision %d, keys %v\n", l.Credentials.Username, l.Revision, l.Credentials.Keys)

	st.cipher, _ = encryption.NewSessionCiphers(l.Credentials.Keys)
	st.state = session.StateGame
	return 3 + length
}

func (s *sniffer) handleGame(st *stream) int {
	if !st.unmasked {
		st.carry[0] = st.cipher.Unmask(st.carry[0])
		st.unmasked = true
	}
	opcode := st.carry[0]

	header := 1
	size := packets.ClientLength(opcode)
	switch size {
	case packets.Undefined:
		s.printf("\tundefined opcode %d, giving up\n", opcode)
		st.state = session.StateClosed
		return len(st.carry)
	case packets.VarByte:
		if len(st.carry) < 2 {
			return 0
		}
		size = int(st.carry[1])
		header = 2
	case packets.VarShort:
		if len(st.carry) < 3 {
			return 0
		}
		size = int(buffer.Wrap(st.carry[1:3]).ReadUint16())
		header = 3
	}
	if len(st.carry) < header+size {
		return 0
	}

	s.printf("\t%s (%d), %d bytes\n", packets.ClientName(opcode), opcode, size)
	st.unmasked = false
	return header + size
}

func (s *sniffer) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.Writer, format, args...)
}

func (s *sniffer) dump(data []byte) {
	if s.verbose {
		_, _ = s.Writer.WriteString(spew.Sdump(data))
	}
}
