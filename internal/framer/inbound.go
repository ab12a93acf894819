// Package framer splits the live session byte stream into opcode tagged frames
// and batches the frames sent back to the client.
package framer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dcrodman/lodestone/internal/core/buffer"
	"github.com/dcrodman/lodestone/internal/encryption"
	"github.com/dcrodman/lodestone/internal/packets"
)

// MaxFramesPerOpcode is the number of frames of one opcode accepted per tick.
const MaxFramesPerOpcode = 10

var (
	// ErrBufferCapacityExceeded is returned when a session sends more bytes in a
	// single tick than its arena region can hold.
	ErrBufferCapacityExceeded = errors.New("buffer capacity exceeded")
	// ErrUndefinedOpcode is returned for an opcode with no length policy.
	ErrUndefinedOpcode = errors.New("undefined opcode")
	// ErrClosed is returned by Receive after Close.
	ErrClosed = errors.New("framer closed")
)

// Frame is one inbound message with its opcode already unmasked.
type Frame struct {
	Opcode  uint8
	Payload []byte
}

// Inbound accumulates the frames a session receives between two ticks. Receive is
// called from the connection's reader, Drain from the tick loop.
type Inbound struct {
	mu     sync.Mutex
	region []byte
	used   int
	counts [256]uint8
	cipher *encryption.ISAAC
	// Bytes of an incomplete frame. The opcode at carry[0] is already unmasked.
	carry  []byte
	closed bool
}

// NewInbound returns a framer that copies accepted frames into region. cipher may
// be nil, in which case opcodes are read as sent.
func NewInbound(region []byte, cipher *encryption.ISAAC) *Inbound {
	return &Inbound{region: region, cipher: cipher}
}

// Receive frames a chunk of raw socket bytes. Frames that would push an opcode past
// MaxFramesPerOpcode in the batch being buffered are consumed and discarded. Opcodes are
// unmasked in place, so p is modified.
func (in *Inbound) Receive(p []byte) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return ErrClosed
	}

	data := p
	unmasked := 0
	if len(in.carry) > 0 {
		data = append(in.carry, p...)
		unmasked = 1
	}
	in.carry = nil

	offset := 0
	for offset < len(data) {
		start := offset

		if start >= unmasked && in.cipher != nil {
			data[offset] = in.cipher.Unmask(data[offset])
		}
		opcode := data[offset]
		offset++

		length := packets.ClientLength(opcode)
		switch length {
		case packets.Undefined:
			return fmt.Errorf("%w: %d", ErrUndefinedOpcode, opcode)
		case packets.VarByte:
			if offset+1 > len(data) {
				in.keep(data[start:])
				return nil
			}
			length = int(data[offset])
			offset++
		case packets.VarShort:
			if offset+2 > len(data) {
				in.keep(data[start:])
				return nil
			}
			length = int(binary.BigEndian.Uint16(data[offset:]))
			offset += 2
		}

		if offset+length > len(data) {
			in.keep(data[start:])
			return nil
		}
		offset += length

		if in.counts[opcode] >= MaxFramesPerOpcode {
			continue
		}

		frame := data[start:offset]
		if len(frame) > len(in.region)-in.used {
			return fmt.Errorf("%w: %d byte frame with %d of %d bytes used",
				ErrBufferCapacityExceeded, len(frame), in.used, len(in.region))
		}
		in.counts[opcode]++
		in.used += copy(in.region[in.used:], frame)
	}
	return nil
}

func (in *Inbound) keep(partial []byte) {
	in.carry = append([]byte(nil), partial...)
}

// Drain decodes every frame accepted since the last call, empties the region and
// clears the per-opcode counts. Frames arriving afterwards belong to the next tick.
func (in *Inbound) Drain() []Frame {
	in.mu.Lock()
	defer in.mu.Unlock()

	b := buffer.Wrap(in.region[:in.used])
	var frames []Frame
	for b.Available() > 0 {
		opcode := b.ReadUint8()
		length := packets.ClientLength(opcode)
		switch length {
		case packets.VarByte:
			length = int(b.ReadUint8())
		case packets.VarShort:
			length = int(b.ReadUint16())
		}
		frames = append(frames, Frame{Opcode: opcode, Payload: b.ReadBytes(length)})
	}
	in.used = 0
	in.counts = [256]uint8{}
	return frames
}

// Used returns the number of region bytes holding undrained frames.
func (in *Inbound) Used() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.used
}

// Close releases the region. Later calls to Receive fail with ErrClosed.
func (in *Inbound) Close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	in.used = 0
	in.carry = nil
}
