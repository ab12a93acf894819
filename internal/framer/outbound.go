package framer

import (
	"fmt"
	"io"

	"github.com/dcrodman/lodestone/internal/encryption"
)

type pending struct {
	data   []byte
	masked bool
}

// Outbound batches the frames produced for a session during a tick and writes them
// through the session's arena region.
type Outbound struct {
	region []byte
	used   int
	queue  []pending
	cipher *encryption.ISAAC
	w      io.Writer
}

// NewOutbound returns a batcher that stages bytes in region before writing them to w.
func NewOutbound(region []byte, cipher *encryption.ISAAC, w io.Writer) *Outbound {
	if len(region) == 0 {
		panic("framer: outbound region has no capacity")
	}
	return &Outbound{region: region, cipher: cipher, w: w}
}

// Queue adds a complete frame to the batch. When masked is set the opcode byte is
// combined with the outbound cipher at encode time.
func (o *Outbound) Queue(frame []byte, masked bool) {
	o.queue = append(o.queue, pending{data: frame, masked: masked})
}

// Pending returns the number of queued frames.
func (o *Outbound) Pending() int { return len(o.queue) }

// Encode masks every queued frame in order and stages it in the region, writing the
// region to the socket whenever it fills up.
func (o *Outbound) Encode() error {
	queue := o.queue
	o.queue = nil

	for _, p := range queue {
		if len(p.data) == 0 {
			continue
		}
		if p.masked && o.cipher != nil {
			p.data[0] = o.cipher.Mask(p.data[0])
		}
		if err := o.stage(p.data); err != nil {
			return err
		}
	}
	return nil
}

func (o *Outbound) stage(data []byte) error {
	for len(data) > 0 {
		n := copy(o.region[o.used:], data)
		o.used += n
		data = data[n:]
		if len(data) > 0 {
			if err := o.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush writes any staged bytes to the socket.
func (o *Outbound) Flush() error {
	if o.used == 0 {
		return nil
	}
	n := o.used
	o.used = 0
	if _, err := o.w.Write(o.region[:n]); err != nil {
		return fmt.Errorf("flushing %d bytes: %w", n, err)
	}
	return nil
}
