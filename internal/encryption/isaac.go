// Package encryption contains the cryptographic primitives used by the game protocol:
// the ISAAC generator that masks packet opcodes, raw RSA used to unwrap login blocks,
// and the XTEA decryption applied to secondary login payloads.
package encryption

const (
	isaacSize   = 256
	goldenRatio = 0x9E3779B9
)

// OutboundKeyOffset is added to each session key word to derive the server's
// outbound cipher from the inbound one.
const OutboundKeyOffset = 50

// ISAAC is Bob Jenkins' ISAAC generator. Words are handed out from the end of
// each 256 word batch, with a new batch generated when one is exhausted.
type ISAAC struct {
	count       int
	results     [isaacSize]uint32
	memory      [isaacSize]uint32
	accumulator uint32
	lastResult  uint32
	counter     uint32
}

// NewISAAC seeds a generator with up to 256 key words. The game protocol always
// uses four.
func NewISAAC(key []uint32) *ISAAC {
	c := &ISAAC{}
	copy(c.results[:], key)
	c.init()
	return c
}

// NewSessionCiphers returns the pair of generators for a session: inbound is seeded
// with key as-is and outbound with every word offset by OutboundKeyOffset.
func NewSessionCiphers(key [4]uint32) (inbound, outbound *ISAAC) {
	inbound = NewISAAC(key[:])
	for i := range key {
		key[i] += OutboundKeyOffset
	}
	outbound = NewISAAC(key[:])
	return inbound, outbound
}

// Next returns the next word of the stream.
func (c *ISAAC) Next() uint32 {
	if c.count == 0 {
		c.generate()
		c.count = isaacSize
	}
	c.count--
	return c.results[c.count]
}

// Mask adds the next word to an outgoing opcode.
func (c *ISAAC) Mask(opcode byte) byte {
	return opcode + byte(c.Next())
}

// Unmask subtracts the next word from an incoming opcode.
func (c *ISAAC) Unmask(opcode byte) byte {
	return opcode - byte(c.Next())
}

func (c *ISAAC) generate() {
	c.counter++
	c.lastResult += c.counter

	for i := 0; i < isaacSize; i++ {
		x := c.memory[i]
		switch i & 3 {
		case 0:
			c.accumulator ^= c.accumulator << 13
		case 1:
			c.accumulator ^= c.accumulator >> 6
		case 2:
			c.accumulator ^= c.accumulator << 2
		case 3:
			c.accumulator ^= c.accumulator >> 16
		}
		c.accumulator += c.memory[(i+128)&0xFF]

		y := c.memory[(x>>2)&0xFF] + c.accumulator + c.lastResult
		c.memory[i] = y
		c.lastResult = c.memory[(y>>10)&0xFF] + x
		c.results[i] = c.lastResult
	}
}

func mix(a, b, c, d, e, f, g, h uint32) (uint32, uint32, uint32, uint32, uint32, uint32, uint32, uint32) {
	a ^= b << 11
	d += a
	b += c
	b ^= c >> 2
	e += b
	c += d
	c ^= d << 8
	f += c
	d += e
	d ^= e >> 16
	g += d
	e += f
	e ^= f << 10
	h += e
	f += g
	f ^= g >> 4
	a += f
	g += h
	g ^= h << 8
	b += g
	h += a
	h ^= a >> 9
	c += h
	a += b
	return a, b, c, d, e, f, g, h
}

func (c *ISAAC) init() {
	a, b, cc, d, e, f, g, h := uint32(goldenRatio), uint32(goldenRatio), uint32(goldenRatio), uint32(goldenRatio),
		uint32(goldenRatio), uint32(goldenRatio), uint32(goldenRatio), uint32(goldenRatio)

	for i := 0; i < 4; i++ {
		a, b, cc, d, e, f, g, h = mix(a, b, cc, d, e, f, g, h)
	}

	// Two passes: the first folds in the seed, the second spreads it through memory.
	for pass := 0; pass < 2; pass++ {
		src := &c.results
		if pass == 1 {
			src = &c.memory
		}
		for i := 0; i < isaacSize; i += 8 {
			a += src[i]
			b += src[i+1]
			cc += src[i+2]
			d += src[i+3]
			e += src[i+4]
			f += src[i+5]
			g += src[i+6]
			h += src[i+7]
			a, b, cc, d, e, f, g, h = mix(a, b, cc, d, e, f, g, h)
			c.memory[i] = a
			c.memory[i+1] = b
			c.memory[i+2] = cc
			c.memory[i+3] = d
			c.memory[i+4] = e
			c.memory[i+5] = f
			c.memory[i+6] = g
			c.memory[i+7] = h
		}
	}

	c.generate()
	c.count = isaacSize
}
