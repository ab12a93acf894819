// Package buffer implements the byte and bit level cursor used to read and write
// every message exchanged with the client.
//
// A Buffer tracks an independent byte offset and bit offset over a growable slice.
// Writes past the end extend the slice, reads past the end fail with ErrBufferUnderrun.
// Reads use a sticky error so a parser can read a whole message and check Err once.
package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/dcrodman/lodestone/internal/core/text"
)

// ErrBufferUnderrun is returned when a read needs more bytes than are available.
var ErrBufferUnderrun = errors.New("buffer underrun")

var bitmask [33]uint32

func init() {
	for i := 1; i <= 32; i++ {
		bitmask[i] = uint32((uint64(1) << uint(i)) - 1)
	}
}

// Buffer is a read/write cursor over a byte slice.
type Buffer struct {
	data      []byte
	offset    int
	bitOffset int
	order     binary.ByteOrder
	err       error
}

// New returns an empty Buffer that uses big endian byte order.
func New() *Buffer {
	return &Buffer{order: binary.BigEndian}
}

// Alloc returns a Buffer with capacity bytes preallocated.
func Alloc(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity), order: binary.BigEndian}
}

// Wrap returns a Buffer positioned at the start of data. The Buffer takes
// ownership of data and may modify it in place.
func Wrap(data []byte) *Buffer {
	return &Buffer{data: data, order: binary.BigEndian}
}

// SetOrder changes the byte order used by the fixed-width integer methods.
func (b *Buffer) SetOrder(order binary.ByteOrder) *Buffer {
	b.order = order
	return b
}

// Bytes returns the full contents of the buffer, regardless of the offset.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes held by the buffer.
func (b *Buffer) Len() int { return len(b.data) }

// Offset returns the current byte offset.
func (b *Buffer) Offset() int { return b.offset }

// Available returns the number of unread bytes after the offset.
func (b *Buffer) Available() int {
	if b.offset >= len(b.data) {
		return 0
	}
	return len(b.data) - b.offset
}

// Err returns the first read error encountered, if any.
func (b *Buffer) Err() error { return b.err }

// Seek moves the byte offset by n, which may be negative.
func (b *Buffer) Seek(n int) *Buffer {
	b.offset += n
	if b.offset < 0 {
		b.offset = 0
	}
	return b
}

// Front resets both offsets to the start of the buffer.
func (b *Buffer) Front() *Buffer {
	b.offset = 0
	b.bitOffset = 0
	return b
}

// ensure extends the buffer so that n bytes can be written at the current offset.
func (b *Buffer) ensure(n int) {
	b.growTo(b.offset + n)
}

// growTo extends the buffer to at least size bytes. It never shrinks.
func (b *Buffer) growTo(size int) {
	if size <= len(b.data) {
		return
	}
	if size > cap(b.data) {
		grown := make([]byte, size, 2*size)
		copy(grown, b.data)
		b.data = grown
		return
	}
	// A wrapped slice may carry stale bytes between len and cap.
	old := len(b.data)
	b.data = b.data[:size]
	for i := old; i < size; i++ {
		b.data[i] = 0
	}
}

// take returns the next n bytes and advances the offset, or records an underrun.
func (b *Buffer) take(n int) []byte {
	if b.err != nil {
		return nil
	}
	if n < 0 || n > b.Available() {
		b.err = fmt.Errorf("%w: cannot read %d byte(s), %d available", ErrBufferUnderrun, n, b.Available())
		return nil
	}
	p := b.data[b.offset : b.offset+n]
	b.offset += n
	return p
}

func (b *Buffer) ReadUint8() uint8 {
	p := b.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (b *Buffer) ReadInt8() int8 { return int8(b.ReadUint8()) }

func (b *Buffer) ReadBool() bool { return b.ReadUint8() == 1 }

func (b *Buffer) ReadUint16() uint16 {
	p := b.take(2)
	if p == nil {
		return 0
	}
	return b.order.Uint16(p)
}

func (b *Buffer) ReadInt16() int16 { return int16(b.ReadUint16()) }

// ReadUint16LE reads a little endian uint16 regardless of the buffer's byte order.
func (b *Buffer) ReadUint16LE() uint16 {
	p := b.take(2)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

func (b *Buffer) ReadUint32() uint32 {
	p := b.take(4)
	if p == nil {
		return 0
	}
	return b.order.Uint32(p)
}

func (b *Buffer) ReadInt32() int32 { return int32(b.ReadUint32()) }

func (b *Buffer) ReadUint64() uint64 {
	p := b.take(8)
	if p == nil {
		return 0
	}
	return b.order.Uint64(p)
}

func (b *Buffer) ReadInt64() int64 { return int64(b.ReadUint64()) }

// PeekUint8 returns the next byte without advancing the offset.
func (b *Buffer) PeekUint8() uint8 {
	if b.err != nil {
		return 0
	}
	if b.Available() < 1 {
		b.err = fmt.Errorf("%w: cannot peek 1 byte, 0 available", ErrBufferUnderrun)
		return 0
	}
	return b.data[b.offset]
}

// ReadSmart reads an unsigned smart: one byte for values below 128, otherwise two
// bytes biased by 0x8000.
func (b *Buffer) ReadSmart() int {
	if b.PeekUint8() < 0x80 {
		return int(b.ReadUint8())
	}
	return int(b.ReadUint16()) - 0x8000
}

// ReadSignedSmart reads a signed smart: one byte biased by 0x40, otherwise two bytes
// biased by 0xC000.
func (b *Buffer) ReadSignedSmart() int {
	if b.PeekUint8() < 0x80 {
		return int(b.ReadUint8()) - 0x40
	}
	return int(b.ReadUint16()) - 0xC000
}

// ReadString reads a null-terminated string. A missing terminator is an underrun.
func (b *Buffer) ReadString() string {
	if b.err != nil {
		return ""
	}
	for i := b.offset; i < len(b.data); i++ {
		if b.data[i] == 0 {
			s := text.Decode(b.data[b.offset:i])
			b.offset = i + 1
			return s
		}
	}
	b.err = fmt.Errorf("%w: unterminated string", ErrBufferUnderrun)
	return ""
}

// ReadVersionedString reads a version byte followed by a null-terminated string.
func (b *Buffer) ReadVersionedString() string {
	b.ReadUint8()
	return b.ReadString()
}

// ReadBytes returns a copy of the next n bytes.
func (b *Buffer) ReadBytes(n int) []byte {
	p := b.take(n)
	if p == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, p)
	return out
}

// ReadSlice copies the next n bytes into a new, independent Buffer.
func (b *Buffer) ReadSlice(n int) *Buffer {
	return Wrap(b.ReadBytes(n)).SetOrder(b.order)
}

// Remaining copies every unread byte into a new Buffer.
func (b *Buffer) Remaining() *Buffer {
	return b.ReadSlice(b.Available())
}

func (b *Buffer) WriteUint8(v uint8) *Buffer {
	b.ensure(1)
	b.data[b.offset] = v
	b.offset++
	return b
}

func (b *Buffer) WriteInt8(v int8) *Buffer { return b.WriteUint8(uint8(v)) }

func (b *Buffer) WriteBool(v bool) *Buffer {
	if v {
		return b.WriteUint8(1)
	}
	return b.WriteUint8(0)
}

// WriteUint8Sub writes 128 - v.
func (b *Buffer) WriteUint8Sub(v int) *Buffer { return b.WriteUint8(uint8(128 - v)) }

// WriteUint8Neg writes -v.
func (b *Buffer) WriteUint8Neg(v int) *Buffer { return b.WriteUint8(uint8(-v)) }

func (b *Buffer) WriteUint16(v uint16) *Buffer {
	b.ensure(2)
	b.order.PutUint16(b.data[b.offset:], v)
	b.offset += 2
	return b
}

// WriteUint16LE writes a little endian uint16 regardless of the buffer's byte order.
func (b *Buffer) WriteUint16LE(v uint16) *Buffer {
	b.ensure(2)
	binary.LittleEndian.PutUint16(b.data[b.offset:], v)
	b.offset += 2
	return b
}

func (b *Buffer) WriteUint32(v uint32) *Buffer {
	b.ensure(4)
	b.order.PutUint32(b.data[b.offset:], v)
	b.offset += 4
	return b
}

func (b *Buffer) WriteUint64(v uint64) *Buffer {
	b.ensure(8)
	b.order.PutUint64(b.data[b.offset:], v)
	b.offset += 8
	return b
}

// WriteSmart writes v (0 to 32767) as an unsigned smart.
func (b *Buffer) WriteSmart(v int) *Buffer {
	if v < 0x80 {
		return b.WriteUint8(uint8(v))
	}
	return b.WriteUint16(uint16(v + 0x8000))
}

// WriteSignedSmart writes v (-16384 to 16383) as a signed smart.
func (b *Buffer) WriteSignedSmart(v int) *Buffer {
	if v < 0x40 && v >= -0x40 {
		return b.WriteUint8(uint8(v + 0x40))
	}
	return b.WriteUint16(uint16(v + 0xC000))
}

// WriteString writes s followed by a single 0 terminator.
func (b *Buffer) WriteString(s string) *Buffer {
	b.WriteBytes(text.Encode(s))
	return b.WriteUint8(0)
}

// WriteVersionedString writes a 0 version byte and then s as WriteString does.
func (b *Buffer) WriteVersionedString(s string) *Buffer {
	b.WriteUint8(0)
	return b.WriteString(s)
}

// WriteBytes copies p into the buffer at the current offset.
func (b *Buffer) WriteBytes(p []byte) *Buffer {
	b.ensure(len(p))
	copy(b.data[b.offset:], p)
	b.offset += len(p)
	return b
}

// WriteBytesReversed copies p into the buffer last byte first.
func (b *Buffer) WriteBytesReversed(p []byte) *Buffer {
	b.ensure(len(p))
	for i := len(p) - 1; i >= 0; i-- {
		b.data[b.offset] = p[i]
		b.offset++
	}
	return b
}

// ReserveSize writes an n byte (1 or 2) length placeholder and returns its position
// for a later call to PatchSize.
func (b *Buffer) ReserveSize(n int) int {
	mark := b.offset
	switch n {
	case 1:
		b.WriteUint8(0)
	case 2:
		b.WriteUint16(0)
	default:
		panic(fmt.Sprintf("buffer: invalid size field width %d", n))
	}
	return mark
}

// PatchSize fills the n byte placeholder at mark with the number of bytes written
// after it, up to the current offset. The length must fit in the field.
func (b *Buffer) PatchSize(mark, n int) *Buffer {
	length := b.offset - mark - n
	if length < 0 || mark < 0 || mark+n > len(b.data) {
		panic(fmt.Sprintf("buffer: invalid size patch at %d (length %d)", mark, length))
	}

	switch n {
	case 1:
		if length > 0xFF {
			panic(fmt.Sprintf("buffer: length %d does not fit in a byte", length))
		}
		b.data[mark] = byte(length)
	case 2:
		if length > 0xFFFF {
			panic(fmt.Sprintf("buffer: length %d does not fit in two bytes", length))
		}
		b.data[mark] = byte(length >> 8)
		b.data[mark+1] = byte(length)
	default:
		panic(fmt.Sprintf("buffer: invalid size field width %d", n))
	}
	return b
}

// StartBitAccess enters bit mode at the current byte offset.
func (b *Buffer) StartBitAccess() *Buffer {
	b.bitOffset = b.offset << 3
	return b
}

// EndBitAccess leaves bit mode, rounding the byte offset up to the next whole byte.
func (b *Buffer) EndBitAccess() *Buffer {
	b.offset = (b.bitOffset + 7) >> 3
	return b
}

// WriteBits writes the low n bits (1 to 32) of value MSB first.
func (b *Buffer) WriteBits(n int, value uint32) *Buffer {
	if n < 1 || n > 32 {
		panic(fmt.Sprintf("buffer: invalid bit count %d", n))
	}

	bytePos := b.bitOffset >> 3
	remaining := 8 - (b.bitOffset & 7)
	b.bitOffset += n

	b.growTo((b.bitOffset + 7) >> 3)

	for ; n > remaining; remaining = 8 {
		b.data[bytePos] &^= byte(bitmask[remaining])
		b.data[bytePos] |= byte((value >> uint(n-remaining)) & bitmask[remaining])
		bytePos++
		n -= remaining
	}

	if n == remaining {
		b.data[bytePos] &^= byte(bitmask[remaining])
		b.data[bytePos] |= byte(value & bitmask[remaining])
	} else {
		shift := uint(remaining - n)
		b.data[bytePos] &^= byte(bitmask[n] << shift)
		b.data[bytePos] |= byte((value & bitmask[n]) << shift)
	}
	return b
}

// ReadBits reads n bits (1 to 32) MSB first.
func (b *Buffer) ReadBits(n int) uint32 {
	if n < 1 || n > 32 {
		panic(fmt.Sprintf("buffer: invalid bit count %d", n))
	}
	if b.err != nil {
		return 0
	}
	if (b.bitOffset+n+7)>>3 > len(b.data) {
		b.err = fmt.Errorf("%w: cannot read %d bit(s)", ErrBufferUnderrun, n)
		return 0
	}

	bytePos := b.bitOffset >> 3
	remaining := 8 - (b.bitOffset & 7)
	b.bitOffset += n

	var value uint32
	for ; n > remaining; remaining = 8 {
		value |= (uint32(b.data[bytePos]) & bitmask[remaining]) << uint(n-remaining)
		bytePos++
		n -= remaining
	}

	if n == remaining {
		value |= uint32(b.data[bytePos]) & bitmask[remaining]
	} else {
		value |= (uint32(b.data[bytePos]) >> uint(remaining-n)) & bitmask[n]
	}
	return value
}

// Checksum returns the CRC-32 (IEEE) of data.
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
