package game

import (
	"github.com/dcrodman/lodestone/internal/core/buffer"
	"github.com/dcrodman/lodestone/internal/packets"
)

// Update block flags.
const updateAppearance = 0x1

// Root interfaces opened by the game frame.
const (
	rootFixed     = 548
	rootResizable = 746
)

// Body parts worn by a new character, one per equipment slot. -1 leaves the slot empty.
var defaultBody = [...]int{-1, -1, -1, -1, 18, -1, 26, 36, 0, 33, 42, 10}

const (
	defaultBAS        = 1426
	defaultCombat     = 3
	defaultTotalLevel = 27
)

// rebuild places the player and loads the map around it. It is only sent on the
// first tick of a session.
func (w *World) rebuild(p *Player) []byte {
	b := buffer.New().WriteUint8(packets.RebuildNormalType)
	mark := b.ReserveSize(2)

	b.StartBitAccess()
	b.WriteBits(30, p.Position.HighRes())
	w.viewport.ForEachExternal(p.ID, func(int) {
		b.WriteBits(18, 0)
	})
	b.EndBitAccess()

	zoneX, zoneZ := p.Position.ZoneX(), p.Position.ZoneZ()
	b.WriteUint16LE(uint16(zoneX))
	b.WriteUint16(uint16(zoneZ))
	b.WriteUint8(0)
	b.WriteUint8Neg(0)

	for mx := (zoneX - 6) >> 3; mx <= (zoneX+6)>>3; mx++ {
		for mz := (zoneZ - 6) >> 3; mz <= (zoneZ+6)>>3; mz++ {
			key, _ := w.mapKeys.Lookup(mx, mz)
			for _, word := range key {
				b.WriteUint32(word)
			}
		}
	}

	b.PatchSize(mark, 2)
	return b.Bytes()
}

// gameFrame opens the root interface matching the player's window mode.
func (p *Player) gameFrame() []byte {
	root := uint16(rootResizable)
	if p.WindowMode == WindowModeFixed {
		root = rootFixed
	}
	b := buffer.New().
		WriteUint8(packets.IfOpenTopType).
		WriteUint8(0).
		WriteUint16LE(root).
		WriteUint16LE(p.verifyID)
	p.verifyID++
	return b.Bytes()
}

// playerInfo builds the player synchronisation packet.
func (w *World) playerInfo(p *Player) []byte {
	b := buffer.New().WriteUint8(packets.PlayerInfoType)
	mark := b.ReserveSize(2)
	updates := buffer.New()

	// Skip flags are not tracked, so every entry is written in the first pass of
	// its group and the second pass of each group is empty.
	w.encodeLocal(b, updates, p, true)
	w.encodeLocal(b, updates, p, false)
	w.encodeExternal(b, p, true)
	w.encodeExternal(b, p, false)
	b.WriteBytes(updates.Bytes())

	b.PatchSize(mark, 2)
	return b.Bytes()
}

func (w *World) encodeLocal(b, updates *buffer.Buffer, p *Player, first bool) {
	b.StartBitAccess()
	if first {
		w.viewport.ForEachLocal(p.ID, func(id int) {
			if id != p.ID {
				b.WriteBits(1, 0)
				return
			}

			maskUpdate := p.appearance == nil
			if !p.placement && !maskUpdate {
				b.WriteBits(1, 0)
				return
			}
			b.WriteBits(1, 1)
			b.WriteBits(1, boolBit(maskUpdate))
			b.WriteBits(2, 0)
			if maskUpdate {
				p.appendUpdateBlock(updates)
			}
		})
	}
	b.EndBitAccess()
}

func (w *World) encodeExternal(b *buffer.Buffer, p *Player, first bool) {
	b.StartBitAccess()
	if first {
		w.viewport.ForEachExternal(p.ID, func(int) {
			b.WriteBits(1, 0)
			b.WriteBits(2, 0)
		})
	}
	b.EndBitAccess()
}

func (p *Player) appendUpdateBlock(updates *buffer.Buffer) {
	var flags uint8
	if p.appearance == nil {
		p.appearance = p.encodeAppearance()
		flags |= updateAppearance
	}

	updates.WriteUint8(flags)
	if flags&updateAppearance != 0 {
		updates.WriteUint8Sub(len(p.appearance))
		updates.WriteBytesReversed(p.appearance)
	}
}

func (p *Player) encodeAppearance() []byte {
	b := buffer.New()
	b.WriteUint8(0)
	b.WriteUint8(0xFF)
	b.WriteUint8(0xFF)
	b.WriteUint8(0xFF)

	for _, part := range defaultBody {
		if part == -1 {
			b.WriteUint8(0)
		} else {
			b.WriteUint16(uint16(part | 0x100))
		}
	}
	for i := 0; i < 5; i++ {
		b.WriteUint8(0)
	}

	b.WriteUint16(defaultBAS)
	b.WriteString(p.Username)
	b.WriteUint8(defaultCombat)
	b.WriteUint16(defaultTotalLevel)
	b.WriteUint8(0)
	return b.Bytes()
}

func boolBit(v bool) uint32 {
	if v {
		return 1
	}
	return 0
}
