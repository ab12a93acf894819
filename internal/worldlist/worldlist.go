// Package worldlist serializes the world directory into the form shown by the
// client's world selector and answers world list requests.
package worldlist

import (
	"github.com/dcrodman/lodestone/internal/core/buffer"
	"github.com/dcrodman/lodestone/internal/core/data"
)

// World flags.
const (
	FlagMembers   = 0x1
	FlagQuickChat = 0x2
	FlagPvP       = 0x4
	FlagLootShare = 0x8
	FlagHighlight = 0x10
)

// Entry is the part of a world that changes between snapshots.
type Entry struct {
	ID      int
	Players int
}

// Snapshot is an immutable serialized world list.
type Snapshot struct {
	Raw      []byte
	Checksum uint32
	MinID    int
	Entries  []Entry
}

// Flags returns the flag bits advertised for w.
func Flags(w *data.World) uint32 {
	var flags uint32
	if w.Members {
		flags |= FlagMembers
	}
	if w.QuickChat {
		flags |= FlagQuickChat
	}
	if w.PvP {
		flags |= FlagPvP
	}
	if w.LootShare {
		flags |= FlagLootShare
	}
	// The client ignores the highlight on worlds without an activity.
	if w.Activity != "" && w.Highlight {
		flags |= FlagHighlight
	}
	return flags
}

// NewSnapshot serializes countries and worlds. Worlds refer to countries by their
// position in countries.
func NewSnapshot(countries []data.Country, worlds []data.World) *Snapshot {
	b := buffer.New()

	countryIndex := make(map[uint]int, len(countries))
	b.WriteSmart(len(countries))
	for i, c := range countries {
		countryIndex[c.ID] = i
		b.WriteSmart(c.Flag)
		b.WriteVersionedString(c.Name)
	}

	minID, maxID := 0, 0
	for i, w := range worlds {
		if i == 0 || w.ID < minID {
			minID = w.ID
		}
		if i == 0 || w.ID > maxID {
			maxID = w.ID
		}
	}
	b.WriteSmart(minID)
	b.WriteSmart(maxID)
	b.WriteSmart(len(worlds))

	entries := make([]Entry, len(worlds))
	for i := range worlds {
		w := &worlds[i]
		b.WriteSmart(w.ID - minID)
		b.WriteUint8(uint8(countryIndex[w.CountryID]))
		b.WriteUint32(Flags(w))
		b.WriteVersionedString(w.Activity)
		b.WriteVersionedString(w.Hostname)

		entries[i] = Entry{ID: w.ID, Players: w.Players}
	}

	return &Snapshot{
		Raw:      b.Bytes(),
		Checksum: buffer.Checksum(b.Bytes()),
		MinID:    minID,
		Entries:  entries,
	}
}

// WithPlayers returns a copy of s reporting players on world id.
func (s *Snapshot) WithPlayers(id, players int) *Snapshot {
	c := *s
	c.Entries = make([]Entry, len(s.Entries))
	copy(c.Entries, s.Entries)
	for i := range c.Entries {
		if c.Entries[i].ID == id {
			c.Entries[i].Players = players
		}
	}
	return &c
}

// EncodeUpdate builds the response to a world list request. The full list is only
// included when clientChecksum does not match; player counts are always included.
func EncodeUpdate(s *Snapshot, clientChecksum uint32) []byte {
	b := buffer.New()
	mark := b.ReserveSize(2)

	b.WriteBool(true)
	if clientChecksum != s.Checksum {
		b.WriteBool(true)
		b.WriteBytes(s.Raw)
		b.WriteUint32(s.Checksum)
	} else {
		b.WriteBool(false)
	}

	for _, e := range s.Entries {
		b.WriteSmart(e.ID - s.MinID)
		b.WriteUint16(uint16(e.Players))
	}

	b.PatchSize(mark, 2)
	return b.Bytes()
}
