package worldlist

import (
	"encoding/binary"
	"io"
	"path/filepath"
	"testing"

	"github.com/go-test/deep"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/lodestone/internal/core/buffer"
	"github.com/dcrodman/lodestone/internal/core/data"
)

func testDirectory() ([]data.Country, []data.World) {
	countries := []data.Country{
		{ID: 1, Flag: 0, Name: "United States"},
		{ID: 2, Flag: 77, Name: "United Kingdom"},
	}
	worlds := []data.World{
		{ID: 5, Hostname: "w5.example.com", CountryID: 2, Members: true, Players: 20},
		{ID: 1, Hostname: "w1.example.com", CountryID: 1, Activity: "Trade", Highlight: true, Players: 1500},
		{ID: 300, Hostname: "w300.example.com", CountryID: 1, PvP: true, Highlight: true, Players: 0},
	}
	return countries, worlds
}

func TestFlags(t *testing.T) {
	tests := []struct {
		world data.World
		want  uint32
	}{
		{data.World{}, 0},
		{data.World{Members: true, QuickChat: true, PvP: true, LootShare: true}, 0xF},
		{data.World{Highlight: true}, 0},
		{data.World{Highlight: true, Activity: "Minigames"}, FlagHighlight},
	}
	for _, tt := range tests {
		if got := Flags(&tt.world); got != tt.want {
			t.Errorf("Flags(%+v) = %#x, want %#x", tt.world, got, tt.want)
		}
	}
}

func TestNewSnapshot(t *testing.T) {
	countries, worlds := testDirectory()
	s := NewSnapshot(countries, worlds)

	if s.MinID != 1 {
		t.Errorf("MinID = %d, want 1", s.MinID)
	}
	if s.Checksum != buffer.Checksum(s.Raw) {
		t.Errorf("checksum does not match the raw list")
	}

	b := buffer.Wrap(s.Raw)
	if n := b.ReadSmart(); n != 2 {
		t.Fatalf("country count = %d", n)
	}
	var gotCountries []data.Country
	for i := 0; i < 2; i++ {
		gotCountries = append(gotCountries, data.Country{ID: uint(i + 1), Flag: b.ReadSmart(), Name: b.ReadVersionedString()})
	}
	if diff := deep.Equal(countries, gotCountries); diff != nil {
		t.Error(diff)
	}

	if minID, maxID, size := b.ReadSmart(), b.ReadSmart(), b.ReadSmart(); minID != 1 || maxID != 300 || size != 3 {
		t.Errorf("header = (%d, %d, %d)", minID, maxID, size)
	}

	type record struct {
		Offset   int
		Country  uint8
		Flags    uint32
		Activity string
		Hostname string
	}
	var got []record
	for i := 0; i < 3; i++ {
		got = append(got, record{b.ReadSmart(), b.ReadUint8(), b.ReadUint32(), b.ReadVersionedString(), b.ReadVersionedString()})
	}
	want := []record{
		{4, 1, FlagMembers, "", "w5.example.com"},
		{0, 0, FlagHighlight, "Trade", "w1.example.com"},
		{299, 0, FlagPvP, "", "w300.example.com"},
	}
	if diff := deep.Equal(want, got); diff != nil {
		t.Error(diff)
	}
	if b.Err() != nil || b.Available() != 0 {
		t.Errorf("raw list not fully consumed: err %v, %d bytes left", b.Err(), b.Available())
	}
}

func TestEncodeUpdate(t *testing.T) {
	countries, worlds := testDirectory()
	s := NewSnapshot(countries, worlds)

	// Offsets 4 and 0 take one smart byte, 299 takes two.
	countBytes := 2*len(worlds) + 1 + 1 + 2

	t.Run("stale checksum", func(t *testing.T) {
		got := EncodeUpdate(s, s.Checksum+1)

		if size := int(binary.BigEndian.Uint16(got)); size != len(got)-2 {
			t.Errorf("size field = %d, want %d", size, len(got)-2)
		}
		if got[2] != 1 || got[3] != 1 {
			t.Errorf("expected full update flags, got %d %d", got[2], got[3])
		}
		if want := 2 + 2 + len(s.Raw) + 4 + countBytes; len(got) != want {
			t.Errorf("response is %d bytes, want %d", len(got), want)
		}

		checksumAt := 4 + len(s.Raw)
		if c := binary.BigEndian.Uint32(got[checksumAt:]); c != s.Checksum {
			t.Errorf("checksum = %08x, want %08x", c, s.Checksum)
		}
	})

	t.Run("current checksum", func(t *testing.T) {
		got := EncodeUpdate(s, s.Checksum)

		if got[2] != 1 || got[3] != 0 {
			t.Errorf("expected count-only flags, got %d %d", got[2], got[3])
		}
		if len(got) != 4+countBytes {
			t.Fatalf("response is %d bytes, want %d", len(got), 4+countBytes)
		}

		b := buffer.Wrap(got[4:])
		var counts []Entry
		for b.Available() > 0 {
			counts = append(counts, Entry{ID: b.ReadSmart() + s.MinID, Players: int(b.ReadUint16())})
		}
		if diff := deep.Equal(s.Entries, counts); diff != nil {
			t.Error(diff)
		}
	})
}

func TestDirectory(t *testing.T) {
	db, err := data.Initialize(data.EngineSQLite, filepath.Join(t.TempDir(), "worlds.db"), false)
	if err != nil {
		t.Fatal(err)
	}
	defer data.Shutdown(db)

	if err := data.SeedDefaults(db, 7, "localhost", 43594); err != nil {
		t.Fatal(err)
	}

	logger := logrus.New()
	logger.Out = io.Discard
	d := NewDirectory(db, logger)
	if err := d.Refresh(); err != nil {
		t.Fatal(err)
	}

	before := d.Snapshot()
	if diff := deep.Equal([]Entry{{ID: 7, Players: 0}}, before.Entries); diff != nil {
		t.Fatal(diff)
	}

	if err := d.SetPlayers(7, 42); err != nil {
		t.Fatal(err)
	}
	after := d.Snapshot()
	if after.Entries[0].Players != 42 || before.Entries[0].Players != 0 {
		t.Errorf("SetPlayers() did not copy the snapshot: before %v, after %v", before.Entries, after.Entries)
	}
	if after.Checksum != before.Checksum {
		t.Error("player counts changed the checksum")
	}

	if err := d.Refresh(); err != nil {
		t.Fatal(err)
	}
	if got := d.Snapshot().Entries[0].Players; got != 42 {
		t.Errorf("player count not persisted, got %d", got)
	}
}
