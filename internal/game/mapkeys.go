package game

import (
	"fmt"
	"os"

	"github.com/sugawarayuuta/sonnet"
)

// MapKeys supplies the XTEA keys protecting each map square's location data.
type MapKeys interface {
	Lookup(mapsquareX, mapsquareZ int) ([4]uint32, bool)
}

// KeyTable is a MapKeys backed by a map indexed by mapsquareX<<8 | mapsquareZ.
type KeyTable map[int][4]uint32

func (t KeyTable) Lookup(mapsquareX, mapsquareZ int) ([4]uint32, bool) {
	k, ok := t[mapsquareX<<8|mapsquareZ]
	return k, ok
}

type mapKeyEntry struct {
	Mapsquare int     `json:"mapsquare"`
	Key       []int32 `json:"key"`
}

// ParseMapKeys reads a JSON array of {"mapsquare": n, "key": [k0, k1, k2, k3]} objects.
func ParseMapKeys(contents []byte) (KeyTable, error) {
	var entries []mapKeyEntry
	if err := sonnet.Unmarshal(contents, &entries); err != nil {
		return nil, fmt.Errorf("parsing map keys: %w", err)
	}

	table := make(KeyTable, len(entries))
	for _, e := range entries {
		if len(e.Key) != 4 {
			return nil, fmt.Errorf("map square %d has %d key words, want 4", e.Mapsquare, len(e.Key))
		}
		var key [4]uint32
		for i, word := range e.Key {
			key[i] = uint32(word)
		}
		table[e.Mapsquare] = key
	}
	return table, nil
}

// LoadMapKeys reads a key file in the format accepted by ParseMapKeys.
func LoadMapKeys(path string) (KeyTable, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading map keys: %w", err)
	}
	return ParseMapKeys(contents)
}
