package framer

import "fmt"

// Arena is a single preallocated byte region shared by every session, divided
// into fixed size regions indexed by player slot.
type Arena struct {
	data       []byte
	regionSize int
	regions    int
}

// NewArena allocates regions*regionSize bytes up front.
func NewArena(regions, regionSize int) *Arena {
	return &Arena{
		data:       make([]byte, regions*regionSize),
		regionSize: regionSize,
		regions:    regions,
	}
}

// RegionSize returns the capacity of each region.
func (a *Arena) RegionSize() int { return a.regionSize }

// Region returns the bytes owned by slot. The returned slice cannot be grown
// into the next slot's region.
func (a *Arena) Region(slot int) []byte {
	if slot < 0 || slot >= a.regions {
		panic(fmt.Sprintf("framer: slot %d outside arena of %d regions", slot, a.regions))
	}
	start := slot * a.regionSize
	end := start + a.regionSize
	return a.data[start:end:end]
}
