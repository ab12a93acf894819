package game

import (
	"fmt"
	"math"
)

// BuildAreaSizes are the edge lengths, in tiles, of the map area a client keeps loaded.
var BuildAreaSizes = [...]int{104, 120, 136, 168}

// Position is an absolute tile coordinate. X and Z are 14 bit quantities and Plane
// is in [0, 3].
type Position struct {
	X     int
	Z     int
	Plane int
}

// HighRes packs the position into the 30 bit form used for absolute placement.
func (p Position) HighRes() uint32 {
	return uint32(p.Z | p.X<<14 | p.Plane<<28)
}

// LowRes packs the position at mapsquare granularity.
func (p Position) LowRes() uint32 {
	return uint32(p.MapsquareZ() | p.MapsquareX()<<8 | p.Plane<<16)
}

// MapsquareX is the 64 tile map square containing the position.
func (p Position) MapsquareX() int { return p.X >> 6 }

func (p Position) MapsquareZ() int { return p.Z >> 6 }

// ZoneX is the 8 tile zone containing the position.
func (p Position) ZoneX() int { return p.X >> 3 }

func (p Position) ZoneZ() int { return p.Z >> 3 }

// LocalX is the offset of the position inside its map square.
func (p Position) LocalX() int { return p.X & 63 }

func (p Position) LocalZ() int { return p.Z & 63 }

// BuildArea returns the first and last tile of the loaded area centred on the
// position for build area index i.
func (p Position) BuildArea(i int) (startX, startZ, endX, endZ int) {
	half := BuildAreaSizes[i] >> 4
	startX = (p.ZoneX() - half) << 3
	startZ = (p.ZoneZ() - half) << 3
	endX = (p.ZoneX() + half) << 3
	endZ = (p.ZoneZ() + half) << 3
	return startX, startZ, endX, endZ
}

// Near reports whether other is within distance tiles on both axes.
func (p Position) Near(other Position, distance int) bool {
	return abs(p.X-other.X) <= distance && abs(p.Z-other.Z) <= distance
}

// DistanceTo is the straight line distance to other, ignoring planes.
func (p Position) DistanceTo(other Position) float64 {
	return math.Hypot(float64(p.X-other.X), float64(p.Z-other.Z))
}

// Valid reports whether the position fits the packed forms.
func (p Position) Valid() bool {
	return p.X >= 0 && p.X < 1<<14 && p.Z >= 0 && p.Z < 1<<14 && p.Plane >= 0 && p.Plane <= 3
}

func (p Position) String() string {
	return fmt.Sprintf("(%d, %d, %d)", p.X, p.Z, p.Plane)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
