// Package game holds the world state driven by the tick loop: the player slot
// table, the per-player synchronisation packets, and the handlers for the
// packets a live client sends.
package game

import (
	"container/heap"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	coredebug "github.com/dcrodman/lodestone/internal/core/debug"
	"github.com/dcrodman/lodestone/internal/encryption"
	"github.com/dcrodman/lodestone/internal/framer"
)

// MaxPlayers is the highest player id the client can index. Player updates always
// describe this many slots, whatever the World's capacity.
const MaxPlayers = 2047

// ErrWorldFull is returned by Register when every slot is taken.
var ErrWorldFull = errors.New("world is full")

// Config holds the parameters of a World.
type Config struct {
	// Number of player slots. Ids run from 1 to Capacity, at most MaxPlayers.
	Capacity int
	// Bytes of inbound and outbound arena per player per tick.
	BufferSize int
	// Where players are placed on login.
	Spawn Position
	// Map square keys sent with map rebuilds. Nil sends zero keys.
	MapKeys MapKeys
	// Dump every inbound frame to the log.
	PacketLogging bool
}

// freeSlots is a min-heap of unused ids so that the lowest one is always reused first.
type freeSlots []int

func (f freeSlots) Len() int            { return len(f) }
func (f freeSlots) Less(i, j int) bool  { return f[i] < f[j] }
func (f freeSlots) Swap(i, j int)       { f[i], f[j] = f[j], f[i] }
func (f *freeSlots) Push(x interface{}) { *f = append(*f, x.(int)) }
func (f *freeSlots) Pop() interface{} {
	old := *f
	n := len(old)
	x := old[n-1]
	*f = old[:n-1]
	return x
}

// World is the registry of every connected player. The tick loop holds the World's
// lock for the whole tick, so registration and removal never interleave with it.
type World struct {
	cfg      Config
	logger   *logrus.Logger
	viewport Viewport
	mapKeys  MapKeys
	handlers map[uint8]Handler

	inbound  *framer.Arena
	outbound *framer.Arena

	mu      sync.Mutex
	slots   []*Player
	free    freeSlots
	players int
}

// NewWorld preallocates the slot table and both arenas. It panics if the capacity
// is outside 1..MaxPlayers.
func NewWorld(cfg Config, logger *logrus.Logger) *World {
	if cfg.Capacity < 1 || cfg.Capacity > MaxPlayers {
		panic(fmt.Sprintf("world capacity %d outside 1..%d", cfg.Capacity, MaxPlayers))
	}
	w := &World{
		cfg:      cfg,
		logger:   logger,
		viewport: fullTableViewport{},
		mapKeys:  cfg.MapKeys,
		handlers: defaultHandlers(),
		inbound:  framer.NewArena(cfg.Capacity+1, cfg.BufferSize),
		outbound: framer.NewArena(cfg.Capacity+1, cfg.BufferSize),
		slots:    make([]*Player, cfg.Capacity+1),
		free:     make(freeSlots, 0, cfg.Capacity),
	}
	if w.mapKeys == nil {
		w.mapKeys = KeyTable{}
	}
	for id := 1; id <= cfg.Capacity; id++ {
		w.free = append(w.free, id)
	}
	heap.Init(&w.free)
	return w
}

// SetViewport replaces the policy that decides which players observe each other.
func (w *World) SetViewport(v Viewport) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.viewport = v
}

// Register assigns p the lowest free id, places it at the spawn point, and gives it
// its arena regions. The player is not ticked until Add is called, which lets the
// caller queue a greeting ahead of any game packet.
func (w *World) Register(p *Player, conn io.WriteCloser, inbound, outbound *encryption.ISAAC) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.free.Len() == 0 {
		return ErrWorldFull
	}
	p.ID = heap.Pop(&w.free).(int)
	p.Position = w.cfg.Spawn
	p.conn = conn
	p.in = framer.NewInbound(w.inbound.Region(p.ID), inbound)
	p.out = framer.NewOutbound(w.outbound.Region(p.ID), outbound, conn)
	p.logger = w.logger.WithFields(logrus.Fields{"player": p.Username, "id": p.ID})
	return nil
}

// Add makes a registered player part of the tick.
func (w *World) Add(p *Player) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p.removed || p.added {
		return
	}
	p.added = true
	w.slots[p.ID] = p
	w.players++
	p.logger.Info("player added")
}

// Remove releases p's slot and arena regions. It is safe to call more than once and
// for a player that was registered but never added.
func (w *World) Remove(p *Player) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p.removed || p.ID == 0 {
		return
	}
	p.removed = true
	p.in.Close()
	if w.slots[p.ID] == p {
		w.slots[p.ID] = nil
		w.players--
		p.logger.Info("player removed")
	}
	heap.Push(&w.free, p.ID)
}

// PlayerCount returns the number of players taking part in the tick.
func (w *World) PlayerCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.players
}

// Players returns the ids of every player taking part in the tick, in order.
func (w *World) Players() []int {
	w.mu.Lock()
	defer w.mu.Unlock()

	var ids []int
	for id, p := range w.slots {
		if p != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// forEachPlayer runs fn for every live player. A panic drops only that player.
func (w *World) forEachPlayer(fn func(p *Player) error) {
	for _, p := range w.slots {
		if p == nil || p.dropped {
			continue
		}
		w.guard(p, fn)
	}
}

func (w *World) guard(p *Player, fn func(p *Player) error) {
	defer func() {
		if err := recover(); err != nil {
			p.logger.Errorf("recovered panic in tick: %v\n%s", err, debug.Stack())
			p.drop(fmt.Errorf("panic: %v", err))
		}
	}()
	if err := fn(p); err != nil {
		p.drop(err)
	}
}

// Tick runs one world tick: inbound packets are processed, every player is updated,
// and the resulting packets are written out.
func (w *World) Tick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.forEachPlayer(w.processIn)
	w.forEachPlayer(w.update)
	w.forEachPlayer((*Player).flush)
}

func (w *World) processIn(p *Player) error {
	for _, frame := range p.in.Drain() {
		if w.cfg.PacketLogging {
			coredebug.LogPacket(p.logger, "recv", frame.Opcode, frame.Payload)
		}
		w.dispatch(p, frame)
	}
	return nil
}

func (w *World) update(p *Player) error {
	if !p.loaded {
		if p.firstLoad {
			p.Queue(w.rebuild(p), true)
			p.Queue(p.gameFrame(), true)
		}
		p.firstLoad = false
		p.loaded = true
	}
	p.Queue(w.playerInfo(p), true)
	return nil
}
