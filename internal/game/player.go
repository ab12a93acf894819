package game

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/lodestone/internal/core/text"
	"github.com/dcrodman/lodestone/internal/framer"
)

// Window modes reported by the client.
const (
	WindowModeFixed     = 1
	WindowModeResizable = 2
)

// Player is a logged in entity. It is owned by one session and, once registered, by
// the World's slot table.
type Player struct {
	ID           int
	Username     string
	WindowMode   uint8
	Position     Position
	Reconnecting bool

	firstLoad  bool
	loaded     bool
	placement  bool
	appearance []byte
	verifyID   uint16

	in      *framer.Inbound
	out     *framer.Outbound
	conn    io.WriteCloser
	added   bool
	removed bool
	dropped bool
	logger  *logrus.Entry
}

// NewPlayer returns a player that has not yet been registered with a World.
func NewPlayer(username string, windowMode uint8) *Player {
	return &Player{
		Username:   username,
		WindowMode: windowMode,
		firstLoad:  true,
		verifyID:   1,
	}
}

// DisplayName is the name shown to other players.
func (p *Player) DisplayName() string {
	return text.FormatDisplayName(p.Username)
}

// Receive hands raw socket bytes to the player's inbound framer.
func (p *Player) Receive(data []byte) error {
	return p.in.Receive(data)
}

// Queue adds a frame to be written at the end of the current tick.
func (p *Player) Queue(frame []byte, masked bool) {
	p.out.Queue(frame, masked)
}

// Teleport moves the player and flags an absolute placement on the next update.
func (p *Player) Teleport(pos Position) {
	p.Position = pos
	p.placement = true
}

// drop closes the player's connection. The session removes the player from the
// World once its reader notices.
func (p *Player) drop(reason error) {
	if p.dropped {
		return
	}
	p.dropped = true
	p.logger.WithError(reason).Warn("dropping player")
	_ = p.conn.Close()
}

// flush writes everything queued during the tick and starts the next one.
func (p *Player) flush() error {
	if err := p.out.Encode(); err != nil {
		return err
	}
	if err := p.out.Flush(); err != nil {
		return err
	}
	p.placement = false
	return nil
}
