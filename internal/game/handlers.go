package game

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/lodestone/internal/core/buffer"
	"github.com/dcrodman/lodestone/internal/framer"
	"github.com/dcrodman/lodestone/internal/packets"
)

// Handler applies one inbound frame to a player.
type Handler func(w *World, p *Player, payload *buffer.Buffer)

func defaultHandlers() map[uint8]Handler {
	ignore := func(*World, *Player, *buffer.Buffer) {}
	return map[uint8]Handler{
		packets.MoveGameClickType:       handleMoveClick,
		packets.MoveMinimapClickType:    handleMoveClick,
		packets.WindowStatusType:        handleWindowStatus,
		packets.ClientCheatType:         handleClientCheat,
		packets.NoTimeoutType:           ignore,
		packets.IdleTimerType:           ignore,
		packets.EventMouseMoveType:      ignore,
		packets.EventMouseClickType:     ignore,
		packets.EventKeyboardType:       ignore,
		packets.EventCameraPositionType: ignore,
		packets.EventAppletFocusType:    ignore,
		packets.EventFrameMapLoadedType: ignore,
		packets.MapBuildCompleteType:    ignore,
		packets.TransmitVarVerifyIDType: ignore,
		packets.SoundSongEndType:        ignore,
	}
}

// SetHandler installs h for opcode, replacing any existing handler.
func (w *World) SetHandler(opcode uint8, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[opcode] = h
}

func (w *World) dispatch(p *Player, frame framer.Frame) {
	h, ok := w.handlers[frame.Opcode]
	if !ok {
		p.logger.WithFields(logrus.Fields{
			"opcode": frame.Opcode,
			"name":   packets.ClientName(frame.Opcode),
		}).Debug("unhandled packet")
		return
	}
	h(w, p, buffer.Wrap(frame.Payload))
}

// Walking is not implemented, so a click moves the player straight to the target.
// The minimap variant appends path data that is ignored.
func handleMoveClick(w *World, p *Player, b *buffer.Buffer) {
	b.ReadUint8()
	x := int(b.ReadUint16())
	z := int(b.ReadUint16LE())
	if b.Err() != nil {
		return
	}

	target := Position{X: x, Z: z, Plane: p.Position.Plane}
	if target.Valid() {
		p.Teleport(target)
	}
}

func handleWindowStatus(w *World, p *Player, b *buffer.Buffer) {
	mode := b.ReadUint8()
	if b.Err() != nil {
		return
	}
	p.WindowMode = mode
}

// handleClientCheat runs the developer commands typed into the chat box with a
// leading "::".
func handleClientCheat(w *World, p *Player, b *buffer.Buffer) {
	command := b.ReadString()
	if b.Err() != nil {
		return
	}

	args := strings.Fields(strings.ToLower(command))
	if len(args) == 0 {
		return
	}

	switch args[0] {
	case "pos":
		p.logger.WithField("position", p.Position.String()).Info("position")
	case "tele":
		target, ok := parseTele(args[1:], p.Position.Plane)
		if !ok {
			p.logger.WithField("command", command).Debug("invalid teleport")
			return
		}
		p.Teleport(target)
	default:
		p.logger.WithField("command", command).Debug("unknown command")
	}
}

// parseTele accepts "x z [plane]" or "x,z[,plane]".
func parseTele(args []string, plane int) (Position, bool) {
	fields := strings.FieldsFunc(strings.Join(args, " "), func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(fields) < 2 || len(fields) > 3 {
		return Position{}, false
	}

	values := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return Position{}, false
		}
		values[i] = v
	}
	if len(values) == 3 {
		plane = values[2]
	}

	pos := Position{X: values[0], Z: values[1], Plane: plane}
	return pos, pos.Valid()
}
