package session

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/lodestone/internal/core/buffer"
	"github.com/dcrodman/lodestone/internal/core/text"
	"github.com/dcrodman/lodestone/internal/encryption"
	"github.com/dcrodman/lodestone/internal/game"
	"github.com/dcrodman/lodestone/internal/login"
	"github.com/dcrodman/lodestone/internal/packets"
	"github.com/dcrodman/lodestone/internal/worldlist"
)

const progressLogSize = 6

// handleNew reads the request that selects the connection's sub-protocol and
// returns the number of bytes it used, or 0 if the request is incomplete.
func (s *Session) handleNew(data []byte) (int, error) {
	b := buffer.Wrap(data)
	opcode := b.ReadUint8()

	switch opcode {
	case packets.TitleJS5OpenType:
		version := b.ReadUint32()
		if b.Err() != nil {
			return 0, nil
		}
		if version != s.srv.ClientVersion {
			_ = s.write([]byte{byte(packets.JS5OutOfDate)})
			return 0, fmt.Errorf("%w: update request from build %d", ErrVersionMismatch, version)
		}
		if err := s.write([]byte{byte(packets.JS5Success)}); err != nil {
			return 0, err
		}
		s.state = StateJS5

	case packets.TitleWorldListType:
		checksum := b.ReadUint32()
		if b.Err() != nil {
			return 0, nil
		}
		response := append([]byte{packets.WorldListOK}, worldlist.EncodeUpdate(s.srv.WorldList.Snapshot(), checksum)...)
		if err := s.write(response); err != nil {
			return 0, err
		}
		s.state = StateWorldList

	case packets.TitleLoginType:
		// Hash of the username, used by the client to pick a login server.
		b.ReadUint8()
		if b.Err() != nil {
			return 0, nil
		}
		if err := s.startHandshake(); err != nil {
			return 0, err
		}

	case packets.TitleLogProgressType:
		body := b.ReadBytes(progressLogSize)
		if b.Err() != nil {
			return 0, nil
		}
		progress, err := login.ParseProgressLog(body)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
		}
		s.logger.WithFields(logrus.Fields{
			"year":    progress.Year,
			"country": progress.Country,
		}).Debug("account creation progress")
		if err := s.write([]byte{packets.RegistrationOK}); err != nil {
			return 0, err
		}

	case packets.TitleCheckNameType:
		name := b.ReadUint64()
		if b.Err() != nil {
			return 0, nil
		}
		s.logger.WithField("name", text.DecodeBase37(name)).Debug("name check")
		if err := s.write([]byte{packets.RegistrationOK}); err != nil {
			return 0, err
		}

	case packets.TitleCreateType:
		length := int(b.ReadUint16())
		body := b.ReadBytes(length)
		if b.Err() != nil {
			return 0, nil
		}
		reg, err := login.ParseRegistration(body, s.srv.LoginKey)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
		}
		s.logger.WithField("username", reg.Username).Info("account creation request")
		if err := s.write([]byte{packets.RegistrationOK}); err != nil {
			return 0, err
		}

	default:
		return 0, fmt.Errorf("%w: opcode %d in state %s", ErrProtocolViolation, opcode, s.state)
	}
	return b.Offset(), nil
}

// startHandshake sends the server half of the session key.
func (s *Session) startHandshake() error {
	var key [8]byte
	if _, err := rand.Read(key[:]); err != nil {
		return fmt.Errorf("generating server key: %w", err)
	}
	s.serverKey = binary.BigEndian.Uint64(key[:])

	response := buffer.Alloc(9).
		WriteUint8(byte(packets.LoginStatusExchangeKeys)).
		WriteUint64(s.serverKey)
	if err := s.write(response.Bytes()); err != nil {
		return err
	}
	s.state = StateLogin
	return nil
}

// handleLogin reads a connect or reconnect request and moves the connection into
// the game.
func (s *Session) handleLogin(data []byte) (int, error) {
	b := buffer.Wrap(data)
	typ := b.ReadUint8()
	if typ != packets.LoginConnectType && typ != packets.LoginReconnectType {
		return 0, fmt.Errorf("%w: login type %d", ErrProtocolViolation, typ)
	}
	length := int(b.ReadUint16())
	block := b.ReadBytes(length)
	if b.Err() != nil {
		return 0, nil
	}

	l, err := login.ParseLoginBlock(typ, block, s.srv.LoginKey)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
	}
	if l.Revision != s.srv.ClientVersion {
		_ = s.write([]byte{byte(packets.LoginStatusOutOfDate)})
		return 0, fmt.Errorf("%w: login from build %d", ErrVersionMismatch, l.Revision)
	}

	if err := s.enterGame(l); err != nil {
		return 0, err
	}
	return b.Offset(), nil
}

func (s *Session) enterGame(l *packets.LoginBlock) error {
	inbound, outbound := encryption.NewSessionCiphers(l.Credentials.Keys)

	p := game.NewPlayer(l.Credentials.Username, l.WindowMode)
	p.Reconnecting = l.Type == packets.LoginReconnectType

	// From here on the tick writes to this connection while holding the World.
	s.conn.setWriteTimeout(s.srv.WriteTimeout)
	if err := s.srv.World.Register(p, s.conn, inbound, outbound); err != nil {
		if errors.Is(err, game.ErrWorldFull) {
			_ = s.write([]byte{byte(packets.LoginStatusWorldFull)})
		}
		return fmt.Errorf("registering %s: %w", p.Username, err)
	}
	s.player = p

	// The response is written ahead of the first tick's packets and is not masked.
	p.Queue(loginResponse(p), false)
	s.state = StateGame
	s.srv.World.Add(p)

	s.logger.WithFields(logrus.Fields{
		"username": p.Username,
		"id":       p.ID,
	}).Info("player logged in")
	return nil
}

func loginResponse(p *game.Player) []byte {
	if p.Reconnecting {
		return []byte{byte(packets.LoginStatusReconnected)}
	}
	return buffer.Alloc(11).
		WriteUint8(byte(packets.LoginStatusOK)).
		WriteUint8(0).     // staff mod level
		WriteUint8(0).     // player mod level
		WriteBool(false).  // underage
		WriteBool(false).  // parental chat consent
		WriteBool(false).  // parental advert consent
		WriteBool(false).  // quick chat only
		WriteUint16(uint16(p.ID)).
		WriteBool(false). // mouse recorder
		WriteBool(true).  // members
		Bytes()
}
