// Package session routes the bytes read from one client connection according to
// the sub-protocol the connection has selected: the update protocol, the world
// list, the login handshake, or a live game session.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	coredebug "github.com/dcrodman/lodestone/internal/core/debug"
	"github.com/dcrodman/lodestone/internal/game"
	"github.com/dcrodman/lodestone/internal/js5"
	"github.com/dcrodman/lodestone/internal/login"
	"github.com/dcrodman/lodestone/internal/worldlist"
)

var (
	// ErrProtocolViolation is returned for input that no state accepts, including
	// login blocks that fail to decrypt.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrVersionMismatch is returned when the client reports a build other than the
	// one the server was configured for.
	ErrVersionMismatch = errors.New("client version mismatch")
	// ErrClosed is returned for writes to, or input for, a closed session.
	ErrClosed = errors.New("session closed")
)

// State is the sub-protocol a connection is currently speaking.
type State int

const (
	StateNew State = iota
	StateJS5
	StateWorldList
	StateLogin
	StateGame
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateJS5:
		return "JS5"
	case StateWorldList:
		return "WORLD_LIST"
	case StateLogin:
		return "LOGIN"
	case StateGame:
		return "GAME"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// WorldLists provides the current world directory snapshot.
type WorldLists interface {
	Snapshot() *worldlist.Snapshot
}

// Server holds the collaborators shared by every session.
type Server struct {
	// Build the client must report in update protocol and login requests.
	ClientVersion uint32
	Assets        js5.Fetcher
	WorldList     WorldLists
	LoginKey      login.Decrypter
	World         *game.World
	Logger        *logrus.Logger
	// Dump every chunk read before the game state to the log.
	PacketLogging bool
	// Bounds each write the tick makes to a player. A player whose connection cannot
	// take a write in time is dropped. Zero leaves writes unbounded.
	WriteTimeout time.Duration
}

// NewSession starts a session in StateNew for a freshly accepted connection. ctx
// bounds the asset fetches the session starts; it should outlive the connection.
func (srv *Server) NewSession(ctx context.Context, conn io.WriteCloser, addr string) *Session {
	return &Session{
		srv:    srv,
		ctx:    ctx,
		conn:   &guardedConn{w: conn},
		logger: srv.Logger.WithField("addr", addr),
	}
}

// Session is the state machine of one connection. Handle and Close must be called
// from the goroutine reading the connection.
type Session struct {
	srv    *Server
	ctx    context.Context
	conn   *guardedConn
	logger *logrus.Entry

	state     State
	carry     []byte
	serverKey uint64
	player    *game.Player
	fetches   sync.WaitGroup
}

// State returns the sub-protocol the session is speaking.
func (s *Session) State() State { return s.state }

// Player returns the player created by a successful login, or nil.
func (s *Session) Player() *game.Player { return s.player }

// Handle consumes one read worth of bytes. Requests split across reads are held
// until the rest arrives. A non-nil error means the connection must be closed.
func (s *Session) Handle(data []byte) error {
	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateGame:
		return s.handleGame(data)
	}

	if s.srv.PacketLogging {
		coredebug.LogBytes(s.logger, "recv", data)
	}

	if len(s.carry) > 0 {
		data = append(s.carry, data...)
		s.carry = nil
	}

	for len(data) > 0 {
		var n int
		var err error

		switch s.state {
		case StateNew:
			n, err = s.handleNew(data)
		case StateJS5:
			n = s.handleJS5(data)
		case StateWorldList:
			s.logger.WithField("bytes", len(data)).Debug("ignoring world list input")
			n = len(data)
		case StateLogin:
			n, err = s.handleLogin(data)
		case StateGame:
			return s.handleGame(data)
		case StateClosed:
			return ErrClosed
		}

		if err != nil {
			s.state = StateClosed
			return err
		}
		if n == 0 {
			s.carry = append([]byte(nil), data...)
			return nil
		}
		data = data[n:]
	}
	return nil
}

func (s *Session) handleGame(data []byte) error {
	if err := s.player.Receive(data); err != nil {
		s.state = StateClosed
		return fmt.Errorf("framing game input: %w", err)
	}
	return nil
}

// handleJS5 starts a fetch for every complete request in data and returns the
// number of bytes consumed.
func (s *Session) handleJS5(data []byte) int {
	requests, rest := js5.ParseRequests(data)
	for _, req := range requests {
		s.fetch(req)
	}
	return len(data) - len(rest)
}

// fetch resolves req in its own goroutine and writes the response whenever it is
// ready. Responses for different requests may be written in any order. A result
// that arrives after the session closed is discarded.
func (s *Session) fetch(req js5.Request) {
	s.fetches.Add(1)
	go func() {
		defer s.fetches.Done()

		logger := s.logger.WithFields(logrus.Fields{"archive": req.Archive, "group": req.Group})

		file, err := s.srv.Assets.FetchGroup(s.ctx, req.Archive, req.Group)
		var response []byte
		if err == nil {
			response, err = js5.EncodeResponse(req, file)
		}
		if err != nil {
			logger.WithError(err).Warn("failed to serve group, closing connection")
			_ = s.conn.Close()
			return
		}

		if _, err := s.conn.Write(response); errors.Is(err, ErrClosed) {
			logger.Debug("discarding group for closed connection")
		} else if err != nil {
			logger.WithError(err).Warn("failed to write group")
		}
	}()
}

// Close tears down the connection, releases the player's slot, if any, and waits
// for in-flight asset fetches, whose results are discarded. It is safe to call more
// than once.
func (s *Session) Close() {
	s.state = StateClosed
	_ = s.conn.Close()
	if s.player != nil {
		s.srv.World.Remove(s.player)
	}
	s.fetches.Wait()
}

func (s *Session) write(data []byte) error {
	_, err := s.conn.Write(data)
	return err
}

// guardedConn serializes writes from the fetch goroutines and the tick, and drops
// writes once the connection is closed.
type guardedConn struct {
	mu      sync.Mutex
	w       io.WriteCloser
	timeout time.Duration
	closed  atomic.Bool
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// setWriteTimeout bounds every later write, if the connection supports deadlines.
func (c *guardedConn) setWriteTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

func (c *guardedConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return 0, ErrClosed
	}
	if d, ok := c.w.(writeDeadliner); ok && c.timeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return 0, err
		}
	}
	return c.w.Write(p)
}

func (c *guardedConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.w.Close()
}
