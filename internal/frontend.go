package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/dcrodman/lodestone/internal/core"
	"github.com/dcrodman/lodestone/internal/session"
)

const readBufferSize = 5000

// frontend implements the concurrent client connection logic.
//
// Data is read from any connected clients and passed to the client's session,
// abstracting the lower level connection details away from the protocol handling.
type frontend struct {
	Address string
	Server  *session.Server
	Config  *core.Config
	Logger  *logrus.Logger

	connected atomic.Int64
	// Per-IP accept limiters, expired once an address has been quiet for a while.
	limiters *cache.Cache
}

// Start opens the TCP socket for the server. A blocking loop for accepting client
// connections is spun off in its own goroutine and added to the WaitGroup. Context
// cancellations will stop the server.
func (f *frontend) Start(ctx context.Context, wg *sync.WaitGroup) error {
	socket, err := f.createSocket()
	if err != nil {
		return fmt.Errorf("error creating socket on %s: %w", f.Address, err)
	}
	f.limiters = cache.New(10*time.Minute, time.Minute)

	wg.Add(1)
	go f.startBlockingLoop(ctx, socket, wg)

	return nil
}

// createSocket opens a TCP socket to listen for client connections on the Address
// provided to the frontend.
func (f *frontend) createSocket() (*net.TCPListener, error) {
	hostAddr, err := net.ResolveTCPAddr("tcp", f.Address)
	if err != nil {
		return nil, fmt.Errorf("error resolving address: %w", err)
	}

	socket, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return nil, fmt.Errorf("error listening on socket: %w", err)
	}

	return socket, nil
}

// startBlockingLoop implements a connection handling loop that's purely responsible for
// accepting new connections and spinning off goroutines to handle them.
func (f *frontend) startBlockingLoop(ctx context.Context, socket *net.TCPListener, wg *sync.WaitGroup) {
	defer wg.Done()

	f.Logger.Infof("waiting for connections on %v", f.Address)

	go func() {
		<-ctx.Done()
		_ = socket.Close()
	}()

	clientWg := &sync.WaitGroup{}
	for {
		connection, err := socket.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			f.Logger.Warnf("failed to accept connection: %s", err.Error())
			continue
		}

		if !f.reserve(connection) {
			_ = connection.Close()
			continue
		}

		clientWg.Add(1)
		go f.acceptClient(ctx, connection, clientWg)
	}

	f.Logger.Info("shutting down (waiting for connections to close)")
	clientWg.Wait()
	f.Logger.Info("frontend exited")
}

// admit applies the connection cap and the per-IP accept rate.
func (f *frontend) admit(connection net.Conn) bool {
	if f.connected.Load() >= int64(f.Config.MaxConnections) {
		f.Logger.Warnf("rejected connection from %s: server full", connection.RemoteAddr())
		return false
	}

	ip := remoteIP(connection)
	if !f.limiter(ip).Allow() {
		f.Logger.Infof("rejected connection from %s: too many connections", ip)
		return false
	}
	return true
}

// reserve admits the connection and counts it before its goroutine starts, so a
// burst of accepts cannot overshoot the connection cap.
func (f *frontend) reserve(connection net.Conn) bool {
	if !f.admit(connection) {
		return false
	}
	f.connected.Add(1)
	return true
}

func (f *frontend) limiter(ip string) *rate.Limiter {
	if l, ok := f.limiters.Get(ip); ok {
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Limit(f.Config.Network.AcceptRate), f.Config.Network.AcceptBurst)
	f.limiters.SetDefault(ip, l)
	return l
}

func remoteIP(connection net.Conn) string {
	host, _, err := net.SplitHostPort(connection.RemoteAddr().String())
	if err != nil {
		return connection.RemoteAddr().String()
	}
	return host
}

// acceptClient creates a session for the connection and runs its read loop until
// the connection closes. The connection must already be reserved.
func (f *frontend) acceptClient(ctx context.Context, connection *net.TCPConn, wg *sync.WaitGroup) {
	defer wg.Done()
	defer f.connected.Add(-1)

	_ = connection.SetNoDelay(true)
	s := f.Server.NewSession(ctx, connection, connection.RemoteAddr().String())

	f.Logger.Infof("accepted connection from %s", connection.RemoteAddr())
	f.processPackets(ctx, connection, s)
}

// processPackets starts a blocking loop dedicated to reading data sent from
// a game client and only returns once the connection has closed.
func (f *frontend) processPackets(ctx context.Context, connection net.Conn, s *session.Session) {
	defer f.closeConnectionAndRecover(connection, s)

	stop := context.AfterFunc(ctx, func() { _ = connection.Close() })
	defer stop()

	buffer := make([]byte, readBufferSize)
	for {
		if err := connection.SetReadDeadline(time.Now().Add(f.Config.IdleTimeout)); err != nil {
			f.Logger.Warnf("failed to set read deadline: %s", err)
			return
		}

		n, err := connection.Read(buffer)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				f.Logger.Infof("connection from %s timed out", connection.RemoteAddr())
			} else if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				f.Logger.Warnf("error reading from %s: %s", connection.RemoteAddr(), err)
			}
			return
		}

		if err := s.Handle(buffer[:n]); err != nil {
			f.Logger.Warnf("error in client communication with %s (%s): %s", connection.RemoteAddr(), s.State(), err)
			return
		}
	}
}

// closeConnectionAndRecover is the failsafe that catches any panics and tears the
// session down regardless of the state of the connection.
func (f *frontend) closeConnectionAndRecover(connection net.Conn, s *session.Session) {
	if err := recover(); err != nil {
		f.Logger.Errorf("error in client communication with %s: error=%s, trace: %s",
			connection.RemoteAddr(), err, debug.Stack())
	}

	s.Close()
	f.Logger.Infof("disconnected client %s", connection.RemoteAddr())
}
