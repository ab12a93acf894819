package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/lodestone/internal/core/buffer"
	"github.com/dcrodman/lodestone/internal/core/data"
	"github.com/dcrodman/lodestone/internal/core/text"
	"github.com/dcrodman/lodestone/internal/encryption"
	"github.com/dcrodman/lodestone/internal/game"
	"github.com/dcrodman/lodestone/internal/js5"
	"github.com/dcrodman/lodestone/internal/login"
	"github.com/dcrodman/lodestone/internal/packets"
	"github.com/dcrodman/lodestone/internal/worldlist"
)

type fakeAssets struct {
	groups  map[[2]int][]byte
	err     error
	release chan struct{}
}

func (f *fakeAssets) FetchGroup(ctx context.Context, archive uint8, group uint16) ([]byte, error) {
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	file, ok := f.groups[[2]int{int(archive), int(group)}]
	if !ok {
		return nil, errors.New("no such group")
	}
	return file, nil
}

type staticWorldList struct {
	snapshot *worldlist.Snapshot
}

func (s staticWorldList) Snapshot() *worldlist.Snapshot { return s.snapshot }

// fakeDecrypter returns the same plaintext for every block.
type fakeDecrypter struct {
	plaintext []byte
}

func (f fakeDecrypter) Decrypt([]byte) ([]byte, error) { return f.plaintext, nil }

type harness struct {
	t       *testing.T
	srv     *Server
	session *Session
	client  net.Conn
	done    chan struct{}
}

func testServer(t *testing.T) *Server {
	t.Helper()
	logger := logrus.New()
	logger.Out = io.Discard

	countries := []data.Country{{ID: 1, Flag: 0, Name: "United States"}}
	worlds := []data.World{
		{ID: 1, Hostname: "127.0.0.1", CountryID: 1, Players: 12},
		{ID: 2, Hostname: "127.0.0.2", CountryID: 1, Members: true, Players: 3},
	}

	return &Server{
		ClientVersion: 578,
		Assets:        &fakeAssets{groups: map[[2]int][]byte{}},
		WorldList:     staticWorldList{snapshot: worldlist.NewSnapshot(countries, worlds)},
		World: game.NewWorld(game.Config{
			Capacity:   4,
			BufferSize: 5000,
			Spawn:      game.Position{X: 3222, Z: 3218},
		}, logger),
		Logger: logger,
	}
}

// connect starts a session on one end of a pipe and a read loop feeding it,
// the way the frontend does.
func connect(t *testing.T, srv *Server) *harness {
	t.Helper()
	server, client := net.Pipe()
	h := &harness{
		t:       t,
		srv:     srv,
		session: srv.NewSession(context.Background(), server, "pipe"),
		client:  client,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		defer h.session.Close()
		buf := make([]byte, 4096)
		for {
			n, err := server.Read(buf)
			if err != nil {
				return
			}
			if err := h.session.Handle(buf[:n]); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		client.Close()
		<-h.done
	})
	return h
}

func (h *harness) send(data []byte) {
	h.t.Helper()
	_ = h.client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := h.client.Write(data); err != nil {
		h.t.Fatalf("writing to session: %v", err)
	}
}

func (h *harness) expect(n int) []byte {
	h.t.Helper()
	_ = h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	out := make([]byte, n)
	if _, err := io.ReadFull(h.client, out); err != nil {
		h.t.Fatalf("reading %d bytes from session: %v", n, err)
	}
	return out
}

func (h *harness) expectClosed() {
	h.t.Helper()
	_ = h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	if n, err := h.client.Read(make([]byte, 1)); err != io.EOF {
		h.t.Fatalf("expected the session to close the connection, got %d bytes and %v", n, err)
	}
}

func openJS5(version uint32) []byte {
	return buffer.New().WriteUint8(packets.TitleJS5OpenType).WriteUint32(version).Bytes()
}

func TestJS5_EndToEnd(t *testing.T) {
	srv := testServer(t)
	table := []byte{0x00, 0x00, 0x00, 0x2A, 0xDE, 0xAD, 0xBE, 0xEF}
	group := []byte{0, 0, 0, 0, 3, 'a', 'b', 'c'}
	srv.Assets.(*fakeAssets).groups[[2]int{255, 255}] = table
	srv.Assets.(*fakeAssets).groups[[2]int{2, 10}] = group
	h := connect(t, srv)

	h.send(openJS5(578))
	if diff := cmp.Diff([]byte{byte(packets.JS5Success)}, h.expect(1)); diff != "" {
		t.Fatalf("unexpected open response; diff:\n%s", diff)
	}

	h.send([]byte{js5.TypePriorityRequest, 255, 0xFF, 0xFF})
	want := append([]byte{255, 0xFF, 0xFF}, table...)
	if diff := cmp.Diff(want, h.expect(len(want))); diff != "" {
		t.Errorf("unexpected checksum table; diff:\n%s", diff)
	}

	// A request split across two reads is answered once complete.
	h.send([]byte{js5.TypeRequest, 2})
	h.send([]byte{0, 10})
	want, err := js5.EncodeResponse(js5.Request{Type: js5.TypeRequest, Archive: 2, Group: 10}, group)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, h.expect(len(want))); diff != "" {
		t.Errorf("unexpected group response; diff:\n%s", diff)
	}
	if h.session.State() != StateJS5 {
		t.Errorf("State() = %s", h.session.State())
	}
}

func TestJS5_VersionMismatch(t *testing.T) {
	h := connect(t, testServer(t))

	h.send(openJS5(577))
	if diff := cmp.Diff([]byte{byte(packets.JS5OutOfDate)}, h.expect(1)); diff != "" {
		t.Errorf("unexpected response; diff:\n%s", diff)
	}
	h.expectClosed()
}

func TestJS5_FetchFailureClosesConnection(t *testing.T) {
	srv := testServer(t)
	srv.Assets = &fakeAssets{err: js5.ErrCollaboratorFailure}
	h := connect(t, srv)

	h.send(openJS5(578))
	h.expect(1)
	h.send([]byte{js5.TypeRequest, 2, 0, 1})
	h.expectClosed()
}

func TestJS5_LateResultIsDiscarded(t *testing.T) {
	srv := testServer(t)
	assets := &fakeAssets{
		groups:  map[[2]int][]byte{{2, 1}: {0, 0, 0, 0, 1, 'x'}},
		release: make(chan struct{}),
	}
	srv.Assets = assets

	conn := &recordingConn{}
	s := srv.NewSession(context.Background(), conn, "test")
	if err := s.Handle(openJS5(578)); err != nil {
		t.Fatal(err)
	}
	if err := s.Handle([]byte{js5.TypeRequest, 2, 0, 1}); err != nil {
		t.Fatal(err)
	}

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned before the fetch finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(assets.release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the fetch finished")
	}

	if diff := cmp.Diff([][]byte{{byte(packets.JS5Success)}}, conn.writes); diff != "" {
		t.Errorf("unexpected writes; diff:\n%s", diff)
	}
	if err := s.Handle([]byte{0}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

type recordingConn struct {
	mu     sync.Mutex
	writes [][]byte
}

func (c *recordingConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *recordingConn) Close() error { return nil }

func TestWorldList(t *testing.T) {
	srv := testServer(t)
	snapshot := srv.WorldList.Snapshot()

	tests := []struct {
		name     string
		checksum uint32
	}{
		{name: "stale checksum", checksum: snapshot.Checksum + 1},
		{name: "current checksum", checksum: snapshot.Checksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := connect(t, srv)
			h.send(buffer.New().WriteUint8(packets.TitleWorldListType).WriteUint32(tt.checksum).Bytes())

			want := append([]byte{packets.WorldListOK}, worldlist.EncodeUpdate(snapshot, tt.checksum)...)
			if diff := cmp.Diff(want, h.expect(len(want))); diff != "" {
				t.Errorf("unexpected world list; diff:\n%s", diff)
			}

			// Anything sent afterwards is ignored.
			h.send([]byte{1, 2, 3})
			if h.session.State() != StateWorldList {
				t.Errorf("State() = %s", h.session.State())
			}
		})
	}
}

func TestRegistrationRequests(t *testing.T) {
	srv := testServer(t)
	loginKey := generateKey(t)
	srv.LoginKey = loginKey
	h := connect(t, srv)

	h.send([]byte{packets.TitleLogProgressType, 14, 2, 0x07, 0xC6, 0, 77})
	h.expect(1)

	name := buffer.New().WriteUint8(packets.TitleCheckNameType).WriteUint64(text.EncodeBase37("zezima"))
	h.send(name.Bytes())
	h.expect(1)

	reg := &packets.Registration{
		Revision: 578,
		Username: "zezima",
		Password: "hunter2",
		Email:    "zezima@example.com",
		Year:     1990,
	}
	h.send(login.EncodeRegistration(reg, [4]uint32{1, 2, 3, 4}, loginKey.PublicKey()))
	if diff := cmp.Diff([]byte{packets.RegistrationOK}, h.expect(1)); diff != "" {
		t.Errorf("unexpected response; diff:\n%s", diff)
	}
	if h.session.State() != StateNew {
		t.Errorf("registration changed the state to %s", h.session.State())
	}
}

func TestUnknownOpcodeClosesConnection(t *testing.T) {
	h := connect(t, testServer(t))
	h.send([]byte{99})
	h.expectClosed()
}

func testLoginBlock(typ uint8) *packets.LoginBlock {
	return &packets.LoginBlock{
		Type:         typ,
		Revision:     578,
		WindowMode:   game.WindowModeResizable,
		CanvasWidth:  765,
		CanvasHeight: 503,
		Settings:     "settings",
		Credentials: packets.Credentials{
			Keys:     [4]uint32{1, 2, 3, 4},
			Username: "zezima",
			Password: "hunter2",
		},
	}
}

func handshake(h *harness) {
	h.t.Helper()
	h.send([]byte{packets.TitleLoginType, 0x1F})
	response := h.expect(9)
	if response[0] != byte(packets.LoginStatusExchangeKeys) {
		h.t.Fatalf("unexpected handshake status %d", response[0])
	}
	if h.session.State() != StateLogin {
		h.t.Fatalf("State() = %s", h.session.State())
	}
}

// waitForPlayers blocks until the World holds n players, so that a tick started
// afterwards is guaranteed to see them.
func waitForPlayers(t *testing.T, w *game.World, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for w.PlayerCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d players, have %d", n, w.PlayerCount())
		}
		time.Sleep(time.Millisecond)
	}
}

func generateKey(t *testing.T) *encryption.LoginKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return encryption.NewLoginKey(key)
}

func TestLogin_EndToEnd(t *testing.T) {
	srv := testServer(t)
	loginKey := generateKey(t)
	srv.LoginKey = loginKey
	h := connect(t, srv)
	handshake(h)

	request := login.EncodeLoginBlock(testLoginBlock(packets.LoginConnectType), loginKey.PublicKey())
	h.send(request[:40])
	h.send(request[40:])
	waitForPlayers(t, srv.World, 1)

	// The tick writes the login response followed by the first tick's packets.
	go srv.World.Tick()

	response := h.expect(12)
	want := []byte{byte(packets.LoginStatusOK), 0, 0, 0, 0, 0, 0, 0, 1, 0, 1}
	if diff := cmp.Diff(want, response[:11]); diff != "" {
		t.Errorf("unexpected login response; diff:\n%s", diff)
	}

	_, outbound := encryption.NewSessionCiphers([4]uint32{1, 2, 3, 4})
	if response[11] != outbound.Mask(packets.RebuildNormalType) {
		t.Errorf("first game opcode %d is not a masked rebuild", response[11])
	}

	if h.session.State() != StateGame {
		t.Errorf("State() = %s", h.session.State())
	}
	if p := h.session.Player(); p.Username != "zezima" || p.ID != 1 || p.WindowMode != game.WindowModeResizable {
		t.Errorf("unexpected player %+v", p)
	}

	// Closing the socket releases the slot.
	h.client.Close()
	<-h.done
	if srv.World.PlayerCount() != 0 {
		t.Errorf("player was not removed on disconnect")
	}
}

func TestGame_StalledClientIsDropped(t *testing.T) {
	srv := testServer(t)
	srv.WriteTimeout = 100 * time.Millisecond
	loginKey := generateKey(t)
	srv.LoginKey = loginKey

	// Nothing ever reads from this client.
	stalled := connect(t, srv)
	handshake(stalled)
	stalled.send(login.EncodeLoginBlock(testLoginBlock(packets.LoginConnectType), loginKey.PublicKey()))
	waitForPlayers(t, srv.World, 1)

	healthy := connect(t, srv)
	handshake(healthy)
	block := testLoginBlock(packets.LoginConnectType)
	block.Credentials.Username = "healthy"
	healthy.send(login.EncodeLoginBlock(block, loginKey.PublicKey()))
	waitForPlayers(t, srv.World, 2)

	var received atomic.Int64
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := healthy.client.Read(buf)
			received.Add(int64(n))
			if err != nil {
				return
			}
		}
	}()

	ticked := make(chan struct{})
	go func() {
		srv.World.Tick()
		close(ticked)
	}()
	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("tick blocked on a client that does not read")
	}

	// The stalled player's session notices the dropped connection and leaves.
	waitForPlayers(t, srv.World, 1)
	if ids := srv.World.Players(); len(ids) != 1 || ids[0] != healthy.session.Player().ID {
		t.Errorf("expected only the healthy player to remain, got %v", ids)
	}
	if received.Load() < 11 {
		t.Errorf("healthy player received %d bytes", received.Load())
	}
}

func TestLogin_Reconnect(t *testing.T) {
	srv := testServer(t)
	loginKey := generateKey(t)
	srv.LoginKey = loginKey
	h := connect(t, srv)
	handshake(h)

	h.send(login.EncodeLoginBlock(testLoginBlock(packets.LoginReconnectType), loginKey.PublicKey()))
	waitForPlayers(t, srv.World, 1)
	go srv.World.Tick()

	if diff := cmp.Diff([]byte{byte(packets.LoginStatusReconnected)}, h.expect(1)); diff != "" {
		t.Errorf("unexpected reconnect response; diff:\n%s", diff)
	}
	if !h.session.Player().Reconnecting {
		t.Error("player is not marked as reconnecting")
	}
}

func TestLogin_Failures(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		srv := testServer(t)
		srv.LoginKey = fakeDecrypter{plaintext: []byte{9, 0, 0, 0, 1}}
		h := connect(t, srv)
		handshake(h)

		h.send(login.EncodeLoginBlock(testLoginBlock(packets.LoginConnectType), generateKey(t).PublicKey()))
		h.expectClosed()
		if srv.World.PlayerCount() != 0 {
			t.Error("player was added")
		}
	})

	t.Run("unknown login type", func(t *testing.T) {
		h := connect(t, testServer(t))
		handshake(h)
		h.send([]byte{17, 0, 0})
		h.expectClosed()
	})

	t.Run("wrong revision", func(t *testing.T) {
		srv := testServer(t)
		loginKey := generateKey(t)
		srv.LoginKey = loginKey
		h := connect(t, srv)
		handshake(h)

		block := testLoginBlock(packets.LoginConnectType)
		block.Revision = 530
		h.send(login.EncodeLoginBlock(block, loginKey.PublicKey()))
		if diff := cmp.Diff([]byte{byte(packets.LoginStatusOutOfDate)}, h.expect(1)); diff != "" {
			t.Errorf("unexpected response; diff:\n%s", diff)
		}
		h.expectClosed()
	})

	t.Run("world full", func(t *testing.T) {
		srv := testServer(t)
		loginKey := generateKey(t)
		srv.LoginKey = loginKey
		for i := 0; i < 4; i++ {
			if err := srv.World.Register(game.NewPlayer("filler", 1), &recordingConn{}, nil, nil); err != nil {
				t.Fatal(err)
			}
		}
		h := connect(t, srv)
		handshake(h)

		h.send(login.EncodeLoginBlock(testLoginBlock(packets.LoginConnectType), loginKey.PublicKey()))
		if diff := cmp.Diff([]byte{byte(packets.LoginStatusWorldFull)}, h.expect(1)); diff != "" {
			t.Errorf("unexpected response; diff:\n%s", diff)
		}
		h.expectClosed()
	})
}

func TestLogin_ProtocolViolationIsWrapped(t *testing.T) {
	srv := testServer(t)
	srv.LoginKey = fakeDecrypter{plaintext: []byte{9}}
	s := srv.NewSession(context.Background(), &recordingConn{}, "test")
	if err := s.Handle([]byte{packets.TitleLoginType, 0}); err != nil {
		t.Fatal(err)
	}

	request := login.EncodeLoginBlock(testLoginBlock(packets.LoginConnectType), generateKey(t).PublicKey())
	err := s.Handle(request)
	if !errors.Is(err, ErrProtocolViolation) || !errors.Is(err, encryption.ErrDecryptFailure) {
		t.Errorf("expected a wrapped decrypt failure, got %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %s", s.State())
	}
}
