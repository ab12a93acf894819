package js5

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/go-test/deep"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
)

func TestParseRequests(t *testing.T) {
	data := []byte{
		TypeRequest, 2, 0, 5,
		TypePriorityRequest, 255, 0xFF, 0xFF,
		TypeLoggedOut, 0, 0, 0,
		TypeEncryption, 0x12, 0x34, 0x56,
		TypeRequest, 7,
	}

	requests, rest := ParseRequests(data)

	want := []Request{
		{Type: TypeRequest, Archive: 2, Group: 5},
		{Type: TypePriorityRequest, Archive: 255, Group: 0xFFFF},
	}
	if diff := deep.Equal(want, requests); diff != nil {
		t.Error(diff)
	}
	if diff := cmp.Diff([]byte{TypeRequest, 7}, rest); diff != "" {
		t.Errorf("unexpected remainder; diff:\n%s", diff)
	}
	if !requests[1].Priority() || requests[0].Priority() {
		t.Error("Priority() reported the wrong request types")
	}

	requests, rest = ParseRequests(append(rest, 0, 9))
	if diff := deep.Equal([]Request{{Type: TypeRequest, Archive: 7, Group: 9}}, requests); diff != nil {
		t.Error(diff)
	}
	if len(rest) != 0 {
		t.Errorf("expected no remainder, got %v", rest)
	}
}

func TestEncodeResponse_MasterIndex(t *testing.T) {
	table := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01}
	got, err := EncodeResponse(Request{Type: TypeRequest, Archive: 255, Group: 255}, table)
	if err != nil {
		t.Fatal(err)
	}

	want := append([]byte{0xFF, 0x00, 0xFF}, table...)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected response; diff:\n%s", diff)
	}
}

func groupFile(compression byte, length int, payload int) []byte {
	file := []byte{compression, byte(length >> 24), byte(length >> 16), byte(length >> 8), byte(length)}
	for i := 0; i < payload; i++ {
		file = append(file, byte(i%251))
	}
	return file
}

func stripMarkers(t *testing.T, response []byte) []byte {
	t.Helper()
	var out []byte
	for i := 0; i < len(response); i++ {
		if i > 0 && i%chunkSize == 0 {
			if response[i] != chunkMarker {
				t.Fatalf("expected marker at offset %d, found %#x", i, response[i])
			}
			continue
		}
		out = append(out, response[i])
	}
	return out
}

func TestEncodeResponse_Group(t *testing.T) {
	tests := []struct {
		name         string
		req          Request
		compression  byte
		length       int
		wantSettings byte
		wantPayload  int
	}{
		{
			name:         "uncompressed request",
			req:          Request{Type: TypeRequest, Archive: 7, Group: 300},
			length:       1000,
			wantSettings: 0x80,
			wantPayload:  1000,
		},
		{
			name:         "compressed priority request",
			req:          Request{Type: TypePriorityRequest, Archive: 2, Group: 1},
			compression:  2,
			length:       1500,
			wantSettings: 2,
			wantPayload:  1504,
		},
		{
			name:         "fits before the first boundary",
			req:          Request{Type: TypeRequest, Archive: 0, Group: 0},
			length:       504,
			wantSettings: 0x80,
			wantPayload:  504,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := groupFile(tt.compression, tt.length, tt.wantPayload+3)
			got, err := EncodeResponse(tt.req, file)
			if err != nil {
				t.Fatal(err)
			}

			markers := 0
			if n := headerSize + tt.wantPayload; n > chunkSize {
				markers = 1 + (n-chunkSize-1)/(chunkSize-1)
			}
			if len(got) != headerSize+tt.wantPayload+markers {
				t.Fatalf("response is %d bytes, want %d", len(got), headerSize+tt.wantPayload+markers)
			}

			plain := stripMarkers(t, got)
			wantHeader := []byte{
				tt.req.Archive, byte(tt.req.Group >> 8), byte(tt.req.Group), tt.wantSettings,
				byte(tt.length >> 24), byte(tt.length >> 16), byte(tt.length >> 8), byte(tt.length),
			}
			if diff := cmp.Diff(wantHeader, plain[:headerSize]); diff != "" {
				t.Errorf("unexpected header; diff:\n%s", diff)
			}
			if !bytes.Equal(file[groupHeader:groupHeader+tt.wantPayload], plain[headerSize:]) {
				t.Error("payload was not forwarded verbatim")
			}
		})
	}
}

func TestEncodeResponse_Malformed(t *testing.T) {
	req := Request{Type: TypeRequest, Archive: 1, Group: 1}
	for _, file := range [][]byte{{0, 0}, groupFile(0, 100, 50)} {
		if _, err := EncodeResponse(req, file); !errors.Is(err, ErrCollaboratorFailure) {
			t.Errorf("expected ErrCollaboratorFailure, got %v", err)
		}
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger
}

func TestStore_ServesFromDisk(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "3"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "3", "14.dat"), []byte("group"), 0644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(StoreConfig{Dir: dir}, testLogger())
	got, err := store.FetchGroup(context.Background(), 3, 14)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "group" {
		t.Errorf("FetchGroup() = %q", got)
	}

	if _, err := store.FetchGroup(context.Background(), 3, 15); !errors.Is(err, ErrCollaboratorFailure) {
		t.Errorf("expected ErrCollaboratorFailure for a missing group, got %v", err)
	}
}

func TestStore_DownloadsOnce(t *testing.T) {
	dir := t.TempDir()
	var calls int32
	var lastSrc atomic.Value

	download := func(ctx context.Context, dst, src string) error {
		atomic.AddInt32(&calls, 1)
		lastSrc.Store(src)
		return os.WriteFile(dst, []byte("remote"), 0644)
	}
	store := NewStoreWithDownloader(StoreConfig{
		Dir:           dir,
		RemoteURL:     "https://example.com/archives/{archive}/groups/{group}.dat",
		MaxConcurrent: 2,
	}, download, testLogger())

	for i := 0; i < 3; i++ {
		got, err := store.FetchGroup(context.Background(), 5, 1234)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != "remote" {
			t.Errorf("FetchGroup() = %q", got)
		}
	}

	if calls != 1 {
		t.Errorf("expected 1 download, got %d", calls)
	}
	if got := lastSrc.Load(); got != "https://example.com/archives/5/groups/1234.dat" {
		t.Errorf("downloaded from %v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "5", "1234.dat")); err != nil {
		t.Errorf("downloaded group was not written to disk: %v", err)
	}
}

func TestStore_DownloadFailure(t *testing.T) {
	download := func(ctx context.Context, dst, src string) error {
		return errors.New("connection refused")
	}
	store := NewStoreWithDownloader(StoreConfig{
		Dir:       t.TempDir(),
		RemoteURL: "https://example.com/{archive}/{group}",
	}, download, testLogger())

	if _, err := store.FetchGroup(context.Background(), 1, 1); !errors.Is(err, ErrCollaboratorFailure) {
		t.Errorf("expected ErrCollaboratorFailure, got %v", err)
	}
}
