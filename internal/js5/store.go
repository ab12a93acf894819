package js5

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	getter "github.com/hashicorp/go-getter"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Fetcher loads the raw bytes of a group. Implementations may block on I/O and
// must be safe for concurrent use.
type Fetcher interface {
	FetchGroup(ctx context.Context, archive uint8, group uint16) ([]byte, error)
}

// DownloadFunc copies the resource at src into the file dst.
type DownloadFunc func(ctx context.Context, dst, src string) error

// Download fetches src with go-getter, which understands plain HTTP(S) URLs as
// well as the other sources it supports (s3::, gcs::, file paths).
func Download(ctx context.Context, dst, src string) error {
	return getter.GetFile(dst, src, getter.WithContext(ctx))
}

// StoreConfig holds the parameters of a Store.
type StoreConfig struct {
	// Directory holding <archive>/<group>.dat files.
	Dir string
	// URL template with {archive} and {group} placeholders. Empty disables downloads.
	RemoteURL string
	// How long a loaded group stays in memory.
	TTL time.Duration
	// Maximum number of groups being loaded at once.
	MaxConcurrent int
}

// Store serves groups from memory, then from disk, then from the remote source.
// Downloaded groups are written to disk so they are only downloaded once.
type Store struct {
	cfg      StoreConfig
	cache    *gocache.Cache
	sem      chan struct{}
	download DownloadFunc
	logger   *logrus.Logger
}

// NewStore returns a Store that downloads missing groups with Download.
func NewStore(cfg StoreConfig, logger *logrus.Logger) *Store {
	return NewStoreWithDownloader(cfg, Download, logger)
}

// NewStoreWithDownloader returns a Store that uses download for missing groups.
func NewStoreWithDownloader(cfg StoreConfig, download DownloadFunc, logger *logrus.Logger) *Store {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Store{
		cfg:      cfg,
		cache:    gocache.New(ttl, time.Minute),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		download: download,
		logger:   logger,
	}
}

func cacheKey(archive uint8, group uint16) string {
	return strconv.Itoa(int(archive)) + "/" + strconv.Itoa(int(group))
}

func (s *Store) groupPath(archive uint8, group uint16) string {
	return filepath.Join(s.cfg.Dir, strconv.Itoa(int(archive)), strconv.Itoa(int(group))+".dat")
}

func (s *Store) remoteURL(archive uint8, group uint16) string {
	return strings.NewReplacer(
		"{archive}", strconv.Itoa(int(archive)),
		"{group}", strconv.Itoa(int(group)),
	).Replace(s.cfg.RemoteURL)
}

// FetchGroup returns the contents of archive/group. Every error wraps ErrCollaboratorFailure.
func (s *Store) FetchGroup(ctx context.Context, archive uint8, group uint16) ([]byte, error) {
	key := cacheKey(archive, group)
	if v, ok := s.cache.Get(key); ok {
		return v.([]byte), nil
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrCollaboratorFailure, ctx.Err())
	}

	data, err := s.load(ctx, archive, group)
	if err != nil {
		return nil, fmt.Errorf("%w: group %s: %v", ErrCollaboratorFailure, key, err)
	}
	s.cache.SetDefault(key, data)
	return data, nil
}

func (s *Store) load(ctx context.Context, archive uint8, group uint16) ([]byte, error) {
	path := s.groupPath(archive, group)
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if s.cfg.RemoteURL == "" {
		return nil, fmt.Errorf("%s not found and no remote source configured", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	// Concurrent loads of the same group must never observe a partial file.
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	src := s.remoteURL(archive, group)
	start := time.Now()
	if err := s.download(ctx, tmpPath, src); err != nil {
		return nil, fmt.Errorf("downloading %s: %w", src, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"archive": archive,
		"group":   group,
		"elapsed": time.Since(start),
	}).Debug("downloaded group")

	return os.ReadFile(path)
}
