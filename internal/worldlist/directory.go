package worldlist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/lodestone/internal/core/data"
)

// Directory keeps the current Snapshot of the world directory database.
type Directory struct {
	db     *gorm.DB
	logger *logrus.Logger

	mu       sync.RWMutex
	snapshot *Snapshot
}

// NewDirectory returns a Directory with an empty snapshot. Call Refresh to load it.
func NewDirectory(db *gorm.DB, logger *logrus.Logger) *Directory {
	return &Directory{
		db:       db,
		logger:   logger,
		snapshot: NewSnapshot(nil, nil),
	}
}

// Snapshot returns the most recently loaded world list.
func (d *Directory) Snapshot() *Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot
}

// Refresh reloads the world list from the database.
func (d *Directory) Refresh() error {
	countries, err := data.FindCountries(d.db)
	if err != nil {
		return fmt.Errorf("loading countries: %w", err)
	}
	worlds, err := data.FindWorlds(d.db)
	if err != nil {
		return fmt.Errorf("loading worlds: %w", err)
	}

	snapshot := NewSnapshot(countries, worlds)

	d.mu.Lock()
	changed := snapshot.Checksum != d.snapshot.Checksum
	d.snapshot = snapshot
	d.mu.Unlock()

	if changed {
		d.logger.WithFields(logrus.Fields{
			"worlds":   len(worlds),
			"checksum": fmt.Sprintf("%08x", snapshot.Checksum),
		}).Info("loaded world list")
	}
	return nil
}

// SetPlayers records the player count of a world served by this process, both in
// the current snapshot and in the database.
func (d *Directory) SetPlayers(id, players int) error {
	d.mu.Lock()
	d.snapshot = d.snapshot.WithPlayers(id, players)
	d.mu.Unlock()

	if err := data.UpdatePlayerCount(d.db, id, players); err != nil {
		return fmt.Errorf("updating player count of world %d: %w", id, err)
	}
	return nil
}

// Run refreshes the directory every interval until ctx is cancelled. counts is
// called first on each pass to publish the local world's player count.
func (d *Directory) Run(ctx context.Context, interval time.Duration, worldID int, counts func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.SetPlayers(worldID, counts()); err != nil {
				d.logger.Warn(err)
			}
			if err := d.Refresh(); err != nil {
				d.logger.Errorf("error refreshing world list: %v", err)
			}
		}
	}
}
