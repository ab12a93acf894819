package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/lodestone/internal/core"
	"github.com/dcrodman/lodestone/internal/core/data"
	"github.com/dcrodman/lodestone/internal/core/debug"
	"github.com/dcrodman/lodestone/internal/encryption"
	"github.com/dcrodman/lodestone/internal/game"
	"github.com/dcrodman/lodestone/internal/js5"
	"github.com/dcrodman/lodestone/internal/session"
	"github.com/dcrodman/lodestone/internal/worldlist"
)

// Controller is the main entrypoint for lodestone. It's responsible for initializing
// the shared resources (database, logging, world state), wiring them into the
// frontend, and running everything until the context is cancelled.
type Controller struct {
	Config *core.Config

	logger *logrus.Logger
	wg     sync.WaitGroup

	db        *gorm.DB
	directory *worldlist.Directory
	world     *game.World
	frontend  *frontend
}

// Start blocks until ctx is cancelled or one of the components fails to start.
func (c *Controller) Start(ctx context.Context) error {
	var err error
	// Set up the logger, which will be used by every component.
	c.logger, err = core.NewLogger(c.Config)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.Enabled {
		debug.StartPprofServer(c.logger, c.Config.Debugging.PprofPort)
	}

	if err := c.openDirectory(); err != nil {
		return err
	}
	defer c.Shutdown()

	srv, err := c.declareServer(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.frontend = &frontend{
		Address: c.Config.ListenAddress(),
		Server:  srv,
		Config:  c.Config,
		Logger:  c.logger,
	}
	if err := c.frontend.Start(ctx, &c.wg); err != nil {
		return fmt.Errorf("error starting frontend: %w", err)
	}

	c.run(ctx)
	c.wg.Wait()
	return ctx.Err()
}

// openDirectory connects to the world directory database, makes sure this world is
// listed in it, and loads the first snapshot.
func (c *Controller) openDirectory() error {
	dataSource := c.Config.DatabaseURL()
	if c.Config.Database.Engine == data.EngineSQLite {
		dataSource = c.Config.Database.Filename
	}

	var err error
	c.db, err = data.Initialize(c.Config.Database.Engine, dataSource, c.Config.Debugging.DatabaseLoggingEnabled)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}

	if err := data.SeedDefaults(c.db, c.Config.World.ID, c.Config.World.PublicHostname, c.Config.Port); err != nil {
		return fmt.Errorf("error seeding world directory: %w", err)
	}

	c.directory = worldlist.NewDirectory(c.db, c.logger)
	if err := c.directory.Refresh(); err != nil {
		return fmt.Errorf("error loading world list: %w", err)
	}
	return nil
}

// declareServer builds the World and the collaborators every session shares.
func (c *Controller) declareServer(ctx context.Context) (*session.Server, error) {
	key, err := encryption.LoadLoginKey(c.Config.RSA.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("error loading login key: %w", err)
	}

	mapKeys, err := c.loadMapKeys(ctx)
	if err != nil {
		return nil, err
	}

	spawn := game.Position{
		X:     c.Config.World.Spawn.X,
		Z:     c.Config.World.Spawn.Z,
		Plane: c.Config.World.Spawn.Plane,
	}
	if !spawn.Valid() {
		return nil, fmt.Errorf("invalid spawn position %s", spawn)
	}

	c.world = game.NewWorld(game.Config{
		Capacity:      c.Config.World.MaxPlayers,
		BufferSize:    c.Config.World.SessionBufferSize,
		Spawn:         spawn,
		MapKeys:       mapKeys,
		PacketLogging: c.Config.Debugging.PacketLoggingEnabled,
	}, c.logger)

	assets := js5.NewStore(js5.StoreConfig{
		Dir:           c.Config.JS5.CacheDir,
		RemoteURL:     c.Config.JS5.RemoteURL,
		TTL:           c.Config.JS5.CacheTTL,
		MaxConcurrent: c.Config.JS5.MaxConcurrentFetches,
	}, c.logger)

	return &session.Server{
		ClientVersion: c.Config.ClientVersion,
		Assets:        assets,
		WorldList:     c.directory,
		LoginKey:      key,
		World:         c.world,
		Logger:        c.logger,
		PacketLogging: c.Config.Debugging.PacketLoggingEnabled,
		WriteTimeout:  c.Config.Network.WriteTimeout,
	}, nil
}

// loadMapKeys reads the configured map key file, downloading it first if it is
// missing and a URL is configured. Without a file every map square gets zero keys.
func (c *Controller) loadMapKeys(ctx context.Context) (game.MapKeys, error) {
	path := c.Config.World.MapKeysFile
	if path == "" {
		c.logger.Warn("no map keys configured, sending zero keys")
		return nil, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && c.Config.World.MapKeysURL != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("error creating map keys directory: %w", err)
		}
		c.logger.Infof("downloading map keys from %s", c.Config.World.MapKeysURL)
		if err := js5.Download(ctx, path, c.Config.World.MapKeysURL); err != nil {
			return nil, fmt.Errorf("error downloading map keys: %w", err)
		}
	}

	keys, err := game.LoadMapKeys(path)
	if err != nil {
		return nil, err
	}
	c.logger.Infof("loaded keys for %d map squares", len(keys))
	return keys, nil
}

// run starts the background loops: the world tick and the directory refresh.
func (c *Controller) run(ctx context.Context) {
	loop := &game.TickLoop{
		World:  c.world,
		Rate:   c.Config.World.TickRate,
		Logger: c.logger,
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		if err := loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Errorf("tick loop stopped: %v", err)
		}
	}()
	go func() {
		defer c.wg.Done()
		c.directory.Run(ctx, c.Config.World.DirectoryRefresh, c.Config.World.ID, c.world.PlayerCount)
	}()
}

// Shutdown releases the database once every component has stopped.
func (c *Controller) Shutdown() {
	c.wg.Wait()
	if c.directory != nil {
		if err := c.directory.SetPlayers(c.Config.World.ID, 0); err != nil {
			c.logger.Warn(err)
		}
	}
	if err := data.Shutdown(c.db); err != nil {
		c.logger.Errorf("error closing database: %v", err)
	}
}
