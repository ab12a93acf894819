package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to any of the
// server's components.
type Config struct {
	// Hostname or IP address on which the server will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Port shared by the update, world list, and game protocols.
	Port int `mapstructure:"port"`
	// Maximum number of concurrent connections the server will allow.
	MaxConnections int `mapstructure:"max_connections"`
	// Connections that send nothing for this long are dropped.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// Build number the client must report when opening the update protocol.
	ClientVersion uint32 `mapstructure:"client_version"`

	Logging struct {
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
		// Minimum level of a log required to be written. Options: debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
		// Include the file and line number of the caller in log lines.
		IncludeCaller bool `mapstructure:"include_caller"`
	} `mapstructure:"logging"`

	RSA struct {
		// PEM encoded private key used to unwrap login and registration blocks.
		PrivateKeyFile string `mapstructure:"private_key_file"`
	} `mapstructure:"rsa"`

	World struct {
		// ID of this world in the world directory.
		ID int `mapstructure:"id"`
		// Size of the player slot table, at most 2047. Slot 0 is never handed out.
		MaxPlayers int `mapstructure:"max_players"`
		// Target interval between the start of two consecutive ticks.
		TickRate time.Duration `mapstructure:"tick_rate"`
		// Bytes of inbound (and outbound) arena reserved for each player per tick.
		SessionBufferSize int `mapstructure:"session_buffer_size"`
		// Where new players are placed.
		Spawn struct {
			X     int `mapstructure:"x"`
			Z     int `mapstructure:"z"`
			Plane int `mapstructure:"plane"`
		} `mapstructure:"spawn"`
		// Optional JSON file of mapsquare keys sent with map rebuilds.
		MapKeysFile string `mapstructure:"map_keys_file"`
		// Where to download MapKeysFile from if it does not exist yet.
		MapKeysURL string `mapstructure:"map_keys_url"`
		// Hostname other clients are told to connect to in the world list.
		PublicHostname string `mapstructure:"public_hostname"`
		// How often the world list is reloaded and this world's player count published.
		DirectoryRefresh time.Duration `mapstructure:"directory_refresh"`
	} `mapstructure:"world"`

	JS5 struct {
		// Directory in which fetched groups are stored as <archive>/<group>.dat.
		CacheDir string `mapstructure:"cache_dir"`
		// URL template for groups missing from CacheDir. {archive} and {group} are substituted.
		RemoteURL string `mapstructure:"remote_url"`
		// How long a group stays in memory after it was last loaded.
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
		// Upper bound on the number of groups being loaded at once across all clients.
		MaxConcurrentFetches int `mapstructure:"max_concurrent_fetches"`
	} `mapstructure:"js5"`

	Database struct {
		// Either "sqlite" or "postgres".
		Engine string `mapstructure:"engine"`
		// Database file used by the sqlite engine.
		Filename string `mapstructure:"filename"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on db_host on which the Postgres instance is accepting connections.
		Port int `mapstructure:"port"`
		// Name of the database in Postgres.
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to ${db_name}.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Network struct {
		// New connections allowed per second from a single IP address.
		AcceptRate float64 `mapstructure:"accept_rate"`
		// Number of connections an IP address may open in a burst.
		AcceptBurst int `mapstructure:"accept_burst"`
		// Longest a tick may wait on a write to one player before dropping it.
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"network"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		Enabled bool `mapstructure:"enabled"`
		// Port on which a pprof server will be started if debug mode is enabled.
		PprofPort int `mapstructure:"pprof_port"`
		// Log packets to the configured logger.
		PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "LODESTONE"

// maxPlayers is the highest player id the client can index.
const maxPlayers = 2047

func setDefaults(v *viper.Viper) {
	v.SetDefault("hostname", "0.0.0.0")
	v.SetDefault("port", 43594)
	v.SetDefault("max_connections", 4096)
	v.SetDefault("idle_timeout", 30*time.Second)
	v.SetDefault("client_version", 578)
	v.SetDefault("logging.log_level", "info")
	v.SetDefault("rsa.private_key_file", "rsa.pem")
	v.SetDefault("world.id", 1)
	v.SetDefault("world.max_players", 2047)
	v.SetDefault("world.tick_rate", 600*time.Millisecond)
	v.SetDefault("world.session_buffer_size", 30000)
	v.SetDefault("world.spawn.x", 3213)
	v.SetDefault("world.spawn.z", 3433)
	v.SetDefault("world.public_hostname", "127.0.0.1")
	v.SetDefault("world.directory_refresh", 30*time.Second)
	v.SetDefault("js5.cache_dir", "data/cache")
	v.SetDefault("js5.cache_ttl", 10*time.Minute)
	v.SetDefault("js5.max_concurrent_fetches", 16)
	v.SetDefault("database.engine", "sqlite")
	v.SetDefault("database.filename", "lodestone.db")
	v.SetDefault("network.accept_rate", 5)
	v.SetDefault("network.accept_burst", 10)
	v.SetDefault("network.write_timeout", 200*time.Millisecond)
	v.SetDefault("debugging.pprof_port", 4000)
}

// LoadConfig reads config.yaml from configPath, applies any LODESTONE_* environment
// overrides, and returns the populated Config.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("no config file in path %s", configPath)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: <envVarPrefix>_DATABASE_HOST
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unmarshaling config object: %w", err)
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.World.MaxPlayers < 1 || c.World.MaxPlayers > maxPlayers {
		return fmt.Errorf("world.max_players must be between 1 and %d, got %d", maxPlayers, c.World.MaxPlayers)
	}
	return nil
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a database URL generated from the provided config values.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}

// ListenAddress returns the host:port pair the frontend binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}
