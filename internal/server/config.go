package server

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/Teresaloving/PlantQuest/internal/transport"
)

// Leaderboard build modes.
const (
	ModeReplay = "replay"
	ModeIndex  = "index"
)

// Storage types for published snapshots.
const (
	StorageNone  = "none"
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Config is the questboard service configuration.
type Config struct {
	Log         LogConfig         `toml:"log"`
	Chain       ChainConfig       `toml:"chain"`
	Leaderboard LeaderboardConfig `toml:"leaderboard"`
	Storage     StorageConfig     `toml:"storage"`
	Server      ServerConfig      `toml:"server"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ChainConfig struct {
	RPCURL      string `toml:"rpc_url"`
	ChainID     uint64 `toml:"chain_id"` // optional, checked against the node
	Deployments string `toml:"deployments"`
	FromBlock   uint64 `toml:"from_block"`
	BlockSpan   uint64 `toml:"block_span"`
}

type LeaderboardConfig struct {
	Mode            string   `toml:"mode"`
	RefreshInterval Duration `toml:"refresh_interval"`
	Concurrency     int      `toml:"concurrency"`
	IndexPath       string   `toml:"index_path"`
	ReorgDepth      uint64   `toml:"reorg_depth"` // index mode only
}

type StorageConfig struct {
	Type    string `toml:"type"`
	Dir     string `toml:"dir"`
	Bucket  string `toml:"bucket"`
	Region  string `toml:"region"`
	History int    `toml:"history"` // snapshots kept besides latest.json
}

type ServerConfig struct {
	Port         string `toml:"port"`
	RefreshToken string `toml:"refresh_token"` // bearer token for POST /api/refresh, empty for none
}

// Duration reads "30s"-style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() Config {
	return Config{
		Log:   LogConfig{Level: "info", Format: "text"},
		Chain: ChainConfig{RPCURL: transport.DefaultRPCURL, Deployments: "deployments"},
		Leaderboard: LeaderboardConfig{
			Mode:            ModeReplay,
			RefreshInterval: Duration{transport.DefaultRefreshInterval},
			Concurrency:     transport.DefaultDetailConcurrency,
			IndexPath:       "server_data/questboard.db",
			ReorgDepth:      transport.DefaultReorgDepth,
		},
		Storage: StorageConfig{Type: StorageNone, Dir: "server_data"},
		Server:  ServerConfig{Port: transport.DefaultServerPort},
	}
}

// LoadConfig reads path over the defaults, then applies .env and
// environment overrides. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to open config: %w", err)
		}
		defer file.Close()
		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	// Load .env file (optional)
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using config and env vars")
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	setString(&c.Log.Level, "QUESTBOARD_LOG_LEVEL")
	setString(&c.Log.Format, "QUESTBOARD_LOG_FORMAT")
	setString(&c.Chain.RPCURL, "QUESTBOARD_RPC_URL")
	setString(&c.Chain.Deployments, "QUESTBOARD_DEPLOYMENTS")
	setString(&c.Leaderboard.Mode, "QUESTBOARD_MODE")
	setString(&c.Leaderboard.IndexPath, "QUESTBOARD_INDEX_PATH")
	setString(&c.Server.Port, "QUESTBOARD_PORT", "PORT")
	setString(&c.Server.RefreshToken, "QUESTBOARD_REFRESH_TOKEN")
	setString(&c.Storage.Type, "STORAGE_TYPE")
	setString(&c.Storage.Dir, "DATA_DIR")
	setString(&c.Storage.Bucket, "AWS_BUCKET")
	setString(&c.Storage.Region, "AWS_REGION")

	if v := os.Getenv("QUESTBOARD_CHAIN_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("QUESTBOARD_CHAIN_ID: %w", err)
		}
		c.Chain.ChainID = id
	}
	if v := os.Getenv("QUESTBOARD_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("QUESTBOARD_REFRESH_INTERVAL: %w", err)
		}
		c.Leaderboard.RefreshInterval = Duration{d}
	}
	return nil
}

// Validate checks the settings that would otherwise fail late.
func (c Config) Validate() error {
	var errs []error
	switch c.Leaderboard.Mode {
	case ModeReplay:
	case ModeIndex:
		if c.Leaderboard.IndexPath == "" {
			errs = append(errs, errors.New("index_path required for index mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown leaderboard mode %q", c.Leaderboard.Mode))
	}
	switch c.Storage.Type {
	case "", StorageNone, StorageLocal:
	case StorageS3:
		if c.Storage.Bucket == "" {
			errs = append(errs, errors.New("AWS_BUCKET required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage type %q", c.Storage.Type))
	}
	if c.Chain.Deployments == "" {
		errs = append(errs, errors.New("deployments path required"))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address, adding the leading colon if missing.
func (s ServerConfig) Addr() string {
	port := s.Port
	if port == "" {
		port = transport.DefaultServerPort
	}
	if port[0] != ':' {
		port = ":" + port
	}
	return port
}
