// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	izk "github.com/sorag20/Unirep/internal/zkproof"
	"github.com/sorag20/Unirep/pkg/unirep"
	"github.com/sorag20/Unirep/pkg/zkproof"
)

// Paths holds XDG-compliant paths for Unirep.
type Paths struct {
	ConfigDir     string // ~/.config/unirep
	DataDir       string // ~/.local/share/unirep
	Socket        string // ~/.local/share/unirep/synchronizer.sock
	CheckpointDir string // ~/.local/share/unirep/checkpoint
	EventDir      string // ~/.local/share/unirep/events
	UserStateDir  string // ~/.local/share/unirep/userstate
	IdentityPath  string // ~/.local/share/unirep/identity.key
}

// ExpandPath expands ~ to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
// Panics if home directory cannot be determined when ~ expansion is needed.
func ExpandPath(path string) string {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			panic(fmt.Sprintf("failed to get home directory: %v", err))
		}
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			panic(fmt.Sprintf("failed to get home directory: %v", err))
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultPaths returns the default XDG-compliant paths.
// Panics if the user's home directory cannot be determined.
func DefaultPaths() Paths {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Sprintf("failed to get home directory: %v", err))
	}
	configDir := filepath.Join(home, ".config", "unirep")
	dataDir := filepath.Join(home, ".local", "share", "unirep")

	return Paths{
		ConfigDir:     configDir,
		DataDir:       dataDir,
		Socket:        filepath.Join(dataDir, "synchronizer.sock"),
		CheckpointDir: filepath.Join(dataDir, "checkpoint"),
		EventDir:      filepath.Join(dataDir, "events"),
		UserStateDir:  filepath.Join(dataDir, "userstate"),
		IdentityPath:  filepath.Join(dataDir, "identity.key"),
	}
}

// EnsureDirectories creates config and data directories if they don't exist.
func (p Paths) EnsureDirectories() error {
	if err := os.MkdirAll(p.ConfigDir, 0700); err != nil {
		return err
	}
	return os.MkdirAll(p.DataDir, 0700)
}

// Config is the configuration shared by the synchronizer daemon and the CLI.
type Config struct {
	Circuit unirep.Config `toml:"circuit"`
	Storage StorageConfig `toml:"storage"`
	Ingest  IngestConfig  `toml:"ingest"`
	IPC     IPCConfig     `toml:"ipc"`
	Prover  ProverConfig  `toml:"prover"`
	Metrics MetricsConfig `toml:"metrics"`
}

// StorageConfig holds storage paths.
type StorageConfig struct {
	CheckpointDir string `toml:"checkpoint_dir"`
	UserStateDir  string `toml:"user_state_dir"`
	IdentityPath  string `toml:"identity_path"`
}

// IngestConfig holds event log settings.
type IngestConfig struct {
	EventDir  string `toml:"event_dir"`
	Extension string `toml:"extension"`
	// BufferSize is the capacity of the file event channel.
	BufferSize int `toml:"buffer_size"`
}

// IPCConfig holds the query socket settings.
type IPCConfig struct {
	Socket         string `toml:"socket"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ProverConfig holds proof service settings.
type ProverConfig struct {
	Enabled        bool     `toml:"enabled"`
	Workers        int      `toml:"workers"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	Precompile     []string `toml:"precompile"`
}

// MetricsConfig holds the Prometheus endpoint settings. An empty Listen
// disables the endpoint.
type MetricsConfig struct {
	Listen string `toml:"listen"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	paths := DefaultPaths()
	svc := izk.DefaultConfig()
	return Config{
		Circuit: unirep.DefaultConfig(),
		Storage: StorageConfig{
			CheckpointDir: paths.CheckpointDir,
			UserStateDir:  paths.UserStateDir,
			IdentityPath:  paths.IdentityPath,
		},
		Ingest: IngestConfig{
			EventDir:   paths.EventDir,
			Extension:  ".jsonl",
			BufferSize: 100,
		},
		IPC: IPCConfig{
			Socket:         paths.Socket,
			TimeoutSeconds: 5,
		},
		Prover: ProverConfig{
			Enabled:        svc.Enabled,
			Workers:        svc.ProverWorkers,
			TimeoutSeconds: int(svc.ProofTimeout / time.Second),
		},
		Metrics: MetricsConfig{
			Listen: "127.0.0.1:9464",
		},
	}
}

// Load loads a Config from a TOML file over the defaults.
// Paths with ~ are expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	cfg.expand()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads path when it exists and returns the defaults
// otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		return &cfg, nil
	}
	return Load(path)
}

func (c *Config) expand() {
	c.Storage.CheckpointDir = ExpandPath(c.Storage.CheckpointDir)
	c.Storage.UserStateDir = ExpandPath(c.Storage.UserStateDir)
	c.Storage.IdentityPath = ExpandPath(c.Storage.IdentityPath)
	c.Ingest.EventDir = ExpandPath(c.Ingest.EventDir)
	c.IPC.Socket = ExpandPath(c.IPC.Socket)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Circuit.Validate(); err != nil {
		return fmt.Errorf("[circuit]: %w", err)
	}
	if _, err := c.Prover.ServiceConfig(); err != nil {
		return fmt.Errorf("[prover]: %w", err)
	}
	if c.Ingest.BufferSize <= 0 {
		return fmt.Errorf("[ingest]: buffer_size must be positive")
	}
	if c.IPC.TimeoutSeconds <= 0 {
		return fmt.Errorf("[ipc]: timeout_seconds must be positive")
	}
	return nil
}

// IPCTimeout returns the per-call query timeout.
func (c IPCConfig) IPCTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ServiceConfig converts the [prover] section into a proof service config.
func (p ProverConfig) ServiceConfig() (izk.Config, error) {
	cfg := izk.Config{
		Enabled:       p.Enabled,
		ProofTimeout:  time.Duration(p.TimeoutSeconds) * time.Second,
		ProverWorkers: p.Workers,
	}
	for _, name := range p.Precompile {
		id, err := zkproof.ParseCircuitID(name)
		if err != nil {
			return izk.Config{}, err
		}
		cfg.Precompile = append(cfg.Precompile, id)
	}
	return cfg, cfg.Validate()
}
