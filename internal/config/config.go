// Package config loads amanmem configuration.
//
// Values are applied in order of increasing precedence:
//  1. Hardcoded defaults (NewConfig)
//  2. User config ($XDG_CONFIG_HOME/amanmem/config.yaml)
//  3. Explicit file passed to Load, or .amanmem.yaml in the working directory
//  4. Environment variables (AMANMEM_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Embedding modes. The mode is part of every collection name.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Remote embedding providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config represents the complete amanmem configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	State      StateConfig      `yaml:"state" json:"state"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Lanes      LanesConfig      `yaml:"lanes" json:"lanes"`
	Ingest     IngestConfig     `yaml:"ingest" json:"ingest"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
}

// PathsConfig configures where transcripts are read from and where data lives.
type PathsConfig struct {
	// Sources are the root directories scanned for *.jsonl transcripts.
	Sources []string `yaml:"sources" json:"sources"`
	// AllowedRoots bound every path recorded in state. Defaults to Sources.
	AllowedRoots []string `yaml:"allowed_roots" json:"allowed_roots"`
	// DataDir holds state.json, the vector store and telemetry.
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// StateConfig configures the state store and its lease.
type StateConfig struct {
	// Locker selects the lease backend: "file" (cross-process) or "memory".
	Locker         string        `yaml:"locker" json:"locker"`
	LockTimeout    time.Duration `yaml:"lock_timeout" json:"lock_timeout"`
	LeaseTTL       time.Duration `yaml:"lease_ttl" json:"lease_ttl"`
	RetentionDays  int           `yaml:"retention_days" json:"retention_days"`
	RecoverCorrupt bool          `yaml:"recover_corrupt" json:"recover_corrupt"`
}

// EmbeddingsConfig configures both embedding modes.
type EmbeddingsConfig struct {
	Mode            string       `yaml:"mode" json:"mode"`
	LocalDimensions int          `yaml:"local_dimensions" json:"local_dimensions"`
	BatchSize       int          `yaml:"batch_size" json:"batch_size"`
	QueryCacheSize  int          `yaml:"query_cache_size" json:"query_cache_size"`
	Remote          RemoteConfig `yaml:"remote" json:"remote"`
}

// RemoteConfig configures the remote embedding service.
type RemoteConfig struct {
	Provider string `yaml:"provider" json:"provider"`
	Host     string `yaml:"host" json:"host"`
	Model    string `yaml:"model" json:"model"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
	// Dimensions requested from the provider. 0 auto-detects (ollama only).
	Dimensions int           `yaml:"dimensions" json:"dimensions"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
}

// LaneConfig configures one ingestion lane.
type LaneConfig struct {
	// MaxAge is the newest-to-oldest boundary for files in this lane.
	// Ignored for the cold lane, which takes everything older than warm.
	MaxAge       time.Duration `yaml:"max_age" json:"max_age"`
	Workers      int           `yaml:"workers" json:"workers"`
	InFlight     int           `yaml:"in_flight" json:"in_flight"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
	Batch        int           `yaml:"batch" json:"batch"`
}

// LanesConfig groups the hot, warm and cold lanes.
type LanesConfig struct {
	Hot  LaneConfig `yaml:"hot" json:"hot"`
	Warm LaneConfig `yaml:"warm" json:"warm"`
	Cold LaneConfig `yaml:"cold" json:"cold"`
}

// IngestConfig configures parsing, chunking and per-file retry.
type IngestConfig struct {
	Pattern          string        `yaml:"pattern" json:"pattern"`
	MaxChunkChars    int           `yaml:"max_chunk_chars" json:"max_chunk_chars"`
	MaxChunkMessages int           `yaml:"max_chunk_messages" json:"max_chunk_messages"`
	IncludeSystem    bool          `yaml:"include_system" json:"include_system"`
	MaxAttempts      int           `yaml:"max_attempts" json:"max_attempts"`
	RetryBackoff     time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max" json:"retry_backoff_max"`
}

// SearchConfig configures the search orchestrator.
type SearchConfig struct {
	// HalfLife is the age at which a hit's score is halved.
	HalfLife          time.Duration `yaml:"half_life" json:"half_life"`
	Concurrency       int           `yaml:"concurrency" json:"concurrency"`
	CollectionTimeout time.Duration `yaml:"collection_timeout" json:"collection_timeout"`
	DefaultLimit      int           `yaml:"default_limit" json:"default_limit"`
	MaxLimit          int           `yaml:"max_limit" json:"max_limit"`
	MinScore          float64       `yaml:"min_score" json:"min_score"`
}

// Vector store backends.
const (
	// BackendSQLite is shared safely by concurrent processes.
	BackendSQLite = "sqlite"
	// BackendBadger holds an exclusive lock on its directory, so only one
	// process at a time can open it.
	BackendBadger = "badger"
)

// VectorConfig selects the local vector store backend.
type VectorConfig struct {
	Backend string `yaml:"backend" json:"backend"`
}

// ServerConfig configures process-level behavior.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// TelemetryConfig configures the local search metrics store.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// NewConfig returns a configuration with all defaults applied.
func NewConfig() *Config {
	sources := []string{filepath.Join(homeDir(), ".claude", "projects")}
	return &Config{
		Version: 1,
		Paths: PathsConfig{
			Sources: sources,
			DataDir: filepath.Join(homeDir(), ".amanmem"),
		},
		State: StateConfig{
			Locker:      "file",
			LockTimeout: 5 * time.Second,
			LeaseTTL:    30 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Mode:            ModeLocal,
			LocalDimensions: 384,
			BatchSize:       32,
			QueryCacheSize:  256,
			Remote: RemoteConfig{
				Provider:  ProviderOllama,
				Host:      "http://localhost:11434",
				Model:     "nomic-embed-text",
				APIKeyEnv: "OPENAI_API_KEY",
				Timeout:   60 * time.Second,
			},
		},
		Lanes: LanesConfig{
			Hot:  LaneConfig{MaxAge: 5 * time.Minute, Workers: 2, InFlight: 4, PollInterval: 15 * time.Second, Batch: 20},
			Warm: LaneConfig{MaxAge: 24 * time.Hour, Workers: 2, InFlight: 2, PollInterval: 2 * time.Minute, Batch: 20},
			Cold: LaneConfig{Workers: 1, InFlight: 1, PollInterval: 10 * time.Minute, Batch: 50},
		},
		Ingest: IngestConfig{
			Pattern:          "*.jsonl",
			MaxChunkChars:    3000,
			MaxChunkMessages: 10,
			MaxAttempts:      3,
			RetryBackoff:     30 * time.Second,
			RetryBackoffMax:  30 * time.Minute,
		},
		Search: SearchConfig{
			HalfLife:          90 * 24 * time.Hour,
			Concurrency:       4,
			CollectionTimeout: 2 * time.Second,
			DefaultLimit:      5,
			MaxLimit:          100,
		},
		Vector:    VectorConfig{Backend: BackendSQLite},
		Server:    ServerConfig{LogLevel: "info"},
		Telemetry: TelemetryConfig{Enabled: true},
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return home
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/amanmem/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/amanmem/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "amanmem", "config.yaml")
	}
	return filepath.Join(homeDir(), ".config", "amanmem", "config.yaml")
}

// Load builds the effective configuration. explicit may be empty, in which
// case .amanmem.yaml in the working directory is used if present.
func Load(explicit string) (*Config, error) {
	cfg := NewConfig()

	if userPath := GetUserConfigPath(); fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	projectPath := explicit
	if projectPath == "" && fileExists(".amanmem.yaml") {
		projectPath = ".amanmem.yaml"
	}
	if projectPath != "" {
		if err := cfg.loadYAML(projectPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML decodes path on top of the current values, so keys the file
// leaves out keep whatever an earlier layer set.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("AMANMEM_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("AMANMEM_SOURCES"); v != "" {
		c.Paths.Sources = filepath.SplitList(v)
	}
	if v := os.Getenv("AMANMEM_EMBEDDING_MODE"); v != "" {
		c.Embeddings.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("AMANMEM_REMOTE_PROVIDER"); v != "" {
		c.Embeddings.Remote.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("AMANMEM_REMOTE_HOST"); v != "" {
		c.Embeddings.Remote.Host = v
	}
	if v := os.Getenv("AMANMEM_REMOTE_MODEL"); v != "" {
		c.Embeddings.Remote.Model = v
	}
	if v := os.Getenv("AMANMEM_VECTOR_BACKEND"); v != "" {
		c.Vector.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("AMANMEM_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	durations := map[string]*time.Duration{
		"AMANMEM_LOCK_TIMEOUT": &c.State.LockTimeout,
		"AMANMEM_HALF_LIFE":    &c.Search.HalfLife,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	if v := os.Getenv("AMANMEM_RETENTION_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AMANMEM_RETENTION_DAYS: %w", err)
		}
		c.State.RetentionDays = n
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Paths.DataDir = expandHome(c.Paths.DataDir)
	for i, s := range c.Paths.Sources {
		c.Paths.Sources[i] = expandHome(s)
	}
	for i, s := range c.Paths.AllowedRoots {
		c.Paths.AllowedRoots[i] = expandHome(s)
	}
}

func expandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}

// Roots returns the allow-listed roots, falling back to the sources.
func (c *Config) Roots() []string {
	if len(c.Paths.AllowedRoots) > 0 {
		return c.Paths.AllowedRoots
	}
	return c.Paths.Sources
}

// StatePath is the location of the state document.
func (c *Config) StatePath() string {
	return filepath.Join(c.Paths.DataDir, "state.json")
}

// VectorPath is the directory of the local vector store. Each backend keeps
// its own files inside it.
func (c *Config) VectorPath() string {
	return filepath.Join(c.Paths.DataDir, "vectors")
}

// TelemetryPath is the location of the search metrics database.
func (c *Config) TelemetryPath() string {
	return filepath.Join(c.Paths.DataDir, "telemetry.db")
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Paths.DataDir == "" {
		return fmt.Errorf("paths.data_dir must be set")
	}
	if len(c.Paths.Sources) == 0 {
		return fmt.Errorf("paths.sources must list at least one directory")
	}

	if err := ValidateMode(c.Embeddings.Mode); err != nil {
		return err
	}
	switch c.Embeddings.Remote.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("embeddings.remote.provider must be 'ollama' or 'openai', got %s", c.Embeddings.Remote.Provider)
	}
	if c.Embeddings.LocalDimensions <= 0 {
		return fmt.Errorf("embeddings.local_dimensions must be positive, got %d", c.Embeddings.LocalDimensions)
	}
	if c.Embeddings.Remote.Dimensions < 0 {
		return fmt.Errorf("embeddings.remote.dimensions must be non-negative, got %d", c.Embeddings.Remote.Dimensions)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}

	switch c.State.Locker {
	case "file", "memory":
	default:
		return fmt.Errorf("state.locker must be 'file' or 'memory', got %s", c.State.Locker)
	}
	if c.State.LockTimeout <= 0 || c.State.LeaseTTL <= 0 {
		return fmt.Errorf("state.lock_timeout and state.lease_ttl must be positive")
	}
	if c.State.RetentionDays < 0 {
		return fmt.Errorf("state.retention_days must be non-negative, got %d", c.State.RetentionDays)
	}

	if c.Lanes.Hot.MaxAge <= 0 || c.Lanes.Warm.MaxAge <= c.Lanes.Hot.MaxAge {
		return fmt.Errorf("lanes: need 0 < hot.max_age < warm.max_age, got %s and %s", c.Lanes.Hot.MaxAge, c.Lanes.Warm.MaxAge)
	}
	for name, lane := range map[string]LaneConfig{"hot": c.Lanes.Hot, "warm": c.Lanes.Warm, "cold": c.Lanes.Cold} {
		if lane.Workers <= 0 || lane.InFlight <= 0 || lane.Batch <= 0 || lane.PollInterval <= 0 {
			return fmt.Errorf("lanes.%s: workers, in_flight, batch and poll_interval must be positive", name)
		}
	}

	if c.Ingest.MaxChunkChars <= 0 || c.Ingest.MaxChunkMessages <= 0 {
		return fmt.Errorf("ingest.max_chunk_chars and ingest.max_chunk_messages must be positive")
	}
	if c.Ingest.MaxAttempts <= 0 {
		return fmt.Errorf("ingest.max_attempts must be positive, got %d", c.Ingest.MaxAttempts)
	}

	if c.Search.HalfLife <= 0 {
		return fmt.Errorf("search.half_life must be positive, got %s", c.Search.HalfLife)
	}
	if c.Search.Concurrency <= 0 || c.Search.CollectionTimeout <= 0 {
		return fmt.Errorf("search.concurrency and search.collection_timeout must be positive")
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit < c.Search.DefaultLimit {
		return fmt.Errorf("search: need 0 < default_limit <= max_limit")
	}

	switch c.Vector.Backend {
	case BackendSQLite, BackendBadger:
	default:
		return fmt.Errorf("vector.backend must be 'sqlite' or 'badger', got %s", c.Vector.Backend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// ValidateMode checks an embedding mode name.
func ValidateMode(mode string) error {
	switch mode {
	case ModeLocal, ModeRemote:
		return nil
	default:
		return fmt.Errorf("embeddings.mode must be 'local' or 'remote', got %q", mode)
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
