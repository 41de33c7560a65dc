// Package config loads agentmem settings from YAML files and the environment
// and maps them onto the retrieval engine and its backends.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/louloulin/agentmem/internal/embed"
	"github.com/louloulin/agentmem/internal/errors"
	"github.com/louloulin/agentmem/internal/retrieval"
	"github.com/louloulin/agentmem/internal/store"
)

// CurrentVersion is the schema version written by WriteYAML.
const CurrentVersion = 1

// Project config file names, tried in order.
var projectConfigNames = []string{".agentmem.yaml", ".agentmem.yml"}

// Config is the complete agentmem configuration.
type Config struct {
	Version   int             `yaml:"version" json:"version"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval"`
	Threshold ThresholdConfig `yaml:"threshold" json:"threshold"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Server    ServerConfig    `yaml:"server" json:"server"`
}

// RetrievalConfig toggles the stages of a search.
type RetrievalConfig struct {
	EnableQueryClassification bool    `yaml:"enable_query_classification" json:"enable_query_classification"`
	EnableAdaptiveThreshold   bool    `yaml:"enable_adaptive_threshold" json:"enable_adaptive_threshold"`
	EnableParallel            bool    `yaml:"enable_parallel" json:"enable_parallel"`
	EnableMetrics             bool    `yaml:"enable_metrics" json:"enable_metrics"`
	RRFK                      float64 `yaml:"rrf_k" json:"rrf_k"`

	// NormalizeScores rescales fused scores into [0,1] so the adaptive
	// thresholds apply on the same scale as the per-type defaults.
	NormalizeScores bool `yaml:"normalize_scores" json:"normalize_scores"`

	ClassifierCacheSize int `yaml:"classifier_cache_size" json:"classifier_cache_size"`
	DefaultLimit        int `yaml:"default_limit" json:"default_limit"`
}

// ThresholdConfig mirrors retrieval.ThresholdConfig in YAML form.
type ThresholdConfig struct {
	// BaseThresholds is keyed by query type name, e.g. "semantic".
	BaseThresholds           map[string]float64 `yaml:"base_thresholds,omitempty" json:"base_thresholds,omitempty"`
	LengthFactor             float64            `yaml:"length_factor" json:"length_factor"`
	ComplexityFactor         float64            `yaml:"complexity_factor" json:"complexity_factor"`
	MinThreshold             float64            `yaml:"min_threshold" json:"min_threshold"`
	MaxThreshold             float64            `yaml:"max_threshold" json:"max_threshold"`
	EnableHistoricalLearning bool               `yaml:"enable_historical_learning" json:"enable_historical_learning"`
	FeedbackWindow           int                `yaml:"feedback_window" json:"feedback_window"`
}

// StorageConfig locates and tunes the memory store and indexes.
type StorageConfig struct {
	DataDir        string `yaml:"data_dir" json:"data_dir"`
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`
	Dimensions     int    `yaml:"dimensions" json:"dimensions"`
	HNSWM          int    `yaml:"hnsw_m" json:"hnsw_m"`
	HNSWEfSearch   int    `yaml:"hnsw_ef_search" json:"hnsw_ef_search"`
	EmbedCacheSize int    `yaml:"embed_cache_size" json:"embed_cache_size"`
	// Watch makes a running server pick up memories other processes add.
	Watch bool `yaml:"watch" json:"watch"`
}

// TelemetryConfig controls persisted search metrics.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	FlushInterval string `yaml:"flush_interval" json:"flush_interval"`
}

// ServerConfig configures the MCP server and logging.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	// HTTPAddr is the listen address for the http transport.
	HTTPAddr string `yaml:"http_addr" json:"http_addr"`
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	eng := retrieval.DefaultEngineConfig()
	th := retrieval.DefaultThresholdConfig()

	return &Config{
		Version: CurrentVersion,
		Retrieval: RetrievalConfig{
			EnableQueryClassification: eng.EnableQueryClassification,
			EnableAdaptiveThreshold:   eng.EnableAdaptiveThreshold,
			EnableParallel:            eng.EnableParallel,
			EnableMetrics:             eng.EnableMetrics,
			RRFK:                      eng.RRFK,
			NormalizeScores:           true,
			ClassifierCacheSize:       retrieval.DefaultClassifierCacheSize,
			DefaultLimit:              10,
		},
		Threshold: ThresholdConfig{
			LengthFactor:             th.LengthFactor,
			ComplexityFactor:         th.ComplexityFactor,
			MinThreshold:             th.MinThreshold,
			MaxThreshold:             th.MaxThreshold,
			EnableHistoricalLearning: th.EnableHistoricalLearning,
			FeedbackWindow:           th.FeedbackWindow,
		},
		Storage: StorageConfig{
			DataDir:        defaultDataDir(),
			LexicalBackend: "sqlite",
			Dimensions:     embed.DefaultDimensions,
			HNSWM:          16,
			HNSWEfSearch:   20,
			EmbedCacheSize: embed.DefaultEmbeddingCacheSize,
			Watch:          true,
		},
		Telemetry: TelemetryConfig{
			Enabled:       true,
			FlushInterval: "30s",
		},
		Server: ServerConfig{
			Transport: "stdio",
			HTTPAddr:  "127.0.0.1:7337",
			LogLevel:  "info",
		},
	}
}

// HomeDir returns ~/.agentmem, the root for data and logs.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".agentmem")
	}
	return filepath.Join(home, ".agentmem")
}

func defaultDataDir() string {
	return filepath.Join(HomeDir(), "data")
}

// GetUserConfigPath returns the user config path, honouring XDG_CONFIG_HOME.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "agentmem", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "agentmem", "config.yaml")
	}
	return filepath.Join(home, ".config", "agentmem", "config.yaml")
}

// GetUserConfigDir returns the directory holding the user config.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user config file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// Load builds the configuration for dir. Later sources win:
//  1. built-in defaults
//  2. user config (~/.config/agentmem/config.yaml)
//  3. project config (.agentmem.yaml in dir)
//  4. AGENTMEM_* environment variables
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	for _, name := range projectConfigNames {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			if err := cfg.loadYAML(path); err != nil {
				return nil, err
			}
			break
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML decodes path on top of c. Keys absent from the file keep their
// current values, so an explicit false still overrides a true default.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.New(errors.ErrCodeConfigNotFound, "cannot read config file", err).WithDetail("path", path)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.ConfigError("cannot parse config file", err).
			WithDetail("path", path).
			WithSuggestion("Check the YAML syntax and field types")
	}
	return nil
}

// applyEnvOverrides applies AGENTMEM_* variables. A malformed value is an
// error rather than silently ignored.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("AGENTMEM_RRF_K"); v != "" {
		k, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.ConfigError("AGENTMEM_RRF_K is not a number", err).WithDetail("value", v)
		}
		c.Retrieval.RRFK = k
	}
	if v := os.Getenv("AGENTMEM_PARALLEL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.ConfigError("AGENTMEM_PARALLEL is not a boolean", err).WithDetail("value", v)
		}
		c.Retrieval.EnableParallel = b
	}
	if v := os.Getenv("AGENTMEM_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("AGENTMEM_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("AGENTMEM_LEXICAL_BACKEND"); v != "" {
		c.Storage.LexicalBackend = v
	}
	if v := os.Getenv("AGENTMEM_HTTP_ADDR"); v != "" {
		c.Server.HTTPAddr = v
	}
	return nil
}

// Validate checks ranges and enumerations. Errors carry ERR_102.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.ConfigError(fmt.Sprintf(format, args...), nil)
	}

	if k := c.Retrieval.RRFK; k < 0 || math.IsNaN(k) || math.IsInf(k, 0) {
		return invalid("retrieval.rrf_k must be a non-negative number, got %v", k)
	}
	if c.Retrieval.DefaultLimit < 0 {
		return invalid("retrieval.default_limit must be non-negative, got %d", c.Retrieval.DefaultLimit)
	}
	if c.Retrieval.ClassifierCacheSize < 0 {
		return invalid("retrieval.classifier_cache_size must be non-negative, got %d", c.Retrieval.ClassifierCacheSize)
	}

	t := c.Threshold
	if t.MinThreshold < 0 || t.MaxThreshold > 1 {
		return invalid("threshold bounds must lie in [0,1], got [%v,%v]", t.MinThreshold, t.MaxThreshold)
	}
	if t.MinThreshold > t.MaxThreshold {
		return invalid("threshold.min_threshold %v exceeds max_threshold %v", t.MinThreshold, t.MaxThreshold)
	}
	if t.FeedbackWindow < 0 {
		return invalid("threshold.feedback_window must be non-negative, got %d", t.FeedbackWindow)
	}
	for name, v := range t.BaseThresholds {
		if !retrieval.QueryType(name).Valid() {
			return invalid("threshold.base_thresholds has unknown query type %q", name)
		}
		if v < 0 || v > 1 {
			return invalid("threshold.base_thresholds.%s must lie in [0,1], got %v", name, v)
		}
	}

	if !store.LexicalBackend(strings.ToLower(c.Storage.LexicalBackend)).Valid() {
		return invalid("storage.lexical_backend must be 'sqlite' or 'bleve', got %s", c.Storage.LexicalBackend)
	}
	if c.Storage.Dimensions < 0 {
		return invalid("storage.dimensions must be non-negative, got %d", c.Storage.Dimensions)
	}

	if _, err := c.FlushInterval(); err != nil {
		return invalid("telemetry.flush_interval: %v", err)
	}

	switch strings.ToLower(c.Server.Transport) {
	case "stdio":
	case "http":
		if c.Server.HTTPAddr == "" {
			return invalid("server.http_addr is required for the http transport")
		}
	default:
		return invalid("server.transport must be 'stdio' or 'http', got %s", c.Server.Transport)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return invalid("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}
	return nil
}

// FlushInterval parses telemetry.flush_interval. Empty means 30s.
func (c *Config) FlushInterval() (time.Duration, error) {
	if c.Telemetry.FlushInterval == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Telemetry.FlushInterval)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

// EngineConfig maps the retrieval section onto the engine.
func (c *Config) EngineConfig() retrieval.EngineConfig {
	return retrieval.EngineConfig{
		EnableQueryClassification: c.Retrieval.EnableQueryClassification,
		EnableAdaptiveThreshold:   c.Retrieval.EnableAdaptiveThreshold,
		EnableParallel:            c.Retrieval.EnableParallel,
		EnableMetrics:             c.Retrieval.EnableMetrics,
		RRFK:                      c.Retrieval.RRFK,
		NormalizeScores:           c.Retrieval.NormalizeScores,
	}
}

// ThresholdConfig maps the threshold section onto the calculator. Base
// thresholds not named in the file keep their defaults.
func (c *Config) ThresholdConfig() retrieval.ThresholdConfig {
	out := retrieval.DefaultThresholdConfig()
	for name, v := range c.Threshold.BaseThresholds {
		out.BaseThresholds[retrieval.QueryType(name)] = v
	}
	out.LengthFactor = c.Threshold.LengthFactor
	out.ComplexityFactor = c.Threshold.ComplexityFactor
	out.MinThreshold = c.Threshold.MinThreshold
	out.MaxThreshold = c.Threshold.MaxThreshold
	out.EnableHistoricalLearning = c.Threshold.EnableHistoricalLearning
	out.FeedbackWindow = c.Threshold.FeedbackWindow
	return out
}

// StoreOptions maps the storage section onto the memory store.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		DataDir:        c.Storage.DataDir,
		LexicalBackend: store.LexicalBackend(strings.ToLower(c.Storage.LexicalBackend)),
		Dimensions:     c.Storage.Dimensions,
		HNSWM:          c.Storage.HNSWM,
		HNSWEfSearch:   c.Storage.HNSWEfSearch,
		EmbedCacheSize: c.Storage.EmbedCacheSize,
	}
}

// WriteYAML writes c to path, creating the parent directory.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
