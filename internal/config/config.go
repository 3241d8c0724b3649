package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// EnvConfigFile names the environment variable pointing at an optional YAML override file.
const EnvConfigFile = "FACE_GROUPER_CONFIG"

type Config struct {
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Collect    CollectConfig    `yaml:"collect"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Exclusion  ExclusionConfig  `yaml:"exclusion"`
	Distribute DistributeConfig `yaml:"distribute"`
	Cache      CacheConfig      `yaml:"cache"`
	Log        LogConfig        `yaml:"log"`
	Web        WebConfig        `yaml:"web"`
}

// AnalyzerConfig points at the face embedding service (InsightFace server).
type AnalyzerConfig struct {
	URL          string        `yaml:"url"`
	Model        string        `yaml:"model"`
	Providers    []string      `yaml:"providers"` // compute providers, e.g. CPUExecutionProvider
	DetSize      int           `yaml:"det_size"`
	MaxImageSize int           `yaml:"max_image_size"`
	Timeout      time.Duration `yaml:"timeout"`
}

type CollectConfig struct {
	MinScore   float64  `yaml:"min_score"`
	Workers    int      `yaml:"workers"`
	Extensions []string `yaml:"extensions"`
}

type ClusteringConfig struct {
	MinClusterSize  int     `yaml:"min_cluster_size"`
	MinSamples      int     `yaml:"min_samples"` // 0 = same as MinClusterSize
	Epsilon         float64 `yaml:"epsilon"`     // max cosine distance between neighbors
	BruteForceLimit int     `yaml:"brute_force_limit"`
}

type ExclusionConfig struct {
	Mode     string   `yaml:"mode"` // substring or segment
	Patterns []string `yaml:"patterns"`
	// RelativeToRoot ignores markers in the root path itself.
	RelativeToRoot bool `yaml:"relative_to_root"`
}

type DistributeConfig struct {
	Collision string `yaml:"collision"` // overwrite, fail or rename
}

// CacheConfig selects the optional face analysis cache.
// Driver is "" (disabled), "sqlite" or "postgres".
type CacheConfig struct {
	Driver       string `yaml:"driver"`
	URL          string `yaml:"url"`  // PostgreSQL connection URL
	Path         string `yaml:"path"` // SQLite file, defaults to the user cache dir
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // localhost is always allowed
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a non-negative float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envBool reads a boolean environment variable, keeping the default when it
// does not parse.
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma separated list, ignoring empty items.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

// Load returns the embedded defaults overridden by environment variables.
func Load() *Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFile layers a YAML file between the embedded defaults and the environment.
// An empty path falls back to FACE_GROUPER_CONFIG and then to Load.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path == "" {
		return Load(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Analyzer.URL = envString("FACE_ANALYZER_URL", c.Analyzer.URL)
	c.Analyzer.Model = envString("FACE_ANALYZER_MODEL", c.Analyzer.Model)
	c.Analyzer.Providers = envList("FACE_ANALYZER_PROVIDERS", c.Analyzer.Providers)
	c.Analyzer.DetSize = envInt("FACE_ANALYZER_DET_SIZE", c.Analyzer.DetSize)
	c.Analyzer.MaxImageSize = envInt("FACE_ANALYZER_MAX_IMAGE_SIZE", c.Analyzer.MaxImageSize)
	if s := os.Getenv("FACE_ANALYZER_TIMEOUT"); s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			c.Analyzer.Timeout = d
		}
	}

	c.Collect.MinScore = envFloat("MIN_SCORE", c.Collect.MinScore)
	c.Collect.Workers = envInt("WORKERS", c.Collect.Workers)

	c.Clustering.MinClusterSize = envInt("MIN_CLUSTER_SIZE", c.Clustering.MinClusterSize)
	c.Clustering.Epsilon = envFloat("CLUSTER_EPSILON", c.Clustering.Epsilon)

	c.Exclusion.Mode = envString("EXCLUDE_MODE", c.Exclusion.Mode)
	c.Exclusion.Patterns = envList("EXCLUDE_PATTERNS", c.Exclusion.Patterns)
	c.Exclusion.RelativeToRoot = envBool("EXCLUDE_RELATIVE_TO_ROOT", c.Exclusion.RelativeToRoot)

	c.Distribute.Collision = envString("COLLISION_POLICY", c.Distribute.Collision)

	c.Cache.Driver = envString("CACHE_DRIVER", c.Cache.Driver)
	c.Cache.URL = envString("DATABASE_URL", c.Cache.URL)
	c.Cache.Path = envString("CACHE_PATH", c.Cache.Path)
	c.Cache.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", c.Cache.MaxOpenConns)
	c.Cache.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", c.Cache.MaxIdleConns)

	c.Log.Level = envString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("LOG_FORMAT", c.Log.Format)

	c.Web.Host = envString("WEB_HOST", c.Web.Host)
	c.Web.Port = envInt("WEB_PORT", c.Web.Port)
	c.Web.AllowedOrigins = envList("WEB_ALLOWED_ORIGINS", c.Web.AllowedOrigins)
}

// Validate checks values that would otherwise fail deep inside the pipeline.
func (c *Config) Validate() error {
	if c.Collect.MinScore < 0 || c.Collect.MinScore > 1 {
		return fmt.Errorf("collect.min_score must be within [0, 1], got %v", c.Collect.MinScore)
	}
	if c.Clustering.MinClusterSize < 2 {
		return fmt.Errorf("clustering.min_cluster_size must be at least 2, got %d", c.Clustering.MinClusterSize)
	}
	if c.Clustering.Epsilon <= 0 || c.Clustering.Epsilon > 2 {
		return fmt.Errorf("clustering.epsilon must be within (0, 2], got %v", c.Clustering.Epsilon)
	}
	switch c.Exclusion.Mode {
	case "substring", "segment":
	default:
		return fmt.Errorf("exclusion.mode must be substring or segment, got %q", c.Exclusion.Mode)
	}
	switch c.Distribute.Collision {
	case "overwrite", "fail", "rename":
	default:
		return fmt.Errorf("distribute.collision must be overwrite, fail or rename, got %q", c.Distribute.Collision)
	}
	switch c.Cache.Driver {
	case "", "none", "sqlite":
	case "postgres":
		if c.Cache.URL == "" {
			return fmt.Errorf("cache.url (DATABASE_URL) is required for the postgres cache")
		}
	default:
		return fmt.Errorf("cache.driver must be empty, none, sqlite or postgres, got %q", c.Cache.Driver)
	}
	return nil
}

// CachePath returns the SQLite cache file, defaulting to the user cache directory.
func (c *CacheConfig) CachePath() string {
	if c.Path != "" {
		return c.Path
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "face-grouper", "analyses.db")
}
