// Package config loads and validates ragmcp's JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ModelConfig names the embedding model asset and its vector dimension.
type ModelConfig struct {
	Name       string `json:"name"`
	Dimensions int    `json:"dimensions"`
}

// ComputeConfig selects the inference device.
type ComputeConfig struct {
	Device         string `json:"device"`           // "cpu" | "auto"
	FallbackToCPU  bool   `json:"fallback_to_cpu"`
}

// Config is ragmcp's complete runtime configuration, loaded from a JSON
// file per spec.md §6.
type Config struct {
	DocumentPatterns []string      `json:"document_patterns"`
	DBPath           string        `json:"db_path"`
	ChunkSize        int           `json:"chunk_size"`
	SearchTopK       int           `json:"search_top_k"`
	Model            ModelConfig   `json:"model"`
	Compute          ComputeConfig `json:"compute"`
}

// NewConfig returns a Config populated with spec.md §6's defaults.
func NewConfig() *Config {
	return &Config{
		DocumentPatterns: []string{"./"},
		DBPath:           "./vectors.db",
		ChunkSize:        500,
		SearchTopK:       5,
		Model: ModelConfig{
			Name:       "multilingual-e5-small",
			Dimensions: 384,
		},
		Compute: ComputeConfig{
			Device:        "auto",
			FallbackToCPU: true,
		},
	}
}

// Load reads the config file at path, falling back to defaults for any
// field the file omits or for a missing file entirely. Environment
// variables named RAGMCP_* take precedence over the file, matching the
// teacher's AMANMCP_*-overrides-file precedence order.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		path = "./config.json"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.mergeJSON(data); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// No config file is fine; defaults stand.
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// mergeJSON unmarshals data into a fresh Config and overlays its
// non-zero fields onto c, so a file that only sets one key doesn't
// blank out the rest of the defaults.
func (c *Config) mergeJSON(data []byte) error {
	var parsed Config
	if err := json.Unmarshal(data, &parsed); err != nil {
		return err
	}

	if len(parsed.DocumentPatterns) > 0 {
		c.DocumentPatterns = parsed.DocumentPatterns
	}
	if parsed.DBPath != "" {
		c.DBPath = parsed.DBPath
	}
	if parsed.ChunkSize != 0 {
		c.ChunkSize = parsed.ChunkSize
	}
	if parsed.SearchTopK != 0 {
		c.SearchTopK = parsed.SearchTopK
	}
	if parsed.Model.Name != "" {
		c.Model.Name = parsed.Model.Name
	}
	if parsed.Model.Dimensions != 0 {
		c.Model.Dimensions = parsed.Model.Dimensions
	}
	if parsed.Compute.Device != "" {
		c.Compute.Device = parsed.Compute.Device
	}
	// FallbackToCPU defaults true; a config file turns it off only when
	// its compute block also sets a device.
	if parsed.Compute.Device != "" || parsed.Compute.FallbackToCPU {
		c.Compute.FallbackToCPU = parsed.Compute.FallbackToCPU
	}

	return nil
}

// applyEnvOverrides applies RAGMCP_* environment variable overrides,
// the highest-precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RAGMCP_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("RAGMCP_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ChunkSize = n
		}
	}
	if v := os.Getenv("RAGMCP_SEARCH_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SearchTopK = n
		}
	}
	if v := os.Getenv("RAGMCP_MODEL_NAME"); v != "" {
		c.Model.Name = v
	}
	if v := os.Getenv("RAGMCP_MODEL_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Model.Dimensions = n
		}
	}
	if v := os.Getenv("RAGMCP_COMPUTE_DEVICE"); v != "" {
		c.Compute.Device = v
	}
}

// Validate checks the configuration against spec.md §6's constraints.
func (c *Config) Validate() error {
	if len(c.DocumentPatterns) == 0 {
		return fmt.Errorf("document_patterns must be non-empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must be non-empty")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be a positive integer, got %d", c.ChunkSize)
	}
	if c.SearchTopK <= 0 {
		return fmt.Errorf("search_top_k must be a positive integer, got %d", c.SearchTopK)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name must be non-empty")
	}
	if c.Model.Dimensions <= 0 {
		return fmt.Errorf("model.dimensions must be a positive integer, got %d", c.Model.Dimensions)
	}

	device := strings.ToLower(c.Compute.Device)
	if device != "cpu" && device != "auto" {
		return fmt.Errorf("compute.device must be 'cpu' or 'auto', got %q", c.Compute.Device)
	}

	return nil
}

// FindProjectRoot walks up from startDir looking for a .git directory
// or a config.json file, falling back to startDir itself if neither is
// found before reaching the filesystem root.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	dir := absDir
	for {
		if dirExists(filepath.Join(dir, ".git")) {
			return dir, nil
		}
		if fileExists(filepath.Join(dir, "config.json")) {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return absDir, nil
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
