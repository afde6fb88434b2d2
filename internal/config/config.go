package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	// WorkDir is the parent of per-run workspaces. Empty uses the OS temp dir.
	WorkDir  string `toml:"work_dir"`
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Model contains configuration for the accent classification model.
type Model struct {
	// ID is the Hugging Face repository of the SpeechBrain classifier.
	ID string `toml:"id"`
	// CacheDir holds downloaded model artifacts, one subdirectory per model.
	CacheDir string `toml:"cache_dir"`
	// Device is "cpu" or "cuda".
	Device string `toml:"device"`
	// HFToken is forwarded to the worker for gated repositories.
	HFToken string `toml:"hf_token"`
	// Runner launches the Python worker (uvx).
	Runner             string   `toml:"runner"`
	Packages           []string `toml:"packages"`
	LoadTimeoutSeconds int      `toml:"load_timeout_seconds"`
}

// Fetch contains configuration for video downloads.
type Fetch struct {
	MinBytes       int64  `toml:"min_bytes"`
	ChunkBytes     int    `toml:"chunk_bytes"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent"`
}

// Tools contains external binary names.
type Tools struct {
	FFmpeg  string `toml:"ffmpeg"`
	FFprobe string `toml:"ffprobe"`
}

// Server contains configuration for the web form.
type Server struct {
	Bind                  string `toml:"bind"`
	MaxFormBytes          int64  `toml:"max_form_bytes"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for accentid.
//
// Configuration sections by subsystem:
//   - Paths: workspace parent, state and log directories
//   - Model: classifier identifier, artifact cache, and worker runtime
//   - Fetch: download size floor, buffer size, and timeout
//   - Tools: ffmpeg and ffprobe binaries
//   - Server: web form bind address and limits
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	Model   Model   `toml:"model"`
	Fetch   Fetch   `toml:"fetch"`
	Tools   Tools   `toml:"tools"`
	Server  Server  `toml:"server"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPathTemplate)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file next to the resolved config
// (or in the working directory) is loaded first without overriding existing variables.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if err := loadDotEnv(filepath.Dir(resolvedPath)); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(defaultProjectConfigFileName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// loadDotEnv applies KEY=VALUE pairs from .env files. Variables that are
// already set win over file values.
func loadDotEnv(configDir string) error {
	candidates := []string{filepath.Join(configDir, ".env")}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, ".env"))
	}
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(candidate); err != nil {
			return fmt.Errorf("load %s: %w", candidate, err)
		}
	}
	return nil
}

// EnsureDirectories creates the directories the CLI and web form write to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.Paths.LogDir, c.Model.CacheDir, c.Paths.WorkDir}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ManifestPath returns the SQLite database recording prepared models.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.Paths.StateDir, manifestFileName)
}

// WorkspaceRoot returns the parent directory for per-run workspaces.
func (c *Config) WorkspaceRoot() string {
	if strings.TrimSpace(c.Paths.WorkDir) != "" {
		return c.Paths.WorkDir
	}
	return os.TempDir()
}

// FetchTimeout returns the overall download timeout, zero meaning none.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// ModelLoadTimeout returns how long a worker may take to report ready.
func (c *Config) ModelLoadTimeout() time.Duration {
	return time.Duration(c.Model.LoadTimeoutSeconds) * time.Second
}

// RequestTimeout returns the per-request web form deadline, zero meaning none.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}
