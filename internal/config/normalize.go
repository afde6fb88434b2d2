package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeModel(); err != nil {
		return err
	}
	c.normalizeFetch()
	c.normalizeTools()
	c.normalizeServer()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) != "" {
		if c.Paths.WorkDir, err = expandPath(strings.TrimSpace(c.Paths.WorkDir)); err != nil {
			return fmt.Errorf("paths.work_dir: %w", err)
		}
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) != "" {
		if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
			return fmt.Errorf("paths.log_dir: %w", err)
		}
	}
	return nil
}

func (c *Config) normalizeModel() error {
	c.Model.ID = strings.TrimSpace(c.Model.ID)
	if c.Model.ID == "" {
		c.Model.ID = defaultModelID
	}
	if strings.TrimSpace(c.Model.CacheDir) == "" {
		c.Model.CacheDir = defaultModelCacheDir()
	}
	var err error
	if c.Model.CacheDir, err = expandPath(c.Model.CacheDir); err != nil {
		return fmt.Errorf("model.cache_dir: %w", err)
	}
	c.Model.Device = strings.ToLower(strings.TrimSpace(c.Model.Device))
	if c.Model.Device == "" {
		c.Model.Device = defaultModelDevice
	}
	c.Model.HFToken = strings.TrimSpace(c.Model.HFToken)
	if c.Model.HFToken == "" {
		for _, key := range []string{"HF_TOKEN", "HUGGING_FACE_HUB_TOKEN"} {
			if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
				c.Model.HFToken = strings.TrimSpace(value)
				break
			}
		}
	}
	c.Model.Runner = strings.TrimSpace(c.Model.Runner)
	if c.Model.Runner == "" {
		c.Model.Runner = defaultModelRunner
	}
	packages := make([]string, 0, len(c.Model.Packages))
	for _, pkg := range c.Model.Packages {
		if pkg = strings.TrimSpace(pkg); pkg != "" {
			packages = append(packages, pkg)
		}
	}
	if len(packages) == 0 {
		packages = append(packages, defaultModelPackages...)
	}
	c.Model.Packages = packages
	if c.Model.LoadTimeoutSeconds == 0 {
		c.Model.LoadTimeoutSeconds = defaultModelLoadTimeout
	}
	return nil
}

func (c *Config) normalizeFetch() {
	if c.Fetch.MinBytes == 0 {
		c.Fetch.MinBytes = defaultFetchMinBytes
	}
	if c.Fetch.ChunkBytes == 0 {
		c.Fetch.ChunkBytes = defaultFetchChunkBytes
	}
	c.Fetch.UserAgent = strings.TrimSpace(c.Fetch.UserAgent)
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = defaultFetchUserAgent
	}
}

func (c *Config) normalizeTools() {
	c.Tools.FFmpeg = strings.TrimSpace(c.Tools.FFmpeg)
	if c.Tools.FFmpeg == "" {
		c.Tools.FFmpeg = defaultFFmpegBinary
	}
	c.Tools.FFprobe = strings.TrimSpace(c.Tools.FFprobe)
	if c.Tools.FFprobe == "" {
		c.Tools.FFprobe = defaultFFprobeBinary
	}
}

func (c *Config) normalizeServer() {
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultServerBind
	}
	if c.Server.MaxFormBytes == 0 {
		c.Server.MaxFormBytes = defaultServerMaxFormBytes
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
