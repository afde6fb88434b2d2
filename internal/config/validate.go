package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateModel(); err != nil {
		return err
	}
	if err := c.validateFetch(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateModel() error {
	if strings.ContainsAny(c.Model.ID, " \t\n") {
		return fmt.Errorf("model.id must not contain whitespace (got %q)", c.Model.ID)
	}
	if strings.TrimSpace(c.Model.CacheDir) == "" {
		return errors.New("model.cache_dir must be set")
	}
	switch c.Model.Device {
	case "cpu", "cuda":
	default:
		return fmt.Errorf("model.device must be cpu or cuda (got %q)", c.Model.Device)
	}
	if c.Model.LoadTimeoutSeconds < 0 {
		return errors.New("model.load_timeout_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateFetch() error {
	if c.Fetch.MinBytes < 0 {
		return errors.New("fetch.min_bytes must not be negative")
	}
	if c.Fetch.ChunkBytes < minFetchChunkBytes || c.Fetch.ChunkBytes > maxFetchChunkBytes {
		return fmt.Errorf("fetch.chunk_bytes must be between %d and %d", minFetchChunkBytes, maxFetchChunkBytes)
	}
	if c.Fetch.TimeoutSeconds < 0 {
		return errors.New("fetch.timeout_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateServer() error {
	if _, _, err := net.SplitHostPort(c.Server.Bind); err != nil {
		return fmt.Errorf("server.bind must be host:port (got %q): %w", c.Server.Bind, err)
	}
	if c.Server.MaxFormBytes < 0 {
		return errors.New("server.max_form_bytes must not be negative")
	}
	if c.Server.RequestTimeoutSeconds < 0 {
		return errors.New("server.request_timeout_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	return nil
}
