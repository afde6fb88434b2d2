package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultStateDir              = "~/.local/share/accentid"
	defaultLogDir                = "~/.local/share/accentid/logs"
	defaultModelID               = "Jzuluaga/accent-id-commonaccent_ecapa"
	defaultModelDevice           = "cpu"
	defaultModelRunner           = "uvx"
	defaultModelLoadTimeout      = 600
	defaultModelCacheFallback    = "~/.cache/accentid/models"
	defaultFetchMinBytes         = 1024
	defaultFetchChunkBytes       = 32 * 1024
	defaultFetchUserAgent        = "accentid/dev"
	defaultFFmpegBinary          = "ffmpeg"
	defaultFFprobeBinary         = "ffprobe"
	defaultServerBind            = "127.0.0.1:8501"
	defaultServerMaxFormBytes    = 64 * 1024
	defaultServerRequestTimeout  = 0
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultConfigPathTemplate    = "~/.config/accentid/config.toml"
	defaultProjectConfigFileName = "accentid.toml"
	manifestFileName             = "models.db"
	minFetchChunkBytes           = 512
	maxFetchChunkBytes           = 4 * 1024 * 1024
)

var defaultModelPackages = []string{"speechbrain", "torchaudio", "soundfile"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Model: Model{
			ID:                 defaultModelID,
			CacheDir:           defaultModelCacheDir(),
			Device:             defaultModelDevice,
			Runner:             defaultModelRunner,
			Packages:           append([]string(nil), defaultModelPackages...),
			LoadTimeoutSeconds: defaultModelLoadTimeout,
		},
		Fetch: Fetch{
			MinBytes:   defaultFetchMinBytes,
			ChunkBytes: defaultFetchChunkBytes,
			UserAgent:  defaultFetchUserAgent,
		},
		Tools: Tools{
			FFmpeg:  defaultFFmpegBinary,
			FFprobe: defaultFFprobeBinary,
		},
		Server: Server{
			Bind:                  defaultServerBind,
			MaxFormBytes:          defaultServerMaxFormBytes,
			RequestTimeoutSeconds: defaultServerRequestTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

func defaultModelCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "accentid", "models")
	}
	return defaultModelCacheFallback
}
