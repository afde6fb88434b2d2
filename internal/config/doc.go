// Package config loads, normalizes, and validates accentid configuration data.
//
// It supplies defaults, expands user paths (including tilde shortcuts), reads
// TOML files, overlays an optional .env file, and honours environment
// fallbacks such as HF_TOKEN. The Config type carries every knob the CLI and
// web form need: workspace and state directories, the model identifier and
// its artifact cache, fetch limits, external tool binaries, and logging.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
