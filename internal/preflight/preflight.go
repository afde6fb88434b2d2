package preflight

import (
	"context"
	"strings"

	"accentid/internal/config"
	"accentid/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Options tunes RunAll.
type Options struct {
	// CheckHub adds a Hugging Face model lookup. It needs network access.
	CheckHub bool
	// HubBaseURL overrides the Hugging Face endpoint.
	HubBaseURL string
}

// RunAll executes the directory checks and, when requested, the model hub check.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Model cache", cfg.Model.CacheDir),
	}
	if strings.TrimSpace(cfg.Paths.WorkDir) != "" {
		results = append(results, CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir))
	} else {
		results = append(results, CheckDirectoryAccess("Work directory (temp)", cfg.WorkspaceRoot()))
	}

	if opts.CheckHub {
		results = append(results, CheckModelHub(ctx, opts.HubBaseURL, cfg.Model.ID, cfg.Model.HFToken, cfg.Fetch.UserAgent))
	}
	return results
}

// CheckSystemDeps evaluates the external binaries for the given config.
func CheckSystemDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(ctx, deps.Requirements(cfg))
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
