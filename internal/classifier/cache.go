package classifier

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"accentid/internal/logging"
	"accentid/internal/services"
)

// LoadFunc produces a Handle for key.
type LoadFunc func(ctx context.Context, key string) (Handle, error)

// Cache is a process-wide, keyed store of loaded models. Entries are never
// evicted while they are healthy; a handle whose worker has died is replaced
// on the next lookup.
type Cache struct {
	loader Loader
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]Handle
	group   singleflight.Group
	loads   map[string]int
}

// NewCache builds a cache whose Get uses loader.
func NewCache(loader Loader, logger *slog.Logger) *Cache {
	return &Cache{
		loader:  loader,
		logger:  logging.NewComponentLogger(logger, "model-cache"),
		entries: make(map[string]Handle),
		loads:   make(map[string]int),
	}
}

// Get returns the handle for modelID, loading it through the cache's Loader
// on first use.
func (c *Cache) Get(ctx context.Context, modelID string) (Handle, error) {
	if c.loader == nil {
		return nil, services.Wrap(services.ErrModelLoad, "load model", "", "no loader configured", nil)
	}
	return c.GetOrLoad(ctx, modelID, c.loader.Load)
}

// GetOrLoad returns the cached handle for key or runs load exactly once for
// all concurrent callers. The load itself is detached from any single
// caller's cancellation; a caller whose ctx ends stops waiting but the load
// carries on for the others. Failures are returned to every waiter and are
// not cached.
func (c *Cache) GetOrLoad(ctx context.Context, key string, load LoadFunc) (Handle, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, services.Wrap(services.ErrModelLoad, "load model", "", "empty model id", nil)
	}
	if handle, ok := c.lookup(key); ok {
		return handle, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if handle, ok := c.lookup(key); ok {
			return handle, nil
		}
		logger := logging.WithContext(loadCtx, c.logger).With(logging.String(logging.FieldModelID, key))
		logger.Info("loading model")
		start := time.Now()
		handle, err := load(loadCtx, key)
		if err != nil {
			logging.ErrorWithContext(logger, "model load failed", "model_load_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, services.Hint(services.ErrModelLoad)),
			)
			if services.Kind(err) != services.KindModelLoad {
				err = services.Wrap(services.ErrModelLoad, "load model", key, "", err)
			}
			return nil, err
		}
		if handle == nil {
			return nil, services.Wrap(services.ErrModelLoad, "load model", key, "loader returned no handle", nil)
		}
		c.mu.Lock()
		c.entries[key] = handle
		c.loads[key]++
		c.mu.Unlock()
		logger.Info("model ready",
			logging.Duration("elapsed", time.Since(start)),
			logging.Int("labels", len(handle.Labels())),
		)
		return handle, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Handle), nil
	case <-ctx.Done():
		return nil, services.Wrap(services.ErrModelLoad, "load model", key, "interrupted while waiting for model", ctx.Err())
	}
}

func (c *Cache) lookup(key string) (Handle, bool) {
	c.mu.Lock()
	handle, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	if probe, isProbe := handle.(interface{ Alive() bool }); isProbe && !probe.Alive() {
		delete(c.entries, key)
		c.mu.Unlock()
		_ = handle.Close()
		logging.WarnWithContext(c.logger, "cached model worker exited; reloading", "model_worker_exited",
			logging.String(logging.FieldModelID, key),
			logging.String(logging.FieldImpact, "next classification reloads the model"),
			logging.String(logging.FieldErrorHint, "check worker stderr in debug logs"),
		)
		return nil, false
	}
	c.mu.Unlock()
	return handle, true
}

// Loaded lists the model ids currently held, sorted.
func (c *Cache) Loaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadCount reports how many successful loads key has seen.
func (c *Cache) LoadCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads[key]
}

// Close releases every cached handle.
func (c *Cache) Close() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]Handle)
	c.mu.Unlock()

	var errs []error
	for _, handle := range entries {
		if err := handle.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
