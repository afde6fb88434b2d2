package main

import (
	"errors"
	"log/slog"

	"accentid/internal/classifier"
	"accentid/internal/config"
	"accentid/internal/fetch"
	"accentid/internal/logging"
	"accentid/internal/modelstore"
	"accentid/internal/pipeline"
	"accentid/internal/transcode"
)

// app holds the long-lived pieces one command needs: the model cache, the
// manifest backing it, and the orchestrator that ties the stages together.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	manifest *modelstore.Store
	models   *classifier.Cache
	pipeline *pipeline.Orchestrator
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	a := &app{cfg: cfg, logger: logger}

	var recorder classifier.ManifestRecorder
	manifest, err := modelstore.Open(cfg.ManifestPath())
	if err != nil {
		logging.WarnWithContext(logger, "model manifest unavailable", "manifest_open_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "model list will not include this run"),
			logging.String(logging.FieldErrorHint, "check permissions on "+cfg.Paths.StateDir),
		)
	} else {
		a.manifest = manifest
		recorder = manifest
	}

	loader := classifier.NewSpeechBrainLoader(classifier.LoaderConfig{
		CacheDir:     cfg.Model.CacheDir,
		Device:       cfg.Model.Device,
		HFToken:      cfg.Model.HFToken,
		Runner:       cfg.Model.Runner,
		Packages:     cfg.Model.Packages,
		ReadyTimeout: cfg.ModelLoadTimeout(),
	}, recorder, logger)
	a.models = classifier.NewCache(loader, logger)

	fetcher := fetch.NewHTTPFetcher(
		fetch.WithMinBytes(cfg.Fetch.MinBytes),
		fetch.WithChunkBytes(cfg.Fetch.ChunkBytes),
		fetch.WithUserAgent(cfg.Fetch.UserAgent),
		fetch.WithTimeout(cfg.FetchTimeout()),
		fetch.WithLogger(logger),
	)

	orch, err := pipeline.New(pipeline.Options{
		Fetcher:       fetcher,
		Transcoder:    transcode.New(cfg.Tools.FFmpeg, cfg.Tools.FFprobe, logger),
		Classifiers:   a.models,
		ModelID:       cfg.Model.ID,
		WorkspaceRoot: cfg.WorkspaceRoot(),
		Logger:        logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.pipeline = orch
	return a, nil
}

// Close stops every model worker and closes the manifest.
func (a *app) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.models != nil {
		if err := a.models.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.manifest != nil {
		if err := a.manifest.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
