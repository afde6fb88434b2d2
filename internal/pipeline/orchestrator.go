package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"accentid/internal/classifier"
	"accentid/internal/fetch"
	"accentid/internal/logging"
	"accentid/internal/services"
	"accentid/internal/workspace"
)

// Options wires an Orchestrator.
type Options struct {
	Fetcher     Fetcher
	Transcoder  Transcoder
	Classifiers ClassifierProvider
	ModelID     string
	// WorkspaceRoot is where per-run directories are created; empty uses
	// the OS temporary directory.
	WorkspaceRoot string
	Logger        *slog.Logger
	// OnStage, when set, is called as each stage begins.
	OnStage func(Stage)
}

// Orchestrator runs classification requests. It holds no per-run state and
// is safe for concurrent use; concurrent runs share only the classifier
// provider.
type Orchestrator struct {
	fetcher       Fetcher
	transcoder    Transcoder
	classifiers   ClassifierProvider
	modelID       string
	workspaceRoot string
	logger        *slog.Logger
	onStage       func(Stage)
	newRunID      func() string
}

// New validates opts and builds an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case opts.Transcoder == nil:
		return nil, errors.New("pipeline: transcoder is required")
	case opts.Classifiers == nil:
		return nil, errors.New("pipeline: classifier provider is required")
	}
	modelID := strings.TrimSpace(opts.ModelID)
	if modelID == "" {
		modelID = classifier.DefaultModelID
	}
	return &Orchestrator{
		fetcher:       opts.Fetcher,
		transcoder:    opts.Transcoder,
		classifiers:   opts.Classifiers,
		modelID:       modelID,
		workspaceRoot: opts.WorkspaceRoot,
		logger:        logging.NewComponentLogger(opts.Logger, "pipeline"),
		onStage:       opts.OnStage,
		newRunID:      uuid.NewString,
	}, nil
}

// ModelID reports the model this orchestrator classifies with.
func (o *Orchestrator) ModelID() string { return o.modelID }

// Run classifies the accent spoken in the video at sourceURL. Errors carry
// a services marker; use services.Kind to branch on them.
func (o *Orchestrator) Run(ctx context.Context, sourceURL string) (Result, error) {
	return o.RunWithProgress(ctx, sourceURL, nil)
}

// RunWithProgress is Run with a per-call stage callback that fires in
// addition to Options.OnStage.
func (o *Orchestrator) RunWithProgress(ctx context.Context, sourceURL string, onStage func(Stage)) (Result, error) {
	start := time.Now()
	runID := o.newRunID()
	ctx = services.WithRunID(ctx, runID)
	if _, ok := services.RequestIDFromContext(ctx); !ok {
		ctx = services.WithRequestID(ctx, runID)
	}
	logger := logging.WithContext(ctx, o.logger)

	normalized := fetch.NormalizeSourceURL(sourceURL)
	if _, err := fetch.ValidateSourceURL(normalized); err != nil {
		return Result{}, o.fail(logger, "validate", err)
	}
	if normalized != strings.TrimSpace(sourceURL) {
		logger.Debug("source url normalized", logging.String("url", normalized))
	}

	ws, err := workspace.Acquire(o.workspaceRoot, runID)
	if err != nil {
		return Result{}, o.fail(logger, "workspace", err)
	}
	defer func() {
		if releaseErr := ws.Release(); releaseErr != nil {
			logging.WarnWithContext(logger, "workspace cleanup failed", "workspace_cleanup_failed",
				logging.Error(releaseErr),
				logging.String(logging.FieldImpact, "temporary files left on disk"),
				logging.String(logging.FieldErrorHint, "remove "+ws.Dir+" manually"),
			)
		}
	}()
	logger.Info("run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("url", normalized),
		logging.String(logging.FieldModelID, o.modelID),
	)

	notify := func(stage Stage) {
		if o.onStage != nil {
			o.onStage(stage)
		}
		if onStage != nil {
			onStage(stage)
		}
	}

	if err := o.stage(ctx, StageFetching, notify, func(ctx context.Context) error {
		return o.fetcher.Fetch(ctx, normalized, ws.VideoPath())
	}); err != nil {
		return Result{}, o.fail(logger, string(StageFetching), err)
	}

	if err := o.stage(ctx, StageTranscoding, notify, func(ctx context.Context) error {
		return o.transcoder.ExtractAudio(ctx, ws.VideoPath(), ws.AudioPath())
	}); err != nil {
		return Result{}, o.fail(logger, string(StageTranscoding), err)
	}

	var handle classifier.Handle
	if err := o.stage(ctx, StageLoadingModel, notify, func(ctx context.Context) error {
		h, err := o.classifiers.Get(ctx, o.modelID)
		handle = h
		return err
	}); err != nil {
		return Result{}, o.fail(logger, string(StageLoadingModel), err)
	}

	var pred classifier.Prediction
	if err := o.stage(ctx, StageClassifying, notify, func(ctx context.Context) error {
		p, err := handle.Classify(ctx, ws.AudioPath())
		pred = p
		return err
	}); err != nil {
		return Result{}, o.fail(logger, string(StageClassifying), err)
	}

	result := Result{
		RunID:         runID,
		SourceURL:     normalized,
		ModelID:       o.modelID,
		Accent:        pred.Label,
		DisplayAccent: classifier.DisplayName(pred.Label),
		Confidence:    pred.Confidence,
		Explanation:   Explain(pred.Label, pred.Confidence),
		Elapsed:       time.Since(start),
	}
	if len(pred.Distribution) > 0 {
		result.Distribution = make(map[string]float64, len(pred.Distribution))
		for _, entry := range pred.Distribution {
			result.Distribution[entry.Label] = entry.Percent
		}
	}
	logger.Info("run completed",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.String("accent", result.Accent),
		logging.Float64("confidence", result.Confidence),
		logging.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

func (o *Orchestrator) stage(ctx context.Context, stage Stage, notify func(Stage), fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	notify(stage)
	stageCtx := services.WithStage(ctx, string(stage))
	stageLogger := logging.WithContext(stageCtx, o.logger)
	started := time.Now()
	stageLogger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))
	if err := fn(stageCtx); err != nil {
		return err
	}
	stageLogger.Debug("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (o *Orchestrator) fail(logger *slog.Logger, stage string, err error) error {
	err = services.Classify(stage, err)
	kind := services.Kind(err)
	if kind == services.KindCanceled {
		logger.Info("run canceled", logging.String(logging.FieldStage, stage))
		return err
	}
	logging.ErrorWithContext(logger, "run failed", "run_failed",
		logging.String(logging.FieldStage, stage),
		logging.String(logging.FieldErrorKind, kind),
		logging.String(logging.FieldErrorHint, services.Hint(err)),
		logging.Error(err),
	)
	return err
}
