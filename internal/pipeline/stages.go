package pipeline

import (
	"context"

	"accentid/internal/classifier"
)

// Stage names a step of a run. Values double as log stage fields.
type Stage string

const (
	StageFetching     Stage = "fetching"
	StageTranscoding  Stage = "transcoding"
	StageLoadingModel Stage = "loading_model"
	StageClassifying  Stage = "classifying"
)

// Fetcher downloads sourceURL to dest.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL, dest string) error
}

// Transcoder writes a mono 16 kHz 16-bit PCM WAV extracted from videoPath.
type Transcoder interface {
	ExtractAudio(ctx context.Context, videoPath, audioPath string) error
}

// ClassifierProvider hands out loaded classifiers. classifier.Cache is the
// production implementation.
type ClassifierProvider interface {
	Get(ctx context.Context, modelID string) (classifier.Handle, error)
}
