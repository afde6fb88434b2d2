package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFetch         = errors.New("video download failed")
	ErrTranscode     = errors.New("audio extraction failed")
	ErrModelLoad     = errors.New("model load failed")
	ErrAudioNotFound = errors.New("audio file not found")
	ErrUnclassified  = errors.New("classification failed")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
)

// Kind names used in logs and JSON error bodies.
const (
	KindFetch         = "fetch"
	KindTranscode     = "transcode"
	KindModelLoad     = "model_load"
	KindAudioNotFound = "audio_not_found"
	KindValidation    = "validation"
	KindConfiguration = "configuration"
	KindCanceled      = "canceled"
	KindUnclassified  = "unclassified"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker. The marker should be one of the exported sentinel errors
// above; nil falls back to ErrUnclassified.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrUnclassified
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify guarantees err carries a taxonomy marker. Errors that already carry
// one, context cancellations, and nil pass through unchanged.
func Classify(stage string, err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != KindUnclassified || errors.Is(err, ErrUnclassified) {
		return err
	}
	return Wrap(ErrUnclassified, stage, "", "", err)
}

// Kind reports the taxonomy kind of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, ErrFetch):
		return KindFetch
	case errors.Is(err, ErrTranscode):
		return KindTranscode
	case errors.Is(err, ErrModelLoad):
		return KindModelLoad
	case errors.Is(err, ErrAudioNotFound):
		return KindAudioNotFound
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	default:
		return KindUnclassified
	}
}

// Hint returns an operator-facing next step for err.
func Hint(err error) string {
	switch Kind(err) {
	case KindFetch:
		return "check that the URL is a direct, publicly reachable video link"
	case KindTranscode:
		return "check that the file is a video with an audio track and that ffmpeg is installed"
	case KindModelLoad:
		return "check network access to Hugging Face, the model id, and that uvx is installed"
	case KindAudioNotFound:
		return "audio extraction produced no file; rerun with debug logging"
	case KindValidation:
		return "correct the input and retry"
	case KindConfiguration:
		return "run accentid config validate"
	case KindCanceled:
		return "the run was interrupted"
	default:
		return "check logs for details"
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
