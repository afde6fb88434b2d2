package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"accentid/internal/logging"
	"accentid/internal/media/ffprobe"
	"accentid/internal/media/wav"
	"accentid/internal/services"
)

const (
	// SampleRate is the rate the accent model was trained on.
	SampleRate = 16000
	// Channels is fixed to mono.
	Channels = 1

	stderrLimit = 2048
)

type probeFunc func(ctx context.Context, binary, path string) (ffprobe.Result, error)

// FFmpegTranscoder converts videos to classifier-ready WAV files.
type FFmpegTranscoder struct {
	ffmpeg  string
	ffprobe string
	runner  commandRunner
	probe   probeFunc
	logger  *slog.Logger
}

// New builds a transcoder using the given binaries. Empty names fall back to
// ffmpeg and ffprobe on PATH.
func New(ffmpegBinary, ffprobeBinary string, logger *slog.Logger) *FFmpegTranscoder {
	if strings.TrimSpace(ffmpegBinary) == "" {
		ffmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(ffprobeBinary) == "" {
		ffprobeBinary = "ffprobe"
	}
	return &FFmpegTranscoder{
		ffmpeg:  ffmpegBinary,
		ffprobe: ffprobeBinary,
		runner:  execRunner{},
		probe:   ffprobe.Inspect,
		logger:  logging.NewComponentLogger(logger, "transcode"),
	}
}

// ExtractAudio writes the first audio stream of videoPath to audioPath as
// 16 kHz mono PCM s16le WAV.
func (t *FFmpegTranscoder) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	logger := logging.WithContext(ctx, t.logger)

	if _, err := os.Stat(videoPath); err != nil {
		return services.Wrap(services.ErrTranscode, "transcode", "open video", "video file unavailable", err)
	}

	probe, err := t.probe(ctx, t.ffprobe, videoPath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return services.Wrap(services.ErrTranscode, "transcode", "probe", "interrupted", ctxErr)
		}
		return services.Wrap(services.ErrTranscode, "transcode", "probe", "video could not be decoded", err)
	}
	audio := probe.AudioStreams()
	if len(audio) == 0 {
		return services.Wrap(services.ErrTranscode, "transcode", "probe", "no audio track", nil)
	}
	logger.Debug("video probed",
		logging.String("container", probe.Format.FormatName),
		logging.Float64("duration_seconds", probe.DurationSeconds()),
		logging.Int("audio_streams", len(audio)),
		logging.String("audio_codec", audio[0].CodecName),
		logging.Int("source_sample_rate", audio[0].SampleRateHz()),
	)

	start := time.Now()
	args := buildArgs(videoPath, audioPath)
	result, err := t.runner.Run(ctx, t.ffmpeg, args...)
	if err != nil {
		_ = os.Remove(audioPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return services.Wrap(services.ErrTranscode, "transcode", "ffmpeg", "interrupted", ctxErr)
		}
		detail := fmt.Sprintf("ffmpeg exited with code %d", result.ExitCode)
		if tail := trimStderr(result.Stderr); tail != "" {
			detail += ": " + tail
		}
		return services.Wrap(services.ErrTranscode, "transcode", "ffmpeg", detail, err)
	}

	header, err := wav.Inspect(audioPath)
	if err != nil {
		_ = os.Remove(audioPath)
		if errors.Is(err, os.ErrNotExist) {
			return services.Wrap(services.ErrTranscode, "transcode", "verify", "ffmpeg produced no output", err)
		}
		return services.Wrap(services.ErrTranscode, "transcode", "verify", "output is not a WAV file", err)
	}
	if err := checkHeader(header); err != nil {
		_ = os.Remove(audioPath)
		return services.Wrap(services.ErrTranscode, "transcode", "verify", "unexpected audio format", err)
	}

	logger.Info("audio extracted",
		logging.Duration("audio_duration", header.Duration()),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func buildArgs(videoPath, audioPath string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-y",
		"-i", videoPath,
		"-vn",
		"-map", "0:a:0",
		"-ac", fmt.Sprint(Channels),
		"-ar", fmt.Sprint(SampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		audioPath,
	}
}

func checkHeader(h wav.Header) error {
	switch {
	case !h.IsPCM16():
		return fmt.Errorf("want 16-bit PCM, got format %#x with %d bits", h.AudioFormat, h.BitsPerSample)
	case h.Channels != Channels:
		return fmt.Errorf("want %d channel, got %d", Channels, h.Channels)
	case h.SampleRate != SampleRate:
		return fmt.Errorf("want %d Hz, got %d Hz", SampleRate, h.SampleRate)
	case h.DataBytes == 0:
		return errors.New("audio track is empty")
	}
	return nil
}

func trimStderr(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > stderrLimit {
		stderr = "..." + stderr[len(stderr)-stderrLimit:]
	}
	return stderr
}
