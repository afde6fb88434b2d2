package classifier

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"accentid/internal/logging"
	"accentid/internal/services"
)

const (
	eventReady  = "ready"
	eventResult = "result"
	eventError  = "error"

	maxResponseBytes = 4 << 20
	stderrTailBytes  = 4096
)

type workerRequest struct {
	Audio string `json:"audio"`
}

type workerResponse struct {
	Event  string    `json:"event"`
	Error  string    `json:"error,omitempty"`
	Labels []string  `json:"labels,omitempty"`
	Label  string    `json:"label,omitempty"`
	Index  int       `json:"index,omitempty"`
	Score  *float64  `json:"score,omitempty"`
	Scores []float64 `json:"scores,omitempty"`
}

// workerHandle talks to one worker process. Requests are serialized by mu;
// responses arrive on a channel fed by a single reader goroutine. A request
// abandoned by its caller leaves a stale response that the next caller
// discards before sending its own.
type workerHandle struct {
	modelID string
	labels  []string
	logger  *slog.Logger

	mu        sync.Mutex
	stdin     io.WriteCloser
	responses <-chan workerResponse
	stale     int
	dead      atomic.Bool

	stop   func() error
	stderr *tailBuffer
}

func newWorkerHandle(modelID string, stdin io.WriteCloser, responses <-chan workerResponse, stop func() error, stderr *tailBuffer, logger *slog.Logger) *workerHandle {
	if stop == nil {
		stop = func() error { return nil }
	}
	if stderr == nil {
		stderr = newTailBuffer(stderrTailBytes)
	}
	return &workerHandle{
		modelID:   modelID,
		stdin:     stdin,
		responses: responses,
		stop:      stop,
		stderr:    stderr,
		logger:    logging.NewComponentLogger(logger, "classifier"),
	}
}

// readResponses decodes one JSON object per line until r is exhausted, then
// closes the returned channel. Lines that are not JSON objects are logged and
// skipped.
func readResponses(r io.Reader, logger *slog.Logger) <-chan workerResponse {
	out := make(chan workerResponse, 1)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxResponseBytes)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			if line[0] != '{' {
				logger.Debug("worker output", logging.String("line", string(line)))
				continue
			}
			var resp workerResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				logger.Debug("undecodable worker line", logging.Error(err))
				continue
			}
			out <- resp
		}
		if err := scanner.Err(); err != nil {
			logger.Debug("worker stdout closed", logging.Error(err))
		}
	}()
	return out
}

func (h *workerHandle) ModelID() string { return h.modelID }

func (h *workerHandle) Labels() []string { return append([]string(nil), h.labels...) }

// Alive reports whether the worker can still accept requests.
func (h *workerHandle) Alive() bool {
	return !h.dead.Load()
}

// Classify runs inference on audioPath. The path is resolved to an absolute,
// forward-slash form before it is sent to the worker.
func (h *workerHandle) Classify(ctx context.Context, audioPath string) (Prediction, error) {
	resolved, err := filepath.Abs(audioPath)
	if err != nil {
		resolved = audioPath
	}
	resolved = filepath.ToSlash(resolved)
	if _, err := os.Stat(resolved); err != nil {
		return Prediction{}, services.Wrap(services.ErrAudioNotFound, "classify", "", fmt.Sprintf("audio file not found: %s", resolved), err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dead.Load() {
		return Prediction{}, h.exited()
	}

	for h.stale > 0 {
		select {
		case _, ok := <-h.responses:
			if !ok {
				return Prediction{}, h.exited()
			}
			h.stale--
		case <-ctx.Done():
			return Prediction{}, services.Wrap(services.ErrUnclassified, "classify", "", "interrupted", ctx.Err())
		}
	}

	payload, err := json.Marshal(workerRequest{Audio: resolved})
	if err != nil {
		return Prediction{}, services.Wrap(services.ErrUnclassified, "classify", "encode request", "", err)
	}
	if _, err := h.stdin.Write(append(payload, '\n')); err != nil {
		return Prediction{}, h.exited()
	}

	var resp workerResponse
	select {
	case r, ok := <-h.responses:
		if !ok {
			return Prediction{}, h.exited()
		}
		resp = r
	case <-ctx.Done():
		h.stale++
		return Prediction{}, services.Wrap(services.ErrUnclassified, "classify", "", "interrupted", ctx.Err())
	}

	if resp.Event == eventError || resp.Error != "" {
		return Prediction{}, services.Wrap(services.ErrUnclassified, "classify", "inference", resp.Error, nil)
	}
	pred, err := buildPrediction(h.labels, resp)
	if err != nil {
		return Prediction{}, services.Wrap(services.ErrUnclassified, "classify", "decode result", "", err)
	}
	logging.WithContext(ctx, h.logger).Debug("classification complete",
		logging.String(logging.FieldModelID, h.modelID),
		logging.String("label", pred.Label),
		logging.Float64("confidence", pred.Confidence),
	)
	return pred, nil
}

// exited marks the handle dead and reports why. Callers must hold mu.
func (h *workerHandle) exited() error {
	h.dead.Store(true)
	detail := "classifier worker exited"
	if tail := h.stderr.Tail(); tail != "" {
		detail += ": " + lastLine(tail)
	}
	return services.Wrap(services.ErrUnclassified, "classify", "", detail, nil)
}

// Close ends the worker by closing its stdin and waiting for it to exit.
func (h *workerHandle) Close() error {
	h.mu.Lock()
	if h.dead.Load() && h.stdin == nil {
		h.mu.Unlock()
		return nil
	}
	h.dead.Store(true)
	stdin := h.stdin
	h.stdin = nil
	h.mu.Unlock()

	var errs []error
	if stdin != nil {
		if err := stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if err := h.stop(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// tailBuffer keeps the last n bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	max  int
	data []byte
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{max: n}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if over := len(b.data) - b.max; over > 0 {
		b.data = append(b.data[:0], b.data[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) Tail() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.data))
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[idx+1:])
	}
	return s
}
