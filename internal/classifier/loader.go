package classifier

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"accentid/internal/logging"
	"accentid/internal/modelstore"
	"accentid/internal/services"
)

//go:embed worker.py
var workerScript string

const (
	defaultReadyTimeout = 10 * time.Minute
	lockRetryDelay      = 250 * time.Millisecond
	stopGracePeriod     = 5 * time.Second
)

// modelIDPattern accepts Hugging Face repo ids: an optional owner and a name,
// each starting with a letter or digit.
var modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*(/[A-Za-z0-9][A-Za-z0-9._-]*)?$`)

// ManifestRecorder records models that finished preparing.
type ManifestRecorder interface {
	RecordLoad(ctx context.Context, entry modelstore.Entry) error
}

// LoaderConfig describes how workers are launched.
type LoaderConfig struct {
	// CacheDir holds one artifact directory per model id.
	CacheDir string
	// Device is passed to SpeechBrain as run_opts device.
	Device string
	// HFToken is exported as HF_TOKEN to the worker when set.
	HFToken string
	// Runner is the uvx-compatible launcher.
	Runner string
	// Packages are installed into the ephemeral environment with --with.
	Packages []string
	// ReadyTimeout bounds artifact download plus model construction.
	ReadyTimeout time.Duration
}

// SpeechBrainLoader starts Python workers hosting EncoderClassifier models.
type SpeechBrainLoader struct {
	cfg      LoaderConfig
	manifest ManifestRecorder
	logger   *slog.Logger
}

// NewSpeechBrainLoader builds a loader. manifest may be nil.
func NewSpeechBrainLoader(cfg LoaderConfig, manifest ManifestRecorder, logger *slog.Logger) *SpeechBrainLoader {
	if strings.TrimSpace(cfg.Runner) == "" {
		cfg.Runner = "uvx"
	}
	if strings.TrimSpace(cfg.Device) == "" {
		cfg.Device = "cpu"
	}
	if len(cfg.Packages) == 0 {
		cfg.Packages = []string{"speechbrain", "torchaudio", "soundfile"}
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	return &SpeechBrainLoader{
		cfg:      cfg,
		manifest: manifest,
		logger:   logging.NewComponentLogger(logger, "model-loader"),
	}
}

// ValidateModelID rejects ids that are not of the form owner/name or name.
func ValidateModelID(modelID string) error {
	if !modelIDPattern.MatchString(modelID) {
		return fmt.Errorf("invalid model id %q: expected owner/name", modelID)
	}
	return nil
}

// ArtifactDir returns where artifacts for modelID are stored. The result is
// always a direct child of cacheDir.
func ArtifactDir(cacheDir, modelID string) (string, error) {
	if err := ValidateModelID(modelID); err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, strings.ReplaceAll(modelID, "/", "--")), nil
}

// LockArtifacts takes the exclusive lock guarding dir, retrying until ctx is
// done. The returned func releases it.
func LockArtifacts(ctx context.Context, dir string) (func() error, error) {
	lock := flock.New(dir + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		if err == nil {
			err = errors.New("lock not acquired")
		}
		return nil, err
	}
	return lock.Unlock, nil
}

// Load starts a worker for modelID and waits until it has the model in memory.
// An exclusive file lock on the artifact directory is held until then so two
// processes never write the same artifacts concurrently.
func (l *SpeechBrainLoader) Load(ctx context.Context, modelID string) (Handle, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return nil, services.Wrap(services.ErrModelLoad, "load model", "", "empty model id", nil)
	}
	if strings.TrimSpace(l.cfg.CacheDir) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "load model", modelID, "model cache dir not configured", nil)
	}
	saveDir, err := ArtifactDir(l.cfg.CacheDir, modelID)
	if err != nil {
		return nil, services.Wrap(services.ErrModelLoad, "load model", modelID, "", err)
	}
	logger := logging.WithContext(ctx, l.logger).With(logging.String(logging.FieldModelID, modelID))

	if err := os.MkdirAll(saveDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrModelLoad, "load model", modelID, "create artifact dir", err)
	}

	unlock, err := LockArtifacts(ctx, saveDir)
	if err != nil {
		return nil, services.Wrap(services.ErrModelLoad, "load model", modelID, "lock artifact dir", err)
	}
	defer func() {
		if unlockErr := unlock(); unlockErr != nil {
			logger.Debug("artifact lock release failed", logging.Error(unlockErr))
		}
	}()

	scriptPath, cleanupScript, err := writeScript()
	if err != nil {
		return nil, services.Wrap(services.ErrModelLoad, "load model", modelID, "write worker script", err)
	}
	// Python has read the script once the worker reports ready or fails.
	defer cleanupScript()

	start := time.Now()
	handle, labels, err := l.start(ctx, modelID, saveDir, scriptPath, logger)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	if l.manifest != nil {
		entry := modelstore.Entry{
			ModelID:      modelID,
			ArtifactDir:  saveDir,
			Device:       l.cfg.Device,
			Labels:       labels,
			LoadDuration: elapsed,
			LoadedAt:     time.Now().UTC(),
		}
		if err := l.manifest.RecordLoad(ctx, entry); err != nil {
			logging.WarnWithContext(logger, "model manifest update failed", "manifest_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "model list output may be stale"),
				logging.String(logging.FieldErrorHint, "check permissions on the state directory"),
			)
		}
	}
	return handle, nil
}

func (l *SpeechBrainLoader) start(ctx context.Context, modelID, saveDir, scriptPath string, logger *slog.Logger) (*workerHandle, []string, error) {
	args := []string{"--quiet"}
	for _, pkg := range l.cfg.Packages {
		args = append(args, "--with", pkg)
	}
	args = append(args, "python", scriptPath,
		"--source", modelID,
		"--savedir", saveDir,
		"--device", l.cfg.Device,
	)

	// The worker outlives ctx; it is stopped through Handle.Close.
	cmd := exec.Command(l.cfg.Runner, args...) //nolint:gosec
	// uvx runs python as a child; a process group lets kill reach both.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()
	if l.cfg.HFToken != "" {
		cmd.Env = append(cmd.Env, "HF_TOKEN="+l.cfg.HFToken)
	}
	stderr := newTailBuffer(stderrTailBytes)
	cmd.Stderr = io.MultiWriter(stderr, &debugLineWriter{logger: logger})

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, services.Wrap(services.ErrModelLoad, "load model", modelID, "open worker stdin", err)
	}
	// A plain pipe instead of StdoutPipe: Wait must not close the read side
	// before the last response line has been consumed.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, nil, services.Wrap(services.ErrModelLoad, "load model", modelID, "open worker stdout", err)
	}
	cmd.Stdout = stdoutW
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stdoutW.Close()
		return nil, nil, services.Wrap(services.ErrModelLoad, "load model", modelID, fmt.Sprintf("start %s", l.cfg.Runner), err)
	}
	_ = stdoutW.Close()

	kill := func() { _ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL) }
	exited := make(chan struct{})
	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Debug("worker exited", logging.Error(err))
		}
		close(exited)
	}()
	stop := func() error {
		defer stdout.Close()
		select {
		case <-exited:
		case <-time.After(stopGracePeriod):
			kill()
			<-exited
		}
		return nil
	}

	responses := readResponses(stdout, logger)
	handle := newWorkerHandle(modelID, stdin, responses, stop, stderr, logger)
	go func() {
		<-exited
		handle.dead.Store(true)
	}()

	readyCtx, cancel := context.WithTimeout(ctx, l.cfg.ReadyTimeout)
	defer cancel()

	fail := func(message string, cause error) (*workerHandle, []string, error) {
		kill()
		_ = handle.Close()
		if tail := stderr.Tail(); tail != "" && cause == nil {
			message += ": " + lastLine(tail)
		}
		return nil, nil, services.Wrap(services.ErrModelLoad, "load model", modelID, message, cause)
	}

	select {
	case resp, ok := <-responses:
		if !ok {
			return fail("worker exited before ready", nil)
		}
		switch {
		case resp.Event == eventReady:
			handle.labels = resp.Labels
			logger.Debug("worker ready", logging.Int("labels", len(resp.Labels)))
			return handle, resp.Labels, nil
		case resp.Error != "":
			return fail(resp.Error, nil)
		default:
			return fail(fmt.Sprintf("unexpected worker event %q", resp.Event), nil)
		}
	case <-readyCtx.Done():
		if err := ctx.Err(); err != nil {
			return fail("worker did not become ready", err)
		}
		return fail(fmt.Sprintf("worker did not become ready within %s", l.cfg.ReadyTimeout), nil)
	}
}

func writeScript() (string, func(), error) {
	file, err := os.CreateTemp("", "accentid-worker-*.py")
	if err != nil {
		return "", nil, err
	}
	path := file.Name()
	cleanup := func() { _ = os.Remove(path) }
	if _, err := file.WriteString(workerScript); err != nil {
		_ = file.Close()
		cleanup()
		return "", nil, err
	}
	if err := file.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return path, cleanup, nil
}

// debugLineWriter forwards worker stderr lines to the debug log.
type debugLineWriter struct {
	logger  *slog.Logger
	pending []byte
}

func (w *debugLineWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		idx := bytes.IndexByte(w.pending, '\n')
		if idx < 0 {
			break
		}
		if line := strings.TrimSpace(string(w.pending[:idx])); line != "" {
			w.logger.Debug("worker stderr", logging.String("line", line))
		}
		w.pending = w.pending[idx+1:]
	}
	return len(p), nil
}
