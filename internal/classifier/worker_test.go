package classifier

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"accentid/internal/logging"
	"accentid/internal/services"
)

// fakeWorker answers requests read from the handle's stdin using respond.
type fakeWorker struct {
	handle   *workerHandle
	requests chan workerRequest
	stdout   *io.PipeWriter
}

func startFakeWorker(t *testing.T, labels []string, respond func(workerRequest) string) *fakeWorker {
	t.Helper()
	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	fw := &fakeWorker{requests: make(chan workerRequest, 8), stdout: stdoutW}

	go func() {
		defer stdoutW.Close()
		scanner := bufio.NewScanner(stdinR)
		for scanner.Scan() {
			var req workerRequest
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				return
			}
			fw.requests <- req
			line := respond(req)
			if line == "" {
				continue
			}
			if _, err := io.WriteString(stdoutW, line+"\n"); err != nil {
				return
			}
		}
	}()

	logger := logging.NewNop()
	stop := func() error {
		_ = stdinR.Close()
		return nil
	}
	fw.handle = newWorkerHandle(DefaultModelID, stdinW, readResponses(stdoutR, logger), stop, nil, logger)
	fw.handle.labels = labels
	t.Cleanup(func() { _ = fw.handle.Close() })
	return fw
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "output_audio.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func TestWorkerClassifyReturnsArgmaxOfDistribution(t *testing.T) {
	labels := []string{"us", "england", "australia"}
	fw := startFakeWorker(t, labels, func(workerRequest) string {
		return `{"event":"result","label":"england","index":1,"score":0.7,"scores":[0.2,0.7,0.1]}`
	})
	audio := writeAudio(t)

	pred, err := fw.handle.Classify(context.Background(), audio)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if pred.Label != "england" {
		t.Fatalf("expected england, got %q", pred.Label)
	}
	if pred.Confidence != 70 {
		t.Fatalf("expected 70%% confidence, got %v", pred.Confidence)
	}
	if len(pred.Distribution) != 3 || pred.Distribution[0].Label != "england" || pred.Distribution[2].Label != "australia" {
		t.Fatalf("unexpected distribution order: %+v", pred.Distribution)
	}

	req := <-fw.requests
	if !filepath.IsAbs(filepath.FromSlash(req.Audio)) {
		t.Fatalf("expected absolute audio path, got %q", req.Audio)
	}
	if strings.Contains(req.Audio, `\`) {
		t.Fatalf("expected forward slashes, got %q", req.Audio)
	}
}

func TestWorkerClassifyMissingAudio(t *testing.T) {
	fw := startFakeWorker(t, nil, func(workerRequest) string { return "" })
	missing := filepath.Join(t.TempDir(), "nope.wav")

	_, err := fw.handle.Classify(context.Background(), missing)
	if !errors.Is(err, services.ErrAudioNotFound) {
		t.Fatalf("expected ErrAudioNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "audio file not found: ") {
		t.Fatalf("expected path in message, got %q", err.Error())
	}
	select {
	case req := <-fw.requests:
		t.Fatalf("worker should not see a request, got %+v", req)
	default:
	}
}

func TestWorkerClassifyErrorEvent(t *testing.T) {
	fw := startFakeWorker(t, nil, func(workerRequest) string {
		return `{"event":"error","error":"RuntimeError: bad audio"}`
	})
	_, err := fw.handle.Classify(context.Background(), writeAudio(t))
	if !errors.Is(err, services.ErrUnclassified) {
		t.Fatalf("expected ErrUnclassified, got %v", err)
	}
	if !strings.Contains(err.Error(), "bad audio") {
		t.Fatalf("expected worker error text, got %q", err.Error())
	}
	if !fw.handle.Alive() {
		t.Fatal("an inference error must not mark the worker dead")
	}
}

func TestWorkerSkipsNonProtocolLines(t *testing.T) {
	fw := startFakeWorker(t, []string{"us", "england"}, func(workerRequest) string {
		return "Downloading weights...\nnot json {\n" + `{"event":"result","label":"us","scores":[0.9,0.1]}`
	})
	pred, err := fw.handle.Classify(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if pred.Label != "us" {
		t.Fatalf("expected us, got %q", pred.Label)
	}
}

func TestWorkerDiscardsStaleResponseAfterCancellation(t *testing.T) {
	release := make(chan struct{})
	calls := 0
	fw := startFakeWorker(t, []string{"us", "england"}, func(workerRequest) string {
		calls++
		if calls == 1 {
			<-release
			return `{"event":"result","label":"us","scores":[0.9,0.1]}`
		}
		return `{"event":"result","label":"england","scores":[0.2,0.8]}`
	})
	audio := writeAudio(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := fw.handle.Classify(ctx, audio); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	close(release)

	pred, err := fw.handle.Classify(context.Background(), audio)
	if err != nil {
		t.Fatalf("Classify after cancellation: %v", err)
	}
	if pred.Label != "england" {
		t.Fatalf("expected the fresh response, got %q", pred.Label)
	}
}

func TestWorkerExitMarksHandleDead(t *testing.T) {
	fw := startFakeWorker(t, nil, func(workerRequest) string { return "" })
	fw.handle.stderr.Write([]byte("Traceback...\nMemoryError: out of memory\n"))
	_ = fw.stdout.Close()

	_, err := fw.handle.Classify(context.Background(), writeAudio(t))
	if err == nil {
		t.Fatal("expected error from exited worker")
	}
	if !strings.Contains(err.Error(), "MemoryError: out of memory") {
		t.Fatalf("expected stderr tail in error, got %q", err.Error())
	}
	if fw.handle.Alive() {
		t.Fatal("expected handle to be marked dead")
	}
}

func TestWorkerCloseIsIdempotent(t *testing.T) {
	stops := 0
	stdinR, stdinW := io.Pipe()
	defer stdinR.Close()
	handle := newWorkerHandle("m", stdinW, make(chan workerResponse), func() error {
		stops++
		return nil
	}, nil, logging.NewNop())

	for i := range 2 {
		if err := handle.Close(); err != nil {
			t.Fatalf("Close %d: %v", i, err)
		}
	}
	if stops != 1 {
		t.Fatalf("expected stop once, got %d", stops)
	}
	if handle.Alive() {
		t.Fatal("closed handle must not report alive")
	}
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	buf := newTailBuffer(8)
	for i := range 5 {
		fmt.Fprintf(buf, "line%d\n", i)
	}
	if got := buf.Tail(); got != "3\nline4" {
		t.Fatalf("unexpected tail %q", got)
	}
	if got := lastLine(buf.Tail()); got != "line4" {
		t.Fatalf("unexpected last line %q", got)
	}
}
