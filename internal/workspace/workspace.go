// Package workspace owns the per-run scratch directory that holds the
// downloaded video and the extracted audio.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	videoFileName = "input_video.mp4"
	audioFileName = "output_audio.wav"
)

// Workspace is a private directory for one run. Release removes it and
// everything inside.
type Workspace struct {
	Dir string

	once sync.Once
	err  error
}

// Acquire creates a fresh workspace under root. An empty root uses the OS
// temporary directory.
func Acquire(root, runID string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		root = os.TempDir()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	pattern := "accentid-*"
	if id := sanitize(runID); id != "" {
		pattern = "accentid-" + id + "-*"
	}
	dir, err := os.MkdirTemp(root, pattern)
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{Dir: dir}, nil
}

// VideoPath is where the fetched video is written.
func (w *Workspace) VideoPath() string { return filepath.Join(w.Dir, videoFileName) }

// AudioPath is where the extracted audio is written.
func (w *Workspace) AudioPath() string { return filepath.Join(w.Dir, audioFileName) }

// Release removes the workspace. Safe to call more than once and on nil.
func (w *Workspace) Release() error {
	if w == nil {
		return nil
	}
	w.once.Do(func() {
		if err := os.RemoveAll(w.Dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			w.err = fmt.Errorf("remove workspace %s: %w", w.Dir, err)
		}
	})
	return w.err
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return -1
		}
	}, strings.TrimSpace(id))
}
