package deps

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"accentid/internal/config"
)

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := writeStub(t, binDir, "ffmpeg", "echo 'ffmpeg version 7.1 Copyright (c) 2000-2024'\necho 'built with gcc'\n")
	silent := writeStub(t, binDir, "quiet", "exit 3\n")
	reqs := []Requirement{
		{Name: "Present", Command: present, VersionArgs: []string{"-version"}},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Silent", Command: silent, VersionArgs: []string{"--version"}},
		{Name: "Unset", Command: "  ", Optional: true},
	}

	results := CheckBinaries(context.Background(), reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}

	if !results[0].Available || results[0].Path != present {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[0].Version != "ffmpeg version 7.1 Copyright (c) 2000-2024" {
		t.Fatalf("unexpected version line %q", results[0].Version)
	}
	if results[0].Detail != "" {
		t.Fatalf("unexpected detail for available dependency: %s", results[0].Detail)
	}

	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}

	if !results[2].Available || results[2].Version != "" {
		t.Fatalf("a failing version probe must not hide availability: %#v", results[2])
	}
	if results[3].Detail != "command not configured" {
		t.Fatalf("unexpected detail for unset command: %q", results[3].Detail)
	}

	missing := MissingRequired(results)
	if len(missing) != 1 || missing[0].Name != "Missing" {
		t.Fatalf("expected only the required missing binary, got %#v", missing)
	}
}

func TestRequirementsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Tools.FFmpeg = "/opt/ffmpeg/bin/ffmpeg"
	cfg.Model.Runner = "/usr/local/bin/uvx"

	reqs := Requirements(&cfg)
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requirements, got %d", len(reqs))
	}
	if reqs[0].Command != "/opt/ffmpeg/bin/ffmpeg" || reqs[1].Command != "ffprobe" || reqs[2].Command != "/usr/local/bin/uvx" {
		t.Fatalf("unexpected commands: %+v", reqs)
	}
	for _, req := range reqs {
		if req.Optional {
			t.Fatalf("%s should be required", req.Name)
		}
	}
}
