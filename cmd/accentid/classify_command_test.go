package main

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"accentid/internal/pipeline"
	"accentid/internal/services"
)

func TestClassifyPrintsResult(t *testing.T) {
	env := setupCLITestEnv(t)
	srv := newVideoServer(t)

	stdout, _, err := runCLI(t, []string{"classify", srv.URL + "/clip.mp4"}, env.configPath)
	if err != nil {
		t.Fatalf("classify returned error: %v\nstdout: %s", err, stdout)
	}

	wantOrder := []string{
		"[*] Downloading video...",
		"[*] Extracting audio...",
		"[*] Loading accent classification model...",
		"[*] Classifying accent...",
		"Accent Classification Result:",
		"Accent: england",
		"Confidence: 80.00",
		"Explanation: The speaker's accent is predicted to be **england** with 80.00% confidence.",
	}
	pos := 0
	for _, want := range wantOrder {
		idx := strings.Index(stdout[pos:], want)
		if idx < 0 {
			t.Fatalf("expected %q after offset %d in output:\n%s", want, pos, stdout)
		}
		pos += idx + len(want)
	}
	assertWorkDirEmpty(t, env.workDir)

	listOut, _, err := runCLI(t, []string{"model", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("model list returned error: %v", err)
	}
	if !strings.Contains(listOut, "Jzuluaga/accent-id-commonaccent_ecapa *") {
		t.Fatalf("expected loaded model in manifest listing, got:\n%s", listOut)
	}
}

func TestClassifyJSONOutput(t *testing.T) {
	env := setupCLITestEnv(t)
	srv := newVideoServer(t)

	stdout, stderr, err := runCLI(t, []string{"classify", "--json", srv.URL + "/clip.mp4"}, env.configPath)
	if err != nil {
		t.Fatalf("classify returned error: %v", err)
	}
	var result pipeline.Result
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("stdout is not a JSON result: %v\n%s", err, stdout)
	}
	if result.Accent != "england" || result.DisplayAccent != "England" {
		t.Fatalf("unexpected accent: %+v", result)
	}
	if result.Confidence != 80 {
		t.Fatalf("expected 80%% confidence, got %v", result.Confidence)
	}
	if len(result.Distribution) != 3 || result.Distribution["us"] != 10 {
		t.Fatalf("unexpected distribution: %v", result.Distribution)
	}
	if !strings.Contains(stderr, "[*] Downloading video...") {
		t.Fatalf("expected progress on stderr in JSON mode, got %q", stderr)
	}
}

func TestClassifyTableListsEveryAccent(t *testing.T) {
	env := setupCLITestEnv(t)
	srv := newVideoServer(t)

	stdout, _, err := runCLI(t, []string{"classify", "--table", srv.URL + "/clip.mp4"}, env.configPath)
	if err != nil {
		t.Fatalf("classify returned error: %v", err)
	}
	for _, want := range []string{"United States", "England", "Indian", "80.00%", "10.00%"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("expected %q in table output:\n%s", want, stdout)
		}
	}
	if strings.Index(stdout, "England") > strings.Index(stdout, "Indian") {
		t.Fatalf("expected highest score first:\n%s", stdout)
	}
}

func TestClassifyReadsURLFromStdin(t *testing.T) {
	env := setupCLITestEnv(t)
	srv := newVideoServer(t)

	stdout, _, err := runCLIWithInput(t, context.Background(), []string{"classify"}, env.configPath, srv.URL+"/clip.mp4\n")
	if err != nil {
		t.Fatalf("classify returned error: %v", err)
	}
	if strings.Contains(stdout, urlPrompt) {
		t.Fatalf("prompt should only be shown to a terminal:\n%s", stdout)
	}
	if !strings.Contains(stdout, "Accent: england") {
		t.Fatalf("expected result, got:\n%s", stdout)
	}
}

func TestClassifyWithoutURL(t *testing.T) {
	env := setupCLITestEnv(t)

	stdout, _, err := runCLIWithInput(t, context.Background(), []string{"classify"}, env.configPath, "   \n")
	if err != nil {
		t.Fatalf("expected exit 0 without --strict, got %v", err)
	}
	if strings.TrimSpace(stdout) != "No URL provided." {
		t.Fatalf("unexpected output %q", stdout)
	}

	_, _, err = runCLIWithInput(t, context.Background(), []string{"classify", "--strict"}, env.configPath, "")
	if services.Kind(err) != services.KindValidation {
		t.Fatalf("expected validation error with --strict, got %v", err)
	}
}

func TestClassifyFailuresAreReported(t *testing.T) {
	srv := newVideoServer(t)

	cases := []struct {
		name     string
		opts     []envOption
		path     string
		wantKind string
		wantText string
	}{
		{
			name:     "download",
			path:     "/missing.mp4",
			wantKind: services.KindFetch,
			wantText: "Error: video download failed",
		},
		{
			name:     "transcode",
			opts:     []envOption{withFFmpegScript("echo 'Invalid data found when processing input' >&2\nexit 1\n")},
			path:     "/clip.mp4",
			wantKind: services.KindTranscode,
			wantText: "Error: audio extraction failed",
		},
		{
			name:     "model load",
			opts:     []envOption{withWorkerScript(`echo '{"event":"error","error":"OSError: repository not found"}'` + "\n")},
			path:     "/clip.mp4",
			wantKind: services.KindModelLoad,
			wantText: "repository not found",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := setupCLITestEnv(t, tc.opts...)

			stdout, _, err := runCLI(t, []string{"classify", srv.URL + tc.path}, env.configPath)
			if err != nil {
				t.Fatalf("expected exit 0 without --strict, got %v", err)
			}
			if !strings.Contains(stdout, tc.wantText) {
				t.Fatalf("expected %q in output:\n%s", tc.wantText, stdout)
			}
			if !strings.Contains(stdout, "Hint: ") {
				t.Fatalf("expected a hint line:\n%s", stdout)
			}
			assertWorkDirEmpty(t, env.workDir)

			jsonOut, _, err := runCLI(t, []string{"classify", "--json", srv.URL + tc.path}, env.configPath)
			if err != nil {
				t.Fatalf("json run returned error: %v", err)
			}
			var failure classifyFailure
			if err := json.Unmarshal([]byte(jsonOut), &failure); err != nil {
				t.Fatalf("decode failure payload: %v\n%s", err, jsonOut)
			}
			if failure.Kind != tc.wantKind {
				t.Fatalf("expected kind %q, got %+v", tc.wantKind, failure)
			}

			_, _, err = runCLI(t, []string{"classify", "--strict", srv.URL + tc.path}, env.configPath)
			if services.Kind(err) != tc.wantKind {
				t.Fatalf("expected %s error with --strict, got %v", tc.wantKind, err)
			}
		})
	}
}

func TestClassifyCanceledContextFails(t *testing.T) {
	env := setupCLITestEnv(t)
	srv := newVideoServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := runCLIWithInput(t, ctx, []string{"classify", srv.URL + "/clip.mp4"}, env.configPath, "")
	if services.Kind(err) != services.KindCanceled {
		t.Fatalf("expected canceled error even without --strict, got %v", err)
	}
}

func TestStageMessages(t *testing.T) {
	if got := stageMessage(pipeline.StageTranscoding); got != "[*] Extracting audio..." {
		t.Fatalf("unexpected message %q", got)
	}
	if got := stageMessage(pipeline.Stage("custom")); got != "[*] custom..." {
		t.Fatalf("unexpected fallback %q", got)
	}
}
