package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	// versionGuard answers the dependency version probes.
	versionGuard = "case \" $* \" in *\" -version \"*|*\" --version \"*) echo \"stub 1.0\"; exit 0;; esac\n"

	stubLabels = `["us","england","indian"]`
	stubResult = `{"event":"result","label":"england","index":1,"score":0.8,"scores":[0.1,0.8,0.1]}`
)

type cliTestEnv struct {
	baseDir    string
	binDir     string
	configPath string
	stateDir   string
	cacheDir   string
	workDir    string
}

type envOption func(*envSettings)

type envSettings struct {
	workerScript string
	ffmpegScript string
	extraConfig  string
}

func withWorkerScript(script string) envOption {
	return func(s *envSettings) { s.workerScript = script }
}

func withFFmpegScript(script string) envOption {
	return func(s *envSettings) { s.ffmpegScript = script }
}

func withExtraConfig(toml string) envOption {
	return func(s *envSettings) { s.extraConfig = toml }
}

// setupCLITestEnv writes a config whose ffmpeg, ffprobe, and uvx point at
// shell stubs. The uvx stub speaks the worker protocol without Python.
func setupCLITestEnv(t *testing.T, opts ...envOption) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	home := filepath.Join(base, "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("HF_TOKEN", "")
	t.Setenv("HUGGING_FACE_HUB_TOKEN", "")

	env := &cliTestEnv{
		baseDir:  base,
		binDir:   filepath.Join(base, "bin"),
		stateDir: filepath.Join(base, "state"),
		cacheDir: filepath.Join(base, "models"),
		workDir:  filepath.Join(base, "work"),
	}
	if err := os.MkdirAll(env.binDir, 0o755); err != nil {
		t.Fatalf("mkdir bin: %v", err)
	}

	fixture := filepath.Join(base, "fixture.wav")
	if err := os.WriteFile(fixture, monoWAV(16000, 3200), 0o644); err != nil {
		t.Fatalf("write wav fixture: %v", err)
	}

	settings := envSettings{
		workerScript: fmt.Sprintf("echo '{\"event\":\"ready\",\"labels\":%s}'\nwhile IFS= read -r line; do\n  echo '%s'\ndone\n", stubLabels, stubResult),
		ffmpegScript: fmt.Sprintf("for last; do :; done\ncp %q \"$last\"\n", fixture),
	}
	for _, opt := range opts {
		opt(&settings)
	}

	writeStub(t, env.binDir, "uvx", settings.workerScript)
	writeStub(t, env.binDir, "ffmpeg", settings.ffmpegScript)
	writeStub(t, env.binDir, "ffprobe", `cat <<'JSON'
{"streams":[{"index":0,"codec_type":"video","codec_name":"h264"},{"index":1,"codec_type":"audio","codec_name":"aac","sample_rate":"44100","channels":2}],"format":{"format_name":"mov,mp4","duration":"4.0"}}
JSON
`)

	env.configPath = filepath.Join(base, "accentid.toml")
	config := fmt.Sprintf(`[paths]
work_dir = %q
state_dir = %q
log_dir = %q

[model]
cache_dir = %q
runner = %q
load_timeout_seconds = 30

[tools]
ffmpeg = %q
ffprobe = %q

[logging]
level = "error"
`,
		env.workDir,
		env.stateDir,
		filepath.Join(base, "logs"),
		env.cacheDir,
		filepath.Join(env.binDir, "uvx"),
		filepath.Join(env.binDir, "ffmpeg"),
		filepath.Join(env.binDir, "ffprobe"),
	)
	config += settings.extraConfig
	if err := os.WriteFile(env.configPath, []byte(config), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func writeStub(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	script := "#!/bin/sh\n" + versionGuard + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write %s stub: %v", name, err)
	}
	return path
}

// monoWAV builds a 16-bit PCM mono WAV with dataLen bytes of silence.
func monoWAV(rate uint32, dataLen int) []byte {
	le := binary.LittleEndian
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(36+dataLen))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, le, uint32(16))
	_ = binary.Write(&buf, le, uint16(1))
	_ = binary.Write(&buf, le, uint16(1))
	_ = binary.Write(&buf, le, rate)
	_ = binary.Write(&buf, le, rate*2)
	_ = binary.Write(&buf, le, uint16(2))
	_ = binary.Write(&buf, le, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, le, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}

// newVideoServer serves a body large enough to pass the download floor.
func newVideoServer(t *testing.T) *httptest.Server {
	t.Helper()
	body := bytes.Repeat([]byte("v"), 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.mp4" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	return runCLIWithInput(t, context.Background(), args, configPath, "")
}

func runCLIWithInput(t *testing.T, ctx context.Context, args []string, configPath, stdin string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func assertWorkDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read work dir: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected run workspaces to be removed, found %v", names)
	}
}
