package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	defaultHubBaseURL = "https://huggingface.co"
	hubCheckTimeout   = 10 * time.Second
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckModelHub confirms the model repository is visible on the Hugging Face
// hub with the configured token. A single attempt, no retries.
func CheckModelHub(ctx context.Context, baseURL, modelID, token, userAgent string) Result {
	const name = "Model hub"

	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return Result{Name: name, Detail: "model id missing"}
	}
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = defaultHubBaseURL
	}

	checkCtx, cancel := context.WithTimeout(ctx, hubCheckTimeout)
	defer cancel()

	endpoint := base + "/api/models/" + (&url.URL{Path: modelID}).EscapedPath()
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("lookup failed (%v)", err)}
	}
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return Result{Name: name, Passed: true, Detail: modelID + " reachable"}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Result{Name: name, Detail: fmt.Sprintf("%s requires a valid HF token (%d)", modelID, resp.StatusCode)}
	case http.StatusNotFound:
		return Result{Name: name, Detail: modelID + " not found"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("lookup failed (%d)", resp.StatusCode)}
	}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "lookup timed out (hub unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "lookup timed out (hub unreachable)"
	}
	return err.Error()
}
