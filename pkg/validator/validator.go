// Package validator runs the external verification command and interprets
// the result, including the HTTP side channel for server-style projects whose
// success never shows up on stdout.
package validator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/forgeloop/forgeloop/pkg/types"
	"github.com/forgeloop/forgeloop/pkg/workspace"
)

// ServerMarkers are the tokens that flag a project as server-style, either in
// the verification command or in its sources.
var ServerMarkers = []string{"flask", "fastapi", "uvicorn", "http.server", "app.run"}

var probePorts = []int{8000, 5000, 8080, 3000}
var probePaths = []string{"/", "/health"}

// Run executes the verification command via the shell in dir. The context
// bounds the run; pass context.Background() for no timeout.
func Run(ctx context.Context, command, dir string) types.RunResult {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := types.RunResult{
		Success: err == nil,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Stderr = fmt.Sprintf("Command execution failed: %v\n%s", err, res.Stderr)
		}
	}
	return res
}

// IsTestCommand reports whether the verification command invokes a test
// runner; expectation substring checks do not apply to test runs.
func IsTestCommand(command string) bool {
	trimmed := strings.TrimSpace(command)
	return strings.HasPrefix(trimmed, "pytest") ||
		strings.HasPrefix(trimmed, "python -m pytest") ||
		strings.HasPrefix(trimmed, "go test") ||
		strings.Contains(trimmed, "unittest")
}

// IsServerProject reports whether the command or the project sources carry a
// server marker token.
func IsServerProject(root, command string) bool {
	lower := strings.ToLower(command)
	for _, token := range ServerMarkers {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return workspace.SourcesContain(root, ServerMarkers)
}

// CheckExpectation decides whether a nominally successful run actually met
// the expected-output contract. For server projects whose stdout lacks the
// expectation, an HTTP probe may still confirm success.
func CheckExpectation(root, command, expect string, res types.RunResult) bool {
	if expect == "" || IsTestCommand(command) {
		return true
	}
	if strings.Contains(res.Stdout, expect) {
		return true
	}
	if IsServerProject(root, command) {
		return ProbeServer(expect)
	}
	return false
}

// ProbeServer issues GET requests against the candidate ports and paths
// looking for the expectation substring. A server accepting connections and
// answering below 500 with matching content counts as success.
func ProbeServer(expect string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	for _, port := range probePorts {
		for _, path := range probePaths {
			url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
			resp, err := client.Get(url)
			if err != nil {
				continue
			}
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			resp.Body.Close()
			if readErr != nil || resp.StatusCode > 499 {
				continue
			}
			if expect == "" || strings.Contains(string(body), expect) {
				return true
			}
		}
	}
	return false
}
