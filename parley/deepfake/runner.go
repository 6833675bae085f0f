// Package deepfake invokes the external image classifier process and parses
// its verdict. The classifier itself is an opaque collaborator; this package
// only owns the process boundary.
package deepfake

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Result is the classifier's verdict for one image.
type Result struct {
	IsFake     bool    `json:"isFake"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

// Runner executes the classifier command. The classifier writes diagnostic
// noise to stderr and exactly one JSON object as its final stdout line.
type Runner struct {
	command string
	args    []string
}

// NewRunner builds a runner for an explicit command.
func NewRunner(command string, args ...string) *Runner {
	return &Runner{command: command, args: args}
}

// NewRunnerFromEnv reads the classifier command from DEEPFAKE_CMD and
// DEEPFAKE_SCRIPT, defaulting to the bundled Python service.
func NewRunnerFromEnv() *Runner {
	command := os.Getenv("DEEPFAKE_CMD")
	if command == "" {
		command = "python3"
	}
	script := os.Getenv("DEEPFAKE_SCRIPT")
	if script == "" {
		script = "deepfake_service.py"
	}
	return NewRunner(command, script)
}

// Detect runs the classifier on an image and returns its verdict. The last
// non-empty stdout line must be a JSON result object; anything else is a
// classifier fault surfaced as an error.
func (r *Runner) Detect(ctx context.Context, imagePath string) (Result, error) {
	args := append(append([]string{}, r.args...), imagePath)
	cmd := exec.CommandContext(ctx, r.command, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("classifier process failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	line := lastLine(stdout.String())
	if line == "" {
		return Result{}, fmt.Errorf("classifier produced no output")
	}

	var result Result
	if err := json.Unmarshal([]byte(line), &result); err != nil {
		return Result{}, fmt.Errorf("classifier output is not valid JSON: %w", err)
	}
	if result.Error != "" {
		return Result{}, fmt.Errorf("classifier error: %s", result.Error)
	}
	return result, nil
}

// lastLine returns the final non-empty line of s.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
