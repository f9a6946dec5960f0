package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Runner executes the external tools (poppler, tesseract, HEIC converters). Tests stub it.
type Runner interface {
	Run(ctx context.Context, name string, logger *slog.Logger, args ...string) (stdout, stderr []byte, err error)
}

// ToolError is a tool that could not start or exited non-zero.
type ToolError struct {
	Tool     string
	ExitCode int // -1 when the process never ran
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	if e.Missing() {
		return e.Tool + ": not installed or not in PATH"
	}
	msg := fmt.Sprintf("%s exited with code %d", e.Tool, e.ExitCode)
	if line := firstLine(e.Stderr); line != "" {
		msg += ": " + line
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// Missing reports whether the binary could not be found.
func (e *ToolError) Missing() bool { return errors.Is(e.Err, exec.ErrNotFound) }

const maxLoggedStderr = 8 << 10

type execRunner struct {
	env []string // appended to the parent environment
}

func newExecRunner() execRunner {
	// one OpenMP thread per tesseract process; documents are parallelized by the workers
	return execRunner{env: []string{"OMP_THREAD_LIMIT=1"}}
}

func (r execRunner) Run(ctx context.Context, name string, logger *slog.Logger, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	if len(r.env) > 0 {
		cmd.Env = append(os.Environ(), r.env...)
	}
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	elapsed := time.Since(start)
	if err == nil {
		logger.Debug("ocr.exec.ok",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", elapsed.Milliseconds(),
			"stdout_bytes", out.Len(),
		)
		return out.Bytes(), errb.Bytes(), nil
	}
	if ctx.Err() != nil {
		return out.Bytes(), errb.Bytes(), ctx.Err()
	}

	te := &ToolError{Tool: filepath.Base(name), ExitCode: -1, Stderr: errb.String(), Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		te.ExitCode = exitErr.ExitCode()
	}
	logger.Error("ocr.exec.failed",
		"cmd", name,
		"args", strings.Join(args, " "),
		"duration_ms", elapsed.Milliseconds(),
		"exit_code", te.ExitCode,
		"missing", te.Missing(),
		"stderr", truncate(te.Stderr, maxLoggedStderr),
	)
	return out.Bytes(), errb.Bytes(), te
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return truncate(s, 200)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
