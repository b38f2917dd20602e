package host

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

const (
	maxStderrBytes = 8 * 1024         // 8 KB tail of stderr kept for diagnostics
	maxStdoutBytes = 16 * 1024 * 1024 // ffprobe JSON and listings stay far below this
)

// ErrOutputTooLarge is returned when a command writes more stdout than kept.
var ErrOutputTooLarge = errors.New("subprocess stdout exceeded limit")

// Runner executes external tools. It is the single way the agent starts
// subprocesses, so tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, bin string, args ...string) RunResult
}

// Exec is the production Runner.
type Exec struct {
	logger     *slog.Logger
	debugPaths bool
}

// NewExec creates a subprocess runner. With debugPaths unset, file paths in
// log lines are shortened.
func NewExec(logger *slog.Logger, debugPaths bool) *Exec {
	return &Exec{logger: logger, debugPaths: debugPaths}
}

// Run executes bin with args, bounded by timeout. A non-positive timeout
// means only ctx bounds the command. Failures to start are reported as
// ExitCode -1 with the error in StderrTail.
func (e *Exec) Run(ctx context.Context, timeout time.Duration, bin string, args ...string) RunResult {
	start := time.Now()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.WaitDelay = 5 * time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &cappedWriter{w: &stdoutBuf, limit: maxStdoutBytes}
	cmd.Stdout = stdout
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}

	e.log().Debug("executing command",
		"bin", filepath.Base(bin),
		"args", e.safeArgs(args),
	)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			stderrBuf.WriteString(err.Error())
		}
	}
	if stdout.overflow && exitCode == 0 {
		exitCode = -1
		stderrBuf.WriteString(ErrOutputTooLarge.Error())
	}

	stderrTail := stderrBuf.String()
	if exitCode != 0 {
		e.log().Warn("command failed",
			"bin", filepath.Base(bin),
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		Stdout:     stdoutBuf.Bytes(),
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func (e *Exec) log() *slog.Logger {
	if e.logger == nil {
		return slog.Default()
	}
	return e.logger
}

func (e *Exec) safeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if filepath.IsAbs(a) {
			a = e.safePath(a)
		}
		out[i] = a
	}
	return out
}

func (e *Exec) safePath(path string) string {
	if e.debugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

// ResultError turns a failed RunResult into an error carrying the stderr tail.
func ResultError(bin string, r RunResult) error {
	if r.IsSuccess() {
		return nil
	}
	return fmt.Errorf("%s exited %d: %s", filepath.Base(bin), r.ExitCode, truncate(strings.TrimSpace(r.StderrTail), 512))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := make([]byte, lw.limit)
		copy(tail, b[len(b)-lw.limit:])
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}

// cappedWriter keeps the first `limit` bytes and drops the rest.
type cappedWriter struct {
	w        *bytes.Buffer
	limit    int
	overflow bool
}

func (cw *cappedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if room := cw.limit - cw.w.Len(); room < len(p) {
		cw.overflow = true
		if room > 0 {
			cw.w.Write(p[:room])
		}
		return n, nil
	}
	cw.w.Write(p)
	return n, nil
}
