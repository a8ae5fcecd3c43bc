package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/yosuke0517/dev-assistant-agent/internal/streamevent"
)

// PTYLauncher runs the worker attached to a pseudo-terminal so the agent CLI
// streams its output unbuffered.
type PTYLauncher struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewPTYLauncher(cfg Config, logger *slog.Logger) *PTYLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PTYLauncher{cfg: cfg.withDefaults(), logger: logger, now: time.Now}
}

func (l *PTYLauncher) Launch(ctx context.Context, inv Invocation, onLine func(string)) (Result, error) {
	args := BuildArgs(l.cfg, inv)
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return Result{}, ErrEmptyCommand
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = l.cfg.Dir
	cmd.Env = BuildEnv(os.Environ(), l.cfg, inv, l.now())

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: l.cfg.Cols, Rows: l.cfg.Rows})
	if err != nil {
		return Result{}, fmt.Errorf("start worker: %w", err)
	}
	defer func() { _ = ptmx.Close() }()

	l.logger.Info("worker_start",
		"pid", cmd.Process.Pid,
		"repo", inv.Repo,
		"issue_id", inv.IssueID,
		"follow_up", inv.FollowUpMessage != "",
	)

	exited := make(chan struct{})
	defer close(exited)
	go func() {
		select {
		case <-ctx.Done():
			l.logger.Warn("worker_terminate", "pid", cmd.Process.Pid, "reason", "context_canceled")
			terminateGroup(cmd)
		case <-exited:
		}
	}()

	output, readErr := readLines(ptmx, onLine)
	waitErr := cmd.Wait()
	if readErr != nil {
		l.logger.Warn("worker_read_error", "pid", cmd.Process.Pid, "error", readErr.Error())
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return Result{ExitCode: -1, Output: output}, fmt.Errorf("wait worker: %w", waitErr)
		}
		exitCode = exitErr.ExitCode()
	}
	l.logger.Info("worker_exit", "pid", cmd.Process.Pid, "exit_code", exitCode, "output_bytes", len(output))
	return Result{ExitCode: exitCode, Output: output}, nil
}

// readLines copies r into the returned transcript and hands each complete,
// cleaned, non-empty line to onLine. A trailing partial line is flushed at the
// end. EIO is how a PTY master reports that the child side closed.
func readLines(r io.Reader, onLine func(string)) (string, error) {
	var out strings.Builder
	br := bufio.NewReaderSize(r, 64*1024)
	emit := func(raw string) {
		if onLine == nil {
			return
		}
		if line := streamevent.CleanLine(raw); line != "" {
			onLine(line)
		}
	}
	for {
		chunk, err := br.ReadString('\n')
		out.WriteString(chunk)
		if err != nil {
			emit(chunk)
			if errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed) {
				return out.String(), nil
			}
			return out.String(), err
		}
		emit(chunk)
	}
}
