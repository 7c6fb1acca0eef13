// Package toolinvoker is the canonical envelope for every external media
// transform (spec.md §4.5): spawn a subprocess with a fixed argv, stream
// stderr into a bounded ring buffer, enforce a timeout with a graceful
// signal before a hard kill, and return exit status + captured stderr
// tail. It never parses stdout for meaning — the rest of the system stays
// opaque to the media tool's own vocabulary.
package toolinvoker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Invocation describes one subprocess call.
type Invocation struct {
	Argv       []string
	Stdin      io.Reader
	Dir        string
	Timeout    time.Duration
	GraceDelay time.Duration
}

// Result is what every Invoker.Run call returns, regardless of outcome.
type Result struct {
	ExitCode   int
	StderrTail string
	WallTime   time.Duration
	TimedOut   bool
}

// Invoker runs Invocations against a configured binary.
type Invoker struct {
	binary    string
	stderrCap int
	log       *zap.Logger
}

// New builds an Invoker that spawns the given binary (e.g. "ffmpeg") for
// every call; argv[0] in each Invocation is the first *argument*, not the
// binary itself — the binary is fixed at construction so stage bodies
// cannot accidentally invoke an arbitrary executable.
func New(binary string, stderrCap int, log *zap.Logger) *Invoker {
	if stderrCap <= 0 {
		stderrCap = 8 * 1024
	}
	return &Invoker{binary: binary, stderrCap: stderrCap, log: log}
}

// ringBuffer retains only the last N bytes written to it, the "bounded
// ring buffer (last 8 KiB retained)" spec.md §4.5 asks for.
type ringBuffer struct {
	mu  sync.Mutex
	buf []byte
	cap int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{cap: capacity}
}

func (r *ringBuffer) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, p...)
	if len(r.buf) > r.cap {
		r.buf = r.buf[len(r.buf)-r.cap:]
	}
	return len(p), nil
}

func (r *ringBuffer) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf)
}

// Run executes inv. On timeout, it sends SIGTERM, waits up to
// inv.GraceDelay, then SIGKILLs if the process hasn't exited.
func (v *Invoker) Run(ctx context.Context, inv Invocation) (Result, error) {
	start := time.Now()

	runCtx := ctx
	var cancel context.CancelFunc
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.Command(v.binary, inv.Argv...)
	cmd.Dir = inv.Dir
	if inv.Stdin != nil {
		cmd.Stdin = inv.Stdin
	}
	stderrBuf := newRingBuffer(v.stderrCap)
	cmd.Stderr = stderrBuf
	// stdout is deliberately discarded unread — the invoker never
	// attributes meaning to it.
	cmd.Stdout = io.Discard

	// Run the process in its own group so a SIGTERM/SIGKILL we send
	// reaches any children it spawned too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", v.binary, err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var timedOut bool
	select {
	case err := <-waitErr:
		return v.finish(cmd, err, stderrBuf, start, false), nil
	case <-runCtx.Done():
		timedOut = true
	}

	// Graceful stop, then hard kill after GraceDelay.
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	grace := inv.GraceDelay
	if grace <= 0 {
		grace = 5 * time.Second
	}
	select {
	case err := <-waitErr:
		return v.finish(cmd, err, stderrBuf, start, timedOut), nil
	case <-time.After(grace):
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		err := <-waitErr
		return v.finish(cmd, err, stderrBuf, start, timedOut), nil
	}
}

// Output behaves like Run but additionally captures stdout verbatim,
// for the callers that need structured tool output rather than just exit
// status (the quality_gate stage's ffprobe invocation and JobService's
// audio-duration probe) — every other stage body uses Run and stays
// opaque to stdout.
func (v *Invoker) Output(ctx context.Context, inv Invocation) ([]byte, Result, error) {
	start := time.Now()

	runCtx := ctx
	var cancel context.CancelFunc
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.Command(v.binary, inv.Argv...)
	cmd.Dir = inv.Dir
	if inv.Stdin != nil {
		cmd.Stdin = inv.Stdin
	}
	stderrBuf := newRingBuffer(v.stderrCap)
	cmd.Stderr = stderrBuf
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, Result{}, fmt.Errorf("start %s: %w", v.binary, err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var timedOut bool
	select {
	case err := <-waitErr:
		return stdout.Bytes(), v.finish(cmd, err, stderrBuf, start, false), nil
	case <-runCtx.Done():
		timedOut = true
	}

	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	grace := inv.GraceDelay
	if grace <= 0 {
		grace = 5 * time.Second
	}
	select {
	case err := <-waitErr:
		return stdout.Bytes(), v.finish(cmd, err, stderrBuf, start, timedOut), nil
	case <-time.After(grace):
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		err := <-waitErr
		return stdout.Bytes(), v.finish(cmd, err, stderrBuf, start, timedOut), nil
	}
}

func (v *Invoker) finish(cmd *exec.Cmd, waitErr error, stderrBuf *ringBuffer, start time.Time, timedOut bool) Result {
	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if ok := asExitError(waitErr, &exitErr); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	res := Result{
		ExitCode:   exitCode,
		StderrTail: stderrBuf.String(),
		WallTime:   time.Since(start),
		TimedOut:   timedOut,
	}
	if v.log != nil {
		v.log.Debug("tool invocation finished",
			zap.String("binary", v.binary),
			zap.Int("exit_code", res.ExitCode),
			zap.Duration("wall_time", res.WallTime),
			zap.Bool("timed_out", res.TimedOut),
		)
	}
	return res
}

func asExitError(err error, out **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*out = ee
	}
	return ok
}

// TrimStderr trims s to at most n bytes, keeping the tail — used when
// persisting stderr into a Job.Error.Message capped at 2 KiB per
// spec.md §7.
func TrimStderr(s string, n int) string {
	b := []byte(s)
	if len(b) <= n {
		return s
	}
	return string(b[len(b)-n:])
}
