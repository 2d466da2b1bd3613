// Package executor runs one watcher subprocess: a single shell line whose
// merged stdout/stderr is consumed line by line. Shutdown is TERM to the
// process group, a grace period, then KILL.
package executor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/armon/circbuf"
	"github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
)

const (
	// killGrace is how long Shutdown waits after TERM before sending
	// KILL.
	killGrace = 3 * time.Second

	// outputTailSize bounds the raw output retained for diagnostics.
	outputTailSize = 16 * 1024

	// lineChanBuffer decouples the reader goroutine from slow consumers.
	lineChanBuffer = 64
)

// Executor supervises a single spawned shell command.
type Executor struct {
	logger hclog.Logger

	command string
	dir     string

	cmd  *exec.Cmd
	tail *circbuf.Buffer

	lines  chan string
	waitCh chan struct{}

	exitErr   error
	exitOnce  sync.Once
	drainOnce sync.Once
}

// New prepares an executor for one shell line run in dir (empty means the
// current directory).
func New(logger hclog.Logger, command, dir string) *Executor {
	// Size is fixed, so the error is impossible.
	tail, _ := circbuf.NewBuffer(outputTailSize)

	return &Executor{
		logger:  logger.Named("executor"),
		command: command,
		dir:     dir,
		tail:    tail,
		lines:   make(chan string, lineChanBuffer),
		waitCh:  make(chan struct{}),
	}
}

// Start spawns the command. The command runs via the shell in its own
// process group so that signals reach the activation wrapper and the
// exec'd binary alike.
func (e *Executor) Start() error {
	if e.cmd != nil {
		return fmt.Errorf("executor already started")
	}

	cmd := exec.Command("/bin/sh", "-c", e.command)
	cmd.Dir = e.dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to pipe stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn %q: %w", e.command, err)
	}
	e.cmd = cmd
	e.logger.Debug("spawned watcher process", "pid", cmd.Process.Pid, "command", e.command)

	go e.consume(stdout)
	return nil
}

// consume reads merged output line by line until EOF, then reaps the child.
func (e *Executor) consume(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		e.tail.Write([]byte(line))
		e.tail.Write([]byte{'\n'})
		e.lines <- line
	}

	err := e.cmd.Wait()
	e.exitOnce.Do(func() { e.exitErr = err })

	close(e.lines)
	close(e.waitCh)
}

// Lines returns the channel of output lines. It is closed when the process
// exits and its output is drained.
func (e *Executor) Lines() <-chan string {
	return e.lines
}

// WaitCh is closed once the process has been reaped.
func (e *Executor) WaitCh() <-chan struct{} {
	return e.waitCh
}

// ExitError returns the error from reaping the process, if any. Valid after
// WaitCh is closed.
func (e *Executor) ExitError() error {
	select {
	case <-e.waitCh:
		return e.exitErr
	default:
		return fmt.Errorf("process still running")
	}
}

// OutputTail returns the retained end of the process output, for logs.
func (e *Executor) OutputTail() string {
	return e.tail.String()
}

// Pid returns the child's process id, or 0 before Start.
func (e *Executor) Pid() int {
	if e.cmd == nil || e.cmd.Process == nil {
		return 0
	}
	return e.cmd.Process.Pid
}

// Shutdown terminates the process group: TERM, wait up to the grace period,
// then KILL. It returns once the process is reaped.
func (e *Executor) Shutdown() error {
	if e.cmd == nil || e.cmd.Process == nil {
		return nil
	}

	select {
	case <-e.waitCh:
		return nil
	default:
	}

	// The caller has stopped reading lines; drain them so the reader
	// goroutine can reach EOF and reap the child.
	e.drainOnce.Do(func() {
		go func() {
			for range e.lines {
			}
		}()
	})

	var mErr multierror.Error

	// Negative pid addresses the process group.
	pgid := -e.cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("failed to TERM process group: %w", err))
	}

	select {
	case <-e.waitCh:
		return mErr.ErrorOrNil()
	case <-time.After(killGrace):
	}

	e.logger.Warn("watcher process survived TERM, killing", "pid", e.cmd.Process.Pid)
	if err := syscall.Kill(pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		mErr.Errors = append(mErr.Errors, fmt.Errorf("failed to KILL process group: %w", err))
	}

	<-e.waitCh
	return mErr.ErrorOrNil()
}

// FindProcess reports whether pid is still alive, for tests that assert the
// child is gone.
func FindProcess(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
