// Package process starts a worker from an InvocationSpec and streams its
// standard output line by line.
package process

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/qudata/gminer-agent/internal/domain"
	"github.com/qudata/gminer-agent/internal/gminer"
)

const defaultStopTimeout = 5 * time.Second

// Worker is a running worker process as seen by its consumer.
type Worker interface {
	// Lines yields stdout lines in order and is closed when stdout ends.
	Lines() <-chan string
	// Done is closed after the process has exited and its port was released.
	Done() <-chan struct{}
	Stop() error
}

type Launcher struct {
	logger      *slog.Logger
	stopTimeout time.Duration
}

func NewLauncher(logger *slog.Logger) *Launcher {
	return &Launcher{logger: logger, stopTimeout: defaultStopTimeout}
}

// Process owns the exec.Cmd and the spec's port lease. The lease is released
// exactly once, whichever way the process ends.
type Process struct {
	logger      *slog.Logger
	spec        *gminer.InvocationSpec
	cmd         *exec.Cmd
	stopTimeout time.Duration

	lines chan string
	done  chan struct{}
	quit  chan struct{}

	quitOnce sync.Once
	exitErr  error
}

// Launch starts the worker. On any error the spec's port is released before
// returning.
//
// The worker runs in its own process group so Stop reaches any helpers it
// forks. Stdout is copied through an io.Pipe rather than cmd.StdoutPipe, which
// lets Wait run concurrently with reading; WaitDelay bounds how long Wait
// waits for a pipe still held open by an orphaned child.
func (l *Launcher) Launch(spec *gminer.InvocationSpec) (Worker, error) {
	if _, err := os.Stat(spec.BinaryPath); err != nil {
		spec.Release()
		return nil, domain.ErrWorker{Op: "locate binary", Err: err}
	}

	stdout, stdoutW := io.Pipe()

	cmd := exec.Command(spec.BinaryPath, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), envList(spec.Env)...)
	cmd.Stdout = stdoutW
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = l.stopTimeout

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		spec.Release()
		return nil, domain.ErrWorker{Op: "start", Err: err}
	}

	p := &Process{
		logger:      l.logger,
		spec:        spec,
		cmd:         cmd,
		stopTimeout: l.stopTimeout,
		lines:       make(chan string, 64),
		done:        make(chan struct{}),
		quit:        make(chan struct{}),
	}

	l.logger.Info("worker started",
		"pid", cmd.Process.Pid,
		"binary", spec.BinaryPath,
		"api_port", spec.APIPort,
	)

	readDone := make(chan struct{})
	go p.pump(stdout, readDone)
	go p.monitor(stdoutW, readDone)
	return p, nil
}

func (p *Process) Lines() <-chan string {
	return p.lines
}

func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr is the result of cmd.Wait; valid once Done is closed.
// exec.ErrWaitDelay means the worker exited but a child kept its stdout open.
func (p *Process) ExitErr() error {
	<-p.done
	return p.exitErr
}

// pump forwards stdout lines until the pipe is closed.
func (p *Process) pump(stdout *io.PipeReader, readDone chan<- struct{}) {
	defer close(readDone)
	defer close(p.lines)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case p.lines <- scanner.Text():
		case <-p.quit:
			// Nobody is reading any more; keep draining so the worker never blocks on a full pipe.
		}
	}
	// A line over the buffer limit stops the scanner; keep the pipe flowing.
	_, _ = io.Copy(io.Discard, stdout)
}

// monitor reaps the process, ends the line stream and releases the port.
// Wait returns at most WaitDelay after the process exits, even if a
// grandchild still holds the stdout pipe.
func (p *Process) monitor(stdoutW *io.PipeWriter, readDone <-chan struct{}) {
	defer close(p.done)
	defer p.spec.Release()

	p.exitErr = p.cmd.Wait()
	stdoutW.Close()
	<-readDone

	if p.exitErr != nil {
		p.logger.Warn("worker exited", "pid", p.cmd.Process.Pid, "err", p.exitErr)
	} else {
		p.logger.Info("worker exited", "pid", p.cmd.Process.Pid)
	}
}

// Stop terminates the worker's process group with SIGTERM, escalating to
// SIGKILL after the stop timeout. It returns once the process has been reaped
// and its port released.
func (p *Process) Stop() error {
	p.quitOnce.Do(func() { close(p.quit) })

	select {
	case <-p.done:
		return nil
	default:
	}

	p.logger.Info("stopping worker", "pid", p.cmd.Process.Pid)

	if err := p.signalGroup(syscall.SIGTERM); err != nil {
		p.logger.Warn("sigterm failed, killing", "err", err)
		_ = p.signalGroup(syscall.SIGKILL)
	}

	select {
	case <-p.done:
	case <-time.After(p.stopTimeout):
		p.logger.Warn("worker did not stop in time, killing", "pid", p.cmd.Process.Pid)
		if err := p.signalGroup(syscall.SIGKILL); err != nil {
			p.logger.Warn("kill failed", "pid", p.cmd.Process.Pid, "err", err)
		}
		<-p.done
	}
	return nil
}

// signalGroup signals every process in the worker's group. If the group is
// already gone the leader itself is signalled.
func (p *Process) signalGroup(sig syscall.Signal) error {
	pid := p.cmd.Process.Pid
	if err := syscall.Kill(-pid, sig); err != nil {
		return p.cmd.Process.Signal(sig)
	}
	return nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
