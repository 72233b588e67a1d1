package trainerproc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// process wraps one external trainer invocation: a subprocess fed one JSON
// request line on stdin and read as NDJSON progress lines on stdout.
// Adapted from sdk/spawner.Process's lifecycle (Start/Stop/Wait/IsAlive,
// a done channel closed by a monitor goroutine), trading its log-everything
// stdout reader for one that parses progress events, and adding a stdin
// pipe the original had no need for.
type process struct {
	command string
	args    []string
	env     map[string]string

	cmd    *exec.Cmd
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu        sync.Mutex
	startTime time.Time
	done      chan struct{}
	exitErr   error
}

func newProcess(ctx context.Context, command string, args []string, env map[string]string, logger zerolog.Logger) *process {
	procCtx, cancel := context.WithCancel(ctx)
	return &process{
		command: command,
		args:    args,
		env:     env,
		ctx:     procCtx,
		cancel:  cancel,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// start launches the subprocess, returning its stdin writer and a channel
// of decoded progress lines. The lines channel is closed when stdout EOFs.
func (p *process) start(onStderrLine func(string)) (io.WriteCloser, <-chan string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cmd = exec.CommandContext(p.ctx, p.command, p.args...)
	p.cmd.Env = os.Environ()
	for k, v := range p.env {
		p.cmd.Env = append(p.cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("trainerproc: stdin pipe: %w", err)
	}
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("trainerproc: stdout pipe: %w", err)
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("trainerproc: stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("trainerproc: start: %w", err)
	}
	p.startTime = time.Now()
	p.logger.Info().Str("command", p.command).Strs("args", p.args).Msg("trainer process started")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			onStderrLine(scanner.Text())
		}
	}()
	go p.monitor()

	return stdin, lines, nil
}

func (p *process) monitor() {
	defer close(p.done)
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()
	if err != nil {
		p.logger.Error().Err(err).Dur("duration", time.Since(p.startTime)).Msg("trainer process exited with error")
	} else {
		p.logger.Info().Dur("duration", time.Since(p.startTime)).Msg("trainer process exited")
	}
}

// wait blocks until the process exits and returns its exit error, if any.
func (p *process) wait() error {
	<-p.done
	return p.exitErr
}

// stop signals the process to exit by canceling its context; it does not
// block for exit, callers should follow with wait under a timeout.
func (p *process) stop() {
	p.cancel()
}
