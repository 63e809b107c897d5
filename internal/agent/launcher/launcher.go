// Package launcher spawns and supervises ACP agent subprocesses.
package launcher

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acpfactory/acpfactory/internal/agent/registry"
	"github.com/acpfactory/acpfactory/internal/common/logger"
)

// stopGracePeriod is how long a process gets to exit after SIGTERM before
// it is killed.
const stopGracePeriod = 5 * time.Second

// Process is a running agent subprocess speaking ACP over its stdio.
type Process struct {
	ID     string
	Config *registry.AgentConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	logger *logger.Logger

	mu     sync.Mutex
	waited bool
	werr   error
}

// Start launches the agent described by config in the given working
// directory. The agent inherits the parent environment plus config.Env.
func Start(config *registry.AgentConfig, cwd string, log *logger.Logger) (*Process, error) {
	id := uuid.New().String()

	cmd := exec.Command(config.Command, config.Args...)
	cmd.Dir = cwd

	cmd.Env = os.Environ()
	for k, v := range config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	p := &Process{
		ID:     id,
		Config: config,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		logger: log.WithAgentID(id).WithFields(
			zap.String("component", "agent-launcher"),
			zap.String("agent", config.ID)),
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent %q: %w", config.ID, err)
	}

	p.logger.Info("agent process started",
		zap.String("command", config.Command),
		zap.Strings("args", config.Args),
		zap.Int("pid", cmd.Process.Pid))

	go p.logStderr(stderr)

	return p, nil
}

// Stdin is the pipe to write JSON-RPC messages on.
func (p *Process) Stdin() io.Writer { return p.stdin }

// Stdout is the pipe to read JSON-RPC messages from.
func (p *Process) Stdout() io.Reader { return p.stdout }

// Pid returns the process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// IsRunning reports whether the process has not yet exited.
func (p *Process) IsRunning() bool {
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Stop closes stdin, sends SIGTERM and escalates to SIGKILL after a grace
// period.
func (p *Process) Stop() error {
	p.logger.Info("stopping agent process", zap.Int("pid", p.cmd.Process.Pid))

	// Closing stdin is the polite shutdown signal for stdio agents.
	_ = p.stdin.Close()

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && p.IsRunning() {
		p.logger.Warn("failed to signal agent", zap.Error(err))
	}

	done := make(chan error, 1)
	go func() {
		done <- p.wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			// Non-zero exit after a deliberate stop is expected.
			p.logger.Debug("agent exited", zap.Error(err))
		}
		return nil
	case <-time.After(stopGracePeriod):
		p.logger.Warn("agent did not exit in time, killing")
		if err := p.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill agent: %w", err)
		}
		<-done
		return nil
	}
}

// Wait blocks until the process exits.
func (p *Process) Wait() error {
	return p.wait()
}

func (p *Process) wait() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.waited {
		p.werr = p.cmd.Wait()
		p.waited = true
	}
	return p.werr
}

// logStderr forwards the agent's stderr lines into our structured log.
func (p *Process) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 16*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		p.logger.Debug("agent stderr", zap.String("line", line))
	}
}
