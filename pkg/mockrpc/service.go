package mockrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/entrhq/authharness/pkg/logging"
)

// Service is a running mock RPC instance owned by whoever started it.
type Service interface {
	Start(ctx context.Context) error

	// URL is the RPC endpoint. It is known before Start.
	URL() string

	// PID is the child process id, or 0 when the service runs in-process.
	PID() int

	Stop(ctx context.Context) error
}

// EndpointURL is the RPC endpoint for a local port.
func EndpointURL(port int) string {
	return fmt.Sprintf("http://localhost:%d%s", port, Path)
}

// InProcess serves the handler from the current process.
type InProcess struct {
	port   int
	logger *logging.Logger

	mu     sync.Mutex
	server *Server
}

// NewInProcess returns a service that will listen on port. Port 0 picks a
// free port, reported by URL once started.
func NewInProcess(port int, logger *logging.Logger) *InProcess {
	if logger == nil {
		logger = logging.Discard("mockrpc")
	}
	return &InProcess{port: port, logger: logger}
}

func (s *InProcess) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return errors.New("mock RPC service already started")
	}
	server, err := Listen(":"+strconv.Itoa(s.port), s.logger)
	if err != nil {
		return err
	}
	s.server = server
	return nil
}

func (s *InProcess) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return s.server.URL()
	}
	return EndpointURL(s.port)
}

func (s *InProcess) PID() int { return 0 }

func (s *InProcess) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// Process runs the service as a child process, for instance a separately
// built cmd/mockrpc binary. The child receives RPC_PORT in its environment.
type Process struct {
	Command []string
	Port    int
	Stdout  io.Writer
	Stderr  io.Writer

	logger *logging.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	pid  int
	done chan struct{}
}

// NewProcess returns a service that runs command.
func NewProcess(command []string, port int, logger *logging.Logger) *Process {
	if logger == nil {
		logger = logging.Discard("mockrpc")
	}
	return &Process{Command: command, Port: port, Stdout: os.Stdout, Stderr: os.Stderr, logger: logger}
}

func (p *Process) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(p.Command) == 0 {
		return errors.New("mock RPC command is empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return errors.New("mock RPC service already started")
	}

	// Not CommandContext: the child must outlive ctx and only stop on Stop.
	cmd := exec.Command(p.Command[0], p.Command[1:]...)
	cmd.Env = append(os.Environ(), "RPC_PORT="+strconv.Itoa(p.Port))
	cmd.Stdout = p.Stdout
	cmd.Stderr = p.Stderr
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.Command[0], err)
	}

	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := cmd.Wait(); err != nil {
			p.logger.Debugf("mock RPC process %d exited: %v", cmd.Process.Pid, err)
		}
	}(p.done)

	p.logger.Infof("started mock RPC process %d: %v", p.pid, p.Command)
	return nil
}

func (p *Process) URL() string { return EndpointURL(p.Port) }

func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// Stop kills the child and everything it started, then waits for the child
// to exit. The group is killed even when the child is already gone.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	pid, done := p.pid, p.done
	p.cmd, p.pid, p.done = nil, 0, nil
	p.mu.Unlock()
	if pid == 0 {
		return nil
	}

	if err := KillGroup(pid); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mock RPC process %d did not exit: %w", pid, ctx.Err())
	}
}

// KillPID kills the process pid. A process that already exited is not an
// error.
func KillPID(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to kill process %d: %w", pid, err)
	}
	return nil
}
