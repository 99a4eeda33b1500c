// Package privhelper manages the privileged helper subprocess. The daemon
// itself runs unprivileged; mount detach operations that need elevated
// rights are delegated to the helper over a simple line protocol on its
// stdin/stdout.
package privhelper

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/sourcefs/sourcefs/internal/logger"
)

// Client is the control-plane view of the helper: the operations the server
// needs during unmount and shutdown.
type Client interface {
	// Unmount asks the helper to detach the filesystem at path.
	Unmount(path string) error

	// Stop terminates the helper and reports how it exited.
	Stop() (ExitStatus, error)
}

// ExitStatus describes how the helper process exited.
type ExitStatus struct {
	// Code is the exit code when the process exited normally.
	Code int

	// Signal is the terminating signal, or 0 for a normal exit.
	Signal syscall.Signal
}

// Clean reports whether the helper exited normally with status zero.
func (s ExitStatus) Clean() bool {
	return s.Signal == 0 && s.Code == 0
}

func (s ExitStatus) String() string {
	if s.Signal != 0 {
		return fmt.Sprintf("killed by signal %d (%s)", int(s.Signal), s.Signal)
	}
	return fmt.Sprintf("exited with status %d", s.Code)
}

// Process is a running helper subprocess.
//
// Requests are serialized: the protocol is one request line, one response
// line, so a mutex around each round trip is all the ordering we need.
type Process struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	stopOnce sync.Once
	status   ExitStatus
	stopErr  error
}

// Start launches the helper binary and performs the protocol handshake.
func Start(helperPath string) (*Process, error) {
	cmd := exec.Command(helperPath)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open helper stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open helper stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start privileged helper %q: %w", helperPath, err)
	}

	p := &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}

	if err := p.roundTrip("hello"); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("privileged helper handshake failed: %w", err)
	}

	logger.Debug("Privileged helper started (pid %d)", cmd.Process.Pid)
	return p, nil
}

// Unmount asks the helper to detach the filesystem mounted at path.
func (p *Process) Unmount(path string) error {
	if strings.ContainsAny(path, "\r\n") {
		return fmt.Errorf("invalid mount path %q", path)
	}
	if err := p.roundTrip("unmount " + path); err != nil {
		return fmt.Errorf("helper unmount of %q failed: %w", path, err)
	}
	return nil
}

// Stop asks the helper to exit and waits for it, classifying the exit.
// Safe to call more than once; later calls return the first result.
func (p *Process) Stop() (ExitStatus, error) {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		_, _ = io.WriteString(p.stdin, "exit\n")
		_ = p.stdin.Close()
		p.mu.Unlock()

		err := p.cmd.Wait()
		if err == nil {
			p.status = ExitStatus{}
			return
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				p.status = ExitStatus{Signal: ws.Signal()}
				return
			}
			p.status = ExitStatus{Code: exitErr.ExitCode()}
			return
		}
		p.stopErr = fmt.Errorf("failed to wait for privileged helper: %w", err)
	})
	return p.status, p.stopErr
}

// roundTrip sends one request line and reads the matching response line.
// The helper answers "ok" on success and "err <message>" on failure.
func (p *Process) roundTrip(request string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := io.WriteString(p.stdin, request+"\n"); err != nil {
		return fmt.Errorf("failed to write to helper: %w", err)
	}

	line, err := p.stdout.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read helper response: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")

	switch {
	case line == "ok":
		return nil
	case strings.HasPrefix(line, "err "):
		return errors.New(strings.TrimPrefix(line, "err "))
	default:
		return fmt.Errorf("unexpected helper response %q", line)
	}
}
