// Package system is the seam between agsb and the host: running commands,
// spawning detached processes and sending signals.
package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Spawn describes a background process that must outlive agsb.
type Spawn struct {
	Path    string
	Args    []string
	Dir     string
	LogPath string
	Env     []string
}

// Process is a handle on a spawned process, valid for the current run only.
type Process interface {
	Pid() int
	// Exited reports whether the process has already terminated.
	Exited() (bool, error)
	Signal(sig syscall.Signal) error
}

// System is everything agsb needs from the operating system.
type System interface {
	// Run executes a command to completion and returns its combined output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	Start(s Spawn) (Process, error)
	Signal(pid int, sig syscall.Signal) error
	// Alive is advisory: a recycled PID also reports true.
	Alive(pid int) bool
	LookPath(name string) (string, error)
	Geteuid() int
}

// Host is the real System.
type Host struct{}

func (Host) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err != nil {
		return out.Bytes(), fmt.Errorf("%s: %w", name, err)
	}
	return out.Bytes(), nil
}

func (Host) Start(s Spawn) (Process, error) {
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	// own session so the process survives our exit and terminal hangups
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	var logf *os.File
	if s.LogPath != "" {
		f, err := os.OpenFile(s.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, err
		}
		logf = f
		cmd.Stdout = f
		cmd.Stderr = f
	}
	if err := cmd.Start(); err != nil {
		if logf != nil {
			_ = logf.Close()
		}
		return nil, err
	}
	if logf != nil {
		_ = logf.Close()
	}
	p := &hostProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (Host) Signal(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return unix.Kill(pid, sig)
}

func (Host) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

func (Host) LookPath(name string) (string, error) { return exec.LookPath(name) }

func (Host) Geteuid() int { return os.Geteuid() }

type hostProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *hostProcess) Pid() int { return p.cmd.Process.Pid }

func (p *hostProcess) Exited() (bool, error) {
	select {
	case <-p.done:
		return true, p.err
	default:
		return false, nil
	}
}

func (p *hostProcess) Signal(sig syscall.Signal) error { return p.cmd.Process.Signal(sig) }
