package system

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
)

// SignalCall records one Fake.Signal invocation.
type SignalCall struct {
	PID int
	Sig syscall.Signal
}

// Fake is an in-memory System for tests. Run calls are answered by Handler
// (nil output, nil error when unset); spawned processes get increasing PIDs
// and stay alive until signalled.
type Fake struct {
	mu sync.Mutex

	Handler func(name string, args []string) ([]byte, error)
	// OnStart runs after a spawn's log file has been created.
	OnStart  func(s Spawn)
	StartErr error
	Paths    map[string]string
	Euid     int

	Runs    [][]string
	Spawned []Spawn
	Signals []SignalCall
	alive   map[int]bool
	nextPID int
}

func NewFake() *Fake {
	return &Fake{Paths: map[string]string{}, alive: map[int]bool{}, nextPID: 1000}
}

func (f *Fake) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.Runs = append(f.Runs, append([]string{name}, args...))
	h := f.Handler
	f.mu.Unlock()
	if h == nil {
		return nil, nil
	}
	return h(name, args)
}

func (f *Fake) Start(s Spawn) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	f.nextPID++
	pid := f.nextPID
	f.Spawned = append(f.Spawned, s)
	f.alive[pid] = true
	if s.LogPath != "" {
		_ = os.WriteFile(s.LogPath, nil, 0o644)
	}
	if f.OnStart != nil {
		f.OnStart(s)
	}
	return &fakeProcess{f: f, pid: pid}, nil
}

func (f *Fake) Signal(pid int, sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Signals = append(f.Signals, SignalCall{PID: pid, Sig: sig})
	if !f.alive[pid] {
		return fmt.Errorf("no such process %d", pid)
	}
	if sig != 0 {
		delete(f.alive, pid)
	}
	return nil
}

func (f *Fake) Alive(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid]
}

// SetAlive marks a PID as running, e.g. one read back from a PID file.
func (f *Fake) SetAlive(pid int, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ok {
		f.alive[pid] = true
	} else {
		delete(f.alive, pid)
	}
}

func (f *Fake) LookPath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.Paths[name]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%s: executable file not found in $PATH", name)
}

func (f *Fake) Geteuid() int { return f.Euid }

// Ran reports whether a command line starting with prefix was executed.
func (f *Fake) Ran(prefix ...string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := strings.Join(prefix, " ")
	for _, r := range f.Runs {
		if strings.HasPrefix(strings.Join(r, " "), want) {
			return true
		}
	}
	return false
}

type fakeProcess struct {
	f   *Fake
	pid int
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Exited() (bool, error) { return !p.f.Alive(p.pid), nil }

func (p *fakeProcess) Signal(sig syscall.Signal) error { return p.f.Signal(p.pid, sig) }
