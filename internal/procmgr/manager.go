// Package procmgr supervises the sing-box and cloudflared processes.
package procmgr

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"agsb/internal/logging"
	"agsb/internal/system"
)

// SweepPatterns match every command line agsb may have launched, one per
// cloudflared tunnel mode. They are killed with `pkill -9 -f` on uninstall
// regardless of PID files and must stay in step with render.CloudflaredArgs.
var SweepPatterns = []string{
	"sing-box run -c sb.json",
	"cloudflared tunnel --no-autoupdate --url",
	"cloudflared tunnel --no-autoupdate run --token",
	"cloudflared tunnel --edge-ip-version auto --config",
}

// Service is one managed background binary.
type Service struct {
	Name    string
	Bin     string
	Args    []string
	Dir     string
	LogPath string
	PIDFile string
}

// Manager starts services detached and remembers their handles for the
// current run. Across runs only the PID files are known.
type Manager struct {
	sys   system.System
	log   logrus.FieldLogger
	mu    sync.Mutex
	procs map[string]system.Process
	// Sleep is time.Sleep outside tests.
	Sleep func(time.Duration)
}

func New(sys system.System, log logrus.FieldLogger) *Manager {
	return &Manager{sys: sys, log: logging.Or(log), procs: map[string]system.Process{}, Sleep: time.Sleep}
}

// Start launches s in its own session with output in s.LogPath and writes
// its PID file.
func (m *Manager) Start(s Service) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.procs[s.Name]; ok {
		if exited, _ := p.Exited(); !exited {
			return 0, fmt.Errorf("%s already running (pid %d)", s.Name, p.Pid())
		}
	}
	p, err := m.sys.Start(system.Spawn{Path: s.Bin, Args: s.Args, Dir: s.Dir, LogPath: s.LogPath})
	if err != nil {
		return 0, fmt.Errorf("start %s: %w", s.Name, err)
	}
	m.procs[s.Name] = p
	if s.PIDFile != "" {
		if err := os.WriteFile(s.PIDFile, []byte(strconv.Itoa(p.Pid())), 0o644); err != nil {
			return p.Pid(), fmt.Errorf("write pid file: %w", err)
		}
	}
	m.log.WithFields(logrus.Fields{"service": s.Name, "pid": p.Pid()}).Info("started")
	return p.Pid(), nil
}

// Exited reports the services started in this run that have already died.
func (m *Manager) Exited() map[string]error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]error{}
	for name, p := range m.procs {
		if done, err := p.Exited(); done {
			out[name] = err
		}
	}
	return out
}

// Stop terminates whatever the PID files name, waits a second, then sweeps
// the known command lines with SIGKILL. Failures are logged, never returned.
func (m *Manager) Stop(ctx context.Context, pidFiles []string) {
	for _, pf := range pidFiles {
		pid, err := ReadPID(pf)
		if err != nil {
			m.log.WithError(err).WithField("pid_file", pf).Debug("no pid to stop")
			continue
		}
		// try SIGTERM
		if err := m.sys.Signal(pid, syscall.SIGTERM); err != nil {
			m.log.WithError(err).WithField("pid", pid).Debug("sigterm")
		} else {
			m.log.WithField("pid", pid).Info("sent SIGTERM")
		}
	}
	m.mu.Lock()
	m.procs = map[string]system.Process{}
	m.mu.Unlock()

	m.Sleep(time.Second)
	for _, pat := range SweepPatterns {
		if _, err := m.sys.Run(ctx, "pkill", "-9", "-f", pat); err != nil {
			// pkill exits 1 when nothing matched
			m.log.WithError(err).WithField("pattern", pat).Debug("pkill")
		}
	}
}

// State is the advisory status of one PID file.
type State struct {
	PID   int
	Known bool
	Alive bool
}

// Status probes the PID recorded in pidFile with signal 0. A recycled PID
// is reported alive.
func (m *Manager) Status(pidFile string) State {
	pid, err := ReadPID(pidFile)
	if err != nil {
		return State{}
	}
	return State{PID: pid, Known: true, Alive: m.sys.Alive(pid)}
}

// ReadPID parses a PID file.
func ReadPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("pid file %s: invalid pid %d", path, pid)
	}
	return pid, nil
}
