package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"agsb/internal/config"
	"agsb/internal/procmgr"
	"agsb/internal/shared"
	"agsb/internal/state"
	"agsb/internal/tunnel"
)

const (
	probeTimeout = 3 * time.Second
	previewLinks = 3
	previewWidth = 70
)

// ErrNotInstalled is returned by subcommands that need a previous install.
var ErrNotInstalled = errors.New("agsb is not installed")

// Status prints the state of an install and reports whether both processes
// look alive. Liveness comes from the PID files and is advisory.
func (p *Provisioner) Status(ctx context.Context) (bool, error) {
	l := p.Layout
	inst, err := state.Load(l)
	switch {
	case errors.Is(err, state.ErrInvalid):
		p.printf("%s%v%s\n", red, err, reset)
		p.warnf("`%s install` writes a fresh configuration.\n", p.Cmd)
		return false, nil
	case err != nil:
		p.printf("%sagsb is not installed in %s%s\n", red, l.Dir, reset)
		return false, nil
	}
	sb := p.Procs.Status(l.SBPid())
	cf := p.Procs.Status(l.CFPid())

	p.printf("%s\n", strings.Repeat("=", 60))
	p.printf("%sagsb status%s\n", cyan, reset)
	p.printf("%s\n", strings.Repeat("=", 60))
	p.printf("  sing-box:     %s\n", describe(sb))
	p.printf("  cloudflared:  %s\n", describe(cf))

	res := p.Probe(ctx, "127.0.0.1", inst.Port, inst.WSPath(), probeTimeout)
	if res.OK {
		p.printf("  inbound:      %sws upgrade ok%s (%s)\n", green, reset, res.Latency.Round(time.Millisecond))
	} else {
		p.printf("  inbound:      %sno ws upgrade%s (%v)\n", red, reset, res.Err)
	}

	if d := p.currentDomain(inst); d != "" {
		p.printf("  domain:       %s\n", d)
	} else {
		p.printf("  domain:       %snot detected yet%s\n", yellow, reset)
	}
	p.printf("  port:         %d\n", inst.Port)
	p.printf("  path:         %s\n", inst.LinkPath())
	if inst.InstallDate != "" {
		p.printf("  installed:    %s\n", inst.InstallDate)
	}
	if b, err := os.ReadFile(l.SubscriptionURL()); err == nil {
		p.printf("  subscription: %s\n", strings.TrimSpace(string(b)))
	}
	p.previewNodes()

	healthy := sb.Alive && cf.Alive
	if !healthy {
		p.warnf("\nServices are not running; `%s install` restarts them.\n", p.Cmd)
	}
	return healthy, nil
}

func describe(s procmgr.State) string {
	switch {
	case !s.Known:
		return red + "no pid file" + reset
	case s.Alive:
		return fmt.Sprintf("%srunning%s (pid %d)", green, reset, s.PID)
	default:
		return fmt.Sprintf("%sstopped%s (pid %d)", red, reset, s.PID)
	}
}

// currentDomain prefers the recorded domain and falls back to scanning the
// tunnel log of a quick tunnel.
func (p *Provisioner) currentDomain(inst *state.Installation) string {
	if d, err := state.ReadDomain(p.Layout); err == nil && d != "" {
		return d
	}
	if inst.Domain != "" {
		return inst.Domain
	}
	if inst.CustomDomain != "" {
		return inst.CustomDomain
	}
	if inst.Token != "" {
		return ""
	}
	d, _ := tunnel.Scan(p.Layout.ArgoLog())
	return d
}

func (p *Provisioner) previewNodes() {
	lines, err := readLines(p.Layout.AllNodes())
	if err != nil || len(lines) == 0 {
		return
	}
	p.printf("\n  nodes (%d):\n", len(lines))
	for i, line := range lines {
		if i == previewLinks {
			p.printf("  ... `%s cat` prints all of them\n", p.Cmd)
			break
		}
		if len(line) > previewWidth {
			line = line[:previewWidth] + "..."
		}
		p.printf("  %s\n", line)
	}
}

// Cat prints every saved link, one per line.
func (p *Provisioner) Cat() error {
	lines, err := readLines(p.Layout.AllNodes())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s is missing", ErrNotInstalled, p.Layout.AllNodes())
		}
		return err
	}
	for _, line := range lines {
		p.printf("%s\n", line)
	}
	return nil
}

func readLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

// LogPath maps a logs argument to its file: argo or cloudflared for the
// tunnel, sb or sing-box for the proxy.
func (p *Provisioner) LogPath(which string) (string, error) {
	switch strings.ToLower(which) {
	case "", "argo", "cloudflared", "cf":
		return p.Layout.ArgoLog(), nil
	case "sb", "sing-box", "singbox":
		return p.Layout.SBLog(), nil
	}
	return "", fmt.Errorf("unknown log %q (want argo or sb)", which)
}

// Logs prints the last n lines of a process log and, with follow, keeps
// printing appended lines until ctx is done.
func (p *Provisioner) Logs(ctx context.Context, which string, n int, follow bool, w io.Writer) error {
	path, err := p.LogPath(which)
	if err != nil {
		return err
	}
	lines, end, err := shared.TailLastNOffset(path, n, 1<<20)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	if !follow {
		return nil
	}
	t := shared.NewFileTailer(path, 500*time.Millisecond, end)
	t.Start()
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Out():
			if !ok {
				return nil
			}
			fmt.Fprintln(w, line)
		}
	}
}

// Auto is the subcommand-less entry point: with a complete install and no
// explicit input it shows the status, reinstalling only when unhealthy.
func (p *Provisioner) Auto(ctx context.Context, in config.Input, explicit bool) error {
	if !explicit && p.Layout.Complete() {
		healthy, err := p.Status(ctx)
		if err != nil {
			return err
		}
		if healthy {
			p.printf("\nSubcommands: install, status, update, cat, logs, del\n")
			return nil
		}
		p.warnf("Reinstalling with fresh parameters...\n")
	}
	return p.Install(ctx, in)
}
