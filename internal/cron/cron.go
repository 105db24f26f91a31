// Package cron keeps the @reboot entries that restart agsb's launchers.
package cron

import (
	"context"
	"fmt"
	"os"
	"strings"

	"agsb/internal/system"
)

// Autostart edits the current user's crontab.
type Autostart struct {
	Sys system.System
	// Scripts are the absolute launcher paths, in start order.
	Scripts []string
}

// Install replaces any entries for Scripts with fresh @reboot lines.
func (a Autostart) Install(ctx context.Context) error {
	lines := a.filtered(ctx)
	for _, s := range a.Scripts {
		lines = append(lines, fmt.Sprintf("@reboot %s >/dev/null 2>&1", s))
	}
	return a.write(ctx, lines)
}

// Remove drops the entries for Scripts; an emptied crontab is removed.
func (a Autostart) Remove(ctx context.Context) error {
	lines := a.filtered(ctx)
	if len(lines) == 0 {
		// fails when there is no crontab, which is fine
		_, _ = a.Sys.Run(ctx, "crontab", "-r")
		return nil
	}
	return a.write(ctx, lines)
}

// filtered returns the current crontab without blank lines and without
// lines that mention one of the launchers. A missing crontab reads empty.
func (a Autostart) filtered(ctx context.Context) []string {
	out, err := a.Sys.Run(ctx, "crontab", "-l")
	if err != nil {
		return nil
	}
	var keep []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == "" || a.mentions(line) {
			continue
		}
		keep = append(keep, line)
	}
	return keep
}

func (a Autostart) mentions(line string) bool {
	for _, s := range a.Scripts {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

func (a Autostart) write(ctx context.Context, lines []string) error {
	f, err := os.CreateTemp("", "agsb-crontab-*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(strings.Join(lines, "\n") + "\n"); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if out, err := a.Sys.Run(ctx, "crontab", f.Name()); err != nil {
		return fmt.Errorf("load crontab: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
