// Package provision runs the agsb subcommands on top of the component
// packages.
package provision

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"agsb/internal/config"
	"agsb/internal/cron"
	"agsb/internal/fetch"
	"agsb/internal/logging"
	"agsb/internal/nginx"
	"agsb/internal/probe"
	"agsb/internal/procmgr"
	"agsb/internal/state"
	"agsb/internal/system"
	"agsb/internal/upload"
)

const (
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
	reset  = "\033[0m"
)

// Provisioner holds every collaborator a subcommand may need. Fields are
// exported so tests can swap them.
type Provisioner struct {
	Opts     config.Options
	Layout   state.Layout
	Sys      system.System
	Out      io.Writer
	Log      logrus.FieldLogger
	Resolver *config.Resolver
	Fetcher  *fetch.Fetcher
	Nginx    *nginx.Nginx
	Registry nginx.Registry
	Procs    *procmgr.Manager
	// Uploader is nil when no upload URL is configured.
	Uploader *upload.Uploader
	Arch     string
	// Cmd is how usage hints refer to this program.
	Cmd      string
	Hostname func() (string, error)
	Now      func() time.Time
	Sleep    func(time.Duration)
	Probe    func(ctx context.Context, host string, port int, path string, timeout time.Duration) probe.Result
}

// New wires the real implementations for opts.
func New(opts config.Options, sys system.System, prompt config.Prompter, out io.Writer, log logrus.FieldLogger) *Provisioner {
	log = logging.Or(log)
	p := &Provisioner{
		Opts:   opts,
		Layout: opts.Layout(),
		Sys:    sys,
		Out:    out,
		Log:    log,
		Resolver: &config.Resolver{
			Getenv: os.Getenv,
			Prompt: prompt,
			Out:    out,
			Log:    log,
		},
		Fetcher:  fetch.New(opts.Mirror, out, log),
		Nginx:    nginx.New(sys, out, log),
		Registry: nginx.Registry{Path: opts.Registry},
		Procs:    procmgr.New(sys, log),
		Arch:     fetch.NormalizeArch(fetch.Machine()),
		Cmd:      "agsb",
		Hostname: os.Hostname,
		Now:      time.Now,
		Sleep:    time.Sleep,
		Probe:    probe.WebSocket,
	}
	if opts.UploadURL != "" {
		p.Uploader = &upload.Uploader{URL: opts.UploadURL}
	}
	return p
}

func (p *Provisioner) autostart() cron.Autostart {
	return cron.Autostart{Sys: p.Sys, Scripts: []string{p.Layout.StartSB(), p.Layout.StartCF()}}
}

func (p *Provisioner) pidFiles() []string {
	return []string{p.Layout.SBPid(), p.Layout.CFPid()}
}

func (p *Provisioner) printf(format string, args ...any) {
	fmt.Fprintf(p.Out, format, args...)
}

func (p *Provisioner) warnf(format string, args ...any) {
	fmt.Fprintf(p.Out, yellow+format+reset, args...)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
