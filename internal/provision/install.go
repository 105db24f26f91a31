package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"agsb/internal/config"
	"agsb/internal/links"
	"agsb/internal/nginx"
	"agsb/internal/procmgr"
	"agsb/internal/render"
	"agsb/internal/state"
	"agsb/internal/tunnel"
)

const webRoot = "/var/www/html/argosb"

// plan records how this run routes the tunnel.
type plan struct {
	mode config.NginxMode
	// viaNginx: cloudflared targets Nginx on :80 instead of the inbound.
	viaNginx bool
	// snippet: nginx_agsb_snippet.conf was written.
	snippet bool
}

// Install resolves parameters, downloads the binaries, writes every
// artifact, starts both processes and publishes the links.
func (p *Provisioner) Install(ctx context.Context, in config.Input) error {
	v, err := p.Resolver.Resolve(in)
	if err != nil {
		return err
	}
	l := p.Layout
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return err
	}
	p.Log.WithFields(logrus.Fields{"dir": l.Dir, "nginx": p.Opts.Nginx, "catalog": p.Opts.Catalog}).Info("install started")

	if exists(l.SBPid()) || exists(l.CFPid()) {
		p.printf("Stopping the previous run...\n")
		p.Procs.Stop(ctx, p.pidFiles())
	}
	if err := p.fetchBinaries(ctx, false); err != nil {
		return err
	}

	inst := &state.Installation{
		UUID:         v.UUID,
		Port:         v.Port,
		Token:        v.Token,
		CustomDomain: v.Domain,
		NginxMode:    string(p.Opts.Nginx),
		Catalog:      p.Opts.Catalog,
		InstallDate:  p.Now().Format(state.DateLayout),
	}
	if err := inst.Validate(); err != nil {
		return fmt.Errorf("%w: %v", state.ErrInvalid, err)
	}
	pl, err := p.prepareNginx(ctx, inst, p.Opts.Nginx)
	if err != nil {
		return err
	}
	if err := state.Save(l, inst); err != nil {
		return fmt.Errorf("save installation: %w", err)
	}
	svcs, err := p.writeArtifacts(inst, pl)
	if err != nil {
		return err
	}
	p.enableAutostart(ctx)
	if err := p.startServices(svcs); err != nil {
		return err
	}
	return p.publish(ctx, inst, pl)
}

func (p *Provisioner) fetchBinaries(ctx context.Context, force bool) error {
	if err := p.Fetcher.SingBox(ctx, p.Layout.Dir, p.Arch, force); err != nil {
		return fmt.Errorf("sing-box: %w", err)
	}
	if err := p.Fetcher.Cloudflared(ctx, p.Layout.Dir, p.Arch, force); err != nil {
		return fmt.Errorf("cloudflared: %w", err)
	}
	return nil
}

// prepareNginx decides whether cloudflared goes through Nginx and writes the
// location snippet when Nginx is involved.
func (p *Provisioner) prepareNginx(ctx context.Context, inst *state.Installation, mode config.NginxMode) (plan, error) {
	pl := plan{mode: mode}
	switch mode {
	case config.NginxOff:
		return pl, nil
	case config.NginxManaged:
		ok, _ := p.Nginx.Detect(ctx)
		if !ok {
			if err := p.Nginx.Install(ctx); err != nil {
				p.Log.WithError(err).Warn("nginx install failed")
				p.warnf("Nginx could not be installed: %v\n", err)
			} else {
				ok, _ = p.Nginx.Detect(ctx)
			}
		}
		if !ok {
			p.warnf("Continuing without Nginx; cloudflared will reach sing-box directly.\n")
			return pl, nil
		}
		pl.viaNginx = true
	default:
		ok, _ := p.Nginx.Detect(ctx)
		if !ok && inst.Token == "" {
			return pl, nil
		}
		pl.viaNginx = ok
	}
	snippet := p.Layout.NginxSnippet()
	if err := os.WriteFile(snippet, render.NginxSnippet(inst, snippet), 0o644); err != nil {
		return pl, fmt.Errorf("write nginx snippet: %w", err)
	}
	pl.snippet = true
	p.printf("Nginx snippet written to %s\n", snippet)
	return pl, nil
}

// writeArtifacts writes sb.json, the launchers and, for credentials
// tunnels, tunnel.json and tunnel.yml. It returns the services to start.
func (p *Provisioner) writeArtifacts(inst *state.Installation, pl plan) ([]procmgr.Service, error) {
	l := p.Layout
	sb, err := render.SingBoxConfig(inst)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(l.SingBoxConfig(), sb, 0o644); err != nil {
		return nil, err
	}

	origin := render.Origin(inst, pl.viaNginx)
	if render.ModeOf(inst.Token) == render.TunnelCredentials {
		if err := os.WriteFile(l.TunnelCreds(), []byte(inst.Token), 0o600); err != nil {
			return nil, err
		}
		yml, err := render.TunnelConfig(inst, origin, l.TunnelCreds())
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(l.TunnelConfig(), yml, 0o644); err != nil {
			return nil, err
		}
	}

	svcs := []procmgr.Service{
		{
			Name: "sing-box", Bin: l.SingBoxBin(), Args: render.SingBoxArgs(),
			Dir: l.Dir, LogPath: l.SBLog(), PIDFile: l.SBPid(),
		},
		{
			Name: "cloudflared", Bin: l.CloudflaredBin(), Args: render.CloudflaredArgs(inst, origin, l.TunnelConfig()),
			Dir: l.Dir, LogPath: l.ArgoLog(), PIDFile: l.CFPid(),
		},
	}
	scripts := map[string]procmgr.Service{l.StartSB(): svcs[0], l.StartCF(): svcs[1]}
	for path, s := range scripts {
		body := render.LauncherScript(l.Dir, filepath.Base(s.Bin), s.Args, filepath.Base(s.LogPath), filepath.Base(s.PIDFile))
		if err := os.WriteFile(path, body, 0o755); err != nil {
			return nil, err
		}
	}
	p.Log.WithFields(logrus.Fields{"origin": origin, "tunnel": render.ModeOf(inst.Token)}).Info("artifacts written")
	return svcs, nil
}

func (p *Provisioner) enableAutostart(ctx context.Context) {
	if err := p.autostart().Install(ctx); err != nil {
		p.Log.WithError(err).Warn("crontab autostart failed")
		p.warnf("Could not set up autostart (%v); services will not restart at boot.\n", err)
		return
	}
	p.printf("Autostart registered in crontab\n")
}

func (p *Provisioner) startServices(svcs []procmgr.Service) error {
	for _, s := range svcs {
		pid, err := p.Procs.Start(s)
		if err != nil {
			return err
		}
		p.printf("Started %s (pid %d)\n", s.Name, pid)
	}
	p.printf("Waiting %s for services to settle...\n", p.Opts.Settle)
	p.Sleep(p.Opts.Settle)
	for name, err := range p.Procs.Exited() {
		p.Log.WithError(err).WithField("service", name).Error("exited during startup")
		p.warnf("%s exited during startup (%v); see `%s logs`.\n", name, err, p.Cmd)
	}
	return nil
}

// publish settles the domain, records it and writes, prints and optionally
// uploads the link catalog.
func (p *Provisioner) publish(ctx context.Context, inst *state.Installation, pl plan) error {
	l := p.Layout
	domain := inst.CustomDomain
	if domain == "" {
		p.printf("Waiting for the quick tunnel domain...\n")
		r := &tunnel.Resolver{LogPath: l.ArgoLog(), Attempts: p.Opts.DomainAttempts, Interval: p.Opts.DomainInterval, Log: p.Log}
		d, err := r.Resolve(ctx)
		if err != nil {
			p.printf("%sCould not obtain the tunnel domain; check %s or pass --domain.%s\n", red, l.ArgoLog(), reset)
			return err
		}
		domain = d
		p.printf("Quick tunnel domain: %s\n", d)
	}
	inst.Domain = domain
	if err := state.Save(l, inst); err != nil {
		return fmt.Errorf("save installation: %w", err)
	}
	if err := state.WriteDomain(l, domain); err != nil {
		return err
	}

	if pl.mode == config.NginxManaged && pl.viaNginx {
		p.applyManagedNginx(ctx, inst)
	}

	set, err := p.buildLinks(inst)
	if err != nil {
		return err
	}
	if err := links.WriteFiles(l, set, p.Cmd); err != nil {
		return fmt.Errorf("write link files: %w", err)
	}
	links.PrintSummary(p.Out, set, l, p.Cmd)
	if pl.snippet && pl.mode != config.NginxManaged {
		p.printIncludeHint()
	}
	p.shareSubscription(ctx, set)
	p.Log.WithFields(logrus.Fields{"domain": domain, "links": len(set.Links)}).Info("links published")
	return nil
}

func (p *Provisioner) applyManagedNginx(ctx context.Context, inst *state.Installation) {
	entry := nginx.Entry{
		Domain:       inst.Domain,
		WSPath:       inst.WSPath(),
		InternalPort: inst.Port,
		Type:         nginx.ServiceName,
		WebRoot:      webRoot,
	}
	if err := p.Registry.Update(nginx.ServiceName, entry); err != nil {
		p.warnf("Could not update %s: %v\n", p.Registry.Path, err)
		return
	}
	conf, err := render.NginxMain(p.Registry.Sites())
	if err != nil {
		p.warnf("Could not render nginx.conf: %v\n", err)
		return
	}
	if err := p.Nginx.Apply(ctx, conf); err != nil {
		p.Log.WithError(err).Error("nginx apply failed")
		p.warnf("Nginx configuration not applied: %v\n", err)
	}
}

func (p *Provisioner) buildLinks(inst *state.Installation) (*links.Set, error) {
	host, err := p.Hostname()
	if err != nil {
		host = "agsb"
	}
	ls, err := links.Build(links.Params{
		Domain:   inst.Domain,
		UUID:     inst.UUID,
		Path:     inst.LinkPath(),
		Hostname: host,
		Catalog:  inst.Catalog,
	})
	if err != nil {
		return nil, err
	}
	return &links.Set{Domain: inst.Domain, UUID: inst.UUID, Port: inst.Port, Path: inst.LinkPath(), Links: ls}, nil
}

func (p *Provisioner) printIncludeHint() {
	line := "======================================================================"
	p.printf("\n%s\n%sNginx detected: route the tunnel through it%s\n%s\n", line, yellow, reset, line)
	p.printf("1. Open your main Nginx configuration (usually /etc/nginx/nginx.conf).\n")
	p.printf("2. Inside the server block that listens on port 80, add:\n\n")
	p.printf("   %sinclude %s;%s\n\n", green, p.Layout.NginxSnippet(), reset)
	p.printf("3. Reload Nginx:\n   %ssudo nginx -t && sudo systemctl reload nginx%s\n", cyan, reset)
	p.printf("%s\n\n", line)
}

// shareSubscription uploads the subscription when configured and prints a
// QR code of the subscription URL, or of the first link otherwise.
func (p *Provisioner) shareSubscription(ctx context.Context, set *links.Set) {
	qrOf := ""
	if len(set.Links) > 0 {
		qrOf = set.Links[0].URI
	}
	if p.Uploader != nil {
		url, err := p.Uploader.Upload(ctx, set.Subscription())
		switch {
		case err != nil:
			p.Log.WithError(err).Warn("subscription upload failed")
			p.warnf("Subscription upload failed: %v\n", err)
		case url != "":
			if werr := os.WriteFile(p.Layout.SubscriptionURL(), []byte(url), 0o644); werr != nil {
				p.Log.WithError(werr).Warn("write subscription url")
			}
			p.printf("%sSubscription uploaded: %s%s\n", green, url, reset)
			qrOf = url
		}
	}
	if qrOf == "" {
		return
	}
	qr, err := links.QR(qrOf)
	if err != nil {
		p.Log.WithError(err).Debug("qr render")
		return
	}
	p.printf("%s\n", qr)
}
