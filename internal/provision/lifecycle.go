package provision

import (
	"context"
	"errors"
	"fmt"
	"os"

	"agsb/internal/config"
	"agsb/internal/nginx"
	"agsb/internal/state"
)

// Uninstall stops both processes, drops the autostart entries and the
// registry entry, and removes the install directory. Running it twice is
// harmless.
func (p *Provisioner) Uninstall(ctx context.Context) error {
	l := p.Layout
	inst, err := state.Load(l)
	if err != nil && !os.IsNotExist(err) {
		p.Log.WithError(err).Warn("config.json unreadable; removing anyway")
	}

	p.printf("Stopping sing-box and cloudflared...\n")
	p.Procs.Stop(ctx, p.pidFiles())

	if err := p.autostart().Remove(ctx); err != nil {
		p.Log.WithError(err).Warn("crontab cleanup failed")
		p.warnf("Could not clean the crontab: %v\n", err)
	}
	if inst != nil && config.NginxMode(inst.NginxMode) == config.NginxManaged {
		if err := p.Registry.Remove(nginx.ServiceName); err != nil {
			p.Log.WithError(err).Warn("registry cleanup failed")
		}
	}
	if l.Exists() {
		if err := os.RemoveAll(l.Dir); err != nil {
			p.warnf("Could not remove %s (%v); delete it manually.\n", l.Dir, err)
			return nil
		}
	}
	p.Log.WithField("dir", l.Dir).Info("uninstalled")
	p.printf("%sagsb removed.%s\n", green, reset)
	return nil
}

// Update downloads fresh binaries and restarts both processes from the
// stored installation. Quick tunnels get a new hostname, so the links are
// regenerated as well.
func (p *Provisioner) Update(ctx context.Context) error {
	l := p.Layout
	inst, err := state.Load(l)
	switch {
	case errors.Is(err, state.ErrInvalid):
		return err
	case err != nil:
		return fmt.Errorf("%w in %s: %v", ErrNotInstalled, l.Dir, err)
	}
	p.Log.WithField("dir", l.Dir).Info("update started")
	p.printf("Downloading the latest sing-box and cloudflared...\n")
	if err := p.fetchBinaries(ctx, true); err != nil {
		return err
	}

	mode, err := config.ParseNginxMode(inst.NginxMode)
	if err != nil {
		mode = config.NginxAuto
	}
	if inst.Catalog == "" {
		inst.Catalog = p.Opts.Catalog
	}
	pl, err := p.prepareNginx(ctx, inst, mode)
	if err != nil {
		return err
	}

	p.Procs.Stop(ctx, p.pidFiles())
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
