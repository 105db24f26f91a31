// Package nginx detects, installs and reconfigures a local Nginx.
package nginx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"agsb/internal/logging"
	"agsb/internal/system"
)

// ErrConfigTest means `nginx -t` rejected a generated configuration; the
// previous configuration has been restored.
var ErrConfigTest = errors.New("nginx configuration test failed")

// ConfigPaths are the usual main configuration locations, in lookup order.
var ConfigPaths = []string{
	"/etc/nginx/nginx.conf",
	"/usr/local/nginx/conf/nginx.conf",
	"/usr/local/etc/nginx/nginx.conf",
	"/opt/homebrew/etc/nginx/nginx.conf",
	"/etc/nginx/conf/nginx.conf",
}

// Nginx drives the nginx binary and its package manager through System.
type Nginx struct {
	Sys system.System
	Out io.Writer
	Log logrus.FieldLogger
	// MainConfig is the file Apply replaces.
	MainConfig string
	// Candidates overrides ConfigPaths for detection.
	Candidates []string
	Now        func() time.Time
}

func New(sys system.System, out io.Writer, log logrus.FieldLogger) *Nginx {
	return &Nginx{Sys: sys, Out: out, Log: log, MainConfig: ConfigPaths[0], Now: time.Now}
}

// Detect reports whether nginx is installed and where its main config lives
// (empty when none of the candidates exists).
func (n *Nginx) Detect(ctx context.Context) (bool, string) {
	if _, err := n.Sys.LookPath("nginx"); err != nil {
		return false, ""
	}
	out, err := n.Sys.Run(ctx, "nginx", "-v")
	if err != nil || !strings.Contains(string(out), "nginx version") {
		n.log().WithError(err).Debug("nginx -v not recognized")
		return false, ""
	}
	n.printf("Nginx detected (%s)\n", strings.TrimSpace(string(out)))
	paths := n.Candidates
	if paths == nil {
		paths = ConfigPaths
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return true, p
		}
	}
	return true, ""
}

// Install installs nginx with apt-get, yum or dnf.
func (n *Nginx) Install(ctx context.Context) error {
	var pm string
	for _, c := range []string{"apt-get", "yum", "dnf"} {
		if _, err := n.Sys.LookPath(c); err == nil {
			pm = c
			break
		}
	}
	if pm == "" {
		return errors.New("no supported package manager (apt-get, yum, dnf)")
	}
	n.printf("Installing nginx with %s...\n", pm)
	if pm == "apt-get" {
		if out, err := n.privileged(ctx, pm, "update", "-y"); err != nil {
			return fmt.Errorf("%s update: %w: %s", pm, err, strings.TrimSpace(string(out)))
		}
	}
	if out, err := n.privileged(ctx, pm, "install", "-y", "nginx"); err != nil {
		return fmt.Errorf("%s install nginx: %w: %s", pm, err, strings.TrimSpace(string(out)))
	}
	n.log().WithField("package_manager", pm).Info("nginx installed")
	return nil
}

// Apply replaces the main configuration with conf. The current file is
// kept as <path>.bak.<timestamp>; if `nginx -t` fails it is moved back and
// ErrConfigTest is returned. On success nginx is reloaded.
func (n *Nginx) Apply(ctx context.Context, conf []byte) error {
	path := n.MainConfig
	if path == "" {
		path = ConfigPaths[0]
	}
	tmp, err := n.stage(path, conf)
	if err != nil {
		return fmt.Errorf("stage nginx config: %w", err)
	}

	backup := ""
	if _, err := os.Stat(path); err == nil {
		backup = fmt.Sprintf("%s.bak.%s", path, n.now().Format("20060102150405"))
		n.printf("Backing up %s to %s\n", path, backup)
		if err := n.move(ctx, path, backup); err != nil {
			_ = os.Remove(tmp)
			return fmt.Errorf("backup nginx config: %w", err)
		}
	}
	if err := n.move(ctx, tmp, path); err != nil {
		if backup != "" {
			_ = n.move(ctx, backup, path)
		}
		return fmt.Errorf("install nginx config: %w", err)
	}

	if out, err := n.privileged(ctx, "nginx", "-t"); err != nil {
		n.log().WithField("output", string(out)).Error("nginx -t failed, restoring backup")
		if backup != "" {
			if rerr := n.move(ctx, backup, path); rerr != nil {
				n.log().WithError(rerr).Error("restore nginx backup")
			}
		}
		return fmt.Errorf("%w: %s", ErrConfigTest, strings.TrimSpace(string(out)))
	}
	if out, err := n.privileged(ctx, "systemctl", "reload", "nginx"); err != nil {
		return fmt.Errorf("reload nginx: %w: %s", err, strings.TrimSpace(string(out)))
	}
	n.printf("Nginx configuration applied\n")
	n.log().WithFields(logrus.Fields{"path": path, "backup": backup}).Info("nginx config applied")
	return nil
}

// stage writes conf next to path when we own it, or to a temp file that is
// moved with sudo otherwise.
func (n *Nginx) stage(path string, conf []byte) (string, error) {
	if n.Sys.Geteuid() == 0 {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		tmp := path + ".agsb-new"
		return tmp, os.WriteFile(tmp, conf, 0o644)
	}
	f, err := os.CreateTemp("", "agsb-nginx-*.conf")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(conf); err != nil {
		_ = f.Close()
		return "", err
	}
	return f.Name(), f.Close()
}

func (n *Nginx) move(ctx context.Context, src, dst string) error {
	if n.Sys.Geteuid() == 0 {
		return os.Rename(src, dst)
	}
	_, err := n.Sys.Run(ctx, "sudo", "mv", src, dst)
	return err
}

func (n *Nginx) privileged(ctx context.Context, name string, args ...string) ([]byte, error) {
	if n.Sys.Geteuid() == 0 {
		return n.Sys.Run(ctx, name, args...)
	}
	return n.Sys.Run(ctx, "sudo", append([]string{name}, args...)...)
}

func (n *Nginx) now() time.Time {
	if n.Now == nil {
		return time.Now()
	}
	return n.Now()
}

func (n *Nginx) log() logrus.FieldLogger { return logging.Or(n.Log) }

func (n *Nginx) printf(format string, args ...any) {
	if n.Out != nil {
		fmt.Fprintf(n.Out, format, args...)
	}
}
