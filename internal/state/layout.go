package state

import (
	"os"
	"path/filepath"
)

// Layout names every file agsb keeps in its install directory.
type Layout struct {
	Dir string
}

// DefaultDir is ~/.agsb, falling back to ./.agsb when HOME is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".agsb"
	}
	return filepath.Join(home, ".agsb")
}

func (l Layout) path(name string) string { return filepath.Join(l.Dir, name) }

func (l Layout) Config() string          { return l.path("config.json") }
func (l Layout) SingBoxConfig() string   { return l.path("sb.json") }
func (l Layout) SingBoxBin() string      { return l.path("sing-box") }
func (l Layout) CloudflaredBin() string  { return l.path("cloudflared") }
func (l Layout) StartSB() string         { return l.path("start_sb.sh") }
func (l Layout) StartCF() string         { return l.path("start_cf.sh") }
func (l Layout) SBPid() string           { return l.path("sbpid.log") }
func (l Layout) CFPid() string           { return l.path("sbargopid.log") }
func (l Layout) SBLog() string           { return l.path("sb.log") }
func (l Layout) ArgoLog() string         { return l.path("argo.log") }
func (l Layout) List() string            { return l.path("list.txt") }
func (l Layout) AllNodes() string        { return l.path("allnodes.txt") }
func (l Layout) JH() string              { return l.path("jh.txt") }
func (l Layout) Domain() string          { return l.path("custom_domain.txt") }
func (l Layout) NginxSnippet() string    { return l.path("nginx_agsb_snippet.conf") }
func (l Layout) Readme() string          { return l.path("README.md") }
func (l Layout) SubscriptionURL() string { return l.path("subscription_url.txt") }
func (l Layout) DebugLog() string        { return l.path("debug.log") }
func (l Layout) TunnelCreds() string     { return l.path("tunnel.json") }
func (l Layout) TunnelConfig() string    { return l.path("tunnel.yml") }

// Abs returns the layout with an absolute directory; crontab lines and
// launcher scripts must not depend on the caller's working directory.
func (l Layout) Abs() Layout {
	if abs, err := filepath.Abs(l.Dir); err == nil {
		return Layout{Dir: abs}
	}
	return l
}

// Exists reports whether the install directory is present at all.
func (l Layout) Exists() bool {
	st, err := os.Stat(l.Dir)
	return err == nil && st.IsDir()
}

// Complete reports whether a previous install left its config and both PID
// files behind.
func (l Layout) Complete() bool {
	for _, p := range []string{l.Config(), l.SBPid(), l.CFPid()} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}
