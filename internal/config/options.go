// Package config resolves install parameters and run options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"agsb/internal/state"
)

// NginxMode controls how much of Nginx agsb manages.
type NginxMode string

const (
	NginxOff     NginxMode = "off"
	NginxAuto    NginxMode = "auto"
	NginxManaged NginxMode = "managed"
)

func ParseNginxMode(s string) (NginxMode, error) {
	switch m := NginxMode(strings.ToLower(strings.TrimSpace(s))); m {
	case NginxOff, NginxAuto, NginxManaged:
		return m, nil
	case "":
		return NginxAuto, nil
	}
	return "", fmt.Errorf("unknown nginx mode %q (want off, auto or managed)", s)
}

const (
	CatalogClassic  = "classic"
	CatalogExtended = "extended"
)

const DefaultMirror = "https://github.91chi.fun/"

// Options are the run-wide settings that are not part of the installation
// record itself.
type Options struct {
	Home           string
	Registry       string
	Nginx          NginxMode
	Catalog        string
	UploadURL      string
	Mirror         string
	Settle         time.Duration
	DomainAttempts int
	DomainInterval time.Duration
	Yes            bool
	Verbose        bool
}

// Layout returns the install-directory layout for these options.
func (o Options) Layout() state.Layout {
	return state.Layout{Dir: o.Home}.Abs()
}

// Validate normalizes enum fields.
func (o *Options) Validate() error {
	m, err := ParseNginxMode(string(o.Nginx))
	if err != nil {
		return err
	}
	o.Nginx = m
	switch o.Catalog {
	case "":
		o.Catalog = CatalogExtended
	case CatalogClassic, CatalogExtended:
	default:
		return fmt.Errorf("unknown catalog %q (want classic or extended)", o.Catalog)
	}
	if o.DomainAttempts < 1 {
		o.DomainAttempts = 1
	}
	return nil
}

// DefaultOptions applies AGSB_* environment overrides to the built-in
// defaults. Command-line flags are bound on top of the result.
func DefaultOptions(getenv func(string) string) Options {
	if getenv == nil {
		getenv = os.Getenv
	}
	o := Options{
		Home:           state.DefaultDir(),
		Registry:       defaultRegistry(),
		Nginx:          NginxAuto,
		Catalog:        CatalogExtended,
		Mirror:         DefaultMirror,
		Settle:         5 * time.Second,
		DomainAttempts: 15,
		DomainInterval: 3 * time.Second,
	}
	if v := getenv("AGSB_HOME"); v != "" {
		o.Home = v
	}
	if v := getenv("AGSB_REGISTRY"); v != "" {
		o.Registry = v
	}
	if v := getenv("AGSB_NGINX"); v != "" {
		o.Nginx = NginxMode(v)
	}
	if v := getenv("AGSB_CATALOG"); v != "" {
		o.Catalog = v
	}
	if v := getenv("AGSB_UPLOAD_URL"); v != "" {
		o.UploadURL = v
	}
	if v := getenv("AGSB_MIRROR"); v != "" {
		o.Mirror = v
	}
	if v := getenv("AGSB_SETTLE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			o.Settle = d
		}
	}
	if v := getenv("AGSB_DOMAIN_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			o.DomainAttempts = n
		}
	}
	return o
}

func defaultRegistry() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".all_services.json"
	}
	return filepath.Join(home, ".all_services.json")
}
