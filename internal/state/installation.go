// Package state persists the installation record and names the files of an
// install directory.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EarlyData is the WebSocket early-data size shared by the inbound and links.
const EarlyData = 2048

// DateLayout formats Installation.InstallDate.
const DateLayout = "2006-01-02 15:04:05"

// Installation is the persisted result of `install`. JSON keys match the
// config.json written by earlier releases.
type Installation struct {
	UUID         string `json:"uuid_str"`
	Port         int    `json:"port_vm_ws"`
	Token        string `json:"argo_token,omitempty"`
	CustomDomain string `json:"custom_domain_agn,omitempty"`
	Domain       string `json:"domain,omitempty"`
	NginxMode    string `json:"nginx_mode,omitempty"`
	Catalog      string `json:"catalog,omitempty"`
	InstallDate  string `json:"install_date"`
}

// ErrInvalid marks a config.json that does not describe a usable install.
var ErrInvalid = errors.New("invalid installation record")

// Validate checks the fields every artifact is derived from: the user id
// that names the WebSocket path, the inbound port, and the domain a tunnel
// token is bound to.
func (in *Installation) Validate() error {
	if len(in.UUID) < 8 {
		return errors.New("uuid must have at least 8 characters")
	}
	if in.Port < 1 || in.Port > 65535 {
		return fmt.Errorf("port %d out of range", in.Port)
	}
	if in.Token != "" && in.CustomDomain == "" {
		return errors.New("tunnel token requires a domain")
	}
	return nil
}

// WSPath is the WebSocket path served by the inbound. Every artifact that
// routes to the inbound must use exactly this value.
func (in *Installation) WSPath() string {
	id := in.UUID
	if len(id) > 8 {
		id = id[:8]
	}
	return "/" + id + "-vm"
}

// LinkPath is WSPath with the early-data hint clients expect.
func (in *Installation) LinkPath() string {
	return fmt.Sprintf("%s?ed=%d", in.WSPath(), EarlyData)
}

// Load reads config.json from the layout and rejects a record that fails
// Validate.
func Load(l Layout) (*Installation, error) {
	var in Installation
	if err := loadJSON(l.Config(), &in); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w in %s: %v", ErrInvalid, l.Config(), err)
	}
	return &in, nil
}

// Save validates in and writes config.json into the layout.
func Save(l Layout, in *Installation) error {
	if err := in.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return saveJSON(l.Config(), in)
}

// ReadDomain returns the domain recorded by the last link generation.
func ReadDomain(l Layout) (string, error) {
	b, err := os.ReadFile(l.Domain())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func WriteDomain(l Layout, domain string) error {
	return os.WriteFile(l.Domain(), []byte(domain), 0o644)
}

func loadJSON[T any](path string, out *T) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func saveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
