package nginx

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"

	"agsb/internal/render"
)

// ServiceName is the key agsb uses in the shared registry.
const ServiceName = "argosb"

// Entry is one service in the shared registry.
type Entry struct {
	Domain       string `json:"domain"`
	WSPath       string `json:"ws_path,omitempty"`
	InternalPort int    `json:"internal_port,omitempty"`
	Type         string `json:"type,omitempty"`
	WebRoot      string `json:"web_root,omitempty"`
	CertPath     string `json:"cert_path,omitempty"`
	KeyPath      string `json:"key_path,omitempty"`
}

// Registry is the JSON file (~/.all_services.json) through which tools on
// the host share one Nginx. Entries written by other tools are kept as-is.
type Registry struct {
	Path string
}

func (r Registry) load() map[string]json.RawMessage {
	all := map[string]json.RawMessage{}
	b, err := os.ReadFile(r.Path)
	if err != nil {
		return all
	}
	if err := json.Unmarshal(b, &all); err != nil || all == nil {
		return map[string]json.RawMessage{}
	}
	return all
}

func (r Registry) save(all map[string]json.RawMessage) error {
	if err := os.MkdirAll(filepath.Dir(r.Path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.Path, b, 0o644)
}

// Update sets one service entry.
func (r Registry) Update(name string, e Entry) error {
	if name == "" {
		return errors.New("empty service name")
	}
	all := r.load()
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	all[name] = raw
	return r.save(all)
}

// Remove drops a service; a missing file or entry is not an error.
func (r Registry) Remove(name string) error {
	all := r.load()
	if _, ok := all[name]; !ok {
		return nil
	}
	delete(all, name)
	return r.save(all)
}

// Get returns one entry.
func (r Registry) Get(name string) (Entry, bool) {
	raw, ok := r.load()[name]
	if !ok {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false
	}
	return e, true
}

// Sites lists entries in name order for the main config. Entries that do
// not decode as objects are skipped.
func (r Registry) Sites() []render.Site {
	all := r.load()
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	sort.Strings(names)
	var sites []render.Site
	for _, n := range names {
		var e Entry
		if err := json.Unmarshal(all[n], &e); err != nil {
			continue
		}
		sites = append(sites, render.Site{
			Name:         n,
			Domain:       e.Domain,
			WSPath:       e.WSPath,
			InternalPort: e.InternalPort,
			WebRoot:      e.WebRoot,
			CertPath:     e.CertPath,
			KeyPath:      e.KeyPath,
		})
	}
	return sites
}
