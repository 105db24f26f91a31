package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"

	"agsb/internal/state"
)

// TunnelMode is how cloudflared authenticates.
type TunnelMode string

const (
	// Quick tunnels get a random trycloudflare.com hostname.
	TunnelQuick TunnelMode = "quick"
	// TunnelToken runs a dashboard-managed tunnel from its token.
	TunnelToken TunnelMode = "token"
	// TunnelCredentials runs a named tunnel from its credentials JSON.
	TunnelCredentials TunnelMode = "credentials"
)

// ModeOf classifies the value given as tunnel token.
func ModeOf(token string) TunnelMode {
	switch {
	case token == "":
		return TunnelQuick
	case strings.Contains(token, "TunnelSecret"):
		return TunnelCredentials
	}
	return TunnelToken
}

// Origin is the URL cloudflared forwards to.
func Origin(in *state.Installation, viaNginx bool) string {
	if viaNginx {
		return "http://localhost:80"
	}
	return fmt.Sprintf("http://localhost:%d%s", in.Port, in.LinkPath())
}

// CloudflaredArgs returns the cloudflared argument list for the tunnel mode.
// configPath is only used in credentials mode.
func CloudflaredArgs(in *state.Installation, origin, configPath string) []string {
	switch ModeOf(in.Token) {
	case TunnelToken:
		return []string{"tunnel", "--no-autoupdate", "run", "--token", in.Token}
	case TunnelCredentials:
		return []string{"tunnel", "--edge-ip-version", "auto", "--config", configPath, "run"}
	}
	return []string{"tunnel", "--no-autoupdate", "--url", origin, "--edge-ip-version", "auto", "--protocol", "http2"}
}

type ingressRule struct {
	Hostname      string         `yaml:"hostname,omitempty"`
	Service       string         `yaml:"service"`
	OriginRequest map[string]any `yaml:"originRequest,omitempty"`
}

type tunnelFile struct {
	Tunnel          string        `yaml:"tunnel"`
	CredentialsFile string        `yaml:"credentials-file"`
	Protocol        string        `yaml:"protocol"`
	Ingress         []ingressRule `yaml:"ingress"`
}

// TunnelID extracts TunnelID from a credentials document.
func TunnelID(credentials string) (string, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(credentials), &doc); err != nil {
		return "", fmt.Errorf("parse tunnel credentials: %w", err)
	}
	id, _ := doc["TunnelID"].(string)
	if id == "" {
		return "", errors.New("tunnel credentials carry no TunnelID")
	}
	return id, nil
}

// TunnelConfig builds tunnel.yml for credentials mode. cloudflared ingress
// services cannot carry a path, so only scheme and host of origin are used.
func TunnelConfig(in *state.Installation, origin, credentialsPath string) ([]byte, error) {
	id, err := TunnelID(in.Token)
	if err != nil {
		return nil, err
	}
	svc := origin
	if u, err := url.Parse(origin); err == nil {
		svc = u.Scheme + "://" + u.Host
	}
	doc := tunnelFile{
		Tunnel:          id,
		CredentialsFile: credentialsPath,
		Protocol:        "http2",
		Ingress: []ingressRule{
			{Hostname: in.CustomDomain, Service: svc, OriginRequest: map[string]any{"noTLSVerify": true}},
			{Service: "http_status:404"},
		},
	}
	return yaml.Marshal(doc)
}
