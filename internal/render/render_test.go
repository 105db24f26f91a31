package render

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"agsb/internal/state"
)

func testInstall() *state.Installation {
	return &state.Installation{UUID: "25bd7521-eed2-45a1-a50a-97e432552aca", Port: 23456}
}

func TestSingBoxConfig(t *testing.T) {
	b, err := SingBoxConfig(testInstall())
	require.NoError(t, err)

	var cfg struct {
		Log struct {
			Level     string `json:"level"`
			Timestamp bool   `json:"timestamp"`
		} `json:"log"`
		Inbounds []struct {
			Type       string `json:"type"`
			Tag        string `json:"tag"`
			Listen     string `json:"listen"`
			ListenPort int    `json:"listen_port"`
			Users      []struct {
				UUID    string `json:"uuid"`
				AlterID int    `json:"alterId"`
			} `json:"users"`
			Transport struct {
				Type         string `json:"type"`
				Path         string `json:"path"`
				MaxEarlyData int    `json:"max_early_data"`
				Header       string `json:"early_data_header_name"`
			} `json:"transport"`
		} `json:"inbounds"`
		Outbounds []struct {
			Type string `json:"type"`
			Tag  string `json:"tag"`
		} `json:"outbounds"`
	}
	require.NoError(t, json.Unmarshal(b, &cfg))
	require.Equal(t, "info", cfg.Log.Level)
	require.True(t, cfg.Log.Timestamp)
	require.Len(t, cfg.Inbounds, 1)
	in := cfg.Inbounds[0]
	require.Equal(t, "vmess", in.Type)
	require.Equal(t, "vmess-in", in.Tag)
	require.Equal(t, "127.0.0.1", in.Listen)
	require.Equal(t, 23456, in.ListenPort)
	require.Equal(t, "25bd7521-eed2-45a1-a50a-97e432552aca", in.Users[0].UUID)
	require.Equal(t, "ws", in.Transport.Type)
	require.Equal(t, "/25bd7521-vm", in.Transport.Path)
	require.Equal(t, 2048, in.Transport.MaxEarlyData)
	require.Equal(t, "Sec-WebSocket-Protocol", in.Transport.Header)
	require.Equal(t, "direct", cfg.Outbounds[0].Type)
}

func TestModeOf(t *testing.T) {
	require.Equal(t, TunnelQuick, ModeOf(""))
	require.Equal(t, TunnelToken, ModeOf("eyJhIjoiYWJjIn0="))
	require.Equal(t, TunnelCredentials, ModeOf(`{"AccountTag":"a","TunnelSecret":"s","TunnelID":"id"}`))
}

func TestCloudflaredArgs(t *testing.T) {
	in := testInstall()
	origin := Origin(in, false)
	require.Equal(t, "http://localhost:23456/25bd7521-vm?ed=2048", origin)
	require.Equal(t, "http://localhost:80", Origin(in, true))

	require.Equal(t,
		[]string{"tunnel", "--no-autoupdate", "--url", origin, "--edge-ip-version", "auto", "--protocol", "http2"},
		CloudflaredArgs(in, origin, "/x/tunnel.yml"))

	in.Token, in.CustomDomain = "eyJhIjoiYWJjIn0=", "vm.example.com"
	require.Equal(t,
		[]string{"tunnel", "--no-autoupdate", "run", "--token", "eyJhIjoiYWJjIn0="},
		CloudflaredArgs(in, origin, "/x/tunnel.yml"))

	in.Token = `{"TunnelSecret":"s","TunnelID":"id"}`
	require.Equal(t,
		[]string{"tunnel", "--edge-ip-version", "auto", "--config", "/x/tunnel.yml", "run"},
		CloudflaredArgs(in, origin, "/x/tunnel.yml"))
}

func TestTunnelConfig(t *testing.T) {
	in := testInstall()
	in.Token = `{"AccountTag":"acc","TunnelSecret":"c2VjcmV0","TunnelID":"0b1c-tunnel"}`
	in.CustomDomain = "vm.example.com"
	b, err := TunnelConfig(in, Origin(in, false), "/home/u/.agsb/tunnel.json")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal(b, &doc))
	require.Equal(t, "0b1c-tunnel", doc["tunnel"])
	require.Equal(t, "/home/u/.agsb/tunnel.json", doc["credentials-file"])
	ingress := doc["ingress"].([]any)
	require.Len(t, ingress, 2)
	first := ingress[0].(map[string]any)
	require.Equal(t, "vm.example.com", first["hostname"])
	require.Equal(t, "http://localhost:23456", first["service"])
	require.Equal(t, "http_status:404", ingress[1].(map[string]any)["service"])

	in.Token = `{"TunnelSecret":"s"}`
	_, err = TunnelConfig(in, "http://localhost:80", "x")
	require.Error(t, err)
}

func TestLauncherScript(t *testing.T) {
	s := string(LauncherScript("/home/u/.agsb", "cloudflared",
		[]string{"tunnel", "--url", "http://localhost:23456/25bd7521-vm?ed=2048"}, "argo.log", "sbargopid.log"))
	require.True(t, strings.HasPrefix(s, "#!/bin/sh\ncd /home/u/.agsb\n"))
	require.Contains(t, s, "./cloudflared tunnel --url 'http://localhost:23456/25bd7521-vm?ed=2048' > argo.log 2>&1 & echo $! > sbargopid.log")

	s = string(LauncherScript("/srv/it's", "sing-box", SingBoxArgs(), "sb.log", "sbpid.log"))
	require.Contains(t, s, `cd '/srv/it'\''s'`)
	require.Contains(t, s, "./sing-box run -c sb.json > sb.log 2>&1 & echo $! > sbpid.log")
}

func TestNginxSnippetUsesWSPath(t *testing.T) {
	in := testInstall()
	s := string(NginxSnippet(in, "/home/u/.agsb/nginx_agsb_snippet.conf"))
	require.Contains(t, s, "location = "+in.WSPath()+" {")
	require.Contains(t, s, "proxy_pass http://127.0.0.1:23456;")
	require.Contains(t, s, "include /home/u/.agsb/nginx_agsb_snippet.conf;")
}

func TestNginxMain(t *testing.T) {
	b, err := NginxMain([]Site{
		{Name: "argosb", Domain: "vm.example.com", WSPath: "/25bd7521-vm", InternalPort: 23456, WebRoot: "/var/www/html/argosb"},
		{Name: "blog", Domain: "blog.example.com", CertPath: "/etc/ssl/blog.pem", KeyPath: "/etc/ssl/blog.key"},
		{Name: "nodomain"},
	})
	require.NoError(t, err)
	s := string(b)
	require.Contains(t, s, "vm.example.com    /etc/nginx/ssl/argosb.pem;")
	require.Contains(t, s, "blog.example.com    /etc/ssl/blog.key;")
	require.Contains(t, s, "default             /etc/nginx/ssl/argosb.pem;")
	require.Contains(t, s, "server_name vm.example.com blog.example.com _;")
	require.Contains(t, s, "location = /25bd7521-vm {")
	require.Contains(t, s, "proxy_pass http://127.0.0.1:23456;")
	require.Contains(t, s, `if ($host = "vm.example.com") {`)
	require.Contains(t, s, "root /var/www/html/argosb;")
	require.Contains(t, s, "return 404;")
	require.Contains(t, s, "return 301 https://$host$request_uri;")
	// once on 443, once on the plain port cloudflared dials
	require.Equal(t, 2, strings.Count(s, "location = /25bd7521-vm {"))
	require.NotContains(t, s, "nodomain")
}

func TestNginxMainEmptyRegistry(t *testing.T) {
	b, err := NginxMain(nil)
	require.NoError(t, err)
	require.Contains(t, string(b), "default             /etc/nginx/ssl/default.crt;")
	require.Contains(t, string(b), "server_name _;")
}
