// Package render produces the files agsb writes into the install directory.
package render

import (
	"encoding/json"

	"agsb/internal/state"
)

// SingBoxConfig builds sb.json: one loopback VMess inbound over WebSocket and
// a direct outbound.
func SingBoxConfig(in *state.Installation) ([]byte, error) {
	inbound := map[string]any{
		"type":                       "vmess",
		"tag":                        "vmess-in",
		"listen":                     "127.0.0.1",
		"listen_port":                in.Port,
		"tcp_fast_open":              true,
		"sniff":                      true,
		"sniff_override_destination": true,
		"proxy_protocol":             false,
		"users": []map[string]any{
			{"uuid": in.UUID, "alterId": 0},
		},
		"transport": map[string]any{
			"type":                   "ws",
			"path":                   in.WSPath(),
			"max_early_data":         state.EarlyData,
			"early_data_header_name": "Sec-WebSocket-Protocol",
		},
	}
	cfg := map[string]any{
		"log":      map[string]any{"level": "info", "timestamp": true},
		"inbounds": []map[string]any{inbound},
		"outbounds": []map[string]any{
			{"type": "direct", "tag": "direct"},
		},
	}
	return json.MarshalIndent(cfg, "", "  ")
}

// SingBoxArgs are the arguments passed to the sing-box binary.
func SingBoxArgs() []string { return []string{"run", "-c", "sb.json"} }
