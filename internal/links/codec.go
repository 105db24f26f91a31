package links

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Scheme prefixes every VMess link.
const Scheme = "vmess://"

// VMess is the link object understood by v2rayN-style clients. Fields are
// declared in key order so the encoded JSON has sorted keys.
type VMess struct {
	Add  string `json:"add"`
	Aid  string `json:"aid"`
	Host string `json:"host"`
	ID   string `json:"id"`
	Net  string `json:"net"`
	Path string `json:"path"`
	Port string `json:"port"`
	PS   string `json:"ps"`
	SNI  string `json:"sni,omitempty"`
	TLS  string `json:"tls"`
	Type string `json:"type"`
	V    string `json:"v"`
}

// Validate basic invariants for a link
func (v *VMess) Validate() error {
	if v.V != "2" {
		return fmt.Errorf("unsupported version %q", v.V)
	}
	if v.Add == "" || v.Port == "" || v.ID == "" {
		return errors.New("add, port and id are required")
	}
	if v.Net != "ws" {
		return fmt.Errorf("unsupported network %q", v.Net)
	}
	if v.TLS != "" && v.TLS != "tls" {
		return fmt.Errorf("unsupported tls mode %q", v.TLS)
	}
	if (v.TLS == "tls") != (v.SNI != "") {
		return errors.New("sni must be set exactly for tls links")
	}
	return nil
}

// Encode renders v as vmess://base64(json) with the padding stripped.
func Encode(v *VMess) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	enc := strings.TrimRight(base64.StdEncoding.EncodeToString(raw), "=")
	return Scheme + enc, nil
}

// Decode parses a vmess:// link, with or without padding.
func Decode(uri string) (*VMess, error) {
	b64, ok := strings.CutPrefix(strings.TrimSpace(uri), Scheme)
	if !ok {
		return nil, fmt.Errorf("not a %s link", Scheme)
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(b64, "="))
	if err != nil {
		return nil, err
	}
	var v VMess
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return &v, nil
}
