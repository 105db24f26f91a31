// Package links builds the VMess link catalog and its output files.
package links

import (
	"fmt"
	"strconv"
	"strings"
)

// Edge is one address clients connect to.
type Edge struct {
	Address string
	Port    int
	TLS     bool
	// Direct edges use the tunnel domain itself as address.
	Direct bool
}

var (
	tlsEdges = []Edge{
		{Address: "104.16.0.0", Port: 443, TLS: true},
		{Address: "104.17.0.0", Port: 8443, TLS: true},
		{Address: "104.18.0.0", Port: 2053, TLS: true},
		{Address: "104.19.0.0", Port: 2083, TLS: true},
		{Address: "104.20.0.0", Port: 2087, TLS: true},
	}
	plainEdges = []Edge{
		{Address: "104.21.0.0", Port: 80},
		{Address: "104.22.0.0", Port: 8085},
		{Address: "104.24.0.0", Port: 8880},
	}
)

// Catalog returns the edges of the named catalog for domain: "classic" has
// the eight Cloudflare edges, anything else adds the two direct entries.
func Catalog(name, domain string) []Edge {
	out := make([]Edge, 0, 10)
	out = append(out, tlsEdges...)
	out = append(out, plainEdges...)
	if name == "classic" {
		return out
	}
	return append(out,
		Edge{Address: domain, Port: 443, TLS: true, Direct: true},
		Edge{Address: domain, Port: 80, Direct: true},
	)
}

// Params are the installation values every link shares.
type Params struct {
	Domain   string
	UUID     string
	Path     string
	Hostname string
	Catalog  string
}

// Link is one catalog entry, encoded.
type Link struct {
	Edge  Edge
	Label string
	VMess VMess
	URI   string
}

// Build encodes one link per catalog edge, in catalog order.
func Build(p Params) ([]Link, error) {
	host := truncate(p.Hostname, 10)
	edges := Catalog(p.Catalog, p.Domain)
	out := make([]Link, 0, len(edges))
	for _, e := range edges {
		mode := "HTTP"
		if e.TLS {
			mode = "TLS"
		}
		port := strconv.Itoa(e.Port)
		v := VMess{
			V: "2", Add: e.Address, Port: port, ID: p.UUID, Aid: "0",
			Net: "ws", Type: "none", Host: p.Domain, Path: p.Path,
		}
		var label string
		if e.Direct {
			v.PS = fmt.Sprintf("VMWS-%s-%s-Direct-%s-%d", mode, host, truncate(p.Domain, 15), e.Port)
			label = fmt.Sprintf("%s-Direct-%s-%d", mode, p.Domain, e.Port)
		} else {
			v.PS = fmt.Sprintf("VMWS-%s-%s-%s-%d", mode, host, thirdOctet(e.Address), e.Port)
			label = fmt.Sprintf("%s-%d-%s", mode, e.Port, e.Address)
		}
		if e.TLS {
			v.TLS = "tls"
			v.SNI = p.Domain
		}
		uri, err := Encode(&v)
		if err != nil {
			return nil, err
		}
		out = append(out, Link{Edge: e, Label: label, VMess: v, URI: uri})
	}
	return out, nil
}

func thirdOctet(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ip
	}
	return parts[2]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
