package links

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"agsb/internal/state"
)

func testParams(catalog string) Params {
	return Params{
		Domain:   "lazy-fox-cable-mint.trycloudflare.com",
		UUID:     "25bd7521-eed2-45a1-a50a-97e432552aca",
		Path:     "/25bd7521-vm?ed=2048",
		Hostname: "vps-frankfurt-01",
		Catalog:  catalog,
	}
}

func TestCatalogSizes(t *testing.T) {
	require.Len(t, Catalog("classic", "d.example.com"), 8)
	require.Len(t, Catalog("extended", "d.example.com"), 10)
	ext := Catalog("extended", "d.example.com")
	require.Equal(t, Edge{Address: "d.example.com", Port: 443, TLS: true, Direct: true}, ext[8])
	require.Equal(t, Edge{Address: "d.example.com", Port: 80, Direct: true}, ext[9])
}

func TestBuildIsDeterministic(t *testing.T) {
	a, err := Build(testParams("extended"))
	require.NoError(t, err)
	b, err := Build(testParams("extended"))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestBuildAliasesAndKeys(t *testing.T) {
	links, err := Build(testParams("extended"))
	require.NoError(t, err)

	require.Equal(t, "VMWS-TLS-vps-frankf-16-443", links[0].VMess.PS)
	require.Equal(t, "TLS-443-104.16.0.0", links[0].Label)
	require.Equal(t, "VMWS-HTTP-vps-frankf-24-8880", links[7].VMess.PS)
	require.Equal(t, "VMWS-TLS-vps-frankf-Direct-lazy-fox-cable--443", links[8].VMess.PS)
	require.Equal(t, "VMWS-HTTP-vps-frankf-Direct-lazy-fox-cable--80", links[9].VMess.PS)

	for _, l := range links {
		require.True(t, strings.HasPrefix(l.URI, Scheme))
		require.False(t, strings.HasSuffix(l.URI, "="))

		raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(l.URI, Scheme))
		require.NoError(t, err)
		var obj map[string]string
		require.NoError(t, json.Unmarshal(raw, &obj))
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		want := []string{"add", "aid", "host", "id", "net", "path", "port", "ps", "tls", "type", "v"}
		if l.Edge.TLS {
			want = []string{"add", "aid", "host", "id", "net", "path", "port", "ps", "sni", "tls", "type", "v"}
		}
		require.Equal(t, want, keys)
		require.Equal(t, "/25bd7521-vm?ed=2048", obj["path"])

		// compact JSON with sorted keys
		require.True(t, strings.HasPrefix(string(raw), `{"add":`))
		require.NotContains(t, string(raw), " ")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	links, err := Build(testParams("classic"))
	require.NoError(t, err)
	require.Len(t, links, 8)
	for _, l := range links {
		v, err := Decode(l.URI)
		require.NoError(t, err)
		require.Equal(t, l.VMess, *v)
	}
	padded := links[0].URI + "=="
	_, err = Decode(padded)
	require.NoError(t, err)
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode("vless://abc")
	require.Error(t, err)
	_, err = Decode("vmess://!!!")
	require.Error(t, err)
	bad, err := Encode(&VMess{V: "2", Add: "1.1.1.1", Port: "443", ID: "x", Net: "ws", TLS: "tls"})
	require.NoError(t, err)
	_, err = Decode(bad)
	require.Error(t, err)
}

func TestSubscriptionAndFiles(t *testing.T) {
	links, err := Build(testParams("extended"))
	require.NoError(t, err)
	set := &Set{Domain: "lazy-fox-cable-mint.trycloudflare.com", UUID: "25bd7521-eed2-45a1-a50a-97e432552aca", Port: 23456, Path: "/25bd7521-vm?ed=2048", Links: links}

	raw, err := base64.StdEncoding.DecodeString(set.Subscription())
	require.NoError(t, err)
	require.Equal(t, set.URIs(), strings.Split(string(raw), "\n"))

	l := state.Layout{Dir: t.TempDir()}
	require.NoError(t, WriteFiles(l, set, "agsb"))
	all, err := os.ReadFile(l.AllNodes())
	require.NoError(t, err)
	require.Equal(t, strings.Join(set.URIs(), "\n")+"\n", string(all))
	jh, err := os.ReadFile(l.JH())
	require.NoError(t, err)
	require.Equal(t, all, jh)
	list, err := os.ReadFile(l.List())
	require.NoError(t, err)
	require.Contains(t, string(list), "10. HTTP-Direct-lazy-fox-cable-mint.trycloudflare.com-80:")
	readme, err := os.ReadFile(l.Readme())
	require.NoError(t, err)
	require.Contains(t, string(readme), set.Subscription())
}

func TestQR(t *testing.T) {
	q, err := QR("https://sub.example.com/abc.txt")
	require.NoError(t, err)
	require.NotEmpty(t, q)
}
