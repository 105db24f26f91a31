package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWSPath(t *testing.T) {
	in := &Installation{UUID: "25bd7521-eed2-45a1-a50a-97e432552aca", Port: 12345}
	require.Equal(t, "/25bd7521-vm", in.WSPath())
	require.Equal(t, "/25bd7521-vm?ed=2048", in.LinkPath())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		in   Installation
		ok   bool
	}{
		{"valid", Installation{UUID: "25bd7521-eed2-45a1-a50a-97e432552aca", Port: 20000}, true},
		{"short uuid", Installation{UUID: "abc", Port: 20000}, false},
		{"bad port", Installation{UUID: "25bd7521-eed2", Port: 70000}, false},
		{"token without domain", Installation{UUID: "25bd7521-eed2", Port: 20000, Token: "eyJh"}, false},
		{"token with domain", Installation{UUID: "25bd7521-eed2", Port: 20000, Token: "eyJh", CustomDomain: "a.example.com"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestSaveLoadKeepsLegacyKeys(t *testing.T) {
	l := Layout{Dir: filepath.Join(t.TempDir(), ".agsb")}
	in := &Installation{UUID: "25bd7521-eed2-45a1-a50a-97e432552aca", Port: 23456, InstallDate: "2025-01-02 03:04:05"}
	require.NoError(t, Save(l, in))

	raw, err := os.ReadFile(l.Config())
	require.NoError(t, err)
	require.Contains(t, string(raw), `"uuid_str"`)
	require.Contains(t, string(raw), `"port_vm_ws": 23456`)
	require.NotContains(t, string(raw), "argo_token")

	got, err := Load(l)
	require.NoError(t, err)
	require.Equal(t, in, got)
}

func TestLoadRejectsInvalidRecord(t *testing.T) {
	l := Layout{Dir: t.TempDir()}
	require.NoError(t, os.WriteFile(l.Config(), []byte(`{"uuid_str":"25bd7521-eed2","port_vm_ws":0}`), 0o600))
	_, err := Load(l)
	require.True(t, errors.Is(err, ErrInvalid), err)

	require.NoError(t, os.WriteFile(l.Config(), []byte(`{"uuid_str":"25bd7521-eed2","port_vm_ws":20000,"argo_token":"eyJh"}`), 0o600))
	_, err = Load(l)
	require.True(t, errors.Is(err, ErrInvalid), err)

	err = Save(l, &Installation{UUID: "abc", Port: 20000})
	require.True(t, errors.Is(err, ErrInvalid), err)
	got, err := os.ReadFile(l.Config())
	require.NoError(t, err)
	require.Contains(t, string(got), "eyJh", "a rejected save leaves the old record")
}

func TestLayoutComplete(t *testing.T) {
	l := Layout{Dir: t.TempDir()}
	require.True(t, l.Exists())
	require.False(t, l.Complete())
	for _, p := range []string{l.Config(), l.SBPid(), l.CFPid()} {
		require.NoError(t, os.WriteFile(p, []byte("1"), 0o644))
	}
	require.True(t, l.Complete())
	require.False(t, Layout{Dir: filepath.Join(l.Dir, "missing")}.Exists())
}

func TestDomainFile(t *testing.T) {
	l := Layout{Dir: t.TempDir()}
	_, err := ReadDomain(l)
	require.Error(t, err)
	require.NoError(t, WriteDomain(l, "abc.trycloudflare.com"))
	d, err := ReadDomain(l)
	require.NoError(t, err)
	require.Equal(t, "abc.trycloudflare.com", d)
}
