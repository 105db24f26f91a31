package procmgr

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agsb/internal/render"
	"agsb/internal/state"
	"agsb/internal/system"
)

func newManager(sys *system.Fake) (*Manager, *[]time.Duration) {
	m := New(sys, nil)
	var slept []time.Duration
	m.Sleep = func(d time.Duration) { slept = append(slept, d) }
	return m, &slept
}

func TestStartWritesPIDFile(t *testing.T) {
	sys := system.NewFake()
	m, _ := newManager(sys)
	dir := t.TempDir()
	svc := Service{Name: "sing-box", Bin: filepath.Join(dir, "sing-box"), Args: []string{"run", "-c", "sb.json"},
		Dir: dir, LogPath: filepath.Join(dir, "sb.log"), PIDFile: filepath.Join(dir, "sbpid.log")}

	pid, err := m.Start(svc)
	require.NoError(t, err)
	require.Equal(t, 1001, pid)
	got, err := ReadPID(svc.PIDFile)
	require.NoError(t, err)
	require.Equal(t, pid, got)
	require.Equal(t, dir, sys.Spawned[0].Dir)

	_, err = m.Start(svc)
	require.Error(t, err)
	require.Empty(t, m.Exited())

	sys.SetAlive(pid, false)
	require.Contains(t, m.Exited(), "sing-box")
}

func TestStopSignalsAndSweeps(t *testing.T) {
	sys := system.NewFake()
	m, slept := newManager(sys)
	dir := t.TempDir()
	sbPid := filepath.Join(dir, "sbpid.log")
	cfPid := filepath.Join(dir, "sbargopid.log")
	require.NoError(t, os.WriteFile(sbPid, []byte("4242\n"), 0o644))
	require.NoError(t, os.WriteFile(cfPid, []byte("garbage"), 0o644))
	sys.SetAlive(4242, true)

	m.Stop(context.Background(), []string{sbPid, cfPid, filepath.Join(dir, "missing.log")})

	require.Equal(t, []system.SignalCall{{PID: 4242, Sig: syscall.SIGTERM}}, sys.Signals)
	require.Equal(t, []time.Duration{time.Second}, *slept)
	for _, pat := range SweepPatterns {
		require.True(t, sys.Ran("pkill", "-9", "-f", pat), pat)
	}
}

// swept mirrors pkill -f: a pattern matches anywhere in the command line.
func swept(cmdline string) bool {
	for _, pat := range SweepPatterns {
		if strings.Contains(cmdline, pat) {
			return true
		}
	}
	return false
}

func TestSweepCoversEveryLaunchedCommand(t *testing.T) {
	l := state.Layout{Dir: "/home/u/.agsb"}
	in := &state.Installation{UUID: "25bd7521-eed2-45a1-a50a-97e432552aca", Port: 23456}
	cmdline := func(bin string, args []string) string {
		return bin + " " + strings.Join(args, " ")
	}

	require.True(t, swept(cmdline(l.SingBoxBin(), render.SingBoxArgs())))
	for name, token := range map[string]string{
		"quick":       "",
		"token":       "eyJhIjoiYWJjIn0",
		"credentials": `{"AccountTag":"a","TunnelSecret":"s","TunnelID":"t"}`,
	} {
		in.Token = token
		for _, viaNginx := range []bool{false, true} {
			args := render.CloudflaredArgs(in, render.Origin(in, viaNginx), l.TunnelConfig())
			require.True(t, swept(cmdline(l.CloudflaredBin(), args)), name)
		}
	}
	require.False(t, swept("/usr/bin/cloudflared tunnel run other"))
}

func TestStopWithNothingRecorded(t *testing.T) {
	sys := system.NewFake()
	m, _ := newManager(sys)
	m.Stop(context.Background(), nil)
	require.Empty(t, sys.Signals)
	require.Len(t, sys.Runs, len(SweepPatterns))
}

func TestStatus(t *testing.T) {
	sys := system.NewFake()
	m, _ := newManager(sys)
	dir := t.TempDir()
	pf := filepath.Join(dir, "sbpid.log")

	require.Equal(t, State{}, m.Status(pf))
	require.NoError(t, os.WriteFile(pf, []byte("77"), 0o644))
	require.Equal(t, State{PID: 77, Known: true}, m.Status(pf))
	sys.SetAlive(77, true)
	require.Equal(t, State{PID: 77, Known: true, Alive: true}, m.Status(pf))
}
