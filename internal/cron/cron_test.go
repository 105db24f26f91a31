package cron

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"agsb/internal/system"
)

// crontabFake serves `crontab -l` from current and captures what
// `crontab <file>` loads.
func crontabFake(current string, missing bool) (*system.Fake, *string) {
	sys := system.NewFake()
	loaded := new(string)
	sys.Handler = func(name string, args []string) ([]byte, error) {
		if name != "crontab" {
			return nil, nil
		}
		switch {
		case len(args) == 1 && args[0] == "-l":
			if missing {
				return []byte("no crontab for user"), errors.New("exit status 1")
			}
			return []byte(current), nil
		case len(args) == 1 && args[0] != "-r":
			b, err := os.ReadFile(args[0])
			if err != nil {
				return nil, err
			}
			*loaded = string(b)
		}
		return nil, nil
	}
	return sys, loaded
}

var scripts = []string{"/home/u/.agsb/start_sb.sh", "/home/u/.agsb/start_cf.sh"}

func TestInstallReplacesOwnEntries(t *testing.T) {
	sys, loaded := crontabFake("0 3 * * * /usr/bin/backup\n\n@reboot /home/u/.agsb/start_sb.sh >/dev/null 2>&1\n", false)
	a := Autostart{Sys: sys, Scripts: scripts}
	require.NoError(t, a.Install(context.Background()))
	require.Equal(t,
		"0 3 * * * /usr/bin/backup\n"+
			"@reboot /home/u/.agsb/start_sb.sh >/dev/null 2>&1\n"+
			"@reboot /home/u/.agsb/start_cf.sh >/dev/null 2>&1\n",
		*loaded)
}

func TestInstallWithoutCrontab(t *testing.T) {
	sys, loaded := crontabFake("", true)
	a := Autostart{Sys: sys, Scripts: scripts}
	require.NoError(t, a.Install(context.Background()))
	require.Equal(t,
		"@reboot /home/u/.agsb/start_sb.sh >/dev/null 2>&1\n@reboot /home/u/.agsb/start_cf.sh >/dev/null 2>&1\n",
		*loaded)
}

func TestRemoveKeepsOtherEntries(t *testing.T) {
	sys, loaded := crontabFake("0 3 * * * /usr/bin/backup\n@reboot /home/u/.agsb/start_cf.sh >/dev/null 2>&1\n", false)
	a := Autostart{Sys: sys, Scripts: scripts}
	require.NoError(t, a.Remove(context.Background()))
	require.Equal(t, "0 3 * * * /usr/bin/backup\n", *loaded)
	require.False(t, sys.Ran("crontab", "-r"))
}

func TestRemoveLastEntriesDropsCrontab(t *testing.T) {
	sys, loaded := crontabFake("@reboot /home/u/.agsb/start_sb.sh >/dev/null 2>&1\n@reboot /home/u/.agsb/start_cf.sh >/dev/null 2>&1\n", false)
	a := Autostart{Sys: sys, Scripts: scripts}
	require.NoError(t, a.Remove(context.Background()))
	require.True(t, sys.Ran("crontab", "-r"))
	require.Empty(t, *loaded)

	sys, _ = crontabFake("", true)
	require.NoError(t, Autostart{Sys: sys, Scripts: scripts}.Remove(context.Background()))
}
