package render

import (
	"fmt"
	"strings"
)

// LauncherScript is a shell script that starts bin in dir in the background,
// sends its output to logName and records its PID in pidName. Cron runs it
// at boot.
func LauncherScript(dir, bin string, args []string, logName, pidName string) []byte {
	parts := []string{"./" + bin}
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "cd %s\n", shellQuote(dir))
	fmt.Fprintf(&b, "%s > %s 2>&1 & echo $! > %s\n", strings.Join(parts, " "), logName, pidName)
	return []byte(b.String())
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=@%+,", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
