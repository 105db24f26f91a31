package fetch

import (
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// Machine returns `uname -m`, or GOARCH when uname fails.
func Machine() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return runtime.GOARCH
	}
	return unix.ByteSliceToString(u.Machine[:])
}

// NormalizeArch maps a machine string onto amd64, arm64 or armv7. Unknown
// machines fall back to amd64.
func NormalizeArch(machine string) string {
	m := strings.ToLower(machine)
	switch {
	case strings.Contains(m, "x86_64"), strings.Contains(m, "amd64"):
		return "amd64"
	case strings.Contains(m, "aarch64"), strings.Contains(m, "arm64"):
		return "arm64"
	case strings.Contains(m, "armv7"):
		return "armv7"
	}
	return "amd64"
}

// releaseArch names each generic architecture the way the release assets
// spell it, per binary.
var releaseArch = map[string]struct{ SingBox, Cloudflared string }{
	"amd64": {SingBox: "amd64", Cloudflared: "amd64"},
	"arm64": {SingBox: "arm64", Cloudflared: "arm64"},
	"armv7": {SingBox: "armv7", Cloudflared: "arm"},
}

// SingBoxArch is the architecture token used in sing-box release names.
func SingBoxArch(arch string) string {
	if a, ok := releaseArch[arch]; ok {
		return a.SingBox
	}
	return arch
}

// CloudflaredArch is the architecture token used in cloudflared release names.
func CloudflaredArch(arch string) string {
	if a, ok := releaseArch[arch]; ok {
		return a.Cloudflared
	}
	return arch
}
