// Package fetch downloads the sing-box and cloudflared release binaries.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"agsb/internal/logging"
)

// ErrDownloadFailed means both the primary and the mirror URL failed.
var ErrDownloadFailed = errors.New("download failed")

const (
	FallbackSingBoxVersion = "1.9.0-beta.11"

	defaultReleaseAPI = "https://api.github.com/repos/SagerNet/sing-box/releases/latest"
	defaultGitHub     = "https://github.com"
	userAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
)

// Fetcher downloads release assets, retrying through a mirror prefix.
type Fetcher struct {
	Client *http.Client
	// Mirror is prepended to the full primary URL; empty disables it.
	Mirror     string
	ReleaseAPI string
	GitHub     string
	Out        io.Writer
	Log        logrus.FieldLogger
}

func New(mirror string, out io.Writer, log logrus.FieldLogger) *Fetcher {
	return &Fetcher{
		Client: &http.Client{Timeout: 5 * time.Minute},
		Mirror: mirror,
		Out:    out,
		Log:    log,
	}
}

// LatestSingBox returns the latest release version without the leading v.
// Any failure yields FallbackSingBoxVersion.
func (f *Fetcher) LatestSingBox(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	v, err := f.latest(ctx)
	if err != nil {
		f.log().WithError(err).Warn("sing-box release lookup failed, using fallback")
		f.printf("Could not query the latest sing-box release, using %s\n", FallbackSingBoxVersion)
		return FallbackSingBoxVersion
	}
	return v
}

func (f *Fetcher) latest(ctx context.Context) (string, error) {
	api := f.ReleaseAPI
	if api == "" {
		api = defaultReleaseAPI
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	resp, err := f.client().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("release api: %s", resp.Status)
	}
	var rel struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return "", fmt.Errorf("release api: %w", err)
	}
	v := strings.TrimPrefix(strings.TrimSpace(rel.TagName), "v")
	if v == "" {
		return "", errors.New("release api: empty tag_name")
	}
	return v, nil
}

// Download fetches url into dest, falling back to the mirror. The body is
// written to dest+".part" and renamed only after a complete transfer.
func (f *Fetcher) Download(ctx context.Context, url, dest string) error {
	err := f.get(ctx, url, dest)
	if err == nil {
		return nil
	}
	f.log().WithError(err).WithField("url", url).Warn("primary download failed")
	if f.Mirror == "" {
		return fmt.Errorf("%w: %s: %v", ErrDownloadFailed, url, err)
	}
	mirror := f.Mirror + url
	f.printf("Download failed, retrying through mirror\n")
	if merr := f.get(ctx, mirror, dest); merr != nil {
		f.log().WithError(merr).WithField("url", mirror).Warn("mirror download failed")
		return fmt.Errorf("%w: %s: %v; mirror: %v", ErrDownloadFailed, url, err, merr)
	}
	return nil
}

func (f *Fetcher) get(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("http status %s", resp.Status)
	}
	part := dest + ".part"
	out, err := os.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(part)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(part)
		return err
	}
	return os.Rename(part, dest)
}

// SingBox installs dir/sing-box unless it exists and force is false.
func (f *Fetcher) SingBox(ctx context.Context, dir, arch string, force bool) error {
	bin := filepath.Join(dir, "sing-box")
	if !force && exists(bin) {
		return nil
	}
	version := f.LatestSingBox(ctx)
	name := fmt.Sprintf("sing-box-%s-linux-%s", version, SingBoxArch(arch))
	url := fmt.Sprintf("%s/SagerNet/sing-box/releases/download/v%s/%s.tar.gz", f.github(), version, name)
	f.printf("Downloading sing-box %s (%s)...\n", version, SingBoxArch(arch))
	f.log().WithField("url", url).Info("downloading sing-box")

	archive := filepath.Join(dir, "sing-box.tar.gz")
	if err := f.Download(ctx, url, archive); err != nil {
		return err
	}
	defer os.Remove(archive)

	staging := filepath.Join(dir, ".sing-box-extract")
	_ = os.RemoveAll(staging)
	defer os.RemoveAll(staging)
	if err := extractTarGz(archive, staging); err != nil {
		return fmt.Errorf("extract sing-box: %w", err)
	}
	src, err := findSingBox(staging, version, SingBoxArch(arch))
	if err != nil {
		return err
	}
	if err := os.Rename(src, bin); err != nil {
		return fmt.Errorf("install sing-box: %w", err)
	}
	return os.Chmod(bin, 0o755)
}

// findSingBox locates the binary in an extracted release. Releases ship it
// in a versioned folder, an unversioned folder or at the archive root.
func findSingBox(root, version, sbArch string) (string, error) {
	candidates := []string{
		filepath.Join(root, fmt.Sprintf("sing-box-%s-linux-%s", version, sbArch), "sing-box"),
		filepath.Join(root, fmt.Sprintf("sing-box-linux-%s", sbArch), "sing-box"),
		filepath.Join(root, "sing-box"),
	}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && fi.Mode().IsRegular() {
			return c, nil
		}
	}
	return "", fmt.Errorf("install sing-box: no sing-box binary in the %s release archive", version)
}

// Cloudflared installs dir/cloudflared unless it exists and force is false.
func (f *Fetcher) Cloudflared(ctx context.Context, dir, arch string, force bool) error {
	bin := filepath.Join(dir, "cloudflared")
	if !force && exists(bin) {
		return nil
	}
	url := fmt.Sprintf("%s/cloudflare/cloudflared/releases/latest/download/cloudflared-linux-%s", f.github(), CloudflaredArch(arch))
	f.printf("Downloading cloudflared (%s)...\n", CloudflaredArch(arch))
	f.log().WithField("url", url).Info("downloading cloudflared")
	if err := f.Download(ctx, url, bin); err != nil {
		return err
	}
	return os.Chmod(bin, 0o755)
}

func (f *Fetcher) client() *http.Client {
	if f.Client == nil {
		return http.DefaultClient
	}
	return f.Client
}

func (f *Fetcher) github() string {
	if f.GitHub == "" {
		return defaultGitHub
	}
	return strings.TrimSuffix(f.GitHub, "/")
}

func (f *Fetcher) log() logrus.FieldLogger { return logging.Or(f.Log) }

func (f *Fetcher) printf(format string, args ...any) {
	if f.Out != nil {
		fmt.Fprintf(f.Out, format, args...)
	}
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
