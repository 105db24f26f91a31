// Package tunnel discovers the public hostname of a quick tunnel.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"agsb/internal/logging"
	"agsb/internal/shared"
)

// ErrDomainNotFound means no trycloudflare.com hostname appeared in the log
// within the retry budget.
var ErrDomainNotFound = errors.New("quick tunnel domain not found")

var domainRe = regexp.MustCompile(`https://([a-zA-Z0-9.-]+\.trycloudflare\.com)`)

// scanBytes bounds how much of the log each attempt reads.
const scanBytes = 512 * 1024

// Resolver polls cloudflared's log for the quick tunnel hostname.
type Resolver struct {
	LogPath  string
	Attempts int
	Interval time.Duration
	Log      logrus.FieldLogger
}

// Find returns the first hostname found in the log.
func Find(lines []string) (string, bool) {
	m := domainRe.FindStringSubmatch(strings.Join(lines, "\n"))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Scan reads the tail of a cloudflared log and returns the first hostname.
func Scan(path string) (string, bool) {
	lines, err := shared.TailLastN(path, 0, scanBytes)
	if err != nil {
		return "", false
	}
	return Find(lines)
}

// Resolve checks the log up to Attempts times, Interval apart.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	log := logging.Or(r.Log)
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	for i := 1; i <= attempts; i++ {
		if d, ok := Scan(r.LogPath); ok {
			log.WithFields(logrus.Fields{"domain": d, "attempt": i}).Info("quick tunnel domain found")
			return d, nil
		}
		log.WithField("attempt", i).Debug("tunnel domain not in log yet")
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.Interval):
		}
	}
	return "", fmt.Errorf("%w after %d attempts (see %s)", ErrDomainNotFound, attempts, r.LogPath)
}
