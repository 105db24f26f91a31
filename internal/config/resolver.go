package config

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"agsb/internal/logging"
)

const (
	MinPort = 10000
	MaxPort = 65535
)

// ErrTokenWithoutDomain is returned when a tunnel token is supplied but no
// domain is known to route it.
var ErrTokenWithoutDomain = errors.New("a tunnel token requires a domain (--domain or agn)")

// Input holds the command-line values; zero means "not given".
type Input struct {
	UUID   string
	Port   int
	Token  string
	Domain string
}

// Values are the resolved install parameters.
type Values struct {
	UUID   string
	Port   int
	Token  string
	Domain string
}

// Resolver fills each field from flag, then environment, then an
// interactive prompt, then a generated default.
type Resolver struct {
	Getenv func(string) string
	// Prompt is nil for non-interactive runs.
	Prompt Prompter
	Out    io.Writer
	Log    logrus.FieldLogger
	// PortFree reports whether a port can be bound on loopback.
	PortFree func(port int) bool
	Rand     *rand.Rand
}

func (r *Resolver) Resolve(in Input) (Values, error) {
	var v Values
	var err error

	raw := r.pick(in.UUID, "uuid")
	if raw == "" && r.Prompt != nil {
		if raw, err = r.Prompt.Ask("UUID (empty for random)"); err != nil {
			return v, err
		}
	}
	v.UUID = r.resolveUUID(raw)
	fmt.Fprintf(r.out(), "UUID: %s\n", v.UUID)

	var rawPort string
	if in.Port != 0 {
		rawPort = strconv.Itoa(in.Port)
	} else {
		rawPort = r.env("vmpt")
	}
	if rawPort == "" && r.Prompt != nil {
		if rawPort, err = r.Prompt.Ask(fmt.Sprintf("VMess port (%d-%d, empty for random)", MinPort, MaxPort)); err != nil {
			return v, err
		}
	}
	v.Port = r.resolvePort(rawPort)
	fmt.Fprintf(r.out(), "Local VMess port: %d\n", v.Port)

	v.Token = r.pick(in.Token, "agk")
	if v.Token == "" && r.Prompt != nil {
		if v.Token, err = r.Prompt.Secret("Tunnel token (empty for a quick tunnel)"); err != nil {
			return v, err
		}
	}
	if v.Token != "" {
		fmt.Fprintf(r.out(), "Tunnel token: ******%s\n", tail(v.Token, 6))
	} else {
		fmt.Fprintln(r.out(), "No tunnel token, using a quick tunnel.")
	}

	v.Domain = r.pick(in.Domain, "agn")
	if v.Domain == "" && r.Prompt != nil {
		label := "Domain (empty to detect a trycloudflare.com name)"
		if v.Token != "" {
			label = "Domain bound to the tunnel token"
		}
		if v.Domain, err = r.Prompt.Ask(label); err != nil {
			return v, err
		}
	}
	v.Domain = strings.TrimSpace(v.Domain)
	if v.Domain == "" && v.Token != "" {
		return v, ErrTokenWithoutDomain
	}
	if v.Domain != "" {
		fmt.Fprintf(r.out(), "Domain: %s\n", v.Domain)
	}

	r.logger().WithFields(logrus.Fields{
		"uuid":   v.UUID,
		"port":   v.Port,
		"token":  v.Token != "",
		"domain": v.Domain,
	}).Debug("resolved install parameters")
	return v, nil
}

func (r *Resolver) pick(flag, env string) string {
	if s := strings.TrimSpace(flag); s != "" {
		return s
	}
	return strings.TrimSpace(r.env(env))
}

func (r *Resolver) env(name string) string {
	if r.Getenv == nil {
		return ""
	}
	return r.Getenv(name)
}

func (r *Resolver) resolveUUID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.NewString()
	}
	if _, err := uuid.Parse(raw); err != nil {
		fmt.Fprintf(r.out(), "Invalid UUID %q, using a random one.\n", raw)
		r.logger().WithError(err).Warn("invalid uuid replaced")
		return uuid.NewString()
	}
	return raw
}

func (r *Resolver) resolvePort(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return r.randomPort()
	}
	p, err := strconv.Atoi(raw)
	if err != nil {
		fmt.Fprintln(r.out(), "Port is not a number, using a random port.")
		return r.randomPort()
	}
	if p < MinPort || p > MaxPort {
		fmt.Fprintln(r.out(), "Port out of range, using a random port.")
		return r.randomPort()
	}
	return p
}

// randomPort prefers a port that is currently free; after a few misses it
// settles for any port in range.
func (r *Resolver) randomPort() int {
	rnd := r.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}
	free := r.PortFree
	if free == nil {
		free = PortFree
	}
	p := MinPort + rnd.Intn(MaxPort-MinPort+1)
	for i := 0; i < 20 && !free(p); i++ {
		p = MinPort + rnd.Intn(MaxPort-MinPort+1)
	}
	return p
}

func (r *Resolver) logger() logrus.FieldLogger { return logging.Or(r.Log) }

// PortFree binds 127.0.0.1:port briefly.
func PortFree(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func (r *Resolver) out() io.Writer {
	if r.Out == nil {
		return io.Discard
	}
	return r.Out
}
