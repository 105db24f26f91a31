// Package probe checks that the local VMess inbound answers WebSocket
// upgrades on its path.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// Result of one probe.
type Result struct {
	URL     string
	OK      bool
	Status  int
	Latency time.Duration
	Err     error
}

// WebSocket dials ws://host:port<path> and reports whether the upgrade
// completed. The connection is closed right away.
func WebSocket(ctx context.Context, host string, port int, path string, timeout time.Duration) Result {
	url := fmt.Sprintf("ws://%s:%d%s", host, port, path)
	// no Proxy: loopback must be dialed directly
	d := websocket.Dialer{HandshakeTimeout: timeout}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, resp, err := d.DialContext(ctx, url, nil)
	res := Result{URL: url, Latency: time.Since(start)}
	if resp != nil {
		res.Status = resp.StatusCode
	}
	if err != nil {
		res.Err = err
		return res
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = conn.Close()
	res.OK = true
	return res
}
