package links

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"agsb/internal/state"
)

const (
	cReset  = "\033[0m"
	cCyan   = "\033[36m"
	cYellow = "\033[33m"
	cGreen  = "\033[32m"
	cBlue   = "\033[34m"
)

const (
	boxTop = "╭───────────────────────────────────────────────────────────────╮"
	boxMid = "├───────────────────────────────────────────────────────────────┤"
	boxBot = "╰───────────────────────────────────────────────────────────────╯"
)

// Set is a generated catalog together with what it was built from.
type Set struct {
	Domain string
	UUID   string
	Port   int
	Path   string
	Links  []Link
}

// URIs returns the encoded links in catalog order.
func (s *Set) URIs() []string {
	out := make([]string, len(s.Links))
	for i, l := range s.Links {
		out[i] = l.URI
	}
	return out
}

// Subscription is the padded base64 of all links joined by newlines.
func (s *Set) Subscription() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Join(s.URIs(), "\n")))
}

// WriteFiles writes allnodes.txt, jh.txt, list.txt and README.md.
func WriteFiles(l state.Layout, s *Set, cmd string) error {
	plain := []byte(strings.Join(s.URIs(), "\n") + "\n")
	files := map[string][]byte{
		l.AllNodes(): plain,
		l.JH():       plain,
		l.List():     []byte(Listing(s, "Node information", cmd)),
		l.Readme():   []byte(Readme(s, l, cmd)),
	}
	for path, b := range files {
		if err := os.WriteFile(path, b, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Listing is the boxed, coloured summary stored in list.txt and shown by
// status.
func Listing(s *Set, title, cmd string) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format+"\n", args...)
	}
	line("%s%s%s", cCyan, boxTop, cReset)
	line("%s│ %s%s%s", cCyan, cYellow, title, cReset)
	line("%s%s%s", cCyan, boxMid, cReset)
	line("%s│ %sDomain: %s%s", cCyan, cGreen, cReset, s.Domain)
	line("%s│ %sUUID: %s%s", cCyan, cGreen, cReset, s.UUID)
	line("%s│ %sLocal VMess port: %s%d", cCyan, cGreen, cReset, s.Port)
	line("%s│ %sWebSocket path: %s%s", cCyan, cGreen, cReset, s.Path)
	line("%s%s%s", cCyan, boxMid, cReset)
	for i, l := range s.Links {
		line("%s│ %s%d. %s:%s", cCyan, cGreen, i+1, l.Label, cReset)
		line("%s│ %s%s", cCyan, cReset, l.URI)
		if i < len(s.Links)-1 {
			line("%s│ %s", cCyan, cReset)
		}
	}
	line("%s%s%s", cCyan, boxMid, cReset)
	line("%s│ %sUsage:%s", cCyan, cYellow, cReset)
	line("%s│ %sshow nodes: %s%s status", cCyan, cGreen, cReset, cmd)
	line("%s│ %sone per line: %s%s cat", cCyan, cGreen, cReset, cmd)
	line("%s│ %supdate binaries: %s%s update", cCyan, cGreen, cReset, cmd)
	line("%s│ %suninstall: %s%s del", cCyan, cGreen, cReset, cmd)
	line("%s%s%s", cCyan, boxBot, cReset)
	return b.String()
}

// Readme documents the installation in Markdown.
func Readme(s *Set, l state.Layout, cmd string) string {
	var b strings.Builder
	b.WriteString("# agsb nodes\n\n## Installation\n\n")
	fmt.Fprintf(&b, "- **Domain**: %s\n", s.Domain)
	fmt.Fprintf(&b, "- **UUID**: %s\n", s.UUID)
	fmt.Fprintf(&b, "- **VMess port**: %d\n", s.Port)
	fmt.Fprintf(&b, "- **WebSocket path**: %s\n\n", s.Path)
	b.WriteString("## Nodes\n\n")
	for i, ln := range s.Links {
		fmt.Fprintf(&b, "### %d. %s\n```\n%s\n```\n\n", i+1, ln.Label, ln.URI)
	}
	b.WriteString("## Subscription\n\n```\n")
	b.WriteString(s.Subscription())
	b.WriteString("\n```\n\n")
	fmt.Fprintf(&b, "One link per line: `%s`\n\n", l.AllNodes())
	b.WriteString("## Commands\n\n")
	for _, c := range []string{"status", "cat", "update", "del"} {
		fmt.Fprintf(&b, "- `%s %s`\n", cmd, c)
	}
	return b.String()
}

// PrintSummary writes the listing followed by the bare links.
func PrintSummary(w io.Writer, s *Set, l state.Layout, cmd string) {
	fmt.Fprint(w, Listing(s, "Installation complete", cmd))
	fmt.Fprintf(w, "Listing saved to %s, plain links to %s\n\n", l.List(), l.AllNodes())
	fmt.Fprintf(w, "%sAll links, one per line:%s\n", cYellow, cReset)
	fmt.Fprintf(w, "%s%s%s\n", cBlue, strings.Repeat("-", 56), cReset)
	for _, u := range s.URIs() {
		fmt.Fprintln(w, u)
	}
	fmt.Fprintf(w, "%s%s%s\n\n", cBlue, strings.Repeat("-", 56), cReset)
}

// QR renders content as a terminal QR code.
func QR(content string) (string, error) {
	q, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "", err
	}
	return q.ToSmallString(false), nil
}
