package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter asks the operator for a value; an empty answer means "default".
type Prompter interface {
	Ask(label string) (string, error)
	// Secret reads without echo.
	Secret(label string) (string, error)
}

// TermPrompter prompts on a terminal.
type TermPrompter struct {
	in  *os.File
	out io.Writer
	r   *bufio.Reader
}

// NewTermPrompter returns nil when in is not a terminal.
func NewTermPrompter(in *os.File, out io.Writer) *TermPrompter {
	if in == nil || !term.IsTerminal(int(in.Fd())) {
		return nil
	}
	return &TermPrompter{in: in, out: out, r: bufio.NewReader(in)}
}

func (p *TermPrompter) Ask(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.r.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *TermPrompter) Secret(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	b, err := term.ReadPassword(int(p.in.Fd()))
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
