package prompt

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/helixir/entity-resolution-service/internal/resolver"
)

// Backend names accepted by New.
const (
	BackendAuto        = "auto"
	BackendConsole     = "console"
	BackendTUI         = "tui"
	BackendPassthrough = "passthrough"
)

// New returns the prompter for backend. BackendAuto picks the form-based
// prompter when both streams are terminals and the console prompter
// otherwise, so answers can be piped in.
func New(backend string, in, out *os.File) (resolver.Prompter, error) {
	switch strings.ToLower(backend) {
	case BackendAuto, "":
		if IsTerminal(in) && IsTerminal(out) {
			return NewTUI(in, out), nil
		}
		return NewConsole(in, out), nil
	case BackendConsole:
		return NewConsole(in, out), nil
	case BackendTUI:
		return NewTUI(in, out, WithAccessible(!IsTerminal(in))), nil
	case BackendPassthrough:
		return resolver.AutoPrompter{}, nil
	default:
		return nil, fmt.Errorf("unknown prompt backend %q", backend)
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
