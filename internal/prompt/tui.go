package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/huh"

	"github.com/helixir/entity-resolution-service/internal/domain"
	"github.com/helixir/entity-resolution-service/internal/resolver"
)

// TUI asks questions with interactive terminal forms.
type TUI struct {
	in         io.Reader
	out        io.Writer
	accessible bool

	// lines feeds accessible forms one line per read; set when accessible.
	lines *lineReader
}

var (
	_ resolver.Prompter          = (*TUI)(nil)
	_ resolver.AttributePrompter = (*TUI)(nil)
)

// TUIOption configures a TUI prompter.
type TUIOption func(*TUI)

// WithAccessible renders forms as plain sequential prompts, for screen
// readers and dumb terminals.
func WithAccessible(accessible bool) TUIOption {
	return func(t *TUI) { t.accessible = accessible }
}

// NewTUI creates a form-based prompter on the given terminal streams.
func NewTUI(in io.Reader, out io.Writer, opts ...TUIOption) *TUI {
	t := &TUI{in: in, out: out}
	for _, opt := range opts {
		opt(t)
	}
	if t.accessible {
		t.lines = newLineReader(t.in)
	}
	return t
}

// Confirm shows the candidate match and asks to accept or reject it.
func (t *TUI) Confirm(ctx context.Context, req resolver.Request, m resolver.Match) (bool, error) {
	var ok bool
	field := huh.NewConfirm().
		Title(confirmQuestion(req, m)).
		Description(req.URL).
		Affirmative("Accept").
		Negative("Reject").
		Value(&ok)
	if err := t.run(ctx, field); err != nil {
		return false, err
	}
	return ok, nil
}

// Disambiguate asks for the standard name of req.Name.
func (t *TUI) Disambiguate(ctx context.Context, req resolver.Request) (resolver.Answer, error) {
	var typed string
	field := huh.NewInput().
		Title(header(req) + " " + req.Name).
		Description("Type the standard name, 'empty' for none, or leave blank to keep as-is.").
		Placeholder(req.Name).
		Value(&typed)
	if err := t.run(ctx, field); err != nil {
		return resolver.Answer{}, err
	}
	return parseAnswer(typed), nil
}

// Attributes asks for every type-specific attribute in one form.
func (t *TUI) Attributes(ctx context.Context, req resolver.Request, standardName string) (map[string]string, error) {
	keys := req.Type.AttributeKeys()
	if len(keys) == 0 {
		return nil, nil
	}

	values := make([]string, len(keys))
	fields := make([]huh.Field, len(keys))
	for i, key := range keys {
		fields[i] = huh.NewInput().
			Title(attributeLabel(key)).
			Value(&values[i])
	}
	group := huh.NewGroup(fields...).
		Title(fmt.Sprintf("New %s %q", req.Type, standardName))
	if err := t.runGroup(ctx, group, len(fields)); err != nil {
		return nil, err
	}

	attrs := make(map[string]string, len(keys))
	for i, key := range keys {
		if v := domain.CleanText(values[i]); v != "" {
			attrs[key] = v
		}
	}
	return attrs, nil
}

func (t *TUI) run(ctx context.Context, fields ...huh.Field) error {
	return t.runGroup(ctx, huh.NewGroup(fields...), len(fields))
}

// runGroup runs one form of n fields. In accessible mode the form cannot
// report end of input, so running out of lines before every field got one
// aborts the prompt.
func (t *TUI) runGroup(ctx context.Context, group *huh.Group, n int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPromptAborted, err)
	}

	var in io.Reader = t.in
	if t.lines != nil {
		t.lines.reset()
		in = t.lines
	}
	form := huh.NewForm(group).
		WithAccessible(t.accessible).
		WithInput(in).
		WithOutput(t.out)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return fmt.Errorf("%w: dialog closed", domain.ErrPromptAborted)
		}
		return fmt.Errorf("%w: %w", domain.ErrPromptAborted, err)
	}
	if t.lines != nil && t.lines.eof && t.lines.lines < n {
		return fmt.Errorf("%w: reading answer: %w", domain.ErrPromptAborted, io.ErrUnexpectedEOF)
	}
	return nil
}

// lineReader hands out at most one line per Read. Accessible forms start a
// new scanner for every field, and a scanner that read ahead would swallow
// the answers meant for the next field.
type lineReader struct {
	r *bufio.Reader

	lines   int
	partial bool
	eof     bool
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReader(r)}
}

func (l *lineReader) reset() {
	l.lines = 0
	l.partial = false
	l.eof = false
}

func (l *lineReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		b, err := l.r.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			if l.partial {
				l.lines++
				l.partial = false
			}
			l.eof = true
			return 0, err
		}
		p[n] = b
		n++
		if b == '\n' {
			l.lines++
			l.partial = false
			break
		}
		l.partial = true
	}
	return n, nil
}
