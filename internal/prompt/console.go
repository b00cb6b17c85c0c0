package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/helixir/entity-resolution-service/internal/domain"
	"github.com/helixir/entity-resolution-service/internal/resolver"
)

// Console asks questions one line at a time. It works with any reader, so
// answers can be piped in from a file.
type Console struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

var (
	_ resolver.Prompter          = (*Console)(nil)
	_ resolver.AttributePrompter = (*Console)(nil)
)

// NewConsole creates a console prompter reading answers from in and writing
// questions to out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewReader(in), out: out}
}

// Confirm asks whether an automatic match should be accepted. Anything other
// than y or yes rejects it.
func (c *Console) Confirm(ctx context.Context, req resolver.Request, m resolver.Match) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if req.URL != "" {
		fmt.Fprintf(c.out, "\n[%s] %s\n", req.Type, req.URL)
	}
	line, err := c.ask(ctx, confirmQuestion(req, m)+" [y/N] ")
	if err != nil {
		return false, err
	}
	return parseYes(line), nil
}

// Disambiguate asks for the standard name of req.Name.
func (c *Console) Disambiguate(ctx context.Context, req resolver.Request) (resolver.Answer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n%s\n%s\n", header(req), req.Name)
	line, err := c.ask(ctx, "Standard name ('empty' for none, Enter to keep as-is): ")
	if err != nil {
		return resolver.Answer{}, err
	}
	return parseAnswer(line), nil
}

// Attributes asks for each type-specific attribute of a new entity. Blank
// answers are left out.
func (c *Console) Attributes(ctx context.Context, req resolver.Request, standardName string) (map[string]string, error) {
	keys := req.Type.AttributeKeys()
	if len(keys) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "New %s %q\n", req.Type, standardName)
	attrs := make(map[string]string, len(keys))
	for _, key := range keys {
		line, err := c.ask(ctx, attributeLabel(key)+": ")
		if err != nil {
			return nil, err
		}
		if v := domain.CleanText(line); v != "" {
			attrs[key] = v
		}
	}
	return attrs, nil
}

// ask writes question and reads one line. A final line without a newline is
// accepted; end of input before any text aborts the prompt.
func (c *Console) ask(ctx context.Context, question string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrPromptAborted, err)
	}
	fmt.Fprint(c.out, question)

	line, err := c.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", fmt.Errorf("%w: reading answer: %w", domain.ErrPromptAborted, err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
