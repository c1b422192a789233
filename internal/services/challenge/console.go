package challenge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ternarybob/arbor"
)

// Console confirms challenges from lines read on an input stream. An empty line
// confirms the oldest pending challenge; otherwise the line names the account.
type Console struct {
	gate   *Gate
	in     io.Reader
	out    io.Writer
	logger arbor.ILogger
}

// NewConsole creates a console confirmer
func NewConsole(gate *Gate, in io.Reader, out io.Writer, logger arbor.ILogger) *Console {
	return &Console{gate: gate, in: in, out: out, logger: logger}
}

// Notify prints the prompt for the operator
func (c *Console) Notify(ctx context.Context, message string) error {
	_, err := fmt.Fprintf(c.out, "\n%s\nPress Enter (or type the account id) when done.\n", message)
	return err
}

// Run reads confirmations until ctx ends or the input closes
func (c *Console) Run(ctx context.Context) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			c.handle(strings.TrimSpace(line))
		}
	}
}

func (c *Console) handle(line string) {
	if line == "" && len(c.gate.Pending()) == 0 {
		return
	}
	pending, err := c.gate.Confirm(line)
	if errors.Is(err, ErrNoPendingChallenge) {
		fmt.Fprintf(c.out, "No challenge pending for %q\n", line)
		return
	}
	fmt.Fprintf(c.out, "Confirmed challenge for %s\n", pending.AccountID)
}
