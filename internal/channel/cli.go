package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"cmdgate/internal/domain"
)

// CLI presents approval prompts on the terminal and reads y/N answers.
// Prompts are handled one at a time in arrival order.
type CLI struct {
	bus    domain.ApprovalBus
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start consumes approval requests and blocks until the context is
// cancelled or the input stream ends.
func (c *CLI) Start(ctx context.Context, approvals domain.ApprovalBus) error {
	c.bus = approvals
	reader := bufio.NewScanner(c.in)

	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-approvals.Subscribe():
			if !ok {
				return nil
			}
			if err := c.prompt(reader, req); err != nil {
				return err
			}
		}
	}
}

func (c *CLI) prompt(reader *bufio.Scanner, req domain.ApprovalRequest) error {
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "🔒 Command approval needed")
	fmt.Fprintf(c.out, "   Command: %s\n", req.Command)
	if req.Reason != "" {
		fmt.Fprintf(c.out, "   Reason:  %s\n", req.Reason)
	}
	fmt.Fprint(c.out, "Allow? [y/N] ")

	if !reader.Scan() {
		// Input closed. Deny and stop so the engine does not hang until
		// its timeout.
		c.bus.Resolve(domain.ApprovalResolution{RequestID: req.ID, Approved: false, Via: "cli"})
		return reader.Err()
	}

	answer := strings.ToLower(strings.TrimSpace(reader.Text()))
	approved := answer == "y" || answer == "yes"

	c.bus.Resolve(domain.ApprovalResolution{RequestID: req.ID, Approved: approved, Via: "cli"})

	if approved {
		fmt.Fprintln(c.out, "✅ approved")
	} else {
		fmt.Fprintln(c.out, "❌ denied")
	}
	c.logger.Info("cli confirmation", "request", req.ID, "approved", approved)
	return nil
}
