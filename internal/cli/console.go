// Package cli implements the interactive admin console attached to the
// daemon's stdin. It offers the same moderation surface as the remote
// console without a network round trip.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/spile-project/spile/internal/config"
	"github.com/spile-project/spile/internal/db"
	"github.com/spile-project/spile/internal/events"
	"github.com/spile-project/spile/internal/server"
)

// Console reads commands line by line and prints results. Input and
// output are injected so tests can drive it without a terminal.
type Console struct {
	cfg   *config.Config
	bus   *events.Bus
	orch  *server.Orchestrator
	store *db.Database

	in  io.Reader
	out io.Writer
}

// NewConsole creates a console bound to the given input and output.
func NewConsole(cfg *config.Config, bus *events.Bus, orch *server.Orchestrator, store *db.Database, in io.Reader, out io.Writer) *Console {
	return &Console{
		cfg:   cfg,
		bus:   bus,
		orch:  orch,
		store: store,
		in:    in,
		out:   out,
	}
}

// Run reads commands until the input ends or the context is cancelled.
func (c *Console) Run(ctx context.Context) {
	fmt.Fprintln(c.out, "Console ready. Type 'help' for available commands.")

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		cmd := strings.ToLower(fields[0])
		args := fields[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
		if cmd == "stop" || cmd == "quit" || cmd == "exit" {
			return
		}
	}
}

// execute processes a single console command.
func (c *Console) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "sessions":
		c.printSessions()
	case "ban":
		return c.cmdBan(args)
	case "pardon":
		return c.cmdPardon(args)
	case "banlist":
		return c.printBans()
	case "op":
		return c.cmdOp(args)
	case "deop":
		return c.cmdDeop(args)
	case "ops":
		return c.printOperators()
	case "stop", "quit", "exit":
		fmt.Fprintln(c.out, "Stopping the server...")
		c.bus.Emit(ctx, events.Event{
			Type:    events.EventShutdown,
			Source:  "console",
			Payload: events.ShutdownPayload{Reason: "console stop command"},
		})
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Commands:
  status              Show daemon state and listener summary
  sessions            List live sessions across all listeners
  ban <addr> [why]    Ban an address
  pardon <addr>       Lift a ban
  banlist             List bans
  op <name>           Grant operator
  deop <name>         Revoke operator
  ops                 List operators
  stop                Shut the daemon down
  help                Show this message`)
}

func (c *Console) printStatus() {
	fmt.Fprintf(c.out, "\n%s (%s), state %s, uptime %s\n\n",
		c.cfg.Server.Name, c.cfg.Server.Version, c.orch.State(), c.orch.Uptime().Round(time.Second))

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Proto", "Address", "Open", "Sessions"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, l := range c.orch.Listeners() {
		tw.Append([]string{
			l.Proto(),
			l.Addr(),
			fmt.Sprintf("%v", l.IsOpen()),
			fmt.Sprintf("%d", l.Sessions().Count()),
		})
	}

	tw.Render()
	fmt.Fprintln(c.out)
}

func (c *Console) printSessions() {
	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"ID", "Proto", "Remote", "State"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	total := 0
	for _, l := range c.orch.Listeners() {
		for _, sess := range l.Sessions().All() {
			tw.Append([]string{
				fmt.Sprintf("%d", sess.ID()),
				sess.Protocol(),
				sess.RemoteAddr().String(),
				sess.State().String(),
			})
			total++
		}
	}

	fmt.Fprintln(c.out)
	tw.Render()
	fmt.Fprintf(c.out, "%d live sessions\n\n", total)
}

func (c *Console) cmdBan(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: ban <addr> [reason]")
	}
	reason := "Banned by an operator"
	if len(args) > 1 {
		reason = strings.Join(args[1:], " ")
	}
	if err := c.store.BanAddr(args[0], reason); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Banned %s: %s\n", args[0], reason)
	return nil
}

func (c *Console) cmdPardon(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: pardon <addr>")
	}
	if err := c.store.PardonAddr(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Unbanned %s\n", args[0])
	return nil
}

func (c *Console) printBans() error {
	bans, err := c.store.Bans()
	if err != nil {
		return err
	}
	if len(bans) == 0 {
		fmt.Fprintln(c.out, "There are no bans")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Address", "Reason", "Since"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for _, b := range bans {
		tw.Append([]string{b.Addr, b.Reason, b.CreatedAt.Format("2006-01-02 15:04")})
	}
	tw.Render()
	return nil
}

func (c *Console) cmdOp(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: op <name>")
	}
	if err := c.store.AddOperator(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Made %s a server operator\n", args[0])
	return nil
}

func (c *Console) cmdDeop(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: deop <name>")
	}
	if err := c.store.RemoveOperator(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Made %s no longer a server operator\n", args[0])
	return nil
}

func (c *Console) printOperators() error {
	ops, err := c.store.Operators()
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		fmt.Fprintln(c.out, "There are no operators")
		return nil
	}
	for _, name := range ops {
		fmt.Fprintf(c.out, "  - %s\n", name)
	}
	return nil
}
