// Package cli implements the interactive operator console: live session
// tables, relay status and the audit history, plus a quit command.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/moeru-ai/airi-sub003/internal/db"
	"github.com/moeru-ai/airi-sub003/internal/events"
	"github.com/moeru-ai/airi-sub003/internal/hub"
)

// ShutdownSource is the event source of a console-requested shutdown.
const ShutdownSource = "cli"

// StatusSource provides hub snapshots.
type StatusSource interface {
	Status(ctx context.Context) (hub.Status, error)
}

// HistorySource provides recent audit events.
type HistorySource interface {
	Recent(limit int) ([]db.SessionEvent, error)
}

// CLI provides an interactive command-line interface.
type CLI struct {
	eventBus *events.EventBus
	hub      StatusSource
	history  HistorySource

	in  io.Reader
	out io.Writer
}

// NewCLI creates a new CLI handler reading commands from in and writing to
// out. history may be nil.
func NewCLI(eventBus *events.EventBus, h StatusSource, history HistorySource, in io.Reader, out io.Writer) *CLI {
	return &CLI{
		eventBus: eventBus,
		hub:      h,
		history:  history,
		in:       in,
		out:      out,
	}
}

// Start runs the command loop until ctx is cancelled, input ends or the
// operator quits.
func (c *CLI) Start(ctx context.Context) {
	fmt.Fprintln(c.out, "\nmchub console ready. Type 'help' for available commands.")
	fmt.Fprintln(c.out, "─────────────────────────────────────────────────────")

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-readCtx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warn().Err(err).Str("component", "cli").Msg("console input failed")
		}
	}()

	for {
		fmt.Fprint(c.out, "mchub> ")
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			parts := strings.Fields(line)
			if len(parts) == 0 {
				continue
			}
			err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:])
			if errors.Is(err, errQuit) {
				return
			}
			if err != nil {
				fmt.Fprintf(c.out, "Error: %v\n", err)
			}
		}
	}
}

var errQuit = errors.New("quit")

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		return c.printStatus(ctx)
	case "sessions", "ls":
		return c.printSessions(ctx)
	case "history":
		return c.printHistory(args)
	case "quit", "exit", "q":
		fmt.Fprintln(c.out, "Shutting down mchub...")
		if c.eventBus != nil {
			c.eventBus.Publish(ctx, events.EventShutdown, ShutdownSource,
				events.ShutdownPayload{Reason: "console"})
		}
		return errQuit
	default:
		fmt.Fprintf(c.out, "Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, "\n╔══════════════════════════════════════════════════════╗")
	fmt.Fprintln(c.out, "║                mchub Console Commands                ║")
	fmt.Fprintln(c.out, "╠══════════════════════════════════════════════════════╣")
	fmt.Fprintln(c.out, "║  status           Show relay state                   ║")
	fmt.Fprintln(c.out, "║  sessions         List downstream sessions           ║")
	fmt.Fprintln(c.out, "║  history [n]      Show the last n session events     ║")
	fmt.Fprintln(c.out, "║  quit             Shut the hub down                  ║")
	fmt.Fprintln(c.out, "║  help             Show this help message             ║")
	fmt.Fprintln(c.out, "╚══════════════════════════════════════════════════════╝")
	fmt.Fprintln(c.out)
}

func (c *CLI) printStatus(ctx context.Context) error {
	st, err := c.hub.Status(ctx)
	if err != nil {
		return err
	}

	upstream := "disconnected"
	switch {
	case st.UpstreamEnded:
		upstream = "ended"
	case st.UpstreamConnected:
		upstream = "connected (" + st.UpstreamPhase + ")"
	}
	dispatched := "no"
	if st.DispatchedAt != nil {
		dispatched = st.DispatchedAt.Format(time.RFC3339)
	}
	entity := "-"
	if st.ControlledEntityID != nil {
		entity = strconv.Itoa(int(*st.ControlledEntityID))
	}

	fmt.Fprintf(c.out, "\n  Upstream:       %s\n", upstream)
	fmt.Fprintf(c.out, "  Target:         %s %s\n", st.TargetUsername, st.TargetUUID)
	fmt.Fprintf(c.out, "  Configured:     %v\n", st.ConfigurationComplete)
	fmt.Fprintf(c.out, "  Dispatched:     %s\n", dispatched)
	fmt.Fprintf(c.out, "  Config packets: %d\n", st.ConfigPackets)
	fmt.Fprintf(c.out, "  Queued packets: %d\n", st.QueuedPackets)
	fmt.Fprintf(c.out, "  Compression:    %d\n", st.CompressionThreshold)
	fmt.Fprintf(c.out, "  Entity ID:      %s\n", entity)
	fmt.Fprintf(c.out, "  Sessions:       %d\n", len(st.Sessions))
	fmt.Fprintf(c.out, "  Uptime:         %s\n\n", time.Since(st.StartedAt).Truncate(time.Second))
	return nil
}

func (c *CLI) printSessions(ctx context.Context) error {
	st, err := c.hub.Status(ctx)
	if err != nil {
		return err
	}
	if len(st.Sessions) == 0 {
		fmt.Fprintln(c.out, "No sessions")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Conn", "Role", "Username", "UUID", "Ready", "Joined"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, s := range st.Sessions {
		tw.Append([]string{
			strconv.FormatUint(s.ConnID, 10),
			string(s.Role),
			s.Username,
			s.UUID,
			strconv.FormatBool(s.ReadyForPlay),
			s.JoinedAt.Format("15:04:05"),
		})
	}
	tw.Render()
	return nil
}

func (c *CLI) printHistory(args []string) error {
	if c.history == nil {
		return fmt.Errorf("audit log is disabled")
	}

	limit := db.DefaultHistoryLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		limit = n
	}

	entries, err := c.history.Recent(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "No session events recorded")
		return nil
	}

	tw := tablewriter.NewWriter(c.out)
	tw.SetHeader([]string{"Time", "Event", "Role", "Username", "Reason"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, e := range entries {
		tw.Append([]string{
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.Event,
			e.Role,
			e.Username,
			e.Reason,
		})
	}
	tw.Render()
	return nil
}
