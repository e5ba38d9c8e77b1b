// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-eseaccess.
//
// go-eseaccess is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jeremyhahn/go-eseaccess/pkg/client"
	"github.com/jeremyhahn/go-eseaccess/pkg/notify"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// PrintResponse prints the result of an access operation
func (p *Printer) PrintResponse(op string, resp *client.Response) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"operation": op,
			"code":      resp.Code,
			"state":     resp.State,
		})
	case OutputFormatText:
		fmt.Fprintf(p.writer, "%s: %s %s\n", op, resp.Code, resp.State)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintState prints the daemon state
func (p *Printer) PrintState(st *client.StateResponse) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(st)
	case OutputFormatText:
		registered := notify.Identity(st.Registered).String()
		pending := "none"
		if len(st.PendingHandshakes) > 0 {
			pending = strings.Join(st.PendingHandshakes, ", ")
		}
		fmt.Fprintf(p.writer, "State:       %s (0x%04x)\n", st.State, st.Access.Bits())
		fmt.Fprintf(p.writer, "Rail:        %s\n", onOff(st.RailEnabled))
		fmt.Fprintf(p.writer, "Registered:  %s\n", registered)
		fmt.Fprintf(p.writer, "Lock held:   %t\n", st.LockHeld)
		fmt.Fprintf(p.writer, "Handshakes:  %s\n", pending)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// PrintEvent prints one notification
func (p *Printer) PrintEvent(ev notify.Event, acked string) error {
	switch p.format {
	case OutputFormatJSON:
		// One object per line.
		out := map[string]interface{}{
			"id":     ev.ID,
			"code":   ev.Reason,
			"reason": ev.Name,
			"time":   ev.Time.Format(time.RFC3339Nano),
		}
		if acked != "" {
			out["acknowledged"] = acked
		}
		return json.NewEncoder(p.writer).Encode(out)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "%s %s (%d)", ev.Time.Format(time.RFC3339), ev.Name, ev.Reason)
		if acked != "" {
			fmt.Fprintf(p.writer, " acked %s", acked)
		}
		fmt.Fprintln(p.writer)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintHealth prints the daemon health
func (p *Printer) PrintHealth(h *client.HealthResponse) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(h)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Status: %s\n", h.Status)
		for _, c := range h.Checks {
			line := fmt.Sprintf("  %-10s %-9s %s", c.Name, c.Status, c.Message)
			if c.Error != "" {
				line += " (" + c.Error + ")"
			}
			fmt.Fprintln(p.writer, line)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintAudit prints audit events, newest first
func (p *Printer) PrintAudit(resp *client.AuditResponse) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(resp.Events)
	case OutputFormatText:
		if len(resp.Events) == 0 {
			fmt.Fprintln(p.writer, "No audit events")
			return nil
		}
		for _, ev := range resp.Events {
			principal := ev.Principal
			if principal == "" {
				principal = "-"
			}
			fmt.Fprintf(p.writer, "%s %-28s %-9s %-8s %s -> %s\n",
				ev.Timestamp.Format(time.RFC3339), ev.EventType, ev.Outcome, principal,
				ev.StateBefore, ev.StateAfter)
		}
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"code":   resultCode(err),
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

// printJSON prints data as JSON
func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
