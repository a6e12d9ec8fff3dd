package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/wakegate/wakegate/config"
	"github.com/wakegate/wakegate/server/audit"
	"github.com/wakegate/wakegate/server/orchestrator"
	"github.com/wakegate/wakegate/server/panel"
	"github.com/wakegate/wakegate/server/registry"
	"github.com/wakegate/wakegate/server/sessions"
)

// stdout is swapped out by tests
var stdout io.Writer = os.Stdout

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(stdout)
	t.SetStyle(table.StyleRounded)
	return t
}

func formatTimeout(seconds int) string {
	if seconds < 0 {
		return "never"
	}
	return (time.Duration(seconds) * time.Second).String()
}

func formatOnline(online *bool) string {
	switch {
	case online == nil:
		return "-"
	case *online:
		return "online"
	default:
		return "offline"
	}
}

func handleStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	conn := addConnectionFlags(fs)
	server := fs.String("server", "", "Show a single backend including a live online check")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := conn.client()
	if err != nil {
		return err
	}

	var statuses []orchestrator.BackendStatus
	if *server != "" {
		var st orchestrator.BackendStatus
		if err := client.get(ctx, "/servers/"+url.PathEscape(*server), &st); err != nil {
			return err
		}
		statuses = append(statuses, st)
	} else {
		var resp struct {
			Servers []orchestrator.BackendStatus `json:"servers"`
		}
		if err := client.get(ctx, "/servers", &resp); err != nil {
			return err
		}
		statuses = resp.Servers
	}

	renderStatus(statuses)
	return nil
}

func renderStatus(statuses []orchestrator.BackendStatus) {
	t := newTable()
	t.AppendHeader(table.Row{"Server", "Remote ID", "Sessions", "Starting", "Online", "Idle Timeout", "Join Delay"})
	for _, st := range statuses {
		starting := "no"
		if st.Starting {
			starting = "yes"
			if st.Since != nil {
				starting = "since " + st.Since.Local().Format(time.TimeOnly)
			}
		}
		t.AppendRow(table.Row{
			st.Name,
			st.RemoteID,
			st.Sessions,
			starting,
			formatOnline(st.Online),
			formatTimeout(st.IdleTimeout),
			formatTimeout(st.JoinDelay),
		})
	}
	t.AppendFooter(table.Row{"Total", len(statuses)})
	t.Render()
}

func handlePower(ctx context.Context, signal string, args []string) error {
	fs := flag.NewFlagSet(signal, flag.ExitOnError)
	conn := addConnectionFlags(fs)
	server := fs.String("server", "", "Backend to send the signal to (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *server == "" {
		fs.Usage()
		return fmt.Errorf("--server is required")
	}
	client, err := conn.client()
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/servers/%s/%s", url.PathEscape(*server), signal)
	if err := client.post(ctx, path, nil); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Sent %s to %s\n", signal, *server)
	return nil
}

func handleReload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reload", flag.ExitOnError)
	conn := addConnectionFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := conn.client()
	if err != nil {
		return err
	}

	var diff registry.Diff
	if err := client.post(ctx, "/reload", &diff); err != nil {
		return err
	}
	renderDiff(diff)
	return nil
}

func renderDiff(diff registry.Diff) {
	if diff.Empty() {
		fmt.Fprintln(stdout, "Configuration reloaded, no backend changes")
		return
	}
	t := newTable()
	t.AppendHeader(table.Row{"Change", "Server"})
	for _, name := range diff.Added {
		t.AppendRow(table.Row{"added", name})
	}
	for _, name := range diff.Removed {
		t.AppendRow(table.Row{"removed", name})
	}
	for _, name := range diff.Changed {
		t.AppendRow(table.Row{"changed", name})
	}
	t.Render()
}

func handleRateLimit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ratelimit", flag.ExitOnError)
	conn := addConnectionFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := conn.client()
	if err != nil {
		return err
	}

	var rl panel.RateLimitSnapshot
	if err := client.get(ctx, "/ratelimit", &rl); err != nil {
		return err
	}
	t := newTable()
	t.AppendHeader(table.Row{"Limit", "Remaining", "Can Make Request"})
	t.AppendRow(table.Row{rl.Limit, rl.Remaining, rl.CanMake})
	t.Render()
	return nil
}

func handlePending(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pending", flag.ExitOnError)
	conn := addConnectionFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := conn.client()
	if err != nil {
		return err
	}

	var resp struct {
		Pending    []orchestrator.PendingConnection `json:"pending"`
		IdleChecks int                              `json:"idle_checks"`
	}
	if err := client.get(ctx, "/pending", &resp); err != nil {
		return err
	}

	t := newTable()
	t.AppendHeader(table.Row{"ID", "Player", "Server", "Waiting", "Attempts", "Detached"})
	for _, pc := range resp.Pending {
		t.AppendRow(table.Row{
			pc.ID,
			pc.PlayerName,
			pc.Server,
			time.Since(pc.CreatedAt).Truncate(time.Second).String(),
			pc.Attempts,
			pc.Detached,
		})
	}
	t.Render()
	fmt.Fprintf(stdout, "Scheduled idle checks: %d\n", resp.IdleChecks)
	return nil
}

func handleSessions(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	conn := addConnectionFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := conn.client()
	if err != nil {
		return err
	}

	var resp struct {
		Sessions []sessions.Session `json:"sessions"`
	}
	if err := client.get(ctx, "/sessions", &resp); err != nil {
		return err
	}

	t := newTable()
	t.AppendHeader(table.Row{"Server", "Player", "Player ID", "Since"})
	for _, s := range resp.Sessions {
		t.AppendRow(table.Row{s.Server, s.PlayerName, s.PlayerID, s.Since.Local().Format(time.DateTime)})
	}
	t.AppendFooter(table.Row{"Total", len(resp.Sessions)})
	t.Render()
	return nil
}

func handleHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	conn := addConnectionFlags(fs)
	server := fs.String("server", "", "Only show events for this backend")
	limit := fs.Int("limit", 50, "Maximum number of events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	client, err := conn.client()
	if err != nil {
		return err
	}

	q := url.Values{}
	if *server != "" {
		q.Set("server", *server)
	}
	q.Set("limit", strconv.Itoa(*limit))

	var resp struct {
		Events []audit.Event `json:"events"`
	}
	if err := client.get(ctx, "/history?"+q.Encode(), &resp); err != nil {
		return err
	}
	renderHistory(resp.Events)
	return nil
}

func renderHistory(events []audit.Event) {
	t := newTable()
	t.AppendHeader(table.Row{"Time", "Server", "Action", "Result", "Error"})
	for _, ev := range events {
		t.AppendRow(table.Row{ev.At.Local().Format(time.DateTime), ev.Server, ev.Action, ev.Result, ev.Error})
	}
	t.Render()
}

func handleValidateConfig(args []string) error {
	fs := flag.NewFlagSet("validate-config", flag.ExitOnError)
	configPath := fs.String("config", "wakegate.toml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", *configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	backends := cfg.Backends()
	t := newTable()
	t.AppendHeader(table.Row{"Server", "Remote ID", "Idle Timeout", "Join Delay", "Address"})
	for _, b := range backends {
		t.AppendRow(table.Row{b.Name, b.RemoteID, formatTimeout(b.IdleTimeout), formatTimeout(b.JoinDelay), b.Address})
	}
	t.Render()
	fmt.Fprintf(stdout, "%s is valid: %d of %d servers registered, panel dialect %s\n",
		*configPath, len(backends), len(cfg.Servers), panel.DetectDialect(cfg.Panel.Type, cfg.Panel.APIKey))
	return nil
}
