package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loykin/keepr/internal/config"
	keeprtls "github.com/loykin/keepr/internal/tls"
	"github.com/loykin/keepr/pkg/client"
	"github.com/olekukonko/tablewriter"
)

func validateConfig(w io.Writer, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		problems := config.ConfigErrors(err)
		if len(problems) == 0 {
			return err
		}
		_, _ = fmt.Fprintf(w, "%s: %d problem(s)\n", path, len(problems))
		for _, p := range problems {
			_, _ = fmt.Fprintf(w, "  - %s\n", strings.TrimPrefix(p.Error(), "config: "))
		}
		return fmt.Errorf("invalid config %s", path)
	}
	for _, warn := range cfg.Warnings {
		_, _ = fmt.Fprintf(w, "warning: %s\n", warn)
	}
	_, _ = fmt.Fprintf(w, "%s: OK (%d apps, %d deploy targets)\n", path, len(cfg.Apps), len(cfg.Deploy))
	return nil
}

func dumpConfig(w io.Writer, f DumpFlags) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	data, err := config.Marshal(cfg.Apps, cfg.Deploy, f.Format)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func showDeployTargets(w io.Writer, f DeployFlags) error {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return err
	}
	if f.Target != "" {
		t, err := cfg.Target(f.Target)
		if err != nil {
			return err
		}
		return printJSON(w, t)
	}
	names := slices.Sorted(maps.Keys(cfg.Deploy))
	if f.JSON {
		out := make([]config.DeploymentTarget, 0, len(names))
		for _, n := range names {
			out = append(out, cfg.Deploy[n])
		}
		return printJSON(w, out)
	}
	if len(names) == 0 {
		_, _ = fmt.Fprintln(w, "No deploy targets defined.")
		return nil
	}
	table := tablewriter.NewWriter(w)
	table.Header("Target", "User", "Hosts", "Ref", "Repo", "Path")
	for _, n := range names {
		t := cfg.Deploy[n]
		_ = table.Append(t.Name, t.User, strings.Join(t.Hosts, ","), t.Ref, t.Repo, t.Path)
	}
	return table.Render()
}

func newClient(f GlobalFlags) (*client.Client, error) {
	cfg := client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout}
	if f.APICACert != "" {
		tc, err := keeprtls.ClientConfig(f.APICACert)
		if err != nil {
			return nil, fmt.Errorf("api-cacert: %w", err)
		}
		cfg.TLS = tc
	}
	return client.New(cfg), nil
}

func showStatus(ctx context.Context, w io.Writer, f StatusFlags) error {
	c, err := newClient(f.API)
	if err != nil {
		return err
	}
	var apps []client.AppStatus
	if f.Name != "" {
		st, err := c.Status(ctx, f.Name)
		if err != nil {
			return err
		}
		apps = []client.AppStatus{st}
	} else {
		all, err := c.StatusAll(ctx)
		if err != nil {
			return err
		}
		apps = all
	}
	if f.JSON {
		if f.Name != "" {
			return printJSON(w, apps[0])
		}
		return printJSON(w, apps)
	}
	if len(apps) == 0 {
		_, _ = fmt.Fprintln(w, "No apps.")
		return nil
	}
	table := tablewriter.NewWriter(w)
	table.Header("Name", "Status", "PID", "Restarts", "Uptime", "CPU", "Memory", "Last Exit")
	for _, a := range apps {
		_ = table.Append(
			a.Name,
			a.Status,
			pidText(a.PID),
			strconv.Itoa(a.Restarts),
			uptimeText(a),
			cpuText(a.CPUPercent),
			memText(a.MemoryRSS),
			lastExitText(a),
		)
	}
	return table.Render()
}

func runAction(ctx context.Context, w io.Writer, verb string, f ActionFlags) error {
	c, err := newClient(f.API)
	if err != nil {
		return err
	}
	switch verb {
	case "start":
		err = c.Start(ctx, f.Name)
	case "stop":
		err = c.Stop(ctx, f.Name)
	case "restart":
		err = c.Restart(ctx, f.Name)
	default:
		return fmt.Errorf("unknown action %q", verb)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", verb, f.Name, err)
	}
	_, _ = fmt.Fprintf(w, "%s: %s requested\n", f.Name, verb)
	return nil
}

func pidText(pid int) string {
	if pid <= 0 {
		return "-"
	}
	return strconv.Itoa(pid)
}

func uptimeText(a client.AppStatus) string {
	if a.Status != "running" {
		return "-"
	}
	return a.Uptime().Round(time.Second).String()
}

func cpuText(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *p)
}

func memText(b *uint64) string {
	if b == nil {
		return "-"
	}
	return humanize.IBytes(*b)
}

func lastExitText(a client.AppStatus) string {
	if a.StoppedAt.IsZero() {
		return "-"
	}
	if a.LastError != "" && a.LastExitCode == -1 {
		return a.LastError
	}
	return strconv.Itoa(a.LastExitCode)
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
