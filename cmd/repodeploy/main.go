package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	apiclient "github.com/splax/repodeploy/pkg/api/client"
	"github.com/splax/repodeploy/pkg/config"
)

var buildVersion = "dev"

type rootOptions struct {
	apiURL   string
	interval time.Duration
	timeout  time.Duration
	asJSON   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	cfg := config.LoadCLIConfig()
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "repodeploy",
		Short:         "Deploy GitHub repositories and follow their progress",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&opts.apiURL, "api", cfg.APIURL, "API base URL")
	cmd.PersistentFlags().DurationVar(&opts.interval, "interval", cfg.PollInterval, "Poll interval while following a deployment")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", cfg.Timeout, "Maximum time to follow a deployment")
	cmd.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Print raw JSON instead of text")

	cmd.AddCommand(newDeployCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	return cmd
}

func newDeployCommand(opts *rootOptions) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "deploy <repo-url>",
		Short: "Start a deployment for a public GitHub repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := apiclient.New(opts.apiURL)
			if err != nil {
				return err
			}
			res, err := client.Deploy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout(), opts.asJSON)
			if !follow {
				return p.started(res)
			}
			p.line("Deployment %s queued", res.ID)
			return watch(cmd.Context(), client, res.ID, opts, p)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream build logs until the deployment finishes")
	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "status <deployment-id>",
		Short: "Show the status and build log of a deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := apiclient.New(opts.apiURL)
			if err != nil {
				return err
			}
			p := newPrinter(cmd.OutOrStdout(), opts.asJSON)
			if follow {
				return watch(cmd.Context(), client, args[0], opts, p)
			}
			d, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				if apiclient.IsNotFound(err) {
					return fmt.Errorf("deployment %s not found", args[0])
				}
				return err
			}
			return p.deployment(d)
		},
	}
	cmd.Flags().BoolVarP(&follow, "watch", "w", false, "Poll until the deployment finishes")
	return cmd
}

func watch(ctx context.Context, client *apiclient.Client, id string, opts *rootOptions, p *printer) error {
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	printed := 0
	final, err := client.Watch(ctx, id, opts.interval, func(d apiclient.Deployment) {
		if p.json {
			return
		}
		for _, line := range d.BuildLogs[min(printed, len(d.BuildLogs)):] {
			p.line("  %s", line)
		}
		printed = len(d.BuildLogs)
	})
	if err != nil {
		return err
	}
	if p.json {
		return p.deployment(final)
	}
	p.summary(final)
	if final.Status == "failed" {
		return fmt.Errorf("deployment %s failed", final.ID)
	}
	return nil
}

type printer struct {
	out   io.Writer
	json  bool
	color bool
}

func newPrinter(out io.Writer, asJSON bool) *printer {
	color := false
	if f, ok := out.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &printer{out: out, json: asJSON, color: color}
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

func (p *printer) started(res apiclient.StartResult) error {
	if p.json {
		return p.encode(res)
	}
	p.line("Deployment %s %s", res.ID, p.status(res.Status))
	p.line("Follow with: repodeploy status --watch %s", res.ID)
	return nil
}

func (p *printer) deployment(d apiclient.Deployment) error {
	if p.json {
		return p.encode(d)
	}
	p.line("Deployment %s (%s)", d.ID, d.RepoURL)
	for _, line := range d.BuildLogs {
		p.line("  %s", line)
	}
	p.summary(d)
	return nil
}

func (p *printer) summary(d apiclient.Deployment) {
	p.line("Status: %s", p.status(d.Status))
	if d.LiveURL != nil {
		p.line("Live URL: %s", *d.LiveURL)
	}
	if d.ErrorMessage != nil {
		p.line("Error: %s", *d.ErrorMessage)
	}
}

func (p *printer) status(s string) string {
	if !p.color {
		return s
	}
	switch s {
	case "deployed":
		return "\x1b[32m" + s + "\x1b[0m"
	case "failed":
		return "\x1b[31m" + s + "\x1b[0m"
	default:
		return "\x1b[33m" + s + "\x1b[0m"
	}
}

func (p *printer) encode(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
