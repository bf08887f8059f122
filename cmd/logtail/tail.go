package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/narvanalabs/deploylogs/internal/logs"
	"github.com/narvanalabs/deploylogs/internal/models"
	"github.com/spf13/cobra"
)

type tailOptions struct {
	follow bool
	level  string
	search string
	json   bool
}

// newTailCommand constructs the `tail` subcommand.
func newTailCommand(a *app) *cobra.Command {
	var opts tailOptions

	tailCmd := &cobra.Command{
		Use:   "tail <deployment>",
		Short: "Print a deployment's logs, optionally following new entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.level != "" && !strings.EqualFold(opts.level, logs.LevelAll) {
				if _, err := models.ParseLogLevel(opts.level); err != nil {
					return fmt.Errorf("invalid --level: %w", err)
				}
			}
			return runTail(cmd, a, args[0], opts)
		},
	}
	tailCmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Keep streaming new entries until interrupted")
	tailCmd.Flags().StringVar(&opts.level, "level", "", "Only print entries at this level (debug|info|warn|error|success)")
	tailCmd.Flags().StringVarP(&opts.search, "search", "s", "", "Only print entries whose message or source contains this text")
	tailCmd.Flags().BoolVar(&opts.json, "json", false, "Print entries as JSON lines")
	return tailCmd
}

func runTail(cmd *cobra.Command, a *app, deploymentID string, opts tailOptions) error {
	identity, err := a.identity()
	if err != nil {
		return err
	}
	cfg, be, err := a.connect()
	if err != nil {
		return err
	}
	defer be.Close()

	ctx := cmd.Context()
	ctrl := logs.NewController(be.Store, be.Feed, identity,
		logs.WithPollInterval(cfg.Stream.PollInterval),
		logs.WithLogger(a.logger),
	)
	defer ctrl.Close()

	p := &entryPrinter{w: cmd.OutOrStdout(), opts: opts, printed: make(map[string]struct{})}

	if !opts.follow {
		if err := ctrl.FetchAll(ctx, deploymentID); err != nil {
			return err
		}
		return p.print(ctrl.Logs())
	}

	changes, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	// A failed seed is recorded on the controller; polling keeps retrying.
	_ = ctrl.Start(ctx, deploymentID)

	var lastErr error
	for {
		if err := p.print(ctrl.Logs()); err != nil {
			return err
		}
		if err := ctrl.Err(); err != nil && err != lastErr {
			a.logger.Warn("log stream degraded", "deployment_id", deploymentID, "error", err)
		}
		lastErr = ctrl.Err()

		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
		}
	}
}

// entryPrinter writes each entry once, in the order it is first seen.
type entryPrinter struct {
	w       io.Writer
	opts    tailOptions
	printed map[string]struct{}
}

func (p *entryPrinter) print(entries []*models.LogEntry) error {
	entries = logs.FilterByLevel(logs.Search(entries, p.opts.search), p.opts.level)
	for _, e := range entries {
		if _, ok := p.printed[e.ID]; ok {
			continue
		}
		p.printed[e.ID] = struct{}{}

		if p.opts.json {
			if err := json.NewEncoder(p.w).Encode(e); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintln(p.w, formatEntry(e)); err != nil {
			return err
		}
	}
	return nil
}

// formatEntry renders an entry as a single human-readable line.
func formatEntry(e *models.LogEntry) string {
	var b strings.Builder
	b.WriteString(e.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, " %-7s", strings.ToUpper(e.Level.String()))
	if e.Source != "" {
		fmt.Fprintf(&b, " [%s]", e.Source)
	}
	b.WriteString(" ")
	b.WriteString(e.Message)
	return b.String()
}
