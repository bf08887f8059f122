package main

import (
	"context"
	"fmt"
	"io"

	"github.com/narvanalabs/deploylogs/internal/logs"
	"github.com/narvanalabs/deploylogs/internal/models"
	"github.com/spf13/cobra"
)

// newSimulateCommand constructs the `simulate` subcommand.
func newSimulateCommand(a *app) *cobra.Command {
	var (
		projectID string
		fast      bool
	)

	simulateCmd := &cobra.Command{
		Use:   "simulate <deployment>",
		Short: "Narrate a scripted deployment into a deployment's logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, err := a.identity()
			if err != nil {
				return err
			}
			cfg, be, err := a.connect()
			if err != nil {
				return err
			}
			defer be.Close()

			minDelay, maxDelay := cfg.Narrator.MinDelay, cfg.Narrator.MaxDelay
			if fast {
				minDelay, maxDelay = 0, 0
			}

			narrator := logs.NewNarrator(
				echoInserter{
					Inserter: logs.StoreInserter{Store: be.Store, UserID: identity.P.ID},
					w:        cmd.OutOrStdout(),
				},
				logs.WithDelayWindow(minDelay, maxDelay),
				logs.WithNarratorLogger(a.logger),
			)

			n, err := narrator.Run(cmd.Context(), args[0], projectID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "narrated %d of %d steps\n", n, len(logs.DeploymentScript()))
			return nil
		},
	}
	simulateCmd.Flags().StringVarP(&projectID, "project", "p", "", "Project the narrated entries belong to")
	simulateCmd.Flags().BoolVar(&fast, "fast", false, "Insert every step without pausing")
	return simulateCmd
}

// echoInserter prints each entry once it is stored.
type echoInserter struct {
	logs.Inserter
	w io.Writer
}

func (e echoInserter) AddLog(ctx context.Context, entry models.LogEntry) (*models.LogEntry, error) {
	stored, err := e.Inserter.AddLog(ctx, entry)
	if err == nil && stored != nil {
		fmt.Fprintln(e.w, formatEntry(stored))
	}
	return stored, err
}
