package main

import (
	"errors"
	"fmt"

	"github.com/narvanalabs/deploylogs/internal/backend"
	"github.com/narvanalabs/deploylogs/internal/logs"
	"github.com/spf13/cobra"
)

var errArchiveDisabled = errors.New("archiving is disabled: set ARCHIVE_S3_BUCKET")

// newArchiveCommand constructs the `archive` subcommand.
func newArchiveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "archive <deployment>",
		Short: "Export a deployment's logs to the archive bucket as JSON lines",
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

			ctx := cmd.Context()
			exporter, err := backend.OpenExporter(ctx, cfg.Archive, a.logger)
			if err != nil {
				return err
			}
			if exporter == nil {
				return errArchiveDisabled
			}

			ctrl := logs.NewController(be.Store, be.Feed, identity, logs.WithLogger(a.logger))
			defer ctrl.Close()
			if err := ctrl.FetchAll(ctx, args[0]); err != nil {
				return err
			}

			entries := ctrl.Logs()
			key, err := exporter.Export(ctx, args[0], entries)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d entries to s3://%s/%s\n", len(entries), cfg.Archive.Bucket, key)
			return nil
		},
	}
}
