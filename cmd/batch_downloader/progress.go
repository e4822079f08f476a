package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/italolelis/batch_downloader/internal/logctx"
)

func newProgressCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Inspect or clear the record of completed downloads",
	}

	cmd.AddCommand(newProgressListCmd(a))
	cmd.AddCommand(newProgressResetCmd(a))

	return cmd
}

func newProgressListCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the identifiers recorded as complete",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(nil)
			if err != nil {
				return err
			}
			defer store.Close()

			set, err := store.Load(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load progress: %w", err)
			}

			ids := set.Sorted()
			out := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")

				return enc.Encode(ids)
			}

			for _, id := range ids {
				fmt.Fprintln(out, id)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print a JSON array")

	return cmd
}

func newProgressResetCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget every completed download so the next run considers all records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset progress without --yes")
			}

			ctx := cmd.Context()

			store, err := a.openStore(nil)
			if err != nil {
				return err
			}
			defer store.Close()

			set, err := store.Load(ctx)
			if err != nil {
				return fmt.Errorf("failed to load progress: %w", err)
			}

			if err := store.Reset(ctx); err != nil {
				return fmt.Errorf("failed to reset progress: %w", err)
			}

			logctx.LoggerFromContext(ctx).Info("progress reset", "forgotten", len(set))

			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")

	return cmd
}
