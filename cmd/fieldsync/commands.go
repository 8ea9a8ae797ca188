package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/fieldsync/backend/internal/core"
	"github.com/kimhsiao/fieldsync/backend/internal/errors"
	"github.com/kimhsiao/fieldsync/backend/internal/models"
)

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one drain of the sync queue",
		Long: `Check that the remote API is reachable and drain the sync queue once.

Records go before attachments. Items still backing off are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCore(cmd.Context(), func(c *core.Core) error {
				if !c.RefreshConnectivity(cmd.Context()) {
					return errors.New(errors.ErrSyncOffline, "remote api is unreachable")
				}
				result, err := c.SyncNow(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending and failed counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCore(cmd.Context(), func(c *core.Core) error {
				status, err := c.Status(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), status)
			})
		},
	}
}

func newPendingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List entities that are pending or in error",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCore(cmd.Context(), func(c *core.Core) error {
				pending, err := c.GetPending(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIPO\tID\tSTATUS\tCREATED\tERROR")
				for _, p := range pending {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						p.Kind, p.ID, p.SyncStatus,
						time.UnixMilli(p.CreatedAt).UTC().Format(time.RFC3339), p.SyncError)
				}
				return tw.Flush()
			})
		},
	}
}

func newRetryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <tipo> <id>",
		Short: "Re-queue an entity in error with a fresh retry budget",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := models.ParseKind(args[0])
			if err != nil {
				return errors.Wrap(errors.ErrInvalid, "invalid tipo", err)
			}
			return a.withCore(cmd.Context(), func(c *core.Core) error {
				item, err := c.Retry(cmd.Context(), kind, models.UUID(args[1]))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), item)
			})
		},
	}
}

func newCleanupCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete synced records past the retention window",
		Long: `Delete synced visits, actions and attachments whose syncedAt is older
than the retention window, together with their blobs. Visits that still
have unsynced attachments are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("days") {
				days = a.cfg.RetentionDays
			}
			return a.withCore(cmd.Context(), func(c *core.Core) error {
				report, err := c.Cleanup(cmd.Context(), days)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "retention window in days (defaults to the configured value)")
	return cmd
}
