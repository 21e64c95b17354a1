package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/example/heaven-sync/internal/attempts"
	"github.com/example/heaven-sync/internal/db"
)

func newAttemptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Inspect and retry queued sync attempts",
	}
	cmd.AddCommand(newAttemptsListCmd())
	cmd.AddCommand(newAttemptsShowCmd())
	cmd.AddCommand(newAttemptsRetryCmd())
	return cmd
}

// withRepo opens the database for one command invocation.
func withRepo(fn func(ctx context.Context, repo *attempts.Repo) error) error {
	ctx, cfg, _, err := loadConfig(context.Background())
	if err != nil {
		return err
	}
	d, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(ctx, attempts.NewRepo(d))
}

func newAttemptsListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	c := &cobra.Command{
		Use:   "list",
		Short: "List recent attempts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := attempts.Status(status)
			if status != "" && !st.Valid() {
				return fmt.Errorf("invalid --status %q", status)
			}
			return withRepo(func(ctx context.Context, repo *attempts.Repo) error {
				as, err := repo.ListRecent(ctx, st, limit)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tRESERVATION\tSTATUS\tCAUSE\tSTEP\tCREATED")
				for _, a := range as {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						a.ID, a.ReservationID, a.Status, a.Cause, a.FailedStep, a.CreatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	c.Flags().StringVar(&status, "status", "", "only attempts with this status (queued, running, succeeded, failed)")
	c.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return c
}

func newAttemptsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <attempt-id>",
		Short: "Print one attempt as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid attempt id: %w", err)
			}
			return withRepo(func(ctx context.Context, repo *attempts.Repo) error {
				a, err := repo.Get(ctx, id)
				if db.IsNotFound(err) {
					return fmt.Errorf("attempt %s not found", id)
				}
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(a)
			})
		},
	}
}

func newAttemptsRetryCmd() *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "retry <attempt-id>",
		Short: "Queue a failed attempt's request again as a new attempt",
		Long: "Queues the request of a failed attempt again. Attempts marked after_submit\n" +
			"(failed after submit, or abandoned by a worker that stopped renewing its\n" +
			"lease) may already exist remotely; check the ledger and pass --force.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid attempt id: %w", err)
			}
			return withRepo(func(ctx context.Context, repo *attempts.Repo) error {
				a, err := repo.Retry(ctx, id, force)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued attempt id=%s retry_of=%s\n", a.ID, id)
				return nil
			})
		},
	}
	c.Flags().BoolVar(&force, "force", false, "retry even if the attempt may have created the reservation remotely")
	return c
}
