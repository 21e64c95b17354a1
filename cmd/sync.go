package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/heaven-sync/internal/domain/reservation"
	"github.com/example/heaven-sync/internal/heaven"
)

func newSyncCmd() *cobra.Command {
	var (
		file string
		req  reservation.Request
		id   string
	)

	c := &cobra.Command{
		Use:   "sync",
		Short: "Register one reservation now, without the queue",
		Long: "Runs one sync attempt in the foreground and prints the result as JSON.\n" +
			"The request comes from --file (use - for stdin) or from the individual flags.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				r, err := openInput(cmd, file)
				if err != nil {
					return err
				}
				defer r.Close()
				if req, err = readRequest(r); err != nil {
					return err
				}
			} else {
				req.ReservationID = reservation.ID(id)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx, cfg, logger, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			syncer, _, err := newSyncer(ctx, cfg, logger)
			if err != nil {
				return err
			}

			res, syncErr := syncer.Sync(ctx, req)
			if err := printResult(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if syncErr != nil {
				return fmt.Errorf("sync failed (%s): %w", heaven.Kind(syncErr), syncErr)
			}
			return nil
		},
	}

	c.Flags().StringVarP(&file, "file", "f", "", "JSON reservation request (- for stdin)")
	c.Flags().StringVar(&id, "reservation-id", "", "reservation id")
	c.Flags().StringVar((*string)(&req.Course), "course", "", "course length in minutes")
	c.Flags().StringVar(&req.CastName, "cast", "", "cast name as shown on the timechart")
	c.Flags().StringVar(&req.ReservationTime, "time", "", "reservation time, e.g. 2024-05-01T14:05:00")
	c.Flags().StringVar(&req.CustomerPhone, "phone", "", "customer phone")
	c.Flags().StringVar(&req.MemberNumber, "member", "", "member number (optional)")
	c.Flags().StringVar(&req.CustomerName, "name", "", "customer name (optional)")
	c.MarkFlagsMutuallyExclusive("file", "reservation-id")
	return c
}

func openInput(cmd *cobra.Command, path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	return os.Open(path)
}

func readRequest(r io.Reader) (reservation.Request, error) {
	var req reservation.Request
	dec := json.NewDecoder(r)
	if err := dec.Decode(&req); err != nil {
		return reservation.Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func printResult(w io.Writer, res heaven.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
