package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/hdevtech/ticket/internal/config"
	"github.com/hdevtech/ticket/internal/domain/ticket"
	"github.com/hdevtech/ticket/internal/infrastructure/postgres"

	"github.com/spf13/cobra"
)

var errNeedsPostgres = errors.New("this command needs ledger.driver=postgres")

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Ledger.Driver != config.LedgerPostgres {
				fmt.Fprintln(cmd.OutOrStdout(), "bolt ledger needs no migration")
				return nil
			}
			pool, err := a.factory.Postgres(cmd.Context())
			if err != nil {
				return err
			}
			if err := postgres.EnsureSchema(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func pendingCmd(a *app) *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List tickets still waiting for payment",
		RunE: func(cmd *cobra.Command, args []string) error {
			ledger, err := a.factory.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			tickets, err := ledger.Tickets.ListPending(cmd.Context(), time.Now().Add(-olderThan), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(tickets)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TX_REF\tTICKET\tCLIENT\tROUTE\tAMOUNT\tPHONE\tDATE")
			for _, t := range tickets {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
					t.TxRef, t.ID, t.ClientID, t.RouteID, t.Amount, t.PhoneNumber, t.Date.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only tickets created at least this long ago")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum tickets to list")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")

	return cmd
}

func routeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Manage routes",
	}

	var r ticket.Route
	var leave string

	add := &cobra.Command{
		Use:   "add",
		Short: "Add a route tickets can be bought for",
		RunE: func(cmd *cobra.Command, args []string) error {
			if r.From == "" || r.Destination == "" || r.Price <= 0 {
				return errors.New("--from, --to and a positive --price are required")
			}
			if leave != "" {
				t, err := time.Parse(time.RFC3339, leave)
				if err != nil {
					return fmt.Errorf("invalid --leave: %w", err)
				}
				r.LeaveDate = t
			}

			ledger, err := a.factory.Ledger(cmd.Context())
			if err != nil {
				return err
			}
			if err := ledger.Routes.Create(cmd.Context(), &r); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "route %d: %s to %s, %d\n", r.ID, r.From, r.Destination, r.Price)
			return nil
		},
	}

	add.Flags().StringVar(&r.From, "from", "", "departure city")
	add.Flags().StringVar(&r.Destination, "to", "", "destination city")
	add.Flags().StringVar(&r.Car, "car", "", "vehicle plate")
	add.Flags().Int64Var(&r.Price, "price", 0, "ticket price")
	add.Flags().IntVar(&r.Seats, "seats", 0, "number of seats")
	add.Flags().StringVar(&leave, "leave", "", "departure time, RFC3339")

	cmd.AddCommand(add)
	return cmd
}

func outboxCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and repair the ledger event outbox",
	}

	outboxRepo := func(cmd *cobra.Command) (*postgres.OutboxRepository, error) {
		ledger, err := a.factory.Ledger(cmd.Context())
		if err != nil {
			return nil, err
		}
		if ledger.Outbox == nil {
			return nil, errNeedsPostgres
		}
		return ledger.Outbox, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Count outbox events by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := outboxRepo(cmd)
			if err != nil {
				return err
			}
			counts, err := repo.CountByStatus(cmd.Context())
			if err != nil {
				return err
			}
			for _, status := range []string{"new", "processing", "processed"} {
				fmt.Fprintf(cmd.OutOrStdout(), "%-11s %d\n", status, counts[status])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Re-queue events stuck in processing",
		Long: `Re-queue events stuck in processing.

Run this only while no worker is running: a worker that is mid-publish
would otherwise publish its batch twice.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := outboxRepo(cmd)
			if err != nil {
				return err
			}
			n, err := repo.ResetProcessing(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fixed %d messages\n", n)
			return nil
		},
	})

	return cmd
}
