package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hdevtech/ticket/internal/session"
	"github.com/hdevtech/ticket/internal/settlement"

	"github.com/spf13/cobra"
)

func settleCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "settle [tx_ref]",
		Short: "Poll the gateway for a tx_ref until it settles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := a.factory.Workflow(cmd.Context())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			out := cmd.OutOrStdout()
			outcome, err := wf.SettleWithProgress(ctx, args[0], func(p settlement.Progress) {
				switch {
				case p.Error != "":
					fmt.Fprintf(out, "[%d] %s: %s\n", p.Attempt, p.Status, p.Error)
				case p.NextPollMS > 0:
					fmt.Fprintf(out, "[%d] %s, next poll in %s\n", p.Attempt, p.Status, time.Duration(p.NextPollMS)*time.Millisecond)
				default:
					fmt.Fprintf(out, "[%d] %s\n", p.Attempt, p.Status)
				}
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(outcome)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (default: the configured retry policy)")
	return cmd
}

func tokenCmd(a *app) *cobra.Command {
	var (
		ttl   time.Duration
		email string
		role  string
	)

	cmd := &cobra.Command{
		Use:   "token [client_id]",
		Short: "Issue a bearer token for a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret is not set")
			}
			var clientID int64
			if _, err := fmt.Sscan(args[0], &clientID); err != nil || clientID <= 0 {
				return fmt.Errorf("invalid client id %q", args[0])
			}

			token, err := session.Issue([]byte(a.cfg.Auth.JWTSecret), a.cfg.Auth.Issuer,
				session.Session{ClientID: clientID, Email: email, Role: role}, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&email, "email", "", "client email")
	cmd.Flags().StringVar(&role, "role", "client", "client role")
	return cmd
}
