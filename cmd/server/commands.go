package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/enrollment-engine/api"
	"github.com/warp/enrollment-engine/auth"
	"github.com/warp/enrollment-engine/enrollment"
)

func sweepCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Re-derive enrollment counters from the payment log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			report, err := enrollment.NewReconciler(store).Sweep(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run:                  %s\n", report.RunID)
			fmt.Fprintf(out, "payments:             %d\n", report.Payments)
			fmt.Fprintf(out, "enrollments repaired: %d\n", report.EnrollmentsRepaired)
			fmt.Fprintf(out, "classes repaired:     %d\n", report.ClassesRepaired)
			fmt.Fprintf(out, "instructors repaired: %d\n", report.InstructorsRepaired)
			return nil
		},
	}
}

func seedCmd(f *flags) *cobra.Command {
	var (
		scenario string
		reset    bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a demo scenario into the store",
		Long: `Load a demo scenario into the configured store.

Scenarios:
  dragon-dojo        two instructors, three classes, one paid enrollment
  drifted-counters   dragon-dojo with overwritten counters (try "sweep" after)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			if reset {
				r, ok := store.(interface{ Reset(context.Context) error })
				if !ok {
					return fmt.Errorf("store %q does not support --reset", cfg.Store)
				}
				if err := r.Reset(ctx); err != nil {
					return fmt.Errorf("reset: %w", err)
				}
			}
			if err := api.LoadScenario(ctx, store, scenario); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded scenario %s into %s store\n", scenario, cfg.Store)
			return nil
		},
	}
	cmd.Flags().StringVar(&scenario, "scenario", "dragon-dojo", "scenario id")
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the store first (sqlite only)")
	return cmd
}

func tokenCmd(f *flags) *cobra.Command {
	var (
		email string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			if err := cfg.RequireSecret(); err != nil {
				return err
			}
			// Issuing needs no directory lookup.
			token, err := auth.NewAuthenticator(cfg.AccessTokenSecret, nil).Issue(email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "subject email")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
