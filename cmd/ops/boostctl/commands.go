package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"classifieds/internal/auth"
	"classifieds/internal/boost"
	"classifieds/internal/config"
	"classifieds/internal/scheduler"
	"classifieds/internal/types"
)

func newSweepCmd(deps cliDeps) *cobra.Command {
	var (
		at     string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one boost sweep",
		Long: `Run one boost sweep against the configured database and print the result.

Notifications are not enqueued for operator sweeps.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := parseInstant(at, deps.clock)
			if err != nil {
				return err
			}
			return withStore(cmd, deps, func(cfg *config.Config, store listingStore) error {
				sweeper := scheduler.NewSweeper(scheduler.SweeperDeps{
					Store:  store,
					Clock:  deps.clock,
					Logger: deps.logger,
				}, scheduler.SweepConfig{
					PageSize:   cfg.Sweep.PageSize,
					BatchLimit: cfg.Sweep.BatchLimit,
					MaxPages:   cfg.Sweep.MaxPages,
				})

				ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Sweep.Timeout)
				defer cancel()
				res, runErr := sweeper.Run(ctx, scheduler.SweepPayload{ReferenceTime: &ref, DryRun: dryRun})
				if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				return runErr
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Reference time (RFC3339), defaults to now")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Decide without writing")
	return cmd
}

func newScheduleCmd(deps cliDeps) *cobra.Command {
	var start string
	cmd := &cobra.Command{
		Use:   "schedule <plan>",
		Short: "Print the boost record and bump times a plan produces",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, ok := boost.ResolvePlan(args[0])
			if !ok {
				return fmt.Errorf("unknown plan %q", args[0])
			}
			at, err := parseInstant(start, deps.clock)
			if err != nil {
				return err
			}
			rec := boost.NewRecord(plan, boost.ToMillis(at))
			return printSchedule(cmd.OutOrStdout(), plan, rec, bumpTimes(plan, rec))
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "Activation time (RFC3339), defaults to now")
	return cmd
}

func newShowCmd(deps cliDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <listingId>",
		Short: "Print a listing's boost state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, deps, func(_ *config.Config, store listingStore) error {
				l, err := store.GetListing(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printListing(cmd.OutOrStdout(), l)
			})
		},
	}
}

func newTokenCmd(deps cliDeps) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <userId>",
		Short: "Issue a bearer token for a user (local testing)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.loadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if err := cfg.RequireAPI(); err != nil {
				return err
			}
			issuer := auth.NewTokenVerifier(auth.TokenVerifierConfig{
				Secret:   cfg.Auth.JWTSecret,
				Issuer:   cfg.Auth.JWTIssuer,
				Audience: cfg.Auth.JWTAudience,
				Clock:    deps.clock,
			})
			token, err := issuer.Issue(args[0], ttl, cfg.Auth.JWTIssuer)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <key>",
		Short: "Print the ADMIN_KEY_HASH value for a bypass key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(args[0]) == "" {
				return errors.New("key must not be blank")
			}
			hash, err := auth.HashBypassKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// bumpTimes walks the cadence from activation and returns every scheduled
// bump after the activation bump.
func bumpTimes(plan boost.Plan, rec *types.BoostRecord) []int64 {
	var out []int64
	last, now := rec.StartAt, rec.StartAt
	for {
		next, ok := boost.ComputeNextBump(&plan, rec.StartAt, last, rec.EndAt, rec.BumpSchedule, now)
		if !ok || next <= now {
			return out
		}
		out = append(out, next)
		last, now = next, next
	}
}

func printSchedule(w io.Writer, plan boost.Plan, rec *types.BoostRecord, bumps []int64) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "plan\t%s (%s)\n", plan.Code, plan.Title)
	fmt.Fprintf(tw, "cadence\t%s\n", plan.Cadence)
	fmt.Fprintf(tw, "price\t%d\n", plan.PriceMinor)
	fmt.Fprintf(tw, "start\t%s\n", formatMillis(rec.StartAt))
	fmt.Fprintf(tw, "end\t%s\n", formatMillis(rec.EndAt))
	fmt.Fprintf(tw, "next bump\t%s\n", formatOptional(rec.NextBumpAt))
	fmt.Fprintf(tw, "bumps\t%d\n", len(bumps))
	for i, at := range bumps {
		fmt.Fprintf(tw, "  #%d\t%s\n", i+1, formatMillis(at))
	}
	return tw.Flush()
}

func printListing(w io.Writer, l *types.Listing) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "listing\t%s\n", l.ID)
	fmt.Fprintf(tw, "owner\t%s\n", l.OwnerID)
	fmt.Fprintf(tw, "status\t%s\n", l.Status)
	fmt.Fprintf(tw, "priority\t%d\n", l.PriorityScore)
	if l.Boost == nil {
		fmt.Fprintf(tw, "boost\tnone\n")
		return tw.Flush()
	}
	b := l.Boost
	fmt.Fprintf(tw, "plan\t%s\n", b.Plan)
	fmt.Fprintf(tw, "active\t%t\n", b.Active)
	fmt.Fprintf(tw, "start\t%s\n", formatMillis(b.StartAt))
	fmt.Fprintf(tw, "end\t%s\n", formatMillis(b.EndAt))
	fmt.Fprintf(tw, "last bump\t%s\n", formatMillis(b.LastBumpedAt))
	fmt.Fprintf(tw, "next bump\t%s\n", formatOptional(b.NextBumpAt))
	fmt.Fprintf(tw, "bump count\t%d\n", b.BumpCount)
	for i, at := range b.BumpSchedule {
		fmt.Fprintf(tw, "  slot %d\t%s\n", i+1, formatMillis(at))
	}
	return tw.Flush()
}

func formatMillis(ms int64) string {
	return boost.FromMillis(ms).Format(time.RFC3339)
}

func formatOptional(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return formatMillis(*ms)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
