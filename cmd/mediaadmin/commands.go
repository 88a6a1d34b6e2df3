package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tendant/mediaref/internal/app"
	"github.com/tendant/mediaref/pkg/mediaref/backfill"
	"github.com/tendant/mediaref/pkg/mediaref/migrate"
	"github.com/tendant/mediaref/pkg/mediaref/orphan"
)

func newMigrateCmd(env *cmdEnv) *cobra.Command {
	var (
		execute    bool
		limit      int
		skipDelete bool
		user       string
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move legacy delivery media into the object store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := migrate.Options{Execute: execute, Limit: limit, SkipDelete: skipDelete}
			if user != "" {
				id, err := uuid.Parse(user)
				if err != nil {
					return fmt.Errorf("invalid --user: %w", err)
				}
				opts.OwnerID = &id
			}

			return env.run(cmd, func(ctx context.Context, a *app.App) (any, [][2]string, []string, error) {
				s, err := a.Migrator().Run(ctx, opts)
				if err != nil {
					return nil, nil, nil, err
				}
				rows := [][2]string{
					{"Mode", mode(s.DryRun)},
					{"Eligible artifacts", strconv.Itoa(s.Eligible)},
					{"Legacy URLs", strconv.Itoa(s.LegacyURLs)},
				}
				lines := s.Preview
				if !s.DryRun {
					rows = append(rows,
						[2]string{"Succeeded", strconv.Itoa(s.Succeeded)},
						[2]string{"Partially failed", strconv.Itoa(s.PartiallyFailed)},
						[2]string{"Failed", strconv.Itoa(s.Failed)},
						[2]string{"Migrated URLs", strconv.Itoa(s.MigratedURLs)},
						[2]string{"Legacy copies kept", strconv.FormatBool(skipDelete)},
					)
					lines = nil
					for _, r := range s.Results {
						for _, e := range r.Errors {
							lines = append(lines, fmt.Sprintf("artifact %s: %s", r.ArtifactID, e.Error()))
						}
					}
				}
				return s, rows, lines, nil
			})
		},
	}
	cmd.Flags().BoolVar(&execute, "migrate", false, "perform the migration")
	cmd.Flags().IntVar(&limit, "limit", 0, "migrate at most N artifacts")
	cmd.Flags().BoolVar(&skipDelete, "skip-delete", true, "keep legacy copies after a successful move")
	cmd.Flags().StringVar(&user, "user", "", "only migrate artifacts of this owner")
	return cmd
}

func newOrphansCmd(env *cmdEnv) *cobra.Command {
	var (
		execute bool
		limit   int
		modeArg string
		delay   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "Find and remove references to media that no longer exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := orphan.ParseMode(modeArg)
			if err != nil {
				return err
			}
			opts := orphan.ScanOptions{Mode: m, Delete: execute, Limit: limit, ConfirmDelay: delay}
			if execute {
				opts.OnProgress = func(stage string, checked int) {
					if checked%100 == 0 {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d checked\n", stage, checked)
					}
				}
			}

			return env.run(cmd, func(ctx context.Context, a *app.App) (any, [][2]string, []string, error) {
				if execute && delay > 0 {
					fmt.Fprintf(cmd.ErrOrStderr(), "deleting in %s, interrupt to abort\n", delay)
				}
				r, err := a.OrphanScanner().Scan(ctx, opts)
				if err != nil {
					return nil, nil, nil, err
				}
				rows := [][2]string{
					{"Mode", mode(r.DryRun) + " (" + string(r.Mode) + ")"},
					{"Media scanned", strconv.Itoa(r.MediaScanned)},
					{"Broken media", strconv.Itoa(r.BrokenMedia)},
					{"Dangling links", strconv.Itoa(r.DanglingLinks)},
					{"Links to broken media", strconv.Itoa(r.LinksToBroken)},
					{"Artifacts scanned", strconv.Itoa(r.ArtifactsScanned)},
					{"Artifacts affected", strconv.Itoa(r.ArtifactsAffected)},
					{"Dead URLs", strconv.Itoa(r.DeadURLs)},
					{"Probes", strconv.Itoa(r.Probes)},
					{"Probe errors", strconv.Itoa(len(r.ProbeErrors))},
				}
				if !r.DryRun {
					rows = append(rows,
						[2]string{"Deleted links", strconv.Itoa(r.DeletedLinks)},
						[2]string{"Deleted media", strconv.Itoa(r.DeletedMedia)},
						[2]string{"Rewritten artifacts", strconv.Itoa(r.RewrittenArtifacts)},
						[2]string{"Failed artifacts", strconv.Itoa(len(r.FailedArtifacts))},
					)
				}
				return r, rows, r.Preview, nil
			})
		},
	}
	cmd.Flags().BoolVar(&execute, "delete", false, "delete orphaned links and records and drop dead URLs")
	cmd.Flags().IntVar(&limit, "limit", 0, "check at most N items per stage")
	cmd.Flags().StringVar(&modeArg, "mode", string(orphan.ModeAll), "what to scan: media, artifacts or all")
	cmd.Flags().DurationVar(&delay, "confirm-delay", orphan.DefaultConfirmDelay, "pause before deleting")
	return cmd
}

func newBackfillCmd(env *cmdEnv) *cobra.Command {
	var (
		execute bool
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Store derivative URLs for legacy media that lack them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return env.run(cmd, func(ctx context.Context, a *app.App) (any, [][2]string, []string, error) {
				s, err := a.Backfiller().Run(ctx, backfill.Options{Execute: execute, Limit: limit})
				if err != nil {
					return nil, nil, nil, err
				}
				rows := [][2]string{
					{"Mode", mode(s.DryRun)},
					{"Eligible artifacts", strconv.Itoa(s.Eligible)},
					{"URLs without derivatives", strconv.Itoa(s.Missing)},
				}
				lines := s.Preview
				if !s.DryRun {
					rows = append(rows,
						[2]string{"Updated artifacts", strconv.Itoa(s.Updated)},
						[2]string{"Stored triples", strconv.Itoa(s.Stored)},
						[2]string{"Skipped URLs", strconv.Itoa(s.Skipped)},
						[2]string{"Failed artifacts", strconv.Itoa(len(s.FailedIDs))},
					)
					lines = nil
					for _, e := range s.Errors {
						lines = append(lines, e.Error())
					}
				}
				return s, rows, lines, nil
			})
		},
	}
	cmd.Flags().BoolVar(&execute, "backfill", false, "store the computed derivatives")
	cmd.Flags().IntVar(&limit, "limit", 0, "backfill at most N artifacts")
	return cmd
}

func newReorganizeCmd(env *cmdEnv) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "reorganize <artifact-id>",
		Short: "Move one artifact's temporary media to permanent storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			artifactID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid artifact id: %w", err)
			}
			callerID, err := uuid.Parse(user)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}

			return env.run(cmd, func(ctx context.Context, a *app.App) (any, [][2]string, []string, error) {
				r, err := a.Reorganizer().Reorganize(ctx, artifactID, callerID)
				if err != nil {
					return nil, nil, nil, err
				}
				rows := [][2]string{
					{"Artifact", artifactID.String()},
					{"Moved", strconv.Itoa(r.MovedCount)},
					{"Errors", strconv.Itoa(len(r.Errors))},
				}
				var lines []string
				for _, e := range r.Errors {
					lines = append(lines, e.Error())
				}
				return r, rows, lines, nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "owner of the artifact (required)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func mode(dryRun bool) string {
	if dryRun {
		return "dry run"
	}
	return "execute"
}
