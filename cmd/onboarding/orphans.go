package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/minipay/onboarding/internal/provisioning"
)

func orphansCmd(flags *rootFlags) *cobra.Command {
	var (
		limit  int
		minAge time.Duration
		remove bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List identities without a profile, optionally deleting them",
		Long: `List identities that have no staff or user profile.

Orphans are left behind when a provisioning failure could not be fully
compensated. With --delete each listed orphan is removed after a recheck.

Examples:
  onboarding orphans --min-age 1h
  onboarding orphans --limit 50 --delete`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer app.Close()

			orphans, err := app.Orchestrator.ListOrphans(cmd.Context(), provisioning.OrphanQuery{
				Limit:  limit,
				MinAge: minAge,
			})
			if err != nil {
				return describeError(err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, orphans)
			}
			if len(orphans) == 0 {
				fmt.Fprintln(out, "no orphaned identities")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEMAIL\tCREATED")
			for _, o := range orphans {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", o.ID, o.Email, o.CreatedAt.UTC().Format(time.RFC3339))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if !remove {
				return nil
			}
			deleted := 0
			for _, o := range orphans {
				if err := app.Orchestrator.DeleteOrphan(cmd.Context(), o.ID); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: %v\n", o.ID, err)
					continue
				}
				deleted++
			}
			fmt.Fprintf(out, "deleted %d of %d\n", deleted, len(orphans))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum orphans to list")
	cmd.Flags().DurationVar(&minAge, "min-age", provisioning.DefaultOrphanMinAge, "only identities older than this")
	cmd.Flags().BoolVar(&remove, "delete", false, "delete listed orphans")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")

	return cmd
}
