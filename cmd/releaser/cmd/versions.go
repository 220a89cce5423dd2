package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/releaser/internal/config"
	"github.com/oshokin/releaser/internal/domain/release"
	"github.com/oshokin/releaser/internal/service/retention"
)

var (
	// cleanDelete removes the listed versions.
	cleanDelete config.BoolValue
	// cleanExceptLatest is the retention window.
	cleanExceptLatest int

	// cleanVersionsCmd lists or removes old version directories.
	cleanVersionsCmd = &cobra.Command{
		Use:   "clean-versions",
		Short: "List, or with --delete remove, old version directories.",
		Long: `Lists old version directories on every host. As with tail -n +N, the newest
--except-latest minus one directories are kept. The live version is never listed.
With --delete the listed directories are removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			d, err := newDeployer(cmd, release.Flags{})
			if err != nil {
				return err
			}

			mode := retention.Report
			if cleanDelete {
				mode = retention.Apply
			}

			results, err := d.CleanVersions(ctx, cleanExceptLatest, mode)

			verb := "would remove"
			if mode == retention.Apply {
				verb = "removed"
			}

			for _, result := range results {
				for _, name := range result.Versions {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s\n", result.Host, verb, name)
				}
			}

			return err
		},
	}

	// currentCmd prints the live version of every host.
	currentCmd = &cobra.Command{
		Use:   "current",
		Short: "Print the live version of every host.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			d, err := newDeployer(cmd, release.Flags{})
			if err != nil {
				return err
			}

			currents, err := d.Current(ctx)

			for _, current := range currents {
				versionID := current.VersionID.String()
				if versionID == "" {
					versionID = "-"
				}

				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", current.Host, versionID)
			}

			return err
		},
	}

	// relinkCmd switches every host to an already deployed version.
	relinkCmd = &cobra.Command{
		Use:   "relink <version>",
		Short: "Point the live link at an already deployed version, e.g. to roll back.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			d, err := newDeployer(cmd, release.Flags{})
			if err != nil {
				return err
			}

			versionID := release.NewVersionID(args[0])
			if err = d.Relink(ctx, versionID); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is live\n", versionID)

			return nil
		},
	}

	// diffBranch is the outgoing ref compared by diffCmd.
	diffBranch string

	// diffCmd prints the changes between the live version and a branch.
	diffCmd = &cobra.Command{
		Use:   "diff",
		Short: "Show the changes between the live version and the branch to deploy.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			d, err := newDeployer(cmd, release.Flags{})
			if err != nil {
				return err
			}

			live, outgoing, patch, err := d.Diff(ctx, diffBranch)
			if err != nil {
				return err
			}

			if live == "" {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "nothing is live, %s would be the first release\n", outgoing)

				return nil
			}

			newPrompter(cmd).Show(fmt.Sprintf("Changes %s..%s", live, outgoing), patch)

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	boolFlag(cleanVersionsCmd, &cleanDelete, "delete", "remove the listed versions")
	cleanVersionsCmd.Flags().IntVar(&cleanExceptLatest, "except-latest", config.DefaultKeepVersions,
		"retention window, the newest N-1 versions are kept")
	diffCmd.Flags().StringVarP(&diffBranch, "branch", "b", "", "ref to compare (default: configured branch)")
	rootCmd.AddCommand(cleanVersionsCmd, currentCmd, relinkCmd, diffCmd)
}
