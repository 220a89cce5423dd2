package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/releaser/internal/config"
	"github.com/oshokin/releaser/internal/domain/release"
	"github.com/oshokin/releaser/internal/service/deployer"
)

var (
	// deployPreDeploy stages the release without linking it.
	deployPreDeploy config.BoolValue
	// deployFull runs every hook.
	deployFull config.BoolValue
	// deployDB runs the database hook.
	deployDB config.BoolValue
	// deploySearch runs the search hook.
	deploySearch config.BoolValue
	// deployDiff offers the diff against the live version.
	deployDiff = config.BoolValue(true)
	// deployTag offers to tag the release.
	deployTag = config.BoolValue(true)

	// deployCmd deploys the configured branch.
	deployCmd = &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the configured branch to every host of the environment.",
		Long: `Deploys the configured branch: optionally shows the diff against the live version and
tags the release, builds the archive once, then for each host in order uploads and
extracts it, installs configuration, runs the selected hooks, switches the live link,
restarts the application and removes old versions. The first failing host stops the deploy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			flags := release.Flags{
				PreDeploy: bool(deployPreDeploy),
				Full:      bool(deployFull),
				DB:        bool(deployDB),
				Search:    bool(deploySearch),
			}

			d, err := newDeployer(cmd, flags)
			if err != nil {
				return err
			}

			report, err := d.Deploy(ctx, deployer.DeployOptions{
				Diff: bool(deployDiff),
				Tag:  bool(deployTag),
			})

			out := cmd.OutOrStdout()

			for _, host := range report.Hosts {
				state := "staged"
				if host.Linked {
					state = "live"
				}

				_, _ = fmt.Fprintf(out, "%s: %s %s\n", host.Host, report.Archive.VersionID, state)

				for _, pruned := range host.Pruned {
					_, _ = fmt.Fprintf(out, "%s: removed %s\n", host.Host, pruned)
				}
			}

			return err
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	boolFlag(deployCmd, &deployPreDeploy, "predeploy", "stage the release without configuring or linking it")
	boolFlag(deployCmd, &deployFull, "full", "run every configured hook")
	boolFlag(deployCmd, &deployDB, "db", "run the database hook")
	boolFlag(deployCmd, &deploySearch, "search", "run the search index hook")
	boolFlag(deployCmd, &deployDiff, "diff", "offer the diff against the live version")
	boolFlag(deployCmd, &deployTag, "tag", "offer to tag the release")
	rootCmd.AddCommand(deployCmd)
}
