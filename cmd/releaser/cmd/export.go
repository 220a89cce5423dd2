package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/oshokin/releaser/internal/domain/release"
)

var (
	// exportBranch is the ref to package.
	exportBranch string

	// exportCmd builds the release archive.
	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Build the release archive of a branch.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			d, err := newDeployer(cmd, release.Flags{})
			if err != nil {
				return err
			}

			archive, err := d.Export(ctx, exportBranch)
			if err != nil {
				return err
			}

			state := "built"
			if archive.Cached {
				state = "cached"
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s, %s)\nsha512: %s\n",
				archive.VersionID, archive.Path, state,
				humanize.Bytes(uint64(archive.Size)), //nolint:gosec // Sizes are never negative.
				hex.EncodeToString(archive.Checksum))

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	exportCmd.Flags().StringVarP(&exportBranch, "branch", "b", "", "ref to package (default: configured branch)")
	rootCmd.AddCommand(exportCmd)
}
