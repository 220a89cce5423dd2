package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oshokin/releaser/internal/config"
)

// errConfigExists is returned when init would overwrite a configuration file.
var errConfigExists = errors.New("configuration file already exists")

var (
	// initForce overwrites an existing configuration file.
	initForce bool

	// initCmd writes a starting configuration.
	initCmd = &cobra.Command{
		Use:   "init [project]",
		Short: "Write a starting configuration file.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var project string

			if len(args) > 0 {
				project = args[0]
			} else {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}

				project = filepath.Base(wd)
			}

			if _, err := os.Stat(configPath); err == nil && !initForce {
				return fmt.Errorf("%s: %w", configPath, errConfigExists)
			}

			if err := config.Save(configPath, config.Sample(project)); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", configPath)

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing configuration file")
	rootCmd.AddCommand(initCmd)
}
