package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/releaser/internal/config"
	"github.com/oshokin/releaser/internal/domain/release"
	"github.com/oshokin/releaser/internal/logger"
	"github.com/oshokin/releaser/internal/prompt"
	"github.com/oshokin/releaser/internal/service/deployer"
	"github.com/oshokin/releaser/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// environment is the name of the target environment.
	environment string
	// logLevel is the minimum level of log messages.
	logLevel string
	// assumeYes answers every question with its default.
	assumeYes bool

	// rootCmd represents the base command.
	rootCmd = &cobra.Command{
		Use:   "releaser",
		Short: "Version, package and deploy releases from a git repository.",
		Long: `Builds a zip archive of a git revision, keyed by its short commit hash, and deploys it
to every host of an environment. Each version is extracted into its own directory and
becomes live when the project link is switched to it, so a failed deploy never touches
the running release and a rollback is a relink.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}

			logger.SetLevel(level)

			return nil
		},
	}
)

// Execute runs the releaser CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.StringVarP(&environment, "env", "e", "local", "target environment")
	flags.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.BoolVarP(&assumeYes, "yes", "y", false, "answer every question with its default")
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// newPrompter creates a prompter on the command's terminal.
func newPrompter(cmd *cobra.Command) *prompt.Prompter {
	return prompt.New(cmd.InOrStdin(), cmd.OutOrStdout(), assumeYes)
}

// newDeployer loads the configuration and creates a deployer for the selected environment.
func newDeployer(cmd *cobra.Command, flags release.Flags) (*deployer.Deployer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	//nolint:exhaustruct // Transports and processes come from the configuration.
	return deployer.New(&deployer.Options{
		Config:      cfg,
		Environment: environment,
		Flags:       flags,
		Prompter:    newPrompter(cmd),
	})
}

// boolFlag registers a yes/no flag that also accepts being given without a value.
func boolFlag(cmd *cobra.Command, value *config.BoolValue, name, usage string) {
	cmd.Flags().Var(value, name, usage)
	cmd.Flags().Lookup(name).NoOptDefVal = "true"
}
