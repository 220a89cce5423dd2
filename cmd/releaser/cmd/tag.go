package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/releaser/internal/config"
	"github.com/oshokin/releaser/internal/repository/git"
	"github.com/oshokin/releaser/internal/service/tagger"
)

var (
	// tagSuggestCmd prints the previous tag and the suggested next one.
	tagSuggestCmd = &cobra.Command{
		Use:   "tag-suggest",
		Short: "Print the previous release tag and the suggested next one.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			t, err := openTagger()
			if err != nil {
				return err
			}

			suggestion, err := t.Suggest(ctx)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "previous: %s\nnext: %s\n", suggestion.Previous, suggestion.Next)

			return nil
		},
	}

	// tagSetCmd tags HEAD, interactively unless a tag is given.
	tagSetCmd = &cobra.Command{
		Use:   "tag-set [tag]",
		Short: "Tag the current release, offering the suggested tag.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			t, err := openTagger()
			if err != nil {
				return err
			}

			if len(args) > 0 {
				tag, err := t.Create(ctx, args[0])
				if err != nil {
					return err
				}

				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "tagged %s\n", tag)

				return nil
			}

			tag, created, err := t.Set(ctx, newPrompter(cmd))
			if err != nil || !created {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "tagged %s\n", tag)

			return nil
		},
	}
)

// openTagger opens the configured repository.
func openTagger() (*tagger.Tagger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	repo, err := git.Open(cfg.Repository)
	if err != nil {
		return nil, err
	}

	return tagger.New(repo), nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(tagSuggestCmd, tagSetCmd)
}
