// Package differ shows what a deploy is about to change.
package differ

import (
	"context"
	"fmt"

	"github.com/oshokin/releaser/internal/domain/release"
	"github.com/oshokin/releaser/internal/logger"
)

// Source renders patches between revisions.
type Source interface {
	Diff(ctx context.Context, from, to string) (string, error)
}

// Prompter asks the operator and shows reports.
type Prompter interface {
	Confirm(question string, def bool) (bool, error)
	Show(title, body string)
}

// Reporter produces diffs between the live and the outgoing version.
type Reporter struct {
	source Source
}

// New creates a reporter over source.
func New(source Source) *Reporter {
	return &Reporter{source: source}
}

// Diff returns the unified patch that turns from into to.
func (r *Reporter) Diff(ctx context.Context, from, to string) (string, error) {
	patch, err := r.source.Diff(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("diff %s..%s: %w", from, to, err)
	}

	return patch, nil
}

// Gate offers to show the changes between the live and the outgoing version.
// It is informational: the deploy continues whatever the answer.
// It reports whether a diff was shown.
func (r *Reporter) Gate(
	ctx context.Context,
	prompter Prompter,
	outgoing, live release.VersionID,
) (bool, error) {
	ctx = logger.WithName(ctx, "differ")

	if live == "" {
		logger.Info(ctx, "Nothing is deployed yet, there is no diff to show")

		return false, nil
	}

	if live == outgoing {
		logger.InfoKV(ctx, "Outgoing version is already live", "version", live.String())

		return false, nil
	}

	view, err := prompter.Confirm("View diff?", true)
	if err != nil || !view {
		return false, err
	}

	patch, err := r.Diff(ctx, live.String(), outgoing.String())
	if err != nil {
		return false, err
	}

	if patch == "" {
		patch = "No changes.\n"
	}

	prompter.Show(fmt.Sprintf("Changes %s..%s", live, outgoing), patch)

	return true, nil
}
