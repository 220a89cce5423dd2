// Package retention lists version directories on a host and prunes old ones.
package retention

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/oshokin/releaser/internal/domain/release"
	"github.com/oshokin/releaser/internal/logger"
	"github.com/oshokin/releaser/internal/transport"
)

// Mode selects whether Prune deletes candidates.
type Mode int

const (
	// Report only lists the directories that would be removed.
	Report Mode = iota
	// Apply removes them.
	Apply
)

// String returns the mode name.
func (m Mode) String() string {
	if m == Apply {
		return "apply"
	}

	return "report"
}

// ErrNegativeKeep is returned when a negative retention window is requested.
var ErrNegativeKeep = errors.New("number of versions to keep must not be negative")

// Policy applies retention to the versions root of one host.
type Policy struct {
	// transfer reaches the host.
	transfer transport.Transfer
	// rc is the deployment context.
	rc release.Context
}

// NewPolicy creates a policy for the host behind transfer.
func NewPolicy(transfer transport.Transfer, rc release.Context) *Policy {
	return &Policy{
		transfer: transfer,
		rc:       rc,
	}
}

// ListVersions returns version directory names, most recently modified first.
func (p *Policy) ListVersions(ctx context.Context) ([]string, error) {
	root := p.rc.Layout.VersionsRoot()

	exists, err := p.transfer.Exists(ctx, root)
	if err != nil || !exists {
		return nil, err
	}

	result, err := transport.Check(ctx, p.transfer, transport.Command("ls", "-1t", root), p.rc.Privilege)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}

	var names []string

	for _, line := range strings.Split(result.Output, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}

	return names, nil
}

// Prune selects the version directories that fall out of the window and removes them in Apply mode.
// As with `tail -n +keep`, the keep-1 most recent directories are retained; keep 0 and 1 retain none.
// The live version and every protected version are never selected.
// It returns the selected names in recency order, or in Apply mode the names removed before a failure.
func (p *Policy) Prune(
	ctx context.Context,
	keep int,
	live release.VersionID,
	mode Mode,
	protected ...release.VersionID,
) ([]string, error) {
	if keep < 0 {
		return nil, fmt.Errorf("%d: %w", keep, ErrNegativeKeep)
	}

	ctx = logger.WithKV(logger.WithName(ctx, "retention"), "mode", mode.String())

	names, err := p.ListVersions(ctx)
	if err != nil {
		return nil, err
	}

	excluded := make([]string, 0, len(protected)+1)

	for _, id := range append([]release.VersionID{live}, protected...) {
		if id != "" {
			excluded = append(excluded, p.rc.Layout.VersionDirName(id))
		}
	}

	candidates := Candidates(names, keep, excluded...)

	for i, name := range candidates {
		target := path.Join(p.rc.Layout.VersionsRoot(), name)

		if mode != Apply {
			logger.InfoKV(ctx, "Version would be removed", "path", target)

			continue
		}

		if _, err = transport.Check(ctx, p.transfer, transport.Command("rm", "-rf", target), p.rc.Privilege); err != nil {
			return candidates[:i], fmt.Errorf("remove %s: %w", target, err)
		}

		logger.InfoKV(ctx, "Version removed", "path", target)
	}

	return candidates, nil
}

// Candidates returns the names past the window that are not excluded.
// names are ordered newest first; the window holds the keep-1 newest names.
func Candidates(names []string, keep int, excluded ...string) []string {
	start := max(keep-1, 0)
	if start >= len(names) {
		return nil
	}

	var candidates []string

	for _, name := range names[start:] {
		if slices.Contains(excluded, name) {
			continue
		}

		candidates = append(candidates, name)
	}

	return candidates
}
