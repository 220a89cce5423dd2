package retention

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/releaser/internal/domain/release"
	"github.com/oshokin/releaser/internal/transport"
	"github.com/oshokin/releaser/internal/transport/transporttest"
)

// localContext is an unprivileged context rooted at /srv.
func localContext() release.Context {
	//nolint:exhaustruct // Only the layout matters here.
	return release.NewContext(release.Context{
		Project: "app",
		Class:   release.ClassLocal,
		Layout:  release.Layout{RemoteRoot: "/srv", ArchiveRoot: "/srv", Project: "app"},
	}, []string{"localhost"})
}

// createVersions makes version directories; the first name is the newest.
func createVersions(t *testing.T, host *transporttest.Host, names ...string) {
	t.Helper()

	now := time.Now()

	for i, name := range names {
		dir := host.Path("/srv/versions/" + name)
		require.NoError(t, os.MkdirAll(dir, 0o755))

		modified := now.Add(-time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(dir, modified, modified))
	}
}

// TestCandidates covers the window and the exclusions.
func TestCandidates(t *testing.T) {
	t.Parallel()

	names := []string{"e", "d", "c", "b", "a"}

	require.Equal(t, []string{"c", "b"}, Candidates(names, 3, "a"))
	require.Equal(t, []string{"c", "b", "a"}, Candidates(names, 3))
	require.Equal(t, []string{"c", "b", "a"}, Candidates(names, 3, "e"))
	require.Equal(t, []string{"b"}, Candidates(names, 3, "a", "c"))
	require.Equal(t, []string{"e", "d", "b", "a"}, Candidates(names, 0, "c"))
	require.Equal(t, []string{"e", "d", "b", "a"}, Candidates(names, 1, "c"))
	require.Equal(t, []string{"a"}, Candidates(names, 5))
	require.Empty(t, Candidates(names, 6))
	require.Empty(t, Candidates(names, 10))
	require.Empty(t, Candidates(nil, 0))
}

// TestPruneKeepsLiveVersion checks that the live version survives even when it is the oldest.
func TestPruneKeepsLiveVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	host := transporttest.New(t.TempDir())
	createVersions(t, host, "eeeeeee", "ddddddd", "ccccccc", "bbbbbbb", "aaaaaaa")

	policy := NewPolicy(host, localContext())

	names, err := policy.ListVersions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"eeeeeee", "ddddddd", "ccccccc", "bbbbbbb", "aaaaaaa"}, names)

	reported, err := policy.Prune(ctx, 3, "aaaaaaa", Report)
	require.NoError(t, err)
	require.Equal(t, []string{"ccccccc", "bbbbbbb"}, reported)
	require.DirExists(t, host.Path("/srv/versions/ccccccc"))
	require.DirExists(t, host.Path("/srv/versions/bbbbbbb"))

	removed, err := policy.Prune(ctx, 3, "aaaaaaa", Apply)
	require.NoError(t, err)
	require.Equal(t, []string{"ccccccc", "bbbbbbb"}, removed)
	require.NoDirExists(t, host.Path("/srv/versions/ccccccc"))
	require.NoDirExists(t, host.Path("/srv/versions/bbbbbbb"))

	for _, name := range []string{"eeeeeee", "ddddddd", "aaaaaaa"} {
		require.DirExists(t, host.Path("/srv/versions/"+name))
	}
}

// TestPruneKeepsProtectedVersions checks that protected versions survive outside the window.
func TestPruneKeepsProtectedVersions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	host := transporttest.New(t.TempDir())
	createVersions(t, host, "ccccccc", "bbbbbbb", "aaaaaaa")

	removed, err := NewPolicy(host, localContext()).Prune(ctx, 1, "ccccccc", Apply, "aaaaaaa", "")
	require.NoError(t, err)
	require.Equal(t, []string{"bbbbbbb"}, removed)
	require.DirExists(t, host.Path("/srv/versions/ccccccc"))
	require.DirExists(t, host.Path("/srv/versions/aaaaaaa"))
}

// TestPrunePartialFailure checks that the directories removed before a failure are reported.
func TestPrunePartialFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	host := transporttest.New(t.TempDir())
	createVersions(t, host, "ccccccc", "bbbbbbb", "aaaaaaa")
	host.FailOn("rm -rf /srv/versions/bbbbbbb", 1, "rm: cannot remove")

	removed, err := NewPolicy(host, localContext()).Prune(ctx, 0, "", Apply)
	require.ErrorIs(t, err, release.ErrTransfer)
	require.Equal(t, []string{"ccccccc"}, removed)
	require.NoDirExists(t, host.Path("/srv/versions/ccccccc"))
	require.DirExists(t, host.Path("/srv/versions/bbbbbbb"))
	require.DirExists(t, host.Path("/srv/versions/aaaaaaa"))
}

// TestPruneEdgeCases covers an empty host, a large window and a negative window.
func TestPruneEdgeCases(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	host := transporttest.New(t.TempDir())
	policy := NewPolicy(host, localContext())

	removed, err := policy.Prune(ctx, 3, "", Apply)
	require.NoError(t, err)
	require.Empty(t, removed)

	createVersions(t, host, "bbbbbbb", "aaaaaaa")

	removed, err = policy.Prune(ctx, 3, "", Apply)
	require.NoError(t, err)
	require.Empty(t, removed)

	removed, err = policy.Prune(ctx, 2, "", Report)
	require.NoError(t, err)
	require.Equal(t, []string{"aaaaaaa"}, removed)

	_, err = policy.Prune(ctx, -1, "", Apply)
	require.ErrorIs(t, err, ErrNegativeKeep)

	host.FailOn("rm -rf", 1, "rm: cannot remove")

	_, err = policy.Prune(ctx, 0, "", Apply)
	require.ErrorIs(t, err, release.ErrTransfer)
}

// TestPruneLocal lists and prunes real directories through the local transport.
func TestPruneLocal(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("ls"); err != nil {
		t.Skipf("ls is not available: %v", err)
	}

	ctx := context.Background()
	root := t.TempDir()

	//nolint:exhaustruct // Only the layout matters here.
	rc := release.NewContext(release.Context{
		Project: "app",
		Class:   release.ClassLocal,
		Layout:  release.Layout{RemoteRoot: root, ArchiveRoot: root, Project: "app"},
	}, []string{"localhost"})

	now := time.Now()

	for i, name := range []string{"eeeeeee", "ddddddd", "ccccccc", "bbbbbbb", "aaaaaaa"} {
		dir := filepath.Join(root, "versions", name)
		require.NoError(t, os.MkdirAll(dir, 0o755))

		modified := now.Add(-time.Duration(i) * time.Hour)
		require.NoError(t, os.Chtimes(dir, modified, modified))
	}

	policy := NewPolicy(transport.NewLocal(), rc)

	names, err := policy.ListVersions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"eeeeeee", "ddddddd", "ccccccc", "bbbbbbb", "aaaaaaa"}, names)

	removed, err := policy.Prune(ctx, 3, "aaaaaaa", Apply)
	require.NoError(t, err)
	require.Equal(t, []string{"ccccccc", "bbbbbbb"}, removed)

	names, err = policy.ListVersions(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"eeeeeee", "ddddddd", "aaaaaaa"}, names)
}
