package packager

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/releaser/internal/domain/release"
	"github.com/oshokin/releaser/internal/repository/git"
	"github.com/oshokin/releaser/internal/repository/git/gittest"
)

// countingSource counts how many times the tree was walked.
type countingSource struct {
	*git.Repository

	walks atomic.Int32
}

func (s *countingSource) WalkTree(
	ctx context.Context,
	ref, dir string,
	fn func(entry git.Entry, contents io.Reader) error,
) error {
	s.walks.Add(1)

	return s.Repository.WalkTree(ctx, ref, dir, fn)
}

// newSource creates a repository with a small Django-like tree.
func newSource(t *testing.T) (*countingSource, release.VersionID) {
	t.Helper()

	dir := gittest.Init(t)
	hash := gittest.Commit(t, dir, map[string]string{
		"manage.py":                "print('manage')\n",
		"conf/prod.local_settings": "DEBUG = False\n",
		"app/views.py":             "def index(): pass\n",
		"docs/readme.md":           "# docs\n",
	}, "initial")

	repo, err := git.Open(dir)
	require.NoError(t, err)

	return &countingSource{Repository: repo}, release.NewVersionID(hash)
}

// archiveEntries lists the names inside a zip file.
func archiveEntries(t *testing.T, path string) []string {
	t.Helper()

	reader, err := zip.OpenReader(path)
	require.NoError(t, err)

	defer func() {
		_ = reader.Close()
	}()

	names := make([]string, 0, len(reader.File))
	for _, file := range reader.File {
		names = append(names, file.Name)
	}

	sort.Strings(names)

	return names
}

// TestBuildIsIdempotent checks that a version is packaged once and reused afterwards.
func TestBuildIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	source, id := newSource(t)
	builder := NewBuilder(source, t.TempDir(), "")

	_, found, err := builder.Lookup(id)
	require.NoError(t, err)
	require.False(t, found)

	first, err := builder.Build(ctx, id, gittest.Branch, "app-"+id.String())
	require.NoError(t, err)
	require.False(t, first.Cached)
	require.Equal(t, builder.ArchivePath(id), first.Path)
	require.Equal(t, "app-"+id.String(), first.Prefix)
	require.Len(t, first.Checksum, 64)
	require.Positive(t, first.Size)

	firstContents, err := os.ReadFile(first.Path)
	require.NoError(t, err)

	second, err := builder.Build(ctx, id, gittest.Branch, "app-"+id.String())
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, first.Path, second.Path)
	require.Equal(t, first.Checksum, second.Checksum)
	require.Equal(t, int32(1), source.walks.Load())

	secondContents, err := os.ReadFile(second.Path)
	require.NoError(t, err)
	require.Equal(t, firstContents, secondContents)

	require.Equal(t, []string{
		"app-" + id.String() + "/app/views.py",
		"app-" + id.String() + "/conf/prod.local_settings",
		"app-" + id.String() + "/docs/readme.md",
		"app-" + id.String() + "/manage.py",
	}, archiveEntries(t, first.Path))
}

// TestBuildRebuildsDamagedArchive checks that an archive whose checksum no longer matches is rebuilt.
func TestBuildRebuildsDamagedArchive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	source, id := newSource(t)
	builder := NewBuilder(source, t.TempDir(), "")

	built, err := builder.Build(ctx, id, gittest.Branch, id.String())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(built.Path, []byte("truncated"), 0o600))

	_, found, err := builder.Lookup(id)
	require.NoError(t, err)
	require.False(t, found)

	rebuilt, err := builder.Build(ctx, id, gittest.Branch, id.String())
	require.NoError(t, err)
	require.False(t, rebuilt.Cached)
	require.Equal(t, built.Checksum, rebuilt.Checksum)
	require.Equal(t, int32(2), source.walks.Load())
}

// TestBuildWithoutManifest checks that an unreadable stray archive does not count as built.
func TestBuildWithoutManifest(t *testing.T) {
	t.Parallel()

	staging := t.TempDir()
	source, id := newSource(t)
	builder := NewBuilder(source, staging, "")

	require.NoError(t, os.WriteFile(filepath.Join(staging, id.ArchiveName()), []byte("partial"), 0o600))

	_, found, err := builder.Lookup(id)
	require.NoError(t, err)
	require.False(t, found)
}

// TestBuildKeepsExistingArchive checks that an archive already in place is returned unchanged,
// even without a manifest or when another prefix is requested.
func TestBuildKeepsExistingArchive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	staging := t.TempDir()
	source, id := newSource(t)
	builder := NewBuilder(source, staging, "")

	built, err := builder.Build(ctx, id, gittest.Branch, id.String())
	require.NoError(t, err)

	contents, err := os.ReadFile(built.Path)
	require.NoError(t, err)

	manifestPath := filepath.Join(staging, id.String()+".yaml")
	require.NoError(t, os.Remove(manifestPath))

	found, ok, err := builder.Lookup(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, found.Cached)
	require.Equal(t, id.String(), found.Prefix)
	require.Equal(t, built.Checksum, found.Checksum)
	require.FileExists(t, manifestPath)

	again, err := builder.Build(ctx, id, gittest.Branch, "elsewhere")
	require.NoError(t, err)
	require.True(t, again.Cached)
	require.Equal(t, id.String(), again.Prefix)
	require.Equal(t, int32(1), source.walks.Load())

	unchanged, err := os.ReadFile(built.Path)
	require.NoError(t, err)
	require.Equal(t, contents, unchanged)
}

// TestBuildSourcePath checks that packaging can be restricted to a subdirectory.
func TestBuildSourcePath(t *testing.T) {
	t.Parallel()

	source, id := newSource(t)
	builder := NewBuilder(source, t.TempDir(), "app")

	archive, err := builder.Build(context.Background(), id, gittest.Branch, id.String())
	require.NoError(t, err)
	require.Equal(t, []string{id.String() + "/views.py"}, archiveEntries(t, archive.Path))
}

// TestBuildUnknownRef checks that a missing revision fails without leaving files behind.
func TestBuildUnknownRef(t *testing.T) {
	t.Parallel()

	staging := t.TempDir()
	source, _ := newSource(t)
	builder := NewBuilder(source, staging, "")

	_, err := builder.Build(context.Background(), "deadbee", "no-such-branch", "deadbee")
	require.ErrorIs(t, err, release.ErrRepoState)

	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	require.Empty(t, entries)
}
