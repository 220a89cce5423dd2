// Package gittest creates throwaway git repositories for tests.
package gittest

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// Branch is the branch created by Init.
const Branch = "master"

// signature is a fixed author so commit hashes depend only on contents and times.
func signature(when time.Time) *object.Signature {
	return &object.Signature{
		Name:  "Release Bot",
		Email: "release-bot@example.com",
		When:  when,
	}
}

// Init creates an empty repository in a temporary directory and returns its path.
func Init(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()

	_, err := gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(Branch)},
		Bare:        false,
	})
	require.NoError(t, err)

	return dir
}

// Commit writes files (slash separated path -> contents) into the work tree,
// stages them and commits. It returns the full commit hash.
func Commit(t *testing.T, dir string, files map[string]string, message string) string {
	t.Helper()

	repo, err := gogit.PlainOpen(dir)
	require.NoError(t, err)

	worktree, err := repo.Worktree()
	require.NoError(t, err)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(files[name]), 0o644))

		_, err = worktree.Add(name)
		require.NoError(t, err)
	}

	hash, err := worktree.Commit(message, &gogit.CommitOptions{
		Author:    signature(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)),
		Committer: signature(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)),
	})
	require.NoError(t, err)

	return hash.String()
}

// Tag creates a lightweight tag at HEAD.
func Tag(t *testing.T, dir, name string) {
	t.Helper()

	repo, err := gogit.PlainOpen(dir)
	require.NoError(t, err)

	head, err := repo.Head()
	require.NoError(t, err)

	_, err = repo.CreateTag(name, head.Hash(), nil)
	require.NoError(t, err)
}
