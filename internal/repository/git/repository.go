package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/oshokin/releaser/internal/domain/release"
)

// headRef names the checked out commit.
const headRef = "HEAD"

// Entry is one file of a commit tree handed to WalkTree callbacks.
type Entry struct {
	// Path is slash separated and relative to the walked directory.
	Path string
	// Mode carries permission and symlink bits.
	Mode os.FileMode
	// Size is the blob size in bytes.
	Size int64
	// Modified is the committer time of the walked commit.
	Modified time.Time
}

// Repository is a git repository opened from disk.
type Repository struct {
	// repo is the underlying go-git handle.
	repo *gogit.Repository
}

// Open opens the repository containing path, searching parent directories for .git.
func Open(path string) (*Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository %s: %w: %w", path, release.ErrRepoState, err)
	}

	return &Repository{repo: repo}, nil
}

// Identify returns the version of the commit behind ref. An empty ref means HEAD.
func (r *Repository) Identify(_ context.Context, ref string) (release.VersionID, error) {
	hash, err := r.resolve(ref)
	if err != nil {
		return "", err
	}

	return release.NewVersionID(hash.String()), nil
}

// ListTags returns tag names in the order the repository stores them.
func (r *Repository) ListTags(_ context.Context) ([]string, error) {
	iter, err := r.repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w: %w", release.ErrRepoState, err)
	}

	defer iter.Close()

	var names []string

	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate tags: %w: %w", release.ErrRepoState, err)
	}

	return names, nil
}

// CreateTag creates a lightweight tag pointing at HEAD.
func (r *Repository) CreateTag(_ context.Context, name string) error {
	head, err := r.resolve(headRef)
	if err != nil {
		return err
	}

	if _, err = r.repo.CreateTag(name, head, nil); err != nil {
		return fmt.Errorf("create tag %s: %w", name, err)
	}

	return nil
}

// WalkTree calls fn for every file of the commit behind ref, restricted to dir when it is set.
// The reader handed to fn is only valid during the call.
func (r *Repository) WalkTree(
	ctx context.Context,
	ref, dir string,
	fn func(entry Entry, contents io.Reader) error,
) error {
	commit, err := r.commit(ref)
	if err != nil {
		return err
	}

	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("read tree of %s: %w: %w", ref, release.ErrRepoState, err)
	}

	dir = strings.Trim(path.Clean("/"+dir), "/")
	if dir != "" {
		if tree, err = tree.Tree(dir); err != nil {
			return fmt.Errorf("read %s at %s: %w: %w", dir, ref, release.ErrRepoState, err)
		}
	}

	modified := commit.Committer.When

	return tree.Files().ForEach(func(file *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		mode, err := fileMode(file.Mode)
		if err != nil {
			return fmt.Errorf("%s: %w", file.Name, err)
		}

		reader, err := file.Reader()
		if err != nil {
			return fmt.Errorf("open %s: %w", file.Name, err)
		}

		defer func() {
			_ = reader.Close()
		}()

		entry := Entry{
			Path:     file.Name,
			Mode:     mode,
			Size:     file.Size,
			Modified: modified,
		}

		return fn(entry, reader)
	})
}

// Diff renders a unified patch from one revision to another.
func (r *Repository) Diff(ctx context.Context, from, to string) (string, error) {
	fromCommit, err := r.commit(from)
	if err != nil {
		return "", err
	}

	toCommit, err := r.commit(to)
	if err != nil {
		return "", err
	}

	patch, err := fromCommit.PatchContext(ctx, toCommit)
	if err != nil {
		return "", fmt.Errorf("diff %s..%s: %w", from, to, err)
	}

	return patch.String(), nil
}

// commit resolves ref to a commit object.
func (r *Repository) commit(ref string) (*object.Commit, error) {
	hash, err := r.resolve(ref)
	if err != nil {
		return nil, err
	}

	commit, err := r.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w: %w", ref, release.ErrRepoState, err)
	}

	return commit, nil
}

// resolve turns a branch, tag, short or full hash into a commit hash.
func (r *Repository) resolve(ref string) (plumbing.Hash, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == headRef {
		head, err := r.repo.Head()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("resolve HEAD: %w: %w", release.ErrRepoState, err)
		}

		return head.Hash(), nil
	}

	hash, err := r.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve %s: %w: %w", ref, release.ErrRepoState, err)
	}

	return *hash, nil
}

// errUnsupportedMode is returned for tree entries that cannot be archived.
var errUnsupportedMode = errors.New("unsupported file mode")

// fileMode converts a git file mode into an os.FileMode suitable for archives.
func fileMode(mode filemode.FileMode) (os.FileMode, error) {
	switch mode {
	case filemode.Regular, filemode.Deprecated:
		return 0o644, nil
	case filemode.Executable:
		return 0o755, nil
	case filemode.Symlink:
		return os.ModeSymlink | 0o777, nil
	default:
		return 0, fmt.Errorf("%s: %w", mode, errUnsupportedMode)
	}
}
