// Package git reads and tags the repository being released.
//
// It wraps go-git to identify the commit behind a ref, list and create release
// tags, walk the tree of a commit for packaging and render patches between
// two revisions. Failures to read the repository wrap release.ErrRepoState.
package git
