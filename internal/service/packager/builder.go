package packager

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"

	"github.com/oshokin/releaser/internal/domain/release"
	"github.com/oshokin/releaser/internal/logger"
	"github.com/oshokin/releaser/internal/repository/git"
)

const (
	// archiveFileMode is the mode of built archives.
	archiveFileMode os.FileMode = 0o644
	// stagingDirMode is used when the staging directory has to be created.
	stagingDirMode os.FileMode = 0o755
	// manifestExtension is appended to the version identifier to name the manifest.
	manifestExtension = ".yaml"
)

// Source walks the files of a revision.
type Source interface {
	WalkTree(ctx context.Context, ref, dir string, fn func(entry git.Entry, contents io.Reader) error) error
}

// Builder produces one archive per version identifier in a local staging directory.
type Builder struct {
	// source provides the tree to package.
	source Source
	// stagingDir holds archives and their manifests.
	stagingDir string
	// sourcePath restricts packaging to a repository subdirectory.
	sourcePath string
}

// NewBuilder creates a builder that writes into stagingDir.
// An empty sourcePath packages the whole repository.
func NewBuilder(source Source, stagingDir, sourcePath string) *Builder {
	return &Builder{
		source:     source,
		stagingDir: stagingDir,
		sourcePath: sourcePath,
	}
}

// ArchivePath is the local location of the archive for versionID.
func (b *Builder) ArchivePath(versionID release.VersionID) string {
	return filepath.Join(b.stagingDir, versionID.ArchiveName())
}

// manifestPath is the local location of the manifest for versionID.
func (b *Builder) manifestPath(versionID release.VersionID) string {
	return filepath.Join(b.stagingDir, versionID.String()+manifestExtension)
}

// Lookup returns the archive already built for versionID.
// An archive with a matching manifest is returned as recorded. A readable archive without one,
// or whose manifest no longer matches, is adopted as is and its manifest rewritten.
// Only a missing or unreadable archive is reported as not found.
func (b *Builder) Lookup(versionID release.VersionID) (release.Archive, bool, error) {
	archivePath := b.ArchivePath(versionID)

	info, err := os.Stat(archivePath)
	if errors.Is(err, os.ErrNotExist) {
		return release.Archive{}, false, nil
	}

	if err != nil {
		return release.Archive{}, false, fmt.Errorf("stat %s: %w", archivePath, err)
	}

	checksum, err := FileChecksum(archivePath)
	if err != nil {
		return release.Archive{}, false, err
	}

	archive := release.Archive{
		VersionID: versionID,
		Path:      archivePath,
		Size:      info.Size(),
		Checksum:  checksum,
		Cached:    true,
	}

	manifest, err := readManifest(b.manifestPath(versionID))
	if err == nil {
		if expected, decodeErr := manifest.checksumBytes(); decodeErr == nil && bytes.Equal(expected, checksum) {
			archive.Prefix = manifest.Prefix

			return archive, true, nil
		}
	}

	prefix, files, err := inspectArchive(archivePath)
	if err != nil {
		return release.Archive{}, false, nil //nolint:nilerr // An unreadable archive means a rebuild.
	}

	archive.Prefix = prefix

	if err = writeManifest(b.manifestPath(versionID), &Manifest{
		VersionID:  versionID.String(),
		Prefix:     prefix,
		SourcePath: b.sourcePath,
		Files:      files,
		Size:       archive.Size,
		Checksum:   base64.StdEncoding.EncodeToString(checksum),
		BuiltAt:    info.ModTime().UTC(),
	}); err != nil {
		return release.Archive{}, false, fmt.Errorf("save manifest: %w", err)
	}

	return archive, true, nil
}

// inspectArchive returns the top-level directory shared by every entry, empty when there is none,
// and the number of entries.
func inspectArchive(archivePath string) (string, int, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", 0, err
	}

	defer func() {
		_ = reader.Close()
	}()

	var prefix string

	for i, file := range reader.File {
		top, _, nested := strings.Cut(file.Name, "/")
		if !nested {
			return "", len(reader.File), nil
		}

		if i > 0 && top != prefix {
			return "", len(reader.File), nil
		}

		prefix = top
	}

	return prefix, len(reader.File), nil
}

// Build packages ref as the archive for versionID with every entry below pathPrefix.
// An archive already present for versionID is returned unchanged, whatever its prefix.
func (b *Builder) Build(
	ctx context.Context,
	versionID release.VersionID,
	ref, pathPrefix string,
) (release.Archive, error) {
	ctx = logger.WithKV(logger.WithName(ctx, "packager"), "version", versionID.String())

	pathPrefix = strings.Trim(path.Clean("/"+pathPrefix), "/")

	archive, found, err := b.Lookup(versionID)
	if err != nil {
		return release.Archive{}, err
	}

	if found {
		if archive.Prefix != pathPrefix {
			logger.WarnKV(ctx, "Archive was built with another prefix, using it as is",
				"path", archive.Path,
				"prefix", archive.Prefix,
				"requested_prefix", pathPrefix)
		}

		logger.InfoKV(ctx, "Archive is already built", "path", archive.Path)

		return archive, nil
	}

	logger.InfoKV(ctx, "Building archive", "ref", ref, "source_path", b.sourcePath)

	if err = os.MkdirAll(b.stagingDir, stagingDirMode); err != nil {
		return release.Archive{}, fmt.Errorf("create staging directory: %w", err)
	}

	tmp, files, err := b.write(ctx, versionID, ref, pathPrefix)
	if err != nil {
		return release.Archive{}, err
	}

	defer func() {
		_ = os.Remove(tmp)
	}()

	archive, err = b.commit(versionID, ref, pathPrefix, tmp, files)
	if err != nil {
		return release.Archive{}, err
	}

	logger.InfoKV(ctx, "Archive built",
		"path", archive.Path,
		"files", files,
		"size", humanize.Bytes(uint64(archive.Size))) //nolint:gosec // Sizes are never negative.

	return archive, nil
}

// write packages the tree into a temporary file and returns its path and entry count.
func (b *Builder) write(
	ctx context.Context,
	versionID release.VersionID,
	ref, pathPrefix string,
) (string, int, error) {
	file, err := os.CreateTemp(b.stagingDir, "."+versionID.String()+"-*.zip")
	if err != nil {
		return "", 0, fmt.Errorf("create temporary archive: %w", err)
	}

	tmp := file.Name()

	files, err := b.pack(ctx, file, ref, pathPrefix)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close temporary archive: %w", closeErr)
	}

	if err != nil {
		_ = os.Remove(tmp)

		return "", 0, err
	}

	return tmp, files, nil
}

// pack streams the tree at ref into a zip writer.
func (b *Builder) pack(ctx context.Context, file *os.File, ref, pathPrefix string) (int, error) {
	writer := zip.NewWriter(file)
	files := 0

	err := b.source.WalkTree(ctx, ref, b.sourcePath, func(entry git.Entry, contents io.Reader) error {
		header := &zip.FileHeader{
			Name:     path.Join(pathPrefix, entry.Path),
			Method:   zip.Deflate,
			Modified: entry.Modified.UTC(),
		}
		header.SetMode(entry.Mode)

		if entry.Mode&os.ModeSymlink != 0 {
			header.Method = zip.Store
		}

		w, err := writer.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("add %s: %w", entry.Path, err)
		}

		if _, err = io.Copy(w, contents); err != nil {
			return fmt.Errorf("write %s: %w", entry.Path, err)
		}

		files++

		logger.DebugKV(ctx, "Packed file", "path", entry.Path, "size", entry.Size)

		return nil
	})
	if err != nil {
		_ = writer.Close()

		return 0, err
	}

	if err = writer.Close(); err != nil {
		return 0, fmt.Errorf("finish archive: %w", err)
	}

	if err = file.Sync(); err != nil {
		return 0, fmt.Errorf("sync archive: %w", err)
	}

	return files, nil
}

// commit records the manifest and moves the temporary archive into place.
func (b *Builder) commit(
	versionID release.VersionID,
	ref, pathPrefix, tmp string,
	files int,
) (release.Archive, error) {
	checksum, err := FileChecksum(tmp)
	if err != nil {
		return release.Archive{}, err
	}

	info, err := os.Stat(tmp)
	if err != nil {
		return release.Archive{}, err
	}

	if err = os.Chmod(tmp, archiveFileMode); err != nil {
		return release.Archive{}, err
	}

	manifest := &Manifest{
		VersionID:  versionID.String(),
		Ref:        ref,
		Prefix:     pathPrefix,
		SourcePath: b.sourcePath,
		Files:      files,
		Size:       info.Size(),
		Checksum:   base64.StdEncoding.EncodeToString(checksum),
		BuiltAt:    time.Now().UTC(),
	}

	if err = writeManifest(b.manifestPath(versionID), manifest); err != nil {
		return release.Archive{}, fmt.Errorf("save manifest: %w", err)
	}

	archivePath := b.ArchivePath(versionID)
	if err = os.Rename(tmp, archivePath); err != nil {
		return release.Archive{}, fmt.Errorf("move archive into place: %w", err)
	}

	return release.Archive{
		VersionID: versionID,
		Path:      archivePath,
		Prefix:    pathPrefix,
		Size:      info.Size(),
		Checksum:  checksum,
		Cached:    false,
	}, nil
}
