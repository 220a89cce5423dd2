package release

import "strings"

// ShortHashLength is the number of hex digits kept from a commit hash.
const ShortHashLength = 7

// VersionID names one release artifact and one version directory.
type VersionID string

// NewVersionID shortens a full commit hash to ShortHashLength characters.
func NewVersionID(hash string) VersionID {
	hash = strings.TrimSpace(hash)
	if len(hash) > ShortHashLength {
		hash = hash[:ShortHashLength]
	}

	return VersionID(hash)
}

// String returns the identifier.
func (v VersionID) String() string {
	return string(v)
}

// ArchiveName is the file name of the release archive for the version.
func (v VersionID) ArchiveName() string {
	return string(v) + ".zip"
}

// Archive is a packaged release for one version.
type Archive struct {
	// VersionID identifies the packaged commit.
	VersionID VersionID
	// Path is the local location of the zip file.
	Path string
	// Prefix is the top-level directory of every entry inside the zip.
	Prefix string
	// Size is the size of the zip file in bytes.
	Size int64
	// Checksum is the SHA-512 digest of the zip file.
	Checksum []byte
	// Cached is true when the archive already existed and was not rebuilt.
	Cached bool
}
