package release

import (
	"path"
	"strings"
)

const (
	versionsDirName  = "versions"
	stagingDirPrefix = ".staging-"
	confDirName      = "conf"
	nextLinkSuffix   = ".next"
)

// Layout computes paths of the on-host release layout:
//
//	{RemoteRoot}/{Project}                     live link
//	{RemoteRoot}/versions/{version}{Suffix}/   version directories
//	{ArchiveRoot}/{version}.zip                uploaded archives
type Layout struct {
	RemoteRoot  string
	ArchiveRoot string
	Project     string
	Suffix      string
}

// VersionsRoot is the directory holding every version directory.
func (l Layout) VersionsRoot() string {
	return path.Join(l.RemoteRoot, versionsDirName)
}

// VersionDirName is the base name of the version directory.
func (l Layout) VersionDirName(id VersionID) string {
	return string(id) + l.Suffix
}

// VersionDir is the full path of the version directory.
func (l Layout) VersionDir(id VersionID) string {
	return path.Join(l.VersionsRoot(), l.VersionDirName(id))
}

// VersionFromDirName recovers the version from a version directory name.
func (l Layout) VersionFromDirName(name string) (VersionID, bool) {
	name = path.Base(strings.TrimRight(name, "/"))
	if name == "" || name == "." || name == "/" || !strings.HasSuffix(name, l.Suffix) {
		return "", false
	}

	id := strings.TrimSuffix(name, l.Suffix)
	if id == "" {
		return "", false
	}

	return VersionID(id), true
}

// Link is the path of the live release link.
func (l Layout) Link() string {
	return path.Join(l.RemoteRoot, l.Project)
}

// NextLink is the temporary link renamed over Link during cutover.
func (l Layout) NextLink() string {
	return l.Link() + nextLinkSuffix
}

// Archive is where the uploaded archive is kept on the host.
func (l Layout) Archive(id VersionID) string {
	return path.Join(l.ArchiveRoot, id.ArchiveName())
}

// StagingDir is where an archive is unpacked before it is moved into the versions root.
// It lives outside the versions root so listings never see half-extracted trees.
func (l Layout) StagingDir(id VersionID) string {
	return path.Join(l.RemoteRoot, stagingDirPrefix+l.VersionDirName(id))
}

// Template is the environment specific configuration template shipped in the release.
func (l Layout) Template(id VersionID, environment, name string) string {
	return path.Join(l.VersionDir(id), confDirName, environment+"."+name)
}

// TemplateTarget is where a configuration template is copied inside the release.
func (l Layout) TemplateTarget(id VersionID, name string) string {
	return path.Join(l.VersionDir(id), name)
}
