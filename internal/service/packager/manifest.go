package packager

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// manifestFileMode is the mode of manifest files.
const manifestFileMode os.FileMode = 0o644

// Manifest describes a built archive. It is stored next to the archive as {versionID}.yaml.
type Manifest struct {
	// VersionID is the packaged version.
	VersionID string `yaml:"version_id"`
	// Ref is the revision the archive was built from.
	Ref string `yaml:"ref"`
	// Prefix is the top-level directory of every entry.
	Prefix string `yaml:"prefix"`
	// SourcePath is the repository subdirectory that was packaged, if any.
	SourcePath string `yaml:"source_path,omitempty"`
	// Files is the number of entries in the archive.
	Files int `yaml:"files"`
	// Size is the archive size in bytes.
	Size int64 `yaml:"size"`
	// Checksum is the base64 encoded SHA-512 digest of the archive.
	Checksum string `yaml:"checksum"`
	// BuiltAt is when the archive was written.
	BuiltAt time.Time `yaml:"built_at"`
}

// checksumBytes decodes the stored checksum.
func (m *Manifest) checksumBytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(m.Checksum)
}

// readManifest loads a manifest file.
func readManifest(path string) (*Manifest, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	manifest := new(Manifest)
	if err = yaml.Unmarshal(contents, manifest); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	return manifest, nil
}

// writeManifest stores a manifest through a temporary file so readers never see a partial one.
func writeManifest(path string, manifest *Manifest) error {
	contents, err := yaml.Marshal(manifest)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, contents, manifestFileMode); err != nil {
		return err
	}

	if err = os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)

		return err
	}

	return nil
}
