package manager

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/oshokin/releaser/internal/domain/release"
	"github.com/oshokin/releaser/internal/logger"
	"github.com/oshokin/releaser/internal/transport"
)

// Manager performs release operations on one host.
type Manager struct {
	// transfer reaches the host.
	transfer transport.Transfer
	// rc is the deployment context.
	rc release.Context
}

// NewManager creates a manager for the host behind transfer.
func NewManager(transfer transport.Transfer, rc release.Context) *Manager {
	return &Manager{
		transfer: transfer,
		rc:       rc,
	}
}

// Deploy uploads and extracts archive into its version directory and returns the directory.
// Unless isPreDeploy is set, the environment configuration templates are copied into place.
// Every step is skipped when its result is already present on the host: an extracted version
// is not uploaded again even after its archive was cleaned.
func (m *Manager) Deploy(ctx context.Context, archive release.Archive, isPreDeploy bool) (string, error) {
	ctx = logger.WithKV(logger.WithName(ctx, "release"), "version", archive.VersionID.String())

	if err := m.ensureVersionsRoot(ctx); err != nil {
		return "", err
	}

	layout := m.rc.Layout
	versionDir := layout.VersionDir(archive.VersionID)

	extracted, err := m.hasMarker(ctx, archive.VersionID)
	if err != nil {
		return "", err
	}

	if extracted {
		logger.InfoKV(ctx, "Version is already extracted", "path", versionDir)
	} else {
		if err = m.upload(ctx, archive); err != nil {
			return "", err
		}

		if err = m.extract(ctx, archive); err != nil {
			return "", err
		}
	}

	if extracted, err = m.hasMarker(ctx, archive.VersionID); err != nil {
		return "", err
	}

	if !extracted {
		return "", fmt.Errorf("%s has no %s: %w", versionDir, m.rc.Marker, release.ErrExtraction)
	}

	if isPreDeploy {
		logger.Info(ctx, "Pre-deploy: configuration templates are not installed")

		return versionDir, nil
	}

	if err = m.installTemplates(ctx, archive.VersionID); err != nil {
		return "", err
	}

	return versionDir, nil
}

// Relink points the live link at the version directory of versionID.
// The new link is created next to the live one and renamed over it.
// On failure the previous link is left untouched.
func (m *Manager) Relink(ctx context.Context, versionID release.VersionID) error {
	ctx = logger.WithKV(logger.WithName(ctx, "release"), "version", versionID.String())

	layout := m.rc.Layout
	versionDir := layout.VersionDir(versionID)

	exists, err := m.transfer.Exists(ctx, versionDir)
	if err != nil {
		return err
	}

	if !exists {
		return fmt.Errorf("%s: %w", versionDir, release.ErrMissingVersion)
	}

	link, next := layout.Link(), layout.NextLink()

	if _, err = m.check(ctx, transport.Command("ln", "-sfn", versionDir, next)); err != nil {
		return fmt.Errorf("create %s: %w", next, err)
	}

	if _, err = m.check(ctx, transport.Command("mv", "-Tf", next, link)); err != nil {
		if _, cleanupErr := m.run(ctx, transport.Command("rm", "-f", next)); cleanupErr != nil {
			logger.WarnKV(ctx, "Could not remove temporary link", "path", next, "error", cleanupErr)
		}

		return fmt.Errorf("replace %s: %w", link, err)
	}

	logger.InfoKV(ctx, "Live link switched", "link", link, "target", versionDir)

	return nil
}

// Current returns the version the live link points at.
// The second result is false when there is no live link.
func (m *Manager) Current(ctx context.Context) (release.VersionID, bool, error) {
	link := m.rc.Layout.Link()

	exists, err := m.transfer.Exists(ctx, link)
	if err != nil || !exists {
		return "", false, err
	}

	result, err := m.check(ctx, transport.Command("readlink", link))
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", link, err)
	}

	target := strings.TrimSpace(result.Output)

	versionID, ok := m.rc.Layout.VersionFromDirName(target)
	if !ok {
		return "", false, fmt.Errorf("%s points at %q: %w", link, target, release.ErrMissingVersion)
	}

	return versionID, true, nil
}

// RunHook runs command inside the version directory of versionID.
func (m *Manager) RunHook(ctx context.Context, versionID release.VersionID, command string) error {
	ctx = logger.WithKV(logger.WithName(ctx, "release"), "version", versionID.String())

	versionDir := m.rc.Layout.VersionDir(versionID)

	logger.InfoKV(ctx, "Running hook", "command", command)

	result, err := m.check(ctx, transport.Command("cd", versionDir)+" && "+command)
	if err != nil {
		return fmt.Errorf("hook %q: %w", command, err)
	}

	if output := strings.TrimSpace(result.Output); output != "" {
		logger.DebugKV(ctx, "Hook output", "command", command, "output", output)
	}

	return nil
}

// CleanArchive removes the uploaded archive of versionID from the host.
func (m *Manager) CleanArchive(ctx context.Context, versionID release.VersionID) error {
	archive := m.rc.Layout.Archive(versionID)

	exists, err := m.transfer.Exists(ctx, archive)
	if err != nil || !exists {
		return err
	}

	if _, err = m.check(ctx, transport.Command("rm", "-f", archive)); err != nil {
		return fmt.Errorf("remove %s: %w", archive, err)
	}

	logger.DebugKV(ctx, "Archive removed", "path", archive)

	return nil
}

// upload copies the archive to the host unless it is already there.
func (m *Manager) upload(ctx context.Context, archive release.Archive) error {
	remote := m.rc.Layout.Archive(archive.VersionID)

	exists, err := m.transfer.Exists(ctx, remote)
	if err != nil {
		return err
	}

	if exists {
		logger.InfoKV(ctx, "Archive is already on the host", "path", remote)

		return nil
	}

	if _, err = m.check(ctx, transport.Command("mkdir", "-p", path.Dir(remote))); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	logger.InfoKV(ctx, "Uploading archive", "path", remote)

	if err = m.transfer.Upload(ctx, archive.Path, remote, m.rc.Privilege); err != nil {
		return fmt.Errorf("upload %s: %w", archive.Path, err)
	}

	return m.chown(ctx, remote, false)
}

// ensureVersionsRoot creates the versions root and hands it to the service account.
func (m *Manager) ensureVersionsRoot(ctx context.Context) error {
	root := m.rc.Layout.VersionsRoot()

	exists, err := m.transfer.Exists(ctx, root)
	if err != nil || exists {
		return err
	}

	if _, err = m.check(ctx, transport.Command("mkdir", "-p", root)); err != nil {
		return fmt.Errorf("create %s: %w", root, err)
	}

	return m.chown(ctx, m.rc.Layout.RemoteRoot, true)
}

// extract unpacks the archive into a staging directory and moves it into the versions root.
func (m *Manager) extract(ctx context.Context, archive release.Archive) error {
	layout := m.rc.Layout
	staging := layout.StagingDir(archive.VersionID)
	versionDir := layout.VersionDir(archive.VersionID)

	logger.InfoKV(ctx, "Extracting archive", "staging", staging)

	defer func() {
		if _, err := m.run(ctx, transport.Command("rm", "-rf", staging)); err != nil {
			logger.WarnKV(ctx, "Could not remove staging directory", "path", staging, "error", err)
		}
	}()

	commands := []string{
		transport.Command("rm", "-rf", staging),
		transport.Command("mkdir", "-p", staging),
		transport.Command("unzip", "-q", "-o", layout.Archive(archive.VersionID), "-d", staging),
	}

	for _, command := range commands {
		if _, err := m.check(ctx, command); err != nil {
			return fmt.Errorf("%w: %w", release.ErrExtraction, err)
		}
	}

	source := staging
	if archive.Prefix != "" {
		source = path.Join(staging, archive.Prefix)
	}

	exists, err := m.transfer.Exists(ctx, source)
	if err != nil {
		return err
	}

	if !exists {
		return fmt.Errorf("archive has no %s directory: %w", archive.Prefix, release.ErrExtraction)
	}

	// A directory without the marker is a leftover of an interrupted deploy.
	if _, err = m.check(ctx, transport.Command("rm", "-rf", versionDir)); err != nil {
		return fmt.Errorf("%w: %w", release.ErrExtraction, err)
	}

	if _, err = m.check(ctx, transport.Command("mv", "-Tf", source, versionDir)); err != nil {
		return fmt.Errorf("%w: %w", release.ErrExtraction, err)
	}

	return m.chown(ctx, versionDir, true)
}

// hasMarker reports whether the version directory holds the completeness marker.
func (m *Manager) hasMarker(ctx context.Context, versionID release.VersionID) (bool, error) {
	return m.transfer.Exists(ctx, path.Join(m.rc.Layout.VersionDir(versionID), m.rc.Marker))
}

// installTemplates copies conf/{environment}.{name} to {name} inside the version directory.
func (m *Manager) installTemplates(ctx context.Context, versionID release.VersionID) error {
	layout := m.rc.Layout

	for _, name := range m.rc.Templates {
		source := layout.Template(versionID, m.rc.Environment, name)
		target := layout.TemplateTarget(versionID, name)

		if _, err := m.check(ctx, transport.Command("cp", source, target)); err != nil {
			return fmt.Errorf("install %s: %w", name, err)
		}

		logger.DebugKV(ctx, "Configuration installed", "source", source, "target", target)
	}

	return nil
}

// chown hands target to the service account on elevated hosts.
func (m *Manager) chown(ctx context.Context, target string, recursive bool) error {
	if m.rc.Privilege != release.Elevated || m.rc.ServiceUser == "" {
		return nil
	}

	owner := m.rc.ServiceUser + ":" + m.rc.ServiceUser

	args := []string{owner, target}
	if recursive {
		args = append([]string{"-R"}, args...)
	}

	if _, err := m.check(ctx, transport.Command("chown", args...)); err != nil {
		var commandErr *release.CommandError
		if errors.As(err, &commandErr) {
			return fmt.Errorf("chown %s: %w: %w", target, release.ErrPermission, err)
		}

		return err
	}

	return nil
}

// check runs command with the context privilege and fails on a non-zero exit.
func (m *Manager) check(ctx context.Context, command string) (transport.Result, error) {
	return transport.Check(ctx, m.transfer, command, m.rc.Privilege)
}

// run runs command with the context privilege and returns an error only when it could not run.
func (m *Manager) run(ctx context.Context, command string) (transport.Result, error) {
	return m.transfer.Run(ctx, command, m.rc.Privilege)
}
