package deployer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danjacques/gofslock/fslock"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/releaser/internal/config"
	"github.com/oshokin/releaser/internal/domain/release"
	"github.com/oshokin/releaser/internal/prompt"
	"github.com/oshokin/releaser/internal/repository/git"
	"github.com/oshokin/releaser/internal/repository/git/gittest"
	"github.com/oshokin/releaser/internal/service/retention"
	"github.com/oshokin/releaser/internal/transport"
	"github.com/oshokin/releaser/internal/transport/transporttest"
)

// fleet hands out one filesystem-backed host per host name and records dials.
type fleet struct {
	root string

	mu     sync.Mutex
	hosts  map[string]*transporttest.Host
	dialed []string
}

func newFleet(t *testing.T) *fleet {
	t.Helper()

	return &fleet{root: t.TempDir(), hosts: make(map[string]*transporttest.Host)}
}

// host returns the double for name, creating it on first use.
func (f *fleet) host(name string) *transporttest.Host {
	f.mu.Lock()
	defer f.mu.Unlock()

	host, ok := f.hosts[name]
	if !ok {
		host = transporttest.New(filepath.Join(f.root, name))
		f.hosts[name] = host
	}

	return host
}

func (f *fleet) dial(_ context.Context, name string) (transport.Transfer, error) {
	host := f.host(name)

	f.mu.Lock()
	f.dialed = append(f.dialed, name)
	f.mu.Unlock()

	return host, nil
}

// releaseRepository creates a repository with a complete release for the prod environment.
func releaseRepository(t *testing.T) string {
	t.Helper()

	dir := gittest.Init(t)
	gittest.Commit(t, dir, map[string]string{
		"manage.py":                "print('v1')\n",
		"conf/prod.local_settings": "DEBUG = False\n",
		"conf/prod.entrypoint":     "#!/bin/sh\n",
	}, "first release")

	return dir
}

// newConfig builds a validated configuration with a single "prod" environment.
func newConfig(t *testing.T, repository, class string, hosts ...string) *config.Config {
	t.Helper()

	//nolint:exhaustruct // Defaults are filled by Validate.
	cfg := &config.Config{
		Project:      "app",
		Repository:   repository,
		StagingDir:   t.TempDir(),
		KeepVersions: 3,
		Hooks:        config.HooksConfig{DB: "python manage.py migrate"},
		Environments: map[string]config.EnvironmentConfig{
			"prod": {Class: class, Hosts: hosts, RemoteRoot: "/srv", ArchiveRoot: "/srv/archives"},
		},
	}
	require.NoError(t, config.Validate(cfg))

	return cfg
}

// newDeployer creates a deployer over the fleet.
func newDeployer(t *testing.T, cfg *config.Config, f *fleet, flags release.Flags, answers string) *Deployer {
	t.Helper()

	//nolint:exhaustruct // The system process table is never used: no process name is configured.
	d, err := New(&Options{
		Config:      cfg,
		Environment: "prod",
		Flags:       flags,
		Prompter:    prompt.New(strings.NewReader(answers), &bytes.Buffer{}, false),
		Dial:        f.dial,
	})
	require.NoError(t, err)

	return d
}

// liveVersion reads the live link of a host.
func liveVersion(t *testing.T, host *transporttest.Host) string {
	t.Helper()

	target, err := host.Readlink("/srv/app")
	require.NoError(t, err)

	return target
}

// TestDeployEndToEnd deploys two versions to a local host and cleans up the older one.
func TestDeployEndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repoDir := releaseRepository(t)
	cfg := newConfig(t, repoDir, "local")
	f := newFleet(t)
	d := newDeployer(t, cfg, f, release.Flags{}, "")

	report, err := d.Deploy(ctx, DeployOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, report.RunID)
	require.False(t, report.Archive.Cached)
	require.Len(t, report.Hosts, 1)
	require.True(t, report.Hosts[0].Linked)

	first := report.Archive.VersionID
	host := f.host("localhost")

	require.Equal(t, "/srv/versions/"+first.String(), liveVersion(t, host))
	require.FileExists(t, filepath.Join(host.Path("/srv/app"), "manage.py"))
	require.FileExists(t, filepath.Join(host.Path("/srv/app"), "local_settings"))
	require.NoFileExists(t, host.Path("/srv/archives/"+first.ArchiveName()))
	require.Equal(t, 1, host.Uploads())

	for _, call := range host.Calls() {
		require.Equal(t, release.Normal, call.Privilege, call.Command)
	}

	gittest.Commit(t, repoDir, map[string]string{"manage.py": "print('v2')\n"}, "second release")

	report, err = d.Deploy(ctx, DeployOptions{})
	require.NoError(t, err)

	second := report.Archive.VersionID
	require.NotEqual(t, first, second)
	require.Equal(t, "/srv/versions/"+second.String(), liveVersion(t, host))

	current, err := d.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, []HostCurrent{{Host: "localhost", VersionID: second}}, current)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(host.Path("/srv/versions/"+first.String()), old, old))

	reported, err := d.CleanVersions(ctx, 1, retention.Report)
	require.NoError(t, err)
	require.Equal(t, []HostVersions{{Host: "localhost", Versions: []string{first.String()}}}, reported)
	require.DirExists(t, host.Path("/srv/versions/"+first.String()))

	removed, err := d.CleanVersions(ctx, 1, retention.Apply)
	require.NoError(t, err)
	require.Equal(t, reported, removed)
	require.NoDirExists(t, host.Path("/srv/versions/"+first.String()))
	require.DirExists(t, host.Path("/srv/versions/"+second.String()))
	require.Equal(t, "/srv/versions/"+second.String(), liveVersion(t, host))
}

// TestDeployFleetStepsRunOnce checks that tagging and packaging happen once and that
// a failing host stops the rollout.
func TestDeployFleetStepsRunOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repoDir := releaseRepository(t)
	cfg := newConfig(t, repoDir, "production", "web1", "web2", "web3")
	f := newFleet(t)
	f.host("web2").FailOn("unzip", 9, "unzip: cannot find zipfile directory")

	d := newDeployer(t, cfg, f, release.Flags{}, "y\n\n")

	report, err := d.Deploy(ctx, DeployOptions{Diff: true, Tag: true})
	require.ErrorIs(t, err, release.ErrExtraction)
	require.ErrorContains(t, err, "web2")
	require.Equal(t, "v0.0.1", report.Tag)
	require.Len(t, report.Hosts, 1)

	repo, err := git.Open(repoDir)
	require.NoError(t, err)

	tags, err := repo.ListTags(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"v0.0.1"}, tags)

	archives, err := filepath.Glob(filepath.Join(cfg.StagingDir, "*.zip"))
	require.NoError(t, err)
	require.Len(t, archives, 1)

	require.Equal(t, "/srv/versions/"+report.Archive.VersionID.String(), liveVersion(t, f.host("web1")))

	_, err = os.Lstat(f.host("web2").Path("/srv/app"))
	require.ErrorIs(t, err, os.ErrNotExist)
	require.NotContains(t, f.dialed, "web3")

	for _, call := range f.host("web1").Calls() {
		require.Equal(t, release.Elevated, call.Privilege, call.Command)
	}
}

// TestDeployPreDeploy checks that a staging pass neither configures nor links the release.
func TestDeployPreDeploy(t *testing.T) {
	t.Parallel()

	f := newFleet(t)
	d := newDeployer(t, newConfig(t, releaseRepository(t), "local"), f, release.Flags{PreDeploy: true}, "")

	report, err := d.Deploy(context.Background(), DeployOptions{})
	require.NoError(t, err)
	require.False(t, report.Hosts[0].Linked)

	host := f.host("localhost")
	versionDir := host.Path("/srv/versions/" + report.Archive.VersionID.String())

	require.FileExists(t, filepath.Join(versionDir, "manage.py"))
	require.NoFileExists(t, filepath.Join(versionDir, "local_settings"))

	_, err = os.Lstat(host.Path("/srv/app"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestDeployPreDeployKeepsStagedVersion checks that staging an older, already extracted
// version again does not prune it right away.
func TestDeployPreDeployKeepsStagedVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repoDir := gittest.Init(t)
	staged := gittest.Commit(t, repoDir, map[string]string{
		"manage.py":                "print('v1')\n",
		"conf/prod.local_settings": "DEBUG = False\n",
	}, "first release")

	cfg := newConfig(t, repoDir, "local")
	f := newFleet(t)

	first, err := newDeployer(t, cfg, f, release.Flags{}, "").Deploy(ctx, DeployOptions{})
	require.NoError(t, err)

	gittest.Commit(t, repoDir, map[string]string{"manage.py": "print('v2')\n"}, "second release")

	second, err := newDeployer(t, cfg, f, release.Flags{}, "").Deploy(ctx, DeployOptions{})
	require.NoError(t, err)

	host := f.host("localhost")
	firstDir := "/srv/versions/" + first.Archive.VersionID.String()
	secondDir := "/srv/versions/" + second.Archive.VersionID.String()

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(host.Path(firstDir), old, old))

	cfg.Branch = staged
	cfg.KeepVersions = 1

	report, err := newDeployer(t, cfg, f, release.Flags{PreDeploy: true}, "").Deploy(ctx, DeployOptions{})
	require.NoError(t, err)
	require.Equal(t, first.Archive.VersionID, report.Archive.VersionID)
	require.Empty(t, report.Hosts[0].Pruned)
	require.DirExists(t, host.Path(firstDir))
	require.DirExists(t, host.Path(secondDir))
	require.Equal(t, secondDir, liveVersion(t, host))
	require.Equal(t, 2, host.Uploads())
}

// TestDeployHooks checks that the db hook runs inside the new version directory.
func TestDeployHooks(t *testing.T) {
	t.Parallel()

	f := newFleet(t)

	var ran []string

	f.host("localhost").Handle("python", func(args []string) transport.Result {
		ran = append(ran, strings.Join(args, " "))

		return transport.Result{}
	})

	d := newDeployer(t, newConfig(t, releaseRepository(t), "local"), f, release.Flags{Full: true}, "")

	report, err := d.Deploy(context.Background(), DeployOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"python manage.py migrate"}, ran)

	expected := "cd /srv/versions/" + report.Archive.VersionID.String() + " && python manage.py migrate"

	var found bool

	for _, call := range f.host("localhost").Calls() {
		found = found || call.Command == expected
	}

	require.True(t, found)
}

// TestRelinkRollback checks a manual rollback to a previously deployed version.
func TestRelinkRollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repoDir := releaseRepository(t)
	f := newFleet(t)
	d := newDeployer(t, newConfig(t, repoDir, "local"), f, release.Flags{}, "")

	first, err := d.Deploy(ctx, DeployOptions{})
	require.NoError(t, err)

	gittest.Commit(t, repoDir, map[string]string{"manage.py": "print('v2')\n"}, "second release")

	_, err = d.Deploy(ctx, DeployOptions{})
	require.NoError(t, err)

	require.NoError(t, d.Relink(ctx, first.Archive.VersionID))
	require.Equal(t, "/srv/versions/"+first.Archive.VersionID.String(), liveVersion(t, f.host("localhost")))

	require.ErrorIs(t, d.Relink(ctx, "0000000"), release.ErrMissingVersion)
}

// TestDiff checks the patch between the live and the outgoing version.
func TestDiff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repoDir := releaseRepository(t)
	d := newDeployer(t, newConfig(t, repoDir, "local"), newFleet(t), release.Flags{}, "")

	live, outgoing, patch, err := d.Diff(ctx, "")
	require.NoError(t, err)
	require.Empty(t, live)
	require.NotEmpty(t, outgoing)
	require.Empty(t, patch)

	_, err = d.Deploy(ctx, DeployOptions{})
	require.NoError(t, err)

	gittest.Commit(t, repoDir, map[string]string{"manage.py": "print('v2')\n"}, "second release")

	live, outgoing, patch, err = d.Diff(ctx, "")
	require.NoError(t, err)
	require.NotEqual(t, live, outgoing)
	require.Contains(t, patch, "+print('v2')")
}

// TestDeployLocked checks that a second invocation on the same workstation is refused.
func TestDeployLocked(t *testing.T) {
	t.Parallel()

	cfg := newConfig(t, releaseRepository(t), "local")
	d := newDeployer(t, cfg, newFleet(t), release.Flags{}, "")

	handle, err := fslock.Lock(filepath.Join(cfg.StagingDir, LockFilename))
	require.NoError(t, err)

	defer func() {
		require.NoError(t, handle.Unlock())
	}()

	_, err = d.Deploy(context.Background(), DeployOptions{})
	require.ErrorIs(t, err, release.ErrDeployLocked)
}

// TestExport checks that the archive is keyed by the version of the branch.
func TestExport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repoDir := releaseRepository(t)
	d := newDeployer(t, newConfig(t, repoDir, "local"), newFleet(t), release.Flags{}, "")

	archive, err := d.Export(ctx, "")
	require.NoError(t, err)
	require.Equal(t, archive.VersionID.String(), archive.Prefix)

	again, err := d.Export(ctx, gittest.Branch)
	require.NoError(t, err)
	require.True(t, again.Cached)
	require.Equal(t, archive.Path, again.Path)
}
