package deployer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danjacques/gofslock/fslock"
	"github.com/google/uuid"

	"github.com/oshokin/releaser/internal/config"
	"github.com/oshokin/releaser/internal/domain/release"
	"github.com/oshokin/releaser/internal/logger"
	"github.com/oshokin/releaser/internal/repository/git"
	"github.com/oshokin/releaser/internal/service/common"
	"github.com/oshokin/releaser/internal/service/differ"
	"github.com/oshokin/releaser/internal/service/manager"
	"github.com/oshokin/releaser/internal/service/packager"
	"github.com/oshokin/releaser/internal/service/restarter"
	"github.com/oshokin/releaser/internal/service/retention"
	"github.com/oshokin/releaser/internal/service/tagger"
	"github.com/oshokin/releaser/internal/transport"
)

// LockFilename is the name of the lock file in the staging directory.
const LockFilename = "releaser.lock"

// errNoHosts is returned when an environment has no hosts to work on.
var errNoHosts = errors.New("environment has no hosts")

// Prompter asks the operator during a deploy.
type Prompter interface {
	Confirm(question string, def bool) (bool, error)
	Ask(question, def string) (string, error)
	Show(title, body string)
}

// Options contains inputs for a Deployer.
type Options struct {
	// Config is the validated configuration.
	Config *config.Config
	// Environment is the name of the target environment.
	Environment string
	// Flags are the deploy flags.
	Flags release.Flags
	// Prompter answers interactive questions.
	Prompter Prompter
	// Dial opens a transport to a host. Nil selects one from the environment configuration.
	Dial transport.DialFunc
	// Processes is the local process table used for restarts. Nil uses the system one.
	Processes restarter.ProcessTable
}

// DeployOptions select the optional fleet level steps of a deploy.
type DeployOptions struct {
	// Diff offers to show the changes against the live version first.
	Diff bool
	// Tag offers to tag the release.
	Tag bool
}

// HostResult is the outcome of a deploy on one host.
type HostResult struct {
	// Host is the host name.
	Host string
	// VersionDir is the extracted version directory.
	VersionDir string
	// Linked is true when the live link now points at the version.
	Linked bool
	// Restarted is true when the application was restarted.
	Restarted bool
	// Pruned lists removed version directories.
	Pruned []string
}

// Report summarizes a deploy.
type Report struct {
	// RunID identifies the invocation in logs.
	RunID string
	// Archive is the deployed archive.
	Archive release.Archive
	// Tag is the tag created for the release, if any.
	Tag string
	// Hosts are the per host results in deploy order.
	Hosts []HostResult
}

// HostVersions pairs a host with version directory names.
type HostVersions struct {
	// Host is the host name.
	Host string
	// Versions are version directory names.
	Versions []string
}

// HostCurrent pairs a host with its live version.
type HostCurrent struct {
	// Host is the host name.
	Host string
	// VersionID is the live version, empty when nothing is live.
	VersionID release.VersionID
}

// Deployer runs release workflows for one environment.
type Deployer struct {
	// cfg is the configuration.
	cfg *config.Config
	// rc is the immutable deployment context.
	rc release.Context
	// repo is the source repository.
	repo *git.Repository
	// builder packages releases.
	builder *packager.Builder
	// prompter answers questions.
	prompter Prompter
	// dial opens transports.
	dial transport.DialFunc
	// processes is the local process table.
	processes restarter.ProcessTable
}

// New creates a deployer for the environment named in opts.
func New(opts *Options) (*Deployer, error) {
	rc, err := opts.Config.Context(opts.Environment, opts.Flags)
	if err != nil {
		return nil, err
	}

	repo, err := git.Open(opts.Config.Repository)
	if err != nil {
		return nil, err
	}

	dial := opts.Dial
	if dial == nil {
		env, err := opts.Config.Environment(opts.Environment)
		if err != nil {
			return nil, err
		}

		dial = transport.NewDialer(env)
	}

	processes := opts.Processes
	if processes == nil {
		processes = restarter.SystemProcesses{}
	}

	return &Deployer{
		cfg:       opts.Config,
		rc:        rc,
		repo:      repo,
		builder:   packager.NewBuilder(repo, opts.Config.StagingDir, opts.Config.SourcePath),
		prompter:  opts.Prompter,
		dial:      dial,
		processes: processes,
	}, nil
}

// Context returns the deployment context.
func (d *Deployer) Context() release.Context {
	return d.rc
}

// Export builds the archive of ref, or of the configured branch when ref is empty.
func (d *Deployer) Export(ctx context.Context, ref string) (release.Archive, error) {
	if ref == "" {
		ref = d.rc.Branch
	}

	versionID, err := d.repo.Identify(ctx, ref)
	if err != nil {
		return release.Archive{}, err
	}

	return d.builder.Build(ctx, versionID, ref, d.rc.Layout.VersionDirName(versionID))
}

// Deploy releases the configured branch to every host of the environment.
func (d *Deployer) Deploy(ctx context.Context, opts DeployOptions) (Report, error) {
	var report Report

	err := d.withLock(ctx, func() error {
		var err error

		report, err = d.deploy(ctx, opts)

		return err
	})

	return report, err
}

// deploy runs the fleet steps once and the host steps for every host.
func (d *Deployer) deploy(ctx context.Context, opts DeployOptions) (Report, error) {
	hosts := d.rc.Hosts()
	if len(hosts) == 0 {
		return Report{}, fmt.Errorf("%s: %w", d.rc.Environment, errNoHosts)
	}

	report := Report{RunID: uuid.NewString()}

	ctx = logger.WithFields(logger.WithName(ctx, "deployer"),
		"run_id", report.RunID,
		"env", d.rc.Environment)

	if actor, err := common.DetectActor(); err == nil {
		ctx = logger.WithKV(ctx, "actor", actor.String())
	}

	versionID, err := d.repo.Identify(ctx, d.rc.Branch)
	if err != nil {
		return report, err
	}

	ctx = logger.WithKV(ctx, "version", versionID.String())

	logger.InfoKV(ctx, "Deploy started",
		"branch", d.rc.Branch,
		"hosts", hosts,
		"predeploy", d.rc.Flags.PreDeploy)

	if opts.Diff {
		if err = d.showDiff(ctx, hosts[0], versionID); err != nil {
			return report, err
		}
	}

	if opts.Tag {
		tag, created, err := tagger.New(d.repo).Set(ctx, d.prompter)
		if err != nil {
			return report, err
		}

		if created {
			report.Tag = tag.String()
		}
	}

	if report.Archive, err = d.builder.Build(ctx, versionID, d.rc.Branch, d.rc.Layout.VersionDirName(versionID)); err != nil {
		return report, err
	}

	for _, host := range hosts {
		result, err := d.deployHost(logger.WithKV(ctx, "host", host), host, report.Archive)
		if err != nil {
			return report, fmt.Errorf("deploy to %s: %w", host, err)
		}

		report.Hosts = append(report.Hosts, result)
	}

	logger.Info(ctx, "Deploy finished")

	return report, nil
}

// deployHost runs the host steps: deploy, hooks, relink, restart, prune and cleanup.
func (d *Deployer) deployHost(ctx context.Context, host string, archive release.Archive) (HostResult, error) {
	result := HostResult{Host: host}

	err := d.withHost(ctx, host, func(t transport.Transfer) error {
		mgr := manager.NewManager(t, d.rc)

		var err error

		if result.VersionDir, err = mgr.Deploy(ctx, archive, d.rc.Flags.PreDeploy); err != nil {
			return err
		}

		for _, command := range d.rc.HookCommands() {
			if err = mgr.RunHook(ctx, archive.VersionID, command); err != nil {
				return err
			}
		}

		live := archive.VersionID

		if d.rc.Flags.PreDeploy {
			if live, _, err = mgr.Current(ctx); err != nil {
				return err
			}
		} else {
			if err = mgr.Relink(ctx, archive.VersionID); err != nil {
				return err
			}

			result.Linked = true
			result.Restarted = restarter.New(t, d.rc, d.processes).Restart(ctx)
		}

		// A pre-deployed version may be older than the window when it was extracted earlier.
		policy := retention.NewPolicy(t, d.rc)
		result.Pruned, err = policy.Prune(ctx, d.rc.KeepVersions, live, retention.Apply, archive.VersionID)
		if err != nil {
			return err
		}

		return mgr.CleanArchive(ctx, archive.VersionID)
	})

	return result, err
}

// showDiff offers the diff between the live version of host and versionID.
func (d *Deployer) showDiff(ctx context.Context, host string, versionID release.VersionID) error {
	var live release.VersionID

	err := d.withHost(ctx, host, func(t transport.Transfer) error {
		var err error

		live, _, err = manager.NewManager(t, d.rc).Current(ctx)

		return err
	})
	if err != nil {
		return err
	}

	_, err = differ.New(d.repo).Gate(ctx, d.prompter, versionID, live)

	return err
}

// Diff returns the patch between the live version on the first host and ref.
func (d *Deployer) Diff(ctx context.Context, ref string) (release.VersionID, release.VersionID, string, error) {
	if ref == "" {
		ref = d.rc.Branch
	}

	hosts := d.rc.Hosts()
	if len(hosts) == 0 {
		return "", "", "", fmt.Errorf("%s: %w", d.rc.Environment, errNoHosts)
	}

	outgoing, err := d.repo.Identify(ctx, ref)
	if err != nil {
		return "", "", "", err
	}

	current, err := d.Current(ctx)
	if err != nil {
		return "", "", "", err
	}

	live := current[0].VersionID
	if live == "" {
		return "", outgoing, "", nil
	}

	patch, err := differ.New(d.repo).Diff(ctx, live.String(), outgoing.String())

	return live, outgoing, patch, err
}

// Current returns the live version of every host.
func (d *Deployer) Current(ctx context.Context) ([]HostCurrent, error) {
	var currents []HostCurrent

	err := d.eachHost(ctx, func(ctx context.Context, host string, t transport.Transfer) error {
		versionID, _, err := manager.NewManager(t, d.rc).Current(ctx)
		if err != nil {
			return err
		}

		currents = append(currents, HostCurrent{Host: host, VersionID: versionID})

		return nil
	})

	return currents, err
}

// Relink points the live link of every host at an already deployed version.
func (d *Deployer) Relink(ctx context.Context, versionID release.VersionID) error {
	return d.withLock(ctx, func() error {
		return d.eachHost(ctx, func(ctx context.Context, _ string, t transport.Transfer) error {
			if err := manager.NewManager(t, d.rc).Relink(ctx, versionID); err != nil {
				return err
			}

			restarter.New(t, d.rc, d.processes).Restart(ctx)

			return nil
		})
	})
}

// CleanVersions lists, and in Apply mode removes, version directories outside the retention
// window of every host, see retention.Policy.Prune. The live version is always kept.
func (d *Deployer) CleanVersions(ctx context.Context, keep int, mode retention.Mode) ([]HostVersions, error) {
	var results []HostVersions

	err := d.withLock(ctx, func() error {
		return d.eachHost(ctx, func(ctx context.Context, host string, t transport.Transfer) error {
			live, _, err := manager.NewManager(t, d.rc).Current(ctx)
			if err != nil {
				return err
			}

			versions, err := retention.NewPolicy(t, d.rc).Prune(ctx, keep, live, mode)
			if err != nil {
				return err
			}

			results = append(results, HostVersions{Host: host, Versions: versions})

			return nil
		})
	})

	return results, err
}

// eachHost calls fn for every host in order and stops at the first error.
func (d *Deployer) eachHost(
	ctx context.Context,
	fn func(ctx context.Context, host string, t transport.Transfer) error,
) error {
	hosts := d.rc.Hosts()
	if len(hosts) == 0 {
		return fmt.Errorf("%s: %w", d.rc.Environment, errNoHosts)
	}

	for _, host := range hosts {
		hostCtx := logger.WithKV(ctx, "host", host)

		err := d.withHost(hostCtx, host, func(t transport.Transfer) error {
			return fn(hostCtx, host, t)
		})
		if err != nil {
			return fmt.Errorf("%s: %w", host, err)
		}
	}

	return nil
}

// withHost opens a transport to host for the duration of fn.
func (d *Deployer) withHost(ctx context.Context, host string, fn func(t transport.Transfer) error) error {
	t, err := d.dial(ctx, host)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := t.Close(); closeErr != nil {
			logger.WarnKV(ctx, "Could not close connection", "host", host, "error", closeErr)
		}
	}()

	return fn(t)
}

// withLock runs fn while holding the workstation lock in the staging directory.
func (d *Deployer) withLock(ctx context.Context, fn func() error) error {
	if err := os.MkdirAll(d.cfg.StagingDir, 0o755); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}

	lockPath := filepath.Join(d.cfg.StagingDir, LockFilename)

	handle, err := fslock.Lock(lockPath)
	if errors.Is(err, fslock.ErrLockHeld) {
		return fmt.Errorf("%s: %w", lockPath, release.ErrDeployLocked)
	}

	if err != nil {
		return fmt.Errorf("lock %s: %w", lockPath, err)
	}

	defer func() {
		if unlockErr := handle.Unlock(); unlockErr != nil {
			logger.WarnKV(ctx, "Could not release lock", "path", lockPath, "error", unlockErr)
		}
	}()

	return fn()
}
