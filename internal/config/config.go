package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/oshokin/releaser/internal/domain/release"
)

// Config holds the releaser settings.
type Config struct {
	// Project names the live link created under each remote root.
	Project string `yaml:"project" mapstructure:"project"`
	// Repository is the local path of the git repository being released.
	Repository string `yaml:"repository" mapstructure:"repository"`
	// Branch is the ref exported by default.
	Branch string `yaml:"branch" mapstructure:"branch"`
	// SourcePath restricts the archive to a subdirectory of the repository.
	SourcePath string `yaml:"source_path,omitempty" mapstructure:"source_path"`
	// VersionSuffix is appended to the version to form directory names.
	VersionSuffix string `yaml:"version_suffix,omitempty" mapstructure:"version_suffix"`
	// Marker is a file that must exist in every extracted release.
	Marker string `yaml:"marker" mapstructure:"marker"`
	// StagingDir holds locally built archives and the deploy lock.
	StagingDir string `yaml:"staging_dir,omitempty" mapstructure:"staging_dir"`
	// KeepVersions is the retention window used after a deploy.
	KeepVersions int `yaml:"keep_versions" mapstructure:"keep_versions"`
	// Templates are configuration template names copied from conf/{environment}.{name}.
	Templates []string `yaml:"templates" mapstructure:"templates"`
	// Hooks are optional commands run inside a new release.
	Hooks HooksConfig `yaml:"hooks,omitempty" mapstructure:"hooks"`
	// Environments maps environment names to their targets.
	Environments map[string]EnvironmentConfig `yaml:"environments" mapstructure:"environments"`
}

// HooksConfig holds commands selected by the deploy flags.
type HooksConfig struct {
	DB     string `yaml:"db,omitempty" mapstructure:"db"`
	Search string `yaml:"search,omitempty" mapstructure:"search"`
}

// EnvironmentConfig describes one deployment target group.
type EnvironmentConfig struct {
	// Class is one of local, production or celery.
	Class string `yaml:"class" mapstructure:"class"`
	// Hosts are deployed in the listed order.
	Hosts []string `yaml:"hosts,omitempty" mapstructure:"hosts"`
	// SSHUser is the login used for remote hosts.
	SSHUser string `yaml:"ssh_user,omitempty" mapstructure:"ssh_user"`
	// SSHPort is the SSH port of remote hosts.
	SSHPort int `yaml:"ssh_port,omitempty" mapstructure:"ssh_port"`
	// KeyFile is the private key used for remote hosts. "~" is expanded.
	KeyFile string `yaml:"key_file,omitempty" mapstructure:"key_file"`
	// KnownHosts is an optional known_hosts file used to verify host keys.
	KnownHosts string `yaml:"known_hosts,omitempty" mapstructure:"known_hosts"`
	// ServiceUser owns the release tree on elevated hosts.
	ServiceUser string `yaml:"service_user,omitempty" mapstructure:"service_user"`
	// RemoteRoot holds the live link and the versions directory.
	RemoteRoot string `yaml:"remote_root" mapstructure:"remote_root"`
	// ArchiveRoot receives uploaded archives. Defaults to RemoteRoot.
	ArchiveRoot string `yaml:"archive_root,omitempty" mapstructure:"archive_root"`
	// RestartCommand restarts the application server on remote hosts.
	RestartCommand string `yaml:"restart_command,omitempty" mapstructure:"restart_command"`
	// ProcessName is the application process restarted on local hosts.
	ProcessName string `yaml:"process_name,omitempty" mapstructure:"process_name"`
}

const (
	// DefaultConfigFilename is the default filename for releaser settings.
	DefaultConfigFilename = "releaser.yaml"

	// DefaultBranch is exported when no branch is configured.
	DefaultBranch = "master"

	// DefaultMarker is the entry point whose presence validates an extraction.
	DefaultMarker = "manage.py"

	// DefaultKeepVersions is the default retention window.
	DefaultKeepVersions = 3

	// DefaultSSHPort is used when an environment does not set ssh_port.
	DefaultSSHPort = 22

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// envPrefix prefixes environment variable overrides.
	envPrefix = "RELEASER"

	// localHost names the only host of a local environment.
	localHost = "localhost"
)

// DefaultTemplates are copied when the settings do not list templates.
//
//nolint:gochecknoglobals // Read-only defaults.
var DefaultTemplates = []string{"local_settings", "entrypoint"}

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errProjectRequired is returned when the project name is missing.
	errProjectRequired = errors.New("project must be provided")
	// errNoEnvironments is returned when no environment is configured.
	errNoEnvironments = errors.New("at least one environment must be configured")
	// errRemoteRootRequired is returned when an environment has no remote root.
	errRemoteRootRequired = errors.New("remote_root must be provided")
	// errHostsRequired is returned when a remote environment lists no hosts.
	errHostsRequired = errors.New("remote environments need at least one host")
	// errNegativeRetention is returned for a negative keep_versions.
	errNegativeRetention = errors.New("keep_versions must not be negative")
)

// Load reads configuration from the provided path, applies RELEASER_* overrides and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(filepath.Clean(path))
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers default values so that environment overrides apply to them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("repository", ".")
	v.SetDefault("branch", DefaultBranch)
	v.SetDefault("source_path", "")
	v.SetDefault("version_suffix", "")
	v.SetDefault("marker", DefaultMarker)
	v.SetDefault("staging_dir", "")
	v.SetDefault("keep_versions", DefaultKeepVersions)
	v.SetDefault("templates", DefaultTemplates)
	v.SetDefault("hooks.db", "")
	v.SetDefault("hooks.search", "")
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields and fills defaults in place.
//
//nolint:cyclop // A flat list of checks reads better than helpers.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if strings.TrimSpace(cfg.Project) == "" {
		return errProjectRequired
	}

	if cfg.Repository == "" {
		cfg.Repository = "."
	}

	if cfg.Branch == "" {
		cfg.Branch = DefaultBranch
	}

	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}

	if cfg.StagingDir == "" {
		cfg.StagingDir = os.TempDir()
	}

	if cfg.KeepVersions < 0 {
		return errNegativeRetention
	}

	if len(cfg.Templates) == 0 {
		cfg.Templates = append([]string(nil), DefaultTemplates...)
	}

	if len(cfg.Environments) == 0 {
		return errNoEnvironments
	}

	for name, env := range cfg.Environments {
		if err := validateEnvironment(&env); err != nil {
			return fmt.Errorf("environment %s: %w", name, err)
		}

		cfg.Environments[name] = env
	}

	return nil
}

// validateEnvironment checks one environment and fills its defaults.
func validateEnvironment(env *EnvironmentConfig) error {
	class, err := release.ParseClass(env.Class)
	if err != nil {
		return err
	}

	env.Class = string(class)

	if env.RemoteRoot == "" {
		return errRemoteRootRequired
	}

	if env.ArchiveRoot == "" {
		env.ArchiveRoot = env.RemoteRoot
	}

	if !class.IsRemote() {
		env.Hosts = []string{localHost}

		return nil
	}

	if len(env.Hosts) == 0 {
		return errHostsRequired
	}

	if env.SSHPort <= 0 {
		env.SSHPort = DefaultSSHPort
	}

	if env.KeyFile != "" {
		if env.KeyFile, err = homedir.Expand(env.KeyFile); err != nil {
			return fmt.Errorf("expand key_file: %w", err)
		}
	}

	if env.KnownHosts != "" {
		if env.KnownHosts, err = homedir.Expand(env.KnownHosts); err != nil {
			return fmt.Errorf("expand known_hosts: %w", err)
		}
	}

	return nil
}

// Environment returns the settings of the named environment.
func (c *Config) Environment(name string) (EnvironmentConfig, error) {
	env, ok := c.Environments[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return EnvironmentConfig{}, fmt.Errorf("%q: %w", name, release.ErrUnknownEnvironment)
	}

	return env, nil
}

// Context builds the immutable deployment context for the named environment.
// Local remote roots are made absolute so relative settings work from any directory.
func (c *Config) Context(name string, flags release.Flags) (release.Context, error) {
	env, err := c.Environment(name)
	if err != nil {
		return release.Context{}, err
	}

	class, err := release.ParseClass(env.Class)
	if err != nil {
		return release.Context{}, err
	}

	remoteRoot, archiveRoot := env.RemoteRoot, env.ArchiveRoot
	if !class.IsRemote() {
		if remoteRoot, err = filepath.Abs(remoteRoot); err != nil {
			return release.Context{}, fmt.Errorf("resolve remote_root: %w", err)
		}

		if archiveRoot, err = filepath.Abs(archiveRoot); err != nil {
			return release.Context{}, fmt.Errorf("resolve archive_root: %w", err)
		}
	}

	//nolint:exhaustruct // Privilege and hosts are filled by NewContext.
	base := release.Context{
		Project:     c.Project,
		Environment: strings.ToLower(strings.TrimSpace(name)),
		Class:       class,
		Layout: release.Layout{
			RemoteRoot:  remoteRoot,
			ArchiveRoot: archiveRoot,
			Project:     c.Project,
			Suffix:      c.VersionSuffix,
		},
		ServiceUser:    env.ServiceUser,
		Marker:         c.Marker,
		Templates:      c.Templates,
		KeepVersions:   c.KeepVersions,
		Branch:         c.Branch,
		Hooks:          release.Hooks{DB: c.Hooks.DB, Search: c.Hooks.Search},
		RestartCommand: env.RestartCommand,
		ProcessName:    env.ProcessName,
		Flags:          flags,
	}

	return release.NewContext(base, env.Hosts), nil
}

// Sample returns a starting configuration with a local and a production environment.
func Sample(project string) *Config {
	return &Config{
		Project:      project,
		Repository:   ".",
		Branch:       DefaultBranch,
		Marker:       DefaultMarker,
		KeepVersions: DefaultKeepVersions,
		Templates:    append([]string(nil), DefaultTemplates...),
		Hooks: HooksConfig{
			DB:     "python manage.py migrate --noinput",
			Search: "python manage.py update_index",
		},
		Environments: map[string]EnvironmentConfig{
			"local": {
				Class:       string(release.ClassLocal),
				RemoteRoot:  filepath.Join(os.TempDir(), project),
				ProcessName: "gunicorn",
			},
			"production": {
				Class:          string(release.ClassProduction),
				Hosts:          []string{"web1.example.com"},
				SSHUser:        "deploy",
				SSHPort:        DefaultSSHPort,
				KeyFile:        "~/.ssh/id_ed25519",
				KnownHosts:     "~/.ssh/known_hosts",
				ServiceUser:    "www-data",
				RemoteRoot:     "/var/apps/" + project,
				RestartCommand: "service nginx restart",
			},
		},
	}
}
