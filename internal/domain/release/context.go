package release

import "slices"

// Flags are the options of one deploy invocation.
type Flags struct {
	// PreDeploy stages the release without configuring or linking it.
	PreDeploy bool
	// Full runs every configured hook.
	Full bool
	// DB runs the database hook.
	DB bool
	// Search runs the search index hook.
	Search bool
}

// Hooks are commands run inside a freshly staged version directory.
type Hooks struct {
	DB     string
	Search string
}

// Context is the deployment context of one invocation.
// It is built once from configuration and never mutated afterwards.
type Context struct {
	// Project names the live link under the remote root.
	Project string
	// Environment is the configured environment name, used to pick templates.
	Environment string
	// Class classifies the environment.
	Class Class
	// Privilege is derived from Class once.
	Privilege Privilege
	// Layout resolves on-host paths.
	Layout Layout
	// ServiceUser owns the remote tree on elevated hosts.
	ServiceUser string
	// Marker is a file whose presence proves a complete extraction.
	Marker string
	// Templates are the configuration template names copied at deploy time.
	Templates []string
	// KeepVersions is the default retention window.
	KeepVersions int
	// Branch is the default ref exported for a deploy.
	Branch string
	// Hooks are optional commands selected by Flags.
	Hooks Hooks
	// RestartCommand restarts the application server on the host.
	RestartCommand string
	// ProcessName is the local application process restarted on local hosts.
	ProcessName string
	// Flags are the invocation flags.
	Flags Flags

	hosts []string
}

// NewContext builds a context with its own copy of the host list.
func NewContext(c Context, hosts []string) Context {
	c.hosts = slices.Clone(hosts)
	c.Templates = slices.Clone(c.Templates)
	c.Privilege = c.Class.Privilege()

	return c
}

// Hosts returns a copy of the target hosts in deploy order.
func (c Context) Hosts() []string {
	return slices.Clone(c.hosts)
}

// WithFlags returns a copy of the context carrying the given flags.
func (c Context) WithFlags(flags Flags) Context {
	c.Flags = flags

	return c
}

// HookCommands lists the hook commands selected by the flags, in execution order.
func (c Context) HookCommands() []string {
	var commands []string

	if (c.Flags.DB || c.Flags.Full) && c.Hooks.DB != "" {
		commands = append(commands, c.Hooks.DB)
	}

	if (c.Flags.Search || c.Flags.Full) && c.Hooks.Search != "" {
		commands = append(commands, c.Hooks.Search)
	}

	return commands
}
