// Package restarter restarts the application after a new version went live.
//
// Remote hosts run the configured restart command with elevated privilege. Local hosts
// terminate the application process by executable name and rely on the process supervisor
// to start it again. Restart failures are reported but never fail a deploy.
package restarter

import (
	"context"
	"fmt"
	"os"

	ps "github.com/mitchellh/go-ps"

	"github.com/oshokin/releaser/internal/domain/release"
	"github.com/oshokin/releaser/internal/logger"
	"github.com/oshokin/releaser/internal/transport"
)

// Process is a running process.
type Process interface {
	Pid() int
	Executable() string
}

// ProcessTable lists and stops processes on this machine.
type ProcessTable interface {
	Processes() ([]Process, error)
	Kill(pid int) error
}

// Restarter restarts the application on one host.
type Restarter struct {
	// transfer reaches the host.
	transfer transport.Transfer
	// rc is the deployment context.
	rc release.Context
	// processes is used on local hosts.
	processes ProcessTable
}

// New creates a restarter for the host behind transfer.
// processes is only used on local hosts; SystemProcesses is the process table of this machine.
func New(transfer transport.Transfer, rc release.Context, processes ProcessTable) *Restarter {
	return &Restarter{
		transfer:  transfer,
		rc:        rc,
		processes: processes,
	}
}

// Restart restarts the application and reports whether anything was restarted.
// Failures are logged as warnings.
func (r *Restarter) Restart(ctx context.Context) bool {
	ctx = logger.WithName(ctx, "restarter")

	if r.rc.Class.IsRemote() {
		return r.restartRemote(ctx)
	}

	return r.restartLocal(ctx)
}

// restartRemote runs the restart command on the host.
func (r *Restarter) restartRemote(ctx context.Context) bool {
	command := r.rc.RestartCommand
	if command == "" {
		logger.Debug(ctx, "No restart command configured")

		return false
	}

	result, err := transport.Check(ctx, r.transfer, command, release.Elevated)
	if err != nil {
		logger.WarnKV(ctx, "Restart failed", "command", command, "error", err)

		return false
	}

	logger.InfoKV(ctx, "Application restarted", "command", command, "output", result.Output)

	return true
}

// restartLocal terminates every process with the configured executable name.
func (r *Restarter) restartLocal(ctx context.Context) bool {
	name := r.rc.ProcessName
	if name == "" {
		logger.Debug(ctx, "No process name configured")

		return false
	}

	killed, err := r.terminateProcessByName(name)
	if err != nil {
		logger.WarnKV(ctx, "Could not terminate process", "process", name, "error", err)

		return false
	}

	if killed == 0 {
		logger.InfoKV(ctx, "Process is not running", "process", name)

		return false
	}

	logger.InfoKV(ctx, "Process terminated for restart", "process", name, "count", killed)

	return true
}

// terminateProcessByName kills processes named name, except this one.
func (r *Restarter) terminateProcessByName(name string) (int, error) {
	processList, err := r.processes.Processes()
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}

	thisProcessID := os.Getpid()
	killed := 0

	for _, process := range processList {
		if process.Pid() == thisProcessID || process.Executable() != name {
			continue
		}

		if err = r.processes.Kill(process.Pid()); err != nil {
			return killed, fmt.Errorf("kill %d: %w", process.Pid(), err)
		}

		killed++
	}

	return killed, nil
}

// SystemProcesses is the process table of this machine.
type SystemProcesses struct{}

// Processes lists running processes.
func (SystemProcesses) Processes() ([]Process, error) {
	list, err := ps.Processes()
	if err != nil {
		return nil, err
	}

	processes := make([]Process, 0, len(list))
	for _, process := range list {
		processes = append(processes, process)
	}

	return processes, nil
}

// Kill terminates a process.
func (SystemProcesses) Kill(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	return process.Kill()
}
