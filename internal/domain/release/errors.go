package release

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRepoState is returned when the working tree cannot be read or a ref cannot be resolved.
	ErrRepoState = errors.New("repository state is unreadable")
	// ErrTagParse is returned when a tag is not shaped like vMAJOR.MINOR.PATCH.
	ErrTagParse = errors.New("malformed release tag")
	// ErrTagNotIncreasing is returned when a new tag does not exceed the latest one.
	ErrTagNotIncreasing = errors.New("release tag must be greater than the latest tag")
	// ErrTransfer is returned when an upload or a remote command fails.
	ErrTransfer = errors.New("remote transfer failed")
	// ErrExtraction is returned when the marker file is missing after extraction.
	ErrExtraction = errors.New("release extraction is incomplete")
	// ErrMissingVersion is returned when a relink targets an absent version directory.
	ErrMissingVersion = errors.New("version directory does not exist")
	// ErrPermission is returned when ownership of the versions root cannot be changed.
	ErrPermission = errors.New("unable to change ownership")
	// ErrConfigParse is returned for values outside the boolean flag vocabulary.
	ErrConfigParse = errors.New("unrecognized flag value")
	// ErrUnknownEnvironment is returned for environment names missing from the configuration.
	ErrUnknownEnvironment = errors.New("unknown environment")
	// ErrDeployLocked is returned when another deploy holds the local lock.
	ErrDeployLocked = errors.New("another deploy is running")
)

// CommandError describes a remote command that exited with a non-zero status.
type CommandError struct {
	// Command is the command line as sent to the host.
	Command string
	// Output is the combined stdout and stderr of the command.
	Output string
	// ExitCode is the exit status reported by the host.
	ExitCode int
}

// Error renders the command, its status and its output for the operator.
func (e *CommandError) Error() string {
	output := strings.TrimSpace(e.Output)
	if output == "" {
		return fmt.Sprintf("%q exited with status %d", e.Command, e.ExitCode)
	}

	return fmt.Sprintf("%q exited with status %d: %s", e.Command, e.ExitCode, output)
}

// Unwrap makes every command failure match ErrTransfer.
func (e *CommandError) Unwrap() error {
	return ErrTransfer
}
