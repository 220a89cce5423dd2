package transport

import (
	"context"
	"fmt"
	"strings"

	"github.com/oshokin/releaser/internal/domain/release"
)

// Result is the outcome of a command that ran to completion.
type Result struct {
	// Output is the combined stdout and stderr.
	Output string
	// ExitCode is the exit status of the command.
	ExitCode int
}

// OK reports whether the command exited with status zero.
func (r Result) OK() bool {
	return r.ExitCode == 0
}

// Transfer is the remote side of a deployment.
// Run returns an error only when the command could not be executed at all;
// a command that ran and failed is reported through Result.ExitCode.
type Transfer interface {
	// Exists reports whether a file, directory or link exists at path.
	Exists(ctx context.Context, path string) (bool, error)
	// Upload copies a local file to remotePath.
	Upload(ctx context.Context, localPath, remotePath string, privilege release.Privilege) error
	// Run executes a shell command.
	Run(ctx context.Context, command string, privilege release.Privilege) (Result, error)
	// Close releases the connection.
	Close() error
}

// Check runs a command and converts a non-zero exit into *release.CommandError.
func Check(ctx context.Context, t Transfer, command string, privilege release.Privilege) (Result, error) {
	result, err := t.Run(ctx, command, privilege)
	if err != nil {
		return result, err
	}

	if !result.OK() {
		return result, &release.CommandError{
			Command:  command,
			Output:   result.Output,
			ExitCode: result.ExitCode,
		}
	}

	return result, nil
}

// elevatePrefix runs a command through sudo without prompting for a password.
const elevatePrefix = "sudo -n "

// Elevate wraps command for the privilege. Compound commands are run by a sudo'ed shell.
func Elevate(command string, privilege release.Privilege) string {
	if privilege != release.Elevated {
		return command
	}

	if strings.ContainsAny(command, "|&;<>()$`") {
		return elevatePrefix + Command("sh", "-c", command)
	}

	return elevatePrefix + command
}

// Command joins a program and its arguments into a shell command line, quoting as needed.
func Command(name string, args ...string) string {
	var builder strings.Builder

	builder.WriteString(Quote(name))

	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(Quote(arg))
	}

	return builder.String()
}

// Quote returns s as a single shell word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}

	if strings.IndexFunc(s, needsQuoting) < 0 {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// needsQuoting reports runes that are not safe in a bare shell word.
func needsQuoting(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_./:=@%+,", r):
		return false
	default:
		return true
	}
}

// transferError wraps a failure to reach the host.
func transferError(action string, err error) error {
	return fmt.Errorf("%s: %w: %w", action, release.ErrTransfer, err)
}
