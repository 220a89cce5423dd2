package transport

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/releaser/internal/domain/release"

	// Ensure SHA512 is available for upload verification.
	_ "crypto/sha512"
)

const (
	// uploadChecksum verifies files placed by the local transport.
	uploadChecksum = crypto.SHA512

	// uploadFileMode is the mode of uploaded archives.
	uploadFileMode os.FileMode = 0o644

	// uploadDirMode is used for parent directories created during upload.
	uploadDirMode os.FileMode = 0o755
)

// Local executes commands on this machine with `sh -c`.
type Local struct{}

// NewLocal creates a transport for local environments.
func NewLocal() *Local {
	return &Local{}
}

// Exists reports whether path exists. Dangling links count as existing.
func (l *Local) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Lstat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, transferError("stat "+path, err)
	}
}

// Upload places a copy of localPath at remotePath.
// Normal uploads are applied atomically with go-update and verified against a SHA-512 checksum;
// elevated uploads are copied by sudo.
func (l *Local) Upload(ctx context.Context, localPath, remotePath string, privilege release.Privilege) error {
	if privilege == release.Elevated {
		_, err := Check(ctx, l, Command("install", "-D", "-m", "0644", localPath, remotePath), privilege)

		return err
	}

	data, err := os.ReadFile(filepath.Clean(localPath))
	if err != nil {
		return transferError("read "+localPath, err)
	}

	hasher := uploadChecksum.New()
	_, _ = hasher.Write(data)

	if err = os.MkdirAll(filepath.Dir(remotePath), uploadDirMode); err != nil {
		return transferError("create upload directory", err)
	}

	// go-update swaps an existing target, so make sure there is one.
	if _, err = os.Stat(remotePath); errors.Is(err, os.ErrNotExist) {
		if err = os.WriteFile(remotePath, nil, uploadFileMode); err != nil {
			return transferError("create "+remotePath, err)
		}
	}

	options := goupdate.Options{
		TargetPath: remotePath,
		TargetMode: uploadFileMode,
		Checksum:   hasher.Sum(nil),
		Hash:       uploadChecksum,
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		return transferError(fmt.Sprintf("apply %s to %s", localPath, remotePath), err)
	}

	return nil
}

// Run executes command with `sh -c`.
func (l *Local) Run(ctx context.Context, command string, privilege release.Privilege) (Result, error) {
	command = Elevate(command, privilege)

	//nolint:gosec // Commands are assembled from quoted configuration values.
	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	output, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{Output: string(output), ExitCode: exitErr.ExitCode()}, nil
	}

	if err != nil {
		return Result{Output: string(output), ExitCode: -1}, transferError(fmt.Sprintf("run %q", command), err)
	}

	return Result{Output: string(output), ExitCode: 0}, nil
}

// Close is a no-op for local execution.
func (l *Local) Close() error {
	return nil
}
