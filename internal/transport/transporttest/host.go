// Package transporttest provides a transport.Transfer double for tests.
//
// Host maps every remote path below a local root directory and interprets the
// small command vocabulary used by the release and retention services
// (mkdir, chown, test, rm, unzip, mv, ln, cp, readlink, ls). Other commands
// fail with status 127 unless a handler is registered for them.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"

	"github.com/oshokin/releaser/internal/domain/release"
	"github.com/oshokin/releaser/internal/transport"
)

// Call is one recorded invocation.
type Call struct {
	// Command is the command line, or "upload <remote path>".
	Command string
	// Privilege is the privilege the caller asked for.
	Privilege release.Privilege
}

// Handler serves a command the double does not know. args[0] is the program name.
type Handler func(args []string) transport.Result

// Host is a filesystem-backed transport.Transfer.
type Host struct {
	root string

	mu       sync.Mutex
	calls    []Call
	uploads  int
	failures map[string]transport.Result
	handlers map[string]Handler
}

var _ transport.Transfer = (*Host)(nil)

// New creates a host whose filesystem lives under root.
func New(root string) *Host {
	return &Host{
		root:     root,
		failures: make(map[string]transport.Result),
		handlers: make(map[string]Handler),
	}
}

// Path maps a remote path to its location on the local disk.
func (h *Host) Path(remote string) string {
	return filepath.Join(h.root, filepath.FromSlash(path.Clean("/"+remote)))
}

// FailOn makes every command containing substr exit with code and output.
func (h *Host) FailOn(substr string, code int, output string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failures[substr] = transport.Result{Output: output, ExitCode: code}
}

// Handle registers a handler for commands whose program name is program.
func (h *Host) Handle(program string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.handlers[program] = handler
}

// Calls returns the recorded invocations.
func (h *Host) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]Call(nil), h.calls...)
}

// Uploads returns the number of uploads performed.
func (h *Host) Uploads() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.uploads
}

// Readlink returns the remote target of a link.
func (h *Host) Readlink(remote string) (string, error) {
	target, err := os.Readlink(h.Path(remote))
	if err != nil {
		return "", err
	}

	return h.unmap(target), nil
}

// Exists reports whether remote exists. Dangling links count as existing.
func (h *Host) Exists(_ context.Context, remote string) (bool, error) {
	_, err := os.Lstat(h.Path(remote))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	return err == nil, err
}

// Upload copies a local file into the host filesystem.
func (h *Host) Upload(_ context.Context, localPath, remote string, privilege release.Privilege) error {
	h.record("upload "+remote, privilege)

	if result, failed := h.failure("upload " + remote); failed {
		return &release.CommandError{Command: "upload " + remote, Output: result.Output, ExitCode: result.ExitCode}
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}

	target := h.Path(remote)
	if err = os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	h.mu.Lock()
	h.uploads++
	h.mu.Unlock()

	return os.WriteFile(target, data, 0o644)
}

// Run interprets command against the host filesystem.
func (h *Host) Run(_ context.Context, command string, privilege release.Privilege) (transport.Result, error) {
	h.record(command, privilege)

	if result, failed := h.failure(command); failed {
		return result, nil
	}

	args, err := split(command)
	if err != nil {
		return transport.Result{}, err
	}

	return h.line(args)
}

// line runs a split command line. Words "&&" chain commands, "sudo -n" and
// "sh -c" are unwrapped.
func (h *Host) line(args []string) (transport.Result, error) {
	for i, arg := range args {
		if arg != "&&" {
			continue
		}

		result, err := h.line(args[:i])
		if err != nil || !result.OK() {
			return result, err
		}

		return h.line(args[i+1:])
	}

	if len(args) > 1 && args[0] == "sudo" && args[1] == "-n" {
		args = args[2:]
	}

	if len(args) == 0 {
		return transport.Result{}, nil
	}

	if len(args) == 3 && args[0] == "sh" && args[1] == "-c" {
		inner, err := split(args[2])
		if err != nil {
			return transport.Result{}, err
		}

		return h.line(inner)
	}

	h.mu.Lock()
	handler, ok := h.handlers[args[0]]
	h.mu.Unlock()

	if ok {
		return handler(args), nil
	}

	return h.builtin(args), nil
}

// Close is a no-op.
func (h *Host) Close() error {
	return nil
}

// record appends a call.
func (h *Host) record(command string, privilege release.Privilege) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls = append(h.calls, Call{Command: command, Privilege: privilege})
}

// failure returns the injected failure matching command.
func (h *Host) failure(command string) (transport.Result, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for substr, result := range h.failures {
		if strings.Contains(command, substr) {
			return result, true
		}
	}

	return transport.Result{}, false
}

// unmap converts a local path back to its remote form.
func (h *Host) unmap(local string) string {
	rel, err := filepath.Rel(h.root, local)
	if err != nil || strings.HasPrefix(rel, "..") {
		return local
	}

	return "/" + filepath.ToSlash(rel)
}

// builtin executes the supported command vocabulary.
//
//nolint:cyclop // One case per supported program.
func (h *Host) builtin(args []string) transport.Result {
	var err error

	output := ""
	operands := positional(args[1:])

	switch args[0] {
	case "mkdir":
		for _, dir := range operands {
			if err = os.MkdirAll(h.Path(dir), 0o755); err != nil {
				break
			}
		}
	case "chown", "chmod", "cd", "true":
		// Ownership and working directories are not modelled.
	case "test":
		return h.test(args[1:])
	case "rm":
		for _, target := range operands {
			if err = os.RemoveAll(h.Path(target)); err != nil {
				break
			}
		}
	case "unzip":
		err = h.unzip(args[1:])
	case "mv":
		err = h.move(operands)
	case "ln":
		err = h.link(operands)
	case "cp":
		err = h.copy(operands)
	case "readlink":
		if len(operands) != 1 {
			return transport.Result{Output: "readlink: missing operand\n", ExitCode: 1}
		}

		var target string

		if target, err = h.Readlink(operands[0]); err == nil {
			output = target + "\n"
		}
	case "ls":
		output, err = h.list(operands)
	default:
		return transport.Result{Output: args[0] + ": command not found\n", ExitCode: 127}
	}

	if err != nil {
		return transport.Result{Output: err.Error() + "\n", ExitCode: 1}
	}

	return transport.Result{Output: output, ExitCode: 0}
}

// test implements `test -e|-d|-f|-L path`.
func (h *Host) test(args []string) transport.Result {
	if len(args) != 2 {
		return transport.Result{Output: "test: bad arguments\n", ExitCode: 2}
	}

	local := h.Path(args[1])

	var ok bool

	switch args[0] {
	case "-e":
		_, err := os.Stat(local)
		ok = err == nil
	case "-d":
		info, err := os.Stat(local)
		ok = err == nil && info.IsDir()
	case "-f":
		info, err := os.Stat(local)
		ok = err == nil && info.Mode().IsRegular()
	case "-L":
		info, err := os.Lstat(local)
		ok = err == nil && info.Mode()&os.ModeSymlink != 0
	default:
		return transport.Result{Output: "test: unknown operator\n", ExitCode: 2}
	}

	if ok {
		return transport.Result{}
	}

	return transport.Result{ExitCode: 1}
}

// unzip implements `unzip [-q] [-o] archive -d dir`.
func (h *Host) unzip(args []string) error {
	var archive, dest string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-d" && i+1 < len(args):
			dest = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-"):
		default:
			archive = args[i]
		}
	}

	reader, err := zip.OpenReader(h.Path(archive))
	if err != nil {
		return err
	}

	defer func() {
		_ = reader.Close()
	}()

	for _, file := range reader.File {
		if err = h.extract(file, path.Join(dest, file.Name)); err != nil {
			return err
		}
	}

	return nil
}

// extract writes one zip entry.
func (h *Host) extract(file *zip.File, remote string) error {
	target := h.Path(remote)

	if file.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return err
	}

	defer func() {
		_ = src.Close()
	}()

	if file.Mode()&os.ModeSymlink != 0 {
		linkTarget, err := io.ReadAll(src)
		if err != nil {
			return err
		}

		return os.Symlink(string(linkTarget), target)
	}

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, file.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err = io.Copy(dst, src); err != nil {
		_ = dst.Close()

		return err
	}

	return dst.Close()
}

// move implements `mv [-T] [-f] src dst` with rename(2).
func (h *Host) move(operands []string) error {
	if len(operands) != 2 {
		return fmt.Errorf("mv: want 2 operands, got %d", len(operands))
	}

	return os.Rename(h.Path(operands[0]), h.Path(operands[1]))
}

// link implements `ln -s[fn] target link`. Targets are stored as local paths.
func (h *Host) link(operands []string) error {
	if len(operands) != 2 {
		return fmt.Errorf("ln: want 2 operands, got %d", len(operands))
	}

	local := h.Path(operands[1])
	if err := os.Remove(local); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return os.Symlink(h.Path(operands[0]), local)
}

// copy implements `cp src dst`.
func (h *Host) copy(operands []string) error {
	if len(operands) != 2 {
		return fmt.Errorf("cp: want 2 operands, got %d", len(operands))
	}

	data, err := os.ReadFile(h.Path(operands[0]))
	if err != nil {
		return err
	}

	return os.WriteFile(h.Path(operands[1]), data, 0o644)
}

// list implements `ls -1t dir`: newest first, ties broken by name.
func (h *Host) list(operands []string) (string, error) {
	if len(operands) != 1 {
		return "", fmt.Errorf("ls: want 1 operand, got %d", len(operands))
	}

	entries, err := os.ReadDir(h.Path(operands[0]))
	if err != nil {
		return "", err
	}

	type item struct {
		name  string
		mtime int64
	}

	items := make([]item, 0, len(entries))

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return "", err
		}

		items = append(items, item{name: entry.Name(), mtime: info.ModTime().UnixNano()})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].mtime != items[j].mtime {
			return items[i].mtime > items[j].mtime
		}

		return items[i].name < items[j].name
	})

	var builder strings.Builder
	for _, it := range items {
		builder.WriteString(it.name)
		builder.WriteByte('\n')
	}

	return builder.String(), nil
}

// positional drops option arguments.
func positional(args []string) []string {
	var operands []string

	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			continue
		}

		operands = append(operands, arg)
	}

	return operands
}

// split breaks a command line into words, honoring the quoting produced by transport.Quote.
func split(command string) ([]string, error) {
	var (
		words   []string
		current strings.Builder
		inQuote bool
		inWord  bool
		escaped bool
	)

	for _, r := range command {
		switch {
		case escaped:
			current.WriteRune(r)

			escaped = false
		case r == '\'':
			inQuote = !inQuote
			inWord = true
		case r == '\\' && !inQuote:
			escaped = true
			inWord = true
		case (r == ' ' || r == '\t') && !inQuote:
			if inWord {
				words = append(words, current.String())
				current.Reset()

				inWord = false
			}
		default:
			current.WriteRune(r)

			inWord = true
		}
	}

	if inQuote || escaped {
		return nil, fmt.Errorf("unterminated quote in %q", command)
	}

	if inWord {
		words = append(words, current.String())
	}

	return words, nil
}
