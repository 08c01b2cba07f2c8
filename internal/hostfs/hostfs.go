// Package hostfs implements the fs/read_text_file and fs/write_text_file
// half of C5 Host Handler (SPEC_FULL.md §4.5), grounded on the teacher's
// internal/agentctl/server/adapter/acp/client.go ReadTextFile/WriteTextFile/
// resolvePath, with the write path corrected to the atomic write-to-temp-
// then-rename SPEC_FULL.md requires in place of the teacher's direct
// os.WriteFile.
package hostfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/raphi011/acpmux/internal/apperror"
)

// Host resolves and performs filesystem requests on behalf of one session's
// agent, confined to that session's working directory unless the active
// permission mode allows escaping it (SPEC_FULL.md §4.3 bypass_permissions).
type Host struct {
	cwd string

	// AllowOutsideCwd reports whether the session's current permission mode
	// permits resolving a path outside cwd (bypass_permissions does; every
	// other mode enforces the cwd confinement described in §4.5 Path safety).
	AllowOutsideCwd func() bool
}

// New returns a Host confined to cwd.
func New(cwd string, allowOutsideCwd func() bool) *Host {
	if allowOutsideCwd == nil {
		allowOutsideCwd = func() bool { return false }
	}
	return &Host{cwd: cwd, AllowOutsideCwd: allowOutsideCwd}
}

// resolvePath implements SPEC_FULL.md §4.5 "Path safety": an absolute path
// is accepted only if it lies within cwd (or the mode allows otherwise); a
// relative path is joined against cwd and Cleaned, then rejected if the
// result does not retain cwd as a prefix. This blocks traversal through
// either absolute or relative arguments.
func (h *Host) resolvePath(reqPath string) (string, error) {
	var resolved string
	if filepath.IsAbs(reqPath) {
		resolved = filepath.Clean(reqPath)
	} else {
		resolved = filepath.Clean(filepath.Join(h.cwd, reqPath))
	}

	root := filepath.Clean(h.cwd)
	withinRoot := resolved == root || strings.HasPrefix(resolved, root+string(filepath.Separator))
	if !withinRoot && !h.AllowOutsideCwd() {
		return "", apperror.PermissionDenied(fmt.Sprintf("path %q resolves outside session cwd %q", reqPath, h.cwd))
	}
	return resolved, nil
}

// ReadTextFile reads a bounded region of path. line is a 1-indexed starting
// line, limit a maximum line count, matching ACP's line-oriented field
// semantics rather than a byte offset.
func (h *Host) ReadTextFile(_ context.Context, path string, line, limit *int) (string, error) {
	resolved, err := h.resolvePath(path)
	if err != nil {
		return "", err
	}

	b, err := os.ReadFile(resolved)
	if err != nil {
		return "", apperror.IO(fmt.Sprintf("failed to read %q", path), err)
	}
	content := string(b)

	if line == nil && limit == nil {
		return content, nil
	}

	lines := strings.Split(content, "\n")
	start := 0
	if line != nil && *line > 0 {
		start = *line - 1
		if start > len(lines) {
			start = len(lines)
		}
	}
	end := len(lines)
	if limit != nil && *limit > 0 && start+*limit < end {
		end = start + *limit
	}
	return strings.Join(lines[start:end], "\n"), nil
}

// WriteTextFile writes content to path atomically: it writes to a temp file
// in the same directory, then renames over the destination, so a crash
// mid-write never leaves a truncated file where one previously existed.
// Parent directories are created as needed.
func (h *Host) WriteTextFile(_ context.Context, path, content string) error {
	resolved, err := h.resolvePath(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperror.IO(fmt.Sprintf("failed to create directory %q", dir), err)
	}

	tmp, err := os.CreateTemp(dir, ".acpmux-write-*")
	if err != nil {
		return apperror.IO("failed to create temp file for atomic write", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return apperror.IO(fmt.Sprintf("failed to write %q", path), err)
	}
	if err := tmp.Close(); err != nil {
		return apperror.IO(fmt.Sprintf("failed to close temp file for %q", path), err)
	}

	if err := os.Rename(tmpPath, resolved); err != nil {
		return apperror.IO(fmt.Sprintf("failed to rename into place for %q", path), err)
	}
	return nil
}
