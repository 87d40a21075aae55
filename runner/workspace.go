// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/masa-foundation/masa/lib/archive"
	"github.com/masa-foundation/masa/lib/git"
	"github.com/masa-foundation/masa/lib/gitref"
)

// source is the origin job workspaces are materialized from. For git
// repositories the triggering ref is resolved to a commit once, and
// every job exports the tree at that commit — concurrent jobs see an
// identical source even if the repository moves underneath the run.
// Plain directories are copied as-is.
type source struct {
	dir    string
	git    bool
	commit string
}

// resolveSource inspects dir and, for git repositories, resolves ref
// to the commit all workspaces will export. A zero ref resolves HEAD
// (--force runs without a ref).
func resolveSource(ctx context.Context, dir string, ref gitref.Ref) (*source, error) {
	absolute, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving source directory %s: %w", dir, err)
	}
	info, err := os.Stat(absolute)
	if err != nil {
		return nil, fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", absolute)
	}

	if !git.IsRepository(ctx, absolute) {
		return &source{dir: absolute}, nil
	}

	target := "HEAD"
	if !ref.IsZero() {
		target = ref.String()
	}
	commit, err := git.NewRepository(absolute).ResolveRef(ctx, target)
	if err != nil {
		return nil, err
	}
	return &source{dir: absolute, git: true, commit: commit}, nil
}

// materialize creates dest and fills it with the source tree.
func (s *source) materialize(ctx context.Context, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	if s.git {
		return s.exportArchive(ctx, dest)
	}
	return copyTree(s.dir, dest)
}

// exportArchive streams "git archive <commit>" into dest. The export
// contains exactly the committed tree: no .git directory, no
// untracked files, no local modifications.
func (s *source) exportArchive(ctx context.Context, dest string) error {
	command := git.NewRepository(s.dir).ArchiveCommand(ctx, s.commit)
	var stderr bytes.Buffer
	command.Stderr = &stderr

	stdout, err := command.StdoutPipe()
	if err != nil {
		return fmt.Errorf("git archive: %w", err)
	}
	if err := command.Start(); err != nil {
		return fmt.Errorf("git archive: %w", err)
	}

	unpackErr := archive.Unpack(stdout, dest)
	// Drain trailing tar padding so git can exit cleanly, then
	// collect its status.
	io.Copy(io.Discard, stdout)
	waitErr := command.Wait()

	if waitErr != nil {
		return fmt.Errorf("git archive %s: %w (stderr: %s)",
			s.commit, waitErr, strings.TrimSpace(stderr.String()))
	}
	if unpackErr != nil {
		return fmt.Errorf("unpacking git archive: %w", unpackErr)
	}
	return nil
}

// copyTree recursively copies the tree rooted at src into dest,
// preserving permissions and symlinks. Any .git directory is skipped
// so a plain-directory source nested in a larger checkout does not
// drag repository internals into the workspace.
func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relative, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if relative == "." {
			return nil
		}
		if entry.IsDir() && entry.Name() == ".git" {
			return filepath.SkipDir
		}

		target := filepath.Join(dest, relative)
		info, err := entry.Info()
		if err != nil {
			return err
		}

		switch {
		case entry.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case info.Mode()&fs.ModeSymlink != 0:
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(linkTarget, target)
		case info.Mode().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			// Sockets, devices, pipes: not part of a source tree.
			return nil
		}
	})
}

func copyFile(src, dest string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}
