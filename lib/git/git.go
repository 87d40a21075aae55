// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI for repository
// operations. Masa uses git for run planning and workspace
// materialization: resolving the pushed ref to a commit and exporting
// the tree at that commit into a private job workspace. All commands
// target a specific repository directory via the -C flag, which is
// automatically injected by all Repository methods.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Repository represents a git repository at a specific directory. All
// operations target this directory via "git -C <dir>". There is no
// default directory — callers must always specify which repository
// they mean.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting the given directory.
// The directory may be a working tree or a bare repository.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository and returns
// stdout. Stderr is captured separately and included in error messages
// on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Command returns an *exec.Cmd for a git command without running it.
// The caller gets full control over Stdin, Stdout, Stderr, and
// SysProcAttr before starting the process. The -C flag targeting
// this repository is automatically prepended.
func (r *Repository) Command(ctx context.Context, args ...string) *exec.Cmd {
	fullArgs := append([]string{"-C", r.dir}, args...)
	return exec.CommandContext(ctx, "git", fullArgs...)
}

// ResolveRef resolves a ref (full "refs/tags/v1.0.0" or short
// "v1.0.0") to the commit it points at. Annotated tags are peeled to
// the tagged commit.
func (r *Repository) ResolveRef(ctx context.Context, ref string) (string, error) {
	output, err := r.Run(ctx, "rev-parse", "--verify", "--end-of-options", ref+"^{commit}")
	if err != nil {
		return "", fmt.Errorf("resolving ref %q: %w", ref, err)
	}
	return strings.TrimSpace(output), nil
}

// ArchiveCommand returns the git archive invocation that writes the
// tree at ref to stdout as an uncompressed tar stream. The caller
// wires up stdout (typically to lib/archive.Unpack) and starts the
// process.
func (r *Repository) ArchiveCommand(ctx context.Context, ref string) *exec.Cmd {
	return r.Command(ctx, "archive", "--format=tar", ref)
}

// IsRepository reports whether dir is inside a git repository (a
// working tree or a bare repository). Used to decide between git
// archive export and plain directory copy when materializing a job
// workspace.
func IsRepository(ctx context.Context, dir string) bool {
	command := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--git-dir")
	command.Stdout = nil
	command.Stderr = nil
	return command.Run() == nil
}
