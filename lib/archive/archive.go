// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive packs artifact payloads into tar streams and
// unpacks tar streams (including git archive exports) with path
// safety checks.
//
// Packing is deterministic: entries are written in sorted path order
// with ownership cleared and modification times pinned to the epoch.
// Packing the same file set twice produces byte-identical archives,
// so content-addressed store references are stable across runs.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// epoch is the modification time stamped on every packed entry.
var epoch = time.Unix(0, 0).UTC()

// packEntry is one filesystem object selected for packing.
type packEntry struct {
	// relPath is the slash-separated archive name, relative to the
	// pack root.
	relPath string
	// absPath is the filesystem location.
	absPath string
	info    fs.FileInfo
}

// Pack writes the named paths from root as a tar stream to writer.
// Paths are root-relative; directories are packed recursively.
// Returns the number of regular files written.
//
// Entry metadata is normalized for determinism: uid/gid zero, no
// user or group names, epoch modification times. Permission bits are
// preserved, so executables stay executable after unpacking.
func Pack(writer io.Writer, root string, paths []string) (int, error) {
	entries, err := collectEntries(root, paths)
	if err != nil {
		return 0, err
	}

	tarWriter := tar.NewWriter(writer)
	files := 0
	for _, entry := range entries {
		wroteFile, err := writeEntry(tarWriter, entry)
		if err != nil {
			return files, err
		}
		if wroteFile {
			files++
		}
	}
	if err := tarWriter.Close(); err != nil {
		return files, fmt.Errorf("finalizing archive: %w", err)
	}
	return files, nil
}

// collectEntries resolves the requested paths into a sorted,
// deduplicated entry list. Directories are walked recursively.
func collectEntries(root string, paths []string) ([]packEntry, error) {
	seen := make(map[string]packEntry)

	add := func(relPath string, info fs.FileInfo) error {
		relPath = filepath.ToSlash(relPath)
		if !filepath.IsLocal(relPath) {
			return fmt.Errorf("path %q escapes the pack root", relPath)
		}
		seen[relPath] = packEntry{
			relPath: relPath,
			absPath: filepath.Join(root, filepath.FromSlash(relPath)),
			info:    info,
		}
		return nil
	}

	for _, path := range paths {
		relPath := filepath.ToSlash(filepath.Clean(path))
		absPath := filepath.Join(root, filepath.FromSlash(relPath))

		info, err := os.Lstat(absPath)
		if err != nil {
			return nil, fmt.Errorf("packing %s: %w", path, err)
		}

		if !info.IsDir() {
			if err := add(relPath, info); err != nil {
				return nil, err
			}
			continue
		}

		err = filepath.WalkDir(absPath, func(walked string, dirEntry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			walkedInfo, err := dirEntry.Info()
			if err != nil {
				return err
			}
			walkedRel, err := filepath.Rel(root, walked)
			if err != nil {
				return err
			}
			return add(walkedRel, walkedInfo)
		})
		if err != nil {
			return nil, fmt.Errorf("packing %s: %w", path, err)
		}
	}

	entries := make([]packEntry, 0, len(seen))
	for _, entry := range seen {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].relPath < entries[j].relPath
	})
	return entries, nil
}

// writeEntry writes one entry's header (and content, for regular
// files) to the tar stream. Reports whether a regular file was
// written.
func writeEntry(tarWriter *tar.Writer, entry packEntry) (bool, error) {
	var linkTarget string
	if entry.info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(entry.absPath)
		if err != nil {
			return false, fmt.Errorf("reading symlink %s: %w", entry.relPath, err)
		}
		linkTarget = target
	}

	header, err := tar.FileInfoHeader(entry.info, linkTarget)
	if err != nil {
		return false, fmt.Errorf("packing %s: %w", entry.relPath, err)
	}

	header.Name = entry.relPath
	if entry.info.IsDir() {
		header.Name += "/"
	}
	header.Mode = int64(entry.info.Mode().Perm())
	header.Uid = 0
	header.Gid = 0
	header.Uname = ""
	header.Gname = ""
	header.ModTime = epoch
	header.AccessTime = time.Time{}
	header.ChangeTime = time.Time{}
	header.Format = tar.FormatPAX

	if err := tarWriter.WriteHeader(header); err != nil {
		return false, fmt.Errorf("packing %s: %w", entry.relPath, err)
	}

	if !entry.info.Mode().IsRegular() {
		return false, nil
	}

	file, err := os.Open(entry.absPath)
	if err != nil {
		return false, fmt.Errorf("packing %s: %w", entry.relPath, err)
	}
	defer file.Close()

	if _, err := io.Copy(tarWriter, file); err != nil {
		return false, fmt.Errorf("packing %s: %w", entry.relPath, err)
	}
	return true, nil
}

// Unpack extracts a tar stream into destDir. Entry names must stay
// within destDir (no absolute paths, no .. traversal) and symlink
// targets must resolve inside the destination tree; violations abort
// the extraction. Global PAX headers, as emitted by git archive, are
// skipped.
func Unpack(reader io.Reader, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", destDir, err)
	}

	tarReader := tar.NewReader(reader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}
		if header.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		name := filepath.FromSlash(header.Name)
		if !filepath.IsLocal(name) {
			return fmt.Errorf("archive entry %q escapes the destination", header.Name)
		}
		target := filepath.Join(destDir, name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, header.FileInfo().Mode().Perm()|0o700); err != nil {
				return fmt.Errorf("creating directory %s: %w", header.Name, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", header.Name, err)
			}
			if err := writeFile(target, header, tarReader); err != nil {
				return err
			}

		case tar.TypeSymlink:
			if err := checkLinkTarget(header); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("creating parent of %s: %w", header.Name, err)
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("creating symlink %s: %w", header.Name, err)
			}

		default:
			return fmt.Errorf("archive entry %q has unsupported type %q", header.Name, header.Typeflag)
		}
	}
	return nil
}

// writeFile writes one regular file entry to disk.
func writeFile(target string, header *tar.Header, content io.Reader) error {
	file, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, header.FileInfo().Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating file %s: %w", header.Name, err)
	}
	if _, err := io.Copy(file, content); err != nil {
		file.Close()
		return fmt.Errorf("writing file %s: %w", header.Name, err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing file %s: %w", header.Name, err)
	}
	return nil
}

// checkLinkTarget rejects symlink entries whose target could resolve
// outside the destination tree: absolute targets, and relative
// targets that climb past the link's own directory.
func checkLinkTarget(header *tar.Header) error {
	if filepath.IsAbs(header.Linkname) {
		return fmt.Errorf("symlink %q has absolute target %q", header.Name, header.Linkname)
	}
	resolved := filepath.Join(filepath.Dir(filepath.FromSlash(header.Name)), filepath.FromSlash(header.Linkname))
	if !filepath.IsLocal(resolved) {
		return fmt.Errorf("symlink %q target %q escapes the destination", header.Name, header.Linkname)
	}
	return nil
}
