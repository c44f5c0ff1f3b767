// SPDX-License-Identifier: MIT
// Source: github.com/cerisier/pkgutil

package pkgutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// writeCopyBufferSize is the fixed buffer size for file data copies.
const writeCopyBufferSize = 64 * 1024

// DiskWriter applies archive entries to the filesystem under a configured
// policy. It is the single place that touches the output tree.
type DiskWriter struct {
	opts WriteOptions
}

// NewDiskWriter returns a writer with the given policy.
func NewDiskWriter(opts WriteOptions) *DiskWriter {
	return &DiskWriter{opts: opts}
}

// Apply writes one entry under root. The entry path must be relative; data
// supplies file content for regular files and may be nil for other types.
// It returns the number of content bytes written.
func (w *DiskWriter) Apply(entry *Entry, root string, data io.Reader) (int64, error) {
	if err := w.checkEntryPath(entry); err != nil {
		return 0, err
	}

	outPath, err := w.resolve(root, entry.Path)
	if err != nil {
		return 0, err
	}

	if err := w.prepareParents(root, entry.Path); err != nil {
		return 0, err
	}

	var written int64
	switch entry.Type {
	case TypeDirectory:
		err = makeDirIdempotent(outPath)
	case TypeFile:
		written, err = w.writeFile(outPath, entry, data)
	case TypeSymlink:
		err = w.writeSymlink(root, outPath, entry)
	case TypeHardlink:
		err = w.writeHardlink(root, outPath, entry)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedEntryType, entry.Path)
	}
	if err != nil {
		return written, err
	}

	if err := w.applyMetadata(outPath, entry); err != nil {
		return written, err
	}

	return written, nil
}

// checkEntryPath enforces the path hardening options on the entry path.
func (w *DiskWriter) checkEntryPath(entry *Entry) error {
	if entry.Path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidEntryPath)
	}

	if w.opts.SecureNoAbsolutePaths && strings.HasPrefix(entry.Path, "/") {
		return fmt.Errorf("%w: absolute path %q", ErrInvalidEntryPath, entry.Path)
	}

	if w.opts.SecureNoDotDot {
		for _, segment := range strings.Split(entry.Path, "/") {
			if segment == ".." {
				return fmt.Errorf("%w: parent segment in %q", ErrInvalidEntryPath, entry.Path)
			}
		}
	}

	return nil
}

// resolve maps a relative entry path to an output path under root,
// refusing to follow symlinks out of the root when so configured.
func (w *DiskWriter) resolve(root, rel string) (string, error) {
	if w.opts.SecureSymlinks {
		outPath, err := securejoin.SecureJoin(root, filepath.FromSlash(rel))
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", rel, err)
		}

		return outPath, nil
	}

	return filepath.Join(root, filepath.FromSlash(rel)), nil
}

// prepareParents creates the missing ancestor directories of rel under root,
// nearest the root first.
func (w *DiskWriter) prepareParents(root, rel string) error {
	for _, dir := range ancestorDirs(rel) {
		dirPath, err := w.resolve(root, dir)
		if err != nil {
			return err
		}

		if err := makeDirIdempotent(dirPath); err != nil {
			return err
		}
	}

	return nil
}

// ancestorDirs returns the ordered list of ancestor directories of a
// relative slash path, shallowest first. "usr/bin/tool" yields
// ["usr", "usr/bin"].
func ancestorDirs(rel string) []string {
	var dirs []string
	for i := 0; i < len(rel); i++ {
		if rel[i] == '/' && i > 0 {
			dirs = append(dirs, rel[:i])
		}
	}

	return dirs
}

// makeDirIdempotent creates one directory, tolerating an existing one.
func makeDirIdempotent(path string) error {
	err := os.Mkdir(path, 0o755)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return nil
	}

	return fmt.Errorf("create directory %s: %w", path, err)
}

// writeFile writes regular file content, honoring the overwrite policy.
func (w *DiskWriter) writeFile(outPath string, entry *Entry, data io.Reader) (int64, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if w.opts.ForceOverwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	file, err := os.OpenFile(outPath, flags, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return 0, fmt.Errorf("%w: %s", ErrOutputExists, outPath)
		}

		return 0, fmt.Errorf("open %s: %w", entry.Path, err)
	}

	var written int64
	if data != nil {
		written, err = copyData(file, data)
	}

	closeErr := file.Close()
	if err != nil {
		return written, fmt.Errorf("write %s: %w", entry.Path, err)
	}
	if closeErr != nil {
		return written, fmt.Errorf("close %s: %w", entry.Path, closeErr)
	}

	return written, nil
}

// writeSymlink creates a symlink entry after validating its target.
func (w *DiskWriter) writeSymlink(root, outPath string, entry *Entry) error {
	target := entry.Linkname
	if target == "" {
		return fmt.Errorf("%w: symlink %s has empty target", ErrInvalidEntryPath, entry.Path)
	}

	if w.opts.SecureNoAbsolutePaths && strings.HasPrefix(target, "/") {
		return fmt.Errorf("%w: symlink %s -> %s", ErrLinkTargetEscape, entry.Path, target)
	}

	if w.opts.SecureSymlinks && !strings.HasPrefix(target, "/") {
		// Lexical escape check relative to the link's directory.
		resolved := filepath.Join(filepath.Dir(entry.Path), filepath.FromSlash(target))
		if resolved == ".." || strings.HasPrefix(resolved, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%w: symlink %s -> %s", ErrLinkTargetEscape, entry.Path, target)
		}
	}

	if w.opts.ForceOverwrite {
		if err := removeIfExists(outPath); err != nil {
			return err
		}
	}

	if err := os.Symlink(filepath.FromSlash(target), outPath); err != nil {
		return fmt.Errorf("symlink %s: %w", entry.Path, err)
	}

	return nil
}

// writeHardlink links the entry to an already-extracted archive path.
func (w *DiskWriter) writeHardlink(root, outPath string, entry *Entry) error {
	if entry.Linkname == "" {
		return fmt.Errorf("%w: hardlink %s has empty target", ErrInvalidEntryPath, entry.Path)
	}

	targetPath, err := w.resolve(root, entry.Linkname)
	if err != nil {
		return err
	}

	if w.opts.ForceOverwrite {
		if err := removeIfExists(outPath); err != nil {
			return err
		}
	}

	if err := os.Link(targetPath, outPath); err != nil {
		return fmt.Errorf("hardlink %s -> %s: %w", entry.Path, entry.Linkname, err)
	}

	return nil
}

// applyMetadata restores entry metadata according to the preserve options.
// ACL/xattr/flag preservation are accepted but have no source data in the
// manifests this module reads.
func (w *DiskWriter) applyMetadata(outPath string, entry *Entry) error {
	if entry.Type == TypeSymlink || entry.Type == TypeHardlink {
		return nil
	}

	if w.opts.PreservePermissions && entry.Mode != 0 {
		if err := os.Chmod(outPath, entry.Mode); err != nil {
			return fmt.Errorf("chmod %s: %w", entry.Path, err)
		}
	}

	if w.opts.PreserveOwner {
		if err := os.Chown(outPath, entry.UID, entry.GID); err != nil && !errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("chown %s: %w", entry.Path, err)
		}
	}

	if w.opts.PreserveTimes && !entry.ModTime.IsZero() {
		if err := os.Chtimes(outPath, entry.ModTime, entry.ModTime); err != nil {
			return fmt.Errorf("set times %s: %w", entry.Path, err)
		}
	}

	return nil
}

// removeIfExists removes a path, tolerating its absence.
func removeIfExists(path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return fmt.Errorf("remove existing %s: %w", path, err)
}

// copyData copies one entry stream to the output file with a fixed buffer.
func copyData(dst *os.File, src io.Reader) (int64, error) {
	buf := make([]byte, writeCopyBufferSize)

	var total int64
	for {
		readN, readErr := src.Read(buf)
		if readN > 0 {
			writeN, writeErr := dst.Write(buf[:readN])
			total += int64(writeN)

			if writeErr != nil {
				return total, writeErr
			}

			if writeN != readN {
				return total, io.ErrShortWrite
			}
		}

		if readErr == nil {
			continue
		}

		if readErr == io.EOF {
			return total, nil
		}

		return total, readErr
	}
}
