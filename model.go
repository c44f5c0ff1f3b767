// SPDX-License-Identifier: MIT
// Source: github.com/cerisier/pkgutil

package pkgutil

import (
	"io/fs"
	"log/slog"
	"time"
)

// EntryType classifies one archive entry.
type EntryType int

// Archive entry types shared by the outer container and nested manifests.
const (
	// TypeFile is a regular file entry.
	TypeFile EntryType = iota
	// TypeDirectory is a directory entry.
	TypeDirectory
	// TypeSymlink is a symbolic link entry; Linkname holds the target.
	TypeSymlink
	// TypeHardlink is a hard link entry; Linkname holds the archive path of the original.
	TypeHardlink
)

// String returns a short human-readable entry type name.
func (t EntryType) String() string {
	switch t {
	case TypeFile:
		return "file"
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	case TypeHardlink:
		return "hardlink"
	default:
		return "unknown"
	}
}

// Entry describes a single archive entry from either engine.
type Entry struct {
	// Path is the entry path as stored in the archive.
	Path string
	// Linkname is the symlink target or hard link original path; empty otherwise.
	Linkname string
	// Size is the uncompressed data size in bytes.
	Size int64
	// Mode holds permission bits for the entry.
	Mode fs.FileMode
	// ModTime is the stored modification time; zero when absent.
	ModTime time.Time
	// UID is the stored owner user id.
	UID int
	// GID is the stored owner group id.
	GID int
	// Type classifies the entry.
	Type EntryType

	// heap extent, used by the outer container engine only.
	heapOffset   int64
	heapLength   int64
	heapEncoding string
}

// ExpandMode selects flat or deep package expansion.
type ExpandMode int

// Expansion modes.
const (
	// ModeFlat writes every outer entry as-is; nested archives stay opaque files.
	ModeFlat ExpandMode = iota
	// ModeFull recursively extracts nested archive entries.
	ModeFull
)

// WriteOptions controls how entries are applied to the filesystem.
type WriteOptions struct {
	// PreserveTimes restores entry modification times.
	PreserveTimes bool
	// PreservePermissions restores entry permission bits.
	PreservePermissions bool
	// PreserveACL is accepted for option-set compatibility; no manifest read
	// by this module carries ACL records.
	PreserveACL bool
	// PreserveXattr is accepted for option-set compatibility; no manifest read
	// by this module carries extended attributes.
	PreserveXattr bool
	// PreserveFlags is accepted for option-set compatibility; no manifest read
	// by this module carries file flags.
	PreserveFlags bool
	// PreserveOwner restores entry uid/gid (requires privileges).
	PreserveOwner bool
	// ForceOverwrite replaces existing output files instead of failing.
	ForceOverwrite bool
	// SecureSymlinks resolves output paths without following symlinks out of root.
	SecureSymlinks bool
	// SecureNoDotDot rejects entry paths containing parent segments.
	SecureNoDotDot bool
	// SecureNoAbsolutePaths rejects absolute entry paths and link targets.
	SecureNoAbsolutePaths bool
}

// ExpandOptions configures one package expansion run.
type ExpandOptions struct {
	// Logger receives structured progress events; nil discards them.
	Logger *slog.Logger
	// OnEntryDone is called after one entry is fully written to disk.
	OnEntryDone func(logicalPath string, written int64, outputPath string)
	// Include holds include patterns; when non-empty, non-matching paths are skipped.
	Include []string
	// Exclude holds exclude patterns; matches are always skipped.
	Exclude []string
	// Mode selects flat or deep expansion.
	Mode ExpandMode
	// StripComponents removes this many leading path segments from every entry.
	StripComponents int
	// Force replaces existing output files and drops ownership preservation.
	Force bool
}

// applyDefaults fills zero-valued expand options with defaults.
func (opts *ExpandOptions) applyDefaults() {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if opts.StripComponents < 0 {
		opts.StripComponents = 0
	}
}

// writeOptions builds the fixed disk writer policy for an expansion run:
// metadata preservation plus path hardening, with overwrite enabled only
// under force.
func (opts *ExpandOptions) writeOptions() WriteOptions {
	return WriteOptions{
		PreserveTimes:         true,
		PreservePermissions:   true,
		PreserveACL:           true,
		PreserveXattr:         true,
		PreserveFlags:         true,
		PreserveOwner:         !opts.Force,
		ForceOverwrite:        opts.Force,
		SecureSymlinks:        true,
		SecureNoDotDot:        true,
		SecureNoAbsolutePaths: true,
	}
}
