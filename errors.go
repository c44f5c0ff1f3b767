// SPDX-License-Identifier: MIT
// Source: github.com/cerisier/pkgutil

package pkgutil

import "errors"

// Sentinel errors for package expansion. Use errors.Is in callers.
var (
	// ErrBadMagic means the source does not start with a xar header.
	ErrBadMagic = errors.New("not a xar archive: bad magic")
	// ErrInvalidArchive means the container header or table of contents is malformed.
	ErrInvalidArchive = errors.New("invalid xar archive")
	// ErrUnsupportedEncoding means an entry uses an unknown heap encoding.
	ErrUnsupportedEncoding = errors.New("unsupported entry encoding")
	// ErrNotPbzx means the stream does not start with the pbzx magic.
	ErrNotPbzx = errors.New("not a pbzx stream")
	// ErrBadChunkHeader means a pbzx chunk does not begin with an xz stream header.
	ErrBadChunkHeader = errors.New("pbzx chunk header is not an xz stream header")
	// ErrBadChunkTrailer means a pbzx chunk does not end with the YZ footer bytes.
	ErrBadChunkTrailer = errors.New("pbzx chunk footer is not YZ")
	// ErrShortChunk means a pbzx chunk length is smaller than the xz stream header.
	ErrShortChunk = errors.New("pbzx chunk length too small")
	// ErrInvalidCpio means a cpio record header is malformed or has unknown magic.
	ErrInvalidCpio = errors.New("invalid cpio record")
	// ErrInvalidEntryPath means an entry path is empty, absolute, or contains a parent segment.
	ErrInvalidEntryPath = errors.New("invalid entry path")
	// ErrInvalidPattern means one or more include/exclude patterns failed to compile.
	ErrInvalidPattern = errors.New("invalid filter pattern")
	// ErrOutputExists means the output file already exists and overwrite is disabled.
	ErrOutputExists = errors.New("output exists")
	// ErrUnsupportedEntryType means the entry type cannot be written to disk.
	ErrUnsupportedEntryType = errors.New("unsupported entry type")
	// ErrLinkTargetEscape means a link target resolves outside the output root.
	ErrLinkTargetEscape = errors.New("link target escapes output root")
	// ErrNilReader means the archive reader is nil.
	ErrNilReader = errors.New("reader is nil")
	// ErrClosed means the reader or resource is already closed.
	ErrClosed = errors.New("reader or resource already closed")
)
