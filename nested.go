// SPDX-License-Identifier: MIT
// Source: github.com/cerisier/pkgutil

package pkgutil

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// containerKind is the classification of one outer entry, resolved once.
type containerKind int

// Outer entry classifications.
const (
	// kindFlat marks an ordinary entry written as-is.
	kindFlat containerKind = iota
	// kindPayload marks a nested payload archive entry.
	kindPayload
	// kindScripts marks a nested scripts archive entry.
	kindScripts
)

// String returns a short classification name for logging.
func (k containerKind) String() string {
	switch k {
	case kindPayload:
		return "payload"
	case kindScripts:
		return "scripts"
	default:
		return "flat"
	}
}

// classifyEntry resolves the nested-archive classification from the entry's
// logical name. The base name must be exactly "Payload" or "Scripts"; this
// also covers "./Payload" and nested forms like "foo.pkg/Payload".
func classifyEntry(logicalPath string) containerKind {
	switch path.Base(logicalPath) {
	case "Payload":
		return kindPayload
	case "Scripts":
		return kindScripts
	default:
		return kindFlat
	}
}

// nestedExtractor extracts one container entry's data as an independent
// archive under the output root, reusing the outer filtering, stripping,
// and writing contracts.
type nestedExtractor struct {
	filter *PatternFilter
	writer *DiskWriter
	logger *slog.Logger
	onDone func(logicalPath string, written int64, outputPath string)
	strip  int
}

// extract opens containerData as a nested archive and writes its entries
// under outRoot. It returns (true, nil) when the container was skipped
// before opening because the filter excludes it and no include pattern
// names a descendant.
func (x *nestedExtractor) extract(containerLogical string, containerData io.Reader, outRoot string) (bool, error) {
	if x.filter.IsExcluded(containerLogical) && !x.filter.HasIncludeDescendant(containerLogical) {
		return true, nil
	}

	// Nested output directory comes from stripping the container path;
	// a fully consumed path lands inner entries at the output root.
	nestedRel := ""
	if stripped, ok := StripComponents(containerLogical, x.strip); ok {
		nestedRel = stripped
	}

	nestedRoot := outRoot
	if nestedRel != "" {
		for _, dir := range append(ancestorDirs(nestedRel), nestedRel) {
			dirPath, err := x.writer.resolve(outRoot, dir)
			if err != nil {
				return false, err
			}

			if err := makeDirIdempotent(dirPath); err != nil {
				return false, err
			}
		}

		resolved, err := x.writer.resolve(outRoot, nestedRel)
		if err != nil {
			return false, err
		}

		nestedRoot = resolved
	}

	stream, err := openNestedStream(containerData)
	if err != nil {
		return false, fmt.Errorf("open nested archive %s: %w", containerLogical, err)
	}

	residual := residualStrip(x.strip, containerLogical)
	if err := x.extractManifest(containerLogical, stream, nestedRoot, residual); err != nil {
		return false, err
	}

	return false, nil
}

// extractManifest walks the inner cpio manifest and applies each entry.
func (x *nestedExtractor) extractManifest(containerLogical string, stream io.Reader, nestedRoot string, residual int) error {
	cr := NewCpioReader(stream)
	for {
		entry, err := cr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read nested archive %s: %w", containerLogical, err)
		}

		normalized, err := NormalizeEntryPath(entry.Path)
		if err != nil {
			return fmt.Errorf("nested entry in %s: %w", containerLogical, err)
		}

		// Logical paths join the container path so filtering crosses the
		// nesting boundary.
		logical := containerLogical + "/" + normalized
		if x.filter.IsExcluded(logical) {
			continue
		}

		stripped, ok := StripComponents(normalized, residual)
		if !ok {
			continue
		}

		entry.Path = stripped
		if entry.Type == TypeHardlink {
			// The link target is a raw archive name and needs the same
			// normalization as the entry path before stripping.
			linkNormalized, err := NormalizeEntryPath(entry.Linkname)
			if err != nil {
				return fmt.Errorf("nested entry in %s: %w", containerLogical, err)
			}

			linkStripped, ok := StripComponents(linkNormalized, residual)
			if !ok {
				continue
			}

			entry.Linkname = linkStripped
		}

		var data io.Reader
		if entry.Type == TypeFile {
			data = cr
		}

		x.logger.Debug("extract nested entry",
			"container", containerLogical, "path", entry.Path, "type", entry.Type.String(), "size", entry.Size)

		written, err := x.writer.Apply(entry, nestedRoot, data)
		if err != nil {
			return fmt.Errorf("extract %s: %w", logical, err)
		}

		if x.onDone != nil {
			x.onDone(logical, written, filepath.Join(nestedRoot, filepath.FromSlash(entry.Path)))
		}
	}
}

// Nested stream magics checked by openNestedStream.
var (
	gzipMagic = []byte{0x1F, 0x8B}
	xzMagic   = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
)

// openNestedStream sniffs the container data and wraps it in the matching
// decoder: pbzx framing is removed and the reassembled xz stream decoded,
// plain gzip and xz payloads are decoded directly, and anything else is
// passed through as a raw manifest. Sniffed bytes are not consumed.
func openNestedStream(data io.Reader) (io.Reader, error) {
	br := bufio.NewReaderSize(data, 64*1024)

	magic, err := br.Peek(6)
	if err != nil && len(magic) == 0 {
		return nil, fmt.Errorf("sniff nested stream: %w", noEOF(err))
	}

	switch {
	case len(magic) >= 4 && bytes.Equal(magic[:4], pbzxMagic[:]):
		xr, err := xz.NewReader(NewDeframeReader(br))
		if err != nil {
			return nil, fmt.Errorf("open de-framed xz stream: %w", err)
		}

		return xr, nil
	case len(magic) >= 2 && bytes.Equal(magic[:2], gzipMagic):
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}

		return gr, nil
	case len(magic) >= 6 && bytes.Equal(magic, xzMagic):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open xz stream: %w", err)
		}

		return xr, nil
	default:
		return br, nil
	}
}
