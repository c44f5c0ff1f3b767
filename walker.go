// SPDX-License-Identifier: MIT
// Source: github.com/cerisier/pkgutil

package pkgutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Expand reads the package archive at archivePath ("-" for standard input)
// and extracts it under outDir according to opts. The walk is fail-fast:
// the first extraction error aborts the run; filter exclusions and
// strip-components underflows are silent skips.
func Expand(archivePath, outDir string, opts ExpandOptions) error {
	opts.applyDefaults()

	reader, cleanup, err := openSource(archivePath)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	return ExpandArchive(reader, outDir, opts)
}

// ExpandArchive extracts an already opened container under outDir.
func ExpandArchive(r *Reader, outDir string, opts ExpandOptions) error {
	if r == nil {
		return ErrNilReader
	}

	opts.applyDefaults()

	filter, err := NewPatternFilter(opts.Include, opts.Exclude)
	if err != nil {
		return err
	}

	walker := &packageWalker{
		archive: r,
		outDir:  outDir,
		filter:  filter,
		writer:  NewDiskWriter(opts.writeOptions()),
		opts:    &opts,
	}

	return walker.run()
}

// packageWalker drives one sequential scan over the outer archive,
// classifying each entry as flat or nested and dispatching it.
type packageWalker struct {
	archive *Reader
	filter  *PatternFilter
	writer  *DiskWriter
	opts    *ExpandOptions
	outDir  string
}

// run scans the outer entries in order. One error is fatal for the run.
func (w *packageWalker) run() error {
	nested := &nestedExtractor{
		filter: w.filter,
		writer: w.writer,
		logger: w.opts.Logger,
		onDone: w.opts.OnEntryDone,
		strip:  w.opts.StripComponents,
	}

	for _, entry := range w.archive.Entries() {
		logical, err := NormalizeEntryPath(entry.Path)
		if err != nil {
			return err
		}

		kind := kindFlat
		if w.opts.Mode == ModeFull {
			kind = classifyEntry(logical)
		}

		if kind == kindFlat {
			if err := w.extractFlat(&entry, logical); err != nil {
				return err
			}

			continue
		}

		w.opts.Logger.Debug("nested container",
			"path", logical, "kind", kind.String())

		skipped, err := w.extractNested(nested, &entry, logical)
		if err != nil {
			return err
		}
		if skipped {
			w.opts.Logger.Debug("nested container skipped", "path", logical)
		}
	}

	return nil
}

// extractFlat writes one outer entry directly under the output directory.
func (w *packageWalker) extractFlat(entry *Entry, logical string) error {
	if w.filter.IsExcluded(logical) {
		return nil
	}

	stripped, ok := StripComponents(logical, w.opts.StripComponents)
	if !ok {
		return nil
	}

	entry.Path = stripped
	if entry.Type == TypeHardlink {
		linkNormalized, err := NormalizeEntryPath(entry.Linkname)
		if err != nil {
			return err
		}

		linkStripped, ok := StripComponents(linkNormalized, w.opts.StripComponents)
		if !ok {
			return nil
		}

		entry.Linkname = linkStripped
	}

	var data io.Reader
	if entry.Type == TypeFile {
		blocks, err := w.archive.OpenEntry(*entry)
		if err != nil {
			return err
		}
		defer func() { _ = blocks.Close() }()

		data = NewBlockReader(blocks)
	}

	w.opts.Logger.Debug("extract entry",
		"path", entry.Path, "type", entry.Type.String(), "size", entry.Size)

	written, err := w.writer.Apply(entry, w.outDir, data)
	if err != nil {
		return fmt.Errorf("extract %s: %w", logical, err)
	}

	if w.opts.OnEntryDone != nil {
		w.opts.OnEntryDone(logical, written, filepath.Join(w.outDir, filepath.FromSlash(entry.Path)))
	}

	return nil
}

// extractNested opens one container entry and extracts it recursively.
// The filter is consulted before the inner stream is opened so excluded
// containers are never decompressed.
func (w *packageWalker) extractNested(nested *nestedExtractor, entry *Entry, logical string) (bool, error) {
	if w.filter.IsExcluded(logical) && !w.filter.HasIncludeDescendant(logical) {
		return true, nil
	}

	blocks, err := w.archive.OpenEntry(*entry)
	if err != nil {
		return false, err
	}
	defer func() { _ = blocks.Close() }()

	return nested.extract(logical, NewBlockReader(blocks), w.outDir)
}

// openSource opens the archive path, spooling standard input to a temporary
// file when path is "-": the container index references heap offsets, so
// the engine needs random access.
func openSource(path string) (*Reader, func(), error) {
	if path != "-" {
		reader, err := OpenArchive(path)
		if err != nil {
			return nil, nil, err
		}

		return reader, func() { _ = reader.Close() }, nil
	}

	tmp, err := os.CreateTemp("", "pkgutil-*")
	if err != nil {
		return nil, nil, fmt.Errorf("spool stdin: %w", err)
	}

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	size, err := io.Copy(tmp, os.Stdin)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("spool stdin: %w", err)
	}

	reader, err := NewReaderFromReaderAt(tmp, size)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return reader, cleanup, nil
}
