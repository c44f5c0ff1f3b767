// SPDX-License-Identifier: MIT
// Source: github.com/cerisier/pkgutil

package pkgutil

import (
	"compress/bzip2"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

const (
	// xarHeaderSize is the fixed big-endian xar header length in bytes.
	xarHeaderSize = 28
	// xarMagic is the 4-byte container magic ("xar!").
	xarMagic = 0x78617221
	// entryBlockSize is the block granularity served by entry block sources.
	entryBlockSize = 32 * 1024
)

// Heap encoding styles recognized in the table of contents.
const (
	encodingOctetStream = "application/octet-stream"
	encodingGzip        = "application/x-gzip"
	encodingBzip2       = "application/x-bzip2"
	encodingXz          = "application/x-xz"
	encodingLzma        = "application/x-lzma"
)

// Reader provides read-only access to a parsed xar container.
type Reader struct {
	// ra is the underlying random-access reader used for heap reads.
	ra io.ReaderAt
	// file is set when Reader owns an *os.File opened via OpenArchive.
	file *os.File
	// entries stores parsed immutable entry metadata in document order.
	entries []Entry
	// heapStart is the absolute offset of the first heap byte.
	heapStart int64
	// size is total source size in bytes.
	size int64
	// mu guards closed state and close operation.
	mu sync.Mutex
	// closed reports whether Close was already called.
	closed bool
}

// OpenArchive opens a xar container by path and parses its table of contents.
func OpenArchive(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat: %w", err)
	}

	r, err := NewReaderFromReaderAt(f, fi.Size())
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	r.file = f
	return r, nil
}

// NewReaderFromReaderAt parses a xar container from an existing ReaderAt and
// known size.
func NewReaderFromReaderAt(ra io.ReaderAt, size int64) (*Reader, error) {
	r := &Reader{ra: ra, size: size}
	if err := r.parse(); err != nil {
		return nil, err
	}

	return r, nil
}

// Entries returns a copy of parsed entries in archive document order.
func (r *Reader) Entries() []Entry {
	if r == nil {
		return nil
	}

	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}

// Close closes the underlying file if the reader owns one.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}

	return nil
}

// OpenEntry opens the entry's heap data as a pull-based block source.
// Blocks yield decoded content for encoded extents. Entries without data
// (directories, symlinks) yield an immediately exhausted source.
func (r *Reader) OpenEntry(e Entry) (*EntryBlocks, error) {
	if r == nil || r.ra == nil {
		return nil, ErrNilReader
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	if e.heapLength == 0 {
		return &EntryBlocks{}, nil
	}

	end := r.heapStart + e.heapOffset + e.heapLength
	if e.heapOffset < 0 || end > r.size {
		return nil, fmt.Errorf("%w: entry %s extent out of bounds", ErrInvalidArchive, e.Path)
	}

	sr := io.NewSectionReader(r.ra, r.heapStart+e.heapOffset, e.heapLength)
	decoded, closer, err := decodeHeapExtent(sr, e.heapEncoding, e.Path)
	if err != nil {
		return nil, err
	}

	return &EntryBlocks{
		r:      io.LimitReader(decoded, e.Size),
		closer: closer,
		buf:    make([]byte, entryBlockSize),
	}, nil
}

// EntryBlocks serves one entry's decoded data block by block.
type EntryBlocks struct {
	r      io.Reader
	closer io.Closer
	buf    []byte
}

// NextBlock returns the next data block or io.EOF when the entry data ends.
// The returned slice stays valid until the next call.
func (b *EntryBlocks) NextBlock() ([]byte, error) {
	if b.r == nil {
		return nil, io.EOF
	}

	for {
		n, err := b.r.Read(b.buf)
		if n > 0 {
			return b.buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Close releases the decoder backing this source, if any.
func (b *EntryBlocks) Close() error {
	if b.closer != nil {
		return b.closer.Close()
	}

	return nil
}

// decodeHeapExtent wraps a raw heap extent in its declared encoding filter.
func decodeHeapExtent(src *io.SectionReader, encoding, path string) (io.Reader, io.Closer, error) {
	switch encoding {
	case "", encodingOctetStream:
		return src, nil, nil
	case encodingGzip:
		// The "x-gzip" style is zlib-wrapped deflate in practice; fall back
		// to gzip framing when the zlib header check fails.
		zr, err := zlib.NewReader(src)
		if err == nil {
			return zr, zr, nil
		}

		if _, seekErr := src.Seek(0, io.SeekStart); seekErr != nil {
			return nil, nil, fmt.Errorf("open deflate extent for %s: %w", path, seekErr)
		}

		gr, gzErr := gzip.NewReader(src)
		if gzErr != nil {
			return nil, nil, fmt.Errorf("open deflate extent for %s: %w", path, err)
		}

		return gr, gr, nil
	case encodingBzip2:
		return bzip2.NewReader(src), nil, nil
	case encodingXz:
		xr, err := xz.NewReader(src)
		if err != nil {
			return nil, nil, fmt.Errorf("open xz extent for %s: %w", path, err)
		}

		return xr, nil, nil
	case encodingLzma:
		lr, err := lzma.NewReader(src)
		if err != nil {
			return nil, nil, fmt.Errorf("open lzma extent for %s: %w", path, err)
		}

		return lr, nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s %q", ErrUnsupportedEncoding, path, encoding)
	}
}

// parse reads the container header, inflates the table of contents, and
// flattens it into the entry list.
func (r *Reader) parse() error {
	var header [xarHeaderSize]byte
	if _, err := r.ra.ReadAt(header[:], 0); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: short header", ErrBadMagic)
		}

		return fmt.Errorf("read xar header: %w", err)
	}

	if binary.BigEndian.Uint32(header[0:4]) != xarMagic {
		return ErrBadMagic
	}

	headerSize := int64(binary.BigEndian.Uint16(header[4:6]))
	tocCompressed := int64(binary.BigEndian.Uint64(header[8:16]))
	tocUncompressed := int64(binary.BigEndian.Uint64(header[16:24]))

	if headerSize < xarHeaderSize || tocCompressed <= 0 || tocUncompressed <= 0 {
		return fmt.Errorf("%w: malformed header fields", ErrInvalidArchive)
	}
	if headerSize+tocCompressed > r.size {
		return fmt.Errorf("%w: table of contents exceeds file size", ErrInvalidArchive)
	}

	r.heapStart = headerSize + tocCompressed

	toc, err := inflateTOC(io.NewSectionReader(r.ra, headerSize, tocCompressed), tocUncompressed)
	if err != nil {
		return err
	}

	entries, err := flattenTOC(toc)
	if err != nil {
		return err
	}

	r.entries = entries
	return nil
}

// inflateTOC inflates the zlib-compressed XML table of contents and decodes it.
func inflateTOC(src io.Reader, uncompressedLen int64) (*xmlTOC, error) {
	zr, err := zlib.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("%w: inflate toc: %w", ErrInvalidArchive, err)
	}
	defer func() { _ = zr.Close() }()

	var doc xmlXar
	decoder := xml.NewDecoder(io.LimitReader(zr, uncompressedLen))
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode toc: %w", ErrInvalidArchive, err)
	}

	return &doc.TOC, nil
}

// xmlXar mirrors the root <xar> element of the table of contents.
type xmlXar struct {
	XMLName xml.Name `xml:"xar"`
	TOC     xmlTOC   `xml:"toc"`
}

// xmlTOC mirrors the <toc> element. Checksum elements are parsed and
// ignored; content verification is out of scope here.
type xmlTOC struct {
	Files []xmlFile `xml:"file"`
}

// xmlFile mirrors one <file> node, possibly with nested children.
type xmlFile struct {
	ID       string    `xml:"id,attr"`
	Name     string    `xml:"name"`
	Type     xmlType   `xml:"type"`
	Link     string    `xml:"link"`
	Mode     string    `xml:"mode"`
	UID      string    `xml:"uid"`
	GID      string    `xml:"gid"`
	Mtime    string    `xml:"mtime"`
	Data     *xmlData  `xml:"data"`
	Children []xmlFile `xml:"file"`
}

// xmlType carries the entry type value plus the hard link back-reference.
type xmlType struct {
	Link  string `xml:"link,attr"`
	Value string `xml:",chardata"`
}

// xmlData mirrors the heap extent description of one file.
type xmlData struct {
	Offset   int64       `xml:"offset"`
	Size     int64       `xml:"size"`
	Length   int64       `xml:"length"`
	Encoding xmlEncoding `xml:"encoding"`
}

// xmlEncoding carries the extent encoding style attribute.
type xmlEncoding struct {
	Style string `xml:"style,attr"`
}

// hardlinkFixup records a hard link entry whose target id still needs
// resolving to an archive path.
type hardlinkFixup struct {
	index int
	id    string
}

// flattenTOC converts the file tree to a flat entry list in document order
// and resolves hard link back-references to archive paths.
func flattenTOC(toc *xmlTOC) ([]Entry, error) {
	var entries []Entry
	var fixups []hardlinkFixup
	idToPath := make(map[string]string)

	var walk func(prefix string, files []xmlFile) error
	walk = func(prefix string, files []xmlFile) error {
		for i := range files {
			f := &files[i]
			if f.Name == "" {
				return fmt.Errorf("%w: file node without name", ErrInvalidArchive)
			}

			entryPath := f.Name
			if prefix != "" {
				entryPath = prefix + "/" + f.Name
			}

			entry, err := fileToEntry(f, entryPath)
			if err != nil {
				return err
			}

			if f.ID != "" {
				idToPath[f.ID] = entryPath
			}
			if entry.Type == TypeHardlink {
				fixups = append(fixups, hardlinkFixup{index: len(entries), id: f.Type.Link})
			}

			entries = append(entries, entry)
			if err := walk(entryPath, f.Children); err != nil {
				return err
			}
		}

		return nil
	}

	if err := walk("", toc.Files); err != nil {
		return nil, err
	}

	for _, fix := range fixups {
		target, ok := idToPath[fix.id]
		if !ok {
			return nil, fmt.Errorf("%w: hardlink %s references unknown id %q",
				ErrInvalidArchive, entries[fix.index].Path, fix.id)
		}

		entries[fix.index].Linkname = target
	}

	return entries, nil
}

// fileToEntry converts one parsed file node to an Entry.
func fileToEntry(f *xmlFile, entryPath string) (Entry, error) {
	entry := Entry{
		Path: entryPath,
		Mode: 0o644,
	}

	switch f.Type.Value {
	case "file", "":
		entry.Type = TypeFile
	case "directory":
		entry.Type = TypeDirectory
		entry.Mode = 0o755
	case "symlink":
		entry.Type = TypeSymlink
		entry.Linkname = f.Link
	case "hardlink":
		// "original" marks the node holding the data; treat it as the file.
		if f.Type.Link == "" || f.Type.Link == "original" {
			entry.Type = TypeFile
		} else {
			entry.Type = TypeHardlink
		}
	default:
		return Entry{}, fmt.Errorf("%w: file %s has unknown type %q",
			ErrInvalidArchive, entryPath, f.Type.Value)
	}

	if f.Mode != "" {
		mode, err := strconv.ParseUint(f.Mode, 8, 32)
		if err != nil {
			return Entry{}, fmt.Errorf("%w: file %s has bad mode %q", ErrInvalidArchive, entryPath, f.Mode)
		}

		entry.Mode = fs.FileMode(mode) & fs.ModePerm
	}

	if f.UID != "" {
		if uid, err := strconv.Atoi(f.UID); err == nil {
			entry.UID = uid
		}
	}
	if f.GID != "" {
		if gid, err := strconv.Atoi(f.GID); err == nil {
			entry.GID = gid
		}
	}
	if f.Mtime != "" {
		if t, err := time.Parse(time.RFC3339, f.Mtime); err == nil {
			entry.ModTime = t
		}
	}

	if f.Data != nil {
		if f.Data.Offset < 0 || f.Data.Length < 0 || f.Data.Size < 0 {
			return Entry{}, fmt.Errorf("%w: file %s has negative extent", ErrInvalidArchive, entryPath)
		}

		entry.Size = f.Data.Size
		entry.heapOffset = f.Data.Offset
		entry.heapLength = f.Data.Length
		entry.heapEncoding = f.Data.Encoding.Style
	}

	return entry, nil
}
