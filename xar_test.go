// SPDX-License-Identifier: MIT
// Source: github.com/cerisier/pkgutil

package pkgutil

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/ulikunitz/xz"
)

// tocNode describes one file node for the container builder.
type tocNode struct {
	id       string
	name     string
	typ      string
	link     string // symlink target or hardlink id reference
	mode     string
	data     []byte
	encoding string
	children []*tocNode
}

// encodeExtent compresses data per the requested heap encoding style.
func encodeExtent(t *testing.T, data []byte, encoding string) []byte {
	t.Helper()

	switch encoding {
	case "", encodingOctetStream:
		return data
	case encodingGzip:
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			t.Fatalf("zlib write: %v", err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("zlib close: %v", err)
		}

		return buf.Bytes()
	case encodingXz:
		var buf bytes.Buffer
		xw, err := xz.NewWriter(&buf)
		if err != nil {
			t.Fatalf("xz writer: %v", err)
		}
		if _, err := xw.Write(data); err != nil {
			t.Fatalf("xz write: %v", err)
		}
		if err := xw.Close(); err != nil {
			t.Fatalf("xz close: %v", err)
		}

		return buf.Bytes()
	default:
		t.Fatalf("encodeExtent: unsupported encoding %q", encoding)
		return nil
	}
}

// renderNode writes one <file> element, appending extents to the heap.
func renderNode(t *testing.T, xml *bytes.Buffer, heap *bytes.Buffer, n *tocNode) {
	t.Helper()

	fmt.Fprintf(xml, `<file id="%s"><name>%s</name>`, n.id, n.name)
	if n.typ == "hardlink" {
		fmt.Fprintf(xml, `<type link="%s">hardlink</type>`, n.link)
	} else {
		fmt.Fprintf(xml, `<type>%s</type>`, n.typ)
	}
	if n.typ == "symlink" {
		fmt.Fprintf(xml, `<link>%s</link>`, n.link)
	}
	if n.mode != "" {
		fmt.Fprintf(xml, `<mode>%s</mode>`, n.mode)
	}
	fmt.Fprintf(xml, `<mtime>2023-11-14T22:13:20Z</mtime>`)

	if n.data != nil {
		encoded := encodeExtent(t, n.data, n.encoding)
		style := n.encoding
		if style == "" {
			style = encodingOctetStream
		}
		fmt.Fprintf(xml,
			`<data><offset>%d</offset><size>%d</size><length>%d</length><encoding style="%s"/></data>`,
			heap.Len(), len(n.data), len(encoded), style)
		heap.Write(encoded)
	}

	for _, child := range n.children {
		renderNode(t, xml, heap, child)
	}
	xml.WriteString(`</file>`)
}

// buildXar assembles a complete container: header, deflated table of
// contents, and heap.
func buildXar(t *testing.T, nodes ...*tocNode) []byte {
	t.Helper()

	var toc, heap bytes.Buffer
	toc.WriteString(`<?xml version="1.0" encoding="UTF-8"?><xar><toc>`)
	for _, n := range nodes {
		renderNode(t, &toc, &heap, n)
	}
	toc.WriteString(`</toc></xar>`)

	var deflated bytes.Buffer
	zw := zlib.NewWriter(&deflated)
	if _, err := zw.Write(toc.Bytes()); err != nil {
		t.Fatalf("deflate toc: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close toc deflate: %v", err)
	}

	var out bytes.Buffer
	header := make([]byte, xarHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], xarMagic)
	binary.BigEndian.PutUint16(header[4:6], xarHeaderSize)
	binary.BigEndian.PutUint16(header[6:8], 1)
	binary.BigEndian.PutUint64(header[8:16], uint64(deflated.Len()))
	binary.BigEndian.PutUint64(header[16:24], uint64(toc.Len()))
	binary.BigEndian.PutUint32(header[24:28], 0)
	out.Write(header)
	out.Write(deflated.Bytes())
	out.Write(heap.Bytes())

	return out.Bytes()
}

// openTestArchive parses in-memory container bytes.
func openTestArchive(t *testing.T, raw []byte) *Reader {
	t.Helper()

	r, err := NewReaderFromReaderAt(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		t.Fatalf("parse container: %v", err)
	}

	return r
}

// readEntry drains one entry through its block source.
func readEntry(t *testing.T, r *Reader, e Entry) []byte {
	t.Helper()

	blocks, err := r.OpenEntry(e)
	if err != nil {
		t.Fatalf("OpenEntry(%s): %v", e.Path, err)
	}
	defer func() { _ = blocks.Close() }()

	data, err := io.ReadAll(NewBlockReader(blocks))
	if err != nil {
		t.Fatalf("read entry %s: %v", e.Path, err)
	}

	return data
}

func TestReaderParsesTOC(t *testing.T) {
	t.Parallel()

	raw := buildXar(t,
		&tocNode{id: "1", name: "usr", typ: "directory", mode: "755", children: []*tocNode{
			{id: "2", name: "bin", typ: "directory", mode: "755", children: []*tocNode{
				{id: "3", name: "tool", typ: "file", mode: "755", data: []byte("#!/bin/sh\n")},
			}},
		}},
		&tocNode{id: "4", name: "link", typ: "symlink", link: "usr/bin/tool", mode: "777"},
	)

	r := openTestArchive(t, raw)
	entries := r.Entries()

	want := []struct {
		path string
		typ  EntryType
	}{
		{path: "usr", typ: TypeDirectory},
		{path: "usr/bin", typ: TypeDirectory},
		{path: "usr/bin/tool", typ: TypeFile},
		{path: "link", typ: TypeSymlink},
	}

	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, w := range want {
		if entries[i].Path != w.path || entries[i].Type != w.typ {
			t.Fatalf("entry %d = %s (%v), want %s (%v)",
				i, entries[i].Path, entries[i].Type, w.path, w.typ)
		}
	}

	tool := entries[2]
	if tool.Mode != 0o755 || tool.Size != 10 {
		t.Fatalf("tool entry = mode %o size %d", tool.Mode, tool.Size)
	}
	if entries[3].Linkname != "usr/bin/tool" {
		t.Fatalf("symlink target = %q", entries[3].Linkname)
	}
	if got := readEntry(t, r, tool); string(got) != "#!/bin/sh\n" {
		t.Fatalf("tool data = %q", got)
	}
}

func TestOpenEntryEncodings(t *testing.T) {
	t.Parallel()

	content := bytes.Repeat([]byte("heap extent content "), 600)

	testCases := []struct {
		name     string
		encoding string
	}{
		{name: "octet stream", encoding: encodingOctetStream},
		{name: "deflate", encoding: encodingGzip},
		{name: "xz", encoding: encodingXz},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			raw := buildXar(t, &tocNode{
				id: "1", name: "blob", typ: "file", mode: "644",
				data: content, encoding: tc.encoding,
			})

			r := openTestArchive(t, raw)
			entries := r.Entries()
			if len(entries) != 1 {
				t.Fatalf("got %d entries", len(entries))
			}

			if got := readEntry(t, r, entries[0]); !bytes.Equal(got, content) {
				t.Fatalf("decoded %d bytes, want %d", len(got), len(content))
			}
		})
	}
}

func TestReaderHardlinks(t *testing.T) {
	t.Parallel()

	raw := buildXar(t, &tocNode{
		id: "1", name: "dir", typ: "directory", mode: "755", children: []*tocNode{
			{id: "2", name: "one", typ: "hardlink", link: "original",
				mode: "644", data: []byte("shared")},
			{id: "3", name: "two", typ: "hardlink", link: "2", mode: "644"},
		},
	})

	r := openTestArchive(t, raw)
	entries := r.Entries()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	if entries[1].Type != TypeFile {
		t.Fatalf("original holder type = %v, want %v", entries[1].Type, TypeFile)
	}
	if entries[2].Type != TypeHardlink || entries[2].Linkname != "dir/one" {
		t.Fatalf("hardlink entry = %+v, want link to dir/one", entries[2])
	}
}

func TestReaderParseErrors(t *testing.T) {
	t.Parallel()

	good := buildXar(t, &tocNode{id: "1", name: "f", typ: "file", data: []byte("x")})

	notXar := append([]byte{}, good...)
	copy(notXar, "cpio")

	danglingLink := buildXar(t, &tocNode{
		id: "1", name: "orphan", typ: "hardlink", link: "99", mode: "644",
	})

	testCases := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{name: "bad magic", input: notXar, wantErr: ErrBadMagic},
		{name: "short file", input: good[:10], wantErr: ErrBadMagic},
		{name: "toc exceeds size", input: good[:xarHeaderSize+4], wantErr: ErrInvalidArchive},
		{name: "dangling hardlink", input: danglingLink, wantErr: ErrInvalidArchive},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewReaderFromReaderAt(bytes.NewReader(tc.input), int64(len(tc.input)))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("parse error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestOpenEntryBounds(t *testing.T) {
	t.Parallel()

	raw := buildXar(t, &tocNode{id: "1", name: "f", typ: "file", data: []byte("x")})
	r := openTestArchive(t, raw)

	e := r.Entries()[0]
	e.heapLength = 1 << 30
	if _, err := r.OpenEntry(e); !errors.Is(err, ErrInvalidArchive) {
		t.Fatalf("out-of-bounds OpenEntry error = %v, want ErrInvalidArchive", err)
	}
}

func TestOpenEntryAfterClose(t *testing.T) {
	t.Parallel()

	raw := buildXar(t, &tocNode{id: "1", name: "f", typ: "file", data: []byte("x")})
	r := openTestArchive(t, raw)

	entry := r.Entries()[0]
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := r.OpenEntry(entry); !errors.Is(err, ErrClosed) {
		t.Fatalf("OpenEntry after close = %v, want ErrClosed", err)
	}
}
