// SPDX-License-Identifier: MIT
// Source: github.com/cerisier/pkgutil

package pkgutil

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// sliceBlocks serves a fixed sequence of blocks, then io.EOF.
type sliceBlocks struct {
	blocks [][]byte
	next   int
	err    error
}

func (s *sliceBlocks) NextBlock() ([]byte, error) {
	if s.next == len(s.blocks) {
		if s.err != nil {
			return nil, s.err
		}

		return nil, io.EOF
	}

	blk := s.blocks[s.next]
	s.next++

	return blk, nil
}

func TestBlockReader(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		blocks [][]byte
		want   string
	}{
		{name: "empty", blocks: nil, want: ""},
		{name: "single", blocks: [][]byte{[]byte("hello")}, want: "hello"},
		{
			name:   "boundary carry",
			blocks: [][]byte{[]byte("hel"), []byte("lo "), []byte("world")},
			want:   "hello world",
		},
		{
			name:   "empty middle block",
			blocks: [][]byte{[]byte("ab"), {}, []byte("cd")},
			want:   "abcd",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := NewBlockReader(&sliceBlocks{blocks: tc.blocks})

			// Tiny read buffer forces carry-over across block boundaries.
			var out bytes.Buffer
			buf := make([]byte, 2)
			for {
				n, err := r.Read(buf)
				out.Write(buf[:n])
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("Read: %v", err)
				}
			}

			if out.String() != tc.want {
				t.Fatalf("read %q, want %q", out.String(), tc.want)
			}
		})
	}
}

func TestBlockReaderPropagatesError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("heap torn")
	r := NewBlockReader(&sliceBlocks{blocks: [][]byte{[]byte("ok")}, err: wantErr})

	data, err := io.ReadAll(r)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected source error, got %v", err)
	}
	if string(data) != "ok" {
		t.Fatalf("read %q before error, want %q", data, "ok")
	}
}

func TestBlockReaderEOFIsSticky(t *testing.T) {
	t.Parallel()

	r := NewBlockReader(&sliceBlocks{blocks: [][]byte{[]byte("x")}})
	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	n, err := r.Read(make([]byte, 4))
	if n != 0 || err != io.EOF {
		t.Fatalf("Read after EOF = (%d, %v), want (0, io.EOF)", n, err)
	}
}
