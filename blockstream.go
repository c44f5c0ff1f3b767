// SPDX-License-Identifier: MIT
// Source: github.com/cerisier/pkgutil

package pkgutil

import "io"

// BlockSource yields sequential data blocks from one archive entry.
// NextBlock returns a block that stays valid until the next call, and
// io.EOF once the entry data is exhausted. There is no seeking.
type BlockSource interface {
	NextBlock() ([]byte, error)
}

// BlockReader adapts a BlockSource to an io.Reader, carrying unconsumed
// block bytes across Read calls so reads of arbitrary length are byte-exact
// at block boundaries.
type BlockReader struct {
	src  BlockSource
	blk  []byte
	pos  int
	done bool
}

// NewBlockReader wraps a block source in a byte-exact sequential reader.
func NewBlockReader(src BlockSource) *BlockReader {
	return &BlockReader{src: src}
}

// Read copies up to len(p) bytes from the current and following blocks.
func (r *BlockReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, io.EOF
	}

	total := 0
	for total < len(p) {
		if r.pos == len(r.blk) {
			blk, err := r.src.NextBlock()
			if err == io.EOF {
				r.done = true
				if total > 0 {
					return total, nil
				}

				return 0, io.EOF
			}
			if err != nil {
				return total, err
			}

			r.blk = blk
			r.pos = 0
			continue
		}

		n := copy(p[total:], r.blk[r.pos:])
		r.pos += n
		total += n
	}

	return total, nil
}
