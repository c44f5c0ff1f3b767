// SPDX-License-Identifier: MIT
// Source: github.com/cerisier/pkgutil

package pkgutil

import (
	"encoding/binary"
	"fmt"
	"io"
)

// pbzx framing constants. The framing wraps independently compressed xz
// streams so the producer can compress segments in parallel; this reader
// only reassembles the logical byte stream and never decompresses.
const (
	// pbzxMoreChunksBit marks a flags word that announces a following chunk.
	pbzxMoreChunksBit = 1 << 24
	// xzHeaderSize is the fixed xz stream header length at each chunk start.
	xzHeaderSize = 6
)

var (
	// pbzxMagic starts every framed stream.
	pbzxMagic = [4]byte{'p', 'b', 'z', 'x'}
	// xzStreamHeader is the xz stream header expected after each chunk length.
	xzStreamHeader = [xzHeaderSize]byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
	// xzStreamFooter holds the two trailing bytes checked after each chunk.
	// The check is a consistency heuristic, not proof of stream
	// integrity; a corrupt chunk still fails in the xz decoder.
	xzStreamFooter = [2]byte{'Y', 'Z'}
)

// DeframeReader strips pbzx chunk framing from src and yields the exact
// concatenation of the embedded xz streams. Reads are strictly sequential.
type DeframeReader struct {
	src       io.Reader
	err       error
	flags     uint64
	remaining uint64
	hdr       [xzHeaderSize]byte
	hdrPos    int
	tail      [2]byte
	started   bool
	inChunk   bool
}

// NewDeframeReader returns a streaming deframer over src. The first Read
// fails with ErrNotPbzx when src does not carry pbzx framing.
func NewDeframeReader(src io.Reader) *DeframeReader {
	return &DeframeReader{src: src, hdrPos: xzHeaderSize}
}

// Deframe copies the de-framed sub-stream from src to dst.
func Deframe(dst io.Writer, src io.Reader) error {
	if _, err := io.Copy(dst, NewDeframeReader(src)); err != nil {
		return err
	}

	return nil
}

// Read serves de-framed bytes, advancing chunk state as needed.
func (r *DeframeReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	if !r.started {
		if err := r.readStreamHeader(); err != nil {
			r.err = err
			return 0, err
		}
	}

	if !r.inChunk {
		if err := r.startChunk(); err != nil {
			r.err = err
			return 0, err
		}
	}

	// Serve the verified xz header bytes before chunk payload.
	if r.hdrPos < xzHeaderSize {
		n := copy(p, r.hdr[r.hdrPos:])
		r.hdrPos += n
		return n, nil
	}

	want := len(p)
	if uint64(want) > r.remaining {
		want = int(r.remaining)
	}

	n, err := io.ReadFull(r.src, p[:want])
	if n > 0 {
		trackTail(&r.tail, p[:n])
		r.remaining -= uint64(n)
	}
	if err != nil {
		r.err = fmt.Errorf("read pbzx chunk payload: %w", noEOF(err))
		return n, r.err
	}

	if r.remaining == 0 {
		r.inChunk = false
		if r.tail != xzStreamFooter {
			r.err = ErrBadChunkTrailer
			return n, r.err
		}
	}

	return n, nil
}

// readStreamHeader consumes the stream magic and the initial flags word.
func (r *DeframeReader) readStreamHeader() error {
	var magic [4]byte
	if _, err := io.ReadFull(r.src, magic[:]); err != nil {
		return fmt.Errorf("read pbzx magic: %w", noEOF(err))
	}
	if magic != pbzxMagic {
		return ErrNotPbzx
	}

	flags, err := readUint64BE(r.src)
	if err != nil {
		return fmt.Errorf("read pbzx flags: %w", err)
	}

	r.flags = flags
	r.started = true
	return nil
}

// startChunk reads the next chunk header or reports end of stream.
// Each chunk carries a fresh flags word, the chunk byte length, and a
// verified xz stream header.
func (r *DeframeReader) startChunk() error {
	if r.flags&pbzxMoreChunksBit == 0 {
		return io.EOF
	}

	flags, err := readUint64BE(r.src)
	if err != nil {
		return fmt.Errorf("read pbzx chunk flags: %w", err)
	}

	length, err := readUint64BE(r.src)
	if err != nil {
		return fmt.Errorf("read pbzx chunk length: %w", err)
	}
	if length < xzHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrShortChunk, length)
	}

	if _, err := io.ReadFull(r.src, r.hdr[:]); err != nil {
		return fmt.Errorf("read pbzx chunk header: %w", noEOF(err))
	}
	if r.hdr != xzStreamHeader {
		return ErrBadChunkHeader
	}

	r.flags = flags
	r.remaining = length - xzHeaderSize
	r.hdrPos = 0
	r.tail = [2]byte{}
	r.inChunk = true
	return nil
}

// trackTail keeps the last two emitted payload bytes for the footer check.
func trackTail(tail *[2]byte, p []byte) {
	switch {
	case len(p) >= 2:
		tail[0] = p[len(p)-2]
		tail[1] = p[len(p)-1]
	case len(p) == 1:
		tail[0] = tail[1]
		tail[1] = p[0]
	}
}

// readUint64BE reads one big-endian 64-bit word.
func readUint64BE(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, noEOF(err)
	}

	return binary.BigEndian.Uint64(buf[:]), nil
}

// noEOF rewrites io.EOF to io.ErrUnexpectedEOF for mid-structure reads.
func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}

	return err
}
