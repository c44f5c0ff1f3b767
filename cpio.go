// SPDX-License-Identifier: MIT
// Source: github.com/cerisier/pkgutil

package pkgutil

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"time"
)

// cpio record constants for the two manifest variants carried by installer
// payloads: odc (portable ASCII octal) and newc (SVR4 ASCII hex).
const (
	cpioOdcMagic    = "070707"
	cpioNewcMagic   = "070701"
	cpioNewcCRC     = "070702"
	cpioOdcHeader   = 76
	cpioNewcHeader  = 110
	cpioTrailerName = "TRAILER!!!"
)

// Mode bits stored in cpio headers.
const (
	cpioModeMask    = 0o170000
	cpioModeDir     = 0o040000
	cpioModeRegular = 0o100000
	cpioModeSymlink = 0o120000
)

// CpioReader reads entries sequentially from an odc or newc cpio stream.
// After Next returns an entry, Read serves exactly that entry's data bytes.
type CpioReader struct {
	br  *bufio.Reader
	err error
	// remaining is the unread data byte count of the current entry.
	remaining int64
	// pad is the alignment padding following the current entry's data.
	pad int64
	// seen maps (dev, inode) to the first path carrying that inode, for
	// hard link synthesis on multiply-linked regular files.
	seen map[[2]uint64]string
}

// NewCpioReader returns a sequential reader over one cpio stream.
func NewCpioReader(r io.Reader) *CpioReader {
	return &CpioReader{
		br:   bufio.NewReaderSize(r, 64*1024),
		seen: make(map[[2]uint64]string),
	}
}

// Next advances to the next entry. It returns io.EOF at the trailer record.
func (r *CpioReader) Next() (*Entry, error) {
	if r.err != nil {
		return nil, r.err
	}

	if err := r.skipRest(); err != nil {
		r.err = err
		return nil, err
	}

	entry, err := r.readRecord()
	if err != nil {
		r.err = err
		return nil, err
	}

	return entry, nil
}

// Read serves data bytes of the current entry, ending with io.EOF.
func (r *CpioReader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.remaining <= 0 {
		return 0, io.EOF
	}

	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}

	n, err := r.br.Read(p)
	r.remaining -= int64(n)
	if err != nil {
		r.err = fmt.Errorf("read cpio data: %w", noEOF(err))
		return n, r.err
	}

	return n, nil
}

// skipRest discards unread data and padding of the current entry.
func (r *CpioReader) skipRest() error {
	if skip := r.remaining + r.pad; skip > 0 {
		if _, err := r.br.Discard(int(skip)); err != nil {
			return fmt.Errorf("skip cpio data: %w", noEOF(err))
		}
	}

	r.remaining = 0
	r.pad = 0
	return nil
}

// readRecord parses one record header, dispatching on its magic.
func (r *CpioReader) readRecord() (*Entry, error) {
	magic, err := r.br.Peek(6)
	if err != nil {
		return nil, fmt.Errorf("read cpio magic: %w", noEOF(err))
	}

	switch string(magic) {
	case cpioOdcMagic:
		return r.readOdcRecord()
	case cpioNewcMagic, cpioNewcCRC:
		return r.readNewcRecord()
	default:
		return nil, fmt.Errorf("%w: magic %q", ErrInvalidCpio, string(magic))
	}
}

// readOdcRecord parses one 76-byte ASCII octal record.
func (r *CpioReader) readOdcRecord() (*Entry, error) {
	var header [cpioOdcHeader]byte
	if _, err := io.ReadFull(r.br, header[:]); err != nil {
		return nil, fmt.Errorf("read odc header: %w", noEOF(err))
	}

	dev, err := parseOctal(header[6:12])
	if err != nil {
		return nil, err
	}
	ino, err := parseOctal(header[12:18])
	if err != nil {
		return nil, err
	}
	mode, err := parseOctal(header[18:24])
	if err != nil {
		return nil, err
	}
	uid, err := parseOctal(header[24:30])
	if err != nil {
		return nil, err
	}
	gid, err := parseOctal(header[30:36])
	if err != nil {
		return nil, err
	}
	nlink, err := parseOctal(header[36:42])
	if err != nil {
		return nil, err
	}
	mtime, err := parseOctal(header[48:59])
	if err != nil {
		return nil, err
	}
	nameSize, err := parseOctal(header[59:65])
	if err != nil {
		return nil, err
	}
	fileSize, err := parseOctal(header[65:76])
	if err != nil {
		return nil, err
	}

	name, err := r.readName(int(nameSize))
	if err != nil {
		return nil, err
	}
	if name == cpioTrailerName {
		return nil, io.EOF
	}

	r.remaining = int64(fileSize)
	r.pad = 0
	return r.finishRecord(name, mode, uid, gid, mtime, nlink, dev, ino)
}

// readNewcRecord parses one 110-byte ASCII hex record with 4-byte alignment.
func (r *CpioReader) readNewcRecord() (*Entry, error) {
	var header [cpioNewcHeader]byte
	if _, err := io.ReadFull(r.br, header[:]); err != nil {
		return nil, fmt.Errorf("read newc header: %w", noEOF(err))
	}

	ino, err := parseHex(header[6:14])
	if err != nil {
		return nil, err
	}
	mode, err := parseHex(header[14:22])
	if err != nil {
		return nil, err
	}
	uid, err := parseHex(header[22:30])
	if err != nil {
		return nil, err
	}
	gid, err := parseHex(header[30:38])
	if err != nil {
		return nil, err
	}
	nlink, err := parseHex(header[38:46])
	if err != nil {
		return nil, err
	}
	mtime, err := parseHex(header[46:54])
	if err != nil {
		return nil, err
	}
	fileSize, err := parseHex(header[54:62])
	if err != nil {
		return nil, err
	}
	devMajor, err := parseHex(header[62:70])
	if err != nil {
		return nil, err
	}
	devMinor, err := parseHex(header[70:78])
	if err != nil {
		return nil, err
	}
	nameSize, err := parseHex(header[94:102])
	if err != nil {
		return nil, err
	}

	// Name is NUL-terminated and padded so header+name aligns to 4 bytes.
	name, err := r.readName(int(nameSize))
	if err != nil {
		return nil, err
	}
	if namePad := pad4(cpioNewcHeader + int64(nameSize)); namePad > 0 {
		if _, err := r.br.Discard(int(namePad)); err != nil {
			return nil, fmt.Errorf("skip newc name padding: %w", noEOF(err))
		}
	}
	if name == cpioTrailerName {
		return nil, io.EOF
	}

	r.remaining = int64(fileSize)
	r.pad = pad4(int64(fileSize))
	return r.finishRecord(name, mode, uid, gid, mtime, nlink, devMajor<<32|devMinor, ino)
}

// finishRecord builds the Entry, consuming symlink targets and detecting
// hard links from repeated inode numbers.
func (r *CpioReader) finishRecord(name string, mode, uid, gid, mtime, nlink, dev, ino uint64) (*Entry, error) {
	entry := &Entry{
		Path:    name,
		Mode:    fs.FileMode(mode) & fs.ModePerm,
		ModTime: time.Unix(int64(mtime), 0),
		UID:     int(uid),
		GID:     int(gid),
		Size:    r.remaining,
	}

	switch mode & cpioModeMask {
	case cpioModeDir:
		entry.Type = TypeDirectory
	case cpioModeSymlink:
		entry.Type = TypeSymlink
		target := make([]byte, r.remaining)
		if _, err := io.ReadFull(r.br, target); err != nil {
			return nil, fmt.Errorf("read symlink target: %w", noEOF(err))
		}

		r.remaining = 0
		entry.Linkname = string(target)
		entry.Size = 0
	case cpioModeRegular, 0:
		entry.Type = TypeFile
		if nlink > 1 {
			key := [2]uint64{dev, ino}
			if original, ok := r.seen[key]; ok {
				entry.Type = TypeHardlink
				entry.Linkname = original
			} else {
				r.seen[key] = name
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s has unsupported mode %o", ErrUnsupportedEntryType, name, mode)
	}

	return entry, nil
}

// readName reads a NUL-terminated entry name of the declared size.
func (r *CpioReader) readName(nameSize int) (string, error) {
	if nameSize <= 0 {
		return "", fmt.Errorf("%w: zero name size", ErrInvalidCpio)
	}

	name := make([]byte, nameSize)
	if _, err := io.ReadFull(r.br, name); err != nil {
		return "", fmt.Errorf("read cpio name: %w", noEOF(err))
	}
	if name[nameSize-1] != 0 {
		return "", fmt.Errorf("%w: name is not NUL-terminated", ErrInvalidCpio)
	}

	return string(name[:nameSize-1]), nil
}

// parseOctal parses an ASCII octal field.
func parseOctal(field []byte) (uint64, error) {
	v, err := strconv.ParseUint(string(field), 8, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: octal field %q", ErrInvalidCpio, string(field))
	}

	return v, nil
}

// parseHex parses an ASCII hexadecimal field.
func parseHex(field []byte) (uint64, error) {
	v, err := strconv.ParseUint(string(field), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: hex field %q", ErrInvalidCpio, string(field))
	}

	return v, nil
}

// pad4 returns the padding needed to align n to 4 bytes.
func pad4(n int64) int64 {
	return (4 - n%4) % 4
}
