// SPDX-License-Identifier: MIT
// Source: github.com/cerisier/pkgutil

package pkgutil

import (
	"fmt"
	"strings"
)

// NormalizeEntryPath validates one archive entry path and returns it in
// normalized relative form. A leading "./" is stripped. The result is a
// fresh string; the input is never modified.
//
// It fails with ErrInvalidEntryPath when the normalized path is empty,
// absolute, or contains a ".." segment anywhere. This guards the output
// tree against absolute-path and parent-traversal entries.
func NormalizeEntryPath(raw string) (string, error) {
	p := strings.TrimPrefix(raw, "./")
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidEntryPath)
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: absolute path %q", ErrInvalidEntryPath, raw)
	}

	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: parent segment in %q", ErrInvalidEntryPath, raw)
		}
	}

	return strings.Clone(p), nil
}

// StripComponents removes up to n leading slash-delimited segments from path.
// The second result is false when the path has n or fewer segments, which
// signals the caller to drop the entry.
func StripComponents(path string, n int) (string, bool) {
	if n <= 0 {
		return path, true
	}

	rest := path
	for i := 0; i < n; i++ {
		idx := strings.IndexByte(rest, '/')
		if idx < 0 {
			return "", false
		}

		rest = rest[idx+1:]
	}
	if rest == "" {
		return "", false
	}

	return rest, true
}

// ComponentCount returns the number of non-empty slash-delimited segments.
func ComponentCount(path string) int {
	count := 0
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			count++
		}
	}

	return count
}

// residualStrip computes the strip count left for entries inside a nested
// container: the outer count minus the segments already consumed by the
// container path itself, floored at zero.
func residualStrip(outerStrip int, containerPath string) int {
	residual := outerStrip - ComponentCount(containerPath)
	if residual < 0 {
		return 0
	}

	return residual
}
