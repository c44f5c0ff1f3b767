// SPDX-License-Identifier: MIT
// Source: github.com/cerisier/pkgutil

/*
Package pkgutil extracts Apple-style installer package archives into a
directory tree on non-Apple platforms. The outer container is a xar
archive; entries named "Payload" or "Scripts" carry nested cpio manifests,
usually wrapped in pbzx chunk framing around concatenated xz streams. The
package de-frames and decodes those streams, translates include/exclude
filtering and strip-components rules across the nesting boundary, and
writes entries to disk without permitting path traversal or symlink escape.

# Expanding

Flat expansion writes every outer entry as-is, leaving nested archives as
opaque files:

	err := pkgutil.Expand("app.pkg", "out/", pkgutil.ExpandOptions{
	    Mode: pkgutil.ModeFlat,
	})

Deep expansion recursively extracts nested archive entries:

	err := pkgutil.Expand("app.pkg", "out/", pkgutil.ExpandOptions{
	    Mode:            pkgutil.ModeFull,
	    StripComponents: 1,
	    Include:         []string{"Scripts/postinstall"},
	})

Filter patterns match full logical paths: an inner entry's logical path is
its container's path joined with its own, so "Payload/usr/bin/tool" names
a file inside the payload. An excluded container is still opened when an
include pattern names something inside it.

# Engines

The outer container engine (Reader) parses the xar header and table of
contents and serves per-entry data as pull-based block sources. The inner
manifest engine (CpioReader) reads odc and newc cpio streams. DeframeReader
strips pbzx chunk framing, yielding the exact concatenation of the embedded
xz streams without decompressing them:

	r, err := pkgutil.OpenArchive("app.pkg")
	if err != nil {
	    return err
	}
	defer r.Close()
	for _, e := range r.Entries() {
	    // inspect e.Path, e.Type, e.Size
	}

Every error is fatal for the run; there is no partial-success mode.
Filter exclusion and strip-components underflow are intentional skips,
not errors.
*/
package pkgutil
