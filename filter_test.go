// SPDX-License-Identifier: MIT
// Source: github.com/cerisier/pkgutil

package pkgutil

import (
	"testing"
)

func TestPatternFilterNoPatterns(t *testing.T) {
	t.Parallel()

	f, err := NewPatternFilter(nil, nil)
	if err != nil {
		t.Fatalf("NewPatternFilter: %v", err)
	}

	for _, p := range []string{"a", "a/b.txt", "Payload"} {
		if f.IsExcluded(p) {
			t.Fatalf("IsExcluded(%q)=true with no patterns", p)
		}
		if f.HasIncludeDescendant(p) {
			t.Fatalf("HasIncludeDescendant(%q)=true with no patterns", p)
		}
	}
}

func TestPatternFilterIsExcluded(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		include []string
		exclude []string
		path    string
		want    bool
	}{
		{name: "include match", include: []string{"a/b.txt"}, path: "a/b.txt", want: false},
		{name: "include miss", include: []string{"a/b.txt"}, path: "a/c.txt", want: true},
		{name: "include glob", include: []string{"*.txt"}, path: "notes.txt", want: false},
		{name: "exclude match", exclude: []string{"a/*"}, path: "a/b.txt", want: true},
		{name: "exclude miss", exclude: []string{"a/*"}, path: "b/c.txt", want: false},
		{
			name:    "exclude wins over include",
			include: []string{"a/b.txt"},
			exclude: []string{"a/b.txt"},
			path:    "a/b.txt",
			want:    true,
		},
		{
			name:    "dot slash pattern normalized",
			include: []string{"./a/b.txt"},
			path:    "a/b.txt",
			want:    false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f, err := NewPatternFilter(tc.include, tc.exclude)
			if err != nil {
				t.Fatalf("NewPatternFilter: %v", err)
			}

			if got := f.IsExcluded(tc.path); got != tc.want {
				t.Fatalf("IsExcluded(%q)=%v, want %v", tc.path, got, tc.want)
			}
		})
	}
}

func TestPatternFilterHasIncludeDescendant(t *testing.T) {
	t.Parallel()

	f, err := NewPatternFilter([]string{"Scripts/postinstall", "Payload/usr/bin/tool"}, nil)
	if err != nil {
		t.Fatalf("NewPatternFilter: %v", err)
	}

	testCases := []struct {
		path string
		want bool
	}{
		{path: "Scripts", want: true},
		{path: "Payload", want: true},
		{path: "Payload/usr", want: true},
		{path: "Payload/usr/bin", want: true},
		{path: "Payload/usr/bin/tool", want: false},
		{path: "Resources", want: false},
	}

	for _, tc := range testCases {
		if got := f.HasIncludeDescendant(tc.path); got != tc.want {
			t.Fatalf("HasIncludeDescendant(%q)=%v, want %v", tc.path, got, tc.want)
		}
	}

	// The container itself does not match the include pattern, but it still
	// must be opened to reach the requested descendant.
	if !f.IsExcluded("Scripts") {
		t.Fatal("IsExcluded(Scripts)=false, container should not match insides-only include")
	}

	single, err := NewPatternFilter([]string{"Scripts/postinstall"}, nil)
	if err != nil {
		t.Fatalf("NewPatternFilter: %v", err)
	}
	if !single.HasIncludeDescendant("Scripts") {
		t.Fatal("HasIncludeDescendant(Scripts)=false with Scripts/postinstall include")
	}
	if single.HasIncludeDescendant("Payload") {
		t.Fatal("HasIncludeDescendant(Payload)=true with only a Scripts include")
	}
}

func TestPatternFilterNilReceiver(t *testing.T) {
	t.Parallel()

	var f *PatternFilter
	if f.IsExcluded("anything") {
		t.Fatal("nil filter excluded a path")
	}
	if f.HasIncludeDescendant("anything") {
		t.Fatal("nil filter reported an include descendant")
	}
}
