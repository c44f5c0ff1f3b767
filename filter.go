// SPDX-License-Identifier: MIT
// Source: github.com/cerisier/pkgutil

package pkgutil

import (
	"fmt"
	"strings"

	"github.com/woozymasta/pathrules"
)

// PatternFilter decides which logical paths are extracted. It holds ordered
// include and exclude patterns plus a derived ancestor index used to tell
// whether an include pattern names something inside a container entry.
//
// Semantics: a path is excluded when it matches any exclude pattern, or when
// include patterns exist and the path matches none of them. Exclude patterns
// always win over include matches. The filter is immutable once compiled.
type PatternFilter struct {
	include *pathrules.Matcher
	exclude *pathrules.Matcher
	// includeAncestors holds every strict ancestor prefix of every include
	// pattern, for descendant lookups against container paths.
	includeAncestors map[string]struct{}
	hasIncludes      bool
}

// NewPatternFilter compiles include and exclude patterns into a filter.
// Patterns are matched against full normalized logical paths.
func NewPatternFilter(include, exclude []string) (*PatternFilter, error) {
	f := &PatternFilter{
		includeAncestors: make(map[string]struct{}),
	}

	includeRules := make([]pathrules.Rule, 0, len(include))
	for _, pattern := range include {
		pattern = normalizePattern(pattern)
		if pattern == "" {
			continue
		}

		includeRules = append(includeRules, pathrules.Rule{
			Action:  pathrules.ActionInclude,
			Pattern: pattern,
		})
		addAncestors(f.includeAncestors, pattern)
	}

	excludeRules := make([]pathrules.Rule, 0, len(exclude))
	for _, pattern := range exclude {
		pattern = normalizePattern(pattern)
		if pattern == "" {
			continue
		}

		excludeRules = append(excludeRules, pathrules.Rule{
			Action:  pathrules.ActionExclude,
			Pattern: pattern,
		})
	}

	if len(includeRules) > 0 {
		matcher, err := pathrules.NewMatcher(includeRules, pathrules.MatcherOptions{
			DefaultAction: pathrules.ActionExclude,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: compile include rules: %w", ErrInvalidPattern, err)
		}

		f.include = matcher
		f.hasIncludes = true
	}

	if len(excludeRules) > 0 {
		matcher, err := pathrules.NewMatcher(excludeRules, pathrules.MatcherOptions{
			DefaultAction: pathrules.ActionInclude,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: compile exclude rules: %w", ErrInvalidPattern, err)
		}

		f.exclude = matcher
	}

	return f, nil
}

// IsExcluded reports whether the logical path must be skipped.
func (f *PatternFilter) IsExcluded(path string) bool {
	if f == nil {
		return false
	}

	if f.exclude != nil && f.exclude.Excluded(path, false) {
		return true
	}

	if f.hasIncludes && !f.include.Included(path, false) {
		return true
	}

	return false
}

// HasIncludeDescendant reports whether any include pattern is lexically
// nested under path. A container entry that is itself filtered out must
// still be opened when this returns true, because something inside it was
// explicitly requested.
func (f *PatternFilter) HasIncludeDescendant(path string) bool {
	if f == nil || !f.hasIncludes {
		return false
	}

	_, ok := f.includeAncestors[path]
	return ok
}

// normalizePattern converts one user pattern to matcher form.
func normalizePattern(pattern string) string {
	pattern = strings.TrimSpace(pattern)
	pattern = strings.TrimPrefix(pattern, "./")
	return strings.TrimSuffix(pattern, "/")
}

// addAncestors records every strict ancestor prefix of pattern.
// For "Scripts/postinstall" that is just "Scripts"; wildcards in ancestor
// segments are kept verbatim and never match a concrete container path.
func addAncestors(ancestors map[string]struct{}, pattern string) {
	for {
		idx := strings.LastIndexByte(pattern, '/')
		if idx <= 0 {
			return
		}

		pattern = pattern[:idx]
		ancestors[pattern] = struct{}{}
	}
}
