// Package selection resolves table name patterns from the command line into
// concrete table names.
package selection

import (
	"fmt"
	"regexp"
	"strings"
)

// ResolvePatterns expands a pattern list against the known table names.
// Literal elements pass through untouched, present or not; elements
// containing * become anchored regular expressions and select every matching
// name. Results keep the iteration order of the input, without duplicates.
func ResolvePatterns(patterns, names []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	for _, p := range patterns {
		if !strings.Contains(p, "*") {
			add(p)
			continue
		}
		re, err := compileGlob(p)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if re.MatchString(name) {
				add(name)
			}
		}
	}
	return out, nil
}

// SplitList splits a comma-separated flag value, dropping empty elements.
func SplitList(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, part := range strings.Split(pattern, "*") {
		b.WriteString(regexp.QuoteMeta(part))
		b.WriteString(".*")
	}
	expr := strings.TrimSuffix(b.String(), ".*") + "$"
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid table pattern %q: %w", pattern, err)
	}
	return re, nil
}
