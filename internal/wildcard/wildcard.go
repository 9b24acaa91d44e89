// Package wildcard implements the DOS-flavored wildcard matching used by
// GetFiles/GetDirectories/GetFileSystemEntries, per spec.md §4.9:
//
//	* matches any run of characters, including ".";
//	? matches any single character except ".";
//	a pattern with no "." has one appended;
//	matching is case-insensitive and anchored to the whole name.
//
// Grounded on direktiv-vorteil's pkg/vproj/builder.go, which compiles
// caller-supplied ignore patterns with gobwas/glob; here the DOS quirks are
// normalized into glob syntax before compiling.
package wildcard

import (
	"strings"

	"github.com/gobwas/glob"
)

// Pattern is a compiled DOS wildcard pattern ready to test names against.
type Pattern struct {
	g glob.Glob
}

// Compile translates a DOS wildcard pattern into a Pattern. "?" is rewritten
// to gobwas/glob's single-character class excluding ".", since plain "?" in
// glob syntax would otherwise also match a literal dot.
func Compile(pattern string) (*Pattern, error) {
	normalized := strings.ToLower(pattern)
	// A pattern with no "." is anchored against an extensionless name, per
	// the dot-append rule; but a trailing "*" already consumes any
	// extension a candidate name might have (rule 1), so appending a
	// literal "." there would wrongly require the name to end in a dot.
	if !strings.Contains(normalized, ".") && !strings.HasSuffix(normalized, "*") {
		normalized += "."
	}

	var b strings.Builder
	for _, r := range normalized {
		switch r {
		case '?':
			b.WriteString("[!.]")
		default:
			b.WriteRune(r)
		}
	}

	g, err := glob.Compile(b.String())
	if err != nil {
		return nil, err
	}
	return &Pattern{g: g}, nil
}

// MatchString reports whether name (case-insensitively) matches the
// compiled pattern. An extensionless name is normalized with the same
// trailing "." Compile gives an extensionless pattern, so the two compare
// like for like.
func (p *Pattern) MatchString(name string) bool {
	normalized := strings.ToLower(name)
	if !strings.Contains(normalized, ".") {
		normalized += "."
	}
	return p.g.Match(normalized)
}

// Match is a convenience one-shot form of Compile+MatchString, for callers
// that don't need to reuse the compiled pattern across many names.
func Match(pattern, name string) (bool, error) {
	p, err := Compile(pattern)
	if err != nil {
		return false, err
	}
	return p.MatchString(name), nil
}
