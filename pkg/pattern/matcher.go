package pattern

import (
	"path/filepath"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gobwas/glob"
)

// predicate is a compiled string predicate.
type predicate interface {
	Match(string) bool
}

// doublestarPredicate matches paths against a doublestar glob.
type doublestarPredicate string

// Match implements predicate.Match.
func (p doublestarPredicate) Match(path string) bool {
	// The pattern was validated at compile time, so Match can't fail.
	match, _ := doublestar.Match(string(p), path)
	return match
}

// regexpPredicate matches strings against an anchored regular expression.
type regexpPredicate struct {
	expression *regexp.Regexp
}

// Match implements predicate.Match.
func (p regexpPredicate) Match(value string) bool {
	return p.expression.MatchString(value)
}

// Matcher is a compiled pattern, split into a directory scope matcher and a
// file name matcher. It is safe for concurrent use.
type Matcher struct {
	// pattern is the source pattern.
	pattern Pattern
	// scope matches directory paths against the pattern's directory prefix.
	scope predicate
	// name matches base names against the pattern's final segment.
	name predicate
}

// Compile compiles a pattern. It performs no I/O. It fails with an
// *InvalidPatternError if the syntax is unknown, if the path has no separator
// or an empty final segment, or if either half fails to compile.
func Compile(p Pattern) (*Matcher, error) {
	// Ensure that the syntax is recognized.
	if !p.Syntax.IsValid() {
		return nil, &InvalidPatternError{Specification: p.String(), Reason: "unknown syntax"}
	}

	// Split the pattern.
	scope, name, ok := split(p.Syntax, p.Path)
	if !ok {
		return nil, &InvalidPatternError{Specification: p.String(), Reason: "no directory component"}
	} else if name == "" {
		return nil, &InvalidPatternError{Specification: p.String(), Reason: "empty file name segment"}
	}

	// Compile each half.
	result := &Matcher{pattern: p}
	var err error
	if p.Syntax == SyntaxGlob {
		result.scope, result.name, err = compileGlob(scope, name)
	} else {
		result.scope, result.name, err = compileRegex(scope, name)
	}
	if err != nil {
		return nil, &InvalidPatternError{Specification: p.String(), Reason: "malformed " + p.Syntax.String(), Err: err}
	}

	// Success.
	return result, nil
}

// compileGlob compiles the halves of a glob pattern.
func compileGlob(scope, name string) (predicate, predicate, error) {
	// Validate the scope. doublestar only reports a bad pattern once matching
	// reaches the malformed portion, so we lean on gobwas/glob (which parses
	// the entire expression up front) and then confirm with doublestar against
	// a non-empty path.
	if _, err := glob.Compile(scope, '/'); err != nil {
		return nil, nil, err
	}
	if _, err := doublestar.Match(scope, "a"); err != nil {
		return nil, nil, err
	}

	// Compile the name matcher. Names never contain separators, so gobwas
	// semantics coincide with doublestar semantics here.
	if _, err := doublestar.Match(name, "a"); err != nil {
		return nil, nil, err
	}
	nameGlob, err := glob.Compile(name, '/')
	if err != nil {
		return nil, nil, err
	}

	// Success.
	return doublestarPredicate(scope), nameGlob, nil
}

// compileRegex compiles the halves of a regular expression pattern.
func compileRegex(scope, name string) (predicate, predicate, error) {
	scopeExpression, err := regexp.Compile("^(?:" + scope + ")$")
	if err != nil {
		return nil, nil, err
	}
	nameExpression, err := regexp.Compile("^(?:" + name + ")$")
	if err != nil {
		return nil, nil, err
	}
	return regexpPredicate{scopeExpression}, regexpPredicate{nameExpression}, nil
}

// Pattern returns the pattern from which the matcher was compiled.
func (m *Matcher) Pattern() Pattern {
	return m.pattern
}

// MatchScope indicates whether or not a directory path satisfies the
// pattern's directory prefix.
func (m *Matcher) MatchScope(directory string) bool {
	return m.scope.Match(filepath.ToSlash(directory))
}

// MatchName indicates whether or not a base name satisfies the pattern's
// final segment.
func (m *Matcher) MatchName(name string) bool {
	return m.name.Match(name)
}

// Match indicates whether or not a full path satisfies the pattern.
func (m *Matcher) Match(path string) bool {
	return m.MatchScope(filepath.Dir(path)) && m.MatchName(filepath.Base(path))
}
