package pattern

import (
	"fmt"
	"strings"
)

// Syntax identifies the syntax in which a pattern's path is expressed.
type Syntax uint8

const (
	// SyntaxGlob indicates doublestar-style glob syntax. The * and ? wildcards
	// never match a path separator, ** matches zero or more whole path
	// components, and {a,b} alternation and [...] classes are supported.
	SyntaxGlob Syntax = iota
	// SyntaxRegex indicates RE2 regular expression syntax. Expressions are
	// anchored at both ends.
	SyntaxRegex
)

const (
	// globPrefix is the specification prefix for glob patterns.
	globPrefix = "glob"
	// regexPrefix is the specification prefix for regular expression patterns.
	regexPrefix = "regex"
)

// NameToSyntax converts a syntax name to a syntax. The boolean result
// indicates whether or not the name was recognized.
func NameToSyntax(name string) (Syntax, bool) {
	switch strings.ToLower(name) {
	case globPrefix:
		return SyntaxGlob, true
	case regexPrefix:
		return SyntaxRegex, true
	default:
		return SyntaxGlob, false
	}
}

// IsValid indicates whether or not the syntax is a recognized value.
func (s Syntax) IsValid() bool {
	return s == SyntaxGlob || s == SyntaxRegex
}

// String returns the syntax's specification prefix.
func (s Syntax) String() string {
	switch s {
	case SyntaxGlob:
		return globPrefix
	case SyntaxRegex:
		return regexPrefix
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Pattern is a path pattern. It is comparable and may be used as a map key.
type Pattern struct {
	// Syntax is the syntax of Path.
	Syntax Syntax
	// Path is the path pattern. It must contain at least one separator and a
	// non-empty final segment.
	Path string
}

// New creates a pattern from a syntax name and a path pattern. It only
// validates the syntax name. Use Compile to validate the path.
func New(syntax, path string) (Pattern, error) {
	s, ok := NameToSyntax(syntax)
	if !ok {
		return Pattern{}, &InvalidPatternError{
			Specification: syntax + ":" + path,
			Reason:        fmt.Sprintf("unknown syntax \"%s\"", syntax),
		}
	}
	return Pattern{Syntax: s, Path: path}, nil
}

// Parse parses a pattern specification of the form "glob:<path>" or
// "regex:<path>".
func Parse(specification string) (Pattern, error) {
	separator := strings.IndexByte(specification, ':')
	if separator < 0 {
		return Pattern{}, &InvalidPatternError{
			Specification: specification,
			Reason:        "missing syntax prefix",
		}
	}
	return New(specification[:separator], specification[separator+1:])
}

// String returns the pattern in specification form.
func (p Pattern) String() string {
	return p.Syntax.String() + ":" + p.Path
}

// MarshalText implements encoding.TextMarshaler.
func (p Pattern) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pattern) UnmarshalText(text []byte) error {
	result, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = result
	return nil
}
