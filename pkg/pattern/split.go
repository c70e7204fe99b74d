package pattern

// splitIndex returns the index of the separator dividing a path pattern into
// its directory prefix and final segment, or -1 if there is none. Separators
// that are escaped or that appear inside a character class never split. For
// glob syntax, separators inside an alternation don't split either.
func splitIndex(syntax Syntax, path string) int {
	index := -1
	var class, escaped bool
	var braces int
	for i := 0; i < len(path); i++ {
		c := path[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\':
			escaped = true
		case class:
			// A ']' immediately following the opening bracket (or a negation)
			// is a literal member of the class.
			if c == ']' && !classStart(path, i) {
				class = false
			}
		case c == '[':
			class = true
		case c == '{' && syntax == SyntaxGlob:
			braces++
		case c == '}' && syntax == SyntaxGlob && braces > 0:
			braces--
		case c == '/' && braces == 0:
			index = i
		}
	}
	return index
}

// classStart indicates whether or not the byte at index i immediately follows
// the opening of a character class (and any negation marker).
func classStart(path string, i int) bool {
	j := i - 1
	if j >= 0 && (path[j] == '^' || path[j] == '!') {
		j--
	}
	return j >= 0 && path[j] == '[' && !(j > 0 && path[j-1] == '\\')
}

// split divides a path pattern into its directory prefix and final segment. A
// separator at the start of the pattern yields a prefix of "/".
func split(syntax Syntax, path string) (string, string, bool) {
	index := splitIndex(syntax, path)
	if index < 0 {
		return "", "", false
	}
	scope, name := path[:index], path[index+1:]
	if scope == "" {
		scope = "/"
	}
	return scope, name, true
}
