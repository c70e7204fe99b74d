// Package pattern compiles glob and regular expression path patterns into a
// pair of matchers: one testing whether a directory lies in the pattern's
// scope and one testing file names within such a directory. Native watch
// events identify a file by directory and name, so splitting the pattern once
// lets the per-event check test only the name.
package pattern
