// Package filesystem provides the filesystem utilities used by pathwatch: a
// pre-order walk with a directory hook that can prune subtrees, and atomic file
// writes. Native change notification lives in the watching subpackage.
package filesystem
