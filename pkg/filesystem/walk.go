package filesystem

import (
	"context"
	"os"
	"path/filepath"

	"github.com/mutagen-io/pathwatch/pkg/contextutil"
)

// Visitor provides the callbacks used by Walk. Any callback may be nil.
type Visitor struct {
	// Directory is invoked for each directory (including the root) before its
	// contents are listed. If it returns false, the directory's contents are
	// not visited. A nil Directory callback descends into every directory.
	Directory func(path string, info os.FileInfo) bool
	// File is invoked for each non-directory entry.
	File func(path string, info os.FileInfo)
	// Error is invoked when metadata for an entry or the contents of a
	// directory can't be read. The affected branch is abandoned, but the walk
	// continues with its siblings.
	Error func(path string, err error)
}

// descend invokes the visitor's directory callback.
func (v *Visitor) descend(path string, info os.FileInfo) bool {
	return v.Directory == nil || v.Directory(path, info)
}

// file invokes the visitor's file callback.
func (v *Visitor) file(path string, info os.FileInfo) {
	if v.File != nil {
		v.File(path, info)
	}
}

// error invokes the visitor's error callback.
func (v *Visitor) error(path string, err error) {
	if v.Error != nil {
		v.Error(path, err)
	}
}

// walkRecursive is the recursive entry point underlying Walk.
func walkRecursive(ctx context.Context, path string, info os.FileInfo, visitor *Visitor) error {
	// Check for cancellation.
	if contextutil.IsCancelled(ctx) {
		return ctx.Err()
	}

	// If this isn't a directory, then just visit it directly.
	if !info.IsDir() {
		visitor.file(path, info)
		return nil
	}

	// Visit the directory before reading its contents, giving the visitor an
	// opportunity to act on the directory before any entry is observed.
	if !visitor.descend(path, info) {
		return nil
	}

	// Read directory contents. If we can't, then report the error and abandon
	// this branch.
	entries, err := os.ReadDir(path)
	if err != nil {
		visitor.error(path, err)
		return nil
	}

	// Process contents.
	for _, entry := range entries {
		child := filepath.Join(path, entry.Name())
		childInfo, err := entry.Info()
		if err != nil {
			// The entry may have been removed since the listing. That's not
			// worth reporting.
			if !os.IsNotExist(err) {
				visitor.error(child, err)
			}
			continue
		}
		if err := walkRecursive(ctx, child, childInfo, visitor); err != nil {
			return err
		}
	}

	// Success.
	return nil
}

// Walk performs a depth-first, pre-order traversal of the filesystem rooted at
// root. Entries are visited in lexical order within each directory, symbolic
// links are never followed, and I/O errors are handed to the visitor rather
// than aborting the walk. The only error returned by Walk is the context's
// error if the walk is cancelled.
func Walk(ctx context.Context, root string, visitor Visitor) error {
	// Grab information on the walk root.
	info, err := os.Lstat(root)
	if err != nil {
		visitor.error(root, err)
		return nil
	}

	// Perform the walk.
	return walkRecursive(ctx, root, info, &visitor)
}
