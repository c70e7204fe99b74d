// Package monitor implements a recursive, pattern-filtered file watcher on top
// of a non-recursive native notification primitive.
//
// A Monitor registers every directory under its root, classifies each
// directory against the scope of every registered pattern, and then runs a
// single dispatch loop that tests each create or modify event's file name
// against the patterns whose scope includes the event's directory. Two kinds
// of reconciliation walk recover events that the primitive can't deliver:
// registration reconciliation covers files that appeared in a directory
// before its watch became effective, and overflow reconciliation covers files
// modified while the primitive was dropping events. Both compare file
// modification times against a tolerance-padded window, since many
// filesystems only record whole seconds.
package monitor
