package monitor

import (
	"sort"
	"sync"
)

// ScopeSet is a concurrency-safe set of directories known to satisfy a
// pattern's scope matcher. It only grows. Directories removed from disk
// simply stop producing events, so stale entries are harmless.
type ScopeSet struct {
	// lock guards directories.
	lock sync.RWMutex
	// directories is the set of in-scope directories.
	directories map[string]struct{}
}

// newScopeSet creates a new empty scope set.
func newScopeSet() *ScopeSet {
	return &ScopeSet{directories: make(map[string]struct{})}
}

// Add adds a directory to the set. It reports whether or not the directory
// was newly added.
func (s *ScopeSet) Add(directory string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.directories[directory]; ok {
		return false
	}
	s.directories[directory] = struct{}{}
	return true
}

// Contains indicates whether or not a directory is in the set.
func (s *ScopeSet) Contains(directory string) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.directories[directory]
	return ok
}

// Len returns the number of directories in the set.
func (s *ScopeSet) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.directories)
}

// Directories returns the directories in the set in sorted order.
func (s *ScopeSet) Directories() []string {
	s.lock.RLock()
	result := make([]string, 0, len(s.directories))
	for directory := range s.directories {
		result = append(result, directory)
	}
	s.lock.RUnlock()
	sort.Strings(result)
	return result
}
