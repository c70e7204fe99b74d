package monitor

import (
	"context"
	"sort"
	"sync"

	"github.com/mutagen-io/pathwatch/pkg/pattern"
	"github.com/mutagen-io/pathwatch/pkg/state"
)

// Sink receives matches. Implementations must be safe for concurrent use, since
// the dispatch loop and reconciliation tasks report matches concurrently, and
// should treat repeated reports of the same (pattern, path) pair as a single
// match.
type Sink interface {
	// Add records a match of path against p. The payload is the one supplied
	// when p was registered and may be nil.
	Add(p pattern.Pattern, path string, payload interface{})
}

// Result is a single match.
type Result struct {
	// Path is the matched path.
	Path string `yaml:"path"`
	// Pattern is the pattern that matched.
	Pattern pattern.Pattern `yaml:"pattern"`
	// Payload is the payload registered with the pattern.
	Payload interface{} `yaml:"payload,omitempty"`
}

// resultKey is the identity of a result.
type resultKey struct {
	// pattern is the matching pattern.
	pattern pattern.Pattern
	// path is the matched path.
	path string
}

// resultSet is a de-duplicating set of results.
type resultSet struct {
	// lock guards results.
	lock sync.Mutex
	// results maps result identities to results.
	results map[resultKey]Result
}

// add adds a result, reporting whether or not it was new.
func (s *resultSet) add(p pattern.Pattern, path string, payload interface{}) (Result, bool) {
	key := resultKey{p, path}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.results == nil {
		s.results = make(map[resultKey]Result)
	} else if existing, ok := s.results[key]; ok {
		return existing, false
	}
	result := Result{Path: path, Pattern: p, Payload: payload}
	s.results[key] = result
	return result, true
}

// Collector is a Sink that records the set of results in memory. The zero
// value is not valid; use NewCollector.
type Collector struct {
	// results is the underlying result set.
	results resultSet
	// tracker tracks changes to results.
	tracker *state.Tracker
}

// NewCollector creates a new, empty collector.
func NewCollector() *Collector {
	return &Collector{tracker: state.NewTracker()}
}

// Add implements Sink.Add.
func (c *Collector) Add(p pattern.Pattern, path string, payload interface{}) {
	if _, added := c.results.add(p, path, payload); added {
		c.tracker.NotifyOfChange()
	}
}

// Results returns all results, sorted by pattern and then by path.
func (c *Collector) Results() []Result {
	c.results.lock.Lock()
	results := make([]Result, 0, len(c.results.results))
	for _, result := range c.results.results {
		results = append(results, result)
	}
	c.results.lock.Unlock()
	sort.Slice(results, func(i, j int) bool {
		if pi, pj := results[i].Pattern.String(), results[j].Pattern.String(); pi != pj {
			return pi < pj
		}
		return results[i].Path < results[j].Path
	})
	return results
}

// Paths returns the paths matched by a pattern in sorted order.
func (c *Collector) Paths(p pattern.Pattern) []string {
	c.results.lock.Lock()
	var paths []string
	for key := range c.results.results {
		if key.pattern == p {
			paths = append(paths, key.path)
		}
	}
	c.results.lock.Unlock()
	sort.Strings(paths)
	return paths
}

// Count returns the number of paths matched by a pattern.
func (c *Collector) Count(p pattern.Pattern) int {
	c.results.lock.Lock()
	defer c.results.lock.Unlock()
	var count int
	for key := range c.results.results {
		if key.pattern == p {
			count++
		}
	}
	return count
}

// Len returns the total number of results.
func (c *Collector) Len() int {
	c.results.lock.Lock()
	defer c.results.lock.Unlock()
	return len(c.results.results)
}

// WaitForCount waits until at least count paths have matched p or the context
// is done, in which case the context's error is returned.
func (c *Collector) WaitForCount(ctx context.Context, p pattern.Pattern, count int) error {
	var index uint64
	for c.Count(p) < count {
		var err error
		if index, err = c.tracker.WaitForChange(ctx, index); err != nil {
			return err
		}
	}
	return nil
}

// Forwarder is a Sink that invokes a callback for each new result. Repeated
// reports of a result are suppressed.
type Forwarder struct {
	// results is the underlying result set.
	results resultSet
	// callback is the result callback.
	callback func(Result)
}

// NewForwarder creates a new forwarder. The callback may be invoked
// concurrently.
func NewForwarder(callback func(Result)) *Forwarder {
	return &Forwarder{callback: callback}
}

// Add implements Sink.Add.
func (f *Forwarder) Add(p pattern.Pattern, path string, payload interface{}) {
	if result, added := f.results.add(p, path, payload); added {
		f.callback(result)
	}
}
