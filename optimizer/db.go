// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizer

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/symbolic/types"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
)

// Tags used in the Default database.
const (
	TagFastRun      = "fast_run"
	TagFastCompile  = "fast_compile"
	TagCanonicalize = "canonicalize"
	TagStabilize    = "stabilize"
	TagSpecialize   = "specialize"
	TagFusion       = "fusion"
	TagInplace      = "inplace"
	TagMerge        = "merge"
)

// Entry of a DB.
type Entry struct {
	Name     string
	Rewriter GraphRewriter
	Position float64
	Tags     []string
}

// hasTag returns whether the entry has the tag, or is named after it.
func (e *Entry) hasTag(tag string) bool {
	return e.Name == tag || slices.Contains(e.Tags, tag)
}

// DB is a registry of rewriters with a position (order of application) and tags, from which
// optimizers are built with a Query. It's safe for concurrent use.
type DB struct {
	mu      sync.Mutex
	entries []*Entry
}

// NewDB creates an empty DB.
func NewDB() *DB {
	return &DB{}
}

// Register adds a rewriter. It returns an error if the name is already registered.
func (db *DB) Register(name string, rewriter GraphRewriter, position float64, tags ...string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, e := range db.entries {
		if e.Name == name {
			return errors.Errorf("optimizer DB: rewriter %q already registered", name)
		}
	}
	db.entries = append(db.entries, &Entry{Name: name, Rewriter: rewriter, Position: position, Tags: slices.Clone(tags)})
	return nil
}

// Entries returns the registered entries ordered by position.
func (db *DB) Entries() []Entry {
	db.mu.Lock()
	defer db.mu.Unlock()
	entries := make([]Entry, len(db.entries))
	for ii, e := range db.entries {
		entries[ii] = *e
	}
	slices.SortStableFunc(entries, func(a, b Entry) int {
		switch {
		case a.Position < b.Position:
			return -1
		case a.Position > b.Position:
			return 1
		}
		return 0
	})
	return entries
}

// Query selects entries of a DB by tag (or name): an entry is selected if it has any of the
// Include tags, all the Require tags and none of the Exclude tags.
type Query struct {
	Include, Exclude, Require []string
}

// Including returns a copy of the query that also includes the tags.
func (q Query) Including(tags ...string) Query {
	q.Include = append(slices.Clone(q.Include), tags...)
	return q
}

// Excluding returns a copy of the query that also excludes the tags.
func (q Query) Excluding(tags ...string) Query {
	q.Exclude = append(slices.Clone(q.Exclude), tags...)
	return q
}

// Requiring returns a copy of the query that also requires the tags.
func (q Query) Requiring(tags ...string) Query {
	q.Require = append(slices.Clone(q.Require), tags...)
	return q
}

// String implements fmt.Stringer.
func (q Query) String() string {
	return fmt.Sprintf("Query{include=%v, exclude=%v, require=%v}", q.Include, q.Exclude, q.Require)
}

func (q Query) matches(e *Entry) bool {
	included := false
	for _, tag := range q.Include {
		if e.hasTag(tag) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, tag := range q.Require {
		if !e.hasTag(tag) {
			return false
		}
	}
	for _, tag := range q.Exclude {
		if e.hasTag(tag) {
			return false
		}
	}
	return true
}

// Query returns a SequenceOptimizer with the selected rewriters, ordered by position.
func (db *DB) Query(q Query) *SequenceOptimizer {
	var rewriters []GraphRewriter
	var names []string
	for _, e := range db.Entries() {
		if q.matches(&e) {
			rewriters = append(rewriters, e.Rewriter)
			names = append(names, e.Name)
		}
	}
	return NewSequenceOptimizer(strings.Join(names, "+"), rewriters...)
}

// Tags returns all tags used by the entries of the DB, sorted.
func (db *DB) Tags() []string {
	tags := types.MakeSet[string]()
	for _, e := range db.Entries() {
		tags.Insert(e.Tags...)
	}
	sorted := make([]string, 0, len(tags))
	for tag := range tags {
		sorted = append(sorted, tag)
	}
	slices.Sort(sorted)
	return sorted
}

var (
	defaultDB     *DB
	defaultDBOnce sync.Once
)

// Default returns the database with the standard rewrites:
//
//   - merge1 (position 0): MergeOptimizer.
//   - canonicalize (1): constant folding and algebraic simplifications, to equilibrium.
//   - stabilize (2): numerically stable rewrites.
//   - specialize (3): special cases and BLAS, to equilibrium.
//   - fusion (4): elementwise fusion, to equilibrium.
//   - merge2 (5): MergeOptimizer.
//   - inplace (6): in-place annotation.
func Default() *DB {
	defaultDBOnce.Do(func() {
		db := NewDB()
		must.M(db.Register("merge1", MergeOptimizer{}, 0, TagFastRun, TagFastCompile, TagMerge))
		must.M(db.Register("canonicalize",
			NewEquilibriumOptimizer("canonicalize", CanonicalizeRewriters()...).WithGraphRewriters(MergeOptimizer{}),
			1, TagFastRun, TagCanonicalize))
		must.M(db.Register("stabilize", NewEquilibriumOptimizer("stabilize", StabilizeRewriters()...), 2, TagFastRun, TagStabilize))
		must.M(db.Register("specialize",
			NewEquilibriumOptimizer("specialize", append(SpecializeRewriters(), CanonicalizeRewriters()...)...),
			3, TagFastRun, TagSpecialize))
		must.M(db.Register("fusion", NewEquilibriumOptimizer("fusion", LocalElemwiseFusion), 4, TagFastRun, TagFusion))
		must.M(db.Register("merge2", MergeOptimizer{}, 5, TagFastRun, TagFastCompile, TagMerge))
		must.M(db.Register("inplace", InplaceOptimizer{}, 6, TagFastRun, TagInplace))
		defaultDB = db
	})
	return defaultDB
}
