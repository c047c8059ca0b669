package memdriver

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

// btreeDegree is the branching factor of the ordered store. The value is
// not performance-critical for a reference driver.
const btreeDegree = 16

// storeItem is one committed key/value pair.
type storeItem struct {
	key   []byte
	value []byte
}

func (i *storeItem) Less(than btree.Item) bool {
	return bytes.Compare(i.key, than.(*storeItem).key) < 0
}

// store is the committed state of the database: an ordered key space, a
// monotonically increasing commit version, and the registered watches.
type store struct {
	mu sync.Mutex

	tree    *btree.BTree
	version int64

	// watches maps a key to the futures resolving when its value next
	// changes.
	watches map[string][]*future
}

func newStore() *store {
	return &store{
		tree:    btree.New(btreeDegree),
		watches: make(map[string][]*future),
	}
}

// snapshot returns a copy-on-write clone of the key space plus the version
// it corresponds to.
func (s *store) snapshot() (*btree.BTree, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tree.Clone(), s.version
}

// addWatch registers a future to resolve when key's value next changes.
func (s *store) addWatch(key []byte, f *future) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := string(key)
	s.watches[k] = append(s.watches[k], f)
}

// apply installs a transaction's buffered effects atomically: range clears
// first, then point writes and mutations in key order. It returns the new
// commit version and fires the watches of every touched key.
func (s *store) apply(clears [][2][]byte, writes *btree.BTree) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A read-only commit does not advance the version.
	if len(clears) == 0 && writes.Len() == 0 {
		return s.version
	}

	touched := make(map[string]struct{})

	for _, r := range clears {
		var doomed []*storeItem
		s.ascendRange(r[0], r[1], func(it *storeItem) bool {
			doomed = append(doomed, it)
			return true
		})
		for _, it := range doomed {
			s.tree.Delete(it)
			touched[string(it.key)] = struct{}{}
		}
	}

	writes.Ascend(func(item btree.Item) bool {
		e := item.(*txEntry)
		touched[string(e.key)] = struct{}{}

		switch e.kind {
		case entryDel:
			s.tree.Delete(&storeItem{key: e.key})

		case entrySet:
			s.tree.ReplaceOrInsert(&storeItem{
				key:   dup(e.key),
				value: dup(e.value),
			})

		case entryMutate:
			var (
				base    []byte
				present bool
			)
			if it := s.tree.Get(&storeItem{key: e.key}); it != nil {
				base = it.(*storeItem).value
				present = true
			}
			for _, m := range e.muts {
				base = applyMutation(base, present, m.operand, m.op)
				present = true
			}
			s.tree.ReplaceOrInsert(&storeItem{
				key:   dup(e.key),
				value: base,
			})
		}

		return true
	})

	s.version++
	log.Tracef("Applied commit at version %d, %d key(s) touched",
		s.version, len(touched))

	for key := range touched {
		for _, f := range s.watches[key] {
			f.complete(nil)
		}
		delete(s.watches, key)
	}

	return s.version
}

// ascendRange walks the committed pairs in [begin, end) in key order.
func (s *store) ascendRange(begin, end []byte, visit func(*storeItem) bool) {
	s.tree.AscendRange(
		&storeItem{key: begin}, &storeItem{key: end},
		func(item btree.Item) bool {
			return visit(item.(*storeItem))
		},
	)
}
