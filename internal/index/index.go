// Package index holds the in-memory similarity index of kept images.
//
// An Index is an insertion-ordered mapping from absolute path to ImageInfo.
// Near-match lookups return the earliest inserted entry above the similarity
// threshold, never the closest one, so results depend only on index order.
package index

import (
	"fmt"

	"github.com/corona10/goimagehash"

	"bingarchiver/internal/hash"
	"bingarchiver/internal/models"
)

// Index is not safe for concurrent use.
type Index struct {
	entries []*models.ImageInfo
	byPath  map[string]int
	tree    *bkTree
}

// New creates an empty Index
func New() *Index {
	return &Index{
		byPath: make(map[string]int),
		tree:   newBKTree(treeDistance),
	}
}

// treeDistance is only used on fingerprints Put has already checked for compatibility.
func treeDistance(a, b *goimagehash.ExtImageHash) int {
	d, err := hash.Distance(a, b)
	if err != nil {
		panic(fmt.Sprintf("index: incompatible fingerprints in tree: %v", err))
	}
	return d
}

// Len returns the number of entries
func (x *Index) Len() int {
	return len(x.entries)
}

// Has reports whether path is indexed
func (x *Index) Has(path string) bool {
	_, ok := x.byPath[path]
	return ok
}

// Get returns the entry for path
func (x *Index) Get(path string) (*models.ImageInfo, bool) {
	pos, ok := x.byPath[path]
	if !ok {
		return nil, false
	}
	return x.entries[pos], true
}

// Entries returns all entries in insertion order
func (x *Index) Entries() []*models.ImageInfo {
	out := make([]*models.ImageInfo, len(x.entries))
	copy(out, x.entries)
	return out
}

// Put inserts or overwrites the entry for info.Path. An overwritten entry keeps
// its original position. Fingerprints must match the kind and length of those
// already indexed.
func (x *Index) Put(info *models.ImageInfo) error {
	if info == nil || info.Fingerprint == nil {
		return fmt.Errorf("%w: missing fingerprint", hash.ErrIncompatibleFingerprint)
	}
	if err := x.checkCompatible(info.Fingerprint); err != nil {
		return err
	}

	if pos, ok := x.byPath[info.Path]; ok {
		x.entries[pos] = info
		x.rebuild()
		return nil
	}

	x.byPath[info.Path] = len(x.entries)
	x.entries = append(x.entries, info)
	x.tree.insert(info.Fingerprint, len(x.entries)-1)
	return nil
}

// Prune removes entries for which exists returns false and returns the removed paths.
func (x *Index) Prune(exists func(path string) bool) []string {
	var removed []string
	kept := x.entries[:0]
	for _, e := range x.entries {
		if exists(e.Path) {
			kept = append(kept, e)
		} else {
			removed = append(removed, e.Path)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	for i := len(kept); i < len(x.entries); i++ {
		x.entries[i] = nil
	}
	x.entries = kept
	x.rebuild()
	return removed
}

// FindNearMatch returns the first entry, in insertion order, whose similarity to fp
// is strictly greater than threshold percent.
func (x *Index) FindNearMatch(fp *goimagehash.ExtImageHash, threshold float64) (*models.ImageInfo, error) {
	if fp == nil {
		return nil, fmt.Errorf("%w: missing fingerprint", hash.ErrIncompatibleFingerprint)
	}
	if len(x.entries) == 0 {
		return nil, nil
	}
	if err := x.checkCompatible(fp); err != nil {
		return nil, err
	}

	candidates := x.tree.findWithinDistance(fp, hash.MaxDistance(threshold, fp.Bits()))
	if len(candidates) == 0 {
		return nil, nil
	}

	first := candidates[0]
	for _, pos := range candidates[1:] {
		if pos < first {
			first = pos
		}
	}
	return x.entries[first], nil
}

func (x *Index) checkCompatible(fp *goimagehash.ExtImageHash) error {
	if len(x.entries) == 0 {
		return nil
	}
	_, err := hash.Distance(x.entries[0].Fingerprint, fp)
	return err
}

func (x *Index) rebuild() {
	x.byPath = make(map[string]int, len(x.entries))
	x.tree = newBKTree(treeDistance)
	for i, e := range x.entries {
		x.byPath[e.Path] = i
		x.tree.insert(e.Fingerprint, i)
	}
}
