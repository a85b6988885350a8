package index

import "github.com/corona10/goimagehash"

// bkTree is a BK-tree over fingerprints using Hamming distance. It returns every
// position within a distance bound; callers pick among them.
type bkTree struct {
	root     *bkNode
	distance func(a, b *goimagehash.ExtImageHash) int
}

type bkNode struct {
	fp       *goimagehash.ExtImageHash
	pos      int
	children map[int]*bkNode // distance -> child node
}

func newBKTree(distanceFn func(a, b *goimagehash.ExtImageHash) int) *bkTree {
	return &bkTree{distance: distanceFn}
}

// insert adds a fingerprint with its insertion position to the tree.
func (t *bkTree) insert(fp *goimagehash.ExtImageHash, pos int) {
	node := &bkNode{
		fp:       fp,
		pos:      pos,
		children: make(map[int]*bkNode),
	}

	if t.root == nil {
		t.root = node
		return
	}

	current := t.root
	for {
		dist := t.distance(fp, current.fp)
		if child, exists := current.children[dist]; exists {
			current = child
		} else {
			current.children[dist] = node
			return
		}
	}
}

// findWithinDistance returns the positions of all fingerprints within
// maxDistance of fp, in no particular order.
func (t *bkTree) findWithinDistance(fp *goimagehash.ExtImageHash, maxDistance int) []int {
	if t.root == nil || maxDistance < 0 {
		return nil
	}

	var results []int
	t.searchNode(t.root, fp, maxDistance, &results)
	return results
}

func (t *bkTree) searchNode(node *bkNode, fp *goimagehash.ExtImageHash, maxDistance int, results *[]int) {
	dist := t.distance(fp, node.fp)

	if dist <= maxDistance {
		*results = append(*results, node.pos)
	}

	// Triangle inequality: only children in [dist-maxDistance, dist+maxDistance] can match.
	minDist := dist - maxDistance
	if minDist < 0 {
		minDist = 0
	}
	maxDist := dist + maxDistance

	for childDist, child := range node.children {
		if childDist >= minDist && childDist <= maxDist {
			t.searchNode(child, fp, maxDistance, results)
		}
	}
}
