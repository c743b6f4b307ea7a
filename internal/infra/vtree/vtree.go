// Package vtree implements a generic augmented red-black tree keyed by a
// fixed-point virtual timestamp, with subtree-minimum augmentation for O(log N)
// eligibility queries (spec.md §4.1, the EEVDF query).
//
// It backs both the per-class service trees (entities keyed by finish time,
// augmented by minimum start time) and the per-queue sector index (requests
// keyed by starting sector) described in spec.md §3–§4. The tree owns no
// scheduling semantics of its own — callers supply comparison and
// augmentation through the Item interface.
package vtree

// Item is anything that can live in a Tree. Key returns the ordering key
// (finish time for service trees, start sector for the per-queue index);
// AugValue returns the value folded by Min across a node's subtree (start
// time for service trees; unused — return Key() — for the sector index).
type Item interface {
	Key() int64
	AugValue() int64
}

type color bool

const (
	red   color = true
	black color = false
)

// Node is one red-black tree node, augmented with MinAug: the minimum
// AugValue() across itself and its whole subtree (spec.md §4.1).
type Node struct {
	item                Item
	color               color
	left, right, parent *Node
	minAug              int64
}

// Tree is an augmented red-black tree. Zero value is an empty, usable tree.
// Not safe for concurrent use; callers serialize access (spec.md §5).
type Tree struct {
	root *Node
	size int
}

// Len returns the number of items in the tree.
func (t *Tree) Len() int { return t.size }

// Empty reports whether the tree has no items.
func (t *Tree) Empty() bool { return t.root == nil }

// Min returns the node with the smallest key, or nil if the tree is empty.
func (t *Tree) Min() *Node {
	n := t.root
	if n == nil {
		return nil
	}
	for n.left != nil {
		n = n.left
	}
	return n
}

// Item returns the item stored at a node.
func (n *Node) Item() Item { return n.item }

// Next returns the in-order successor of n, or nil if n is the last node.
func (n *Node) Next() *Node {
	if n == nil {
		return nil
	}
	if n.right != nil {
		m := n.right
		for m.left != nil {
			m = m.left
		}
		return m
	}
	m := n
	p := m.parent
	for p != nil && m == p.right {
		m = p
		p = p.parent
	}
	return p
}

// Insert adds item to the tree and returns the new node.
func (t *Tree) Insert(item Item) *Node {
	n := &Node{item: item, color: red, minAug: item.AugValue()}
	if t.root == nil {
		n.color = black
		t.root = n
		t.size++
		return n
	}

	cur := t.root
	var parent *Node
	goLeft := false
	for cur != nil {
		parent = cur
		if item.Key() < cur.item.Key() {
			cur = cur.left
			goLeft = true
		} else {
			cur = cur.right
			goLeft = false
		}
	}
	n.parent = parent
	if goLeft {
		parent.left = n
	} else {
		parent.right = n
	}
	t.size++
	t.updateAugUp(n)
	t.insertFixup(n)
	return n
}

// Remove deletes node n from the tree.
func (t *Tree) Remove(n *Node) {
	if n == nil {
		return
	}
	t.size--

	// Standard BST delete with the usual two-children-successor swap,
	// followed by red-black fixup, then augmentation refresh along the
	// path actually mutated.
	if n.left != nil && n.right != nil {
		// Swap n with its successor node (items stay put) so n has <=1 child.
		succ := n.right
		for succ.left != nil {
			succ = succ.left
		}
		succParent, succRight := succ.parent, succ.right
		replaceNode(t, n, succ)
		n.left.parent, succ.left, n.left = succ, n.left, nil
		if succParent == n {
			succ.right, n.parent = n, succ
		} else {
			n.right.parent, succ.right, succParent.left, n.parent = succ, n.right, n, succParent
		}
		n.right, n.color, succ.color = succRight, succ.color, n.color
		if succRight != nil {
			succRight.parent = n
		}
	}

	child := n.left
	if child == nil {
		child = n.right
	}

	replaceNode(t, n, child)

	fixupNode := child
	fixupParent := n.parent
	if n.color == black {
		if child != nil && child.color == red {
			child.color = black
		} else {
			t.deleteFixup(fixupNode, fixupParent)
		}
	}
	if fixupParent != nil {
		t.updateAugUp(fixupParent)
	}
}

// replaceNode splices child into n's position (child may be nil).
func replaceNode(t *Tree, n, child *Node) {
	if child != nil {
		child.parent = n.parent
	}
	if n.parent == nil {
		t.root = child
	} else if n.parent.left == n {
		n.parent.left = child
	} else {
		n.parent.right = child
	}
}

func nodeAug(n *Node) int64 {
	if n == nil {
		return maxInt64
	}
	return n.minAug
}

const maxInt64 = int64(^uint64(0) >> 1)

func recompute(n *Node) {
	m := n.item.AugValue()
	if l := nodeAug(n.left); l < m {
		m = l
	}
	if r := nodeAug(n.right); r < m {
		m = r
	}
	n.minAug = m
}

// updateAugUp recomputes n.minAug and walks up to the root recomputing
// every ancestor, maintaining the augmentation invariant after a structural
// change (spec.md §8 invariant 3).
func (t *Tree) updateAugUp(n *Node) {
	for n != nil {
		recompute(n)
		n = n.parent
	}
}

// EligibleFloor descends the tree to find the leftmost node that is
// "eligible" at vtime — i.e. whose AugValue() (start time) is <= vtime —
// preferring the smallest key (finish time) among eligible nodes. This is
// the EEVDF query of spec.md §4.1: at each node, recurse left if the left
// subtree's minAug <= vtime; else return this node if eligible; else
// recurse right.
func (t *Tree) EligibleFloor(vtime int64) *Node {
	n := t.root
	var best *Node
	for n != nil {
		if nodeAug(n.left) <= vtime {
			n = n.left
			continue
		}
		if n.item.AugValue() <= vtime {
			best = n
			break
		}
		n = n.right
	}
	return best
}

// ─── Red-black rebalancing (standard CLRS algorithm, unmodified by the
// augmentation: insertFixup/deleteFixup only rotate and recolor; every
// rotation refreshes minAug for the nodes it touches) ───────────────────────

func rotateLeft(t *Tree, n *Node) {
	r := n.right
	n.right = r.left
	if r.left != nil {
		r.left.parent = n
	}
	r.parent = n.parent
	if n.parent == nil {
		t.root = r
	} else if n == n.parent.left {
		n.parent.left = r
	} else {
		n.parent.right = r
	}
	r.left = n
	n.parent = r
	recompute(n)
	recompute(r)
}

func rotateRight(t *Tree, n *Node) {
	l := n.left
	n.left = l.right
	if l.right != nil {
		l.right.parent = n
	}
	l.parent = n.parent
	if n.parent == nil {
		t.root = l
	} else if n == n.parent.right {
		n.parent.right = l
	} else {
		n.parent.left = l
	}
	l.right = n
	n.parent = l
	recompute(n)
	recompute(l)
}

func (t *Tree) insertFixup(n *Node) {
	for n.parent != nil && n.parent.color == red {
		parent := n.parent
		grand := parent.parent
		if grand == nil {
			break
		}
		if parent == grand.left {
			uncle := grand.right
			if uncle != nil && uncle.color == red {
				parent.color = black
				uncle.color = black
				grand.color = red
				n = grand
				continue
			}
			if n == parent.right {
				n = parent
				rotateLeft(t, n)
				parent = n.parent
			}
			parent.color = black
			grand.color = red
			rotateRight(t, grand)
		} else {
			uncle := grand.left
			if uncle != nil && uncle.color == red {
				parent.color = black
				uncle.color = black
				grand.color = red
				n = grand
				continue
			}
			if n == parent.left {
				n = parent
				rotateRight(t, n)
				parent = n.parent
			}
			parent.color = black
			grand.color = red
			rotateLeft(t, grand)
		}
	}
	t.root.color = black
}

func isBlack(n *Node) bool {
	return n == nil || n.color == black
}

func (t *Tree) deleteFixup(n, parent *Node) {
	for n != t.root && isBlack(n) && parent != nil {
		if n == parent.left {
			sib := parent.right
			if sib != nil && sib.color == red {
				sib.color = black
				parent.color = red
				rotateLeft(t, parent)
				sib = parent.right
			}
			if sib == nil {
				n = parent
				parent = n.parent
				continue
			}
			if isBlack(sib.left) && isBlack(sib.right) {
				sib.color = red
				n = parent
				parent = n.parent
				continue
			}
			if isBlack(sib.right) {
				if sib.left != nil {
					sib.left.color = black
				}
				sib.color = red
				rotateRight(t, sib)
				sib = parent.right
			}
			sib.color = parent.color
			parent.color = black
			if sib.right != nil {
				sib.right.color = black
			}
			rotateLeft(t, parent)
			n = t.root
			parent = nil
		} else {
			sib := parent.left
			if sib != nil && sib.color == red {
				sib.color = black
				parent.color = red
				rotateRight(t, parent)
				sib = parent.left
			}
			if sib == nil {
				n = parent
				parent = n.parent
				continue
			}
			if isBlack(sib.left) && isBlack(sib.right) {
				sib.color = red
				n = parent
				parent = n.parent
				continue
			}
			if isBlack(sib.left) {
				if sib.right != nil {
					sib.right.color = black
				}
				sib.color = red
				rotateLeft(t, sib)
				sib = parent.left
			}
			sib.color = parent.color
			parent.color = black
			if sib.left != nil {
				sib.left.color = black
			}
			rotateRight(t, parent)
			n = t.root
			parent = nil
		}
	}
	if n != nil {
		n.color = black
	}
}

// Walk calls fn for every item in ascending key order.
func (t *Tree) Walk(fn func(Item)) {
	var rec func(*Node)
	rec = func(n *Node) {
		if n == nil {
			return
		}
		rec(n.left)
		fn(n.item)
		rec(n.right)
	}
	rec(t.root)
}

// CheckInvariant verifies the augmentation invariant (spec.md §8 invariant
// 3) holds across the whole tree: for every node n, n.minAug ==
// min(n.item.AugValue(), n.left.minAug, n.right.minAug). Intended for tests.
func (t *Tree) CheckInvariant() bool {
	var rec func(*Node) bool
	rec = func(n *Node) bool {
		if n == nil {
			return true
		}
		want := n.item.AugValue()
		if l := nodeAug(n.left); l < want {
			want = l
		}
		if r := nodeAug(n.right); r < want {
			want = r
		}
		if want != n.minAug {
			return false
		}
		return rec(n.left) && rec(n.right)
	}
	return rec(t.root)
}
