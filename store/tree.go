package store

import "fmt"

// The heap tree maps dense allocation indices to object stores. Fan-out is
// a fixed power of two; the tree grows in height lazily to cover the
// largest index written. Nodes are refcounted and copy-on-write: a node
// with refs > 1 is duplicated before mutation, re-sharing its children.
const (
	fanout    = 16
	fanoutLog = 4
)

// A slot holds a child node at heights above 1 and a leaf store at
// height 1. At most one of the two is set.
type slot struct {
	node *treeNode
	leaf Leaf
}

type treeNode struct {
	refs  int32
	slots [fanout]slot
}

func newTreeNode() *treeNode { return &treeNode{refs: 1} }

func (n *treeNode) retain() *treeNode {
	if n.refs <= 0 {
		panic(fmt.Sprintf("retain of dead tree node (refs=%d)", n.refs))
	}
	n.refs++
	return n
}

// release drops one reference, recursively releasing children when the
// node dies. height is the node's own level, 1 for leaf-bearing nodes.
func (n *treeNode) release(height int32) {
	n.refs--
	if n.refs < 0 {
		panic("tree node released below zero")
	}
	if n.refs > 0 {
		return
	}
	for i := range n.slots {
		if height == 1 {
			releaseLeaf(n.slots[i].leaf)
		} else if n.slots[i].node != nil {
			n.slots[i].node.release(height - 1)
		}
		n.slots[i] = slot{}
	}
}

// writableCopy returns a node the caller owns exclusively, retaining all
// children. The caller's reference to n is consumed.
func (n *treeNode) writableCopy(height int32) *treeNode {
	if n.refs == 1 {
		return n
	}
	c := newTreeNode()
	c.slots = n.slots
	for i := range c.slots {
		if height == 1 {
			retainLeaf(c.slots[i].leaf)
		} else if c.slots[i].node != nil {
			c.slots[i].node.retain()
		}
	}
	n.release(height)
	return c
}

// treeRoot is the heap tree handle embedded in each local store: the root
// node plus the current height. A nil root is the empty tree.
type treeRoot struct {
	root   *treeNode
	height int32
}

func (r treeRoot) share() treeRoot {
	if r.root != nil {
		r.root.retain()
	}
	return r
}

func (r *treeRoot) drop() {
	if r.root != nil {
		r.root.release(r.height)
		r.root = nil
		r.height = 0
	}
}

// capacity is the number of indices addressable at the current height.
func (r treeRoot) capacity() uint64 {
	if r.root == nil {
		return 0
	}
	return 1 << (uint(r.height) * fanoutLog)
}

func heightFor(idx uint32) int32 {
	h := int32(1)
	for capacity := uint64(fanout); uint64(idx) >= capacity; capacity <<= fanoutLog {
		h++
	}
	return h
}

// lookup returns the store for an allocation index, or nil when the index
// has never been written in this tree.
func (r treeRoot) lookup(idx uint32) Leaf {
	if r.root == nil || uint64(idx) >= r.capacity() {
		return nil
	}
	n := r.root
	for h := r.height; h > 1; h-- {
		n = n.slots[digit(idx, h)].node
		if n == nil {
			return nil
		}
	}
	return n.slots[digit(idx, 1)].leaf
}

func digit(idx uint32, height int32) int {
	return int(idx>>(uint(height-1)*fanoutLog)) & (fanout - 1)
}

// growToHeight wraps the existing root in single-child levels until the
// tree is h levels tall. O(h), never touches existing nodes' contents.
func (r *treeRoot) growToHeight(h int32) {
	if r.root == nil {
		r.root = newTreeNode()
		r.height = h
		return
	}
	for r.height < h {
		wrap := newTreeNode()
		wrap.slots[0].node = r.root
		r.root = wrap
		r.height++
	}
}

// setLeaf installs a store for idx, COW-breaking every node on the path
// and growing the tree first when idx is out of range. Any previous store
// for idx is released.
func (r *treeRoot) setLeaf(idx uint32, l Leaf) {
	if h := heightFor(idx); h > r.height {
		r.growToHeight(h)
	}
	r.root = r.root.writableCopy(r.height)
	n := r.root
	for h := r.height; h > 1; h-- {
		s := &n.slots[digit(idx, h)]
		if s.node == nil {
			s.node = newTreeNode()
		} else {
			s.node = s.node.writableCopy(h - 1)
		}
		n = s.node
	}
	s := &n.slots[digit(idx, 1)]
	releaseLeaf(s.leaf)
	s.leaf = l
}

// writableLeaf returns the store for idx ready for in-place mutation: the
// path is COW-broken and, when the stored leaf is a shared interval store,
// it is replaced by an exclusively owned copy. Returns nil when idx has no
// entry; the caller then decides what to install via setLeaf.
func (r *treeRoot) writableLeaf(idx uint32) Leaf {
	if r.root == nil || uint64(idx) >= r.capacity() {
		return nil
	}
	r.root = r.root.writableCopy(r.height)
	n := r.root
	for h := r.height; h > 1; h-- {
		s := &n.slots[digit(idx, h)]
		if s.node == nil {
			return nil
		}
		s.node = s.node.writableCopy(h - 1)
		n = s.node
	}
	s := &n.slots[digit(idx, 1)]
	if m, ok := s.leaf.(*Multi); ok {
		s.leaf = m.writableCopy()
	}
	return s.leaf
}
