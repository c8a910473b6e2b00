// Package store implements the persistent, copy-on-write store stack of the
// memory model: per-object interval stores, the refcounted heap tree mapping
// allocation indices to object stores, per-context local overlays with call
// frames, and the merge algorithm that joins overlays at control-flow
// confluences.
//
// Every shared structure follows one mutation rule: mutate in place only
// while the reference count is exactly 1, otherwise duplicate shallowly,
// retain the children, and release the old reference. Single leaves are the
// exception: they are immutable and replaced wholesale, never mutated, so
// they carry no count.
package store

import (
	"fmt"
	"log"

	"github.com/specforward/specmem/value"
)

const debugging = false

func debugf(f string, args ...any) {
	if debugging {
		log.Printf(f, args...)
	}
}

// A Leaf is one object's store: either a Single value set describing the
// whole object, or a Multi interval store layered over an underlying
// default.
type Leaf interface {
	leafStore()
}

// Single describes a whole object with one value set. Singles are
// immutable once placed in a map, tree slot or Underlying link; writers
// replace them instead of mutating.
type Single struct {
	Val value.Set
}

func (*Single) leafStore() {}

// NewSingle wraps a set in a fresh leaf, cloning so later mutation of the
// argument cannot alias the store.
func NewSingle(s value.Set) *Single {
	return &Single{Val: s.Clone()}
}

// Multi is an interval store: ordered, non-overlapping extents over
// [0, AllocSize), with Underlying supplying values for unmapped ranges.
// Covered tracks the mapped byte total; full coverage drops Underlying.
type Multi struct {
	refs       int32
	AllocSize  uint64
	Covered    uint64
	Underlying Leaf
	Extents    []value.Extent
}

func (*Multi) leafStore() {}

func newMulti(allocSize uint64, underlying Leaf) *Multi {
	retainLeaf(underlying)
	return &Multi{refs: 1, AllocSize: allocSize, Underlying: underlying}
}

func (m *Multi) retain() *Multi {
	if m.refs <= 0 {
		panic(fmt.Sprintf("retain of dead interval store (refs=%d)", m.refs))
	}
	m.refs++
	return m
}

func (m *Multi) release() {
	m.refs--
	if m.refs < 0 {
		panic("interval store released below zero")
	}
	if m.refs == 0 {
		releaseLeaf(m.Underlying)
		m.Underlying = nil
		m.Extents = nil
	}
}

func (m *Multi) writable() bool { return m.refs == 1 }

// writableCopy returns an interval store the caller owns exclusively,
// duplicating extents and re-sharing Underlying when m is shared. The
// caller's reference to m is consumed.
func (m *Multi) writableCopy() *Multi {
	if m.writable() {
		return m
	}
	n := &Multi{
		refs:       1,
		AllocSize:  m.AllocSize,
		Covered:    m.Covered,
		Underlying: m.Underlying,
		Extents:    make([]value.Extent, len(m.Extents)),
	}
	for i, e := range m.Extents {
		n.Extents[i] = value.Extent{Start: e.Start, End: e.End, Val: e.Val.Clone()}
	}
	retainLeaf(n.Underlying)
	m.release()
	return n
}

// retainLeaf takes a reference for a new owner. Singles are immutable and
// uncounted.
func retainLeaf(l Leaf) Leaf {
	if m, ok := l.(*Multi); ok {
		m.retain()
	}
	return l
}

func releaseLeaf(l Leaf) {
	if m, ok := l.(*Multi); ok {
		m.release()
	}
}

// leafEqual reports whether two leaves describe the same whole-object
// value. It is used to share storage across merge inputs and only answers
// for Singles; interval stores compare by pointer.
func leafEqual(a, b Leaf) bool {
	if a == b {
		return true
	}
	sa, ok1 := a.(*Single)
	sb, ok2 := b.(*Single)
	return ok1 && ok2 && sa.Val.Equal(&sb.Val)
}
