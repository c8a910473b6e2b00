package store

import (
	"fmt"
	"sort"

	"github.com/specforward/specmem/value"
)

// firstOverlapping returns the index of the first extent with End > off,
// i.e. the first extent that could overlap a range starting at off.
func (m *Multi) firstOverlapping(off uint64) int {
	return sort.Search(len(m.Extents), func(i int) bool {
		return m.Extents[i].End > off
	})
}

// truncateRight shrinks e to [e.Start, newEnd). Only scalar and splat
// values slice bytewise; anything else degrades to ⊤ rather than failing
// the write that needed the space.
func truncateRight(e *value.Extent, newEnd uint64) {
	keep := newEnd - e.Start
	e.Val = truncatedVal(&e.Val, 0, keep)
	e.End = newEnd
}

// truncateLeft shrinks e to [newStart, e.End).
func truncateLeft(e *value.Extent, newStart uint64) {
	cut := newStart - e.Start
	e.Val = truncatedVal(&e.Val, cut, e.End-newStart)
	e.Start = newStart
}

func truncatedVal(s *value.Set, off, size uint64) value.Set {
	if s.Overdef {
		return *s
	}
	switch s.Kind {
	case value.Splat:
		// The member offset records the repeat count.
		n := s.Clone()
		n.Values[0].Offset = int64(size)
		return n
	case value.Scalar:
		if len(s.Values) == 1 {
			return value.SetSubVal(s, off, size)
		}
	}
	return value.OverdefSet()
}

// clearRange removes all value bytes in [start, end), splitting boundary
// extents and updating Covered. m must be exclusively owned.
func (m *Multi) clearRange(start, end uint64) {
	if !m.writable() {
		panic(fmt.Sprintf("clearRange on shared interval store (refs=%d)", m.refs))
	}

	i := m.firstOverlapping(start)
	keep := m.Extents[:i:i]
	var tail []value.Extent

	for ; i < len(m.Extents); i++ {
		e := m.Extents[i]
		if e.Start >= end {
			tail = m.Extents[i:]
			break
		}
		removed := min(e.End, end) - max(e.Start, start)
		m.Covered -= removed

		if e.Start < start && e.End > end {
			// The cleared range punches a hole in one extent.
			right := value.Extent{Start: e.Start, End: e.End, Val: e.Val.Clone()}
			truncateRight(&e, start)
			truncateLeft(&right, end)
			keep = append(keep, e, right)
			continue
		}
		if e.Start < start {
			truncateRight(&e, start)
			keep = append(keep, e)
			continue
		}
		if e.End > end {
			truncateLeft(&e, end)
			keep = append(keep, e)
			continue
		}
		// Fully covered, dropped.
	}
	m.Extents = append(keep, tail...)
}

// replaceRange installs val as the sole description of [start, end),
// dropping Underlying once the object is fully self-describing.
func (m *Multi) replaceRange(start, end uint64, val value.Set) {
	if end > m.AllocSize {
		panic(fmt.Sprintf("write [%d,%d) beyond object of %d bytes", start, end, m.AllocSize))
	}
	m.clearRange(start, end)

	i := m.firstOverlapping(start)
	m.Extents = append(m.Extents, value.Extent{})
	copy(m.Extents[i+1:], m.Extents[i:])
	m.Extents[i] = value.Extent{Start: start, End: end, Val: val.Clone()}
	m.Covered += end - start

	if m.Covered > m.AllocSize {
		panic(fmt.Sprintf("covered %d of %d bytes", m.Covered, m.AllocSize))
	}
	if m.Covered == m.AllocSize && m.Underlying != nil {
		releaseLeaf(m.Underlying)
		m.Underlying = nil
	}
}
