package store

import (
	"errors"
	"fmt"

	"github.com/specforward/specmem/value"
)

var errUnknownBytes = errors.New("range includes unknown bytes")

// Read resolves bytes [off, off+size) of obj in ctx, returning the set of
// values that may occupy them. ty, when non-nil, is the shape the caller
// will interpret the bytes as; mismatched representations are coerced or
// degraded to ⊤, never misread.
func Read(ctx *Context, obj value.Obj, off, size uint64, ty value.Type) value.Set {
	if size == 0 {
		panic("zero-sized read")
	}
	objSize := ctx.Arena.Size(obj)
	if objSize != UnknownSize && off+size > objSize {
		return value.OverdefSet()
	}
	l := ctx.readableLeaf(obj)
	if l == nil {
		return value.OverdefSet()
	}
	return leafRangeSet(l, off, size, ty)
}

// leafRangeSet answers a range query against one leaf, accumulating
// fragments bytewise when no single set covers the request.
func leafRangeSet(l Leaf, off, size uint64, ty value.Type) value.Set {
	pv := value.EmptyPV()
	if ty != nil {
		pv.MarkPadding(ty, size)
	}
	if err := readInto(l, off, size, 0, size, &pv); err != nil {
		debugf("read [%d,%d): %v", off, off+size, err)
		return value.OverdefSet()
	}

	if pv.IsTotal() {
		s := pv.TotalSet().Clone()
		if ty != nil && !s.CoerceTo(ty, size) {
			return value.OverdefSet()
		}
		return s
	}
	if !pv.IsComplete() {
		panic(fmt.Sprintf("incomplete accumulation for [%d,%d)", off, off+size))
	}
	s, err := pv.Conclude(size, ty)
	if err != nil {
		debugf("conclude [%d,%d): %v", off, off+size, err)
		return value.OverdefSet()
	}
	return s
}

// readInto gathers the fragments answering bytes [off, off+size) of l into
// pv, placing them at bufOff of a loadSize-byte request. A fragment that
// cannot take part in byte accumulation fails the whole read.
func readInto(l Leaf, off, size, bufOff, loadSize uint64, pv *value.PartialVal) error {
	switch l := l.(type) {
	case *Single:
		sub := value.SetSubVal(&l.Val, off, size)
		return addFragment(sub, bufOff, size, loadSize, pv)
	case *Multi:
		return readMultiInto(l, off, size, bufOff, loadSize, pv)
	default:
		panic(fmt.Sprintf("read from %T", l))
	}
}

func readMultiInto(m *Multi, off, size, bufOff, loadSize uint64, pv *value.PartialVal) error {
	cursor := off
	end := off + size
	for i := m.firstOverlapping(off); i < len(m.Extents) && m.Extents[i].Start < end; i++ {
		e := &m.Extents[i]
		if e.Start > cursor {
			gapEnd := min(e.Start, end)
			if err := readGap(m, cursor, gapEnd-cursor, bufOff+(cursor-off), loadSize, pv); err != nil {
				return err
			}
			cursor = gapEnd
			if cursor == end {
				break
			}
		}
		to := min(e.End, end)
		sub := value.SetSubVal(&e.Val, cursor-e.Start, to-cursor)
		if err := addFragment(sub, bufOff+(cursor-off), to-cursor, loadSize, pv); err != nil {
			return err
		}
		cursor = to
	}
	if cursor < end {
		return readGap(m, cursor, end-cursor, bufOff+(cursor-off), loadSize, pv)
	}
	return nil
}

func readGap(m *Multi, off, size, bufOff, loadSize uint64, pv *value.PartialVal) error {
	if m.Underlying == nil {
		// Full coverage dropped Underlying; a gap here means the coverage
		// bookkeeping is corrupt.
		panic(fmt.Sprintf("gap [%d,%d) in interval store with no underlying (covered %d/%d)",
			off, off+size, m.Covered, m.AllocSize))
	}
	return readInto(m.Underlying, off, size, bufOff, loadSize, pv)
}

func addFragment(sub value.Set, bufOff, size, loadSize uint64, pv *value.PartialVal) error {
	if sub.Overdef || !sub.Initialised() {
		return errUnknownBytes
	}
	if pv.IsEmpty() && bufOff == 0 && size == loadSize {
		*pv = value.TotalPV(sub, nil)
		return nil
	}
	if err := pv.ConvertToBytes(loadSize); err != nil {
		return err
	}
	return value.AddToPartial(&sub, 0, bufOff, size, pv)
}

// ReadExtents resolves [off, off+size) of obj as an ordered extent list,
// descending through underlying stores for gaps. Unlike Read it preserves
// per-range structure and may return ⊤ extents for unknown sub-ranges.
// Extent offsets are object-relative.
func ReadExtents(ctx *Context, obj value.Obj, off, size uint64) []value.Extent {
	objSize := ctx.Arena.Size(obj)
	if objSize != UnknownSize && off+size > objSize {
		return []value.Extent{{Start: off, End: off + size, Val: value.OverdefSet()}}
	}
	l := ctx.readableLeaf(obj)
	if l == nil {
		return []value.Extent{{Start: off, End: off + size, Val: value.OverdefSet()}}
	}
	return leafExtents(nil, l, off, size)
}

func leafExtents(dst []value.Extent, l Leaf, off, size uint64) []value.Extent {
	switch l := l.(type) {
	case *Single:
		return value.SetSubVals(dst, &l.Val, off, size, 0)
	case *Multi:
		cursor := off
		end := off + size
		for i := l.firstOverlapping(off); i < len(l.Extents) && l.Extents[i].Start < end; i++ {
			e := &l.Extents[i]
			if e.Start > cursor {
				gapEnd := min(e.Start, end)
				dst = gapExtents(dst, l, cursor, gapEnd-cursor)
				cursor = gapEnd
				if cursor == end {
					break
				}
			}
			to := min(e.End, end)
			dst = value.SetSubVals(dst, &e.Val, cursor-e.Start, to-cursor, int64(e.Start))
			cursor = to
		}
		if cursor < end {
			dst = gapExtents(dst, l, cursor, end-cursor)
		}
		return dst
	default:
		panic(fmt.Sprintf("read from %T", l))
	}
}

func gapExtents(dst []value.Extent, m *Multi, off, size uint64) []value.Extent {
	if m.Underlying == nil {
		panic(fmt.Sprintf("gap [%d,%d) in interval store with no underlying (covered %d/%d)",
			off, off+size, m.Covered, m.AllocSize))
	}
	return leafExtents(dst, m.Underlying, off, size)
}
