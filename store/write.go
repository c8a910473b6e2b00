package store

import (
	"fmt"

	"github.com/specforward/specmem/value"
)

// WriteObject installs val as the contents of bytes [off, off+size) of obj
// in ctx. The write lands in the base store when the program point is
// reached unconditionally outside any loop and the object has no overlay
// entry; otherwise it COW-breaks its way into the overlay, promoting a
// whole-object store to an interval store when the extent demands it.
func WriteObject(ctx *Context, obj value.Obj, off, size uint64, val value.Set) {
	if size == 0 {
		panic("zero-sized write")
	}
	if !val.Initialised() {
		panic(fmt.Sprintf("writing ⊥ to %s", obj))
	}
	objSize := ctx.Arena.Size(obj)
	if objSize != UnknownSize && off+size > objSize {
		// An out-of-bounds write is the caller's misreasoning about the
		// target, not ours; everything known about the object dies.
		clobberObject(ctx, obj)
		return
	}

	if ctx.Certain && !ctx.InLoop && ctx.Local.localLeaf(ctx.Arena, obj) == nil && !ctx.Local.allOthersClobbered {
		base := ctx.Arena.Base(obj)
		ctx.Arena.SetBase(obj, writtenLeaf(base, false, objSize, off, size, val))
		debugf("write %s [%d,%d) -> base", obj, off, off+size)
		return
	}

	writeLocal(ctx, obj, off, size, val)
}

func writeLocal(ctx *Context, obj value.Obj, off, size uint64, val value.Set) {
	objSize := ctx.Arena.Size(obj)
	ls := ctx.writableLocal()
	info := ctx.Arena.info(obj)

	// Heap entries can be updated in place once the path is COW-broken.
	if info.heapIdx >= 0 {
		if cur := ls.heap.writableLeaf(uint32(info.heapIdx)); cur != nil {
			if m, ok := cur.(*Multi); ok && !(off == 0 && size == objSize) {
				m.replaceRange(off, off+size, val)
				return
			}
			// setLeaf releases the slot's own reference to cur.
			ls.heap.setLeaf(uint32(info.heapIdx), writtenLeaf(cur, false, objSize, off, size, val))
			return
		}
		start := startingLeaf(ctx, obj)
		ls.heap.setLeaf(uint32(info.heapIdx), writtenLeaf(start, false, objSize, off, size, val))
		return
	}

	f := ls.frames[info.frame].writableCopy()
	ls.frames[info.frame] = f
	if cur, ok := f.entries[obj]; ok {
		if m, ok := cur.(*Multi); ok {
			m = m.writableCopy()
			f.entries[obj] = m
			if !(off == 0 && size == objSize) {
				m.replaceRange(off, off+size, val)
				return
			}
			cur = m
		}
		f.entries[obj] = writtenLeaf(cur, true, objSize, off, size, val)
		return
	}
	start := startingLeaf(ctx, obj)
	f.entries[obj] = writtenLeaf(start, false, objSize, off, size, val)
}

// startingLeaf is the store a first overlay write to obj layers over.
func startingLeaf(ctx *Context, obj value.Obj) Leaf {
	if ctx.Local.allOthersClobbered {
		return &Single{Val: value.OverdefSet()}
	}
	return ctx.Arena.Base(obj)
}

// writtenLeaf applies a write to cur and returns the resulting leaf. When
// owned, cur's reference is consumed (released or reused); otherwise cur
// is only ever re-shared as an underlying default.
func writtenLeaf(cur Leaf, owned bool, objSize, off, size uint64, val value.Set) Leaf {
	if off == 0 && size == objSize {
		if owned {
			releaseLeaf(cur)
		}
		return NewSingle(val)
	}
	var m *Multi
	if owned {
		if om, ok := cur.(*Multi); ok {
			m = om.writableCopy()
		} else {
			m = newMulti(objSize, cur)
			releaseLeaf(cur) // newMulti retained it
		}
	} else {
		m = newMulti(objSize, cur)
	}
	m.replaceRange(off, off+size, val)
	return m
}

func clobberObject(ctx *Context, obj value.Obj) {
	size := ctx.Arena.Size(obj)
	debugf("clobber %s (%d bytes)", obj, size)
	ctx.setLocalLeaf(obj, &Single{Val: value.OverdefSet()})
}

// Write stores val through a pointer set: the general store instruction.
// A wholly unknown pointer invalidates everything; a multi-target pointer
// merges the new value into each candidate rather than overwriting, since
// only one target actually changes.
func Write(ctx *Context, ptr value.Set, size uint64, val value.Set) {
	if ptr.Overdef || !ptr.Initialised() {
		ctx.ClobberAll()
		return
	}
	if ptr.Kind != value.Pointer {
		ctx.ClobberAll()
		return
	}

	targets := ptr.Values
	exact := len(targets) == 1
	for _, t := range targets {
		obj, ok := t.V.(value.Obj)
		if !ok {
			if value.IsNull(t.V) {
				// Stores through null never land anywhere we model.
				continue
			}
			ctx.ClobberAll()
			return
		}
		if t.Offset == value.UnknownOffset {
			clobberObject(ctx, obj)
			continue
		}
		off := uint64(t.Offset)
		if exact {
			WriteObject(ctx, obj, off, size, val)
			continue
		}
		// Read-modify-write: this target may or may not be the one
		// written.
		old := Read(ctx, obj, off, size, nil)
		merged := old.Clone()
		merged.Merge(val)
		merged.Limit(ctx.Conf.MaxSetWidth)
		WriteObject(ctx, obj, off, size, merged)
	}
}

// Fill models memset: size bytes of repeated byte b from off. An unknown
// length clobbers the object.
func Fill(ctx *Context, obj value.Obj, off uint64, size uint64, b byte, sizeKnown bool) {
	if !sizeKnown {
		clobberObject(ctx, obj)
		return
	}
	splat := value.Single(value.Splat, value.Member{
		V:      value.Int{Width: 1, Bits: uint64(b)},
		Offset: int64(size),
	})
	WriteObject(ctx, obj, off, size, splat)
}

// Copy models memcpy between modeled objects: the source range is read as
// extents, relabeled to destination offsets and spliced in piecewise, so
// structure survives the copy instead of degrading to one merged value.
func Copy(ctx *Context, dst value.Obj, dstOff uint64, src value.Obj, srcOff, size uint64) {
	exts := ReadExtents(ctx, src, srcOff, size)
	for _, e := range exts {
		off := dstOff + (e.Start - srcOff)
		WriteObject(ctx, dst, off, e.End-e.Start, e.Val)
	}
}
