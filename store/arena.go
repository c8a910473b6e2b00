package store

import (
	"fmt"
	"math"

	"golang.org/x/tools/container/intsets"

	"github.com/specforward/specmem/value"
)

// UnknownSize marks an object whose allocation size is not statically
// known. Interval coverage over such an object can never complete.
const UnknownSize = uint64(math.MaxUint64)

type objectInfo struct {
	ty      value.Type // nil when layout is unknown
	size    uint64
	heapIdx int32 // -1 for frame-local objects
	frame   int32
	base    Leaf
}

// An Arena owns object identity for one analysis instance: layout and size
// per object, the dense heap-index assignment, and each object's base
// (permanent) store. Base stores are replaced wholesale on commit, never
// mutated, so overlay stores may link to them as Underlying defaults.
type Arena struct {
	objs     []objectInfo
	heapObjs intsets.Sparse // live heap indices
	heapByIx []value.Obj
}

func NewArena() *Arena { return &Arena{} }

func (a *Arena) newObject(ty value.Type, size uint64, heapIdx, frame int32) value.Obj {
	obj := value.Obj{ID: int32(len(a.objs))}
	a.objs = append(a.objs, objectInfo{
		ty:      ty,
		size:    size,
		heapIdx: heapIdx,
		frame:   frame,
		// Fresh objects hold unknown contents until something writes them.
		base: &Single{Val: value.OverdefSet()},
	})
	return obj
}

// NewHeapObject registers a heap allocation with a known layout, assigning
// the next dense heap index.
func (a *Arena) NewHeapObject(ty value.Type) value.Obj {
	idx := int32(len(a.heapByIx))
	obj := a.newObject(ty, ty.Size(), idx, -1)
	a.heapObjs.Insert(int(idx))
	a.heapByIx = append(a.heapByIx, obj)
	return obj
}

// NewHeapObjectUnsized registers a heap allocation whose size is dynamic.
func (a *Arena) NewHeapObjectUnsized() value.Obj {
	idx := int32(len(a.heapByIx))
	obj := a.newObject(nil, UnknownSize, idx, -1)
	a.heapObjs.Insert(int(idx))
	a.heapByIx = append(a.heapByIx, obj)
	return obj
}

// ReleaseHeapObject removes a heap allocation from the live set once the
// host has proven it dead (freed, or unreachable past its last use). Its
// identity and base store stay queryable, but bulk walks such as a commit
// no longer visit it.
func (a *Arena) ReleaseHeapObject(obj value.Obj) {
	info := a.info(obj)
	if info.heapIdx < 0 {
		panic(fmt.Sprintf("%s is not a heap object", obj))
	}
	a.heapObjs.Remove(int(info.heapIdx))
}

// NewStackObject registers a frame-local object (an alloca or argument
// slot) belonging to call frame fr.
func (a *Arena) NewStackObject(ty value.Type, fr int) value.Obj {
	return a.newObject(ty, ty.Size(), -1, int32(fr))
}

func (a *Arena) info(obj value.Obj) *objectInfo {
	if obj.ID < 0 || int(obj.ID) >= len(a.objs) {
		panic(fmt.Sprintf("unknown object %s", obj))
	}
	return &a.objs[obj.ID]
}

// Size returns the object's allocation size, UnknownSize when dynamic.
func (a *Arena) Size(obj value.Obj) uint64 { return a.info(obj).size }

// Type returns the object's layout descriptor, nil when unknown.
func (a *Arena) Type(obj value.Obj) value.Type { return a.info(obj).ty }

// Base returns the object's permanent store.
func (a *Arena) Base(obj value.Obj) Leaf { return a.info(obj).base }

// SetBase replaces the object's permanent store, releasing the old one.
// The arena takes ownership of the reference passed in.
func (a *Arena) SetBase(obj value.Obj, l Leaf) {
	info := a.info(obj)
	releaseLeaf(info.base)
	info.base = l
}

// HeapObjects appends every live heap object to dst, in index order. Dead
// allocations keep their index in heapByIx but drop out of the walk.
func (a *Arena) HeapObjects(dst []value.Obj) []value.Obj {
	var tmp intsets.Sparse
	tmp.Copy(&a.heapObjs)
	for {
		var ix int
		if !tmp.TakeMin(&ix) {
			break
		}
		dst = append(dst, a.heapByIx[ix])
	}
	return dst
}

// NumObjects returns the number of registered objects.
func (a *Arena) NumObjects() int { return len(a.objs) }
