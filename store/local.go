package store

import (
	"fmt"
	"sort"

	"golang.org/x/exp/maps"

	"github.com/specforward/specmem/config"
	"github.com/specforward/specmem/value"
)

// A frameMap is one call frame's overlay: object identity to store. Shared
// across contexts until one of them writes.
type frameMap struct {
	refs    int32
	entries map[value.Obj]Leaf
}

func newFrameMap() *frameMap {
	return &frameMap{refs: 1, entries: map[value.Obj]Leaf{}}
}

func (f *frameMap) retain() *frameMap {
	if f.refs <= 0 {
		panic(fmt.Sprintf("retain of dead frame map (refs=%d)", f.refs))
	}
	f.refs++
	return f
}

func (f *frameMap) release() {
	f.refs--
	if f.refs < 0 {
		panic("frame map released below zero")
	}
	if f.refs == 0 {
		for _, l := range f.entries {
			releaseLeaf(l)
		}
		f.entries = nil
	}
}

// writableCopy returns a frame map the caller owns exclusively, re-sharing
// the per-object stores. The caller's reference to f is consumed.
func (f *frameMap) writableCopy() *frameMap {
	if f.refs == 1 {
		return f
	}
	c := newFrameMap()
	for obj, l := range f.entries {
		c.entries[obj] = retainLeaf(l)
	}
	f.release()
	return c
}

// sortedObjs returns a frame's keys in identity order, for iteration whose
// result must not depend on map order.
func (f *frameMap) sortedObjs() []value.Obj {
	objs := maps.Keys(f.entries)
	sortObjs(objs)
	return objs
}

func sortObjs(objs []value.Obj) {
	sort.Slice(objs, func(i, j int) bool { return objs[i].ID < objs[j].ID })
}

// A LocalStore is one analysis context's private view of memory: a stack
// of call-frame overlays, a heap-tree overlay, and the clobber flag set
// once a write of unknown target invalidates everything unmentioned.
type LocalStore struct {
	refs               int32
	frames             []*frameMap
	heap               treeRoot
	allOthersClobbered bool
}

// NewLocalStore returns an empty overlay with a single root frame.
func NewLocalStore() *LocalStore {
	return &LocalStore{refs: 1, frames: []*frameMap{newFrameMap()}}
}

// Retain takes a reference for a new owner (a context sharing this
// snapshot).
func (ls *LocalStore) Retain() *LocalStore {
	if ls.refs <= 0 {
		panic(fmt.Sprintf("retain of dead local store (refs=%d)", ls.refs))
	}
	ls.refs++
	return ls
}

// Release drops one reference, freeing frames and heap when it was the
// last.
func (ls *LocalStore) Release() {
	ls.refs--
	if ls.refs < 0 {
		panic("local store released below zero")
	}
	if ls.refs == 0 {
		for _, f := range ls.frames {
			f.release()
		}
		ls.frames = nil
		ls.heap.drop()
	}
}

// writableCopy returns a local store the caller owns exclusively,
// re-sharing frames and the heap root. The caller's reference is consumed.
func (ls *LocalStore) writableCopy() *LocalStore {
	if ls.refs == 1 {
		return ls
	}
	c := &LocalStore{
		refs:               1,
		frames:             make([]*frameMap, len(ls.frames)),
		heap:               ls.heap.share(),
		allOthersClobbered: ls.allOthersClobbered,
	}
	for i, f := range ls.frames {
		c.frames[i] = f.retain()
	}
	ls.Release()
	return c
}

// Frames returns the live call-frame count.
func (ls *LocalStore) Frames() int { return len(ls.frames) }

// A Context is where the model meets its driver: the arena supplying
// object identity and base stores, this context's local overlay, the
// policy, and the flags describing how the current program point is
// reached.
type Context struct {
	Arena *Arena
	Local *LocalStore
	Conf  config.Config

	// Certain is true when the current point executes unconditionally;
	// InLoop when it sits inside any loop. Base stores are written only
	// when Certain and not InLoop.
	Certain bool
	InLoop  bool
}

// NewContext returns a context over a fresh overlay.
func NewContext(a *Arena, conf config.Config) *Context {
	return &Context{Arena: a, Local: NewLocalStore(), Conf: conf}
}

// writableLocal ensures ctx owns its overlay exclusively and returns it.
func (ctx *Context) writableLocal() *LocalStore {
	ctx.Local = ctx.Local.writableCopy()
	return ctx.Local
}

// PushFrame enters a call: a fresh innermost frame overlay.
func (ctx *Context) PushFrame() {
	ls := ctx.writableLocal()
	ls.frames = append(ls.frames, newFrameMap())
}

// PopFrame leaves a call, dropping the innermost frame and every object
// store in it.
func (ctx *Context) PopFrame() {
	ls := ctx.writableLocal()
	if len(ls.frames) == 1 {
		panic("popping the root frame")
	}
	last := len(ls.frames) - 1
	ls.frames[last].release()
	ls.frames = ls.frames[:last]
}

// localLeaf returns the overlay store for obj, nil when the overlay has no
// entry.
func (ls *LocalStore) localLeaf(a *Arena, obj value.Obj) Leaf {
	info := a.info(obj)
	if info.heapIdx >= 0 {
		return ls.heap.lookup(uint32(info.heapIdx))
	}
	if int(info.frame) >= len(ls.frames) {
		panic(fmt.Sprintf("object %s belongs to dead frame %d", obj, info.frame))
	}
	return ls.frames[info.frame].entries[obj]
}

// readableLeaf resolves the store a read of obj should consult: the
// overlay entry if present, otherwise the base store, or nil when the
// clobber flag makes every unmentioned object unknown.
func (ctx *Context) readableLeaf(obj value.Obj) Leaf {
	if l := ctx.Local.localLeaf(ctx.Arena, obj); l != nil {
		return l
	}
	if ctx.Local.allOthersClobbered {
		return nil
	}
	return ctx.Arena.Base(obj)
}

// setLocalLeaf installs a store for obj in the overlay, COW-breaking the
// frame map or heap path. Takes ownership of the reference in l.
func (ctx *Context) setLocalLeaf(obj value.Obj, l Leaf) {
	ls := ctx.writableLocal()
	info := ctx.Arena.info(obj)
	if info.heapIdx >= 0 {
		ls.heap.setLeaf(uint32(info.heapIdx), l)
		return
	}
	f := ls.frames[info.frame].writableCopy()
	ls.frames[info.frame] = f
	releaseLeaf(f.entries[obj])
	f.entries[obj] = l
}

// ClobberAll models a write through a wholly unknown pointer: every
// overlay entry is dropped and all objects not subsequently rewritten read
// as unknown.
func (ctx *Context) ClobberAll() {
	ls := ctx.writableLocal()
	for i, f := range ls.frames {
		f.release()
		ls.frames[i] = newFrameMap()
	}
	ls.heap.drop()
	ls.allOthersClobbered = true
	debugf("clobbered all stores")
}
