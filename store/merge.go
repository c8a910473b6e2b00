package store

import (
	"fmt"
	"sort"

	"github.com/specforward/specmem/value"
)

// MergeOpts selects per-site merge behavior.
type MergeOpts struct {
	// VarargCursor merges vararg slots as a monotonically advancing
	// cursor: the larger offset wins instead of the union.
	VarargCursor bool
}

// MergeAt combines the incoming overlays at a control-flow join or call
// return into ctx's overlay. Every entry in preds transfers one reference
// to MergeAt; ctx's previous overlay is released. Incoming stores that are
// pointer-identical contribute nothing beyond their first occurrence, and
// a join with only one distinct input adopts it without copying.
func MergeAt(ctx *Context, preds []*LocalStore, opts MergeOpts) {
	if len(preds) == 0 {
		panic("merge with no predecessors")
	}

	distinct := preds[:0]
	for _, p := range preds {
		seen := false
		for _, d := range distinct {
			if d == p {
				seen = true
				break
			}
		}
		if seen {
			p.Release()
		} else {
			distinct = append(distinct, p)
		}
	}

	var merged *LocalStore
	if len(distinct) == 1 {
		merged = distinct[0]
	} else {
		debugf("merging %d distinct stores", len(distinct))
		merged = mergeLocals(ctx, distinct, opts)
		for _, d := range distinct {
			d.Release()
		}
	}

	if ctx.Local != nil {
		ctx.Local.Release()
	}
	ctx.Local = merged

	if ctx.Conf.MergeToBase && ctx.Certain && !ctx.InLoop {
		CommitToBase(ctx)
	}
}

func mergeLocals(ctx *Context, stores []*LocalStore, opts MergeOpts) *LocalStore {
	nframes := len(stores[0].frames)
	clobbered := false
	for _, s := range stores {
		if len(s.frames) != nframes {
			panic(fmt.Sprintf("merging stores with %d and %d frames", nframes, len(s.frames)))
		}
		clobbered = clobbered || s.allOthersClobbered
	}

	out := &LocalStore{refs: 1, allOthersClobbered: clobbered}
	for fi := 0; fi < nframes; fi++ {
		out.frames = append(out.frames, mergeFrames(ctx, stores, fi, clobbered, opts))
	}
	out.heap = mergeHeapRoots(ctx, stores, clobbered, opts)
	return out
}

func mergeFrames(ctx *Context, stores []*LocalStore, fi int, clobbered bool, opts MergeOpts) *frameMap {
	first := stores[0].frames[fi]
	same := true
	for _, s := range stores[1:] {
		if s.frames[fi] != first {
			same = false
			break
		}
	}
	if same {
		return first.retain()
	}

	var objs []value.Obj
	seen := map[value.Obj]bool{}
	for _, s := range stores {
		for obj := range s.frames[fi].entries {
			if !seen[obj] {
				seen[obj] = true
				objs = append(objs, obj)
			}
		}
	}
	sortObjs(objs)

	out := newFrameMap()
	leaves := make([]Leaf, len(stores))
	for _, obj := range objs {
		for i, s := range stores {
			leaves[i] = s.frames[fi].entries[obj]
		}
		if merged := mergeLeaves(ctx, obj, leaves, clobbered, opts); merged != nil {
			out.entries[obj] = merged
		}
	}
	return out
}

// A vnode is one input's position during the lock-step heap descent. The
// real tree may be shorter than the tallest input; levels above h are
// virtual and only digit 0 descends.
type vnode struct {
	n *treeNode
	h int32
}

func (v vnode) child(vh int32, d int) vnode {
	if v.n == nil {
		return vnode{}
	}
	if vh > v.h {
		if d != 0 {
			return vnode{}
		}
		return v
	}
	return vnode{n: v.n.slots[d].node, h: vh - 1}
}

func mergeHeapRoots(ctx *Context, stores []*LocalStore, clobbered bool, opts MergeOpts) treeRoot {
	first := stores[0].heap
	same := true
	for _, s := range stores[1:] {
		if s.heap != first {
			same = false
			break
		}
	}
	if same {
		return first.share()
	}

	var height int32
	ins := make([]vnode, len(stores))
	for i, s := range stores {
		ins[i] = vnode{n: s.heap.root, h: s.heap.height}
		if s.heap.height > height {
			height = s.heap.height
		}
	}
	if height == 0 {
		return treeRoot{}
	}
	root := mergeNodes(ctx, ins, height, 0, clobbered, opts)
	if root == nil {
		return treeRoot{}
	}
	return treeRoot{root: root, height: height}
}

// mergeNodes merges one tree level across all inputs, sharing subtrees
// that are identical everywhere and recursing only where they diverge.
// prefix accumulates the allocation-index digits above this level.
func mergeNodes(ctx *Context, ins []vnode, vh int32, prefix uint32, clobbered bool, opts MergeOpts) *treeNode {
	allSame := true
	for _, in := range ins[1:] {
		if in != ins[0] {
			allSame = false
			break
		}
	}
	if allSame {
		if ins[0].n == nil {
			return nil
		}
		// Identical across every input, including virtual wrapper levels:
		// re-share and re-wrap as needed.
		return wrapToHeight(ins[0].n.retain(), ins[0].h, vh)
	}

	out := newTreeNode()
	used := false
	children := make([]vnode, len(ins))
	leaves := make([]Leaf, len(ins))
	for d := 0; d < fanout; d++ {
		idx := prefix<<fanoutLog | uint32(d)
		if vh == 1 {
			any := false
			for i, in := range ins {
				leaves[i] = nil
				if in.n != nil {
					leaves[i] = in.n.slots[d].leaf
				}
				any = any || leaves[i] != nil
			}
			if !any {
				continue
			}
			obj := ctx.Arena.heapByIx[idx]
			if merged := mergeLeaves(ctx, obj, leaves, clobbered, opts); merged != nil {
				out.slots[d].leaf = merged
				used = true
			}
			continue
		}
		anyChild := false
		for i, in := range ins {
			children[i] = in.child(vh, d)
			anyChild = anyChild || children[i].n != nil
		}
		if !anyChild {
			continue
		}
		if child := mergeNodes(ctx, children, vh-1, idx, clobbered, opts); child != nil {
			out.slots[d].node = child
			used = true
		}
	}
	if !used {
		return nil
	}
	return out
}

// wrapToHeight builds virtual wrapper levels around a retained subtree of
// height h so it fits at level vh.
func wrapToHeight(n *treeNode, h, vh int32) *treeNode {
	for h < vh {
		wrap := newTreeNode()
		wrap.slots[0].node = n
		n = wrap
		h++
	}
	return n
}

// mergeLeaves merges one object's store across all inputs. A nil entry
// means the input never touched the object: under clobber semantics the
// object is dropped from the result (reads see ⊤), otherwise its base
// store stands in. The returned reference is owned by the caller; nil
// means no entry.
func mergeLeaves(ctx *Context, obj value.Obj, leaves []Leaf, clobbered bool, opts MergeOpts) Leaf {
	for i, l := range leaves {
		if l == nil {
			if clobbered {
				return nil
			}
			leaves[i] = ctx.Arena.Base(obj)
		}
	}

	allEqual := true
	for _, l := range leaves[1:] {
		if !leafEqual(leaves[0], l) {
			allEqual = false
			break
		}
	}
	if allEqual {
		return retainLeaf(leaves[0])
	}

	allSingle := true
	for _, l := range leaves {
		if _, ok := l.(*Single); !ok {
			allSingle = false
			break
		}
	}
	if allSingle {
		merged := leaves[0].(*Single).Val.Clone()
		for _, l := range leaves[1:] {
			mergeSets(&merged, l.(*Single).Val, opts)
		}
		merged.Limit(ctx.Conf.MaxSetWidth)
		return &Single{Val: merged}
	}

	return mergeMultis(ctx, obj, leaves, opts)
}

func mergeSets(dst *value.Set, src value.Set, opts MergeOpts) {
	if opts.VarargCursor &&
		!dst.Overdef && !src.Overdef &&
		dst.Kind == value.VarArg && src.Kind == value.VarArg &&
		len(dst.Values) == 1 && len(src.Values) == 1 &&
		dst.Values[0].V == src.Values[0].V {
		// The cursor only advances; keep the farthest position.
		if src.Values[0].Offset > dst.Values[0].Offset {
			dst.Values[0].Offset = src.Values[0].Offset
		}
		return
	}
	dst.Merge(src)
}

// mergeMultis merges object stores of which at least one is an interval
// store: find the deepest store common to every input's underlying chain,
// materialize merged extents only for ranges some input redefined above
// it, and layer the result on the common ancestor.
func mergeMultis(ctx *Context, obj value.Obj, leaves []Leaf, opts MergeOpts) Leaf {
	allocSize := ctx.Arena.Size(obj)

	chains := make([][]Leaf, len(leaves))
	for i, l := range leaves {
		for c := l; c != nil; {
			chains[i] = append(chains[i], c)
			if m, ok := c.(*Multi); ok {
				c = m.Underlying
			} else {
				break
			}
		}
	}

	ancestor := commonAncestor(chains)

	// Boundaries of every extent any input defines above the ancestor.
	bounds := map[uint64]bool{}
	for _, chain := range chains {
		for _, c := range chain {
			if c == ancestor {
				break
			}
			switch c := c.(type) {
			case *Single:
				if allocSize == UnknownSize {
					// A whole-object store over an unsized object cannot
					// be re-expressed extentwise.
					return &Single{Val: value.OverdefSet()}
				}
				bounds[0] = true
				bounds[allocSize] = true
			case *Multi:
				for _, e := range c.Extents {
					bounds[e.Start] = true
					bounds[e.End] = true
				}
			}
		}
	}
	edges := make([]uint64, 0, len(bounds))
	for b := range bounds {
		edges = append(edges, b)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i] < edges[j] })

	out := &Multi{refs: 1, AllocSize: allocSize, Underlying: retainLeaf(ancestor)}
	for i := 0; i+1 < len(edges); i++ {
		start, end := edges[i], edges[i+1]
		defined := false
		for _, chain := range chains {
			if definesAbove(chain, ancestor, start, end) {
				defined = true
				break
			}
		}
		if !defined {
			continue
		}
		val := leafRangeSet(leaves[0], start, end-start, nil)
		for _, l := range leaves[1:] {
			mergeSets(&val, leafRangeSet(l, start, end-start, nil), opts)
		}
		val.Limit(ctx.Conf.MaxSetWidth)
		out.Extents = append(out.Extents, value.Extent{Start: start, End: end, Val: val})
		out.Covered += end - start
	}

	if out.Covered == out.AllocSize && out.Underlying != nil {
		releaseLeaf(out.Underlying)
		out.Underlying = nil
	}
	if out.Underlying == nil && out.Covered != out.AllocSize {
		panic(fmt.Sprintf("merged store for %s covers %d of %d bytes with no common ancestor",
			obj, out.Covered, out.AllocSize))
	}
	return out
}

// commonAncestor returns the topmost store present in every chain, nil
// when the chains share nothing.
func commonAncestor(chains [][]Leaf) Leaf {
	for _, cand := range chains[0] {
		inAll := true
		for _, chain := range chains[1:] {
			found := false
			for _, c := range chain {
				if c == cand {
					found = true
					break
				}
			}
			if !found {
				inAll = false
				break
			}
		}
		if inAll {
			return cand
		}
	}
	return nil
}

// definesAbove reports whether a chain defines any byte of [start, end)
// before deferring to the ancestor.
func definesAbove(chain []Leaf, ancestor Leaf, start, end uint64) bool {
	for _, c := range chain {
		if c == ancestor {
			return false
		}
		switch c := c.(type) {
		case *Single:
			return true
		case *Multi:
			i := c.firstOverlapping(start)
			if i < len(c.Extents) && c.Extents[i].Start < end {
				return true
			}
		}
	}
	return false
}

// CommitToBase flattens ctx's overlay into each object's permanent store,
// used once the current point is known to be reached unconditionally and
// outside any loop. Objects the overlay clobbered without rewriting have
// their base stores degraded to ⊤.
func CommitToBase(ctx *Context) {
	ls := ctx.writableLocal()
	a := ctx.Arena

	if ls.allOthersClobbered {
		for id := 0; id < a.NumObjects(); id++ {
			obj := value.Obj{ID: int32(id)}
			info := a.info(obj)
			if info.heapIdx < 0 && int(info.frame) >= len(ls.frames) {
				continue // belongs to a popped frame
			}
			if ls.localLeaf(a, obj) == nil {
				a.SetBase(obj, &Single{Val: value.OverdefSet()})
			}
		}
	}

	for fi, f := range ls.frames {
		for _, obj := range f.sortedObjs() {
			a.SetBase(obj, retainLeaf(f.entries[obj]))
		}
		f.release()
		ls.frames[fi] = newFrameMap()
	}
	for _, obj := range a.HeapObjects(nil) {
		idx := uint32(a.info(obj).heapIdx)
		if l := ls.heap.lookup(idx); l != nil {
			a.SetBase(obj, retainLeaf(l))
		}
	}
	ls.heap.drop()
	ls.allOthersClobbered = false
	debugf("committed overlay to base stores")
}
