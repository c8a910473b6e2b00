package store

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/specforward/specmem/config"
	"github.com/specforward/specmem/value"
)

func testContext() (*Arena, *Context) {
	a := NewArena()
	return a, NewContext(a, config.Default())
}

func pairType() *value.StructType {
	return &value.StructType{
		Fields: []value.Field{
			{Offset: 0, Type: value.IntType{Bytes: 4}},
			{Offset: 8, Type: value.IntType{Bytes: 4}},
		},
		Bytes: 16,
	}
}

func scalar4(n uint64) value.Set {
	return value.ConstSet(value.Int{Width: 4, Bits: n})
}

func TestWriteRead(t *testing.T) {
	a, ctx := testContext()
	obj := a.NewHeapObject(value.IntType{Bytes: 8})

	WriteObject(ctx, obj, 0, 8, value.ConstSet(value.Int{Width: 8, Bits: 42}))

	got := Read(ctx, obj, 0, 8, value.IntType{Bytes: 8})
	want := value.ConstSet(value.Int{Width: 8, Bits: 42})
	if !got.Equal(&want) {
		t.Errorf("read %s, want %s", got.String(), want.String())
	}

	// Sub-range of the written scalar.
	got = Read(ctx, obj, 2, 2, value.IntType{Bytes: 2})
	want = value.ConstSet(value.Int{Width: 2, Bits: 0})
	if !got.Equal(&want) {
		t.Errorf("sub-read %s, want %s", got.String(), want.String())
	}
}

func TestFreshObjectIsUnknown(t *testing.T) {
	a, ctx := testContext()
	obj := a.NewHeapObject(value.IntType{Bytes: 8})

	if got := Read(ctx, obj, 0, 8, nil); !got.Overdef {
		t.Errorf("fresh object reads %s, want ⊤", got.String())
	}
}

func TestPartialWritesReadAsExtents(t *testing.T) {
	// Two 4-byte writes into a 16-byte object; reading [0,8) must come
	// back as two extents, the unwritten half explicitly unknown.
	a, ctx := testContext()
	obj := a.NewHeapObject(pairType())

	WriteObject(ctx, obj, 0, 4, scalar4(7))
	WriteObject(ctx, obj, 8, 4, scalar4(9))

	exts := ReadExtents(ctx, obj, 0, 8)
	if len(exts) != 2 {
		t.Fatalf("got %d extents, want 2: %v", len(exts), exts)
	}
	want := scalar4(7)
	if !exts[0].Val.Equal(&want) || exts[0].Start != 0 || exts[0].End != 4 {
		t.Errorf("first extent %v, want [0,4)=%s", exts[0], want.String())
	}
	if !exts[1].Val.Overdef || exts[1].Start != 4 || exts[1].End != 8 {
		t.Errorf("second extent %v, want [4,8)=⊤", exts[1])
	}

	if got := Read(ctx, obj, 0, 8, nil); !got.Overdef {
		t.Errorf("single-value read of half-unknown range is %s, want ⊤", got.String())
	}
}

func TestAdjacentWritesReassemble(t *testing.T) {
	a, ctx := testContext()
	obj := a.NewHeapObject(value.IntType{Bytes: 8})

	WriteObject(ctx, obj, 0, 4, scalar4(0x04030201))
	WriteObject(ctx, obj, 4, 4, scalar4(0x08070605))

	got := Read(ctx, obj, 0, 8, value.IntType{Bytes: 8})
	want := value.ConstSet(value.Int{Width: 8, Bits: 0x0807060504030201})
	if !got.Equal(&want) {
		t.Errorf("read %s, want %s", got.String(), want.String())
	}

	got = Read(ctx, obj, 2, 4, value.IntType{Bytes: 4})
	want = scalar4(0x06050403)
	if !got.Equal(&want) {
		t.Errorf("straddling read %s, want %s", got.String(), want.String())
	}
}

func TestIntervalCoverage(t *testing.T) {
	a, ctx := testContext()
	obj := a.NewHeapObject(value.IntType{Bytes: 8})

	WriteObject(ctx, obj, 0, 4, scalar4(1))
	m := ctx.Local.localLeaf(a, obj).(*Multi)
	if m.Covered != 4 || m.Underlying == nil {
		t.Fatalf("covered=%d underlying=%v after half write", m.Covered, m.Underlying)
	}

	WriteObject(ctx, obj, 4, 4, scalar4(2))
	m = ctx.Local.localLeaf(a, obj).(*Multi)
	if m.Covered != m.AllocSize {
		t.Errorf("covered %d of %d after full coverage", m.Covered, m.AllocSize)
	}
	if m.Underlying != nil {
		t.Error("fully covered store kept its underlying")
	}
}

func TestOverlappingWriteTruncates(t *testing.T) {
	a, ctx := testContext()
	obj := a.NewHeapObject(value.IntType{Bytes: 8})

	WriteObject(ctx, obj, 0, 8, value.ConstSet(value.Int{Width: 8, Bits: 0x0807060504030201}))
	WriteObject(ctx, obj, 2, 4, scalar4(0xddccbbaa))

	got := Read(ctx, obj, 0, 8, value.IntType{Bytes: 8})
	want := value.ConstSet(value.Int{Width: 8, Bits: 0x0807ddccbbaa0201})
	if !got.Equal(&want) {
		t.Errorf("read %s, want %s", got.String(), want.String())
	}
}

func TestCOWSafety(t *testing.T) {
	a, ctx := testContext()
	obj := a.NewHeapObject(value.IntType{Bytes: 8})
	WriteObject(ctx, obj, 0, 8, value.ConstSet(value.Int{Width: 8, Bits: 1}))

	snap := ctx.Local.Retain()
	snapCtx := &Context{Arena: a, Local: snap, Conf: ctx.Conf}
	before := Read(snapCtx, obj, 0, 8, nil)

	// Mutations through the other context must not show through the
	// snapshot.
	WriteObject(ctx, obj, 0, 8, value.ConstSet(value.Int{Width: 8, Bits: 2}))
	WriteObject(ctx, obj, 4, 2, value.ConstSet(value.Int{Width: 2, Bits: 3}))

	after := Read(snapCtx, obj, 0, 8, nil)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("snapshot changed under COW (-before +after):\n%s", diff)
	}
	snapCtx.Local.Release()
}

func TestRefcountConservation(t *testing.T) {
	a, ctx := testContext()
	obj := a.NewHeapObject(value.IntType{Bytes: 8})
	WriteObject(ctx, obj, 0, 4, scalar4(1))

	m := ctx.Local.localLeaf(a, obj).(*Multi)
	node := ctx.Local.heap.root
	if m.refs != 1 || node.refs != 1 {
		t.Fatalf("fresh refs: multi=%d node=%d, want 1", m.refs, node.refs)
	}

	snap := ctx.Local.Retain()
	if node.refs != 1 {
		t.Errorf("sharing the local store bumped node refs to %d", node.refs)
	}

	// Writing COW-breaks the local store; the heap root becomes shared,
	// then the written path is duplicated.
	WriteObject(ctx, obj, 4, 4, scalar4(2))
	if snapM := snap.localLeaf(a, obj).(*Multi); snapM != m {
		t.Error("snapshot's store replaced by the writer's")
	}
	if m.refs != 1 {
		t.Errorf("snapshot-held multi refs=%d, want 1", m.refs)
	}

	snap.Release()
	if snap.frames != nil {
		t.Error("released store kept its frames")
	}
	if node.refs != 0 {
		t.Errorf("old heap root refs=%d after release, want 0", node.refs)
	}
}

func TestReleasePanicsBelowZero(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("double release did not panic")
		}
	}()
	ls := NewLocalStore()
	ls.Release()
	ls.Release()
}

func TestClobberAll(t *testing.T) {
	a, ctx := testContext()
	obj := a.NewHeapObject(value.IntType{Bytes: 8})
	keep := a.NewHeapObject(value.IntType{Bytes: 4})
	WriteObject(ctx, obj, 0, 8, value.ConstSet(value.Int{Width: 8, Bits: 1}))

	ctx.ClobberAll()
	if got := Read(ctx, obj, 0, 8, nil); !got.Overdef {
		t.Errorf("clobbered object reads %s, want ⊤", got.String())
	}

	// A rewrite after the clobber is visible again.
	WriteObject(ctx, keep, 0, 4, scalar4(5))
	got := Read(ctx, keep, 0, 4, nil)
	want := scalar4(5)
	if !got.Equal(&want) {
		t.Errorf("rewritten object reads %s, want %s", got.String(), want.String())
	}
}

func TestWriteThroughPointer(t *testing.T) {
	a, ctx := testContext()
	o1 := a.NewHeapObject(value.IntType{Bytes: 4})
	o2 := a.NewHeapObject(value.IntType{Bytes: 4})
	WriteObject(ctx, o1, 0, 4, scalar4(1))
	WriteObject(ctx, o2, 0, 4, scalar4(2))

	// Exactly one of the two targets changes; both must account for the
	// new value without losing the old.
	ptr := value.Set{Kind: value.Pointer, Values: []value.Member{
		{V: o1, Offset: 0},
		{V: o2, Offset: 0},
	}}
	Write(ctx, ptr, 4, scalar4(9))

	got := Read(ctx, o1, 0, 4, nil)
	want := scalar4(1)
	want.Merge(scalar4(9))
	if !got.Equal(&want) {
		t.Errorf("o1 reads %s, want %s", got.String(), want.String())
	}

	// A single exact target overwrites.
	Write(ctx, value.Single(value.Pointer, value.Member{V: o1, Offset: 0}), 4, scalar4(3))
	got = Read(ctx, o1, 0, 4, nil)
	want = scalar4(3)
	if !got.Equal(&want) {
		t.Errorf("o1 after exact write reads %s, want %s", got.String(), want.String())
	}
}

func TestWriteUnknownOffsetClobbersObject(t *testing.T) {
	a, ctx := testContext()
	obj := a.NewHeapObject(value.IntType{Bytes: 8})
	WriteObject(ctx, obj, 0, 8, value.ConstSet(value.Int{Width: 8, Bits: 1}))

	Write(ctx, value.Single(value.Pointer, value.Member{V: obj, Offset: value.UnknownOffset}), 4, scalar4(0))
	if got := Read(ctx, obj, 0, 8, nil); !got.Overdef {
		t.Errorf("object reads %s after vague write, want ⊤", got.String())
	}
}

func TestFill(t *testing.T) {
	a, ctx := testContext()
	obj := a.NewHeapObject(value.IntType{Bytes: 8})

	Fill(ctx, obj, 0, 8, 0xab, true)
	got := Read(ctx, obj, 2, 4, value.IntType{Bytes: 4})
	want := scalar4(0xabababab)
	if !got.Equal(&want) {
		t.Errorf("fill read %s, want %s", got.String(), want.String())
	}

	Fill(ctx, obj, 0, 0, 0, false)
	if got := Read(ctx, obj, 0, 8, nil); !got.Overdef {
		t.Errorf("unknown-length fill left %s, want ⊤", got.String())
	}
}

func TestCopy(t *testing.T) {
	a, ctx := testContext()
	src := a.NewHeapObject(pairType())
	dst := a.NewHeapObject(pairType())

	WriteObject(ctx, src, 0, 4, scalar4(7))
	WriteObject(ctx, src, 8, 4, scalar4(9))

	Copy(ctx, dst, 0, src, 0, 16)

	got := Read(ctx, dst, 0, 4, value.IntType{Bytes: 4})
	want := scalar4(7)
	if !got.Equal(&want) {
		t.Errorf("copied field 1 reads %s, want %s", got.String(), want.String())
	}
	got = Read(ctx, dst, 8, 4, value.IntType{Bytes: 4})
	want = scalar4(9)
	if !got.Equal(&want) {
		t.Errorf("copied field 2 reads %s, want %s", got.String(), want.String())
	}
	// The never-written hole copies as unknown, not as garbage zeroes.
	if got := Read(ctx, dst, 4, 4, nil); !got.Overdef {
		t.Errorf("copied hole reads %s, want ⊤", got.String())
	}
}

func TestReleaseHeapObject(t *testing.T) {
	a, ctx := testContext()
	live := a.NewHeapObject(value.IntType{Bytes: 4})
	dead := a.NewHeapObject(value.IntType{Bytes: 4})

	WriteObject(ctx, live, 0, 4, scalar4(1))
	WriteObject(ctx, dead, 0, 4, scalar4(2))
	a.ReleaseHeapObject(dead)

	objs := a.HeapObjects(nil)
	if len(objs) != 1 || objs[0] != live {
		t.Fatalf("live heap objects = %v, want [%s]", objs, live)
	}

	// A commit walks only live allocations; the dead object's base store
	// keeps its pre-commit contents.
	CommitToBase(ctx)
	s, ok := a.Base(live).(*Single)
	if !ok {
		t.Fatalf("live base store is %T", a.Base(live))
	}
	want := scalar4(1)
	if !s.Val.Equal(&want) {
		t.Errorf("live base holds %s, want %s", s.Val.String(), want.String())
	}
	if d := a.Base(dead).(*Single); !d.Val.Overdef {
		t.Errorf("dead object's base store was committed: %s", d.Val.String())
	}
}

func TestFramePushPop(t *testing.T) {
	a, ctx := testContext()

	ctx.PushFrame()
	local := a.NewStackObject(value.IntType{Bytes: 4}, ctx.Local.Frames()-1)
	WriteObject(ctx, local, 0, 4, scalar4(1))

	got := Read(ctx, local, 0, 4, nil)
	want := scalar4(1)
	if !got.Equal(&want) {
		t.Errorf("frame-local reads %s, want %s", got.String(), want.String())
	}

	ctx.PopFrame()
	if ctx.Local.Frames() != 1 {
		t.Errorf("frames=%d after pop, want 1", ctx.Local.Frames())
	}
}

func TestResolveLoad(t *testing.T) {
	a, ctx := testContext()
	o1 := a.NewHeapObject(value.IntType{Bytes: 4})
	o2 := a.NewHeapObject(value.IntType{Bytes: 4})
	WriteObject(ctx, o1, 0, 4, scalar4(1))
	WriteObject(ctx, o2, 0, 4, scalar4(2))

	ptr := value.Set{Kind: value.Pointer, Values: []value.Member{
		{V: o1, Offset: 0},
		{V: o2, Offset: 0},
		{V: value.Null{}, Offset: 0},
	}}
	got := ResolveLoad(ctx, ptr, 4, value.IntType{Bytes: 4})
	want := scalar4(1)
	want.Merge(scalar4(2))
	want.Merge(scalar4(0))
	if !got.Equal(&want) {
		t.Errorf("load %s, want %s", got.String(), want.String())
	}

	// Raising the threshold past the target count disables multiload.
	ctx.Conf.MultiloadThreshold = 3
	if got := ResolveLoad(ctx, ptr, 4, value.IntType{Bytes: 4}); !got.Overdef {
		t.Errorf("load over threshold %s, want ⊤", got.String())
	}

	// A single target always resolves.
	one := value.Single(value.Pointer, value.Member{V: o1, Offset: 0})
	got = ResolveLoad(ctx, one, 4, value.IntType{Bytes: 4})
	want = scalar4(1)
	if !got.Equal(&want) {
		t.Errorf("single-target load %s, want %s", got.String(), want.String())
	}

	if got := ResolveLoad(ctx, value.OverdefSet(), 4, nil); !got.Overdef {
		t.Errorf("load through ⊤ pointer yields %s", got.String())
	}
	vague := value.Single(value.Pointer, value.Member{V: o1, Offset: value.UnknownOffset})
	if got := ResolveLoad(ctx, vague, 4, nil); !got.Overdef {
		t.Errorf("load at unknown offset yields %s", got.String())
	}
}

func TestBaseWrites(t *testing.T) {
	a, ctx := testContext()
	obj := a.NewHeapObject(value.IntType{Bytes: 4})

	ctx.Certain = true
	WriteObject(ctx, obj, 0, 4, scalar4(5))

	if l := ctx.Local.localLeaf(a, obj); l != nil {
		t.Error("certain loop-free write landed in the overlay")
	}
	s, ok := a.Base(obj).(*Single)
	if !ok {
		t.Fatalf("base store is %T", a.Base(obj))
	}
	want := scalar4(5)
	if !s.Val.Equal(&want) {
		t.Errorf("base store holds %s, want %s", s.Val.String(), want.String())
	}

	// In a loop the write must stay private.
	ctx.InLoop = true
	WriteObject(ctx, obj, 0, 4, scalar4(6))
	if l := ctx.Local.localLeaf(a, obj); l == nil {
		t.Error("in-loop write landed in the base store")
	}
}

func TestWriteBottomPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("writing ⊥ did not panic")
		}
	}()
	a, ctx := testContext()
	obj := a.NewHeapObject(value.IntType{Bytes: 4})
	WriteObject(ctx, obj, 0, 4, value.Set{})
}
