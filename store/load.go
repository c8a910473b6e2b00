package store

import "github.com/specforward/specmem/value"

// ResolveLoad answers a load of size bytes (interpreted as ty when known)
// through a pointer set: each non-null target is read and the per-target
// answers merged. Null targets contribute the zero value of the loaded
// shape, matching what a forwarded read through a never-taken null branch
// would have produced. Loads the multi-target policy rejects, and loads
// through targets of indeterminate offset, degrade to ⊤.
func ResolveLoad(ctx *Context, ptr value.Set, size uint64, ty value.Type) value.Set {
	if ptr.Overdef || !ptr.Initialised() || ptr.Kind != value.Pointer {
		return value.OverdefSet()
	}

	nonNull := 0
	for _, t := range ptr.Values {
		if !value.IsNull(t.V) {
			nonNull++
		}
	}
	if nonNull > 1 && nonNull < ctx.Conf.MultiloadThreshold {
		debugf("multiload of %d targets below threshold %d", nonNull, ctx.Conf.MultiloadThreshold)
		return value.OverdefSet()
	}

	var result value.Set
	for _, t := range ptr.Values {
		if value.IsNull(t.V) {
			result.Merge(zeroOf(size, ty))
			continue
		}
		obj, ok := t.V.(value.Obj)
		if !ok || t.Offset == value.UnknownOffset || t.Offset < 0 {
			return value.OverdefSet()
		}
		got := Read(ctx, obj, uint64(t.Offset), size, ty)
		if got.Overdef {
			return value.OverdefSet()
		}
		result.Merge(got)
		result.Limit(ctx.Conf.MaxSetWidth)
		if result.Overdef {
			return result
		}
	}
	return result
}

func zeroOf(size uint64, ty value.Type) value.Set {
	if ty == nil {
		ty = value.IntType{Bytes: size}
	}
	if c := value.ConstFromBytes(make([]byte, size), ty); c != nil {
		return value.ConstSet(c)
	}
	return value.ConstSet(value.Zero{Ty: ty})
}
