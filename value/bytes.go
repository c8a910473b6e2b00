package value

import "fmt"

// An Extent is a half-open byte range paired with the set of values that
// may occupy it.
type Extent struct {
	Start, End uint64
	Val        Set
}

func (e Extent) String() string {
	return fmt.Sprintf("[%d,%d)=%s", e.Start, e.End, e.Val.String())
}

func appendExtent(dst []Extent, start, end uint64, s Set) []Extent {
	return append(dst, Extent{Start: start, End: end, Val: s})
}

// SubVals describes bytes [off, off+size) of the constant c as an ordered
// extent list, decomposing aggregates along their layout so large arrays
// are not exploded byte by byte. Extents are labelled with above added to
// their offsets, which lets sub-queries report parent-relative positions
// without post-processing. Reading past the end of c yields an explicit ⊤
// extent for the overrun rather than failing.
func SubVals(dst []Extent, c Const, off, size uint64, above int64) []Extent {
	fromSize := c.ConstType().Size()

	if off == 0 && size == fromSize {
		return appendExtent(dst, uint64(above), uint64(above)+size, ConstSet(c))
	}

	if off+size > fromSize {
		// Out-of-bounds on the right: define what we can, overdef the rest.
		// The overrun starts at off when the whole request lies past the
		// end of c.
		if off < fromSize {
			dst = SubVals(dst, c, off, fromSize-off, above)
		}
		overStart := max(off, fromSize)
		return appendExtent(dst, uint64(above+int64(overStart)), uint64(above+int64(off+size)), OverdefSet())
	}

	if agg, ok := c.(*Agg); ok {
		switch ty := agg.Ty.(type) {
		case *ArrayType:
			return arraySubVals(dst, agg, ty, off, size, above)
		case *StructType:
			return structSubVals(dst, agg, ty, off, size, above)
		}
	}

	// A primitive, zero-init, undef or blob: extract raw bytes and present
	// them as an integer of the needed width.
	buf := make([]byte, size)
	if ReadBytes(c, off, buf) {
		sub := ConstFromBytes(buf, IntType{Bytes: size})
		return appendExtent(dst, uint64(above+int64(off)), uint64(above+int64(off+size)), ConstSet(sub))
	}
	return appendExtent(dst, uint64(above+int64(off)), uint64(above+int64(off+size)), OverdefSet())
}

func arraySubVals(dst []Extent, agg *Agg, ty *ArrayType, off, size uint64, above int64) []Extent {
	esize := ty.Elem.Size()

	startE := off / esize
	startOff := off % esize
	endE := (off + size) / esize
	endOff := (off + size) % esize

	if startOff != 0 {
		// Partial read of the leftmost element.
		var readSize uint64
		if endE == startE {
			readSize = endOff - startOff
		} else {
			readSize = esize - startOff
		}
		dst = SubVals(dst, aggElem(agg, startE), startOff, readSize, above+int64(esize*startE))
		if startE == endE {
			return dst
		}
		startE++
		startOff = 0
		if startE == endE && endOff == 0 {
			return dst
		}
	}

	// Whole elements, coalesced into a single sub-array when several.
	if endE-startE == 1 {
		dst = appendExtent(dst, uint64(above+int64(startE*esize)), uint64(above+int64((startE+1)*esize)), ConstSet(aggElem(agg, startE)))
	} else if endE-startE > 1 {
		sub := &Agg{Ty: &ArrayType{Elem: ty.Elem, Len: endE - startE}}
		for i := startE; i != endE; i++ {
			sub.Elems = append(sub.Elems, aggElem(agg, i))
		}
		dst = appendExtent(dst, uint64(above+int64(startE*esize)), uint64(above+int64(endE*esize)), ConstSet(sub))
	}

	if endOff != 0 {
		dst = SubVals(dst, aggElem(agg, endE), 0, endOff, above+int64(esize*endE))
	}
	return dst
}

func structSubVals(dst []Extent, agg *Agg, ty *StructType, off, size uint64, above int64) []Extent {
	startE := ty.fieldContaining(off)
	startOff := off - ty.Fields[startE].Offset
	endE := ty.fieldContaining(off + size)
	endOff := (off + size) - ty.Fields[endE].Offset

	if startOff != 0 {
		startC := aggElem(agg, uint64(startE))
		var readSize uint64
		if endE == startE {
			readSize = endOff - startOff
		} else {
			readSize = startC.ConstType().Size() - startOff
		}
		dst = SubVals(dst, startC, startOff, readSize, above+int64(ty.Fields[startE].Offset))
		if startE == endE {
			return dst
		}
		startE++
		startOff = 0
		if startE == endE && endOff == 0 {
			return dst
		}
	}

	// Whole fields, with explicit don't-care extents for interior padding.
	for ; startE < endE; startE++ {
		f := ty.Fields[startE]
		fsize := f.Type.Size()
		dst = appendExtent(dst, uint64(above+int64(f.Offset)), uint64(above+int64(f.Offset+fsize)), ConstSet(aggElem(agg, uint64(startE))))

		if pad := ty.nextFieldStart(startE) - ty.fieldEnd(startE); pad != 0 && startE+1 < len(ty.Fields) {
			padC := Undef{Ty: IntType{Bytes: pad}}
			dst = appendExtent(dst, uint64(above+int64(f.Offset+fsize)), uint64(above+int64(f.Offset+fsize+pad)), ConstSet(padC))
		}
	}

	if endOff != 0 {
		dst = SubVals(dst, aggElem(agg, uint64(endE)), 0, endOff, above+int64(ty.Fields[endE].Offset))
	}
	return dst
}

// SetSubVals describes bytes [off, off+size) of a set that labels a larger
// extent. Sub-extraction works on scalars only; splats and vararg cursors
// describe every byte alike and pass through, anything else degrades to ⊤
// unless the whole extent is requested.
func SetSubVals(dst []Extent, src *Set, off, size uint64, above int64) []Extent {
	if src.Overdef || len(src.Values) == 0 {
		return appendExtent(dst, uint64(above+int64(off)), uint64(above+int64(off+size)), *src)
	}

	switch src.Kind {
	case Scalar:
		// Handled below.
	case Splat:
		sub := src.Clone()
		sub.Values[0].Offset = int64(size)
		return appendExtent(dst, uint64(above+int64(off)), uint64(above+int64(off+size)), sub)
	case VarArg:
		return appendExtent(dst, uint64(above+int64(off)), uint64(above+int64(off+size)), src.Clone())
	default:
		if off == 0 && size == PtrSize {
			return appendExtent(dst, uint64(above), uint64(above)+size, src.Clone())
		}
		return appendExtent(dst, uint64(above+int64(off)), uint64(above+int64(off+size)), OverdefSet())
	}

	if len(src.Values) == 1 {
		c, ok := src.Values[0].V.(Const)
		if !ok {
			return appendExtent(dst, uint64(above+int64(off)), uint64(above+int64(off+size)), OverdefSet())
		}
		return SubVals(dst, c, off, size, above)
	}

	// Multi-valued scalar sets: avoid merging potentially misaligned
	// decompositions; only allow sub-values expressible as one constant
	// per member.
	var out Set
	for _, m := range src.Values {
		c, ok := m.V.(Const)
		if !ok {
			out.SetOverdef()
			break
		}
		sub := ExtractConst(c, off, size, nil)
		if sub == nil {
			out.SetOverdef()
			break
		}
		out.Merge(ConstSet(sub))
	}
	return appendExtent(dst, uint64(above+int64(off)), uint64(above+int64(off+size)), out)
}

// SetSubVal is SetSubVals restricted to answers expressible as one set.
func SetSubVal(src *Set, off, size uint64) Set {
	subs := SetSubVals(nil, src, off, size, 0)
	if len(subs) != 1 {
		return OverdefSet()
	}
	return subs[0].Val
}

// Reassemble combines an ordered, gap-free, rebased extent list back into a
// single constant of the requested type (an integer of the request width
// when ty is nil). It returns nil when any extent is ⊤ or cannot be
// reduced to bytes.
func Reassemble(subVals []Extent, size uint64, ty Type) Const {
	if len(subVals) == 0 {
		return nil
	}
	for _, e := range subVals {
		if e.Val.Overdef || len(e.Val.Values) == 0 {
			return nil
		}
	}

	if len(subVals) == 1 {
		if c, ok := subVals[0].Val.Values[0].V.(Const); ok && ty == nil {
			return c
		}
	}

	buf := make([]byte, size)
	for _, e := range subVals {
		c, ok := e.Val.Values[0].V.(Const)
		if !ok {
			return nil
		}
		if !ReadBytes(c, 0, buf[e.Start:e.End]) {
			return nil
		}
	}
	if ty == nil {
		ty = IntType{Bytes: size}
	}
	return ConstFromBytes(buf, ty)
}

// ExtractConst slices bytes [off, off+size) out of a structured constant,
// returning nil when the slice cannot be expressed as a constant.
func ExtractConst(c Const, off, size uint64, ty Type) Const {
	subVals := SubVals(nil, c, off, size, -int64(off))
	return Reassemble(subVals, size, ty)
}
