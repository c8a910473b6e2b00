package value

import (
	"errors"
	"fmt"
)

// bitmap is a fixed-size bit set tracking which bytes of a buffer have been
// defined.
type bitmap struct {
	words []uint64
	n     uint64
}

func newBitmap(n uint64) *bitmap {
	return &bitmap{words: make([]uint64, (n+63)/64), n: n}
}

func (b *bitmap) set(i uint64)      { b.words[i/64] |= 1 << (i % 64) }
func (b *bitmap) get(i uint64) bool { return b.words[i/64]&(1<<(i%64)) != 0 }

// allSet reports whether every bit in [from, to) is set.
func (b *bitmap) allSet(from, to uint64) bool {
	for i := from; i < to; i++ {
		if !b.get(i) {
			return false
		}
	}
	return true
}

type pvKind uint8

const (
	pvEmpty pvKind = iota
	pvTotal
	pvPartial
	pvBytes
)

// A PartialVal accumulates the answer to a read that no single value
// fragment can satisfy. It starts out empty; the first fragment that covers
// the whole request is adopted wholesale (total or partial form), and any
// narrower fragment forces the byte-array form, after which bytes are
// assembled individually. Callers may abandon a PartialVal at any point.
type PartialVal struct {
	kind pvKind

	// total form: a whole Set answers the request.
	total   Set
	totalTy Type

	// partial form: a constant read from readOff answers the request.
	c       Const
	readOff uint64

	// byte-array form.
	buf          []byte
	valid        *bitmap
	loadFinished bool
}

// EmptyPV returns the empty accumulator.
func EmptyPV() PartialVal { return PartialVal{kind: pvEmpty} }

// TotalPV returns an accumulator answered entirely by s, recording the
// source type for later coercion.
func TotalPV(s Set, ty Type) PartialVal {
	return PartialVal{kind: pvTotal, total: s, totalTy: ty}
}

// PartialPV returns an accumulator answered by c starting at byte off.
func PartialPV(c Const, off uint64) PartialVal {
	return PartialVal{kind: pvPartial, c: c, readOff: off}
}

// BytesPV returns an empty byte-array accumulator of n bytes.
func BytesPV(n uint64) PartialVal {
	pv := PartialVal{}
	pv.initByteArray(n)
	return pv
}

func (pv *PartialVal) initByteArray(n uint64) {
	pv.kind = pvBytes
	pv.buf = make([]byte, n)
	if pv.valid == nil {
		pv.valid = newBitmap(n)
	}
	pv.loadFinished = false
}

func (pv *PartialVal) IsEmpty() bool     { return pv.kind == pvEmpty }
func (pv *PartialVal) IsTotal() bool     { return pv.kind == pvTotal }
func (pv *PartialVal) IsPartial() bool   { return pv.kind == pvPartial }
func (pv *PartialVal) IsByteArray() bool { return pv.kind == pvBytes }

// TotalSet returns the set of a total accumulator.
func (pv *PartialVal) TotalSet() Set { return pv.total }

// Bytes exposes the accumulated buffer of a byte-array accumulator.
func (pv *PartialVal) Bytes() []byte { return pv.buf }

// IsComplete reports whether the accumulation can be concluded: total and
// partial forms are complete by construction, a byte array once every
// requested byte is defined.
func (pv *PartialVal) IsComplete() bool {
	return pv.kind == pvTotal || pv.kind == pvPartial || pv.loadFinished
}

// MarkPadding pre-defines ty's interior padding bytes so an accumulation
// whose only gaps are padding is recognised as complete. It must be called
// before any fragments are combined.
func (pv *PartialVal) MarkPadding(ty Type, size uint64) {
	if pv.valid == nil {
		pv.valid = newBitmap(size)
	}
	markPadding(pv.valid, ty, 0)
}

func markPadding(valid *bitmap, ty Type, base uint64) {
	switch ty := ty.(type) {
	case *StructType:
		for i, f := range ty.Fields {
			markPadding(valid, f.Type, base+f.Offset)
			for b := base + ty.fieldEnd(i); b < base+ty.nextFieldStart(i); b++ {
				valid.set(b)
			}
		}
	case *ArrayType:
		esize := ty.Elem.Size()
		for i := uint64(0); i < ty.Len; i++ {
			markPadding(valid, ty.Elem, base+i*esize)
		}
	}
}

// ConvertToBytes forces the accumulator into byte-array form of the given
// size, the representation required before byte-exact manipulation.
func (pv *PartialVal) ConvertToBytes(size uint64) error {
	if pv.kind == pvBytes {
		return nil
	}
	if pv.kind == pvEmpty {
		// Keep any padding bitmap already marked.
		pv.initByteArray(size)
		return nil
	}
	conv := BytesPV(size)
	if err := conv.CombineWith(pv, 0, size, size); err != nil {
		return err
	}
	*pv = conv
	return nil
}

var errNonConstTotal = errors.New("total definition is not a constant usable for byte operations")

// CombineWith merges other, known to define bytes [firstDef, firstNotDef)
// of a loadSize-byte request, into pv. Bytes already defined are never
// overwritten: within one accumulation the earliest-seen definition wins.
func (pv *PartialVal) CombineWith(other *PartialVal, firstDef, firstNotDef, loadSize uint64) error {
	if pv.kind == pvEmpty {
		if firstDef == 0 && firstNotDef-firstDef == loadSize {
			*pv = *other
			return nil
		}
		// This fragment can't satisfy the entire request by itself;
		// transition to bytewise accumulation and fall through.
		pv.initByteArray(loadSize)
	}
	if pv.kind != pvBytes {
		panic("CombineWith on non-byte-array accumulator")
	}

	o := *other
	if o.kind == pvTotal {
		if len(o.total.Values) != 1 {
			return errNonConstTotal
		}
		c, ok := o.total.Values[0].V.(Const)
		if !ok {
			return errNonConstTotal
		}
		o = PartialPV(c, 0)
	}

	n := firstNotDef - firstDef
	var src []byte
	switch o.kind {
	case pvPartial:
		src = make([]byte, n)
		if !ReadBytes(o.c, o.readOff, src) {
			return fmt.Errorf("cannot read %d bytes at %d of %s", n, o.readOff, o.c)
		}
	case pvBytes:
		src = o.buf
	default:
		panic(fmt.Sprintf("combine with accumulator in state %d", o.kind))
	}

	if firstDef >= uint64(len(pv.buf)) || firstNotDef > uint64(len(pv.buf)) {
		panic(fmt.Sprintf("fragment [%d,%d) outside %d-byte accumulator", firstDef, firstNotDef, len(pv.buf)))
	}

	for i := uint64(0); i < n; i++ {
		if !pv.valid.get(firstDef + i) {
			pv.buf[firstDef+i] = src[i]
		}
	}
	for i := firstDef; i < firstNotDef; i++ {
		pv.valid.set(i)
	}
	pv.loadFinished = pv.valid.allSet(0, loadSize)
	return nil
}

// AddToPartial merges a one-member scalar or splat set defining size bytes
// (read from setOff within the member) into pv at pvOff. Set-typed or
// non-constant inputs cannot take part in byte accumulation.
func AddToPartial(s *Set, setOff, pvOff, size uint64, pv *PartialVal) error {
	if pv.kind != pvBytes {
		panic("AddToPartial requires a byte-array accumulator")
	}
	if s.Overdef || len(s.Values) != 1 {
		return errors.New("multi-valued set cannot be built from bytes")
	}
	if s.Kind != Scalar && s.Kind != Splat {
		return errors.New("non-scalar set cannot be built from bytes")
	}

	c, ok := s.Values[0].V.(Const)
	if !ok {
		return errNonConstTotal
	}

	var frag PartialVal
	if s.Kind == Scalar {
		frag = PartialPV(c, setOff)
	} else {
		// Splat of a single byte.
		ic, ok := c.(Int)
		if !ok || ic.Width != 1 {
			return errors.New("splat member is not a byte constant")
		}
		frag = BytesPV(size)
		for i := uint64(0); i < size; i++ {
			frag.buf[i] = byte(ic.Bits)
			frag.valid.set(i)
		}
		frag.loadFinished = true
	}

	return pv.CombineWith(&frag, pvOff, pvOff+size, uint64(len(pv.buf)))
}

// Conclude converts a finished accumulation into a value set of the given
// size, synthesising a constant from bytes when needed. A nil Type yields
// an integer of the request size.
func (pv *PartialVal) Conclude(size uint64, ty Type) (Set, error) {
	if pv.kind == pvTotal || pv.kind == pvPartial {
		var c Const
		off := uint64(0)
		if pv.kind == pvTotal {
			if len(pv.total.Values) == 1 {
				c, _ = pv.total.Values[0].V.(Const)
			}
		} else {
			c, off = pv.c, pv.readOff
		}
		if c != nil {
			if sub := ExtractConst(c, off, size, ty); sub != nil {
				return ConstSet(sub), nil
			}
		} else {
			return Set{}, errNonConstTotal
		}
	}

	if err := pv.ConvertToBytes(size); err != nil {
		return Set{}, err
	}
	if ty == nil {
		ty = IntType{Bytes: size}
	}
	c := ConstFromBytes(pv.buf, ty)
	if c == nil {
		return Set{}, fmt.Errorf("cannot reinterpret %d bytes as %s", size, ty)
	}
	return ConstSet(c), nil
}
