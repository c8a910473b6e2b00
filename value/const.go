package value

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// An Origin identifies a value-producing entity: a constant, a symbolic
// value such as an instruction result or argument, or an allocated object.
// Origins are compared with ==; every implementation is either a small
// comparable value type or a pointer type.
type Origin interface {
	String() string
}

// Sym is an opaque symbolic origin: an instruction result, argument or
// other host-assigned entity whose concrete value is unknown to the model.
type Sym struct {
	ID uint32
}

func (s Sym) String() string { return fmt.Sprintf("sym%d", s.ID) }

// Obj identifies an allocated object. The host assigns IDs densely as
// allocations are first analysed; the store's arena maps them to layout and
// storage.
type Obj struct {
	ID int32
}

func (o Obj) String() string { return fmt.Sprintf("obj%d", o.ID) }

// A Const is a structured constant: a leaf scalar or an aggregate built
// along a Type's layout. Constants are Origins and may appear as value-set
// members.
type Const interface {
	Origin
	ConstType() Type
}

// Int is an integer constant of up to 8 bytes. Bits holds the value
// zero-extended; in memory it occupies Width bytes little-endian.
type Int struct {
	Width uint64
	Bits  uint64
}

func (c Int) ConstType() Type { return IntType{Bytes: c.Width} }
func (c Int) String() string  { return fmt.Sprintf("i%d %d", c.Width*8, c.Bits) }

// Null is the null pointer constant.
type Null struct{}

func (Null) ConstType() Type { return PtrType{} }
func (Null) String() string  { return "null" }

// Zero is the all-zero value of an arbitrary type.
type Zero struct {
	Ty Type
}

func (c Zero) ConstType() Type { return c.Ty }
func (c Zero) String() string  { return "zeroinit " + c.Ty.String() }

// Undef is the undefined value of a type; its bytes read as zero but carry
// no further meaning. Freshly allocated objects start as Undef.
type Undef struct {
	Ty Type
}

func (c Undef) ConstType() Type { return c.Ty }
func (c Undef) String() string  { return "undef " + c.Ty.String() }

// Blob is a raw little-endian byte constant, used for scalars wider than 8
// bytes and for values resynthesised from byte buffers.
type Blob struct {
	Ty   Type
	Data []byte
}

func (c *Blob) ConstType() Type { return c.Ty }
func (c *Blob) String() string  { return fmt.Sprintf("blob %x", c.Data) }

// Agg is an aggregate constant: one element per array index or struct
// field, laid out according to Ty.
type Agg struct {
	Ty    Type // *ArrayType or *StructType
	Elems []Const
}

func (c *Agg) ConstType() Type { return c.Ty }

func (c *Agg) String() string {
	parts := make([]string, len(c.Elems))
	for i, e := range c.Elems {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// elem returns element i, expanding Zero and Undef aggregates on demand.
func aggElem(c Const, i uint64) Const {
	switch c := c.(type) {
	case *Agg:
		return c.Elems[i]
	case Zero:
		switch ty := c.Ty.(type) {
		case *ArrayType:
			return Zero{Ty: ty.Elem}
		case *StructType:
			return Zero{Ty: ty.Fields[i].Type}
		}
	case Undef:
		switch ty := c.Ty.(type) {
		case *ArrayType:
			return Undef{Ty: ty.Elem}
		case *StructType:
			return Undef{Ty: ty.Fields[i].Type}
		}
	}
	panic(fmt.Sprintf("aggElem on non-aggregate constant %s", c))
}

// ReadBytes copies the in-memory representation of c starting at byte off
// into dst. It reports false when c cannot be reduced to raw bytes, which
// is the case for any constant containing a non-null pointer. Undef and
// padding bytes read as zero.
func ReadBytes(c Const, off uint64, dst []byte) bool {
	if off+uint64(len(dst)) > c.ConstType().Size() {
		return false
	}
	switch c := c.(type) {
	case Int:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], c.Bits)
		copy(dst, buf[off:c.Width])
		return true
	case *Blob:
		copy(dst, c.Data[off:])
		return true
	case Zero, Undef, Null:
		for i := range dst {
			dst[i] = 0
		}
		return true
	case *Agg:
		return readAggBytes(c, off, dst)
	default:
		return false
	}
}

func readAggBytes(c *Agg, off uint64, dst []byte) bool {
	// Zero-fill first so padding gaps read as zero.
	for i := range dst {
		dst[i] = 0
	}
	end := off + uint64(len(dst))
	switch ty := c.Ty.(type) {
	case *ArrayType:
		esize := ty.Elem.Size()
		if esize == 0 {
			return true
		}
		for i := off / esize; i < ty.Len; i++ {
			estart := i * esize
			if estart >= end {
				break
			}
			if !readConstSlice(c.Elems[i], estart, esize, off, dst) {
				return false
			}
		}
		return true
	case *StructType:
		for i, f := range ty.Fields {
			fstart := f.Offset
			fsize := f.Type.Size()
			if fstart >= end || fstart+fsize <= off {
				continue
			}
			if !readConstSlice(c.Elems[i], fstart, fsize, off, dst) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// readConstSlice copies the overlap of element e (occupying
// [estart, estart+esize) of the parent) with the window [off, off+len(dst))
// into dst.
func readConstSlice(e Const, estart, esize, off uint64, dst []byte) bool {
	end := off + uint64(len(dst))
	from := max(estart, off)
	to := min(estart+esize, end)
	if from >= to {
		return true
	}
	return ReadBytes(e, from-estart, dst[from-off:to-off])
}

// ConstFromBytes reinterprets a little-endian byte buffer as a constant of
// type ty. Only the all-zero pattern may become a pointer; aggregate
// targets and non-zero pointer patterns yield nil.
func ConstFromBytes(buf []byte, ty Type) Const {
	switch ty := ty.(type) {
	case IntType:
		if uint64(len(buf)) != ty.Bytes {
			return nil
		}
		if ty.Bytes <= 8 {
			var tmp [8]byte
			copy(tmp[:], buf)
			return Int{Width: ty.Bytes, Bits: binary.LittleEndian.Uint64(tmp[:])}
		}
		return &Blob{Ty: ty, Data: append([]byte(nil), buf...)}
	case PtrType:
		for _, b := range buf {
			if b != 0 {
				return nil
			}
		}
		return Null{}
	default:
		return nil
	}
}

// containsPointers reports whether any part of ty is pointer-typed.
func containsPointers(ty Type) bool {
	switch ty := ty.(type) {
	case PtrType:
		return true
	case *ArrayType:
		return containsPointers(ty.Elem)
	case *StructType:
		for _, f := range ty.Fields {
			if containsPointers(f.Type) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// IsNull reports whether an origin is the null pointer constant.
func IsNull(o Origin) bool {
	_, ok := o.(Null)
	return ok
}
