package value

import (
	"fmt"
	"strings"
)

// A Type describes the byte-level layout of a value: its total size and, for
// aggregates, where its members live. Layout is computed by the host front
// end; this package only consumes it.
//
// All implementations are comparable: aggregate descriptors are pointer
// types, leaf descriptors are small value types.
type Type interface {
	Size() uint64
	String() string
}

// IntType is an integer (or other raw scalar) occupying Bytes bytes.
type IntType struct {
	Bytes uint64
}

func (t IntType) Size() uint64   { return t.Bytes }
func (t IntType) String() string { return fmt.Sprintf("i%d", t.Bytes*8) }

// PtrType is a pointer. All pointers have the same store size.
type PtrType struct{}

// PtrSize is the store size of a pointer in bytes.
const PtrSize = 8

func (PtrType) Size() uint64   { return PtrSize }
func (PtrType) String() string { return "ptr" }

// ArrayType is Len contiguous elements of Elem with no inter-element
// padding beyond what Elem itself carries.
type ArrayType struct {
	Elem Type
	Len  uint64
}

func (t *ArrayType) Size() uint64   { return t.Elem.Size() * t.Len }
func (t *ArrayType) String() string { return fmt.Sprintf("[%d x %s]", t.Len, t.Elem) }

// Field is a struct member at a fixed byte offset.
type Field struct {
	Offset uint64
	Type   Type
}

// StructType is a struct with explicit member offsets. Bytes is the total
// struct size including trailing padding; gaps between fields are padding.
type StructType struct {
	Fields []Field
	Bytes  uint64
}

func (t *StructType) Size() uint64 { return t.Bytes }

func (t *StructType) String() string {
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		parts[i] = f.Type.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// fieldContaining returns the index of the field whose extent contains the
// byte at off, preferring the later field when off sits on a boundary
// between a field's padding and the next field.
func (t *StructType) fieldContaining(off uint64) int {
	for i := len(t.Fields) - 1; i >= 0; i-- {
		if t.Fields[i].Offset <= off {
			return i
		}
	}
	panic(fmt.Sprintf("offset %d before first field of %s", off, t))
}

// fieldEnd returns the first byte after field i, up to which the field's
// value (not padding) extends.
func (t *StructType) fieldEnd(i int) uint64 {
	return t.Fields[i].Offset + t.Fields[i].Type.Size()
}

// nextFieldStart returns the offset at which field i's padding ends: the
// next field's offset, or the struct size for the last field.
func (t *StructType) nextFieldStart(i int) uint64 {
	if i+1 == len(t.Fields) {
		return t.Bytes
	}
	return t.Fields[i+1].Offset
}
