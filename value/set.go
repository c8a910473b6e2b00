package value

import (
	"fmt"
	"math"
	"strings"
)

// SetKind describes how the members of a Set are to be interpreted.
type SetKind uint8

const (
	// Scalar members are constants occupying the whole extent.
	Scalar SetKind = iota
	// Splat members are a single byte value repeated; the member's Offset
	// records the repeat count in bytes.
	Splat
	// Pointer members are (object, byte offset) targets.
	Pointer
	// VarArg members are symbolic vararg cursors; the member's Offset is a
	// monotonically advancing argument index.
	VarArg
)

func (k SetKind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Splat:
		return "splat"
	case Pointer:
		return "ptr"
	case VarArg:
		return "vararg"
	default:
		return fmt.Sprintf("SetKind(%d)", uint8(k))
	}
}

// UnknownOffset is the sentinel for a pointer member whose byte offset
// within its target object is indeterminate.
const UnknownOffset = int64(math.MaxInt64)

// A Member is one possible (origin, offset) a location may hold.
type Member struct {
	V      Origin
	Offset int64
}

func (m Member) String() string {
	if m.Offset == UnknownOffset {
		return m.V.String() + "+?"
	}
	return fmt.Sprintf("%s+%d", m.V.String(), m.Offset)
}

// A Set is the value lattice element for one location: ⊥ (uninitialised),
// a kinded set of members, or ⊤ (Overdef). The zero Set is ⊥.
type Set struct {
	Kind    SetKind
	Overdef bool
	Values  []Member
}

// OverdefSet returns ⊤.
func OverdefSet() Set { return Set{Overdef: true} }

// Single returns a set holding exactly one member.
func Single(kind SetKind, m Member) Set {
	return Set{Kind: kind, Values: []Member{m}}
}

// ConstSet classifies a constant into a one-member set: pointers become
// Pointer sets, everything else a Scalar.
func ConstSet(c Const) Set {
	if _, ok := c.(Null); ok {
		return Single(Pointer, Member{V: c, Offset: 0})
	}
	return Single(Scalar, Member{V: c, Offset: 0})
}

// Initialised reports whether the set is above ⊥.
func (s *Set) Initialised() bool { return s.Overdef || len(s.Values) > 0 }

// SetOverdef raises the set to ⊤, dropping any members. The result is
// canonical: every ⊤ compares identical regardless of the kind it widened
// from.
func (s *Set) SetOverdef() {
	*s = Set{Overdef: true}
}

// Clone returns a set sharing no member storage with s.
func (s Set) Clone() Set {
	if s.Values != nil {
		s.Values = append([]Member(nil), s.Values...)
	}
	return s
}

func (s Set) String() string {
	if s.Overdef {
		return "⊤"
	}
	if len(s.Values) == 0 {
		return "⊥"
	}
	parts := make([]string, len(s.Values))
	for i, m := range s.Values {
		parts[i] = m.String()
	}
	return fmt.Sprintf("%s{%s}", s.Kind, strings.Join(parts, " "))
}

// Equal is structural equality, member order included.
func (s *Set) Equal(o *Set) bool {
	if s.Overdef != o.Overdef || len(s.Values) != len(o.Values) {
		return false
	}
	if s.Overdef {
		return true
	}
	if len(s.Values) > 0 && s.Kind != o.Kind {
		return false
	}
	for i := range s.Values {
		if s.Values[i] != o.Values[i] {
			return false
		}
	}
	return true
}

// Insert adds a member unless an identical one is present.
func (s *Set) Insert(m Member) {
	if s.Overdef {
		return
	}
	for _, have := range s.Values {
		if have == m {
			return
		}
	}
	s.Values = append(s.Values, m)
}

// Merge unions o into s. ⊤ is infectious; merging across kinds yields ⊤,
// except that mixing vararg cursors with any other kind indicates the
// caller lost track of a vararg slot and is a contract violation. A Splat
// set can only describe one repeated byte, so diverging splats widen to ⊤.
func (s *Set) Merge(o Set) {
	if !o.Initialised() {
		return
	}
	if !s.Initialised() {
		*s = o.Clone()
		return
	}
	if s.Overdef {
		return
	}
	if o.Overdef {
		s.SetOverdef()
		return
	}
	if s.Kind != o.Kind {
		if s.Kind == VarArg || o.Kind == VarArg {
			panic(fmt.Sprintf("merging vararg set with %s set", o.Kind))
		}
		s.SetOverdef()
		return
	}
	for _, m := range o.Values {
		s.Insert(m)
	}
	if s.Kind == Splat && len(s.Values) > 1 {
		s.SetOverdef()
	}
}

// Limit widens the set to ⊤ once it holds more than max members. A zero or
// negative max means unlimited.
func (s *Set) Limit(max int) {
	if max > 0 && len(s.Values) > max {
		s.SetOverdef()
	}
}

// CoerceTo reinterprets every member as size raw bytes and resynthesises a
// value of type ty. It reports false when a member cannot be reduced to
// bytes, or when a non-zero byte pattern would be reinterpreted as a
// pointer; on failure s may be partially updated, and callers must treat
// the whole set as ⊤.
func (s *Set) CoerceTo(ty Type, size uint64) bool {
	if !s.Initialised() || s.Overdef {
		return true
	}

	// Casts are ignored for vararg cursors, and pointer sets pass through
	// pointer-sized targets unchanged (the implicit ptr/int bitcast).
	if s.Kind == VarArg {
		return true
	}
	if s.Kind == Pointer {
		return size == PtrSize
	}
	if s.Kind == Splat {
		// Materialise the repeated byte at the target width.
		ic, ok := s.Values[0].V.(Int)
		if !ok || ic.Width != 1 {
			return false
		}
		if containsPointers(ty) && ic.Bits != 0 {
			return false
		}
		buf := make([]byte, size)
		for i := range buf {
			buf[i] = byte(ic.Bits)
		}
		nc := ConstFromBytes(buf, ty)
		if nc == nil {
			return false
		}
		s.Kind = Scalar
		if _, isNull := nc.(Null); isNull {
			s.Kind = Pointer
		}
		s.Values = []Member{{V: nc}}
		return true
	}
	if s.Kind != Scalar {
		return false
	}

	for i, m := range s.Values {
		c, ok := m.V.(Const)
		if !ok {
			return false
		}
		if c.ConstType().Size() == size && c.ConstType() == ty {
			continue
		}
		buf := make([]byte, size)
		if !ReadBytes(c, 0, buf) {
			return false
		}
		if containsPointers(ty) {
			for _, b := range buf {
				if b != 0 {
					return false
				}
			}
		}
		nc := ConstFromBytes(buf, ty)
		if nc == nil {
			return false
		}
		if _, isNull := nc.(Null); isNull {
			s.Kind = Pointer
		}
		s.Values[i] = Member{V: nc, Offset: m.Offset}
	}
	return true
}
