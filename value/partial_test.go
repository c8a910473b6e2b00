package value

import (
	"bytes"
	"testing"
)

func TestCombineEarliestWins(t *testing.T) {
	pv := BytesPV(4)

	first := PartialPV(Int{Width: 2, Bits: 0x1111}, 0)
	if err := pv.CombineWith(&first, 0, 2, 4); err != nil {
		t.Fatal(err)
	}
	if pv.IsComplete() {
		t.Error("half-defined accumulator reported complete")
	}

	// Overlaps bytes [0,2), which must keep their first definition.
	second := PartialPV(Int{Width: 4, Bits: 0x22222222}, 0)
	if err := pv.CombineWith(&second, 0, 4, 4); err != nil {
		t.Fatal(err)
	}
	if !pv.IsComplete() {
		t.Error("fully-defined accumulator not complete")
	}
	if want := []byte{0x11, 0x11, 0x22, 0x22}; !bytes.Equal(pv.Bytes(), want) {
		t.Errorf("bytes = %x, want %x", pv.Bytes(), want)
	}
}

func TestCombineOutOfOrder(t *testing.T) {
	pv := EmptyPV()

	tail := PartialPV(Int{Width: 2, Bits: 0xbbaa}, 0)
	if err := pv.CombineWith(&tail, 2, 4, 4); err != nil {
		t.Fatal(err)
	}
	if !pv.IsByteArray() {
		t.Fatal("partial fragment did not force byte accumulation")
	}
	head := PartialPV(Int{Width: 2, Bits: 0x2211}, 0)
	if err := pv.CombineWith(&head, 0, 2, 4); err != nil {
		t.Fatal(err)
	}
	if !pv.IsComplete() {
		t.Error("jointly covering fragments not complete")
	}

	got, err := pv.Conclude(4, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := ConstSet(Int{Width: 4, Bits: 0xbbaa2211})
	if !got.Equal(&want) {
		t.Errorf("concluded %s, want %s", got.String(), want.String())
	}
}

func TestWholeFragmentAdoptedAsTotal(t *testing.T) {
	pv := EmptyPV()
	whole := TotalPV(ConstSet(Int{Width: 4, Bits: 5}), nil)
	if err := pv.CombineWith(&whole, 0, 4, 4); err != nil {
		t.Fatal(err)
	}
	if !pv.IsTotal() {
		t.Error("whole-covering fragment not adopted as total")
	}
}

func TestMarkPadding(t *testing.T) {
	// {i32 @0, i32 @8} in 16 bytes: [4,8) and [12,16) are padding.
	ty := &StructType{
		Fields: []Field{
			{Offset: 0, Type: IntType{Bytes: 4}},
			{Offset: 8, Type: IntType{Bytes: 4}},
		},
		Bytes: 16,
	}

	pv := EmptyPV()
	pv.MarkPadding(ty, 16)

	f1 := PartialPV(Int{Width: 4, Bits: 1}, 0)
	if err := pv.CombineWith(&f1, 0, 4, 16); err != nil {
		t.Fatal(err)
	}
	if pv.IsComplete() {
		t.Error("complete with field 2 missing")
	}
	f2 := PartialPV(Int{Width: 4, Bits: 2}, 0)
	if err := pv.CombineWith(&f2, 8, 12, 16); err != nil {
		t.Fatal(err)
	}
	if !pv.IsComplete() {
		t.Error("field writes plus padding not recognized as complete")
	}
}

func TestAddToPartialSplat(t *testing.T) {
	pv := BytesPV(4)
	splat := Single(Splat, Member{V: Int{Width: 1, Bits: 0xab}, Offset: 4})
	if err := AddToPartial(&splat, 0, 0, 4, &pv); err != nil {
		t.Fatal(err)
	}
	if !pv.IsComplete() {
		t.Error("whole-buffer splat not complete")
	}
	if want := []byte{0xab, 0xab, 0xab, 0xab}; !bytes.Equal(pv.Bytes(), want) {
		t.Errorf("bytes = %x, want %x", pv.Bytes(), want)
	}
}

func TestAddToPartialRejectsMultiValued(t *testing.T) {
	pv := BytesPV(4)
	s := ConstSet(Int{Width: 4, Bits: 1})
	s.Merge(ConstSet(Int{Width: 4, Bits: 2}))
	if err := AddToPartial(&s, 0, 0, 4, &pv); err == nil {
		t.Error("multi-valued set accepted into byte accumulation")
	}
}
