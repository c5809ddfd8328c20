package bitio

import "testing"

func TestAppendNumberPacking(t *testing.T) {
	b := NewBuffer()
	b.AppendNumber(0, 0)
	b.AppendNumber(123, 8)
	b.AppendNumber(0b1010, 4)
	b.AppendNumber(0b1001011, 7)
	b.AppendNumber(0b00100000100001000100101, 23)

	want := []byte{0x7B, 0xBA, 0x2C, 0x11, 0x82, 0x00}
	got := b.Bytes()
	if len(got) != len(want) {
		t.Fatalf("length = %d, want %d (%x)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

func TestAppendPrefixCodeReversal(t *testing.T) {
	b := NewBuffer()
	b.AppendPrefixCode(0b1, 1)
	b.AppendPrefixCode(0b11010, 5)

	want := byte(0b00010111)
	got := b.Bytes()
	if len(got) != 1 || got[0] != want {
		t.Fatalf("got %08b, want %08b", got, want)
	}
}

func TestAppendPrefixCodeEqualsReversedAppendNumber(t *testing.T) {
	reverse := func(v uint32, n uint) uint32 {
		var out uint32
		for i := uint(0); i < n; i++ {
			out = (out << 1) | ((v >> i) & 1)
		}
		return out
	}

	for _, tc := range []struct {
		v byte
		n uint
	}{
		{0b0, 0}, {0b1, 1}, {0b101, 3}, {0b11010, 5}, {0xFF, 8},
	} {
		a := NewBuffer()
		a.AppendPrefixCode(tc.v, tc.n)

		b := NewBuffer()
		b.AppendNumber(reverse(uint32(tc.v), tc.n), tc.n)

		if string(a.Bytes()) != string(b.Bytes()) {
			t.Errorf("AppendPrefixCode(%v,%d) = %v, want %v", tc.v, tc.n, a.Bytes(), b.Bytes())
		}
	}
}

func TestByteAlignment(t *testing.T) {
	b := NewBuffer()
	if !b.IsByteAligned() {
		t.Fatal("new buffer should be byte aligned")
	}
	b.AppendNumber(1, 3)
	if b.IsByteAligned() {
		t.Fatal("buffer should not be byte aligned after 3 bits")
	}
	b.PadToEndOfByte()
	if !b.IsByteAligned() {
		t.Fatal("PadToEndOfByte should byte-align")
	}
	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", b.Len())
	}
}

func TestAppendRawOnAlignedBuffer(t *testing.T) {
	b := NewBuffer()
	b.AppendRaw([]byte{0xAA, 0xBB})
	if b.Bytes()[0] != 0xAA || b.Bytes()[1] != 0xBB {
		t.Fatalf("AppendRaw produced %x", b.Bytes())
	}
}
