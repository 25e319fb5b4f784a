package chunk

import (
	"testing"

	"github.com/estevaofon/noxy-vm/internal/value"
)

func TestWriteAndLineAt(t *testing.T) {
	c := New()
	c.Write(byte(OpNil), 1)
	c.Write(byte(OpTrue), 1)
	c.Write(byte(OpPop), 2)
	c.Write(byte(OpReturn), 2)

	want := []int{1, 1, 2, 2}
	for i, line := range want {
		if got := c.LineAt(i); got != line {
			t.Fatalf("offset %d: got line %d, want %d", i, got, line)
		}
	}
}

func TestAddConstantNoDedup(t *testing.T) {
	c := New()
	i1 := c.AddConstant(value.NewNumber(1))
	i2 := c.AddConstant(value.NewNumber(1))
	if i1 == i2 {
		t.Fatalf("expected distinct indices, both constants got %d", i1)
	}
	if len(c.Constants) != 2 {
		t.Fatalf("expected 2 constants, got %d", len(c.Constants))
	}
}

func TestPatch(t *testing.T) {
	c := New()
	c.Write(byte(OpJump), 1)
	offset := len(c.Code)
	c.Write(0xff, 1)
	c.Write(0xff, 1)

	c.Patch(offset, 0x1234)
	if c.Code[offset] != 0x34 || c.Code[offset+1] != 0x12 {
		t.Fatalf("expected little-endian 0x1234, got %02x %02x", c.Code[offset], c.Code[offset+1])
	}
}

func TestLineAtIsMonotonic(t *testing.T) {
	c := New()
	lines := []int{1, 1, 1, 5, 5, 9}
	for _, line := range lines {
		c.Write(byte(OpPop), line)
	}
	prev := 0
	for offset := 0; offset < len(c.Code); offset++ {
		got := c.LineAt(offset)
		if got < prev {
			t.Fatalf("LineAt not monotonic at offset %d: got %d after %d", offset, got, prev)
		}
		prev = got
	}
}
