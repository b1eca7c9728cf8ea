package runtime

import (
	"errors"
	"testing"

	rterrors "github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/ir"
)

func TestMemoryInitialStateZeroed(t *testing.T) {
	c := newTestCompartment(t)

	m, err := CreateMemory(c, ir.MemoryType{Size: ir.SizeConstraints{Min: 2, Max: 4}}, "zeroed")
	if err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}
	if m.NumPages() != 2 {
		t.Fatalf("NumPages = %d, want 2", m.NumPages())
	}
	bytes := m.Bytes()
	if uint64(len(bytes)) != 2*ir.NumBytesPerPage {
		t.Fatalf("committed span is %d bytes, want %d", len(bytes), 2*ir.NumBytesPerPage)
	}
	for i, b := range bytes {
		if b != 0 {
			t.Fatalf("byte %d is %d, want 0", i, b)
		}
	}
}

// TestMemoryGrowLaw checks the growth law: grow(k) returns the previous
// page count and raises it by k exactly when the declared maximum and
// the reservation allow; otherwise it returns -1 and changes nothing.
func TestMemoryGrowLaw(t *testing.T) {
	c := newTestCompartment(t)

	m, err := CreateMemory(c, ir.MemoryType{Size: ir.SizeConstraints{Min: 1, Max: 3}}, "grow")
	if err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}

	if prev := m.Grow(1); prev != 1 {
		t.Fatalf("Grow(1) = %d, want 1", prev)
	}
	if m.NumPages() != 2 {
		t.Fatalf("NumPages = %d, want 2", m.NumPages())
	}

	// Exceeding the declared maximum fails and leaves the size alone.
	if prev := m.Grow(2); prev != -1 {
		t.Fatalf("Grow(2) past the max = %d, want -1", prev)
	}
	if m.NumPages() != 2 {
		t.Fatalf("failed growth changed NumPages to %d", m.NumPages())
	}

	if prev := m.Grow(1); prev != 2 {
		t.Fatalf("Grow(1) = %d, want 2", prev)
	}
	if prev := m.Grow(1); prev != -1 {
		t.Fatalf("Grow(1) at the max = %d, want -1", prev)
	}

	// Grown pages are zeroed.
	bytes := m.Bytes()
	for i := ir.NumBytesPerPage; i < len(bytes); i++ {
		if bytes[i] != 0 {
			t.Fatalf("grown byte %d is %d, want 0", i, bytes[i])
		}
	}
}

func TestMemoryGrowZeroDelta(t *testing.T) {
	c := newTestCompartment(t)
	m, err := CreateMemory(c, ir.MemoryType{Size: ir.SizeConstraints{Min: 1, Max: 1}}, "noop")
	if err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}
	if prev := m.Grow(0); prev != 1 {
		t.Fatalf("Grow(0) = %d, want 1", prev)
	}
}

func TestMemoryReadWriteBounds(t *testing.T) {
	c := newTestCompartment(t)
	m, err := CreateMemory(c, ir.MemoryType{Size: ir.SizeConstraints{Min: 1, Max: 1}}, "bounds")
	if err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}

	if err := m.WriteBytes(ir.NumBytesPerPage-3, []byte{1, 2, 3}); err != nil {
		t.Fatalf("in-bounds write failed: %v", err)
	}
	got, err := m.ReadBytes(ir.NumBytesPerPage-3, 3)
	if err != nil {
		t.Fatalf("in-bounds read failed: %v", err)
	}
	if got[0] != 1 || got[2] != 3 {
		t.Fatalf("read back %v", got)
	}

	oob := &rterrors.Error{Phase: rterrors.PhaseRuntime, Kind: rterrors.KindOutOfBoundsMemory}
	if err := m.WriteBytes(ir.NumBytesPerPage-2, []byte{1, 2, 3}); !errors.Is(err, oob) {
		t.Fatalf("expected out-of-bounds write error, got %v", err)
	}
	if _, err := m.ReadBytes(ir.NumBytesPerPage, 1); !errors.Is(err, oob) {
		t.Fatalf("expected out-of-bounds read error, got %v", err)
	}
}

func TestMemoryRuntimeDataView(t *testing.T) {
	c := newTestCompartment(t)
	m, err := CreateMemory(c, ir.MemoryType{Size: ir.SizeConstraints{Min: 1, Max: 2}}, "view")
	if err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}

	// The compartment runtime data indexes the memory by id.
	data := c.RuntimeData().Memories[m.ID()]
	if data != m.Data() {
		t.Fatal("runtime data does not point at the memory's data block")
	}
	if data.NumPages() != 1 {
		t.Fatalf("runtime-data page count = %d, want 1", data.NumPages())
	}
	if prev := data.Grow(1); prev != 1 {
		t.Fatalf("growth through the runtime data = %d, want 1", prev)
	}
	if m.NumPages() != 2 {
		t.Fatalf("instance page count = %d after runtime-data growth", m.NumPages())
	}
}
