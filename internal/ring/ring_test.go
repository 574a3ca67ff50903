package ring

import "testing"

func TestNewRejectsBadSizes(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("New(0) should fail")
	}
	if _, err := New(-1); err == nil {
		t.Error("New(-1) should fail")
	}
}

func TestEntryFields(t *testing.T) {
	buf, err := New(8)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if buf.Size() != 8*WQESize {
		t.Fatalf("Size = %d, want %d", buf.Size(), 8*WQESize)
	}

	e := buf.At(2 * WQESize)
	e.SetID(2 * WQESize)
	e.SetOp(OpWrite)
	e.SetStatus(StatusPending)
	e.SetLen(512)
	e.SetLoff(1024)
	e.SetRoff(2048)

	if e.ID() != 2*WQESize {
		t.Errorf("ID = %d, want %d", e.ID(), 2*WQESize)
	}
	if e.Op() != OpWrite {
		t.Errorf("Op = %d, want %d", e.Op(), OpWrite)
	}
	if e.Status() != StatusPending {
		t.Errorf("Status = %d, want %d", e.Status(), StatusPending)
	}
	if e.Len() != 512 || e.Loff() != 1024 || e.Roff() != 2048 {
		t.Errorf("len/loff/roff = %d/%d/%d, want 512/1024/2048", e.Len(), e.Loff(), e.Roff())
	}

	// neighbors untouched
	for _, off := range []uint32{WQESize, 3 * WQESize} {
		if got := buf.At(off).Status(); got != 0 {
			t.Errorf("entry at %d status = %d, want 0", off, got)
		}
	}
}

func TestAdd(t *testing.T) {
	const size = 8 * WQESize
	tests := []struct {
		off, delta, want uint32
	}{
		{0, WQESize, WQESize},
		{size - WQESize, WQESize, 0},
		{size - WQESize, 2 * WQESize, WQESize},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := Add(tt.off, tt.delta, size); got != tt.want {
			t.Errorf("Add(%d, %d) = %d, want %d", tt.off, tt.delta, got, tt.want)
		}
	}
}

func TestDist(t *testing.T) {
	const size = 8 * WQESize
	tests := []struct {
		from, to, want uint32
	}{
		{0, 0, 0},
		{0, WQESize, WQESize},
		{WQESize, 0, size - WQESize},
		{size - WQESize, WQESize, 2 * WQESize},
	}
	for _, tt := range tests {
		if got := Dist(tt.from, tt.to, size); got != tt.want {
			t.Errorf("Dist(%d, %d) = %d, want %d", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []uint32{StatusSuccess, StatusOutOfBounds, StatusConnReset} {
		if !Terminal(s) {
			t.Errorf("Terminal(%d) = false, want true", s)
		}
	}
	for _, s := range []uint32{StatusPending, StatusTxPending, StatusRespPending} {
		if Terminal(s) {
			t.Errorf("Terminal(%d) = true, want false", s)
		}
	}
}
