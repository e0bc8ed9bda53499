package corethread

import "testing"

func TestFrameArenaAlloc(t *testing.T) {
	a := NewFrameArena(64)

	b1 := a.Alloc(16)
	if len(b1) != 16 {
		t.Fatalf("Alloc(16) returned %d bytes", len(b1))
	}
	b2 := a.Alloc(16)
	if &b1[0] == &b2[0] {
		t.Error("consecutive allocations alias")
	}
	if got := a.Used(); got != 32 {
		t.Errorf("Used() = %d, want 32", got)
	}
}

func TestFrameArenaAllocZeroed(t *testing.T) {
	a := NewFrameArena(32)
	b := a.Alloc(8)
	for i := range b {
		b[i] = 0xff
	}
	a.Reset()
	b = a.Alloc(8)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("Alloc returned dirty byte at %d: %#x", i, v)
		}
	}
}

func TestFrameArenaOverflow(t *testing.T) {
	a := NewFrameArena(32)

	small := a.Alloc(24)
	big := a.Alloc(64) // exceeds the primary block
	if len(big) != 64 {
		t.Fatalf("overflow Alloc(64) returned %d bytes", len(big))
	}
	// The earlier allocation must survive the overflow.
	small[0] = 1
	if small[0] != 1 {
		t.Error("allocation invalidated by overflow")
	}
	if len(a.blocks) < 2 {
		t.Error("overflow should append a new block")
	}
}

func TestFrameArenaReset(t *testing.T) {
	a := NewFrameArena(32)
	a.Alloc(24)
	a.Alloc(64)
	a.Reset()

	if got := a.Used(); got != 0 {
		t.Errorf("Used() = %d after Reset, want 0", got)
	}
	if len(a.blocks) != 1 {
		t.Error("Reset should drop overflow blocks")
	}
}

func TestFrameArenaOwnerCheck(t *testing.T) {
	a := NewFrameArena(32)
	a.debug = true

	a.Alloc(8) // owner allocates fine

	panicked := make(chan any, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { panicked <- recover() }()
		a.Alloc(8)
	}()
	<-done

	if p := <-panicked; p == nil {
		t.Error("cross-goroutine Alloc should panic when debug checking is on")
	}
}

func BenchmarkFrameArenaAlloc(b *testing.B) {
	a := NewFrameArena(1 << 20)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if a.Used() > (1<<20)-64 {
			a.Reset()
		}
		a.Alloc(48)
	}
}
