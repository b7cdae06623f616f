package text

import (
	"context"
	"errors"
	"testing"
	"time"

	"followServer/backend/internal/ot/delta"
)

func insertAt(pos int, s string) delta.Delta {
	return delta.Delta{{Kind: delta.KindRetain, Count: pos}, {Kind: delta.KindInsert, Text: s}}
}

func TestBuffer_AnchorFollowsEdits(t *testing.T) {
	b := NewBuffer(1, "hello world", 0)
	left := b.AnchorAt(6, BiasLeft)
	right := b.AnchorAt(6, BiasRight)

	if _, err := b.Edit(insertAt(6, "big ")); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if got, _ := b.Resolve(left); got != 6 {
		t.Fatalf("Resolve(left) = %d, want 6", got)
	}
	if got, _ := b.Resolve(right); got != 10 {
		t.Fatalf("Resolve(right) = %d, want 10", got)
	}

	if _, err := b.Edit(delta.Delta{{Kind: delta.KindDelete, Count: 2}}); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if got, _ := b.Resolve(right); got != 8 {
		t.Fatalf("Resolve(right) after delete = %d, want 8", got)
	}
	if got := b.String(); got != "llo big world" {
		t.Fatalf("String() = %q, want %q", got, "llo big world")
	}
}

func TestBuffer_FutureAnchorUnresolvable(t *testing.T) {
	b := NewBuffer(1, "abc", 3)
	a := Anchor{Revision: 4, Offset: 1}
	if b.CanResolve(a) {
		t.Fatalf("CanResolve() = true for future revision")
	}
	if _, ok := b.Resolve(a); ok {
		t.Fatalf("Resolve() ok = true for future revision")
	}
	if _, err := b.ApplyRevision(4, insertAt(0, "x")); err != nil {
		t.Fatalf("ApplyRevision() error = %v", err)
	}
	if got, ok := b.Resolve(a); !ok || got != 1 {
		t.Fatalf("Resolve() = %d, %v, want 1, true", got, ok)
	}
}

func TestBuffer_ApplyRevisionDuplicateAndGap(t *testing.T) {
	b := NewBuffer(1, "", 0)
	if applied, err := b.ApplyRevision(1, insertAt(0, "a")); err != nil || !applied {
		t.Fatalf("ApplyRevision(1) = %v, %v", applied, err)
	}
	if applied, err := b.ApplyRevision(1, insertAt(0, "a")); err != nil || applied {
		t.Fatalf("duplicate ApplyRevision(1) = %v, %v, want false, nil", applied, err)
	}
	if _, err := b.ApplyRevision(3, insertAt(0, "c")); !errors.Is(err, ErrRevisionGap) {
		t.Fatalf("ApplyRevision(3) error = %v, want ErrRevisionGap", err)
	}
	if got := b.String(); got != "a" {
		t.Fatalf("String() = %q, want %q", got, "a")
	}
}

func TestBuffer_RejectsOverlongDelta(t *testing.T) {
	b := NewBuffer(1, "ab", 0)
	if _, err := b.Edit(delta.Delta{{Kind: delta.KindDelete, Count: 5}}); !errors.Is(err, ErrInvalidDelta) {
		t.Fatalf("Edit() error = %v, want ErrInvalidDelta", err)
	}
	if b.Revision() != 0 {
		t.Fatalf("Revision() = %d, want 0", b.Revision())
	}
}

func TestBuffer_WaitForRevision(t *testing.T) {
	b := NewBuffer(1, "", 0)
	done := make(chan error, 1)
	go func() { done <- b.WaitForRevision(context.Background(), 2) }()

	_, _ = b.ApplyRevision(1, insertAt(0, "a"))
	select {
	case <-done:
		t.Fatalf("WaitForRevision returned before revision 2")
	case <-time.After(20 * time.Millisecond):
	}

	_, _ = b.ApplyRevision(2, insertAt(1, "b"))
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForRevision() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("WaitForRevision did not return")
	}
}

func TestBuffer_WaitForRevisionCancelled(t *testing.T) {
	b := NewBuffer(1, "", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.WaitForRevision(ctx, 5); !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitForRevision() error = %v, want context.Canceled", err)
	}
}

func TestBuffer_HistoryTrimFallsBackToClamp(t *testing.T) {
	b := NewBuffer(1, "", 0)
	b.historyCap = 2
	old := b.AnchorAt(0, BiasLeft)
	for i := 0; i < 3; i++ {
		if _, err := b.Edit(insertAt(0, "x")); err != nil {
			t.Fatalf("Edit() error = %v", err)
		}
	}
	// revision 1 已被丢弃，old 只能被钳制
	if got, ok := b.Resolve(old); !ok || got != 0 {
		t.Fatalf("Resolve(old) = %d, %v, want 0, true", got, ok)
	}
	fresh := Anchor{Revision: 1, Offset: 1, Bias: BiasRight}
	if got, _ := b.Resolve(fresh); got != 3 {
		t.Fatalf("Resolve(fresh) = %d, want 3", got)
	}
}

func TestSnapshot_Points(t *testing.T) {
	s := NewBuffer(1, "ab\ncde\n", 0).Snapshot()
	if got := s.OffsetToPoint(4); got != (Point{Row: 1, Column: 1}) {
		t.Fatalf("OffsetToPoint(4) = %+v, want {1 1}", got)
	}
	if got := s.PointToOffset(Point{Row: 1, Column: 10}); got != 6 {
		t.Fatalf("PointToOffset({1 10}) = %d, want 6", got)
	}
	if got := s.PointToOffset(Point{Row: 2, Column: 0}); got != 7 {
		t.Fatalf("PointToOffset({2 0}) = %d, want 7", got)
	}
	if got := s.Slice(3, 100); got != "cde\n" {
		t.Fatalf("Slice(3, 100) = %q, want %q", got, "cde\n")
	}
}

func TestSnapshot_MaxAnchor(t *testing.T) {
	b := NewBuffer(1, "abc", 0)
	_, _ = b.Edit(insertAt(3, "de"))
	if got, _ := b.Snapshot().Resolve(MaxAnchor); got != 5 {
		t.Fatalf("Resolve(MaxAnchor) = %d, want 5", got)
	}
}
