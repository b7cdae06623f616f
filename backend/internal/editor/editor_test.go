package editor

import (
	"testing"

	"followServer/backend/internal/multibuffer"
	"followServer/backend/internal/ot/delta"
	"followServer/backend/internal/text"
)

func newSingletonEditor(content string) (*Editor, *text.Buffer) {
	buf := text.NewBuffer(1, content, 0)
	return New(multibuffer.Singleton(buf)), buf
}

func anchorAt(e *Editor, offset int) multibuffer.Anchor {
	return e.Buffer().Snapshot().AnchorAt(offset, text.BiasLeft)
}

func TestEditor_SelectRangesMergesAndSorts(t *testing.T) {
	e, _ := newSingletonEditor("0123456789")
	var events []Event
	e.Subscribe(func(evt Event) { events = append(events, evt) })

	e.SelectRanges([]multibuffer.AnchorRange{
		{Start: anchorAt(e, 6), End: anchorAt(e, 8)},
		{Start: anchorAt(e, 3), End: anchorAt(e, 1)},
		{Start: anchorAt(e, 7), End: anchorAt(e, 9)},
	})

	sels := e.Selections()
	if len(sels) != 2 {
		t.Fatalf("Selections() len = %d, want 2", len(sels))
	}
	if !sels[0].Reversed || sels[0].Start.Text.Offset != 1 || sels[0].End.Text.Offset != 3 {
		t.Fatalf("Selections()[0] = %+v", sels[0])
	}
	if sels[1].Start.Text.Offset != 6 || sels[1].End.Text.Offset != 9 {
		t.Fatalf("Selections()[1] = %+v, want 6..9", sels[1])
	}
	if len(events) != 1 || events[0] != (SelectionsChanged{Local: true}) {
		t.Fatalf("events = %#v", events)
	}
}

func TestEditor_RemoteSelectionsKeepIDs(t *testing.T) {
	e, _ := newSingletonEditor("abc")
	var got []Event
	e.Subscribe(func(evt Event) { got = append(got, evt) })

	a := anchorAt(e, 1)
	pending := Selection{ID: 12, Start: a, End: a}
	e.SetSelectionsFromRemote([]Selection{{ID: 9, Start: a, End: a}}, &pending)
	e.RequestAutoscrollRemotely(AutoscrollNewest)

	if newest := e.NewestSelection(); newest.ID != 12 {
		t.Fatalf("NewestSelection().ID = %d, want 12", newest.ID)
	}
	if req, ok := e.TakeAutoscrollRequest(); !ok || req != AutoscrollNewest {
		t.Fatalf("TakeAutoscrollRequest() = %v, %v", req, ok)
	}
	if _, ok := e.TakeAutoscrollRequest(); ok {
		t.Fatalf("TakeAutoscrollRequest() returned a request twice")
	}
	want := []Event{SelectionsChanged{Local: false}, ScrollPositionChanged{Local: false, Autoscroll: true}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %#v, want %#v", got, want)
	}
}

func TestEditor_EditEmitsEdited(t *testing.T) {
	e, buf := newSingletonEditor("abc")
	var kinds []Event
	e.Subscribe(func(evt Event) { kinds = append(kinds, evt) })

	if err := e.Edit(1, delta.Delta{{Kind: delta.KindInsert, Text: "x"}}); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if buf.String() != "xabc" {
		t.Fatalf("buffer = %q, want %q", buf.String(), "xabc")
	}
	if len(kinds) != 2 || kinds[1] != (Edited{}) {
		t.Fatalf("events = %#v", kinds)
	}
	if err := e.Edit(99, nil); err != ErrBufferNotInView {
		t.Fatalf("Edit(99) error = %v, want ErrBufferNotInView", err)
	}
}

func TestEditor_ForwardsExcerptEvents(t *testing.T) {
	mb := multibuffer.New()
	e := New(mb)
	var got []Event
	e.Subscribe(func(evt Event) { got = append(got, evt) })

	buf := text.NewBuffer(3, "abc", 0)
	ids := mb.PushExcerpts(buf, []multibuffer.ExcerptRange{{Context: multibuffer.Range{Start: text.MinAnchor, End: text.MaxAnchor}}})
	mb.RemoveExcerpts(ids)

	if len(got) != 2 {
		t.Fatalf("events = %#v", got)
	}
	if added, ok := got[0].(ExcerptsAdded); !ok || added.BufferID != 3 || added.Predecessor != multibuffer.MinExcerptID {
		t.Fatalf("events[0] = %#v", got[0])
	}
	if _, ok := got[1].(ExcerptsRemoved); !ok {
		t.Fatalf("events[1] = %#v", got[1])
	}

	e.Release()
	mb.PushExcerpts(buf, []multibuffer.ExcerptRange{{Context: multibuffer.Range{Start: text.MinAnchor, End: text.MaxAnchor}}})
	if len(got) != 3 {
		t.Fatalf("released editor still forwards events: %#v", got)
	}
	if _, ok := got[2].(Closed); !ok {
		t.Fatalf("events[2] = %#v, want Closed", got[2])
	}
	if e.IsAlive() {
		t.Fatalf("IsAlive() = true after Release")
	}
}

func TestEditor_NavigateFallsBackToPoint(t *testing.T) {
	e, _ := newSingletonEditor("ab\ncd\nef")
	data := NavigationData{
		// 片段 42 不存在，只能按行列恢复
		CursorAnchor:   multibuffer.Anchor{ExcerptID: 42},
		CursorPosition: text.Point{Row: 1, Column: 1},
		ScrollAnchor:   multibuffer.Anchor{ExcerptID: 42},
		ScrollTopRow:   2,
	}
	if !e.Navigate(data) {
		t.Fatalf("Navigate() = false, want true")
	}
	snapshot := e.Buffer().Snapshot()
	off, _ := snapshot.Offset(e.NewestSelection().Head())
	if off != 4 {
		t.Fatalf("cursor offset = %d, want 4", off)
	}
	scrollOff, _ := snapshot.Offset(e.ScrollAnchor().Anchor)
	if scrollOff != 6 {
		t.Fatalf("scroll offset = %d, want 6", scrollOff)
	}
	// 再次导航到同一位置不移动
	if e.Navigate(e.NavigationData()) {
		t.Fatalf("Navigate() to current position = true")
	}
}
