package editor

import (
	"followServer/backend/internal/multibuffer"
	"followServer/backend/internal/text"
)

// NavigationData 是导航历史中的一项。锚点失效时退回记录下来的行列坐标。
type NavigationData struct {
	CursorAnchor   multibuffer.Anchor
	CursorPosition text.Point
	ScrollAnchor   multibuffer.Anchor
	ScrollTopRow   int
	ScrollOffsetX  float32
	ScrollOffsetY  float32
}

// NavigationData 记录当前光标与滚动位置
func (e *Editor) NavigationData() NavigationData {
	snapshot := e.buffer.Snapshot()
	head := e.NewestSelection().Head()
	scroll := e.ScrollAnchor()

	data := NavigationData{
		CursorAnchor:  head,
		ScrollAnchor:  scroll.Anchor,
		ScrollOffsetX: scroll.OffsetX,
		ScrollOffsetY: scroll.OffsetY,
	}
	if off, ok := snapshot.Offset(head); ok {
		data.CursorPosition = snapshot.OffsetToPoint(off)
	}
	if off, ok := snapshot.Offset(scroll.Anchor); ok {
		data.ScrollTopRow = snapshot.OffsetToPoint(off).Row
	}
	return data
}

// Navigate 恢复一项导航记录，光标实际移动时返回 true
func (e *Editor) Navigate(data NavigationData) bool {
	snapshot := e.buffer.Snapshot()

	cursor := data.CursorAnchor
	if !snapshot.CanResolve(cursor) {
		cursor = snapshot.AnchorAt(snapshot.ClipPoint(data.CursorPosition), text.BiasLeft)
	}
	scroll := data.ScrollAnchor
	if !snapshot.CanResolve(scroll) {
		scroll = snapshot.AnchorAt(snapshot.ClipPoint(text.Point{Row: data.ScrollTopRow}), text.BiasLeft)
	}

	head := e.NewestSelection().Head()
	if snapshot.CompareAnchors(head, cursor) == 0 {
		return false
	}
	e.SelectRanges([]multibuffer.AnchorRange{{Start: cursor, End: cursor}})
	e.SetScrollAnchor(ScrollAnchor{Anchor: scroll, OffsetX: data.ScrollOffsetX, OffsetY: data.ScrollOffsetY})
	return true
}
