package follow

import (
	"fmt"

	"followServer/backend/internal/editor"
)

// CursorPosition 是最新选区光标的 1 起始行列，以及全部选区选中的字符数
type CursorPosition struct {
	Row      int `json:"row"`
	Column   int `json:"column"`
	Selected int `json:"selected"`
}

func (c CursorPosition) String() string {
	s := fmt.Sprintf("%d:%d", c.Row, c.Column)
	if c.Selected > 0 {
		s += fmt.Sprintf(" (%d selected)", c.Selected)
	}
	return s
}

func CursorPositionOf(ed *editor.Editor) (CursorPosition, bool) {
	snapshot := ed.Buffer().Snapshot()
	off, ok := snapshot.Offset(ed.NewestSelection().Head())
	if !ok {
		return CursorPosition{}, false
	}
	p := snapshot.OffsetToPoint(off)
	pos := CursorPosition{Row: p.Row + 1, Column: p.Column + 1}
	for _, s := range ed.Selections() {
		start, okStart := snapshot.Offset(s.Start)
		end, okEnd := snapshot.Offset(s.End)
		if okStart && okEnd && end > start {
			pos.Selected += end - start
		}
	}
	return pos, true
}
