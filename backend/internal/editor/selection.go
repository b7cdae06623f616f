package editor

import "followServer/backend/internal/multibuffer"

// SelectionGoal 是上下移动光标时想要保持的列，只在本地有意义，不同步
type SelectionGoal struct {
	Column int
	Set    bool
}

type Selection struct {
	ID       uint64
	Start    multibuffer.Anchor
	End      multibuffer.Anchor
	Reversed bool
	Goal     SelectionGoal
}

// Head 是光标所在的一端
func (s Selection) Head() multibuffer.Anchor {
	if s.Reversed {
		return s.Start
	}
	return s.End
}

func (s Selection) Tail() multibuffer.Anchor {
	if s.Reversed {
		return s.End
	}
	return s.Start
}

type ScrollAnchor struct {
	Anchor  multibuffer.Anchor
	OffsetX float32
	OffsetY float32
}

type Autoscroll int

const (
	AutoscrollFit Autoscroll = iota
	AutoscrollNewest
	AutoscrollCenter
)

// ViewID 是视图在协作会话中的身份：创建者 + 创建者本地的编号
type ViewID struct {
	Creator string
	ID      uint64
}
