package editor

import "followServer/backend/internal/multibuffer"

// Event 是视图发出的通知。接收方用 type switch 匹配，并且必须有 default 分支：
// 以后新增的事件类型默认被忽略。
type Event interface {
	editorEvent()
}

// Edited：本地用户编辑了文本
type Edited struct{}

// BufferEdited：任一底层 buffer 内容变化（本地或远端）
type BufferEdited struct{}

type ExcerptsAdded struct {
	BufferID    uint64
	Predecessor multibuffer.ExcerptID
	Excerpts    []multibuffer.IDRange
}

type ExcerptsRemoved struct {
	IDs []multibuffer.ExcerptID
}

type ScrollPositionChanged struct {
	Local      bool
	Autoscroll bool
}

type SelectionsChanged struct {
	Local bool
}

type Focused struct{}
type Closed struct{}

func (Edited) editorEvent()                {}
func (BufferEdited) editorEvent()          {}
func (ExcerptsAdded) editorEvent()         {}
func (ExcerptsRemoved) editorEvent()       {}
func (ScrollPositionChanged) editorEvent() {}
func (SelectionsChanged) editorEvent()     {}
func (Focused) editorEvent()               {}
func (Closed) editorEvent()                {}
