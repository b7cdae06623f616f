package proto

// 视图同步的线上格式（JSON）。可选字段用指针表示，缺失即 nil。

type ViewID struct {
	Creator string `json:"creator"`
	ID      uint64 `json:"id"`
}

// TextAnchor 是源 buffer 中绑定 revision 的位置
type TextAnchor struct {
	Revision uint64 `json:"revision"`
	Offset   int64  `json:"offset"`
	Bias     int32  `json:"bias"` // 0=left 1=right
}

type EditorAnchor struct {
	ExcerptID uint64      `json:"excerptId"`
	Anchor    *TextAnchor `json:"anchor,omitempty"`
}

type Excerpt struct {
	ID           uint64      `json:"id"`
	BufferID     uint64      `json:"bufferId"`
	ContextStart *TextAnchor `json:"contextStart,omitempty"`
	ContextEnd   *TextAnchor `json:"contextEnd,omitempty"`
	// primary 两端要么同时出现，要么同时缺失
	PrimaryStart *TextAnchor `json:"primaryStart,omitempty"`
	PrimaryEnd   *TextAnchor `json:"primaryEnd,omitempty"`
}

// ExcerptInsertion：PreviousExcerptID 为空表示紧跟在上一条插入之后
type ExcerptInsertion struct {
	PreviousExcerptID *uint64  `json:"previousExcerptId,omitempty"`
	Excerpt           *Excerpt `json:"excerpt,omitempty"`
}

type Selection struct {
	ID       uint64        `json:"id"`
	Start    *EditorAnchor `json:"start,omitempty"`
	End      *EditorAnchor `json:"end,omitempty"`
	Reversed bool          `json:"reversed"`
}

// ViewState 是新加入的跟随者拿到的完整快照
type ViewState struct {
	Singleton        bool          `json:"singleton"`
	Title            *string       `json:"title,omitempty"`
	Excerpts         []Excerpt     `json:"excerpts"`
	ScrollTopAnchor  *EditorAnchor `json:"scrollTopAnchor,omitempty"`
	ScrollX          float32       `json:"scrollX"`
	ScrollY          float32       `json:"scrollY"`
	Selections       []Selection   `json:"selections"`
	PendingSelection *Selection    `json:"pendingSelection,omitempty"`
}

// UpdateView 是一次增量更新，由一段时间内的多个事件合并而成
type UpdateView struct {
	InsertedExcerpts []ExcerptInsertion `json:"insertedExcerpts,omitempty"`
	DeletedExcerpts  []uint64           `json:"deletedExcerpts,omitempty"`
	ScrollTopAnchor  *EditorAnchor      `json:"scrollTopAnchor,omitempty"`
	ScrollX          float32            `json:"scrollX,omitempty"`
	ScrollY          float32            `json:"scrollY,omitempty"`
	Selections       []Selection        `json:"selections,omitempty"`
	PendingSelection *Selection         `json:"pendingSelection,omitempty"`
}

func (u *UpdateView) IsEmpty() bool {
	return len(u.InsertedExcerpts) == 0 && len(u.DeletedExcerpts) == 0 &&
		u.ScrollTopAnchor == nil && len(u.Selections) == 0 && u.PendingSelection == nil
}
