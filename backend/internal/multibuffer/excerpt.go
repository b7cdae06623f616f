package multibuffer

import (
	"math"

	"followServer/backend/internal/text"
)

// ExcerptID 是片段的不透明标识，按片段在组合文档中的位置排序。
// 删除后的 id 不会被复用。
type ExcerptID uint64

const (
	MinExcerptID ExcerptID = 0
	MaxExcerptID ExcerptID = math.MaxUint64
)

func (id ExcerptID) ToProto() uint64 { return uint64(id) }

func ExcerptIDFromProto(v uint64) ExcerptID { return ExcerptID(v) }

// Range 是源 buffer 中的一段，两端都是文本锚点
type Range struct {
	Start text.Anchor
	End   text.Anchor
}

// ExcerptRange：Context 是展示给用户的范围，Primary 是其中真正关心的子范围（可选）
type ExcerptRange struct {
	Context Range
	Primary *Range
}

type Excerpt struct {
	ID       ExcerptID
	BufferID uint64
	Range    ExcerptRange
}

// IDRange 用于按指定 id 插入片段
type IDRange struct {
	ID    ExcerptID
	Range ExcerptRange
}

// Anchor 是组合文档中的位置：所属片段 + 源 buffer 内的文本锚点。
// BufferID 在解码时由片段反查得到，片段不存在时为 nil。
type Anchor struct {
	ExcerptID ExcerptID
	Text      text.Anchor
	BufferID  *uint64
}

type AnchorRange struct {
	Start Anchor
	End   Anchor
}

func MinAnchor() Anchor { return Anchor{ExcerptID: MinExcerptID, Text: text.MinAnchor} }
func MaxAnchor() Anchor { return Anchor{ExcerptID: MaxExcerptID, Text: text.MaxAnchor} }

// Event 是多 buffer 结构变化的通知
type Event interface {
	multiBufferEvent()
}

// ExcerptsAdded：Excerpts 紧跟在 Predecessor 之后，且来自同一个 buffer
type ExcerptsAdded struct {
	BufferID    uint64
	Predecessor ExcerptID
	Excerpts    []IDRange
}

type ExcerptsRemoved struct {
	IDs []ExcerptID
}

func (ExcerptsAdded) multiBufferEvent()   {}
func (ExcerptsRemoved) multiBufferEvent() {}
