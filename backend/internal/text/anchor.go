package text

import (
	"math"

	"followServer/backend/internal/ot/delta"
)

// Bias 决定锚点在其位置发生插入时停在插入文本的哪一侧
type Bias int

const (
	BiasLeft Bias = iota
	BiasRight
)

// MaxOffset 表示“文本末尾”，解析时钳制到当前长度
const MaxOffset = math.MaxInt32

// Anchor 是绑定在某个 revision 上的文本位置。
// 只有当 buffer 已经收到 Revision 及之前的全部操作时才能解析。
type Anchor struct {
	Revision uint64
	Offset   int
	Bias     Bias
}

var (
	MinAnchor = Anchor{Revision: 0, Offset: 0, Bias: BiasLeft}
	MaxAnchor = Anchor{Revision: 0, Offset: MaxOffset, Bias: BiasRight}
)

// Point 是 0 起始的行列坐标（列按 rune 计）
type Point struct {
	Row    int
	Column int
}

type revisionOps struct {
	revision uint64
	ops      delta.Delta
}

// resolveOffset 把 a 的 offset 经过 a.Revision 之后的全部历史变换到最新位置。
// floor 之前的历史已被丢弃，此时退化为直接钳制 offset。
func resolveOffset(a Anchor, history []revisionOps, floor uint64, length int) int {
	if a.Offset >= MaxOffset {
		return length
	}
	pos := a.Offset
	if a.Revision >= floor {
		for _, h := range history {
			if h.revision <= a.Revision {
				continue
			}
			pos = h.ops.TransformPosition(pos, a.Bias == BiasRight)
		}
	}
	return clamp(pos, 0, length)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
