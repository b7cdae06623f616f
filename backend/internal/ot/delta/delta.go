package delta

import "unicode/utf8"

type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

type Op struct {
	Kind  Kind           `json:"kind"`            // "retain" / "insert" / "delete"
	Count int            `json:"count,omitempty"` // retain/delete 的长度
	Text  string         `json:"text,omitempty"`  // insert 的文本
	Attrs map[string]any `json:"attrs,omitempty"` // 样式属性（粗体/颜色等）
}

type Delta []Op

// "ops":[{"kind":"retain","count":5},{"kind":"insert","text":"Hello"}]

// TransformPosition 把旧文档中的位置 pos 映射到应用 d 之后的新文档中。
// 恰好落在插入点上的位置：stickRight=true 时移到插入文本之后，否则留在插入文本之前。
// 落在被删除区间内的位置收缩到删除起点。
func (d Delta) TransformPosition(pos int, stickRight bool) int {
	res := pos
	// 旧文档中的游标
	base := 0
	for _, op := range d {
		if base > pos {
			break
		}
		switch op.Kind {
		case KindRetain:
			base += op.Count
		case KindInsert:
			n := utf8.RuneCountInString(op.Text)
			if base < pos || (base == pos && stickRight) {
				res += n
			}
		case KindDelete:
			if base < pos {
				removed := op.Count
				if pos-base < removed {
					removed = pos - base
				}
				res -= removed
			}
			base += op.Count
		}
	}
	return res
}

// Validate 检查 op 是否合法（长度非负、insert 非空）
func (d Delta) Validate() bool {
	for _, op := range d {
		switch op.Kind {
		case KindRetain, KindDelete:
			if op.Count < 0 {
				return false
			}
		case KindInsert:
			if op.Text == "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}
