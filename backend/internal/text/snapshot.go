package text

// Snapshot 是 Buffer 在某个 revision 上的只读视图
type Snapshot struct {
	id       uint64
	revision uint64
	floor    uint64
	history  []revisionOps
	text     []rune
}

func (s *Snapshot) ID() uint64       { return s.id }
func (s *Snapshot) Revision() uint64 { return s.revision }
func (s *Snapshot) Len() int         { return len(s.text) }
func (s *Snapshot) Text() string     { return string(s.text) }

// Slice 返回 [start, end) 的文本，越界部分被钳制
func (s *Snapshot) Slice(start, end int) string {
	start = clamp(start, 0, len(s.text))
	end = clamp(end, start, len(s.text))
	return string(s.text[start:end])
}

func (s *Snapshot) CanResolve(a Anchor) bool {
	return a.Revision <= s.revision
}

func (s *Snapshot) Resolve(a Anchor) (int, bool) {
	if !s.CanResolve(a) {
		return 0, false
	}
	return resolveOffset(a, s.history, s.floor, len(s.text)), true
}

func (s *Snapshot) AnchorAt(offset int, bias Bias) Anchor {
	return Anchor{Revision: s.revision, Offset: clamp(offset, 0, len(s.text)), Bias: bias}
}

func (s *Snapshot) ClipOffset(offset int) int {
	return clamp(offset, 0, len(s.text))
}

func (s *Snapshot) OffsetToPoint(offset int) Point {
	offset = s.ClipOffset(offset)
	var p Point
	for _, r := range s.text[:offset] {
		if r == '\n' {
			p.Row++
			p.Column = 0
		} else {
			p.Column++
		}
	}
	return p
}

// PointToOffset 把行列坐标转换为 offset，超出行尾时钳制到行尾
func (s *Snapshot) PointToOffset(p Point) int {
	row := 0
	for i, r := range s.text {
		if row == p.Row {
			lineEnd := i
			for lineEnd < len(s.text) && s.text[lineEnd] != '\n' {
				lineEnd++
			}
			return min(i+max(p.Column, 0), lineEnd)
		}
		if r == '\n' {
			row++
		}
	}
	return len(s.text)
}
