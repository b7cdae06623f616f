package multibuffer

import (
	"cmp"
	"sort"

	"followServer/backend/internal/text"
)

// Snapshot 是 MultiBuffer 的不可变视图，锚点比较与解析都基于它
type Snapshot struct {
	singleton bool
	excerpts  []Excerpt
	index     map[ExcerptID]int
	buffers   map[uint64]*text.Snapshot
	// 组合文档：每个片段的上下文文本，片段之间用 '\n' 分隔
	starts  []int
	bounds  [][2]int
	content []rune
}

func newSnapshot(singleton bool, excerpts []Excerpt, buffers map[uint64]*text.Snapshot) *Snapshot {
	s := &Snapshot{
		singleton: singleton,
		excerpts:  excerpts,
		index:     make(map[ExcerptID]int, len(excerpts)),
		buffers:   buffers,
		starts:    make([]int, len(excerpts)),
		bounds:    make([][2]int, len(excerpts)),
	}
	for i, e := range excerpts {
		s.index[e.ID] = i
		if i > 0 {
			s.content = append(s.content, '\n')
		}
		s.starts[i] = len(s.content)
		buf, ok := buffers[e.BufferID]
		if !ok {
			continue
		}
		start, _ := buf.Resolve(e.Range.Context.Start)
		end, _ := buf.Resolve(e.Range.Context.End)
		end = max(start, end)
		s.bounds[i] = [2]int{start, end}
		s.content = append(s.content, []rune(buf.Slice(start, end))...)
	}
	return s
}

func (s *Snapshot) IsSingleton() bool       { return s.singleton }
func (s *Snapshot) Excerpts() []Excerpt     { return s.excerpts }
func (s *Snapshot) Len() int                { return len(s.content) }
func (s *Snapshot) Text() string            { return string(s.content) }
func (s *Snapshot) ExcerptCount() int       { return len(s.excerpts) }
func (s *Snapshot) ExcerptAt(i int) Excerpt { return s.excerpts[i] }

func (s *Snapshot) ExcerptIndex(id ExcerptID) (int, bool) {
	i, ok := s.index[id]
	return i, ok
}

func (s *Snapshot) BufferIDForExcerpt(id ExcerptID) (uint64, bool) {
	i, ok := s.index[id]
	if !ok {
		return 0, false
	}
	return s.excerpts[i].BufferID, true
}

func (s *Snapshot) BufferSnapshot(bufferID uint64) (*text.Snapshot, bool) {
	b, ok := s.buffers[bufferID]
	return b, ok
}

// CompareExcerptIDs 按片段在本快照中的位置排序。
// Min 最前，Max 最后；不在快照中的 id 排在所有现存片段之后，彼此按数值排序。
func (s *Snapshot) CompareExcerptIDs(a, b ExcerptID) int {
	if a == b {
		return 0
	}
	switch {
	case a == MinExcerptID || b == MaxExcerptID:
		return -1
	case a == MaxExcerptID || b == MinExcerptID:
		return 1
	}
	ia, okA := s.index[a]
	ib, okB := s.index[b]
	switch {
	case okA && okB:
		return cmp.Compare(ia, ib)
	case okA:
		return -1
	case okB:
		return 1
	default:
		return cmp.Compare(a, b)
	}
}

// CompareAnchors：先比片段位置，同一片段内再比源 buffer 中解析后的 offset。
// 同一片段、同一 offset 的两个锚点相等，不看 revision、bias 等其它字段。
func (s *Snapshot) CompareAnchors(a, b Anchor) int {
	if c := s.CompareExcerptIDs(a.ExcerptID, b.ExcerptID); c != 0 {
		return c
	}
	return cmp.Compare(s.bufferOffset(a), s.bufferOffset(b))
}

// bufferOffset 返回锚点在源 buffer 中的 offset，无法解析时退回原始 offset
func (s *Snapshot) bufferOffset(a Anchor) int {
	if bufID, ok := s.BufferIDForExcerpt(a.ExcerptID); ok {
		if buf, ok := s.buffers[bufID]; ok {
			if off, ok := buf.Resolve(a.Text); ok {
				return off
			}
		}
	}
	return a.Text.Offset
}

// CanResolve：片段存在，且 buffer 已收到锚点依赖的全部操作
func (s *Snapshot) CanResolve(a Anchor) bool {
	if a.ExcerptID == MinExcerptID || a.ExcerptID == MaxExcerptID {
		return true
	}
	bufID, ok := s.BufferIDForExcerpt(a.ExcerptID)
	if !ok {
		return false
	}
	buf, ok := s.buffers[bufID]
	return ok && buf.CanResolve(a.Text)
}

// Offset 把锚点解析为组合文档中的 offset，钳制在所属片段的上下文范围内
func (s *Snapshot) Offset(a Anchor) (int, bool) {
	switch a.ExcerptID {
	case MinExcerptID:
		return 0, true
	case MaxExcerptID:
		return len(s.content), true
	}
	i, ok := s.index[a.ExcerptID]
	if !ok {
		return 0, false
	}
	buf, ok := s.buffers[s.excerpts[i].BufferID]
	if !ok {
		return 0, false
	}
	off, ok := buf.Resolve(a.Text)
	if !ok {
		return 0, false
	}
	lo, hi := s.bounds[i][0], s.bounds[i][1]
	off = min(max(off, lo), hi)
	return s.starts[i] + off - lo, true
}

// AnchorAt 为组合文档 offset 创建锚点；落在分隔符上时归到前一个片段末尾
func (s *Snapshot) AnchorAt(offset int, bias text.Bias) Anchor {
	if len(s.excerpts) == 0 {
		return MinAnchor()
	}
	offset = min(max(offset, 0), len(s.content))
	i := sort.Search(len(s.starts), func(i int) bool { return s.starts[i] > offset }) - 1
	i = max(i, 0)
	e := s.excerpts[i]
	lo, hi := s.bounds[i][0], s.bounds[i][1]
	bufOff := min(lo+offset-s.starts[i], hi)
	bufID := e.BufferID
	a := Anchor{ExcerptID: e.ID, BufferID: &bufID}
	if buf, ok := s.buffers[e.BufferID]; ok {
		a.Text = buf.AnchorAt(bufOff, bias)
	} else {
		a.Text = text.Anchor{Offset: bufOff, Bias: bias}
	}
	return a
}

// Slice 返回组合文档 [start, end) 的文本
func (s *Snapshot) Slice(start, end int) string {
	start = min(max(start, 0), len(s.content))
	end = min(max(end, start), len(s.content))
	return string(s.content[start:end])
}

// ExcerptSpan 返回片段在组合文档中的 [start, end)
func (s *Snapshot) ExcerptSpan(i int) (int, int) {
	return s.starts[i], s.starts[i] + s.bounds[i][1] - s.bounds[i][0]
}

func (s *Snapshot) OffsetToPoint(offset int) text.Point {
	offset = min(max(offset, 0), len(s.content))
	var p text.Point
	for _, r := range s.content[:offset] {
		if r == '\n' {
			p.Row++
			p.Column = 0
		} else {
			p.Column++
		}
	}
	return p
}

// ClipPoint 把行列坐标钳制到文档内并返回 offset
func (s *Snapshot) ClipPoint(p text.Point) int {
	if p.Row < 0 {
		return 0
	}
	row, lineStart := 0, 0
	for i, r := range s.content {
		if row == p.Row {
			break
		}
		if r == '\n' {
			row++
			lineStart = i + 1
		}
	}
	if row < p.Row {
		return len(s.content)
	}
	lineEnd := lineStart
	for lineEnd < len(s.content) && s.content[lineEnd] != '\n' {
		lineEnd++
	}
	return min(lineStart+max(p.Column, 0), lineEnd)
}
