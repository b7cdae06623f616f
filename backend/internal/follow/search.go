package follow

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"unicode/utf8"

	"followServer/backend/internal/editor"
	"followServer/backend/internal/multibuffer"
	"followServer/backend/internal/text"
)

type Direction int

const (
	DirectionNext Direction = iota
	DirectionPrev
)

// ActiveMatchIndex 二分查找光标所在（或之后最近）的匹配项。
// 光标在所有匹配之后时返回最后一项；没有匹配时返回 ok=false。
func ActiveMatchIndex(matches []multibuffer.AnchorRange, cursor multibuffer.Anchor, snapshot *multibuffer.Snapshot) (int, bool) {
	if len(matches) == 0 {
		return 0, false
	}
	i, _ := slices.BinarySearchFunc(matches, cursor, func(probe multibuffer.AnchorRange, cursor multibuffer.Anchor) int {
		if snapshot.CompareAnchors(probe.End, cursor) < 0 {
			return -1
		}
		if snapshot.CompareAnchors(probe.Start, cursor) > 0 {
			return 1
		}
		return 0
	})
	return min(i, len(matches)-1), true
}

// MatchIndexForDirection 从 current 出发按方向走 count 步（环绕）。
// 如果 position 还没到达 current（向后时在其起点之前，向前时在其终点之后），
// 第一步落在 current 本身。
func MatchIndexForDirection(matches []multibuffer.AnchorRange, current int, dir Direction, count int, position multibuffer.Anchor, snapshot *multibuffer.Snapshot) (int, bool) {
	n := len(matches)
	if n == 0 || current < 0 || current >= n {
		return current, false
	}
	if count <= 0 {
		return current, true
	}
	count %= n
	if count == 0 {
		return current, true
	}

	switch dir {
	case DirectionNext:
		if snapshot.CompareAnchors(matches[current].Start, position) > 0 {
			count--
		}
		return (current + count) % n, true
	default:
		if snapshot.CompareAnchors(matches[current].End, position) < 0 {
			count--
		}
		if current >= count {
			return current - count, true
		}
		return n - (count - current), true
	}
}

// SearchPosition：只有一个选区时用最新选区的光标，否则用当前匹配的起点
func SearchPosition(ed *editor.Editor, matches []multibuffer.AnchorRange, current int) multibuffer.Anchor {
	if len(ed.Selections()) == 1 || current < 0 || current >= len(matches) {
		return ed.NewestSelection().Head()
	}
	return matches[current].Start
}

type Query struct {
	Text          string
	Regex         bool
	CaseSensitive bool
}

// FindMatches 在每个片段的上下文文本中查找，结果按文档顺序排列，不跨片段匹配
func FindMatches(ctx context.Context, snapshot *multibuffer.Snapshot, q Query) ([]multibuffer.AnchorRange, error) {
	if q.Text == "" {
		return nil, nil
	}
	pattern := q.Text
	if !q.Regex {
		pattern = regexp.QuoteMeta(pattern)
	}
	if !q.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile query %q: %w", q.Text, err)
	}

	var out []multibuffer.AnchorRange
	for i := 0; i < snapshot.ExcerptCount(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start, end := snapshot.ExcerptSpan(i)
		content := snapshot.Slice(start, end)
		for _, loc := range re.FindAllStringIndex(content, -1) {
			if loc[0] == loc[1] {
				continue
			}
			from := start + utf8.RuneCountInString(content[:loc[0]])
			to := start + utf8.RuneCountInString(content[:loc[1]])
			out = append(out, multibuffer.AnchorRange{
				Start: snapshot.AnchorAt(from, text.BiasRight),
				End:   snapshot.AnchorAt(to, text.BiasLeft),
			})
		}
	}
	return out, nil
}

// ActivateMatch 选中第 index 个匹配
func ActivateMatch(ed *editor.Editor, matches []multibuffer.AnchorRange, index int) {
	if index < 0 || index >= len(matches) {
		return
	}
	ed.SelectRanges([]multibuffer.AnchorRange{matches[index]})
}

// SelectMatches 选中全部匹配
func SelectMatches(ed *editor.Editor, matches []multibuffer.AnchorRange) {
	if len(matches) == 0 {
		return
	}
	ed.SelectRanges(matches)
}

type SearchEvent int

const (
	SearchMatchesInvalidated SearchEvent = iota
	SearchActiveMatchChanged
)

// ToSearchEvent 把视图事件翻译为搜索面板关心的事件
func ToSearchEvent(ed *editor.Editor, evt editor.Event) (SearchEvent, bool) {
	switch evt.(type) {
	case editor.BufferEdited:
		return SearchMatchesInvalidated, true
	case editor.SelectionsChanged:
		if len(ed.Selections()) == 1 {
			return SearchActiveMatchChanged, true
		}
		return 0, false
	default:
		return 0, false
	}
}
