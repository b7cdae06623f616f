package collab

import (
	"context"

	"followServer/backend/internal/editor"
	"followServer/backend/internal/follow"
)

type SearchMatch struct {
	Start  int `json:"start"`
	End    int `json:"end"`
	Row    int `json:"row"`
	Column int `json:"column"`
}

// SearchResult 中的下标都指向 Matches；没有匹配时为 -1
type SearchResult struct {
	Matches []SearchMatch `json:"matches"`
	Active  int           `json:"active"`
	Next    int           `json:"next"`
	Prev    int           `json:"prev"`
}

// Search 在镜像上查找，并以领导者的光标定出当前匹配和前后一项
func (s *InMemoryService) Search(ctx context.Context, id editor.ViewID, q follow.Query) (SearchResult, error) {
	m, ok := s.mirror(id)
	if !ok {
		return SearchResult{}, ErrViewNotFound
	}
	snapshot := m.ed.Buffer().Snapshot()
	matches, err := follow.FindMatches(ctx, snapshot, q)
	if err != nil {
		return SearchResult{}, err
	}

	res := SearchResult{Matches: make([]SearchMatch, 0, len(matches)), Active: -1, Next: -1, Prev: -1}
	for _, r := range matches {
		start, _ := snapshot.Offset(r.Start)
		end, _ := snapshot.Offset(r.End)
		p := snapshot.OffsetToPoint(start)
		res.Matches = append(res.Matches, SearchMatch{Start: start, End: end, Row: p.Row + 1, Column: p.Column + 1})
	}

	active, ok := follow.ActiveMatchIndex(matches, m.ed.NewestSelection().Head(), snapshot)
	if !ok {
		return res, nil
	}
	res.Active = active
	pos := follow.SearchPosition(m.ed, matches, active)
	res.Next, _ = follow.MatchIndexForDirection(matches, active, follow.DirectionNext, 1, pos, snapshot)
	res.Prev, _ = follow.MatchIndexForDirection(matches, active, follow.DirectionPrev, 1, pos, snapshot)
	return res, nil
}
