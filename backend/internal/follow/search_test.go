package follow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"followServer/backend/internal/editor"
	"followServer/backend/internal/multibuffer"
	"followServer/backend/internal/text"
)

func searchFixture(t *testing.T) (*editor.Editor, []multibuffer.AnchorRange, *multibuffer.Snapshot) {
	t.Helper()
	buf := text.NewBuffer(1, "foo bar foo baz foo qux foo zap foo", 0)
	ed := editor.New(multibuffer.Singleton(buf))
	snapshot := ed.Buffer().Snapshot()
	matches, err := FindMatches(context.Background(), snapshot, Query{Text: "foo"})
	require.NoError(t, err)
	require.Len(t, matches, 5)
	return ed, matches, snapshot
}

func TestFindMatches(t *testing.T) {
	_, matches, snapshot := searchFixture(t)
	var starts []int
	for _, m := range matches {
		off, ok := snapshot.Offset(m.Start)
		require.True(t, ok)
		starts = append(starts, off)
	}
	require.Equal(t, []int{0, 8, 16, 24, 32}, starts)

	upper, err := FindMatches(context.Background(), snapshot, Query{Text: "FOO"})
	require.NoError(t, err)
	require.Len(t, upper, 5)

	strict, err := FindMatches(context.Background(), snapshot, Query{Text: "FOO", CaseSensitive: true})
	require.NoError(t, err)
	require.Empty(t, strict)

	re, err := FindMatches(context.Background(), snapshot, Query{Text: "ba[rz]", Regex: true})
	require.NoError(t, err)
	require.Len(t, re, 2)

	_, err = FindMatches(context.Background(), snapshot, Query{Text: "(", Regex: true})
	require.Error(t, err)

	// 非正则查询里的元字符按字面匹配
	literal, err := FindMatches(context.Background(), snapshot, Query{Text: "o.b"})
	require.NoError(t, err)
	require.Empty(t, literal)
}

func TestFindMatches_StaysInsideExcerpts(t *testing.T) {
	a := text.NewBuffer(1, "abc", 0)
	b := text.NewBuffer(2, "def", 0)
	mb := multibuffer.New()
	mb.PushExcerpts(a, []multibuffer.ExcerptRange{rangeOf(a, 0, 3)})
	mb.PushExcerpts(b, []multibuffer.ExcerptRange{rangeOf(b, 0, 3)})
	snapshot := mb.Snapshot()

	matches, err := FindMatches(context.Background(), snapshot, Query{Text: "c\nd"})
	require.NoError(t, err)
	require.Empty(t, matches)

	matches, err = FindMatches(context.Background(), snapshot, Query{Text: "e"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, multibuffer.ExcerptID(2), matches[0].Start.ExcerptID)
}

func TestActiveMatchIndex(t *testing.T) {
	_, matches, snapshot := searchFixture(t)

	_, ok := ActiveMatchIndex(nil, snapshot.AnchorAt(0, text.BiasLeft), snapshot)
	require.False(t, ok)

	// 光标落在第三个匹配的末尾
	i, ok := ActiveMatchIndex(matches, snapshot.AnchorAt(19, text.BiasLeft), snapshot)
	require.True(t, ok)
	require.Equal(t, 2, i)

	// 两个匹配之间取后一个
	i, _ = ActiveMatchIndex(matches, snapshot.AnchorAt(5, text.BiasLeft), snapshot)
	require.Equal(t, 1, i)

	// 所有匹配之后取最后一个
	tail := text.NewBuffer(2, "foo bar", 0)
	tailSnap := multibuffer.Singleton(tail).Snapshot()
	tailMatches, err := FindMatches(context.Background(), tailSnap, Query{Text: "foo"})
	require.NoError(t, err)
	i, ok = ActiveMatchIndex(tailMatches, tailSnap.AnchorAt(6, text.BiasLeft), tailSnap)
	require.True(t, ok)
	require.Equal(t, 0, i)
}

func TestMatchIndexForDirection_NextFromActive(t *testing.T) {
	_, matches, snapshot := searchFixture(t)
	cursor := snapshot.AnchorAt(19, text.BiasLeft)

	current, ok := ActiveMatchIndex(matches, cursor, snapshot)
	require.True(t, ok)
	next, ok := MatchIndexForDirection(matches, current, DirectionNext, 1, cursor, snapshot)
	require.True(t, ok)
	require.Equal(t, 3, next)

	// 环绕
	next, _ = MatchIndexForDirection(matches, 4, DirectionNext, 1, matches[4].Start, snapshot)
	require.Equal(t, 0, next)
	prev, _ := MatchIndexForDirection(matches, 0, DirectionPrev, 1, matches[0].Start, snapshot)
	require.Equal(t, 4, prev)
}

func TestMatchIndexForDirection_FirstStepLandsOnCurrent(t *testing.T) {
	_, matches, snapshot := searchFixture(t)

	// 光标在第一个匹配之前，向后一步仍是第一个
	before := snapshot.AnchorAt(0, text.BiasLeft)
	buf := text.NewBuffer(9, "xx foo yy foo zz", 0)
	snap := multibuffer.Singleton(buf).Snapshot()
	ms, err := FindMatches(context.Background(), snap, Query{Text: "foo"})
	require.NoError(t, err)
	got, _ := MatchIndexForDirection(ms, 0, DirectionNext, 1, snap.AnchorAt(0, text.BiasLeft), snap)
	require.Equal(t, 0, got)

	// 光标在最后一个匹配之后，向前一步仍是最后一个
	got, _ = MatchIndexForDirection(ms, 1, DirectionPrev, 1, snap.AnchorAt(16, text.BiasRight), snap)
	require.Equal(t, 1, got)

	_, ok := MatchIndexForDirection(nil, 0, DirectionNext, 1, before, snapshot)
	require.False(t, ok)
	got, ok = MatchIndexForDirection(matches, 2, DirectionNext, 0, before, snapshot)
	require.True(t, ok)
	require.Equal(t, 2, got)
}

func TestMatchIndexForDirection_ForwardThenBackward(t *testing.T) {
	_, matches, snapshot := searchFixture(t)
	n := len(matches)
	for current := 0; current < n; current++ {
		for count := 1; count < n; count++ {
			fwd, ok := MatchIndexForDirection(matches, current, DirectionNext, count, matches[current].Start, snapshot)
			require.True(t, ok)
			back, ok := MatchIndexForDirection(matches, fwd, DirectionPrev, count, matches[fwd].Start, snapshot)
			require.True(t, ok)
			require.Equalf(t, current, back, "current=%d count=%d fwd=%d", current, count, fwd)
		}
	}
}

func TestSearchPosition(t *testing.T) {
	ed, matches, snapshot := searchFixture(t)

	ed.SelectRanges([]multibuffer.AnchorRange{{Start: snapshot.AnchorAt(5, text.BiasLeft), End: snapshot.AnchorAt(6, text.BiasLeft)}})
	require.Equal(t, ed.NewestSelection().Head(), SearchPosition(ed, matches, 2))

	SelectMatches(ed, matches)
	require.Len(t, ed.Selections(), 5)
	require.Equal(t, matches[2].Start, SearchPosition(ed, matches, 2))
}

func TestActivateMatchAndSearchEvents(t *testing.T) {
	ed, matches, _ := searchFixture(t)

	var events []SearchEvent
	ed.Subscribe(func(evt editor.Event) {
		if se, ok := ToSearchEvent(ed, evt); ok {
			events = append(events, se)
		}
	})

	ActivateMatch(ed, matches, 1)
	sels := ed.Selections()
	require.Len(t, sels, 1)
	require.Equal(t, matches[1].Start, sels[0].Start)
	require.Equal(t, matches[1].End, sels[0].End)

	SelectMatches(ed, matches)
	require.NoError(t, ed.Edit(1, nil))
	ActivateMatch(ed, matches, 9)

	require.Equal(t, []SearchEvent{SearchActiveMatchChanged, SearchMatchesInvalidated}, events)
}

func TestCursorPositionOf(t *testing.T) {
	buf := text.NewBuffer(1, "ab\ncd", 0)
	ed := editor.New(multibuffer.Singleton(buf))

	pos, ok := CursorPositionOf(ed)
	require.True(t, ok)
	require.Equal(t, "1:1", pos.String())

	snapshot := ed.Buffer().Snapshot()
	ed.SelectRanges([]multibuffer.AnchorRange{{Start: snapshot.AnchorAt(1, text.BiasLeft), End: snapshot.AnchorAt(4, text.BiasLeft)}})
	pos, ok = CursorPositionOf(ed)
	require.True(t, ok)
	require.Equal(t, CursorPosition{Row: 2, Column: 2, Selected: 3}, pos)
	require.Equal(t, "2:2 (3 selected)", pos.String())
}
