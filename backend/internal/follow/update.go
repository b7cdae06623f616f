package follow

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"followServer/backend/internal/editor"
	"followServer/backend/internal/multibuffer"
	"followServer/backend/internal/proto"
)

var ErrViewReleased = errors.New("VIEW_RELEASED")

// PendingUpdate 把一段时间内的视图事件合并成一条 UpdateView，由调用方按自己的节奏 Take。
// 不是并发安全的。
type PendingUpdate struct {
	msg *proto.UpdateView
}

func (p *PendingUpdate) ensure() *proto.UpdateView {
	if p.msg == nil {
		p.msg = &proto.UpdateView{}
	}
	return p.msg
}

// AddEvent 把事件并入待发送的更新，事件与同步无关时返回 false
func (p *PendingUpdate) AddEvent(ed *editor.Editor, evt editor.Event) bool {
	switch evt := evt.(type) {
	case editor.ExcerptsAdded:
		u := p.ensure()
		prev := evt.Predecessor.ToProto()
		for i, e := range evt.Excerpts {
			excerpt := SerializeExcerpt(evt.BufferID, e.ID, e.Range)
			ins := proto.ExcerptInsertion{Excerpt: &excerpt}
			// 只有一串插入的第一条带前驱，后面的紧跟前一条
			if i == 0 {
				ins.PreviousExcerptID = &prev
			}
			u.InsertedExcerpts = append(u.InsertedExcerpts, ins)
		}
		return true

	case editor.ExcerptsRemoved:
		u := p.ensure()
		for _, id := range evt.IDs {
			if !slices.Contains(u.DeletedExcerpts, id.ToProto()) {
				u.DeletedExcerpts = append(u.DeletedExcerpts, id.ToProto())
			}
		}
		return true

	case editor.ScrollPositionChanged:
		u := p.ensure()
		scroll := ed.ScrollAnchor()
		u.ScrollTopAnchor = SerializeAnchor(scroll.Anchor)
		u.ScrollX = scroll.OffsetX
		u.ScrollY = scroll.OffsetY
		return true

	case editor.SelectionsChanged:
		u := p.ensure()
		sels := ed.Selections()
		u.Selections = make([]proto.Selection, 0, len(sels))
		for _, s := range sels {
			u.Selections = append(u.Selections, SerializeSelection(s))
		}
		u.PendingSelection = nil
		if ps, ok := ed.PendingSelection(); ok {
			sel := SerializeSelection(ps)
			u.PendingSelection = &sel
		}
		return true

	default:
		return false
	}
}

// Take 取出合并好的更新并重置
func (p *PendingUpdate) Take() (*proto.UpdateView, bool) {
	msg := p.msg
	p.msg = nil
	return msg, msg != nil
}

func (p *PendingUpdate) IsEmpty() bool { return p.msg == nil }

// ApplyUpdateProto 把领导者的一次增量更新应用到跟随者的视图上。
// 同一视图的多次调用必须串行。
func ApplyUpdateProto(ctx context.Context, ed *editor.Editor, opener BufferOpener, msg *proto.UpdateView) error {
	return updateEditorFromMessage(ctx, ed, opener, msg)
}

func updateEditorFromMessage(ctx context.Context, ed *editor.Editor, opener BufferOpener, msg *proto.UpdateView) error {
	if !ed.IsAlive() {
		return ErrViewReleased
	}
	// 视图关闭时取消挂起中的等待
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unsubscribe := ed.Subscribe(func(evt editor.Event) {
		if _, ok := evt.(editor.Closed); ok {
			cancel()
		}
	})
	defer unsubscribe()

	// 1. 先拿到所有新片段引用的 buffer，期间不改动文档
	var ids []uint64
	for _, ins := range msg.InsertedExcerpts {
		if ins.Excerpt != nil && !slices.Contains(ids, ins.Excerpt.BufferID) {
			ids = append(ids, ins.Excerpt.BufferID)
		}
	}
	if _, err := opener.OpenBuffers(ctx, ids); err != nil {
		if !ed.IsAlive() {
			return ErrViewReleased
		}
		return fmt.Errorf("open buffers: %w", err)
	}
	if !ed.IsAlive() {
		return ErrViewReleased
	}

	// 2. 片段增删。删除按本地文档顺序排序，与到达顺序无关
	mb := ed.Buffer()
	snapshot := mb.Snapshot()
	removed := make([]multibuffer.ExcerptID, 0, len(msg.DeletedExcerpts))
	for _, id := range msg.DeletedExcerpts {
		removed = append(removed, multibuffer.ExcerptIDFromProto(id))
	}
	slices.SortStableFunc(removed, snapshot.CompareExcerptIDs)

	insertions := msg.InsertedExcerpts
	for i := 0; i < len(insertions); {
		ins := insertions[i]
		i++
		if ins.Excerpt == nil || ins.PreviousExcerptID == nil {
			continue
		}
		bufID := ins.Excerpt.BufferID
		buf, ok := opener.BufferForID(bufID)
		if !ok {
			continue
		}
		run := []proto.Excerpt{*ins.Excerpt}
		for i < len(insertions) && insertions[i].PreviousExcerptID == nil &&
			insertions[i].Excerpt != nil && insertions[i].Excerpt.BufferID == bufID {
			run = append(run, *insertions[i].Excerpt)
			i++
		}
		items := make([]multibuffer.IDRange, 0, len(run))
		for _, e := range run {
			if r, ok := DeserializeExcerptRange(e); ok {
				items = append(items, multibuffer.IDRange{ID: multibuffer.ExcerptIDFromProto(e.ID), Range: r})
			}
		}
		mb.InsertExcerptsWithIDsAfter(multibuffer.ExcerptIDFromProto(*ins.PreviousExcerptID), buf, items)
	}
	mb.RemoveExcerpts(removed)

	// 3. 在更新后的文档上解码选区与滚动锚点，解不出的直接丢弃
	snapshot = mb.Snapshot()
	var anchors []multibuffer.Anchor
	selections := make([]editor.Selection, 0, len(msg.Selections))
	for _, p := range msg.Selections {
		if s, ok := DeserializeSelection(snapshot, p); ok {
			selections = append(selections, s)
			anchors = append(anchors, s.Start, s.End)
		}
	}
	var pending *editor.Selection
	if msg.PendingSelection != nil {
		if s, ok := DeserializeSelection(snapshot, *msg.PendingSelection); ok {
			pending = &s
			anchors = append(anchors, s.Start, s.End)
		}
	}
	var scroll *multibuffer.Anchor
	if msg.ScrollTopAnchor != nil {
		if a, ok := DeserializeAnchor(snapshot, msg.ScrollTopAnchor); ok {
			scroll = &a
			anchors = append(anchors, a)
		}
	}

	// 4. 等文本层追上锚点依赖的操作
	if err := mb.WaitForAnchors(ctx, anchors); err != nil {
		if !ed.IsAlive() {
			return ErrViewReleased
		}
		return err
	}
	if !ed.IsAlive() {
		return ErrViewReleased
	}

	// 5. 有选区就装选区并自动滚动到最新选区；否则才用滚动锚点
	if len(selections) > 0 || pending != nil {
		ed.SetSelectionsFromRemote(selections, pending)
		ed.RequestAutoscrollRemotely(editor.AutoscrollNewest)
	} else if scroll != nil {
		ed.SetScrollAnchorRemote(editor.ScrollAnchor{Anchor: *scroll, OffsetX: msg.ScrollX, OffsetY: msg.ScrollY})
	}
	return nil
}

// ShouldUnfollowOnEvent：本地编辑总是终止跟随；选区或滚动变化只有本地发起时才终止
func ShouldUnfollowOnEvent(evt editor.Event) bool {
	switch evt := evt.(type) {
	case editor.Edited:
		return true
	case editor.SelectionsChanged:
		return evt.Local
	case editor.ScrollPositionChanged:
		return evt.Local
	default:
		return false
	}
}
