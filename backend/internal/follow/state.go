package follow

import (
	"context"
	"fmt"

	"followServer/backend/internal/editor"
	"followServer/backend/internal/multibuffer"
	"followServer/backend/internal/proto"
	"followServer/backend/internal/text"
)

// BufferOpener 是文档管理方：按 id 打开源 buffer
type BufferOpener interface {
	// OpenBuffers 并发打开全部 buffer，任一失败即整体失败
	OpenBuffers(ctx context.Context, ids []uint64) ([]*text.Buffer, error)
	// BufferForID 只查已打开的 buffer，不会挂起
	BufferForID(id uint64) (*text.Buffer, bool)
}

// ToStateProto 生成视图的完整快照
func ToStateProto(ed *editor.Editor) proto.ViewState {
	mb := ed.Buffer()
	snapshot := mb.Snapshot()

	state := proto.ViewState{Singleton: snapshot.IsSingleton()}
	if !state.Singleton {
		title := mb.Title()
		state.Title = &title
	}
	state.Excerpts = make([]proto.Excerpt, 0, snapshot.ExcerptCount())
	for _, e := range snapshot.Excerpts() {
		state.Excerpts = append(state.Excerpts, SerializeExcerpt(e.BufferID, e.ID, e.Range))
	}

	scroll := ed.ScrollAnchor()
	state.ScrollTopAnchor = SerializeAnchor(scroll.Anchor)
	state.ScrollX = scroll.OffsetX
	state.ScrollY = scroll.OffsetY

	sels := ed.Selections()
	state.Selections = make([]proto.Selection, 0, len(sels))
	for _, s := range sels {
		state.Selections = append(state.Selections, SerializeSelection(s))
	}
	if p, ok := ed.PendingSelection(); ok {
		ps := SerializeSelection(p)
		state.PendingSelection = &ps
	}
	return state
}

// FromStateProto 根据快照得到一个视图：能复用已登记的就复用，否则新建并登记，
// 最后通过增量更新的路径安装选区与滚动位置。reg 为 nil 时总是新建且不登记。
// 安装失败时，本次新建的视图会被注销并释放。
func FromStateProto(ctx context.Context, reg *Registry, opener BufferOpener, remoteID editor.ViewID, state proto.ViewState) (*editor.Editor, error) {
	ed, created, err := OpenStateView(ctx, reg, opener, remoteID, state)
	if err != nil {
		return nil, err
	}
	if err := updateEditorFromMessage(ctx, ed, opener, StateUpdate(state)); err != nil {
		if created {
			if reg != nil {
				reg.Remove(ed)
			}
			ed.Release()
		}
		return nil, err
	}
	return ed, nil
}

// OpenStateView 只做快照物化的前半段：打开 buffer 并按片段建出（或复用）视图，
// 不等待锚点。created 表示视图是本次新建的。
func OpenStateView(ctx context.Context, reg *Registry, opener BufferOpener, remoteID editor.ViewID, state proto.ViewState) (ed *editor.Editor, created bool, err error) {
	var ids []uint64
	seen := make(map[uint64]struct{})
	for _, e := range state.Excerpts {
		if _, ok := seen[e.BufferID]; !ok {
			seen[e.BufferID] = struct{}{}
			ids = append(ids, e.BufferID)
		}
	}
	buffers, err := opener.OpenBuffers(ctx, ids)
	if err != nil {
		return nil, false, fmt.Errorf("open buffers: %w", err)
	}

	var singleton *text.Buffer
	if state.Singleton && len(buffers) == 1 {
		singleton = buffers[0]
	}

	if reg != nil {
		if ed, ok := reg.Find(remoteID, singleton); ok {
			return ed, false, nil
		}
	}
	ed = editor.New(buildMultiBuffer(opener, state, singleton))
	ed.SetRemoteID(remoteID)
	if reg != nil {
		reg.Add(ed)
	}
	return ed, true, nil
}

// StateUpdate 取出快照里的选区与滚动部分，形状与增量更新相同
func StateUpdate(state proto.ViewState) *proto.UpdateView {
	return &proto.UpdateView{
		ScrollTopAnchor:  state.ScrollTopAnchor,
		ScrollX:          state.ScrollX,
		ScrollY:          state.ScrollY,
		Selections:       state.Selections,
		PendingSelection: state.PendingSelection,
	}
}

func buildMultiBuffer(opener BufferOpener, state proto.ViewState, singleton *text.Buffer) *multibuffer.MultiBuffer {
	if singleton != nil {
		id := multibuffer.ExcerptID(1)
		if len(state.Excerpts) > 0 {
			id = multibuffer.ExcerptIDFromProto(state.Excerpts[0].ID)
		}
		return multibuffer.SingletonWithID(singleton, id)
	}

	mb := multibuffer.New()
	if state.Title != nil {
		mb.SetTitle(*state.Title)
	}
	// 相邻且同一 buffer 的片段作为一批插入，保持领导者的片段 id
	prev := multibuffer.MinExcerptID
	for i := 0; i < len(state.Excerpts); {
		bufID := state.Excerpts[i].BufferID
		var items []multibuffer.IDRange
		for ; i < len(state.Excerpts) && state.Excerpts[i].BufferID == bufID; i++ {
			r, ok := DeserializeExcerptRange(state.Excerpts[i])
			if !ok {
				continue
			}
			items = append(items, multibuffer.IDRange{ID: multibuffer.ExcerptIDFromProto(state.Excerpts[i].ID), Range: r})
		}
		buf, ok := opener.BufferForID(bufID)
		if !ok || len(items) == 0 {
			continue
		}
		mb.InsertExcerptsWithIDsAfter(prev, buf, items)
		prev = items[len(items)-1].ID
	}
	return mb
}
