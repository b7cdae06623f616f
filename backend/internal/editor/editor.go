package editor

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"followServer/backend/internal/multibuffer"
	"followServer/backend/internal/ot/delta"
	"followServer/backend/internal/text"
)

var ErrBufferNotInView = errors.New("BUFFER_NOT_IN_VIEW")

var nextEditorID atomic.Uint64

// Editor 是一个打开的视图：组合文档 + 选区 + 滚动位置
type Editor struct {
	id     uint64
	buffer *multibuffer.MultiBuffer

	mu              sync.RWMutex
	selections      []Selection
	pending         *Selection
	nextSelectionID uint64
	scroll          ScrollAnchor
	autoscroll      *Autoscroll
	remoteID        *ViewID
	leaderPeerID    string
	released        bool

	listenerMu   sync.Mutex
	listeners    []listener
	nextListener int
	unsubscribe  func()
}

type listener struct {
	id int
	fn func(Event)
}

// New 创建视图，初始光标在文档开头
func New(buffer *multibuffer.MultiBuffer) *Editor {
	start := buffer.Snapshot().AnchorAt(0, text.BiasLeft)
	e := &Editor{
		id:              nextEditorID.Add(1),
		buffer:          buffer,
		selections:      []Selection{{ID: 0, Start: start, End: start}},
		nextSelectionID: 1,
		scroll:          ScrollAnchor{Anchor: multibuffer.MinAnchor()},
	}
	e.unsubscribe = buffer.Subscribe(e.onBufferEvent)
	return e
}

func (e *Editor) onBufferEvent(evt multibuffer.Event) {
	switch evt := evt.(type) {
	case multibuffer.ExcerptsAdded:
		e.emit(ExcerptsAdded{BufferID: evt.BufferID, Predecessor: evt.Predecessor, Excerpts: evt.Excerpts})
	case multibuffer.ExcerptsRemoved:
		e.emit(ExcerptsRemoved{IDs: evt.IDs})
	default:
	}
}

func (e *Editor) ID() uint64                       { return e.id }
func (e *Editor) Buffer() *multibuffer.MultiBuffer { return e.buffer }

func (e *Editor) RemoteID() (ViewID, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.remoteID == nil {
		return ViewID{}, false
	}
	return *e.remoteID, true
}

func (e *Editor) SetRemoteID(id ViewID) {
	e.mu.Lock()
	e.remoteID = &id
	e.mu.Unlock()
}

func (e *Editor) LeaderPeerID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.leaderPeerID
}

// SetLeaderPeerID 标记视图正在跟随某个参与者，空串表示不再跟随
func (e *Editor) SetLeaderPeerID(peer string) {
	e.mu.Lock()
	e.leaderPeerID = peer
	e.mu.Unlock()
}

func (e *Editor) IsAlive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.released
}

// Release 关闭视图。之后挂起中的同步流程在恢复时会放弃。
func (e *Editor) Release() {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	e.released = true
	e.mu.Unlock()

	e.unsubscribe()
	e.emit(Closed{})
}

func (e *Editor) Selections() []Selection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.selections)
}

func (e *Editor) PendingSelection() (Selection, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pending == nil {
		return Selection{}, false
	}
	return *e.pending, true
}

// NewestSelection 返回 id 最大的选区（含 pending）
func (e *Editor) NewestSelection() Selection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var newest Selection
	found := false
	for _, s := range e.selections {
		if !found || s.ID > newest.ID {
			newest, found = s, true
		}
	}
	if e.pending != nil && (!found || e.pending.ID > newest.ID) {
		newest = *e.pending
	}
	return newest
}

// SelectRanges 用本地操作替换全部选区
func (e *Editor) SelectRanges(ranges []multibuffer.AnchorRange) {
	snapshot := e.buffer.Snapshot()
	e.mu.Lock()
	sels := make([]Selection, 0, len(ranges))
	for _, r := range ranges {
		s := Selection{ID: e.nextSelectionID, Start: r.Start, End: r.End}
		e.nextSelectionID++
		if snapshot.CompareAnchors(s.Start, s.End) > 0 {
			s.Start, s.End, s.Reversed = s.End, s.Start, true
		}
		sels = append(sels, s)
	}
	slices.SortStableFunc(sels, func(a, b Selection) int { return snapshot.CompareAnchors(a.Start, b.Start) })
	e.selections = mergeOverlapping(snapshot, sels)
	e.pending = nil
	e.mu.Unlock()

	e.emit(SelectionsChanged{Local: true})
}

// mergeOverlapping 合并有重叠的选区，保证已提交选区互不相交
func mergeOverlapping(snapshot *multibuffer.Snapshot, sels []Selection) []Selection {
	out := sels[:0]
	for _, s := range sels {
		if n := len(out); n > 0 && snapshot.CompareAnchors(s.Start, out[n-1].End) < 0 {
			last := &out[n-1]
			if snapshot.CompareAnchors(s.End, last.End) > 0 {
				last.End = s.End
			}
			last.ID = max(last.ID, s.ID)
			continue
		}
		out = append(out, s)
	}
	return out
}

// SetPendingSelection 记录一次进行中的拖选（本地）
func (e *Editor) SetPendingSelection(start, end multibuffer.Anchor, reversed bool) {
	e.mu.Lock()
	e.pending = &Selection{ID: e.nextSelectionID, Start: start, End: end, Reversed: reversed}
	e.nextSelectionID++
	e.mu.Unlock()

	e.emit(SelectionsChanged{Local: true})
}

// SetSelectionsFromRemote 安装领导者的选区，保留对方的 id
func (e *Editor) SetSelectionsFromRemote(selections []Selection, pending *Selection) {
	e.mu.Lock()
	e.selections = slices.Clone(selections)
	e.pending = nil
	if pending != nil {
		p := *pending
		e.pending = &p
	}
	for _, s := range e.selections {
		e.nextSelectionID = max(e.nextSelectionID, s.ID+1)
	}
	if e.pending != nil {
		e.nextSelectionID = max(e.nextSelectionID, e.pending.ID+1)
	}
	e.mu.Unlock()

	e.emit(SelectionsChanged{Local: false})
}

// RequestAutoscrollRemotely 请求渲染层把最新选区滚入视口
func (e *Editor) RequestAutoscrollRemotely(a Autoscroll) {
	e.mu.Lock()
	e.autoscroll = &a
	e.mu.Unlock()

	e.emit(ScrollPositionChanged{Local: false, Autoscroll: true})
}

// TakeAutoscrollRequest 取走挂起的自动滚动请求
func (e *Editor) TakeAutoscrollRequest() (Autoscroll, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.autoscroll == nil {
		return 0, false
	}
	a := *e.autoscroll
	e.autoscroll = nil
	return a, true
}

func (e *Editor) ScrollAnchor() ScrollAnchor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.scroll
}

func (e *Editor) SetScrollAnchor(a ScrollAnchor) {
	e.setScrollAnchor(a, true)
}

func (e *Editor) SetScrollAnchorRemote(a ScrollAnchor) {
	e.setScrollAnchor(a, false)
}

func (e *Editor) setScrollAnchor(a ScrollAnchor, local bool) {
	e.mu.Lock()
	e.scroll = a
	e.mu.Unlock()

	e.emit(ScrollPositionChanged{Local: local})
}

// Edit 对视图中的某个 buffer 做本地编辑
func (e *Editor) Edit(bufferID uint64, ops delta.Delta) error {
	buf, ok := e.buffer.Buffer(bufferID)
	if !ok {
		return ErrBufferNotInView
	}
	if _, err := buf.Edit(ops); err != nil {
		return err
	}
	e.emit(BufferEdited{})
	e.emit(Edited{})
	return nil
}

// Subscribe 注册事件回调，返回取消函数
func (e *Editor) Subscribe(fn func(Event)) func() {
	e.listenerMu.Lock()
	id := e.nextListener
	e.nextListener++
	e.listeners = append(e.listeners, listener{id: id, fn: fn})
	e.listenerMu.Unlock()

	return func() {
		e.listenerMu.Lock()
		defer e.listenerMu.Unlock()
		e.listeners = slices.DeleteFunc(e.listeners, func(l listener) bool { return l.id == id })
	}
}

func (e *Editor) emit(evt Event) {
	e.listenerMu.Lock()
	ls := slices.Clone(e.listeners)
	e.listenerMu.Unlock()
	for _, l := range ls {
		l.fn(evt)
	}
}
