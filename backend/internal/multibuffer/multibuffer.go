package multibuffer

import (
	"context"
	"slices"
	"sync"

	"followServer/backend/internal/text"
)

// MultiBuffer 把多个源 buffer 中的片段按顺序拼成一个文档
type MultiBuffer struct {
	mu        sync.RWMutex
	nextID    ExcerptID
	singleton bool
	title     string
	excerpts  []Excerpt
	// bufferID -> buffer，只包含仍被片段引用的 buffer
	buffers map[uint64]*text.Buffer

	listenerMu   sync.Mutex
	listeners    []listener
	nextListener int
}

type listener struct {
	id int
	fn func(Event)
}

func New() *MultiBuffer {
	return &MultiBuffer{nextID: 1, buffers: make(map[uint64]*text.Buffer)}
}

// Singleton 包装单个 buffer：一个覆盖全文的片段，id 为 1
func Singleton(buf *text.Buffer) *MultiBuffer {
	return SingletonWithID(buf, 1)
}

func SingletonWithID(buf *text.Buffer, id ExcerptID) *MultiBuffer {
	mb := New()
	mb.singleton = true
	mb.excerpts = []Excerpt{{
		ID:       id,
		BufferID: buf.ID(),
		Range:    ExcerptRange{Context: Range{Start: text.MinAnchor, End: text.MaxAnchor}},
	}}
	mb.buffers[buf.ID()] = buf
	mb.nextID = id + 1
	return mb
}

func (mb *MultiBuffer) IsSingleton() bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.singleton
}

// AsSingleton 返回单 buffer 文档底下的那个 buffer
func (mb *MultiBuffer) AsSingleton() (*text.Buffer, bool) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if !mb.singleton || len(mb.excerpts) == 0 {
		return nil, false
	}
	buf, ok := mb.buffers[mb.excerpts[0].BufferID]
	return buf, ok
}

func (mb *MultiBuffer) Title() string {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.title == "" {
		return "untitled"
	}
	return mb.title
}

func (mb *MultiBuffer) SetTitle(title string) {
	mb.mu.Lock()
	mb.title = title
	mb.mu.Unlock()
}

func (mb *MultiBuffer) Buffer(id uint64) (*text.Buffer, bool) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	buf, ok := mb.buffers[id]
	return buf, ok
}

func (mb *MultiBuffer) Excerpts() []Excerpt {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return slices.Clone(mb.excerpts)
}

// PushExcerpts 在末尾追加片段，分配新的 id
func (mb *MultiBuffer) PushExcerpts(buf *text.Buffer, ranges []ExcerptRange) []ExcerptID {
	if len(ranges) == 0 {
		return nil
	}
	mb.mu.Lock()
	predecessor := MinExcerptID
	if n := len(mb.excerpts); n > 0 {
		predecessor = mb.excerpts[n-1].ID
	}
	items := make([]IDRange, 0, len(ranges))
	for _, r := range ranges {
		items = append(items, IDRange{ID: mb.nextID, Range: r})
		mb.nextID++
	}
	evt := mb.insertLocked(len(mb.excerpts), predecessor, buf, items)
	mb.mu.Unlock()

	mb.emit(evt)
	ids := make([]ExcerptID, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

// InsertExcerptsWithIDsAfter 把片段（保持给定 id）插到 prev 之后。
// prev 为 MinExcerptID 时插到开头；prev 不存在时追加到末尾。
// 已存在的 id 会被跳过，所以重复应用同一批插入没有副作用。
func (mb *MultiBuffer) InsertExcerptsWithIDsAfter(prev ExcerptID, buf *text.Buffer, excerpts []IDRange) {
	mb.mu.Lock()
	pos := len(mb.excerpts)
	if prev == MinExcerptID {
		pos = 0
	} else if i := mb.indexLocked(prev); i >= 0 {
		pos = i + 1
	}

	fresh := make([]IDRange, 0, len(excerpts))
	for _, e := range excerpts {
		if e.ID == MinExcerptID || e.ID == MaxExcerptID || mb.indexLocked(e.ID) >= 0 {
			continue
		}
		fresh = append(fresh, e)
		if e.ID >= mb.nextID {
			mb.nextID = e.ID + 1
		}
	}
	if len(fresh) == 0 {
		mb.mu.Unlock()
		return
	}
	evt := mb.insertLocked(pos, prev, buf, fresh)
	mb.mu.Unlock()

	mb.emit(evt)
}

func (mb *MultiBuffer) insertLocked(pos int, predecessor ExcerptID, buf *text.Buffer, items []IDRange) ExcerptsAdded {
	mb.buffers[buf.ID()] = buf
	added := make([]Excerpt, 0, len(items))
	for _, it := range items {
		added = append(added, Excerpt{ID: it.ID, BufferID: buf.ID(), Range: it.Range})
	}
	mb.excerpts = slices.Insert(mb.excerpts, pos, added...)
	return ExcerptsAdded{BufferID: buf.ID(), Predecessor: predecessor, Excerpts: items}
}

// RemoveExcerpts 按给定顺序删除片段，不存在的 id 忽略
func (mb *MultiBuffer) RemoveExcerpts(ids []ExcerptID) {
	mb.mu.Lock()
	removed := make([]ExcerptID, 0, len(ids))
	for _, id := range ids {
		i := mb.indexLocked(id)
		if i < 0 {
			continue
		}
		mb.excerpts = slices.Delete(mb.excerpts, i, i+1)
		removed = append(removed, id)
	}
	// 清理不再被引用的 buffer
	for bufID := range mb.buffers {
		if !slices.ContainsFunc(mb.excerpts, func(e Excerpt) bool { return e.BufferID == bufID }) {
			delete(mb.buffers, bufID)
		}
	}
	mb.mu.Unlock()

	if len(removed) > 0 {
		mb.emit(ExcerptsRemoved{IDs: removed})
	}
}

func (mb *MultiBuffer) indexLocked(id ExcerptID) int {
	return slices.IndexFunc(mb.excerpts, func(e Excerpt) bool { return e.ID == id })
}

func (mb *MultiBuffer) Snapshot() *Snapshot {
	mb.mu.RLock()
	excerpts := slices.Clone(mb.excerpts)
	buffers := make(map[uint64]*text.Buffer, len(mb.buffers))
	for id, b := range mb.buffers {
		buffers[id] = b
	}
	singleton := mb.singleton
	mb.mu.RUnlock()

	snaps := make(map[uint64]*text.Snapshot, len(buffers))
	for id, b := range buffers {
		snaps[id] = b.Snapshot()
	}
	return newSnapshot(singleton, excerpts, snaps)
}

// WaitForAnchors 等待所有锚点依赖的 buffer 操作都已到达。
// 片段或 buffer 未知的锚点不参与等待。等待期间不持有任何锁。
func (mb *MultiBuffer) WaitForAnchors(ctx context.Context, anchors []Anchor) error {
	type target struct {
		buf *text.Buffer
		rev uint64
	}
	targets := make(map[uint64]*target)

	mb.mu.RLock()
	for _, a := range anchors {
		if a.ExcerptID == MinExcerptID || a.ExcerptID == MaxExcerptID {
			continue
		}
		var bufID uint64
		if a.BufferID != nil {
			bufID = *a.BufferID
		} else if i := mb.indexLocked(a.ExcerptID); i >= 0 {
			bufID = mb.excerpts[i].BufferID
		} else {
			continue
		}
		buf, ok := mb.buffers[bufID]
		if !ok {
			continue
		}
		t := targets[bufID]
		if t == nil {
			t = &target{buf: buf}
			targets[bufID] = t
		}
		t.rev = max(t.rev, a.Text.Revision)
	}
	mb.mu.RUnlock()

	for _, t := range targets {
		if err := t.buf.WaitForRevision(ctx, t.rev); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe 注册结构变化回调，返回取消函数。回调在锁外同步调用。
func (mb *MultiBuffer) Subscribe(fn func(Event)) func() {
	mb.listenerMu.Lock()
	id := mb.nextListener
	mb.nextListener++
	mb.listeners = append(mb.listeners, listener{id: id, fn: fn})
	mb.listenerMu.Unlock()

	return func() {
		mb.listenerMu.Lock()
		defer mb.listenerMu.Unlock()
		mb.listeners = slices.DeleteFunc(mb.listeners, func(l listener) bool { return l.id == id })
	}
}

func (mb *MultiBuffer) emit(evt Event) {
	mb.listenerMu.Lock()
	ls := slices.Clone(mb.listeners)
	mb.listenerMu.Unlock()
	for _, l := range ls {
		l.fn(evt)
	}
}
