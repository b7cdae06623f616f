package follow

import (
	"slices"
	"sync"

	"followServer/backend/internal/editor"
	"followServer/backend/internal/text"
)

// Registry 记录已打开的视图，供快照物化时复用：
// 按远端身份精确查找，或按单 buffer 视图的 buffer id 查找。
type Registry struct {
	mu          sync.RWMutex
	byRemote    map[editor.ViewID]*editor.Editor
	bySingleton map[uint64][]*editor.Editor
}

func NewRegistry() *Registry {
	return &Registry{
		byRemote:    make(map[editor.ViewID]*editor.Editor),
		bySingleton: make(map[uint64][]*editor.Editor),
	}
}

// Add 登记视图；视图关闭时自动注销
func (r *Registry) Add(ed *editor.Editor) {
	r.mu.Lock()
	if id, ok := ed.RemoteID(); ok {
		r.byRemote[id] = ed
	}
	if buf, ok := ed.Buffer().AsSingleton(); ok {
		r.bySingleton[buf.ID()] = append(r.bySingleton[buf.ID()], ed)
	}
	r.mu.Unlock()

	ed.Subscribe(func(evt editor.Event) {
		if _, ok := evt.(editor.Closed); ok {
			r.Remove(ed)
		}
	})
}

func (r *Registry) Remove(ed *editor.Editor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := ed.RemoteID(); ok && r.byRemote[id] == ed {
		delete(r.byRemote, id)
	}
	for bufID, eds := range r.bySingleton {
		eds = slices.DeleteFunc(eds, func(e *editor.Editor) bool { return e == ed })
		if len(eds) == 0 {
			delete(r.bySingleton, bufID)
		} else {
			r.bySingleton[bufID] = eds
		}
	}
}

func (r *Registry) ByRemoteID(id editor.ViewID) (*editor.Editor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ed, ok := r.byRemote[id]
	return ed, ok
}

// Find 先按远端身份找；singleton 不为 nil 时再找包装同一 buffer 的单 buffer 视图
func (r *Registry) Find(id editor.ViewID, singleton *text.Buffer) (*editor.Editor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ed, ok := r.byRemote[id]; ok && ed.IsAlive() {
		return ed, true
	}
	if singleton == nil {
		return nil, false
	}
	for _, ed := range r.bySingleton[singleton.ID()] {
		if ed.IsAlive() {
			return ed, true
		}
	}
	return nil, false
}
