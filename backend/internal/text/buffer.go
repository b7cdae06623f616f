package text

import (
	"context"
	"errors"
	"sync"

	"followServer/backend/internal/ot/delta"
)

var (
	ErrRevisionGap  = errors.New("REVISION_GAP")
	ErrInvalidDelta = errors.New("INVALID_DELTA")
)

const defaultHistoryCap = 4096

// Buffer 是一个源文档的本地副本。revision 线性递增，每个 revision 对应一个 delta。
// 远端操作可能晚于引用它们的锚点到达，WaitForRevision 用于等待追平。
type Buffer struct {
	mu       sync.RWMutex
	id       uint64
	content  *PieceTable
	revision uint64
	// floor 之后的 revision 都保留在 history 中
	floor      uint64
	history    []revisionOps
	historyCap int
	// 每推进一次 revision 就关闭并替换，唤醒所有等待者
	changed chan struct{}
}

func NewBuffer(id uint64, initial string, revision uint64) *Buffer {
	return &Buffer{
		id:         id,
		content:    NewPieceTable(initial),
		revision:   revision,
		floor:      revision,
		historyCap: defaultHistoryCap,
		changed:    make(chan struct{}),
	}
}

func (b *Buffer) ID() uint64 { return b.id }

func (b *Buffer) Revision() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.revision
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.content.Len()
}

func (b *Buffer) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.content.String()
}

// ApplyRevision 应用远端的第 rev 个操作。
// 已经应用过的 revision 直接忽略（at-least-once 投递），跳号返回 ErrRevisionGap。
func (b *Buffer) ApplyRevision(rev uint64, ops delta.Delta) (bool, error) {
	b.mu.Lock()
	if rev <= b.revision {
		b.mu.Unlock()
		return false, nil
	}
	if rev != b.revision+1 {
		b.mu.Unlock()
		return false, ErrRevisionGap
	}
	err := b.applyLocked(ops)
	b.mu.Unlock()
	return err == nil, err
}

// Edit 应用本地编辑，返回新的 revision
func (b *Buffer) Edit(ops delta.Delta) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.applyLocked(ops); err != nil {
		return 0, err
	}
	return b.revision, nil
}

func (b *Buffer) applyLocked(ops delta.Delta) error {
	if !ops.Validate() || spanOf(ops) > b.content.Len() {
		return ErrInvalidDelta
	}
	if err := b.content.Apply(ops); err != nil {
		return err
	}
	b.revision++
	b.history = append(b.history, revisionOps{revision: b.revision, ops: ops})
	if b.historyCap > 0 && len(b.history) > b.historyCap {
		// 只重新切片，不原地搬移：已发出的 Snapshot 仍引用旧底层数组
		b.history = b.history[1:]
		b.floor = b.history[0].revision - 1
	}
	close(b.changed)
	b.changed = make(chan struct{})
	return nil
}

// spanOf 返回 delta 在旧文本上消耗的长度
func spanOf(ops delta.Delta) int {
	n := 0
	for _, op := range ops {
		if op.Kind == delta.KindRetain || op.Kind == delta.KindDelete {
			n += op.Count
		}
	}
	return n
}

// AnchorAt 在当前 revision 上创建锚点
func (b *Buffer) AnchorAt(offset int, bias Bias) Anchor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Anchor{Revision: b.revision, Offset: clamp(offset, 0, b.content.Len()), Bias: bias}
}

func (b *Buffer) CanResolve(a Anchor) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return a.Revision <= b.revision
}

func (b *Buffer) Resolve(a Anchor) (int, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if a.Revision > b.revision {
		return 0, false
	}
	return resolveOffset(a, b.history, b.floor, b.content.Len()), true
}

// WaitForRevision 阻塞直到 buffer 追平到 rev，或 ctx 结束。没有自己的超时。
func (b *Buffer) WaitForRevision(ctx context.Context, rev uint64) error {
	for {
		b.mu.RLock()
		if b.revision >= rev {
			b.mu.RUnlock()
			return nil
		}
		ch := b.changed
		b.mu.RUnlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Buffer) Snapshot() *Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return &Snapshot{
		id:       b.id,
		revision: b.revision,
		floor:    b.floor,
		history:  b.history[:len(b.history):len(b.history)],
		text:     b.content.Runes(),
	}
}
