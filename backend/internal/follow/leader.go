package follow

import (
	"context"
	"sync"
	"time"

	"followServer/backend/internal/editor"
	"followServer/backend/internal/proto"
)

// Leader 订阅一个视图的事件，合并成增量更新，按固定节奏交给 send
type Leader struct {
	ed          *editor.Editor
	mu          sync.Mutex
	pending     PendingUpdate
	// sendMu 串行化 Run 的“取出并发送”与 Attach
	sendMu      sync.Mutex
	unsubscribe func()
}

func NewLeader(ed *editor.Editor) *Leader {
	l := &Leader{ed: ed}
	l.unsubscribe = ed.Subscribe(l.onEvent)
	return l
}

func (l *Leader) onEvent(evt editor.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pending.AddEvent(l.ed, evt)
}

// Flush 取出目前为止合并好的更新
func (l *Leader) Flush() (*proto.UpdateView, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending.Take()
}

// Run 每隔 interval 发送一次合并后的更新，直到 ctx 结束或 send 出错
func (l *Leader) Run(ctx context.Context, interval time.Duration, send func(*proto.UpdateView) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.flushTo(send); err != nil {
				return err
			}
		}
	}
}

func (l *Leader) flushTo(send func(*proto.UpdateView) error) error {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	if msg, ok := l.Flush(); ok {
		return send(msg)
	}
	return nil
}

// Attach 在两次发送之间拍下视图的完整快照并交给 join。
// 快照之后的变化仍留在 pending 中，由下一次发送带给 join 登记的新成员；
// 快照之前已入 pending 的变化会被重复发送，应用端对此是幂等的。
func (l *Leader) Attach(join func(state proto.ViewState)) {
	l.sendMu.Lock()
	defer l.sendMu.Unlock()
	join(ToStateProto(l.ed))
}

func (l *Leader) Close() {
	l.unsubscribe()
}
