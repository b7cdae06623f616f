package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"followServer/backend/internal/cache"
	"followServer/backend/internal/editor"
	"followServer/backend/internal/follow"
	"followServer/backend/internal/metrics"
	"followServer/backend/internal/ot/delta"
	"followServer/backend/internal/project"
	"followServer/backend/internal/proto"
	"followServer/backend/internal/store"
	"followServer/backend/internal/text"
)

// 跟随服务：领导者推送视图快照与增量，服务端为每个视图维护一份镜像，
// 镜像的变化再合并成增量转发给跟随者。
type Service interface {
	CreateView(ctx context.Context, leaderPeer string, id editor.ViewID, state proto.ViewState) error
	// UpdateView 只入队，由视图自己的 worker 串行应用
	UpdateView(ctx context.Context, id editor.ViewID, msg *proto.UpdateView) error
	ViewState(ctx context.Context, id editor.ViewID) (proto.ViewState, error)
	// FollowView 拍下完整状态并调用 join，期间镜像不会发出增量：
	// join 里登记的接收方不会错过快照之后的任何变化
	FollowView(ctx context.Context, id editor.ViewID, join func(state proto.ViewState, leaderPeer string)) error
	CloseView(ctx context.Context, id editor.ViewID) error

	// SubmitOps 应用 buffer 的第 revision 个操作；重复提交返回 false
	SubmitOps(ctx context.Context, authorPeer string, bufferID, revision uint64, ops delta.Delta) (bool, error)

	// Flush 立即取出镜像尚未转发的合并增量
	Flush(id editor.ViewID) (*proto.UpdateView, bool)
	Views() []editor.ViewID
	ViewsWithBuffer(bufferID uint64) []editor.ViewID
	LeaderOf(id editor.ViewID) (string, bool)
	CursorPosition(id editor.ViewID) (follow.CursorPosition, bool)
	Search(ctx context.Context, id editor.ViewID, q follow.Query) (SearchResult, error)

	SetBroadcaster(fn Broadcaster)
	Close()
}

// Broadcaster 收到镜像的合并增量，负责发给该视图的跟随者
type Broadcaster func(id editor.ViewID, msg *proto.UpdateView)

type BufferSaver interface {
	SaveBuffer(ctx context.Context, snap *text.Snapshot) error
}

type SnapshotStore interface {
	SaveBufferSnapshot(ctx context.Context, bufferID, rev uint64, content string) error
}

type ItemSaver interface {
	SaveItem(ctx context.Context, it store.Item) error
}

// Deps 都是可选的，为 nil 时跳过对应的持久化/上报
type Deps struct {
	Buffers    BufferSaver
	Snapshots  SnapshotStore
	Items      ItemSaver
	Presence   cache.FollowPresence
	Dispatcher *KafkaDispatcher
}

type Options struct {
	QueueSize     int           // 每个视图待应用更新的上限
	FlushInterval time.Duration // 镜像增量的合并周期
	SnapshotEvery uint64        // 每隔多少个 revision 存一次历史快照，0 表示不存
	PresenceTTL   time.Duration
	MaxSubmits    int // 并发 SubmitOps 上限
}

var (
	ErrViewNotFound = errors.New("VIEW_NOT_FOUND")
	ErrViewExists   = errors.New("VIEW_EXISTS")
	ErrQueueFull    = errors.New("QUEUE_FULL")
)

type mirror struct {
	id         editor.ViewID
	leaderPeer string
	ed         *editor.Editor
	leader     *follow.Leader
	queue      chan *proto.UpdateView
	cancel     context.CancelFunc
	done       chan struct{}
}

type InMemoryService struct {
	mu        sync.RWMutex
	mirrors   map[editor.ViewID]*mirror
	broadcast Broadcaster

	project   *project.Project
	submitSem *SemaphoreControl
	deps      Deps
	opt       Options

	ctx    context.Context
	cancel context.CancelFunc
}

func NewInMemoryService(proj *project.Project, deps Deps, opt Options) Service {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 64
	}
	if opt.FlushInterval <= 0 {
		opt.FlushInterval = 50 * time.Millisecond
	}
	if opt.PresenceTTL <= 0 {
		opt.PresenceTTL = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryService{
		mirrors:   make(map[editor.ViewID]*mirror),
		project:   proj,
		submitSem: NewSemaphoreControl(opt.MaxSubmits),
		deps:      deps,
		opt:       opt,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ViewKey 是视图在 redis/Kafka/URL 中的字符串形式：creator/id
func ViewKey(id editor.ViewID) string {
	return id.Creator + "/" + strconv.FormatUint(id.ID, 10)
}

func ParseViewKey(key string) (editor.ViewID, error) {
	i := strings.LastIndexByte(key, '/')
	if i <= 0 {
		return editor.ViewID{}, fmt.Errorf("bad view key %q", key)
	}
	id, err := strconv.ParseUint(key[i+1:], 10, 64)
	if err != nil {
		return editor.ViewID{}, fmt.Errorf("bad view key %q: %w", key, err)
	}
	return editor.ViewID{Creator: key[:i], ID: id}, nil
}

func (s *InMemoryService) SetBroadcaster(fn Broadcaster) {
	s.mu.Lock()
	s.broadcast = fn
	s.mu.Unlock()
}

func (s *InMemoryService) mirror(id editor.ViewID) (*mirror, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.mirrors[id]
	return m, ok
}

func (s *InMemoryService) CreateView(ctx context.Context, leaderPeer string, id editor.ViewID, state proto.ViewState) error {
	if _, ok := s.mirror(id); ok {
		return ErrViewExists
	}
	// 服务端的镜像之间不复用，每个视图一个。选区与滚动可能引用领导者尚未提交的
	// revision，交给镜像自己的 applyLoop 去等，这里不能挂起调用方
	ed, _, err := follow.OpenStateView(ctx, nil, s.project, id, state)
	if err != nil {
		return err
	}
	ed.SetLeaderPeerID(leaderPeer)

	mctx, cancel := context.WithCancel(s.ctx)
	m := &mirror{
		id:         id,
		leaderPeer: leaderPeer,
		ed:         ed,
		leader:     follow.NewLeader(ed),
		queue:      make(chan *proto.UpdateView, s.opt.QueueSize),
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	if _, ok := s.mirrors[id]; ok {
		s.mu.Unlock()
		cancel()
		m.leader.Close()
		ed.Release()
		return ErrViewExists
	}
	s.mirrors[id] = m
	s.mu.Unlock()

	go s.applyLoop(mctx, m, follow.StateUpdate(state))
	go s.flushLoop(mctx, m)
	metrics.ActiveViews.Inc()

	s.publishCursor(ctx, m)
	s.audit(ViewUpdateEvent{
		EventType:  "VIEW_CREATED",
		View:       follow.SerializeViewID(id),
		LeaderPeer: leaderPeer,
		Inserted:   len(state.Excerpts),
		Selections: len(state.Selections),
	})
	log.Printf("view created view=%s leader=%s excerpts=%d", ViewKey(id), leaderPeer, len(state.Excerpts))
	return nil
}

func (s *InMemoryService) UpdateView(ctx context.Context, id editor.ViewID, msg *proto.UpdateView) error {
	m, ok := s.mirror(id)
	if !ok {
		return ErrViewNotFound
	}
	select {
	case m.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// applyLoop 先安装创建时快照里的选区与滚动，再串行应用同一视图的更新；视图关闭时退出
func (s *InMemoryService) applyLoop(ctx context.Context, m *mirror, initial *proto.UpdateView) {
	defer close(m.done)
	if !s.apply(ctx, m, initial) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-m.queue:
			if !s.apply(ctx, m, msg) {
				return
			}
		}
	}
}

// apply 返回 false 表示视图已释放，worker 应退出
func (s *InMemoryService) apply(ctx context.Context, m *mirror, msg *proto.UpdateView) bool {
	start := time.Now()
	err := follow.ApplyUpdateProto(ctx, m.ed, s.project, msg)
	metrics.ApplyDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.UpdatesApplied.WithLabelValues("ok").Inc()
		s.publishCursor(ctx, m)
		s.audit(ViewUpdateEvent{
			EventType:  "VIEW_UPDATED",
			View:       follow.SerializeViewID(m.id),
			LeaderPeer: m.leaderPeer,
			Inserted:   len(msg.InsertedExcerpts),
			Deleted:    len(msg.DeletedExcerpts),
			Selections: len(msg.Selections),
		})
	case errors.Is(err, follow.ErrViewReleased) || ctx.Err() != nil:
		metrics.UpdatesApplied.WithLabelValues("released").Inc()
		return false
	default:
		metrics.UpdatesApplied.WithLabelValues("failed").Inc()
		log.Printf("apply update failed view=%s err=%v", ViewKey(m.id), err)
	}
	return true
}

func (s *InMemoryService) flushLoop(ctx context.Context, m *mirror) {
	_ = m.leader.Run(ctx, s.opt.FlushInterval, func(u *proto.UpdateView) error {
		s.mu.RLock()
		b := s.broadcast
		s.mu.RUnlock()
		if b != nil {
			b(m.id, u)
		}
		return nil
	})
}

func (s *InMemoryService) ViewState(ctx context.Context, id editor.ViewID) (proto.ViewState, error) {
	m, ok := s.mirror(id)
	if !ok {
		return proto.ViewState{}, ErrViewNotFound
	}
	return follow.ToStateProto(m.ed), nil
}

func (s *InMemoryService) FollowView(ctx context.Context, id editor.ViewID, join func(state proto.ViewState, leaderPeer string)) error {
	m, ok := s.mirror(id)
	if !ok {
		return ErrViewNotFound
	}
	m.leader.Attach(func(state proto.ViewState) { join(state, m.leaderPeer) })
	return nil
}

func (s *InMemoryService) CloseView(ctx context.Context, id editor.ViewID) error {
	s.mu.Lock()
	m, ok := s.mirrors[id]
	delete(s.mirrors, id)
	s.mu.Unlock()
	if !ok {
		return ErrViewNotFound
	}

	s.persistMirror(ctx, m)
	s.stopMirror(m)
	metrics.ActiveViews.Dec()

	if s.deps.Presence != nil {
		if err := s.deps.Presence.RemoveView(ctx, ViewKey(id)); err != nil {
			log.Printf("remove view presence failed view=%s err=%v", ViewKey(id), err)
		}
	}
	s.audit(ViewUpdateEvent{EventType: "VIEW_CLOSED", View: follow.SerializeViewID(id), LeaderPeer: m.leaderPeer})
	log.Printf("view closed view=%s", ViewKey(id))
	return nil
}

// stopMirror 先释放视图让挂起的应用放弃，再等 worker 退出
func (s *InMemoryService) stopMirror(m *mirror) {
	m.ed.Release()
	m.cancel()
	m.leader.Close()
	<-m.done
}

// persistMirror 保存镜像引用的 buffer 内容；单 buffer 视图额外记下滚动行
func (s *InMemoryService) persistMirror(ctx context.Context, m *mirror) {
	mb := m.ed.Buffer()
	if s.deps.Buffers != nil {
		seen := make(map[uint64]struct{})
		for _, e := range mb.Excerpts() {
			if _, ok := seen[e.BufferID]; ok {
				continue
			}
			seen[e.BufferID] = struct{}{}
			buf, ok := mb.Buffer(e.BufferID)
			if !ok {
				continue
			}
			if err := s.deps.Buffers.SaveBuffer(ctx, buf.Snapshot()); err != nil {
				log.Printf("save buffer failed buffer=%d err=%v", e.BufferID, err)
			}
		}
	}

	buf, ok := mb.AsSingleton()
	if !ok || s.deps.Items == nil {
		return
	}
	snapshot := mb.Snapshot()
	row := 0
	if off, ok := snapshot.Offset(m.ed.ScrollAnchor().Anchor); ok {
		row = snapshot.OffsetToPoint(off).Row
	}
	it := store.Item{Workspace: m.id.Creator, ItemID: m.id.ID, BufferID: buf.ID(), ScrollRow: row}
	if err := s.deps.Items.SaveItem(ctx, it); err != nil {
		log.Printf("save item failed view=%s err=%v", ViewKey(m.id), err)
	}
}

func (s *InMemoryService) SubmitOps(ctx context.Context, authorPeer string, bufferID, revision uint64, ops delta.Delta) (bool, error) {
	if err := s.submitSem.Acquire(ctx); err != nil {
		return false, err
	}
	defer s.submitSem.Release()

	buf, err := s.project.OpenBufferByID(ctx, bufferID)
	if err != nil {
		metrics.BufferOps.WithLabelValues("rejected").Inc()
		return false, err
	}
	applied, err := buf.ApplyRevision(revision, ops)
	if err != nil {
		metrics.BufferOps.WithLabelValues("rejected").Inc()
		return false, fmt.Errorf("apply revision %d to buffer %d: %w", revision, bufferID, err)
	}
	if !applied {
		metrics.BufferOps.WithLabelValues("duplicate").Inc()
		return false, nil
	}
	metrics.BufferOps.WithLabelValues("ok").Inc()

	s.audit(BufferOpEvent{
		EventType:   "OP_APPLIED",
		BufferID:    bufferID,
		OperationID: uuid.NewString(),
		Revision:    revision,
		AuthorPeer:  authorPeer,
		Ops:         ops,
		AppliedAt:   time.Now(),
	})

	if s.deps.Snapshots != nil && s.opt.SnapshotEvery > 0 && revision%s.opt.SnapshotEvery == 0 {
		snap := buf.Snapshot()
		if err := s.deps.Snapshots.SaveBufferSnapshot(ctx, bufferID, snap.Revision(), snap.Text()); err != nil {
			log.Printf("save buffer snapshot failed buffer=%d rev=%d err=%v", bufferID, snap.Revision(), err)
		}
	}
	return true, nil
}

func (s *InMemoryService) Flush(id editor.ViewID) (*proto.UpdateView, bool) {
	m, ok := s.mirror(id)
	if !ok {
		return nil, false
	}
	return m.leader.Flush()
}

func (s *InMemoryService) Views() []editor.ViewID {
	s.mu.RLock()
	out := make([]editor.ViewID, 0, len(s.mirrors))
	for id := range s.mirrors {
		out = append(out, id)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b editor.ViewID) int { return strings.Compare(ViewKey(a), ViewKey(b)) })
	return out
}

func (s *InMemoryService) ViewsWithBuffer(bufferID uint64) []editor.ViewID {
	s.mu.RLock()
	var out []editor.ViewID
	for id, m := range s.mirrors {
		if _, ok := m.ed.Buffer().Buffer(bufferID); ok {
			out = append(out, id)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b editor.ViewID) int { return strings.Compare(ViewKey(a), ViewKey(b)) })
	return out
}

func (s *InMemoryService) LeaderOf(id editor.ViewID) (string, bool) {
	m, ok := s.mirror(id)
	if !ok {
		return "", false
	}
	return m.leaderPeer, true
}

func (s *InMemoryService) CursorPosition(id editor.ViewID) (follow.CursorPosition, bool) {
	m, ok := s.mirror(id)
	if !ok {
		return follow.CursorPosition{}, false
	}
	return follow.CursorPositionOf(m.ed)
}

// Close 停掉所有镜像，不做持久化
func (s *InMemoryService) Close() {
	s.mu.Lock()
	mirrors := make([]*mirror, 0, len(s.mirrors))
	for id, m := range s.mirrors {
		mirrors = append(mirrors, m)
		delete(s.mirrors, id)
	}
	s.mu.Unlock()

	for _, m := range mirrors {
		s.stopMirror(m)
		metrics.ActiveViews.Dec()
	}
	s.cancel()
}

func (s *InMemoryService) publishCursor(ctx context.Context, m *mirror) {
	if s.deps.Presence == nil {
		return
	}
	pos, ok := follow.CursorPositionOf(m.ed)
	if !ok {
		return
	}
	b, err := json.Marshal(pos)
	if err != nil {
		return
	}
	if err := s.deps.Presence.SetCursor(ctx, ViewKey(m.id), b, s.opt.PresenceTTL); err != nil {
		log.Printf("publish cursor failed view=%s err=%v", ViewKey(m.id), err)
	}
}

func (s *InMemoryService) audit(evt Event) {
	if s.deps.Dispatcher == nil {
		return
	}
	if e, ok := evt.(ViewUpdateEvent); ok {
		e.OperationID = uuid.NewString()
		e.At = time.Now()
		evt = e
	}
	if err := s.deps.Dispatcher.TryEnqueue(evt); err != nil {
		log.Printf("audit event dropped key=%s err=%v", evt.PartitionKey(), err)
	}
}
