package ws

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"followServer/backend/internal/collab"
	"followServer/backend/internal/editor"
	"followServer/backend/internal/follow"
	"followServer/backend/internal/proto"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// 单个连接每秒可处理的消息数；领导者滚动时一秒几十条是常态
const (
	messageRate  = 100
	messageBurst = 50
)

var (
	ErrRateLimited  = errors.New("RATE_LIMITED")
	ErrSlowConsumer = errors.New("SLOW_CONSUMER")
)

// 丢了会让跟随者的视图与领导者分叉的消息。队列满时不丢，而是断开连接，
// 客户端重连后重新 follow 拿完整状态
var mustDeliver = map[string]bool{
	"update_view":  true,
	"view_state":   true,
	"view_closed":  true,
	"op_broadcast": true,
}

type Conn struct {
	ws       *websocket.Conn
	hub      *Hub
	peerID   string
	userID   uint64
	username string
	// 出站队列，由 writeLoop 消费
	send chan OutboundMessage
	// 跟随服务
	svc         collab.Service
	presenceTTL time.Duration
	limiter     *rate.Limiter

	mu        sync.Mutex
	closed    bool
	following map[string]editor.ViewID // view key -> view
	leading   map[string]editor.ViewID // 本连接创建的视图
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string      { return m.Type }
func (m OpAppliedMessage) MessageType() string   { return m.Type }
func (m OpBroadcastMessage) MessageType() string { return m.Type }

func NewConn(ws *websocket.Conn, hub *Hub, peerID string, userID uint64, username string, svc collab.Service, presenceTTL time.Duration) *Conn {
	return &Conn{
		ws:          ws,
		hub:         hub,
		peerID:      peerID,
		userID:      userID,
		username:    username,
		send:        make(chan OutboundMessage, 32),
		svc:         svc,
		presenceTTL: presenceTTL,
		limiter:     rate.NewLimiter(messageRate, messageBurst),
		following:   make(map[string]editor.ViewID),
		leading:     make(map[string]editor.ViewID),
	}
}

func (c *Conn) PeerID() string { return c.peerID }

func (c *Conn) SendMessage_Enqueue(msg OutboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
		return
	default:
	}
	if !mustDeliver[msg.MessageType()] {
		log.Printf("drop outbound message peer=%s type=%s", c.peerID, msg.MessageType())
		return
	}
	log.Printf("send queue full, closing slow connection peer=%s type=%s", c.peerID, msg.MessageType())
	c.closed = true
	close(c.send)
	go c.abort(ErrSlowConsumer)
}

// abort 发送关闭帧后断开底层连接，readLoop 随之退出并清理
func (c *Conn) abort(reason error) {
	frame := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason.Error())
	if err := c.ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(time.Second)); err != nil {
		log.Printf("write close frame error peer=%s: %v", c.peerID, err)
	}
	_ = c.ws.Close()
}

func (c *Conn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Conn) forget(key string) {
	c.mu.Lock()
	delete(c.following, key)
	c.mu.Unlock()
}

func (c *Conn) sendError(err error) {
	c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: err.Error()})
}

// 只有视图的创建者可以推送更新或关闭
func (c *Conn) isLeader(id editor.ViewID) bool {
	leader, ok := c.svc.LeaderOf(id)
	return ok && leader == c.peerID
}

func (c *Conn) handleCreateView(ctx context.Context, msg ClientMessage) {
	if msg.View == nil || msg.State == nil {
		c.sendError(errors.New("MISSING_VIEW_STATE"))
		return
	}
	id := follow.DeserializeViewID(*msg.View)
	if err := c.svc.CreateView(ctx, c.peerID, id, *msg.State); err != nil {
		log.Printf("create view error peer=%s view=%s err=%v", c.peerID, collab.ViewKey(id), err)
		c.sendError(err)
		return
	}
	c.mu.Lock()
	c.leading[collab.ViewKey(id)] = id
	c.mu.Unlock()
	c.SendMessage_Enqueue(ServerMessage{Type: "view_created", View: msg.View, Leader: c.peerID})
}

func (c *Conn) handleUpdateView(ctx context.Context, msg ClientMessage) {
	if msg.View == nil || msg.Update == nil {
		c.sendError(errors.New("MISSING_VIEW_UPDATE"))
		return
	}
	id := follow.DeserializeViewID(*msg.View)
	if !c.isLeader(id) {
		c.sendError(errors.New("NOT_LEADER"))
		return
	}
	if err := c.svc.UpdateView(ctx, id, msg.Update); err != nil {
		c.sendError(err)
	}
}

func (c *Conn) handleFollow(ctx context.Context, msg ClientMessage) {
	if msg.View == nil {
		c.sendError(errors.New("MISSING_VIEW"))
		return
	}
	id := follow.DeserializeViewID(*msg.View)
	key := collab.ViewKey(id)

	// 先发完整状态再入房间，增量总是在状态之后到达；
	// 两步在镜像的两次发送之间完成，不会漏掉中间的增量
	err := c.svc.FollowView(ctx, id, func(state proto.ViewState, leader string) {
		c.SendMessage_Enqueue(ServerMessage{Type: "view_state", View: msg.View, Leader: leader, State: &state})
		c.hub.Join(key, c)
	})
	if err != nil {
		c.sendError(err)
		return
	}
	c.mu.Lock()
	c.following[key] = id
	c.mu.Unlock()

	if c.hub.presence != nil {
		if err := c.hub.presence.AddFollower(ctx, key, c.peerID, c.username, c.presenceTTL); err != nil {
			log.Printf("add follower error view=%s peer=%s err=%v", key, c.peerID, err)
		}
		c.hub.BroadcastFollowers(ctx, id)
	}
}

func (c *Conn) unfollow(ctx context.Context, id editor.ViewID) {
	key := collab.ViewKey(id)
	c.hub.Leave(key, c)
	c.forget(key)
	if c.hub.presence != nil {
		if err := c.hub.presence.RemoveFollower(ctx, key, c.peerID); err != nil {
			log.Printf("remove follower error view=%s peer=%s err=%v", key, c.peerID, err)
		}
		c.hub.BroadcastFollowers(ctx, id)
	}
}

func (c *Conn) handleOpSubmit(ctx context.Context, msg ClientMessage) {
	submitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	applied, err := c.svc.SubmitOps(submitCtx, c.peerID, msg.BufferID, msg.Revision, msg.Ops)
	if err != nil {
		c.sendError(err)
		return
	}
	c.SendMessage_Enqueue(OpAppliedMessage{Type: "op_applied", BufferID: msg.BufferID, Revision: msg.Revision, Applied: applied})
	if !applied {
		return
	}
	c.hub.BroadcastOp(c.svc.ViewsWithBuffer(msg.BufferID), c, OpBroadcastMessage{
		Type:       "op_broadcast",
		BufferID:   msg.BufferID,
		Revision:   msg.Revision,
		AuthorPeer: c.peerID,
		Ops:        msg.Ops,
		AppliedAt:  time.Now(),
	})
}

func (c *Conn) handleCloseView(ctx context.Context, msg ClientMessage) {
	if msg.View == nil {
		c.sendError(errors.New("MISSING_VIEW"))
		return
	}
	id := follow.DeserializeViewID(*msg.View)
	if !c.isLeader(id) {
		c.sendError(errors.New("NOT_LEADER"))
		return
	}
	c.closeView(ctx, id)
}

func (c *Conn) closeView(ctx context.Context, id editor.ViewID) {
	key := collab.ViewKey(id)
	if err := c.svc.CloseView(ctx, id); err != nil && !errors.Is(err, collab.ErrViewNotFound) {
		log.Printf("close view error view=%s err=%v", key, err)
	}
	c.mu.Lock()
	delete(c.leading, key)
	c.mu.Unlock()
	c.hub.CloseRoom(id)
}

func (c *Conn) heartbeat(ctx context.Context) {
	c.mu.Lock()
	views := make([]editor.ViewID, 0, len(c.following))
	for _, id := range c.following {
		views = append(views, id)
	}
	c.mu.Unlock()

	if c.hub.presence != nil {
		for _, id := range views {
			if err := c.hub.presence.AddFollower(ctx, collab.ViewKey(id), c.peerID, c.username, c.presenceTTL); err != nil {
				log.Printf("renew follower error view=%s peer=%s err=%v", collab.ViewKey(id), c.peerID, err)
			}
		}
	}
	c.SendMessage_Enqueue(ServerMessage{Type: "feedback", Content: "Heartbeat received"})
}

// cleanup 在连接断开时退出所有房间，并关闭本连接领导的视图
func (c *Conn) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.mu.Lock()
	following := make([]editor.ViewID, 0, len(c.following))
	for _, id := range c.following {
		following = append(following, id)
	}
	leading := make([]editor.ViewID, 0, len(c.leading))
	for _, id := range c.leading {
		leading = append(leading, id)
	}
	c.mu.Unlock()

	for _, id := range following {
		c.unfollow(ctx, id)
	}
	for _, id := range leading {
		c.closeView(ctx, id)
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer c.closeSend()
	defer c.cleanup()
	// hijack 之后请求的 ctx 不会随连接断开而取消
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for {
		var clientMessage ClientMessage
		if err := c.ws.ReadJSON(&clientMessage); err != nil {
			log.Printf("read json error (user=%d, peer=%s): %v", c.userID, c.peerID, err)
			return
		}
		if clientMessage.Type != "heartbeat" && !c.limiter.Allow() {
			c.sendError(ErrRateLimited)
			continue
		}
		switch clientMessage.Type {
		case "heartbeat":
			c.heartbeat(ctx)
		case "create_view":
			c.handleCreateView(ctx, clientMessage)
		case "update_view":
			c.handleUpdateView(ctx, clientMessage)
		case "follow":
			c.handleFollow(ctx, clientMessage)
		case "unfollow":
			if clientMessage.View != nil {
				c.unfollow(ctx, follow.DeserializeViewID(*clientMessage.View))
			}
		case "op_submit":
			c.handleOpSubmit(ctx, clientMessage)
		case "close_view":
			c.handleCloseView(ctx, clientMessage)
		default:
			c.SendMessage_Enqueue(ServerMessage{Type: "ignored", Content: "Unknown message type"})
		}
	}
}

func (c *Conn) writeLoop() {
	// 持续消费通道中的消息
	for msg := range c.send {
		if err := c.ws.WriteJSON(msg); err != nil {
			log.Printf("write json error peer=%s: %v", c.peerID, err)
		}
	}
}
