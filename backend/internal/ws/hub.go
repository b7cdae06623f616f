package ws

import (
	"context"
	"log"
	"sync"

	"followServer/backend/internal/cache"
	"followServer/backend/internal/collab"
	"followServer/backend/internal/editor"
	"followServer/backend/internal/follow"
	"followServer/backend/internal/proto"
)

type Hub struct {
	// 在线状态的外部存储（一般是 redis），可以为 nil
	presence cache.FollowPresence
	mu       sync.RWMutex
	// view key -> 跟随该视图的连接
	rooms map[string]map[*Conn]struct{}
}

func NewHub(p cache.FollowPresence) *Hub {
	return &Hub{presence: p, rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入视图的跟随者房间
func (h *Hub) Join(view string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[view] == nil {
		// 同一用户可能多端跟随，按连接而不是按用户存
		h.rooms[view] = make(map[*Conn]struct{})
	}
	h.rooms[view][c] = struct{}{}
}

func (h *Hub) Leave(view string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[view]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, view)
		}
	}
}

func (h *Hub) members(view string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.rooms[view]))
	for c := range h.rooms[view] {
		out = append(out, c)
	}
	return out
}

// BroadcastUpdate 把镜像的合并增量发给房间；签名满足 collab.Broadcaster
func (h *Hub) BroadcastUpdate(id editor.ViewID, update *proto.UpdateView) {
	view := follow.SerializeViewID(id)
	msg := ServerMessage{Type: "update_view", View: &view, Update: update}
	for _, c := range h.members(collab.ViewKey(id)) {
		c.SendMessage_Enqueue(msg)
	}
}

// BroadcastOp 把已应用的操作发给跟随这些视图的连接，每个连接只发一次
func (h *Hub) BroadcastOp(views []editor.ViewID, except *Conn, msg OpBroadcastMessage) {
	sent := make(map[*Conn]struct{})
	for _, id := range views {
		for _, c := range h.members(collab.ViewKey(id)) {
			if c == except {
				continue
			}
			if _, ok := sent[c]; ok {
				continue
			}
			sent[c] = struct{}{}
			c.SendMessage_Enqueue(msg)
		}
	}
}

func (h *Hub) BroadcastFollowers(ctx context.Context, id editor.ViewID) {
	if h.presence == nil {
		return
	}
	key := collab.ViewKey(id)
	followers, err := h.presence.Followers(ctx, key)
	if err != nil {
		log.Printf("get followers error view=%s err=%v", key, err)
		return
	}
	infos := make([]FollowerInfo, 0, len(followers))
	for _, f := range followers {
		infos = append(infos, FollowerInfo{PeerID: f.PeerID, Username: f.Username})
	}
	view := follow.SerializeViewID(id)
	msg := ServerMessage{Type: "followers", View: &view, Followers: infos}
	for _, c := range h.members(key) {
		c.SendMessage_Enqueue(msg)
	}
}

// CloseRoom 通知跟随者视图已关闭，并解散房间
func (h *Hub) CloseRoom(id editor.ViewID) {
	key := collab.ViewKey(id)
	h.mu.Lock()
	conns := h.rooms[key]
	delete(h.rooms, key)
	h.mu.Unlock()

	view := follow.SerializeViewID(id)
	for c := range conns {
		c.forget(key)
		c.SendMessage_Enqueue(ServerMessage{Type: "view_closed", View: &view})
	}
}
