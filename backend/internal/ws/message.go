package ws

import (
	"time"

	"followServer/backend/internal/ot/delta"
	"followServer/backend/internal/proto"
)

// 客户端消息：
// - create_view / update_view / close_view：领导者推送自己的视图
// - follow / unfollow：跟随者订阅某个视图
// - op_submit：提交 buffer 的一个 revision
// - heartbeat：续期在线状态
type ClientMessage struct {
	Type     string            `json:"type"`
	View     *proto.ViewID     `json:"view,omitempty"`
	State    *proto.ViewState  `json:"state,omitempty"`
	Update   *proto.UpdateView `json:"update,omitempty"`
	BufferID uint64            `json:"bufferId,omitempty"`
	Revision uint64            `json:"revision,omitempty"`
	Ops      delta.Delta       `json:"ops,omitempty"`
}

type FollowerInfo struct {
	PeerID   string `json:"peerId"`
	Username string `json:"username,omitempty"`
}

type ServerMessage struct {
	Type      string            `json:"type"`
	PeerID    string            `json:"peerId,omitempty"`
	View      *proto.ViewID     `json:"view,omitempty"`
	Leader    string            `json:"leader,omitempty"`
	State     *proto.ViewState  `json:"state,omitempty"`
	Update    *proto.UpdateView `json:"update,omitempty"`
	Followers []FollowerInfo    `json:"followers,omitempty"`
	Content   string            `json:"content,omitempty"`
}

// 广播给其他连接的“已应用操作”
// - 前端收到后按 revision 应用到本地 buffer；挂起中的锚点等待会因此解除
type OpBroadcastMessage struct {
	Type       string      `json:"type"` // 固定 "op_broadcast"
	BufferID   uint64      `json:"bufferId"`
	Revision   uint64      `json:"revision"`
	AuthorPeer string      `json:"authorPeer"`
	Ops        delta.Delta `json:"ops"`
	AppliedAt  time.Time   `json:"appliedAt,omitempty"`
}

type OpAppliedMessage struct {
	Type     string `json:"type"` // 固定 "op_applied"
	BufferID uint64 `json:"bufferId"`
	Revision uint64 `json:"revision"`
	// 重复提交时为 false
	Applied bool `json:"applied"`
}
