package ws

import (
	"log"
	"net/http"
	"strings"
	"time"

	"followServer/backend/internal/collab"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// 全局的WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	h           *Hub
	svc         collab.Service
	presenceTTL time.Duration
}

// NewManager 同时把 hub 注册为服务的增量广播出口
func NewManager(h *Hub, svc collab.Service, presenceTTL time.Duration) *Manager {
	if presenceTTL <= 0 {
		presenceTTL = 30 * time.Second
	}
	svc.SetBroadcaster(h.BroadcastUpdate)
	return &Manager{h: h, svc: svc, presenceTTL: presenceTTL}
}

func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetUint64("userId")
	username := c.GetString("username")
	// 每个连接一个 peer id；同一用户多端登录时互不干扰
	peerID := c.GetString("peerId")
	if peerID == "" {
		peerID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.h, peerID, userID, username, m.svc, m.presenceTTL)

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()
	wsConn.SendMessage_Enqueue(ServerMessage{Type: "welcome", PeerID: peerID})

	// 阻塞至连接关闭
	wsConn.readLoop(c.Request.Context())
}
