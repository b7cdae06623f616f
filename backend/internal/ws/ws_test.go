package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"followServer/backend/internal/collab"
	"followServer/backend/internal/editor"
	"followServer/backend/internal/follow"
	"followServer/backend/internal/multibuffer"
	"followServer/backend/internal/ot/delta"
	"followServer/backend/internal/project"
	"followServer/backend/internal/proto"
	"followServer/backend/internal/text"
)

type memLoader map[uint64]project.BufferRecord

func (l memLoader) LoadBuffer(ctx context.Context, id uint64) (project.BufferRecord, error) {
	rec, ok := l[id]
	if !ok {
		return project.BufferRecord{}, project.ErrBufferNotFound
	}
	return rec, nil
}

var records = memLoader{
	1: {ID: 1, Content: "alpha\nbeta\ngamma\n"},
	2: {ID: 2, Content: "one two three"},
}

// 客户端收到的消息，覆盖所有服务端消息类型的字段
type inbound struct {
	Type       string            `json:"type"`
	PeerID     string            `json:"peerId"`
	View       *proto.ViewID     `json:"view"`
	Leader     string            `json:"leader"`
	State      *proto.ViewState  `json:"state"`
	Update     *proto.UpdateView `json:"update"`
	Followers  []FollowerInfo    `json:"followers"`
	Content    string            `json:"content"`
	BufferID   uint64            `json:"bufferId"`
	Revision   uint64            `json:"revision"`
	Applied    bool              `json:"applied"`
	AuthorPeer string            `json:"authorPeer"`
}

func newTestServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := collab.NewInMemoryService(project.New(records), collab.Deps{}, collab.Options{FlushInterval: 5 * time.Millisecond})
	t.Cleanup(svc.Close)
	m := NewManager(NewHub(nil), svc, time.Minute)

	r := gin.New()
	r.GET("/ws", m.WebSocketConnect)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) (*websocket.Conn, string) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	welcome := readUntil(t, conn, "welcome")
	require.NotEmpty(t, welcome.PeerID)
	return conn, welcome.PeerID
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) inbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg inbound
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", typ)
		if msg.Type == typ {
			return msg
		}
	}
}

func leaderEditor(ids ...uint64) (*editor.Editor, *follow.Leader) {
	mb := multibuffer.New()
	for _, id := range ids {
		buf := text.NewBuffer(id, records[id].Content, 0)
		mb.PushExcerpts(buf, []multibuffer.ExcerptRange{{Context: multibuffer.Range{
			Start: buf.AnchorAt(0, text.BiasLeft),
			End:   buf.AnchorAt(buf.Len(), text.BiasRight),
		}}})
	}
	ed := editor.New(mb)
	return ed, follow.NewLeader(ed)
}

func TestFollowOverWebSocket(t *testing.T) {
	url := newTestServer(t)
	view := proto.ViewID{Creator: "leader", ID: 3}

	leaderConn, leaderPeer := dial(t, url)
	ed, pending := leaderEditor(1, 2)
	defer pending.Close()

	state := follow.ToStateProto(ed)
	require.NoError(t, leaderConn.WriteJSON(ClientMessage{Type: "create_view", View: &view, State: &state}))
	created := readUntil(t, leaderConn, "view_created")
	require.Equal(t, leaderPeer, created.Leader)

	followerConn, followerPeer := dial(t, url)
	require.NotEqual(t, leaderPeer, followerPeer)
	require.NoError(t, followerConn.WriteJSON(ClientMessage{Type: "follow", View: &view}))
	got := readUntil(t, followerConn, "view_state")
	require.Equal(t, leaderPeer, got.Leader)
	require.Equal(t, state.Excerpts, got.State.Excerpts)

	// 领导者删掉第一个 excerpt，跟随者收到合并后的增量
	ed.Buffer().RemoveExcerpts([]multibuffer.ExcerptID{1})
	update, ok := pending.Flush()
	require.True(t, ok)
	require.NoError(t, leaderConn.WriteJSON(ClientMessage{Type: "update_view", View: &view, Update: update}))
	for {
		msg := readUntil(t, followerConn, "update_view")
		if len(msg.Update.DeletedExcerpts) > 0 {
			require.Equal(t, []uint64{1}, msg.Update.DeletedExcerpts)
			break
		}
	}

	// 跟随者不能推送更新
	require.NoError(t, followerConn.WriteJSON(ClientMessage{Type: "update_view", View: &view, Update: update}))
	require.Equal(t, "NOT_LEADER", readUntil(t, followerConn, "error").Content)

	// buffer 2 仍在视图里，领导者提交的操作会转发给跟随者
	ops := delta.Delta{{Kind: delta.KindInsert, Text: "zero "}}
	require.NoError(t, leaderConn.WriteJSON(ClientMessage{Type: "op_submit", BufferID: 2, Revision: 1, Ops: ops}))
	applied := readUntil(t, leaderConn, "op_applied")
	require.True(t, applied.Applied)
	op := readUntil(t, followerConn, "op_broadcast")
	require.Equal(t, uint64(2), op.BufferID)
	require.Equal(t, leaderPeer, op.AuthorPeer)

	// 重复提交不再广播
	require.NoError(t, leaderConn.WriteJSON(ClientMessage{Type: "op_submit", BufferID: 2, Revision: 1, Ops: ops}))
	require.False(t, readUntil(t, leaderConn, "op_applied").Applied)

	// 领导者断开后视图关闭
	require.NoError(t, leaderConn.Close())
	closed := readUntil(t, followerConn, "view_closed")
	require.Equal(t, view, *closed.View)

	require.NoError(t, followerConn.WriteJSON(ClientMessage{Type: "follow", View: &view}))
	require.Equal(t, collab.ErrViewNotFound.Error(), readUntil(t, followerConn, "error").Content)
}

func TestUnknownMessageIgnored(t *testing.T) {
	conn, _ := dial(t, newTestServer(t))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "nope"}))
	require.Equal(t, "ignored", readUntil(t, conn, "ignored").Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "heartbeat"}))
	require.Equal(t, "Heartbeat received", readUntil(t, conn, "feedback").Content)
}

func TestCreateViewThenSubmitUnsubmittedRevision(t *testing.T) {
	url := newTestServer(t)
	view := proto.ViewID{Creator: "leader", ID: 4}
	leaderConn, _ := dial(t, url)
	ed, pending := leaderEditor(1)
	defer pending.Close()

	// 领导者本地已经编辑到 revision 1，光标落在该 revision 上，操作还没提交
	ops := delta.Delta{{Kind: delta.KindInsert, Text: ">> "}}
	require.NoError(t, ed.Edit(1, ops))
	buf, ok := ed.Buffer().Buffer(1)
	require.True(t, ok)
	at := multibuffer.Anchor{ExcerptID: 1, Text: buf.AnchorAt(3, text.BiasLeft)}
	require.Equal(t, uint64(1), at.Text.Revision)
	ed.SelectRanges([]multibuffer.AnchorRange{{Start: at, End: at}})
	want := ed.NewestSelection().ID

	state := follow.ToStateProto(ed)
	require.NoError(t, leaderConn.WriteJSON(ClientMessage{Type: "create_view", View: &view, State: &state}))
	require.NoError(t, leaderConn.WriteJSON(ClientMessage{Type: "op_submit", BufferID: 1, Revision: 1, Ops: ops}))
	readUntil(t, leaderConn, "view_created")
	require.True(t, readUntil(t, leaderConn, "op_applied").Applied)

	// revision 1 到达后镜像装上领导者的选区，跟随者最终看到同一个选区
	followerConn, _ := dial(t, url)
	require.NoError(t, followerConn.WriteJSON(ClientMessage{Type: "follow", View: &view}))
	require.NoError(t, followerConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg inbound
		require.NoError(t, followerConn.ReadJSON(&msg), "waiting for selection %d", want)
		var sels []proto.Selection
		switch msg.Type {
		case "view_state":
			sels = msg.State.Selections
		case "update_view":
			sels = msg.Update.Selections
		}
		if len(sels) == 1 && sels[0].ID == want {
			break
		}
	}
}

func TestFollowRacingLeaderUpdate(t *testing.T) {
	url := newTestServer(t)
	leaderConn, _ := dial(t, url)
	followerConn, _ := dial(t, url)

	for i := uint64(1); i <= 20; i++ {
		view := proto.ViewID{Creator: "leader", ID: 100 + i}
		ed, pending := leaderEditor(1, 2)
		state := follow.ToStateProto(ed)
		require.NoError(t, leaderConn.WriteJSON(ClientMessage{Type: "create_view", View: &view, State: &state}))
		readUntil(t, leaderConn, "view_created")

		ed.Buffer().RemoveExcerpts([]multibuffer.ExcerptID{1})
		update, ok := pending.Flush()
		require.True(t, ok)
		pending.Close()

		// follow 与删除片段的更新同时到达服务端
		errs := make(chan error, 2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- followerConn.WriteJSON(ClientMessage{Type: "follow", View: &view})
		}()
		go func() {
			defer wg.Done()
			errs <- leaderConn.WriteJSON(ClientMessage{Type: "update_view", View: &view, Update: update})
		}()
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		// 不论先后，跟随者最终只剩第二个片段
		require.NoError(t, followerConn.SetReadDeadline(time.Now().Add(2*time.Second)))
		have := make(map[uint64]bool)
		for !(len(have) == 1 && have[2]) {
			var msg inbound
			require.NoError(t, followerConn.ReadJSON(&msg), "view %d never converged, excerpts %v", view.ID, have)
			if msg.View == nil || *msg.View != view {
				continue
			}
			switch msg.Type {
			case "view_state":
				for _, e := range msg.State.Excerpts {
					have[e.ID] = true
				}
			case "update_view":
				for _, id := range msg.Update.DeletedExcerpts {
					delete(have, id)
				}
			}
		}
	}
}

// serverConn 返回一对直连的 websocket：服务端一侧不启动读写循环
func serverConn(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- conn
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	select {
	case server := <-accepted:
		t.Cleanup(func() { server.Close() })
		return server, client
	case <-time.After(2 * time.Second):
		t.Fatal("upgrade did not complete")
		return nil, nil
	}
}

func TestSlowFollowerIsDisconnected(t *testing.T) {
	server, client := serverConn(t)
	c := NewConn(server, NewHub(nil), "peer-slow", 0, "", nil, time.Minute)

	// 没有 writeLoop 消费，队列很快塞满
	for i := 0; i < cap(c.send); i++ {
		c.SendMessage_Enqueue(ServerMessage{Type: "feedback"})
	}
	c.SendMessage_Enqueue(ServerMessage{Type: "ignored"})
	c.mu.Lock()
	require.False(t, c.closed, "droppable messages must not close the connection")
	c.mu.Unlock()

	c.SendMessage_Enqueue(ServerMessage{Type: "update_view"})
	c.mu.Lock()
	require.True(t, c.closed)
	c.mu.Unlock()
	c.SendMessage_Enqueue(ServerMessage{Type: "update_view"})

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := client.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	require.Equal(t, websocket.CloseTryAgainLater, closeErr.Code)
	require.Equal(t, ErrSlowConsumer.Error(), closeErr.Text)
}
