package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"followServer/backend/internal/cache"
	"followServer/backend/internal/collab"
	"followServer/backend/internal/editor"
	"followServer/backend/internal/follow"
)

// ViewHandler 提供视图的只读查询，写操作都走 WebSocket
type ViewHandler struct {
	svc      collab.Service
	presence cache.FollowPresence
}

func NewViewHandler(svc collab.Service, presence cache.FollowPresence) *ViewHandler {
	return &ViewHandler{svc: svc, presence: presence}
}

// Register 挂到 /views 下：/views/:creator/:id/...
func (h *ViewHandler) Register(g *gin.RouterGroup) {
	g.GET("", h.List)
	g.GET("/active", h.Active)
	g.GET("/:creator/:id/state", h.State)
	g.GET("/:creator/:id/followers", h.Followers)
	g.GET("/:creator/:id/cursor", h.Cursor)
	g.GET("/:creator/:id/search", h.Search)
}

func viewIDParam(c *gin.Context) (editor.ViewID, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || c.Param("creator") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid view id"})
		return editor.ViewID{}, false
	}
	return editor.ViewID{Creator: c.Param("creator"), ID: id}, true
}

func (h *ViewHandler) List(c *gin.Context) {
	views := h.svc.Views()
	keys := make([]string, 0, len(views))
	for _, id := range views {
		keys = append(keys, collab.ViewKey(id))
	}
	c.JSON(http.StatusOK, gin.H{"views": keys})
}

func (h *ViewHandler) State(c *gin.Context) {
	id, ok := viewIDParam(c)
	if !ok {
		return
	}
	state, err := h.svc.ViewState(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	leader, _ := h.svc.LeaderOf(id)
	c.JSON(http.StatusOK, gin.H{"leader": leader, "state": state})
}

func (h *ViewHandler) Followers(c *gin.Context) {
	id, ok := viewIDParam(c)
	if !ok {
		return
	}
	if _, ok := h.svc.LeaderOf(id); !ok {
		writeServiceError(c, collab.ErrViewNotFound)
		return
	}
	followers := []cache.Follower{}
	if h.presence != nil {
		got, err := h.presence.Followers(c.Request.Context(), collab.ViewKey(id))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		followers = append(followers, got...)
	}
	c.JSON(http.StatusOK, gin.H{"followers": followers})
}

func (h *ViewHandler) Cursor(c *gin.Context) {
	id, ok := viewIDParam(c)
	if !ok {
		return
	}
	pos, ok := h.svc.CursorPosition(id)
	if ok {
		c.JSON(http.StatusOK, gin.H{"cursor": pos, "text": pos.String()})
		return
	}
	// 视图可能由其他实例维护，退回到 redis 里发布的光标
	if h.presence != nil {
		raw, err := h.presence.GetCursor(c.Request.Context(), collab.ViewKey(id))
		if err == nil {
			var remote follow.CursorPosition
			if err := json.Unmarshal(raw, &remote); err == nil {
				c.JSON(http.StatusOK, gin.H{"cursor": remote, "text": remote.String()})
				return
			}
		} else if !errors.Is(err, cache.ErrCursorNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	writeServiceError(c, collab.ErrViewNotFound)
}

// Active 列出所有实例上有跟随者的视图
func (h *ViewHandler) Active(c *gin.Context) {
	views := []string{}
	if h.presence != nil {
		got, err := h.presence.Views(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		views = append(views, got...)
	}
	c.JSON(http.StatusOK, gin.H{"views": views})
}

// Search 支持 ?q= &regex=true &case=true
func (h *ViewHandler) Search(c *gin.Context) {
	id, ok := viewIDParam(c)
	if !ok {
		return
	}
	q := follow.Query{
		Text:          c.Query("q"),
		Regex:         c.Query("regex") == "true",
		CaseSensitive: c.Query("case") == "true",
	}
	res, err := h.svc.Search(c.Request.Context(), id, q)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, collab.ErrViewNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
