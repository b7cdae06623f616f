package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"followServer/backend/internal/store"
)

type ItemReader interface {
	LoadItem(ctx context.Context, workspace string, itemID uint64) (store.Item, error)
	ListItems(ctx context.Context, workspace string) ([]store.Item, error)
	DeleteStaleItems(ctx context.Context, workspace string, alive []uint64) error
}

type SnapshotReader interface {
	LatestBufferSnapshot(ctx context.Context, bufferID, maxRev uint64) (uint64, string, error)
}

// ItemHandler 暴露关闭视图时留下的条目与 buffer 历史快照
type ItemHandler struct {
	items     ItemReader
	snapshots SnapshotReader
}

func NewItemHandler(items ItemReader, snapshots SnapshotReader) *ItemHandler {
	return &ItemHandler{items: items, snapshots: snapshots}
}

func (h *ItemHandler) Register(g *gin.RouterGroup) {
	g.GET("/items/:workspace", h.List)
	g.GET("/items/:workspace/:item", h.Get)
	g.POST("/items/:workspace/prune", h.Prune)
	g.GET("/buffers/:id/snapshot", h.Snapshot)
}

func (h *ItemHandler) List(c *gin.Context) {
	items, err := h.items.ListItems(c.Request.Context(), c.Param("workspace"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if items == nil {
		items = []store.Item{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *ItemHandler) Get(c *gin.Context) {
	itemID, err := strconv.ParseUint(c.Param("item"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid item id"})
		return
	}
	it, err := h.items.LoadItem(c.Request.Context(), c.Param("workspace"), itemID)
	if errors.Is(err, store.ErrItemNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, it)
}

// Prune 删除工作区里不在 alive 列表中的条目
func (h *ItemHandler) Prune(c *gin.Context) {
	var req struct {
		Alive []uint64 `json:"alive"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.items.DeleteStaleItems(c.Request.Context(), c.Param("workspace"), req.Alive); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}

// Snapshot 返回 revision 不超过 ?rev= 的最新快照，缺省取最新
func (h *ItemHandler) Snapshot(c *gin.Context) {
	bufferID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid buffer id"})
		return
	}
	maxRev := uint64(math.MaxUint64)
	if v := c.Query("rev"); v != "" {
		if maxRev, err = strconv.ParseUint(v, 10, 64); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rev"})
			return
		}
	}
	rev, content, err := h.snapshots.LatestBufferSnapshot(c.Request.Context(), bufferID, maxRev)
	if errors.Is(err, store.ErrSnapshotNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bufferId": bufferID, "revision": rev, "content": content})
}
