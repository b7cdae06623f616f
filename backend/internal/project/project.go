package project

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"followServer/backend/internal/text"
)

var ErrBufferNotFound = errors.New("BUFFER_NOT_FOUND")

// BufferRecord 是从存储层读到的 buffer 初始状态
type BufferRecord struct {
	ID       uint64
	Content  string
	Revision uint64
}

// BufferLoader 从持久层加载 buffer，不存在时返回 ErrBufferNotFound
type BufferLoader interface {
	LoadBuffer(ctx context.Context, id uint64) (BufferRecord, error)
}

// Project 持有所有已打开的 buffer。同一个 id 的并发打开只加载一次，并共享同一个实例。
type Project struct {
	mu      sync.RWMutex
	buffers map[uint64]*text.Buffer
	loader  BufferLoader
	sf      singleflight.Group
}

func New(loader BufferLoader) *Project {
	return &Project{buffers: make(map[uint64]*text.Buffer), loader: loader}
}

func (p *Project) BufferForID(id uint64) (*text.Buffer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	buf, ok := p.buffers[id]
	return buf, ok
}

// AddBuffer 登记一个本地创建的 buffer；id 已存在时返回已有实例
func (p *Project) AddBuffer(buf *text.Buffer) *text.Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.buffers[buf.ID()]; ok {
		return existing
	}
	p.buffers[buf.ID()] = buf
	return buf
}

func (p *Project) OpenBufferByID(ctx context.Context, id uint64) (*text.Buffer, error) {
	if buf, ok := p.BufferForID(id); ok {
		return buf, nil
	}
	if p.loader == nil {
		return nil, ErrBufferNotFound
	}

	// singleflight 合并并发加载；加载本身不受单个调用方 ctx 取消的影响
	ch := p.sf.DoChan(strconv.FormatUint(id, 10), func() (interface{}, error) {
		if buf, ok := p.BufferForID(id); ok {
			return buf, nil
		}
		rec, err := p.loader.LoadBuffer(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, err
		}
		return p.AddBuffer(text.NewBuffer(rec.ID, rec.Content, rec.Revision)), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*text.Buffer), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OpenBuffers 并发打开多个 buffer，结果与 ids 一一对应；任一失败即返回该错误
func (p *Project) OpenBuffers(ctx context.Context, ids []uint64) ([]*text.Buffer, error) {
	out := make([]*text.Buffer, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			buf, err := p.OpenBufferByID(gctx, id)
			if err != nil {
				return err
			}
			out[i] = buf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
