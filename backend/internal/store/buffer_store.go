package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"followServer/backend/internal/project"
	"followServer/backend/internal/text"
)

// BufferRow 是 buffer 的最新内容，revision 只增不减
type BufferRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement:false"`
	Content   string `gorm:"type:longtext"`
	Revision  uint64
	UpdatedAt time.Time
}

func (BufferRow) TableName() string { return "buffers" }

// BufferStore 按 id 加载 buffer，实现 project.BufferLoader
type BufferStore struct{ db *gorm.DB }

func NewBufferStore(db *gorm.DB) *BufferStore {
	return &BufferStore{db: db}
}

func (s *BufferStore) LoadBuffer(ctx context.Context, id uint64) (project.BufferRecord, error) {
	var row BufferRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return project.BufferRecord{}, project.ErrBufferNotFound
	}
	if err != nil {
		return project.BufferRecord{}, err
	}
	return project.BufferRecord{ID: row.ID, Content: row.Content, Revision: row.Revision}, nil
}

// SaveBuffer 写入快照内容；库里已有更新（或相同）revision 时什么都不做
func (s *BufferStore) SaveBuffer(ctx context.Context, snap *text.Snapshot) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&BufferRow{}).
			Where("id = ? AND revision < ?", snap.ID(), snap.Revision()).
			Updates(map[string]any{"content": snap.Text(), "revision": snap.Revision()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&BufferRow{
			ID:       snap.ID(),
			Content:  snap.Text(),
			Revision: snap.Revision(),
		}).Error
	})
}
