package store

import (
	"context"
	"database/sql"
	"errors"
)

var (
	ErrItemNotFound     = errors.New("ITEM_NOT_FOUND")
	ErrSnapshotNotFound = errors.New("SNAPSHOT_NOT_FOUND")
)

// Item 记录工作区里一个单 buffer 视图打开的是哪个 buffer，以及滚动到的行。
// 工作区就是视图的创建者。
type Item struct {
	Workspace string `json:"workspace"`
	ItemID    uint64 `json:"itemId"`
	BufferID  uint64 `json:"bufferId"`
	ScrollRow int    `json:"scrollRow"`
}

type ItemStore struct{ db *sql.DB }

func NewItemStore(db *sql.DB) *ItemStore {
	return &ItemStore{db: db}
}

// SaveItem 先插入，主键冲突时改为更新
func (s *ItemStore) SaveItem(ctx context.Context, it Item) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO view_items (workspace, item_id, buffer_id, scroll_row)
		VALUES (?, ?, ?, ?)`,
		it.Workspace,
		it.ItemID,
		it.BufferID,
		it.ScrollRow,
	)
	if !isDuplicateKey(err) {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE view_items SET buffer_id = ?, scroll_row = ?
		WHERE workspace = ? AND item_id = ?`,
		it.BufferID,
		it.ScrollRow,
		it.Workspace,
		it.ItemID,
	)
	return err
}

func (s *ItemStore) LoadItem(ctx context.Context, workspace string, itemID uint64) (Item, error) {
	it := Item{Workspace: workspace, ItemID: itemID}
	err := s.db.QueryRowContext(ctx,
		`SELECT buffer_id, scroll_row FROM view_items WHERE workspace = ? AND item_id = ?`,
		workspace,
		itemID,
	).Scan(&it.BufferID, &it.ScrollRow)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return it, err
}

func (s *ItemStore) ListItems(ctx context.Context, workspace string) ([]Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id, buffer_id, scroll_row FROM view_items WHERE workspace = ? ORDER BY item_id`,
		workspace,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it := Item{Workspace: workspace}
		if err := rows.Scan(&it.ItemID, &it.BufferID, &it.ScrollRow); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// DeleteStaleItems 删除工作区中不在 alive 里的条目
func (s *ItemStore) DeleteStaleItems(ctx context.Context, workspace string, alive []uint64) error {
	items, err := s.ListItems(ctx, workspace)
	if err != nil {
		return err
	}
	keep := make(map[uint64]struct{}, len(alive))
	for _, id := range alive {
		keep[id] = struct{}{}
	}
	for _, it := range items {
		if _, ok := keep[it.ItemID]; ok {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM view_items WHERE workspace = ? AND item_id = ?`,
			workspace,
			it.ItemID,
		); err != nil {
			return err
		}
	}
	return nil
}
