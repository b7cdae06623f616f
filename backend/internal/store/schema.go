package store

import (
	"context"
	"database/sql"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS view_items (
		workspace    VARCHAR(64) NOT NULL,
		item_id      BIGINT UNSIGNED NOT NULL,
		buffer_id    BIGINT UNSIGNED NOT NULL,
		scroll_row   INT NOT NULL DEFAULT 0,
		PRIMARY KEY (workspace, item_id)
	)`,
	`CREATE TABLE IF NOT EXISTS buffer_snapshots (
		buffer_id  BIGINT UNSIGNED NOT NULL,
		revision   BIGINT UNSIGNED NOT NULL,
		content    LONGTEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (buffer_id, revision)
	)`,
}

// EnsureSchema 建好 database/sql 这一侧用到的表；buffers 表由 gorm 迁移
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
