package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
)

// SnapshotStore 追加 buffer 的历史快照（buffer_snapshots，主键 buffer_id + revision）
type SnapshotStore struct{ db *sql.DB }

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) SaveBufferSnapshot(ctx context.Context, bufferID, rev uint64, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO buffer_snapshots (buffer_id, revision, content)
		VALUES (?, ?, ?)`,
		bufferID,
		rev,
		content,
	)
	if isDuplicateKey(err) {
		// 同一 revision 已经存过
		return nil
	}
	return err
}

// LatestBufferSnapshot 返回 rev 不超过 maxRev 的最新快照
func (s *SnapshotStore) LatestBufferSnapshot(ctx context.Context, bufferID, maxRev uint64) (uint64, string, error) {
	var (
		rev     uint64
		content string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT revision, content FROM buffer_snapshots
		WHERE buffer_id = ? AND revision <= ?
		ORDER BY revision DESC LIMIT 1`,
		bufferID,
		maxRev,
	).Scan(&rev, &content)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", ErrSnapshotNotFound
	}
	return rev, content, err
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
