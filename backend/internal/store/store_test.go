package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"

	"followServer/backend/internal/project"
	"followServer/backend/internal/text"
)

// 需要一个可写的测试库，例如
// FOLLOW_TEST_MYSQL_DSN="root:root@tcp(127.0.0.1:3306)/follow_test?parseTime=true"
func testDSN(t *testing.T) string {
	dsn := os.Getenv("FOLLOW_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skipf("skip: FOLLOW_TEST_MYSQL_DSN not set")
	}
	return dsn
}

func openSQL(t *testing.T) *sql.DB {
	db, err := sql.Open("mysql", testDSN(t))
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("skip: mysql not available: %v", err)
	}
	if err := EnsureSchema(context.Background(), db); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestItemStore_SaveUpsertsAndLoads(t *testing.T) {
	db := openSQL(t)
	ctx := context.Background()
	s := NewItemStore(db)
	defer db.ExecContext(ctx, `DELETE FROM view_items WHERE workspace = 'ws-test'`)

	if err := s.SaveItem(ctx, Item{Workspace: "ws-test", ItemID: 1, BufferID: 4, ScrollRow: 10}); err != nil {
		t.Fatalf("SaveItem() error = %v", err)
	}
	if err := s.SaveItem(ctx, Item{Workspace: "ws-test", ItemID: 1, BufferID: 5, ScrollRow: 12}); err != nil {
		t.Fatalf("SaveItem() second error = %v", err)
	}
	got, err := s.LoadItem(ctx, "ws-test", 1)
	if err != nil {
		t.Fatalf("LoadItem() error = %v", err)
	}
	if got.BufferID != 5 || got.ScrollRow != 12 {
		t.Fatalf("LoadItem() = %+v, want buffer 5 row 12", got)
	}

	if err := s.SaveItem(ctx, Item{Workspace: "ws-test", ItemID: 2, BufferID: 6}); err != nil {
		t.Fatalf("SaveItem() error = %v", err)
	}
	if err := s.DeleteStaleItems(ctx, "ws-test", []uint64{2}); err != nil {
		t.Fatalf("DeleteStaleItems() error = %v", err)
	}
	if _, err := s.LoadItem(ctx, "ws-test", 1); !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("LoadItem() error = %v, want ErrItemNotFound", err)
	}
	items, err := s.ListItems(ctx, "ws-test")
	if err != nil || len(items) != 1 || items[0].ItemID != 2 {
		t.Fatalf("ListItems() = %+v, %v", items, err)
	}
}

func TestSnapshotStore_DuplicateRevisionIsIgnored(t *testing.T) {
	db := openSQL(t)
	ctx := context.Background()
	s := NewSnapshotStore(db)
	defer db.ExecContext(ctx, `DELETE FROM buffer_snapshots WHERE buffer_id = 9001`)

	for i := 0; i < 2; i++ {
		if err := s.SaveBufferSnapshot(ctx, 9001, 3, "abc"); err != nil {
			t.Fatalf("SaveBufferSnapshot() #%d error = %v", i, err)
		}
	}
	rev, content, err := s.LatestBufferSnapshot(ctx, 9001, 10)
	if err != nil || rev != 3 || content != "abc" {
		t.Fatalf("LatestBufferSnapshot() = %d, %q, %v", rev, content, err)
	}
	if _, _, err := s.LatestBufferSnapshot(ctx, 9001, 2); !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("LatestBufferSnapshot() error = %v, want ErrSnapshotNotFound", err)
	}
}

func TestBufferStore_LoadAndSave(t *testing.T) {
	db, err := InitMySQL(testDSN(t))
	if err != nil {
		t.Skipf("skip: mysql not available: %v", err)
	}
	ctx := context.Background()
	s := NewBufferStore(db)
	defer db.Exec(`DELETE FROM buffers WHERE id = 9001`)

	if _, err := s.LoadBuffer(ctx, 9001); !errors.Is(err, project.ErrBufferNotFound) {
		t.Fatalf("LoadBuffer() error = %v, want ErrBufferNotFound", err)
	}

	buf := text.NewBuffer(9001, "hello", 2)
	if err := s.SaveBuffer(ctx, buf.Snapshot()); err != nil {
		t.Fatalf("SaveBuffer() error = %v", err)
	}
	// 旧 revision 不会覆盖新内容
	if err := s.SaveBuffer(ctx, text.NewBuffer(9001, "stale", 1).Snapshot()); err != nil {
		t.Fatalf("SaveBuffer() stale error = %v", err)
	}
	rec, err := s.LoadBuffer(ctx, 9001)
	if err != nil {
		t.Fatalf("LoadBuffer() error = %v", err)
	}
	if rec.Content != "hello" || rec.Revision != 2 {
		t.Fatalf("LoadBuffer() = %+v, want hello@2", rec)
	}
}
