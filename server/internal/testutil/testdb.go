package testutil

import (
	"database/sql"
	"testing"

	"botstudio/server/internal/sqlitedb"
)

// OpenTestDB 打开一个内存 SQLite 并应用 schema，测试结束自动关闭。
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sqlitedb.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// 内存库随连接存在：连接池里每个新连接都会拿到一个空库，
	// 这里固定单连接，保证所有语句落在同一个库上。
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
