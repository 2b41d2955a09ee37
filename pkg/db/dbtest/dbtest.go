// Package dbtest opens throwaway SQLite databases migrated with every model.
package dbtest

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/courier-backend/pkg/db/models"
)

// ConcurrentConns is the pool size of databases returned by OpenConcurrent.
const ConcurrentConns = 8

// Open returns an isolated in-memory database. Shared-cache memory databases
// fail concurrent writers with "table is locked" instead of waiting, so the
// pool is held to one connection. Tests that race transactions against each
// other use OpenConcurrent.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:courier_%s?mode=memory&cache=shared", uuid.NewString())
	return open(t, dsn, 1)
}

// OpenConcurrent returns a file-backed WAL database with several pooled
// connections, so transactions started from different goroutines really
// overlap. Writers wait on each other through busy_timeout; each connection
// still sees only committed rows.
func OpenConcurrent(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "courier.db")
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	return open(t, dsn, ConcurrentConns)
}

func open(t *testing.T, dsn string, conns int) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetMaxIdleConns(conns)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return conn
}
