// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/techagentng/skillsync/db"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// New returns a fresh migrated SQLite database that lives as long as the test.
func New(t testing.TB) *db.GormDB {
	t.Helper()

	gormDB, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// every connection to :memory: is a separate database
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	g, err := db.NewGormDB(gormDB)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}
