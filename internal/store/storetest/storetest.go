// Package storetest opens throwaway in-memory SQLite stores for tests.
package storetest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pathakanu/callMemo/internal/database"
	"github.com/pathakanu/callMemo/internal/model"
	"github.com/pathakanu/callMemo/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a migrated in-memory database unique to the calling test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_busy_timeout=5000", name, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite memory: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// A single connection serialises writers the way SQLite wants them.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// New returns a Store over a fresh in-memory database.
func New(t *testing.T) (*store.Store, *gorm.DB) {
	t.Helper()
	db := Open(t)
	return store.New(db), db
}

// SeedReminder inserts a reminder, filling identity fields the test left empty.
func SeedReminder(t *testing.T, s *store.Store, r model.Reminder) model.Reminder {
	t.Helper()
	if r.UserID == "" {
		r.UserID = "user-1"
	}
	if r.Title == "" {
		r.Title = "Medication"
	}
	if r.CalleeName == "" {
		r.CalleeName = "Ada"
	}
	if r.PhoneNumber == "" {
		r.PhoneNumber = "+1 555 010 0000"
	}
	if err := s.CreateReminder(t.Context(), &r); err != nil {
		t.Fatalf("seed reminder: %v", err)
	}
	return r
}
