package repository

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// OpenDatabase opens the SQLite database used as the link store. The
// connection pool is capped at a single connection: SQLite allows one writer
// at a time, and serializing at the pool level turns concurrent visit writes
// into queued writes instead of SQLITE_BUSY failures.
func OpenDatabase(name string) (*gorm.DB, error) {
	// TranslateError maps driver errors onto gorm sentinels, so a unique
	// constraint violation surfaces as gorm.ErrDuplicatedKey.
	db, err := gorm.Open(sqlite.Open(name), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", name, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying SQL database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
