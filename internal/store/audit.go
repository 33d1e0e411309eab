// Package store is the optional terminal-session audit trail described in
// SPEC_FULL.md's "Session & admission persistence" addition. It adapts the
// teacher's gorm + glebarez/sqlite + gorm.io/driver/postgres stack
// (database/migrations.go, models/session.go) from a chat/session/user
// domain into an append-only record of terminal sessions.
//
// Nothing in spec.md requires this — it exists purely as observability and
// is entirely optional (--audit-db unset means Store is never opened),
// honoring the "No persistence across server restarts" Non-goal for actual
// session/PTY *state*.
package store

import (
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SessionRecord is one terminal session's lifecycle, written once at
// teardown (spec.md §4.3 Termination).
type SessionRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	PeerAddr    string    `gorm:"size:255;index"`
	Path        string    `gorm:"size:255"`
	User        string    `gorm:"size:255"`
	StartedAt   time.Time
	EndedAt     time.Time
	ExitCode    int
	CloseCode   int
	CloseReason string `gorm:"size:255"`
}

func (r *SessionRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// Store wraps the gorm handle used for the audit trail.
type Store struct {
	DB *gorm.DB
}

// Open connects to dsn, picking the driver the way Nebulide picks between
// its Postgres and SQLite backends: a "postgres://" or "host=" DSN selects
// Postgres, anything else (including ":memory:" or a file path) selects the
// embedded, cgo-free glebarez/sqlite driver — handy for --once/dev/test
// runs that shouldn't require a Postgres instance.
func Open(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	if isPostgresDSN(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// Record persists a finished session. Errors are the caller's to log; the
// audit trail is best-effort and must never block session teardown.
func (s *Store) Record(rec SessionRecord) error {
	return s.DB.Create(&rec).Error
}
