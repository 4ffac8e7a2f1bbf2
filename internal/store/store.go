package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mgmtsuite/mailsync/internal/database"
)

// Store is the mailbox data layer. All components read and write mailbox
// state through it.
type Store struct {
	db *database.DB
}

// New creates a Store on top of an initialized database.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying database for components that run their own
// transactions against mailbox state.
func (s *Store) DB() *database.DB {
	return s.db
}

func encodeAddresses(addrs []string) string {
	if len(addrs) == 0 {
		return "[]"
	}
	b, err := json.Marshal(addrs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeAddresses(raw string) []string {
	var addrs []string
	if err := json.Unmarshal([]byte(raw), &addrs); err != nil {
		return nil
	}
	return addrs
}

// nullTime converts a nullable column value to *time.Time.
func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
