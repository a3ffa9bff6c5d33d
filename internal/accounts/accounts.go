// Package accounts persists player records: rating and game counters.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/park285/chess-arena/internal/domain"
)

var ErrNotFound = errors.New("account not found")

// Change is a counter delta for one account. Elo replaces the stored
// rating when positive.
type Change struct {
	UserID    string
	Elo       int
	Played    int
	Won       int
	Lost      int
	Draw      int
	Stalemate int
}

type Store interface {
	Get(ctx context.Context, userID string) (*domain.Account, error)
	Save(ctx context.Context, acc *domain.Account) error
	// Apply commits all changes or none.
	Apply(ctx context.Context, changes ...Change) error
	Close() error
}

// Open picks a backend from the URL: postgres:// and postgresql:// use lib/pq,
// sqlite:<path> and file:<path> use go-sqlite3, an empty URL keeps accounts in memory.
func Open(ctx context.Context, rawURL string) (Store, error) {
	raw := strings.TrimSpace(rawURL)
	switch {
	case raw == "":
		return NewMemory(), nil
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		db, err := sql.Open("postgres", raw)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		return openSQL(ctx, db, DialectPostgres)
	case strings.HasPrefix(raw, "sqlite:"), strings.HasPrefix(raw, "file:"):
		path := strings.TrimPrefix(raw, "sqlite:")
		db, err := sql.Open("sqlite3", path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		return openSQL(ctx, db, DialectSQLite)
	default:
		return nil, fmt.Errorf("unsupported DATABASE_URL scheme: %q", raw)
	}
}

func openSQL(ctx context.Context, db *sql.DB, dialect Dialect) (Store, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := NewSQL(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func normalize(acc *domain.Account) domain.Account {
	out := *acc
	out.ID = strings.TrimSpace(out.ID)
	if out.Elo <= 0 {
		out.Elo = domain.DefaultElo
	}
	return out
}
