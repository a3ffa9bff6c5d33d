package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/park285/chess-arena/internal/domain"
)

type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id          TEXT PRIMARY KEY,
	username    TEXT NOT NULL,
	elo         INTEGER NOT NULL DEFAULT 200,
	nationality TEXT NOT NULL DEFAULT '',
	profile_pic TEXT NOT NULL DEFAULT '',
	gender      TEXT NOT NULL DEFAULT 'O',
	played      INTEGER NOT NULL DEFAULT 0,
	won         INTEGER NOT NULL DEFAULT 0,
	lost        INTEGER NOT NULL DEFAULT 0,
	draws       INTEGER NOT NULL DEFAULT 0,
	stalemates  INTEGER NOT NULL DEFAULT 0
)`

var accountColumns = []string{
	"id", "username", "elo", "nationality", "profile_pic", "gender",
	"played", "won", "lost", "draws", "stalemates",
}

type SQLStore struct {
	db *sql.DB
	sb squirrel.StatementBuilderType
}

func NewSQL(db *sql.DB, dialect Dialect) *SQLStore {
	format := squirrel.PlaceholderFormat(squirrel.Question)
	if dialect == DialectPostgres {
		format = squirrel.Dollar
	}
	return &SQLStore{db: db, sb: squirrel.StatementBuilder.PlaceholderFormat(format)}
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate accounts: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Get(ctx context.Context, userID string) (*domain.Account, error) {
	query, args, err := s.sb.Select(accountColumns...).
		From("accounts").
		Where(squirrel.Eq{"id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build account query: %w", err)
	}

	var acc domain.Account
	st := &acc.GameStats
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&acc.ID, &acc.Username, &acc.Elo, &acc.Nationality, &acc.ProfilePic, &acc.Gender,
		&st.Played, &st.Won, &st.Lost, &st.Draw, &st.Stalemate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}
	return &acc, nil
}

func (s *SQLStore) Save(ctx context.Context, in *domain.Account) error {
	if in == nil || in.ID == "" {
		return errors.New("account id required")
	}
	acc := normalize(in)
	st := acc.GameStats
	query, args, err := s.sb.Insert("accounts").
		Columns(accountColumns...).
		Values(acc.ID, acc.Username, acc.Elo, acc.Nationality, acc.ProfilePic, acc.Gender,
			st.Played, st.Won, st.Lost, st.Draw, st.Stalemate).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			elo = excluded.elo,
			nationality = excluded.nationality,
			profile_pic = excluded.profile_pic,
			gender = excluded.gender,
			played = excluded.played,
			won = excluded.won,
			lost = excluded.lost,
			draws = excluded.draws,
			stalemates = excluded.stalemates`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build account upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

func (s *SQLStore) Apply(ctx context.Context, changes ...Change) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range changes {
		upd := s.sb.Update("accounts").
			Set("played", squirrel.Expr("played + ?", c.Played)).
			Set("won", squirrel.Expr("won + ?", c.Won)).
			Set("lost", squirrel.Expr("lost + ?", c.Lost)).
			Set("draws", squirrel.Expr("draws + ?", c.Draw)).
			Set("stalemates", squirrel.Expr("stalemates + ?", c.Stalemate)).
			Where(squirrel.Eq{"id": c.UserID})
		if c.Elo > 0 {
			upd = upd.Set("elo", c.Elo)
		}
		query, args, err := upd.ToSql()
		if err != nil {
			return fmt.Errorf("build account update: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update account %s: %w", c.UserID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("update account %s: %w", c.UserID, ErrNotFound)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
