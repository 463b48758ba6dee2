// Package votelog keeps a durable log of accepted chat votes.
package votelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/park285/crowd-chess-bot/pkg/overlaydto"
	_ "modernc.org/sqlite"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

var ErrUnknownDialect = errors.New("unknown database type")

// Record is one accepted vote.
type Record struct {
	ID      string
	GameID  string
	RoundID string
	User    string
	Move    string
	VotedAt time.Time
}

type Repository struct {
	db      *sql.DB
	dialect string
}

// Open connects to databaseURL with the given dialect ("postgres" or "sqlite") and
// creates the schema when missing.
func Open(ctx context.Context, dialect, databaseURL string) (*Repository, error) {
	dialect = strings.ToLower(strings.TrimSpace(dialect))
	if dialect == "" {
		dialect = DialectSQLite
	}
	if dialect == "postgresql" {
		dialect = DialectPostgres
	}
	if dialect != DialectPostgres && dialect != DialectSQLite {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open(dialect, databaseURL)
	if err != nil {
		return nil, err
	}
	if dialect == DialectSQLite {
		// One connection keeps ":memory:" databases shared and serialises writers.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		db.Close()
		return nil, err
	}
	r := &Repository{db: db, dialect: dialect}
	if err := r.migrate(pctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS chat_votes (
    id TEXT PRIMARY KEY,
    game_id TEXT NOT NULL,
    round_id TEXT NOT NULL,
    username TEXT NOT NULL,
    move TEXT NOT NULL,
    voted_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_votes_voted_at ON chat_votes(voted_at);
CREATE INDEX IF NOT EXISTS idx_chat_votes_game ON chat_votes(game_id)`

func (r *Repository) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// rebind turns "?" placeholders into "$n" for postgres.
func (r *Repository) rebind(q string) string {
	if r.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// AddVote appends rec. A missing ID or timestamp is filled in.
func (r *Repository) AddVote(ctx context.Context, rec Record) error {
	if r == nil || r.db == nil {
		return nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.VotedAt.IsZero() {
		rec.VotedAt = time.Now()
	}
	q := r.rebind(`INSERT INTO chat_votes (id, game_id, round_id, username, move, voted_at) VALUES (?,?,?,?,?,?)`)
	_, err := r.db.ExecContext(ctx, q, rec.ID, rec.GameID, rec.RoundID, rec.User, rec.Move, rec.VotedAt.UnixMilli())
	return err
}

// TopVoters ranks users by votes cast since the given time, most first, ties by name.
func (r *Repository) TopVoters(ctx context.Context, since time.Time, limit int) ([]overlaydto.VoterCount, error) {
	if limit <= 0 {
		return nil, nil
	}
	q := r.rebind(`SELECT username, COUNT(*) AS n FROM chat_votes
        WHERE voted_at >= ?
        GROUP BY username
        ORDER BY n DESC, username ASC
        LIMIT ?`)
	rows, err := r.db.QueryContext(ctx, q, since.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []overlaydto.VoterCount
	for rows.Next() {
		var vc overlaydto.VoterCount
		if err := rows.Scan(&vc.User, &vc.Votes); err != nil {
			return nil, err
		}
		out = append(out, vc)
	}
	return out, rows.Err()
}

// GameVotes counts the votes logged for gameID.
func (r *Repository) GameVotes(ctx context.Context, gameID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM chat_votes WHERE game_id = ?`), gameID).Scan(&n)
	return n, err
}
