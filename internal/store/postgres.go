package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/christopherjohns/chatrelay/internal/message"
	"github.com/christopherjohns/chatrelay/internal/store/migrations"
	"github.com/christopherjohns/chatrelay/internal/user"
)

const pgUniqueViolation = "23505"

// Postgres stores users and messages in two tables created by the
// embedded goose migrations.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// OpenPostgres connects with the pgx driver and applies migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewPostgres(db)
	if err := s.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// RunMigrations applies the embedded schema.
func (s *Postgres) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, s.db, ".")
}

func (s *Postgres) CreateUser(ctx context.Context, u *user.User) error {
	query :=
		`INSERT INTO users (username, password, created_at, last_login)
		 VALUES ($1, $2, $3, $4)`

	_, err := s.db.ExecContext(ctx, query, u.Username, u.Password, u.CreatedAt, u.LastLogin)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateUsername
		}
		return wrap("create_user", err)
	}
	return nil
}

func (s *Postgres) FindUser(ctx context.Context, username, password string) (*user.User, error) {
	query :=
		`SELECT username, password, created_at, last_login FROM users
		 WHERE username = $1 AND password = $2`

	u := &user.User{}
	err := s.db.QueryRowContext(ctx, query, username, password).
		Scan(&u.Username, &u.Password, &u.CreatedAt, &u.LastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("find_user", err)
	}
	return u, nil
}

func (s *Postgres) UpdateLastLogin(ctx context.Context, username string, at time.Time) error {
	query := `UPDATE users SET last_login = $1 WHERE username = $2`

	res, err := s.db.ExecContext(ctx, query, at, username)
	if err != nil {
		return wrap("update_last_login", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("update_last_login", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) InsertMessage(ctx context.Context, m *message.Message) error {
	query := `INSERT INTO messages (sender, message, sent_at) VALUES ($1, $2, $3)`

	if _, err := s.db.ExecContext(ctx, query, m.Sender, m.Content, m.Timestamp); err != nil {
		return wrap("insert_message", err)
	}
	return nil
}

func (s *Postgres) RecentMessages(ctx context.Context, limit int) ([]*message.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	query :=
		`SELECT sender, message, sent_at FROM messages
		 ORDER BY sent_at DESC, id DESC
		 LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, wrap("query_recent_messages", err)
	}
	defer rows.Close()

	var msgs []*message.Message
	for rows.Next() {
		m := &message.Message{Type: message.TypeChat}
		if err := rows.Scan(&m.Sender, &m.Content, &m.Timestamp); err != nil {
			return nil, wrap("query_recent_messages", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query_recent_messages", err)
	}
	return msgs, nil
}

func (s *Postgres) Close(ctx context.Context) error {
	return s.db.Close()
}
