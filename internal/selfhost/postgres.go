package selfhost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bakaf/pixel/internal/db"
)

const uniqueViolation = "23505"

// PostgresAccountRepository provides PostgreSQL-backed persistence for accounts.
type PostgresAccountRepository struct {
	pool db.Pool
}

// NewPostgresAccountRepository constructs an account repository backed by PostgreSQL.
func NewPostgresAccountRepository(pool db.Pool) *PostgresAccountRepository {
	return &PostgresAccountRepository{pool: pool}
}

// Create persists a new account record.
func (r *PostgresAccountRepository) Create(ctx context.Context, account AccountRecord) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO accounts (id, email, name, password_hash, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `, account.ID, account.Email, account.Name, account.PasswordHash, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

// FindByID fetches an account by id.
func (r *PostgresAccountRepository) FindByID(ctx context.Context, id string) (AccountRecord, error) {
	return r.findOne(ctx, "id", id)
}

// FindByEmail fetches an account by its email address.
func (r *PostgresAccountRepository) FindByEmail(ctx context.Context, email string) (AccountRecord, error) {
	return r.findOne(ctx, "email", email)
}

func (r *PostgresAccountRepository) findOne(ctx context.Context, column, value string) (AccountRecord, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return AccountRecord{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	// column is one of two constants chosen above, never caller input.
	row := conn.QueryRow(ctx, `
        SELECT id, email, name, password_hash, created_at, updated_at
        FROM accounts
        WHERE `+column+` = $1
    `, value)

	var account AccountRecord
	if err := row.Scan(&account.ID, &account.Email, &account.Name, &account.PasswordHash, &account.CreatedAt, &account.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountRecord{}, ErrNotFound
		}
		return AccountRecord{}, fmt.Errorf("select account by %s: %w", column, err)
	}

	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()
	return account, nil
}

// PostgresSessionStore persists sessions to PostgreSQL.
type PostgresSessionStore struct {
	pool db.Pool
}

// NewPostgresSessionStore constructs a session store backed by PostgreSQL.
func NewPostgresSessionStore(pool db.Pool) *PostgresSessionStore {
	return &PostgresSessionStore{pool: pool}
}

// Save stores or updates a session record.
func (s *PostgresSessionStore) Save(ctx context.Context, session SessionRecord) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO sessions (token, id, account_id, provider, created_at, expires_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (token)
        DO UPDATE SET account_id = EXCLUDED.account_id, expires_at = EXCLUDED.expires_at
    `, session.Token, session.ID, session.AccountID, session.Provider, session.CreatedAt.UTC(), session.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	return nil
}

// Find loads a session by its token.
func (s *PostgresSessionStore) Find(ctx context.Context, token string) (SessionRecord, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return SessionRecord{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT token, id, account_id, provider, created_at, expires_at
        FROM sessions
        WHERE token = $1
    `, token)

	var session SessionRecord
	var createdAt, expiresAt time.Time
	if err := row.Scan(&session.Token, &session.ID, &session.AccountID, &session.Provider, &createdAt, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SessionRecord{}, ErrSessionNotFound
		}
		return SessionRecord{}, fmt.Errorf("select session: %w", err)
	}

	session.CreatedAt = createdAt.UTC()
	session.ExpiresAt = expiresAt.UTC()
	return session, nil
}

// Delete removes a session by its token.
func (s *PostgresSessionStore) Delete(ctx context.Context, token string) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        DELETE FROM sessions
        WHERE token = $1
    `, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}

	return nil
}

var _ AccountRepository = (*PostgresAccountRepository)(nil)
var _ SessionStore = (*PostgresSessionStore)(nil)
