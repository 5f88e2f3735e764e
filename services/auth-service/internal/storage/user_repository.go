package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/northpeak/studio/libs/db"
)

const emailIndex = "users_email_uidx"

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	DisplayName  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type UserRepository struct {
	db db.DBTX
}

func NewUserRepository(conn db.DBTX) *UserRepository {
	return &UserRepository{db: conn}
}

func (r *UserRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

const userColumns = `id::text, email, password_hash, role, display_name, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (r *UserRepository) CreateTx(ctx context.Context, tx pgx.Tx, user User) (User, error) {
	return scanUser(tx.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, role, display_name)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		user.Email, user.PasswordHash, user.Role, user.DisplayName))
}

// GetByEmail matches case-insensitively, like the unique index.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+`
		FROM users
		WHERE lower(email) = lower($1)
	`, email))
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id))
}

func (r *UserRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return users, nil
}

// UpdateTx changes role and display name. Empty values keep the current ones.
func (r *UserRepository) UpdateTx(ctx context.Context, tx pgx.Tx, id, role, displayName string) (User, error) {
	return scanUser(tx.QueryRow(ctx, `
		UPDATE users
		SET role = COALESCE(NULLIF($2, ''), role),
			display_name = COALESCE(NULLIF($3, ''), display_name),
			updated_at = now()
		WHERE id = $1
		RETURNING `+userColumns, id, role, displayName))
}

func (r *UserRepository) SetPasswordTx(ctx context.Context, tx pgx.Tx, id, passwordHash string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1
	`, id, passwordHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *UserRepository) DeleteTx(ctx context.Context, tx pgx.Tx, id string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n)
	return n, err
}

// CountAdminsTx locks admin rows so concurrent demotions cannot remove the last admin.
func (r *UserRepository) CountAdminsTx(ctx context.Context, tx pgx.Tx) (int, error) {
	rows, err := tx.Query(ctx, `SELECT id FROM users WHERE role = 'admin' FOR UPDATE`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		n++
	}
	return n, rows.Err()
}

func IsNotFound(err error) bool {
	return db.IsNotFound(err)
}

func IsDuplicateEmail(err error) bool {
	return db.IsUniqueViolationOn(err, emailIndex)
}
