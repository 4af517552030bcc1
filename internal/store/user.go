package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/bidhouse/apiserver/types"
	"github.com/google/uuid"
)

// UserRepository handles persistence for accounts.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const selectUserColumns = `
		SELECT id, email, first_name, last_name, avatar, password_hash, created_at, updated_at
		FROM users`

func scanUser(row rowScanner) (types.Account, error) {
	var account types.Account
	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.FirstName,
		&account.LastName,
		&account.Avatar,
		&account.PasswordHash,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	return account, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.Account{}, ErrNotFound
	}
	return scanUser(r.db.QueryRowContext(ctx, selectUserColumns+` WHERE id = $1`, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.Account, error) {
	return scanUser(r.db.QueryRowContext(ctx, selectUserColumns+` WHERE email = $1`, email))
}

// Create inserts the account, assigning a new UUID when ID is empty.
// A duplicate email yields ErrConflict.
func (r *UserRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	const query = `
		INSERT INTO users (id, email, first_name, last_name, avatar, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		account.ID,
		account.Email,
		account.FirstName,
		account.LastName,
		account.Avatar,
		account.PasswordHash,
		account.CreatedAt,
		account.UpdatedAt,
	); err != nil {
		return types.Account{}, translate(err)
	}
	return account, nil
}

// Update writes the mutable profile fields (names, email, avatar) and
// returns the stored record.
func (r *UserRepository) Update(ctx context.Context, account types.Account) (types.Account, error) {
	if _, err := uuid.Parse(account.ID); err != nil {
		return types.Account{}, ErrNotFound
	}

	const query = `
		UPDATE users
		SET first_name = $1,
			last_name = $2,
			email = $3,
			avatar = $4,
			updated_at = $5
		WHERE id = $6
		RETURNING id, email, first_name, last_name, avatar, password_hash, created_at, updated_at`
	updated, err := scanUser(r.db.QueryRowContext(
		ctx,
		query,
		account.FirstName,
		account.LastName,
		account.Email,
		account.Avatar,
		time.Now().UTC(),
		account.ID,
	))
	if err != nil {
		return types.Account{}, translate(err)
	}
	return updated, nil
}

func (r *UserRepository) UpdateAvatarByEmail(ctx context.Context, email, avatar string) error {
	const query = `UPDATE users SET avatar = $1, updated_at = $2 WHERE email = $3`
	result, err := r.db.ExecContext(ctx, query, avatar, time.Now().UTC(), email)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	const query = `DELETE FROM users WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
