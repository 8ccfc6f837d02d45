package postgres

import (
	"context"
	"fmt"

	"github.com/splax/apitrail/internal/domain"
)

const (
	userInsert = `INSERT INTO users (id, username, email, password_hash, roles, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	userColumns = `id, username, email, password_hash, roles, created_at`
)

// CreateUser inserts a user. A duplicate username maps to ErrConflict.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	if user == nil {
		return fmt.Errorf("user required")
	}
	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}
	_, err := r.pool.Exec(ctx, userInsert, user.ID, user.Username, emptyToNil(user.Email), user.PasswordHash, roles, user.CreatedAt.UTC())
	return mapError(err)
}

// GetUserByUsername fetches a user by login name.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *Repository) getUser(ctx context.Context, query string, arg string) (*domain.User, error) {
	var (
		u     domain.User
		email *string
	)
	if err := r.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &u.Roles, &u.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	if email != nil {
		u.Email = *email
	}
	return &u, nil
}
