package repository

import (
	"context"
	"fmt"

	"github.com/EchoWang-1/Flight-Servers/internal/domain"
)

type PGUserRepository struct {
	db querier
}

const userColumns = `username, password_hash, realname, phone, email, COALESCE(id_card, '')`

func (r *PGUserRepository) Create(ctx context.Context, u *domain.User) error {
	var idCard any
	if u.IDCard != "" {
		idCard = u.IDCard
	}
	_, err := r.db.Exec(ctx, `INSERT INTO users (username, password_hash, realname, phone, email, id_card)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.Username, u.PasswordHash, u.RealName, u.Phone, u.Email, idCard)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s", ErrConflict, u.Username)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *PGUserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *PGUserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone)
}

func (r *PGUserRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	var u domain.User
	if err := r.db.QueryRow(ctx, query, arg).Scan(&u.Username, &u.PasswordHash, &u.RealName, &u.Phone, &u.Email, &u.IDCard); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (r *PGUserRepository) Exists(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username)
}

func (r *PGUserRepository) PhoneExists(ctx context.Context, phone string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE phone = $1)`, phone)
}

func (r *PGUserRepository) IDCardExists(ctx context.Context, idCard string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id_card = $1)`, idCard)
}

func (r *PGUserRepository) exists(ctx context.Context, query string, arg any) (bool, error) {
	var ok bool
	if err := r.db.QueryRow(ctx, query, arg).Scan(&ok); err != nil {
		return false, fmt.Errorf("query user existence: %w", err)
	}
	return ok, nil
}

func (r *PGUserRepository) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	res, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE username = $1`, username, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ UserRepository = (*PGUserRepository)(nil)
