package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"p2precon/internal/database"
	"p2precon/internal/model"
)

type UserRepo struct {
	db *database.DB
}

func NewUserRepo(db *database.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Create(ctx context.Context, u model.User) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO users (id, login, password_hash, is_admin, created_at) VALUES (?, ?, ?, ?, ?)`),
		u.ID, u.Login, string(u.PasswordHash), u.IsAdmin, u.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByLogin(ctx context.Context, login string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(
		`SELECT id, login, password_hash, is_admin, created_at FROM users WHERE login = ?`), login)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

func (r *UserRepo) List(ctx context.Context) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, login, password_hash, is_admin, created_at FROM users ORDER BY login`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return users, nil
}

func scanUser(s scanner) (model.User, error) {
	var (
		u         model.User
		hash      string
		createdAt string
	)
	if err := s.Scan(&u.ID, &u.Login, &hash, &u.IsAdmin, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, err
		}
		return model.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.PasswordHash = []byte(hash)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		u.CreatedAt = t
	}
	return u, nil
}
