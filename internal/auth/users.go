package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY email ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, *u)
	}
	return items, rows.Err()
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE id = $1`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// UpdateUserRole changes another user's role. Admins cannot demote themselves.
func (s *Service) UpdateUserRole(ctx context.Context, actorID, userID, role string) (*User, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if !IsValidRole(role) {
		return nil, ErrInvalidRole
	}
	if actorID == userID && role != RoleAdmin {
		return nil, ErrForbidden
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET role = $1 WHERE id = $2`), role, userID)
	if err != nil {
		return nil, fmt.Errorf("update user role: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrUserNotFound
	}
	s.log.Info("user role updated", "user_id", userID, "role", role, "actor_id", actorID)
	return s.GetUser(ctx, userID)
}

// UpsertUser pre-provisions a user by email, or updates role and activity of
// an existing one. Deactivation revokes the user's open sessions.
func (s *Service) UpsertUser(ctx context.Context, email, role string, active bool) (*User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		role = s.roleFor(email)
	}
	if !IsValidRole(role) {
		return nil, ErrInvalidRole
	}
	if !s.DomainAllowed(email) {
		return nil, ErrDomainNotAllowed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	u, err := s.userByEmail(ctx, tx, email)
	switch {
	case errors.Is(err, ErrUserNotFound):
		u = &User{ID: uuid.NewString(), Email: email, CreatedAt: now}
		_, err = tx.ExecContext(ctx, s.q(`
			INSERT INTO users (id, email, role, is_active, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`), u.ID, email, role, active, now)
	case err != nil:
		return nil, err
	default:
		_, err = tx.ExecContext(ctx, s.q(`UPDATE users SET role = $1, is_active = $2 WHERE id = $3`), role, active, u.ID)
		if err == nil && !active {
			_, err = tx.ExecContext(ctx, s.q(`UPDATE auth_sessions SET revoked_at = $1 WHERE user_id = $2 AND revoked_at IS NULL`), now, u.ID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit user: %w", err)
	}
	u.Role = role
	u.IsActive = active
	return u, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
