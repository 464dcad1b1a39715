package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"aepblueprint/internal/db"
	"aepblueprint/internal/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidEmail     = errors.New("invalid email")
	ErrDomainNotAllowed = errors.New("email domain not allowed")
	ErrInvalidCode      = errors.New("invalid login code")
	ErrCodeExpired      = errors.New("login code expired")
	ErrRateLimited      = errors.New("too many requests")
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidRole      = errors.New("invalid role")
)

const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	default:
		return false
	}
}

type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

type ServiceConfig struct {
	Dialect        db.Dialect
	AllowedDomains []string
	AdminEmails    []string
	DefaultRole    string
	SessionTTL     time.Duration
	CodeTTL        time.Duration
	ResendCooldown time.Duration
	MaxAttempts    int
	BcryptCost     int
	Mailer         CodeMailer
	Logger         *logger.Logger
	Now            func() time.Time
}

type Service struct {
	db             *sql.DB
	dialect        db.Dialect
	allowedDomains map[string]struct{}
	adminEmails    map[string]struct{}
	defaultRole    string
	sessionTTL     time.Duration
	codeTTL        time.Duration
	resendCooldown time.Duration
	maxAttempts    int
	bcryptCost     int
	mailer         CodeMailer
	log            *logger.Logger
	now            func() time.Time
}

func NewService(conn *sql.DB, cfg ServiceConfig) *Service {
	if cfg.Dialect == "" {
		cfg.Dialect = db.Postgres
	}
	if !IsValidRole(cfg.DefaultRole) {
		cfg.DefaultRole = RoleEditor
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 10 * time.Minute
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BcryptCost <= 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Mailer == nil {
		cfg.Mailer = NewLogMailer(nil)
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}

	return &Service{
		db:             conn,
		dialect:        cfg.Dialect,
		allowedDomains: lowerSet(cfg.AllowedDomains, func(d string) string { return strings.TrimPrefix(d, "@") }),
		adminEmails:    lowerSet(cfg.AdminEmails, nil),
		defaultRole:    cfg.DefaultRole,
		sessionTTL:     cfg.SessionTTL,
		codeTTL:        cfg.CodeTTL,
		resendCooldown: cfg.ResendCooldown,
		maxAttempts:    cfg.MaxAttempts,
		bcryptCost:     cfg.BcryptCost,
		mailer:         cfg.Mailer,
		log:            cfg.Logger,
		now:            cfg.Now,
	}
}

func lowerSet(items []string, fn func(string) string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.ToLower(strings.TrimSpace(it))
		if fn != nil {
			it = fn(it)
		}
		if it != "" {
			out[it] = struct{}{}
		}
	}
	return out
}

func (s *Service) q(query string) string {
	return s.dialect.Rebind(query)
}

// DomainAllowed reports whether email belongs to an allowed domain. An empty
// allow-list admits every domain.
func (s *Service) DomainAllowed(email string) bool {
	if len(s.allowedDomains) == 0 {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	_, ok := s.allowedDomains[strings.ToLower(email[at+1:])]
	return ok
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// RequestCode issues a fresh login code for email and hands it to the mailer.
func (s *Service) RequestCode(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if !s.DomainAllowed(email) {
		return ErrDomainNotAllowed
	}

	var active bool
	err = s.db.QueryRowContext(ctx, s.q(`SELECT is_active FROM users WHERE email = $1`), email).Scan(&active)
	switch {
	case err == nil && !active:
		return ErrForbidden
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("query login user: %w", err)
	}

	now := s.now()
	var lastCreated time.Time
	err = s.db.QueryRowContext(ctx, s.q(`
		SELECT created_at
		FROM auth_login_codes
		WHERE email = $1
		ORDER BY created_at DESC
		LIMIT 1
	`), email).Scan(&lastCreated)
	if err == nil && now.Sub(lastCreated) < s.resendCooldown {
		return ErrRateLimited
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query latest login code: %w", err)
	}

	code, err := generateCode(6)
	if err != nil {
		return fmt.Errorf("generate login code: %w", err)
	}
	codeHash, err := bcrypt.GenerateFromPassword([]byte(code), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash login code: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO auth_login_codes (id, email, code_hash, attempts, expires_at, created_at)
		VALUES ($1, $2, $3, 0, $4, $5)
	`), uuid.NewString(), email, string(codeHash), now.Add(s.codeTTL), now)
	if err != nil {
		return fmt.Errorf("insert login code: %w", err)
	}

	if err := s.mailer.SendCode(ctx, email, code); err != nil {
		s.log.Warn("login code delivery failed", "email", email, "error", err)
		return fmt.Errorf("send login code: %w", err)
	}
	s.log.Info("login code issued", "email", email)
	return nil
}

// VerifyCode consumes the latest unused code for email and returns the
// signed-in user, provisioning it on first login.
func (s *Service) VerifyCode(ctx context.Context, email, code string) (*User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCode
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrInvalidCode
	}
	if !s.DomainAllowed(email) {
		return nil, ErrDomainNotAllowed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		codeID    string
		codeHash  string
		expiresAt time.Time
		attempts  int
	)
	err = tx.QueryRowContext(ctx, s.q(`
		SELECT id, code_hash, expires_at, attempts
		FROM auth_login_codes
		WHERE email = $1 AND used_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`), email).Scan(&codeID, &codeHash, &expiresAt, &attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("load login code: %w", err)
	}

	now := s.now()
	if !now.Before(expiresAt) {
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE auth_login_codes SET used_at = $1 WHERE id = $2`), now, codeID); err != nil {
			return nil, fmt.Errorf("expire login code: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit expired code: %w", err)
		}
		return nil, ErrCodeExpired
	}
	if attempts >= s.maxAttempts {
		return nil, ErrRateLimited
	}

	if bcrypt.CompareHashAndPassword([]byte(codeHash), []byte(code)) != nil {
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE auth_login_codes SET attempts = attempts + 1 WHERE id = $1`), codeID); err != nil {
			return nil, fmt.Errorf("record failed attempt: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit failed attempt: %w", err)
		}
		return nil, ErrInvalidCode
	}

	if _, err := tx.ExecContext(ctx, s.q(`UPDATE auth_login_codes SET used_at = $1 WHERE id = $2`), now, codeID); err != nil {
		return nil, fmt.Errorf("consume login code: %w", err)
	}
	user, err := s.provisionUserTx(ctx, tx, email, now)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit login: %w", err)
	}
	s.log.Info("user signed in", "user_id", user.ID, "role", user.Role)
	return user, nil
}

func (s *Service) roleFor(email string) string {
	if _, ok := s.adminEmails[email]; ok {
		return RoleAdmin
	}
	return s.defaultRole
}

func (s *Service) provisionUserTx(ctx context.Context, tx *sql.Tx, email string, now time.Time) (*User, error) {
	u, err := s.userByEmail(ctx, tx, email)
	if errors.Is(err, ErrUserNotFound) {
		u = &User{ID: uuid.NewString(), Email: email, Role: s.roleFor(email), IsActive: true, CreatedAt: now}
		if _, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO users (id, email, role, is_active, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`), u.ID, u.Email, u.Role, true, now); err != nil {
			return nil, fmt.Errorf("provision user: %w", err)
		}
	} else if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrForbidden
	}
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE users SET last_login_at = $1 WHERE id = $2`), now, u.ID); err != nil {
		return nil, fmt.Errorf("touch last login: %w", err)
	}
	u.LastLoginAt = &now
	return u, nil
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const userColumns = `id, email, role, is_active, created_at, last_login_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u         User
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Role, &u.IsActive, &u.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLoginAt = &t
	}
	return &u, nil
}

func (s *Service) userByEmail(ctx context.Context, qr rowQueryer, email string) (*User, error) {
	u, err := scanUser(qr.QueryRowContext(ctx, s.q(`SELECT `+userColumns+` FROM users WHERE email = $1`), email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

func (s *Service) CreateSession(ctx context.Context, userID string) (string, time.Time, error) {
	token, err := generateToken(32)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate session token: %w", err)
	}
	now := s.now()
	expiresAt := now.Add(s.sessionTTL)

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO auth_sessions (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`), uuid.NewString(), userID, hashToken(token), expiresAt, now)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("insert session: %w", err)
	}
	return token, expiresAt, nil
}

// SessionUser resolves a session token. Sessions of users whose domain has
// since left the allow-list are refused with ErrDomainNotAllowed.
func (s *Service) SessionUser(ctx context.Context, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT u.id, u.email, u.role, u.is_active, u.created_at, u.last_login_at, s.expires_at, s.revoked_at
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1
	`), hashToken(token))

	var (
		u         User
		lastLogin sql.NullTime
		expiresAt time.Time
		revokedAt sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Role, &u.IsActive, &u.CreatedAt, &lastLogin, &expiresAt, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("query session user: %w", err)
	}
	if revokedAt.Valid || !s.now().Before(expiresAt) || !u.IsActive {
		return nil, ErrUnauthorized
	}
	if !s.DomainAllowed(u.Email) {
		return nil, ErrDomainNotAllowed
	}
	u.CreatedAt = u.CreatedAt.UTC()
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLoginAt = &t
	}
	return &u, nil
}

func (s *Service) RevokeSession(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE auth_sessions
		SET revoked_at = $1
		WHERE token_hash = $2
		  AND revoked_at IS NULL
	`), s.now(), hashToken(token))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func generateToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func generateCode(digits int) (string, error) {
	if digits <= 0 {
		digits = 6
	}
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}
