package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"inboxvetter/internal/model"
)

var ErrUserNotFound = errors.New("user not found")
var ErrUserExists = errors.New("user already exists")

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) CreateUser(ctx context.Context, email, passwordHash string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	query := `
		INSERT INTO users (email, password_hash, settings)
		VALUES ($1, $2, '{}')
		ON CONFLICT (email) DO NOTHING
		RETURNING id, created_at
	`

	user := &model.User{
		Email:        email,
		PasswordHash: passwordHash,
		Role:         model.RoleUser,
		Settings:     model.Settings{},
	}
	err := r.db.QueryRow(ctx, query, email, passwordHash).Scan(&user.ID, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `
		SELECT id, email, password_hash, role, settings, created_at
		FROM users
		WHERE email = $1
	`

	var user model.User
	var settingsRaw []byte
	err := r.db.QueryRow(ctx, query, strings.ToLower(email)).Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&settingsRaw,
		&user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := json.Unmarshal(settingsRaw, &user.Settings); err != nil {
		return nil, fmt.Errorf("failed to decode user settings: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) ListUsers(ctx context.Context) ([]*model.User, error) {
	query := `
		SELECT id, email, password_hash, role, settings, created_at
		FROM users
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		var user model.User
		var settingsRaw []byte
		if err := rows.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Role, &settingsRaw, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if err := json.Unmarshal(settingsRaw, &user.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode user settings: %w", err)
		}
		users = append(users, &user)
	}
	return users, rows.Err()
}

func (r *UserRepository) GetRole(ctx context.Context, email string) (string, error) {
	var role string
	err := r.db.QueryRow(ctx, `SELECT role FROM users WHERE email = $1`, strings.ToLower(email)).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

func (r *UserRepository) GetSettings(ctx context.Context, email string) (model.Settings, error) {
	var raw []byte
	err := r.db.QueryRow(ctx, `SELECT settings FROM users WHERE email = $1`, strings.ToLower(email)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	var settings model.Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	return settings, nil
}

// UpdateSettings replaces the user's settings blob whole. Validation and
// clamping happen at run time, not here, so the stored shape stays loose.
func (r *UserRepository) UpdateSettings(ctx context.Context, email string, settings model.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE users SET settings = $2 WHERE email = $1`,
		strings.ToLower(email), raw,
	)
	if err != nil {
		return fmt.Errorf("failed to update settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// GetSubscription returns the user's billing state. Users with no
// subscription row are treated as free tier.
func (r *UserRepository) GetSubscription(ctx context.Context, email string) (*model.Subscription, error) {
	query := `
		SELECT email, plan, status, renews_at
		FROM subscriptions
		WHERE email = $1
	`

	var sub model.Subscription
	err := r.db.QueryRow(ctx, query, strings.ToLower(email)).Scan(
		&sub.Email,
		&sub.Plan,
		&sub.Status,
		&sub.RenewsAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.Subscription{Email: strings.ToLower(email), Plan: model.PlanFree}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (r *UserRepository) UpsertSubscription(ctx context.Context, sub *model.Subscription) error {
	query := `
		INSERT INTO subscriptions (email, plan, status, renews_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE
		SET plan = EXCLUDED.plan, status = EXCLUDED.status, renews_at = EXCLUDED.renews_at
	`

	_, err := r.db.Exec(ctx, query, strings.ToLower(sub.Email), sub.Plan, sub.Status, sub.RenewsAt)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return nil
}
