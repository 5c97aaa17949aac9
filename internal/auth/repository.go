package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrDuplicateUser = errors.New("user with this username or email already exists")

type userModel struct {
	ID                    int64      `gorm:"column:id;primaryKey"`
	Username              string     `gorm:"column:username"`
	Email                 string     `gorm:"column:email"`
	HashedPassword        string     `gorm:"column:hashed_password"`
	RefreshToken          *string    `gorm:"column:refresh_token"`
	RefreshTokenExpiresAt *time.Time `gorm:"column:refresh_token_expires_at"`
	Confirmed             bool       `gorm:"column:confirmed"`
	Role                  string     `gorm:"column:role"`
	Avatar                *string    `gorm:"column:avatar"`
	CreatedAt             time.Time  `gorm:"column:created_at"`
}

func (userModel) TableName() string { return "users" }

func (m userModel) toUser() User {
	user := User{
		ID:                    m.ID,
		Username:              m.Username,
		Email:                 m.Email,
		PasswordHash:          m.HashedPassword,
		RefreshTokenExpiresAt: m.RefreshTokenExpiresAt,
		Confirmed:             m.Confirmed,
		Role:                  Role(m.Role),
		CreatedAt:             m.CreatedAt,
	}
	if m.RefreshToken != nil {
		user.RefreshToken = *m.RefreshToken
	}
	if m.Avatar != nil {
		user.Avatar = *m.Avatar
	}
	if !user.Role.Valid() {
		user.Role = RoleUser
	}
	return user
}

// Repository is the user directory backed by PostgreSQL.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, id int64) (User, error) {
	return r.take(ctx, "id = ?", id)
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (User, error) {
	return r.take(ctx, "username = ?", username)
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.take(ctx, "email = ?", email)
}

func (r *Repository) GetByRefreshToken(ctx context.Context, username, refreshToken string) (User, error) {
	return r.take(ctx, "username = ? AND refresh_token = ?", username, refreshToken)
}

func (r *Repository) take(ctx context.Context, query string, args ...any) (User, error) {
	var rec userModel
	if err := r.db.WithContext(ctx).Where(query, args...).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user: %w", err)
	}
	return rec.toUser(), nil
}

func (r *Repository) Create(ctx context.Context, input NewUser) (User, error) {
	rec := userModel{
		Username:       input.Username,
		Email:          input.Email,
		HashedPassword: input.PasswordHash,
		Confirmed:      input.Confirmed,
		Role:           string(input.Role),
		CreatedAt:      time.Now().UTC(),
	}
	if input.Avatar != "" {
		avatar := input.Avatar
		rec.Avatar = &avatar
	}
	if rec.Role == "" {
		rec.Role = string(RoleUser)
	}

	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, ErrDuplicateUser
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return rec.toUser(), nil
}

func (r *Repository) SetConfirmed(ctx context.Context, email string) error {
	return r.update(ctx, map[string]any{"confirmed": true}, "email = ?", email)
}

// SetRefreshToken stores the single active refresh token of a user. An empty
// token clears it.
func (r *Repository) SetRefreshToken(ctx context.Context, username, token string, expiresAt *time.Time) error {
	values := map[string]any{"refresh_token": nil, "refresh_token_expires_at": nil}
	if token != "" {
		values["refresh_token"] = token
		values["refresh_token_expires_at"] = expiresAt
	}
	return r.update(ctx, values, "username = ?", username)
}

// ReplaceRefreshToken stores next only while current is still the stored
// token. ErrUserNotFound means it was replaced or cleared in the meantime.
func (r *Repository) ReplaceRefreshToken(ctx context.Context, username, current, next string, expiresAt *time.Time) error {
	values := map[string]any{"refresh_token": next, "refresh_token_expires_at": expiresAt}
	return r.update(ctx, values, "username = ? AND refresh_token = ?", username, current)
}

func (r *Repository) SetPasswordHash(ctx context.Context, email, hash string) error {
	return r.update(ctx, map[string]any{"hashed_password": hash}, "email = ?", email)
}

func (r *Repository) SetAvatar(ctx context.Context, email, url string) error {
	return r.update(ctx, map[string]any{"avatar": url}, "email = ?", email)
}

func (r *Repository) update(ctx context.Context, values map[string]any, query string, args ...any) error {
	res := r.db.WithContext(ctx).Model(&userModel{}).Where(query, args...).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpsertAdmin creates the bootstrap administrator or resets its credentials.
func (r *Repository) UpsertAdmin(ctx context.Context, input NewUser) error {
	rec := userModel{
		Username:       input.Username,
		Email:          input.Email,
		HashedPassword: input.PasswordHash,
		Confirmed:      true,
		Role:           string(RoleAdmin),
		CreatedAt:      time.Now().UTC(),
	}
	if input.Avatar != "" {
		avatar := input.Avatar
		rec.Avatar = &avatar
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "hashed_password", "confirmed", "role"}),
	}).Create(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("upsert admin user: %w", err)
	}

	return nil
}

// ClearExpiredRefreshTokens forgets at most batchSize refresh tokens that
// expired before now.
func (r *Repository) ClearExpiredRefreshTokens(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res := r.db.WithContext(ctx).Exec(`
		UPDATE users
		SET refresh_token = NULL, refresh_token_expires_at = NULL
		WHERE id IN (
			SELECT id FROM users
			WHERE refresh_token_expires_at IS NOT NULL AND refresh_token_expires_at < ?
			ORDER BY refresh_token_expires_at ASC
			LIMIT ?
		)
	`, now.UTC(), batchSize)
	if res.Error != nil {
		return 0, fmt.Errorf("clear expired refresh tokens: %w", res.Error)
	}

	return res.RowsAffected, nil
}
