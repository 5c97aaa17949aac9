package auth

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Directory is the persistent store of users.
type Directory interface {
	GetByID(ctx context.Context, id int64) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByRefreshToken(ctx context.Context, username, refreshToken string) (User, error)
	Create(ctx context.Context, input NewUser) (User, error)
	SetConfirmed(ctx context.Context, email string) error
	SetRefreshToken(ctx context.Context, username, token string, expiresAt *time.Time) error
	ReplaceRefreshToken(ctx context.Context, username, current, next string, expiresAt *time.Time) error
	SetPasswordHash(ctx context.Context, email, hash string) error
	SetAvatar(ctx context.Context, email, url string) error
	UpsertAdmin(ctx context.Context, input NewUser) error
}

// Notifier delivers account emails. Implementations must not block the caller.
type Notifier interface {
	SendConfirmation(ctx context.Context, email, username, baseURL, token string)
	SendPasswordReset(ctx context.Context, email, baseURL, token string)
}

type CacheObserver interface {
	ObserveSessionCache(hit bool)
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

type Service struct {
	directory Directory
	issuer    *TokenIssuer
	hasher    Hasher
	cache     SessionCache
	notifier  Notifier
	observer  CacheObserver
	cacheTTL  time.Duration
}

func NewService(directory Directory, issuer *TokenIssuer, hasher Hasher, cache SessionCache, notifier Notifier) *Service {
	return &Service{
		directory: directory,
		issuer:    issuer,
		hasher:    hasher,
		cache:     cache,
		notifier:  notifier,
		cacheTTL:  SessionCacheTTL,
	}
}

func (s *Service) WithCacheObserver(observer CacheObserver) {
	s.observer = observer
}

func (s *Service) Register(ctx context.Context, input RegisterInput, baseURL string) (User, error) {
	username := strings.TrimSpace(input.Username)
	email := normalizeEmail(input.Email)

	if _, err := s.directory.GetByEmail(ctx, email); err == nil {
		return User{}, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	if _, err := s.directory.GetByUsername(ctx, username); err == nil {
		return User{}, ErrUsernameTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	confirmation, err := s.issuer.EmailToken(email)
	if err != nil {
		return User{}, err
	}

	user, err := s.directory.Create(ctx, NewUser{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Avatar:       gravatarURL(email),
		Role:         RoleUser,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateUser) {
			return User{}, ErrEmailTaken
		}
		return User{}, err
	}

	s.notifier.SendConfirmation(ctx, user.Email, user.Username, baseURL, confirmation.Value)
	return user, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (Tokens, error) {
	username = strings.TrimSpace(username)

	user, err := s.directory.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Tokens{}, ErrInvalidCredentials
		}
		return Tokens{}, err
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return Tokens{}, ErrInvalidCredentials
	}
	if !user.Confirmed {
		return Tokens{}, ErrEmailNotConfirmed
	}

	access, err := s.issuer.AccessToken(user.Username)
	if err != nil {
		return Tokens{}, err
	}
	refresh, err := s.issuer.RefreshToken(user.Username)
	if err != nil {
		return Tokens{}, err
	}

	// A new refresh token replaces whatever an earlier login stored.
	if err := s.directory.SetRefreshToken(ctx, user.Username, refresh.Value, &refresh.ExpiresAt); err != nil {
		return Tokens{}, err
	}
	s.cache.Invalidate(ctx, user.Username)

	return Tokens{
		AccessToken:  access.Value,
		RefreshToken: refresh.Value,
		TokenType:    "bearer",
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	refreshToken = strings.TrimSpace(refreshToken)

	username, ok := s.issuer.decodeKind(refreshToken, KindRefresh)
	if !ok {
		return Tokens{}, ErrInvalidRefreshToken
	}

	user, err := s.directory.GetByRefreshToken(ctx, username, refreshToken)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Tokens{}, ErrInvalidRefreshToken
		}
		return Tokens{}, err
	}

	// A login since the lookup replaced the token; it must not come back.
	if err := s.directory.ReplaceRefreshToken(ctx, user.Username, refreshToken, refreshToken, user.RefreshTokenExpiresAt); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Tokens{}, ErrInvalidRefreshToken
		}
		return Tokens{}, err
	}

	access, err := s.issuer.AccessToken(user.Username)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:  access.Value,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
	}, nil
}

func (s *Service) Logout(ctx context.Context, user User) error {
	if err := s.directory.SetRefreshToken(ctx, user.Username, "", nil); err != nil && !errors.Is(err, ErrUserNotFound) {
		return err
	}
	s.cache.Invalidate(ctx, user.Username)
	return nil
}

func (s *Service) ConfirmEmail(ctx context.Context, token string) error {
	email, ok := s.issuer.decodeKind(token, KindEmailConfirmation)
	if !ok {
		return ErrInvalidEmailToken
	}

	user, err := s.directory.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrVerification
		}
		return err
	}
	if user.Confirmed {
		return ErrAlreadyConfirmed
	}

	if err := s.directory.SetConfirmed(ctx, email); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrVerification
		}
		return err
	}
	s.cache.Invalidate(ctx, user.Username)
	return nil
}

// RequestConfirmation re-sends the confirmation email. It reports true when
// the address is already confirmed and nothing was sent.
func (s *Service) RequestConfirmation(ctx context.Context, email, baseURL string) (bool, error) {
	user, err := s.directory.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, ErrUnknownUser
		}
		return false, err
	}
	if user.Confirmed {
		return true, nil
	}

	confirmation, err := s.issuer.EmailToken(user.Email)
	if err != nil {
		return false, err
	}
	s.notifier.SendConfirmation(ctx, user.Email, user.Username, baseURL, confirmation.Value)
	return false, nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, email, baseURL string) error {
	user, err := s.directory.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrResetEmailNotFound
		}
		return err
	}

	reset, err := s.issuer.ResetToken(user.Email, defaultResetHours)
	if err != nil {
		return err
	}
	s.notifier.SendPasswordReset(ctx, user.Email, baseURL, reset.Value)
	return nil
}

func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	email, ok := s.issuer.decodeKind(token, KindReset)
	if !ok {
		return ErrInvalidResetToken
	}

	user, err := s.directory.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrResetUserNotFound
		}
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.directory.SetPasswordHash(ctx, email, hash); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrResetUserNotFound
		}
		return err
	}
	s.cache.Invalidate(ctx, user.Username)
	return nil
}

// Authenticate resolves the principal of an access token, consulting the
// session cache before the directory.
func (s *Service) Authenticate(ctx context.Context, token string) (User, error) {
	claims, err := s.issuer.Decode(token)
	if err != nil {
		return User{}, ErrCouldNotValidate
	}
	if claims.Kind != KindAccess {
		return User{}, ErrCouldNotValidate
	}
	username := strings.TrimSpace(claims.Subject)
	if username == "" {
		return User{}, ErrCouldNotValidate
	}

	if user, ok := s.cache.Get(ctx, username); ok {
		s.observe(true)
		return user, nil
	}
	s.observe(false)

	user, err := s.directory.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrCouldNotValidate
		}
		return User{}, err
	}

	s.cache.Put(ctx, username, user, s.cacheTTL)
	return user, nil
}

func (s *Service) UpdateAvatar(ctx context.Context, user User, url string) (User, error) {
	if err := s.directory.SetAvatar(ctx, user.Email, url); err != nil {
		return User{}, err
	}
	s.cache.Invalidate(ctx, user.Username)
	return s.directory.GetByID(ctx, user.ID)
}

// BootstrapAdmin makes sure the configured administrator exists. Empty
// settings disable it.
func (s *Service) BootstrapAdmin(ctx context.Context, username, email, password string) error {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)

	if username == "" && email == "" && password == "" {
		return nil
	}
	if username == "" || email == "" || password == "" {
		return errors.New("ADMIN_USERNAME, ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.directory.UpsertAdmin(ctx, NewUser{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Avatar:       gravatarURL(email),
		Role:         RoleAdmin,
		Confirmed:    true,
	}); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, username)
	return nil
}

func (s *Service) observe(hit bool) {
	if s.observer != nil {
		s.observer.ObserveSessionCache(hit)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func gravatarURL(email string) string {
	sum := md5.Sum([]byte(normalizeEmail(email))) // #nosec G401: gravatar addresses images by MD5.
	return "https://www.gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "?d=identicon"
}
