package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenKind string

const (
	KindAccess            TokenKind = "access"
	KindRefresh           TokenKind = "refresh"
	KindEmailConfirmation TokenKind = "email_confirmation"
	KindReset             TokenKind = "reset"
)

const (
	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
	emailTokenTTL     = 7 * 24 * time.Hour
	defaultResetHours = 1
)

// Claims is the claim set of every token the issuer signs. Kind is always
// present; consumers must check it before trusting the subject.
type Claims struct {
	Kind TokenKind `json:"token_type"`
	jwt.RegisteredClaims
}

type SignedToken struct {
	Value     string
	ExpiresAt time.Time
}

type TokenConfig struct {
	Secret     string
	Algorithm  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type TokenIssuer struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("jwt secret is required")
	}

	alg := strings.ToUpper(strings.TrimSpace(cfg.Algorithm))
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm: %s", cfg.Algorithm)
	}

	issuer := &TokenIssuer{
		secret:     []byte(cfg.Secret),
		method:     method,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if cfg.AccessTTL > 0 {
		issuer.accessTTL = cfg.AccessTTL
	}
	if cfg.RefreshTTL > 0 {
		issuer.refreshTTL = cfg.RefreshTTL
	}

	return issuer, nil
}

// Issue signs a token for subject that expires ttl from now.
func (i *TokenIssuer) Issue(subject string, kind TokenKind, ttl time.Duration) (SignedToken, error) {
	now := i.now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	encoded, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return SignedToken{}, fmt.Errorf("sign jwt: %w", err)
	}

	return SignedToken{Value: encoded, ExpiresAt: expiresAt}, nil
}

func (i *TokenIssuer) AccessToken(username string) (SignedToken, error) {
	return i.Issue(username, KindAccess, i.accessTTL)
}

func (i *TokenIssuer) RefreshToken(username string) (SignedToken, error) {
	return i.Issue(username, KindRefresh, i.refreshTTL)
}

func (i *TokenIssuer) EmailToken(email string) (SignedToken, error) {
	return i.Issue(email, KindEmailConfirmation, emailTokenTTL)
}

func (i *TokenIssuer) ResetToken(email string, hours int) (SignedToken, error) {
	if hours <= 0 {
		hours = defaultResetHours
	}
	return i.Issue(email, KindReset, time.Duration(hours)*time.Hour)
}

// Decode verifies signature, algorithm and expiry. Any failure is ErrInvalidToken.
func (i *TokenIssuer) Decode(raw string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	return claims, nil
}

// decodeKind decodes raw and returns its subject when the token is of kind.
func (i *TokenIssuer) decodeKind(raw string, kind TokenKind) (string, bool) {
	claims, err := i.Decode(raw)
	if err != nil {
		return "", false
	}
	if claims.Kind != kind || strings.TrimSpace(claims.Subject) == "" {
		return "", false
	}
	return claims.Subject, true
}
