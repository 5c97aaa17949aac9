package auth

import "time"

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User is the principal resolved for authenticated requests.
type User struct {
	ID                    int64
	Username              string
	Email                 string
	PasswordHash          string
	RefreshToken          string
	RefreshTokenExpiresAt *time.Time
	Confirmed             bool
	Role                  Role
	Avatar                string
	CreatedAt             time.Time
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// PublicUser is the response shape of a user; it never carries secrets.
type PublicUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar"`
	Role     Role   `json:"role"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Avatar:   u.Avatar,
		Role:     u.Role,
	}
}

type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	Avatar       string
	Role         Role
	Confirmed    bool
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}
