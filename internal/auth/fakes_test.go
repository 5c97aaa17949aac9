package auth

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"contacts-api/internal/observability"
)

type memoryDirectory struct {
	mu     sync.Mutex
	nextID int64
	users  map[string]User

	lookups int
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{users: map[string]User{}}
}

func (d *memoryDirectory) add(user User) User {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	user.ID = d.nextID
	if user.Role == "" {
		user.Role = RoleUser
	}
	d.users[user.Username] = user
	return user
}

func (d *memoryDirectory) get(username string) User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.users[username]
}

func (d *memoryDirectory) GetByID(_ context.Context, id int64) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, user := range d.users {
		if user.ID == id {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (d *memoryDirectory) GetByUsername(_ context.Context, username string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	user, ok := d.users[username]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (d *memoryDirectory) GetByEmail(_ context.Context, email string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, user := range d.users {
		if user.Email == email {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (d *memoryDirectory) GetByRefreshToken(_ context.Context, username, refreshToken string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[username]
	if !ok || user.RefreshToken == "" || user.RefreshToken != refreshToken {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (d *memoryDirectory) Create(_ context.Context, input NewUser) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, user := range d.users {
		if user.Username == input.Username || user.Email == input.Email {
			return User{}, ErrDuplicateUser
		}
	}
	d.nextID++
	user := User{
		ID:           d.nextID,
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: input.PasswordHash,
		Avatar:       input.Avatar,
		Role:         input.Role,
		Confirmed:    input.Confirmed,
	}
	d.users[user.Username] = user
	return user, nil
}

func (d *memoryDirectory) mutateByEmail(email string, fn func(*User)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for name, user := range d.users {
		if user.Email == email {
			fn(&user)
			d.users[name] = user
			return nil
		}
	}
	return ErrUserNotFound
}

func (d *memoryDirectory) SetConfirmed(_ context.Context, email string) error {
	return d.mutateByEmail(email, func(u *User) { u.Confirmed = true })
}

func (d *memoryDirectory) SetRefreshToken(_ context.Context, username, token string, expiresAt *time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[username]
	if !ok {
		return ErrUserNotFound
	}
	user.RefreshToken = token
	user.RefreshTokenExpiresAt = expiresAt
	if token == "" {
		user.RefreshTokenExpiresAt = nil
	}
	d.users[username] = user
	return nil
}

func (d *memoryDirectory) ReplaceRefreshToken(_ context.Context, username, current, next string, expiresAt *time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[username]
	if !ok || user.RefreshToken == "" || user.RefreshToken != current {
		return ErrUserNotFound
	}
	user.RefreshToken = next
	user.RefreshTokenExpiresAt = expiresAt
	d.users[username] = user
	return nil
}

func (d *memoryDirectory) SetPasswordHash(_ context.Context, email, hash string) error {
	return d.mutateByEmail(email, func(u *User) { u.PasswordHash = hash })
}

func (d *memoryDirectory) SetAvatar(_ context.Context, email, url string) error {
	return d.mutateByEmail(email, func(u *User) { u.Avatar = url })
}

func (d *memoryDirectory) UpsertAdmin(_ context.Context, input NewUser) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[input.Username]
	if !ok {
		d.nextID++
		user = User{ID: d.nextID, Username: input.Username}
	}
	user.Email = input.Email
	user.PasswordHash = input.PasswordHash
	user.Avatar = input.Avatar
	user.Confirmed = true
	user.Role = RoleAdmin
	d.users[input.Username] = user
	return nil
}

type sentEmail struct {
	kind    string
	email   string
	baseURL string
	token   string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (n *recordingNotifier) SendConfirmation(_ context.Context, email, _, baseURL, token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEmail{kind: "confirm", email: email, baseURL: baseURL, token: token})
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, email, baseURL, token string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentEmail{kind: "reset", email: email, baseURL: baseURL, token: token})
}

func (n *recordingNotifier) last() sentEmail {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return sentEmail{}
	}
	return n.sent[len(n.sent)-1]
}

type countingObserver struct {
	hits, misses int
}

func (o *countingObserver) ObserveSessionCache(hit bool) {
	if hit {
		o.hits++
		return
	}
	o.misses++
}

type testEnv struct {
	directory *memoryDirectory
	issuer    *TokenIssuer
	hasher    *BcryptHasher
	cache     *MemorySessionCache
	notifier  *recordingNotifier
	observer  *countingObserver
	service   *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	issuer, err := NewTokenIssuer(TokenConfig{Secret: "test-secret"})
	require.NoError(t, err)

	env := &testEnv{
		directory: newMemoryDirectory(),
		issuer:    issuer,
		hasher:    NewBcryptHasher(4),
		cache:     NewMemorySessionCache(16, SessionCacheTTL),
		notifier:  &recordingNotifier{},
		observer:  &countingObserver{},
	}
	env.service = NewService(env.directory, env.issuer, env.hasher, env.cache, env.notifier)
	env.service.WithCacheObserver(env.observer)
	return env
}

// addConfirmedUser stores a confirmed user with the given password.
func (e *testEnv) addConfirmedUser(t *testing.T, username, email, password string, role Role) User {
	t.Helper()
	hash, err := e.hasher.Hash(password)
	require.NoError(t, err)
	return e.directory.add(User{Username: username, Email: email, PasswordHash: hash, Confirmed: true, Role: role})
}

func quietLogger() *observability.Logger {
	return observability.NewLoggerTo(&bytes.Buffer{}, "error")
}
