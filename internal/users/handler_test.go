package users

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contacts-api/internal/auth"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeStore struct {
	key         string
	contentType string
	err         error
}

func (f *fakeStore) Upload(_ context.Context, key, contentType string, _ []byte) (string, error) {
	f.key = key
	f.contentType = contentType
	if f.err != nil {
		return "", f.err
	}
	return "https://cdn.example.com/" + key + ".png", nil
}

type fakeUpdater struct {
	err error
}

func (f *fakeUpdater) UpdateAvatar(_ context.Context, user auth.User, url string) (auth.User, error) {
	if f.err != nil {
		return auth.User{}, f.err
	}
	user.Avatar = url
	return user, nil
}

func avatarRequest(t *testing.T, user *auth.User) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "avatar.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPatch, "/api/users/avatar", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if user != nil {
		req = req.WithContext(auth.WithUser(req.Context(), *user))
	}
	return req
}

func TestMeReturnsPublicUser(t *testing.T) {
	h := NewHandler(&fakeUpdater{}, &fakeStore{})
	user := auth.User{ID: 3, Username: "alice", Email: "alice@example.com", PasswordHash: "secret-hash", Role: auth.RoleUser, Avatar: "https://a"}

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	req = req.WithContext(auth.WithUser(req.Context(), user))
	rec := httptest.NewRecorder()
	h.Me(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret-hash")

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "alice", got["username"])
	assert.Equal(t, "user", got["role"])
}

func TestMeWithoutUserIsUnauthorized(t *testing.T) {
	h := NewHandler(&fakeUpdater{}, &fakeStore{})
	rec := httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/api/users/me", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
}

func TestUpdateAvatarUploadsAndPersists(t *testing.T) {
	store := &fakeStore{}
	h := NewHandler(&fakeUpdater{}, store)
	admin := auth.User{ID: 1, Username: "root", Email: "root@example.com", Role: auth.RoleAdmin}

	rec := httptest.NewRecorder()
	auth.AdminOnly(http.HandlerFunc(h.UpdateAvatar)).ServeHTTP(rec, avatarRequest(t, &admin))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "avatars/root", store.key)
	assert.Equal(t, "image/png", store.contentType)
	assert.Contains(t, rec.Body.String(), "https://cdn.example.com/avatars/root.png")
}

func TestUpdateAvatarForbiddenForRegularUser(t *testing.T) {
	store := &fakeStore{}
	h := NewHandler(&fakeUpdater{}, store)
	user := auth.User{ID: 2, Username: "alice", Role: auth.RoleUser}

	rec := httptest.NewRecorder()
	auth.AdminOnly(http.HandlerFunc(h.UpdateAvatar)).ServeHTTP(rec, avatarRequest(t, &user))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, store.key)
}

func TestUpdateAvatarStoreFailure(t *testing.T) {
	h := NewHandler(&fakeUpdater{}, &fakeStore{err: errors.New("boom")})
	admin := auth.User{ID: 1, Username: "root", Role: auth.RoleAdmin}

	rec := httptest.NewRecorder()
	h.UpdateAvatar(rec, avatarRequest(t, &admin))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestUpdateAvatarWithoutStore(t *testing.T) {
	h := NewHandler(&fakeUpdater{}, nil)
	admin := auth.User{ID: 1, Username: "root", Role: auth.RoleAdmin}

	rec := httptest.NewRecorder()
	h.UpdateAvatar(rec, avatarRequest(t, &admin))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
