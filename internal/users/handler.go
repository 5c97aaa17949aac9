package users

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"contacts-api/internal/auth"
	"contacts-api/internal/media"
	"contacts-api/internal/observability"
)

type AvatarUpdater interface {
	UpdateAvatar(ctx context.Context, user auth.User, url string) (auth.User, error)
}

type Handler struct {
	avatars AvatarUpdater
	store   media.AvatarStore
}

func NewHandler(avatars AvatarUpdater, store media.AvatarStore) *Handler {
	return &Handler{avatars: avatars, store: store}
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	writeJSON(w, http.StatusOK, user.Public())
}

// UpdateAvatar expects to run behind auth.AdminOnly.
func (h *Handler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, media.ErrNoStore.Error())
		return
	}

	img, err := media.ReadImage(w, r, "file")
	if err != nil {
		switch {
		case errors.Is(err, media.ErrFileTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, media.ErrNotAnImage):
			writeError(w, http.StatusUnsupportedMediaType, err.Error())
		default:
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}

	url, err := h.store.Upload(r.Context(), "avatars/"+user.Username, img.ContentType, img.Data)
	if err != nil {
		observability.CaptureError(err, map[string]string{"operation": "avatar_upload"})
		writeError(w, http.StatusBadGateway, "failed to upload image")
		return
	}

	updated, err := h.avatars.UpdateAvatar(r.Context(), user, url)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, auth.ErrResetUserNotFound.Message)
			return
		}
		observability.CaptureError(err, map[string]string{"operation": "avatar_update"})
		writeError(w, http.StatusInternalServerError, "failed to update avatar")
		return
	}

	writeJSON(w, http.StatusOK, updated.Public())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, auth.ErrCouldNotValidate.Message)
}
