package auth

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
)

const maxJSONBodyBytes = 1 << 20

const (
	minPasswordLength = 6
	maxPasswordLength = 72
	maxUsernameLength = 50
)

type Handler struct {
	service       *Service
	publicBaseURL string
}

func NewHandler(service *Service, publicBaseURL string) *Handler {
	return &Handler{service: service, publicBaseURL: strings.TrimSpace(publicBaseURL)}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type passwordResetConfirmRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	body.Username = strings.TrimSpace(body.Username)
	body.Email = strings.TrimSpace(body.Email)
	if body.Username == "" || utf8.RuneCountInString(body.Username) > maxUsernameLength {
		writeError(w, http.StatusUnprocessableEntity, "username is invalid")
		return
	}
	if !validEmail(body.Email) {
		writeError(w, http.StatusUnprocessableEntity, "email is invalid")
		return
	}
	if len(body.Password) < minPasswordLength || len(body.Password) > maxPasswordLength {
		writeError(w, http.StatusUnprocessableEntity, "password must be between 6 and 72 bytes")
		return
	}

	user, err := h.service.Register(r.Context(), RegisterInput{
		Username: body.Username,
		Email:    body.Email,
		Password: body.Password,
	}, h.baseURL(r))
	if err != nil {
		h.fail(w, err, "failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, user.Public())
}

// Login accepts the OAuth2 password form as well as a JSON body.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if !decodeJSON(w, r, &body) {
			return
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		body.Username = r.PostForm.Get("username")
		body.Password = r.PostForm.Get("password")
	}

	body.Username = strings.TrimSpace(body.Username)
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "username and password are required")
		return
	}

	tokens, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		h.fail(w, err, "failed to login")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	tokens, err := h.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		h.fail(w, err, "failed to refresh token")
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeFlowError(w, ErrCouldNotValidate)
		return
	}

	if err := h.service.Logout(r.Context(), user); err != nil {
		h.fail(w, err, "failed to logout")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if err := h.service.ConfirmEmail(r.Context(), token); err != nil {
		h.fail(w, err, "failed to confirm email")
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Електронну пошту підтверджено"})
}

func (h *Handler) RequestEmail(w http.ResponseWriter, r *http.Request) {
	var body emailRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if !validEmail(body.Email) {
		writeError(w, http.StatusUnprocessableEntity, "email is invalid")
		return
	}

	alreadyConfirmed, err := h.service.RequestConfirmation(r.Context(), body.Email, h.baseURL(r))
	if err != nil {
		h.fail(w, err, "failed to request confirmation email")
		return
	}
	if alreadyConfirmed {
		writeJSON(w, http.StatusOK, messageResponse{Message: "Ваша електронна пошта вже підтверджена"})
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Перевірте свою електронну пошту для підтвердження"})
}

func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body emailRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if !validEmail(body.Email) {
		writeError(w, http.StatusUnprocessableEntity, "email is invalid")
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), body.Email, h.baseURL(r)); err != nil {
		h.fail(w, err, "failed to request password reset")
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Посилання для скидання пароля відправлено на ваш email."})
}

func (h *Handler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body passwordResetConfirmRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if len(body.NewPassword) < minPasswordLength || len(body.NewPassword) > maxPasswordLength {
		writeError(w, http.StatusUnprocessableEntity, "password must be between 6 and 72 bytes")
		return
	}

	if err := h.service.ConfirmPasswordReset(r.Context(), body.Token, body.NewPassword); err != nil {
		h.fail(w, err, "failed to reset password")
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "Пароль успішно змінено"})
}

func (h *Handler) fail(w http.ResponseWriter, err error, fallback string) {
	if flowErr, ok := AsError(err); ok {
		writeFlowError(w, flowErr)
		return
	}
	sentry.CaptureException(err)
	writeError(w, http.StatusInternalServerError, fallback)
}

func (h *Handler) baseURL(r *http.Request) string {
	if h.publicBaseURL != "" {
		return strings.TrimRight(h.publicBaseURL, "/") + "/"
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); forwarded != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(forwarded, ",")[0]))
	}

	return scheme + "://" + r.Host + "/"
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body is too large")
			return false
		}
		writeError(w, http.StatusUnprocessableEntity, "invalid json body")
		return false
	}
	return true
}

func validEmail(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" || len(value) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(value)
	return err == nil && addr.Address == value
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, message)
}

func writeFlowError(w http.ResponseWriter, err *Error) {
	if err.Kind == KindUnauthorized {
		writeUnauthorized(w, err.Message)
		return
	}
	writeError(w, err.Kind.HTTPStatus(), err.Message)
}
