package contacts

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"contacts-api/internal/auth"
	"contacts-api/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes expects to be mounted behind auth.RequireAuth.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.ListContacts)
	r.Post("/", h.CreateContact)
	r.Get("/birthdays", h.UpcomingBirthdays)
	r.Get("/{id}", h.GetContact)
	r.Put("/{id}", h.UpdateContact)
	r.Delete("/{id}", h.DeleteContact)
	return r
}

func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	skip, ok := queryInt(w, query.Get("skip"), 0, 0, -1, "skip")
	if !ok {
		return
	}
	limit, ok := queryInt(w, query.Get("limit"), DefaultLimit, 1, MaxLimit, "limit")
	if !ok {
		return
	}

	found, err := h.service.List(r.Context(), user.ID, ListFilter{
		Name:  query.Get("name"),
		Email: query.Get("email"),
		Skip:  skip,
		Limit: limit,
	})
	if err != nil {
		h.fail(w, err, "failed to list contacts")
		return
	}

	writeJSON(w, http.StatusOK, found)
}

func (h *Handler) UpcomingBirthdays(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	found, err := h.service.UpcomingBirthdays(r.Context(), user.ID)
	if err != nil {
		h.fail(w, err, "failed to list birthdays")
		return
	}

	writeJSON(w, http.StatusOK, found)
}

func (h *Handler) GetContact(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := contactID(w, r)
	if !ok {
		return
	}

	contact, err := h.service.Get(r.Context(), user.ID, id)
	if err != nil {
		h.fail(w, err, "failed to get contact")
		return
	}

	writeJSON(w, http.StatusOK, contact)
}

func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	contact, err := h.service.Create(r.Context(), user.ID, input)
	if err != nil {
		h.fail(w, err, "failed to create contact")
		return
	}

	writeJSON(w, http.StatusCreated, contact)
}

func (h *Handler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := contactID(w, r)
	if !ok {
		return
	}
	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	contact, err := h.service.Update(r.Context(), user.ID, id, input)
	if err != nil {
		h.fail(w, err, "failed to update contact")
		return
	}

	writeJSON(w, http.StatusOK, contact)
}

func (h *Handler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := contactID(w, r)
	if !ok {
		return
	}

	contact, err := h.service.Delete(r.Context(), user.ID, id)
	if err != nil {
		h.fail(w, err, "failed to delete contact")
		return
	}

	writeJSON(w, http.StatusOK, contact)
}

func (h *Handler) fail(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "Contact not found")
	case errors.Is(err, ErrIntegrity):
		writeError(w, http.StatusBadRequest, ErrIntegrity.Error())
	default:
		observability.CaptureError(err, map[string]string{"component": "contacts"})
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func currentUser(w http.ResponseWriter, r *http.Request) (auth.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, auth.ErrCouldNotValidate.Message)
		return auth.User{}, false
	}
	return user, true
}

func contactID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "invalid contact id")
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query value. max < 0 means unbounded.
func queryInt(w http.ResponseWriter, raw string, fallback, min, max int, name string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < min || (max >= 0 && value > max) {
		writeError(w, http.StatusUnprocessableEntity, name+" is invalid")
		return 0, false
	}
	return value, true
}

func parseInput(w http.ResponseWriter, r *http.Request) (ContactInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input ContactInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body is too large")
			return ContactInput{}, false
		}
		writeError(w, http.StatusUnprocessableEntity, "invalid json body")
		return ContactInput{}, false
	}

	input.FirstName = strings.TrimSpace(input.FirstName)
	input.LastName = strings.TrimSpace(input.LastName)
	input.Email = strings.TrimSpace(input.Email)
	input.Phone = strings.TrimSpace(input.Phone)

	if !runeLengthBetween(input.FirstName, 2, 50) {
		writeError(w, http.StatusUnprocessableEntity, "first_name must be between 2 and 50 characters")
		return ContactInput{}, false
	}
	if !runeLengthBetween(input.LastName, 2, 50) {
		writeError(w, http.StatusUnprocessableEntity, "last_name must be between 2 and 50 characters")
		return ContactInput{}, false
	}
	if !runeLengthBetween(input.Email, 7, 100) {
		writeError(w, http.StatusUnprocessableEntity, "email must be between 7 and 100 characters")
		return ContactInput{}, false
	}
	if addr, err := mail.ParseAddress(input.Email); err != nil || addr.Address != input.Email {
		writeError(w, http.StatusUnprocessableEntity, "email is invalid")
		return ContactInput{}, false
	}
	if !runeLengthBetween(input.Phone, 7, 20) {
		writeError(w, http.StatusUnprocessableEntity, "phone must be between 7 and 20 characters")
		return ContactInput{}, false
	}
	if input.Birthday.IsZero() {
		writeError(w, http.StatusUnprocessableEntity, "birthday is required")
		return ContactInput{}, false
	}

	return input, true
}

func runeLengthBetween(value string, min, max int) bool {
	n := utf8.RuneCountInString(value)
	return n >= min && n <= max
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}
