package auth

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindConflict Kind = iota + 1
	KindUnauthorized
	KindBadRequest
	KindNotFound
	KindForbidden
)

func (k Kind) HTTPStatus() int {
	switch k {
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBadRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Error is a terminal flow error; Message is returned to the client as is.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

var (
	ErrEmailTaken          = newError(KindConflict, "Користувач з таким email вже існує")
	ErrUsernameTaken       = newError(KindConflict, "Користувач з таким іменем вже існує")
	ErrInvalidCredentials  = newError(KindUnauthorized, "Неправильний логін або пароль")
	ErrEmailNotConfirmed   = newError(KindUnauthorized, "Електронна адреса не підтверджена")
	ErrInvalidRefreshToken = newError(KindUnauthorized, "Invalid or expired refresh token")
	ErrCouldNotValidate    = newError(KindUnauthorized, "Could not validate credentials")
	ErrInvalidEmailToken   = newError(KindBadRequest, "Неправильний токен для перевірки електронної пошти")
	ErrVerification        = newError(KindBadRequest, "Verification error")
	ErrAlreadyConfirmed    = newError(KindBadRequest, "Ваша електронна пошта вже підтверджена")
	ErrUnknownUser         = newError(KindBadRequest, "Такого користувача не існує")
	ErrInvalidResetToken   = newError(KindBadRequest, "Невірний або прострочений токен")
	ErrResetEmailNotFound  = newError(KindNotFound, "Користувача з таким email не знайдено")
	ErrResetUserNotFound   = newError(KindNotFound, "Користувач не знайдений")
	ErrForbidden           = newError(KindForbidden, "Недостатньо прав доступу")
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidToken = errors.New("invalid token")
)

// AsError extracts a flow error from err, if any.
func AsError(err error) (*Error, bool) {
	var flowErr *Error
	if errors.As(err, &flowErr) {
		return flowErr, true
	}
	return nil, false
}
