package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"
)

const (
	TemplateConfirmEmail  = "confirm_email.html"
	TemplateResetPassword = "reset_password.html"
)

//go:embed templates/*.html
var templateFiles embed.FS

var templates = template.Must(template.ParseFS(templateFiles, "templates/*.html"))

type confirmData struct {
	Username string
	Link     string
}

type resetData struct {
	Email string
	Token string
	Link  string
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func confirmationLink(baseURL, token string) string {
	return normalizeBase(baseURL) + "api/auth/confirmed_email/" + url.PathEscape(token)
}

func resetLink(baseURL string) string {
	return normalizeBase(baseURL) + "api/auth/confirm_password_reset"
}

func normalizeBase(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/"
}
