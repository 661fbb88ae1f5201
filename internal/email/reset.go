package email

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"net/url"
)

//go:embed templates/password_reset.html
var passwordResetHTML string

var passwordResetTmpl = template.Must(template.New("password_reset").Parse(passwordResetHTML))

type passwordResetData struct {
	Username string
	ResetURL string
}

// renderPasswordReset renders the HTML body for a password reset message.
func renderPasswordReset(username, serverURL, token string) (string, error) {
	data := passwordResetData{
		Username: username,
		ResetURL: resetURL(serverURL, username, token),
	}
	var buf bytes.Buffer
	if err := passwordResetTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render password reset template: %w", err)
	}
	return buf.String(), nil
}

func resetURL(serverURL, username, token string) string {
	return fmt.Sprintf("%s/users/%s/password?token=%s",
		serverURL, url.PathEscape(username), url.QueryEscape(token))
}
