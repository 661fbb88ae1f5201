// Package page serves the small browser-facing HTML pages linked from
// emails, outside the JSON API surface.
package page

import (
	"bytes"
	"html/template"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

var resetTmpl = template.Must(template.New("reset").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Roboto,Helvetica,Arial,sans-serif;
background:#f4f5f7;display:flex;align-items:center;justify-content:center;min-height:100vh;padding:1rem}
.card{background:#fff;border-radius:8px;box-shadow:0 2px 8px rgba(0,0,0,.08);max-width:440px;width:100%;
padding:2.5rem 2rem;text-align:center;border-top:4px solid {{.AccentColor}}}
h1{font-size:1.25rem;color:#1a1a2e;margin-bottom:.75rem}
p{font-size:.95rem;color:#555;line-height:1.5;margin-bottom:1rem}
input{width:100%;padding:.6rem .75rem;border:1px solid #ccc;border-radius:4px;font-size:.95rem;margin-bottom:1rem}
button{width:100%;padding:.6rem;border:0;border-radius:4px;background:{{.AccentColor}};color:#fff;
font-size:.95rem;cursor:pointer}
</style>
</head>
<body>
<div class="card">
<h1>{{.Heading}}</h1>
<p>{{.Message}}</p>
{{if .ShowForm}}
<form method="post">
<input type="password" name="password" placeholder="New password" minlength="8" required autofocus>
<button type="submit">Set Password</button>
</form>
{{end}}
</div>
</body>
</html>`))

type resetData struct {
	Title       string
	Heading     string
	Message     string
	AccentColor string
	ShowForm    bool
}

// ResetHandler serves the password reset form that reset emails link to. The
// form posts back to the same URL, where the JSON API consumes the token.
type ResetHandler struct{}

// NewResetHandler creates a new ResetHandler.
func NewResetHandler() *ResetHandler {
	return &ResetHandler{}
}

// ResetPassword handles GET /users/{username}/password?token=... by rendering
// the new-password form. The token stays in the query string so the form post
// carries it through unchanged.
func (h *ResetHandler) ResetPassword(c fiber.Ctx) error {
	if c.Query("token") == "" {
		return renderPage(c, fiber.StatusBadRequest, resetData{
			Title:       "NetsBlox Password Reset",
			Heading:     "Missing Token",
			Message:     "No reset token was provided. Please use the link from your password reset email.",
			AccentColor: "#e74c3c",
		})
	}

	return renderPage(c, fiber.StatusOK, resetData{
		Title:       "NetsBlox Password Reset",
		Heading:     "Reset Your Password",
		Message:     "Choose a new password for your NetsBlox account.",
		AccentColor: "#2ecc71",
		ShowForm:    true,
	})
}

// renderPage executes the template into a buffer and writes the complete HTML
// response. Buffering prevents partial writes if template execution fails.
func renderPage(c fiber.Ctx, status int, data resetData) error {
	var buf bytes.Buffer
	if err := resetTmpl.Execute(&buf, data); err != nil {
		log.Error().Err(err).Msg("Failed to render reset page template")
		return c.Status(fiber.StatusInternalServerError).SendString("internal server error")
	}
	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.Status(status).Send(buf.Bytes())
}
