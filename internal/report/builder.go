// Package report composes the human-readable outcome messages and renders
// them for mail delivery.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Success names the target that was renewed.
func Success(target string) string {
	return fmt.Sprintf("✅ Renewal completed: %s", target)
}

// NotFound lists the label variants that were tried.
func NotFound(labels []string) string {
	return fmt.Sprintf("❌ Renew button not found (tried %s), screenshot saved", strings.Join(labels, ", "))
}

// LoginFormIncomplete reports a login page without both credential fields.
func LoginFormIncomplete(found int) string {
	return fmt.Sprintf("❌ Login page has %d input field(s), need two for email and password", found)
}

// Failure carries the raw error description.
func Failure(err error) string {
	if err == nil {
		return "❌ Renewal script error: unknown"
	}
	return fmt.Sprintf("❌ Renewal script error: %v", err)
}

// ConfigError names the variables that must be set before running.
func ConfigError(missing []string) string {
	return fmt.Sprintf("❌ Set environment variables %s before running.", strings.Join(missing, " and "))
}

// InvalidConfig reports configuration that could not be turned into a run.
func InvalidConfig(err error) string {
	return fmt.Sprintf("❌ Invalid configuration: %v", err)
}

// Mail is a rendered message ready for SMTP delivery.
type Mail struct {
	Subject   string
	HTMLBody  string
	PlainBody string
}

type mailData struct {
	Title string
	Date  string
	Lines []string
	Image string // attachment content id, empty when there is no screenshot
}

var mailTemplate = template.Must(template.New("mail").Parse(defaultTemplate))

// Email renders text as a mail. cid references an inline screenshot
// attachment when non-empty.
func Email(text, cid string, now time.Time) (*Mail, error) {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	data := mailData{
		Title: subject(lines[0]),
		Date:  now.Format("Monday, January 2 15:04 MST"),
		Lines: lines,
		Image: cid,
	}

	var htmlBuf bytes.Buffer
	if err := mailTemplate.Execute(&htmlBuf, data); err != nil {
		return nil, errors.Wrap(err, "render mail template")
	}

	return &Mail{
		Subject:   fmt.Sprintf("renew4me: %s", data.Title),
		HTMLBody:  htmlBuf.String(),
		PlainBody: fmt.Sprintf("%s\n%s\n", text, data.Date),
	}, nil
}

func subject(line string) string {
	return truncate(strings.TrimSpace(line), 120)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        .date { color: #666; margin-bottom: 20px; }
        .line { margin: 6px 0; line-height: 1.4; word-break: break-all; }
        img { max-width: 100%; border: 1px solid #eee; margin-top: 15px; }
        .footer { margin-top: 20px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <div class="date">{{.Date}}</div>
        {{range .Lines}}<div class="line">{{.}}</div>
        {{end}}
        {{if .Image}}<img src="cid:{{.Image}}" alt="screenshot">{{end}}
        <div class="footer">Sent by renew4me</div>
    </div>
</body>
</html>`
