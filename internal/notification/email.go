package notification

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"

	"gopkg.in/gomail.v2"

	"infra-alert/internal/config"
)

// EmailChannel sends through SMTP. A non-empty target overrides the configured To list.
type EmailChannel struct {
	From          string
	To            []string
	SubjectPrefix string

	dialer *gomail.Dialer
}

func NewEmailChannel(cfg config.EmailConfig) *EmailChannel {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.UseTLS
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.TLSSkipVerify,
	}
	return &EmailChannel{
		From:          cfg.From,
		To:            cfg.To,
		SubjectPrefix: cfg.SubjectPrefix,
		dialer:        d,
	}
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) Send(ctx context.Context, target string, msg Message) (Handle, error) {
	to := e.To
	if target != "" {
		to = []string{target}
	}
	if len(to) == 0 {
		return "", fmt.Errorf("email: no recipients")
	}
	m := e.buildMessage(to, msg)

	// gomail 不支持 context，放到 goroutine 中以便超时返回
	done := make(chan error, 1)
	go func() { done <- e.dialer.DialAndSend(m) }()
	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("email: %w", err)
		}
		return Handle(msg.ID), nil
	case <-ctx.Done():
		return "", fmt.Errorf("email: %w", ctx.Err())
	}
}

func (e *EmailChannel) Delete(ctx context.Context, target string, h Handle) error {
	return ErrDeleteUnsupported
}

func (e *EmailChannel) buildMessage(to []string, msg Message) *gomail.Message {
	subject := Title(msg)
	if e.SubjectPrefix != "" {
		subject = e.SubjectPrefix + " " + subject
	}
	m := gomail.NewMessage()
	m.SetHeader("From", e.From)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", Render(msg))
	m.AddAlternative("text/html", emailHTML(subject, msg))
	return m
}

func emailHTML(subject string, msg Message) string {
	border := "#f5c6cb"
	background := "#fdecea"
	if !msg.Critical() {
		border = "#ffe08a"
		background = "#fff8e1"
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>%s</title>
  <style>
    body { font-family: -apple-system,BlinkMacSystemFont,Segoe UI,Roboto,Helvetica,Arial,sans-serif; margin: 20px; color: #333; }
    .card { border-radius: 10px; border: 1px solid %s; background-color: %s; padding: 16px 20px; margin-bottom: 20px; }
    .card h2 { margin: 0 0 8px 0; }
    .content { background: #f8f9fa; border-radius: 6px; padding: 12px 16px; white-space: pre; font-family: Menlo,Consolas,monospace; }
  </style>
</head>
<body>
  <div class="card">
    <h2>%s</h2>
  </div>
  <div class="content">%s</div>
</body>
</html>
`, html.EscapeString(subject), border, background, html.EscapeString(subject), html.EscapeString(Render(msg)))
}
