// Package email sends account and project notification mail over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
)

const appName = "hubo"

var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type Service struct {
	config   Config
	server   string
	auth     smtp.Auth
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config:   config,
		server:   config.Host + ":" + config.Port,
		auth:     auth,
		sendMail: smtp.SendMail,
	}
}

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart/alternative message with a plain-text
// fallback part.
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody, textBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	msg := s.buildMessage(to, subject, htmlBody, textBody)
	if err := s.sendMail(s.server, s.auth, s.config.From, to, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (s *Service) buildMessage(to []string, subject, htmlBody, textBody string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	if textBody == "" {
		textBody = "Please view this email in an HTML-capable email client."
	}
	boundary := "hubo-alternative"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, textBody)
	fmt.Fprintf(&msg, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

type messageData struct {
	AppName    string
	Heading    string
	Greeting   string
	Lines      []string
	ActionURL  string
	ActionText string
	Notice     string
	Footer     string
}

func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	data := messageData{
		AppName:    appName,
		Heading:    "Verify your email",
		Greeting:   "Welcome, " + userName + "!",
		Lines:      []string{"Please verify your email address to activate your account."},
		ActionURL:  verificationURL,
		ActionText: "Verify Email Address",
		Notice:     "This verification link will expire in 24 hours.",
		Footer:     "If you didn't create a " + appName + " account, you can ignore this email.",
	}
	html, err := render(data)
	if err != nil {
		return fmt.Errorf("render verification email: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, "Verify your "+appName+" account", html, "Verify your account: "+verificationURL)
}

func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := messageData{
		AppName:    appName,
		Heading:    "Password reset request",
		Greeting:   "Hi " + userName + ",",
		Lines:      []string{"We received a request to reset your password."},
		ActionURL:  resetURL,
		ActionText: "Reset Password",
		Notice:     "This reset link will expire in 1 hour.",
		Footer:     "If you didn't request a password reset, your password will remain unchanged.",
	}
	html, err := render(data)
	if err != nil {
		return fmt.Errorf("render password reset email: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, "Reset your "+appName+" password", html, "Reset your password: "+resetURL)
}

// StageNotice describes a committed backlog transition for the project owner.
type StageNotice struct {
	ProjectTitle    string
	FromStage       string
	ToStage         string
	Completed       bool
	GeneratedCount  int
	GenerationError string
	ProjectURL      string
}

func (s *Service) SendStageAdvancedEmail(to, userName string, notice StageNotice) error {
	data := messageData{
		AppName:    appName,
		Greeting:   "Hi " + userName + ",",
		ActionURL:  notice.ProjectURL,
		ActionText: "Open project",
		Footer:     "You receive this because you own the project.",
	}
	subject := fmt.Sprintf("%s moved to %s", notice.ProjectTitle, notice.ToStage)
	switch {
	case notice.Completed:
		subject = notice.ProjectTitle + " is completed"
		data.Heading = "Project completed"
		data.Lines = []string{fmt.Sprintf("Every %s task of %q is done and the project is now completed.", notice.FromStage, notice.ProjectTitle)}
	case notice.GenerationError != "":
		data.Heading = "Stage advanced, tasks missing"
		data.Lines = []string{
			fmt.Sprintf("%q moved from %s to %s.", notice.ProjectTitle, notice.FromStage, notice.ToStage),
			"Tasks for the new stage could not be generated. You can retry generation from the project page.",
		}
		data.Notice = notice.GenerationError
	default:
		data.Heading = "Stage advanced"
		data.Lines = []string{
			fmt.Sprintf("%q moved from %s to %s.", notice.ProjectTitle, notice.FromStage, notice.ToStage),
			fmt.Sprintf("%d new tasks are waiting in %s.", notice.GeneratedCount, notice.ToStage),
		}
	}
	html, err := render(data)
	if err != nil {
		return fmt.Errorf("render stage email: %w", err)
	}
	return s.SendHTMLEmail([]string{to}, subject, html, strings.Join(data.Lines, "\n"))
}

var messageTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Heading}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #5b3df5; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #5b3df5; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .notice { background: #fff3cd; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #5b3df5; }
    </style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>{{.Heading}}</h2>
    <p>{{.Greeting}}</p>
    {{range .Lines}}<p>{{.}}</p>
    {{end}}
    {{if .ActionURL}}<p><a href="{{.ActionURL}}" class="button">{{.ActionText}}</a></p>
    <p class="link">{{.ActionURL}}</p>{{end}}
    {{if .Notice}}<div class="notice">{{.Notice}}</div>{{end}}
    <div class="footer"><p>{{.Footer}}</p></div>
</body>
</html>`))

func render(data messageData) (string, error) {
	var buf bytes.Buffer
	if err := messageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
