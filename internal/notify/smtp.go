package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// SMTPConfig holds mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	To       string
}

// SMTPNotifier emails the reviewer. STARTTLS is negotiated when offered.
type SMTPNotifier struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPNotifier creates an SMTPNotifier. From defaults to the user name.
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	if cfg.From == "" {
		cfg.From = cfg.User
	}
	return &SMTPNotifier{cfg: cfg, send: smtp.SendMail}
}

// Configured reports whether credentials and a recipient are set.
func (n *SMTPNotifier) Configured() bool {
	return n.cfg.Host != "" && n.cfg.User != "" && n.cfg.Password != "" && n.cfg.To != ""
}

var bodyTemplate = template.Must(template.New("review").Parse(`<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2>Human review required</h2>
  <p>The validator flagged risks in the analysis of <strong>{{.Reference}}</strong>.</p>
  <table>
    <tr><td>Risk level:</td><td><strong>{{.Risk}}</strong></td></tr>
    <tr><td>Run ID:</td><td><code>{{.RunID}}</code></td></tr>
  </table>
  <h3>Alerts</h3>
  <ul>{{range .Alerts}}<li>{{.}}</li>{{end}}</ul>
  <p><a href="{{.ReviewURL}}">Review analysis</a></p>
</body>
</html>`))

// Notify sends the review email. It returns ErrNotConfigured when SMTP is
// not set up.
func (n *SMTPNotifier) Notify(ctx context.Context, ev Event) error {
	if !n.Configured() {
		return ErrNotConfigured
	}
	msg, err := n.message(ev)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	auth := smtp.PlainAuth("", n.cfg.User, n.cfg.Password, n.cfg.Host)

	done := make(chan error, 1)
	go func() { done <- n.send(addr, auth, n.cfg.From, []string{n.cfg.To}, msg) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *SMTPNotifier) message(ev Event) ([]byte, error) {
	var body bytes.Buffer
	err := bodyTemplate.Execute(&body, struct {
		Reference, Risk, RunID, ReviewURL string
		Alerts                            []string
	}{ev.Reference, strings.ToUpper(ev.RiskLevel), ev.RunID, ev.ReviewURL, ev.Alerts})
	if err != nil {
		return nil, fmt.Errorf("render mail: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", n.cfg.To)
	fmt.Fprintf(&msg, "Subject: HITL Review Required - %s [%s]\r\n", ev.Reference, strings.ToUpper(ev.RiskLevel))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}
