package harvest

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/jordan-wright/email"
)

type EmailOptions struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

// EmailNotifier pushes run summaries over smtp.
type EmailNotifier struct {
	opts EmailOptions
}

var _ Notifier = EmailNotifier{}

func NewEmailNotifier(opts EmailOptions) EmailNotifier {
	return EmailNotifier{opts: opts}
}

func (n EmailNotifier) Notify(ctx context.Context, subject, body string) error {
	e := email.NewEmail()
	e.From = n.opts.From
	e.To = n.opts.To
	e.Subject = subject
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%d", n.opts.Host, n.opts.Port)
	var auth smtp.Auth
	if n.opts.Username != "" {
		auth = smtp.PlainAuth("", n.opts.Username, n.opts.Password, n.opts.Host)
	}
	return e.Send(addr, auth)
}
