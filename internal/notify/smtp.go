package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPNotifier sends the report as a plain-text email, mirroring the
// original system's smtplib-based notification. It is provided for
// completeness, is not the default Notifier, and carries no retry or
// circuit-breaker wrapping: a failed send is returned to the caller as is.
// Scheduler.Run ignores that error on its early-exit paths and returns it,
// wrapped, for the final report of a batch.
type SMTPNotifier struct {
	addr     string
	from     string
	to       string
	user     string
	password string
}

// NewSMTPNotifier creates an SMTPNotifier that authenticates to addr
// (host:port) with user/password and sends from `from` to `to`.
func NewSMTPNotifier(addr, from, to, user, password string) *SMTPNotifier {
	return &SMTPNotifier{addr: addr, from: from, to: to, user: user, password: password}
}

// Notify implements Notifier.
func (n *SMTPNotifier) Notify(ctx context.Context, report Report) error {
	host := n.addr
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	auth := smtp.PlainAuth("", n.user, n.password, host)

	body := fmt.Sprintf(
		"Subject: %s batch report\r\n\r\nsubmitted: %v\nrejected: %v\ninvalid: %v\nerrors: %v\n",
		report.Worker, report.Submitted, report.Rejected, report.Invalid, report.Errors,
	)

	return smtp.SendMail(n.addr, auth, n.from, []string{n.to}, []byte(body))
}

var _ Notifier = (*SMTPNotifier)(nil)
