package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"
)

type Kind string

const (
	KindCookieRefresh Kind = "cookie-refresh"
	KindAuthFailures  Kind = "auth-failures"
)

// Alert is a message for the operator.
type Alert struct {
	Kind    Kind
	Subject string
	Body    string
}

type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Sender is satisfied by *gomail.Dialer.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailNotifier struct {
	sender Sender
	from   string
	to     []string
}

func NewEmailNotifier(host string, port int, username, password, from string, to []string) *EmailNotifier {
	return &EmailNotifier{
		sender: gomail.NewDialer(host, port, username, password),
		from:   from,
		to:     to,
	}
}

func (n *EmailNotifier) Notify(ctx context.Context, a Alert) error {
	if len(n.to) == 0 {
		return fmt.Errorf("no alert recipients")
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", n.from)
	msg.SetHeader("To", n.to...)
	msg.SetHeader("Subject", "[vrschool-media] "+a.Subject)
	msg.SetBody("text/plain", a.Body)

	if err := n.sender.DialAndSend(msg); err != nil {
		return fmt.Errorf("send alert to %s: %w", strings.Join(n.to, ","), err)
	}
	log.Infof("sent %s alert to %s", a.Kind, strings.Join(n.to, ","))
	return nil
}

// LogNotifier is used when no SMTP server is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, a Alert) error {
	log.WithField("kind", a.Kind).Errorf("ALERT %s: %s", a.Subject, a.Body)
	return nil
}

// Throttled forwards at most one alert per kind per cooldown.
type Throttled struct {
	next     Notifier
	cooldown time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last map[Kind]time.Time
}

func NewThrottled(next Notifier, cooldown time.Duration) *Throttled {
	return &Throttled{
		next:     next,
		cooldown: cooldown,
		now:      time.Now,
		last:     map[Kind]time.Time{},
	}
}

func (t *Throttled) Notify(ctx context.Context, a Alert) error {
	t.mu.Lock()
	now := t.now()
	if last, ok := t.last[a.Kind]; ok && now.Sub(last) < t.cooldown {
		t.mu.Unlock()
		log.Debugf("suppressing %s alert, last sent %v ago", a.Kind, now.Sub(last))
		return nil
	}
	t.last[a.Kind] = now
	t.mu.Unlock()

	err := t.next.Notify(ctx, a)
	if err != nil {
		// let the next attempt through
		t.mu.Lock()
		delete(t.last, a.Kind)
		t.mu.Unlock()
	}
	return err
}
