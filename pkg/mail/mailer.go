package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrSMTPDisabled signals that SMTP delivery is disabled via configuration.
var ErrSMTPDisabled = errors.New("smtp: delivery disabled")

// ErrThrottled is returned when the outbound send budget is exhausted and the caller's
// context ends before a slot frees up.
var ErrThrottled = errors.New("mail: outbound throttle exceeded")

// Message represents an outbound email.
type Message struct {
	From    string
	To      []string
	Subject string
	Body    string
}

// Mailer defines behaviour for sending email messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, msg Message) error

// Send implements Mailer.
func (f MailerFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// LogMailer records deliveries in the log instead of sending them. Bodies are never
// logged because they carry sign-in links.
type LogMailer struct {
	Logger *zap.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(_ context.Context, msg Message) error {
	recipients := uniqueAddresses(msg.To)
	if len(recipients) == 0 {
		return errors.New("mail: at least one recipient is required")
	}
	if m.Logger != nil {
		m.Logger.Info("mail delivery skipped (smtp disabled)",
			zap.Int("recipients", len(recipients)),
			zap.String("subject", msg.Subject),
		)
	}
	return nil
}

// ThrottledMailer bounds the rate at which messages are handed to the wrapped mailer so
// bursts of link requests cannot exhaust the upstream relay quota.
type ThrottledMailer struct {
	next    Mailer
	limiter *rate.Limiter
}

// NewThrottledMailer wraps next with a token bucket allowing perSecond sends and the
// given burst. A non-positive rate disables throttling.
func NewThrottledMailer(next Mailer, perSecond float64, burst int) Mailer {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &ThrottledMailer{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Send waits for a slot and delegates to the wrapped mailer.
func (m *ThrottledMailer) Send(ctx context.Context, msg Message) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrThrottled, err)
	}
	return m.next.Send(ctx, msg)
}

func uniqueAddresses(addresses []string) []string {
	seen := make(map[string]struct{}, len(addresses))
	var result []string
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, exists := seen[addr]; exists {
			continue
		}
		seen[addr] = struct{}{}
		result = append(result, addr)
	}
	return result
}
