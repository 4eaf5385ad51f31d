package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.ErrorContains(t, err, "host is required")

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com"})
	require.ErrorContains(t, err, "port is required")

	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)
	require.ErrorIs(t, mailer.Send(context.Background(), Message{To: []string{"a@b.co"}}), ErrSMTPDisabled)
}

func TestSMTPMailerDefaultTimeout(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 587})
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, mailer.(*smtpMailer).cfg.Timeout)
}

func TestSMTPMailerEnvelopeValidation(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 587, From: "no-reply@example.com"})
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorContains(t, mailer.Send(ctx, Message{To: []string{" ", "\t"}}), "at least one recipient")
	require.ErrorContains(t, mailer.Send(ctx, Message{From: "invalid-from", To: []string{"u@example.com"}}), "invalid from address")
	require.ErrorContains(t, mailer.Send(ctx, Message{To: []string{"u@example.com", "bad-address"}}), "invalid recipient address")
}

type recordingClient struct {
	from  string
	rcpts []string
	body  bytes.Buffer
	quit  bool
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func (c *recordingClient) Mail(from string) error           { c.from = from; return nil }
func (c *recordingClient) Rcpt(to string) error             { c.rcpts = append(c.rcpts, to); return nil }
func (c *recordingClient) Data() (io.WriteCloser, error)    { return nopWriteCloser{&c.body}, nil }
func (c *recordingClient) Quit() error                      { c.quit = true; return nil }
func (c *recordingClient) Close() error                     { return nil }
func (c *recordingClient) StartTLS(*tls.Config) error       { return nil }
func (c *recordingClient) Auth(smtp.Auth) error             { return nil }
func (c *recordingClient) Extension(string) (bool, string) { return false, "" }

func TestSMTPMailerSendsMessage(t *testing.T) {
	client := &recordingClient{}
	server, peer := net.Pipe()
	t.Cleanup(func() { _ = peer.Close() })

	mailer := &smtpMailer{
		cfg: SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 25, From: "no-reply@example.com", Timeout: time.Second},
		dial: func(context.Context, SMTPSettings) (net.Conn, smtpClient, error) {
			return server, client, nil
		},
		now: func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	}

	err := mailer.Send(context.Background(), Message{
		To:      []string{"analyst@firm.example", "analyst@firm.example"},
		Subject: "Sign in\r\nnow",
		Body:    "Open the link",
	})
	require.NoError(t, err)
	require.Equal(t, "no-reply@example.com", client.from)
	require.Equal(t, []string{"analyst@firm.example"}, client.rcpts)
	require.True(t, client.quit)
	require.Contains(t, client.body.String(), "Subject: Sign in  now")
	require.Contains(t, client.body.String(), "Date: Fri, 01 Mar 2024 12:00:00 +0000")
	require.True(t, strings.HasSuffix(client.body.String(), "Open the link"))
}

func TestLogMailerDoesNotLogBody(t *testing.T) {
	core, recorded := observer.New(zap.InfoLevel)
	mailer := LogMailer{Logger: zap.New(core)}

	require.NoError(t, mailer.Send(context.Background(), Message{To: []string{"a@b.co"}, Subject: "Sign in", Body: "secret-link"}))
	require.Equal(t, 1, recorded.Len())
	for _, value := range recorded.All()[0].ContextMap() {
		require.NotContains(t, fmt.Sprint(value), "secret-link")
	}

	require.Error(t, mailer.Send(context.Background(), Message{}))
}

func TestThrottledMailerDelegates(t *testing.T) {
	var sent atomic.Int32
	inner := MailerFunc(func(context.Context, Message) error {
		sent.Add(1)
		return nil
	})

	mailer := NewThrottledMailer(inner, 1000, 5)
	for i := 0; i < 5; i++ {
		require.NoError(t, mailer.Send(context.Background(), Message{To: []string{"a@b.co"}}))
	}
	require.EqualValues(t, 5, sent.Load())
}

func TestThrottledMailerHonoursContext(t *testing.T) {
	inner := MailerFunc(func(context.Context, Message) error { return nil })
	mailer := NewThrottledMailer(inner, 0.001, 1)

	require.NoError(t, mailer.Send(context.Background(), Message{To: []string{"a@b.co"}}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := mailer.Send(ctx, Message{To: []string{"a@b.co"}})
	require.True(t, errors.Is(err, ErrThrottled))
}

func TestThrottledMailerDisabled(t *testing.T) {
	inner := MailerFunc(func(context.Context, Message) error { return nil })
	_, wrapped := NewThrottledMailer(inner, 0, 0).(*ThrottledMailer)
	require.False(t, wrapped)
}

func TestUniqueAddresses(t *testing.T) {
	result := uniqueAddresses([]string{"alice@example.com", "bob@example.com", " alice@example.com ", "", "bob@example.com"})
	require.Equal(t, []string{"alice@example.com", "bob@example.com"}, result)
}
