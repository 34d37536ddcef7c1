package email

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gomail "gopkg.in/gomail.v2"

	"remindd/internal/channel"
	logx "remindd/pkg/logx"
)

type Config struct {
	SMTPServer string
	SMTPPort   int
	Username   string
	Password   string
	FromEmail  string
	FromName   string
}

// Adapter delivers reminders over SMTP (STARTTLS).
type Adapter struct {
	cfg    Config
	log    logx.Logger
	dialer *gomail.Dialer
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.SMTPServer) == "" || strings.TrimSpace(cfg.Username) == "" {
		return nil, errors.New("email: smtp_server and username are required")
	}
	if cfg.SMTPPort <= 0 {
		cfg.SMTPPort = 587
	}
	if cfg.FromEmail == "" {
		cfg.FromEmail = cfg.Username
	}
	if cfg.FromName == "" {
		cfg.FromName = "Task Reminder"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	d := gomail.NewDialer(cfg.SMTPServer, cfg.SMTPPort, cfg.Username, cfg.Password)
	return &Adapter{cfg: cfg, log: log, dialer: d}, nil
}

func (a *Adapter) Name() string { return channel.Email }

func (a *Adapter) Send(ctx context.Context, destination string, msg channel.Message) error {
	to := strings.TrimSpace(destination)
	if to == "" || !strings.Contains(to, "@") {
		return fmt.Errorf("email: destination %q is not an address", destination)
	}
	subject := msg.Subject
	if subject == "" {
		subject = "Task reminder"
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", a.cfg.FromEmail, a.cfg.FromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	if msg.HTML != "" {
		m.SetBody("text/html", msg.HTML)
		if msg.Text != "" {
			m.AddAlternative("text/plain", msg.Text)
		}
	} else {
		m.SetBody("text/plain", msg.Text)
	}

	// gomail has no context support; run the dial+send in a goroutine so
	// the dispatcher's send timeout still bounds the attempt.
	done := make(chan error, 1)
	go func() { done <- a.dialer.DialAndSend(m) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("email send to %s: %w", to, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Healthcheck dials the SMTP server and authenticates, then closes.
func (a *Adapter) Healthcheck(ctx context.Context) error {
	type dialResult struct {
		c   gomail.SendCloser
		err error
	}
	done := make(chan dialResult, 1)
	go func() {
		c, err := a.dialer.Dial()
		done <- dialResult{c: c, err: err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("email: smtp dial: %w", r.err)
		}
		_ = r.c.Close()
		a.log.Info("smtp connected", logx.String("server", a.cfg.SMTPServer))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
