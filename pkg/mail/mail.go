package mail

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"
)

// Message is a plain-text notification.
type Message struct {
	Subject    string
	Body       string
	Recipients []string
}

// Validate checks that the message can be delivered.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("mail subject is required")
	}
	if len(m.Recipients) == 0 {
		return fmt.Errorf("mail requires at least one recipient")
	}
	return nil
}

// Sender delivers notification messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendGridSender delivers messages through the SendGrid v3 API.
type SendGridSender struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	host       string
}

// NewSendGridSender constructs a SendGrid-backed sender.
func NewSendGridSender(key, fromName, fromAddress string) *SendGridSender {
	return &SendGridSender{
		key:        key,
		from:       sgmail.NewEmail(fromName, fromAddress),
		subjPrefix: "[" + fromName + "] ",
		host:       sendGridHost,
	}
}

// Send posts a single message with every recipient as its own personalization,
// so students never see each other's addresses.
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	m := s.prepare(msg)
	req := sendgrid.GetRequest(s.key, sendGridEndpoint, s.host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("sendgrid responded %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

func (s *SendGridSender) prepare(msg Message) *sgmail.SGMailV3 {
	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.Subject = s.subjPrefix + msg.Subject
	for _, to := range msg.Recipients {
		p := sgmail.NewPersonalization()
		p.AddTos(sgmail.NewEmail("", to))
		m.AddPersonalizations(p)
	}
	m.AddContent(sgmail.NewContent("text/plain", msg.Body))
	return m
}

// LogSender records messages in the log instead of delivering them. It is used
// when no SendGrid key is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs a log-only sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the message envelope.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.logger.Info("mail suppressed",
		zap.String("subject", msg.Subject),
		zap.Strings("recipients", msg.Recipients),
		zap.Int("body_bytes", len(msg.Body)),
	)
	return nil
}

// NewSender picks SendGrid when a key is present and the log sender otherwise.
func NewSender(key, fromName, fromAddress string, logger *zap.Logger) Sender {
	if strings.TrimSpace(key) == "" {
		return NewLogSender(logger)
	}
	return NewSendGridSender(key, fromName, fromAddress)
}
