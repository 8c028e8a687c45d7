package notify

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"volunteerreminder/pkg/util"
)

const (
	sendGridHost     = "https://api.sendgrid.com"
	sendGridEndpoint = "/v3/mail/send"
	messageIDHeader  = "X-Message-Id"
)

// SendGridConfig holds the provider credentials and sender identity.
type SendGridConfig struct {
	APIKey    string `yaml:"api_key"`
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
	// Host overrides the API host; used by tests.
	Host string `yaml:"host"`
}

// SendGridSender sends through the SendGrid v3 mail API. Each call builds its
// own request value, so one sender is safe to share between workers.
type SendGridSender struct {
	base   rest.Request
	from   *mail.Email
	logger *zap.Logger
}

func NewSendGridSender(cfg SendGridConfig, logger *zap.Logger) (*SendGridSender, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sendgrid api key is not set")
	}
	if cfg.FromEmail == "" {
		return nil, fmt.Errorf("sendgrid from email is not set")
	}
	host := cfg.Host
	if host == "" {
		host = sendGridHost
	}

	req := sendgrid.GetRequest(cfg.APIKey, sendGridEndpoint, host)
	req.Method = rest.Post

	return &SendGridSender{
		base:   req,
		from:   mail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger: logger,
	}, nil
}

func (s *SendGridSender) Name() string { return "sendgrid" }

func (s *SendGridSender) Send(ctx context.Context, msg Message) (string, error) {
	if msg.ToEmail == "" {
		return "", ErrInvalidRecipient
	}

	to := mail.NewEmail(msg.ToName, msg.ToEmail)
	email := mail.NewSingleEmail(s.from, msg.Subject, to, msg.PlainText, msg.HTML)

	req := s.base
	req.Body = mail.GetRequestBody(email)

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("sendgrid request to %s: %w", msg.ToEmail, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", &util.ProviderError{StatusCode: resp.StatusCode, Body: resp.Body}
	}

	deliveryID := firstHeader(resp.Headers, messageIDHeader)
	s.logger.Debug("SendGrid accepted message",
		zap.String("to", msg.ToEmail),
		zap.Int("status", resp.StatusCode),
		zap.String("delivery_id", deliveryID),
	)
	return deliveryID, nil
}

func firstHeader(headers map[string][]string, name string) string {
	if v := http.Header(headers).Get(name); v != "" {
		return v
	}
	// Some transports keep the provider's exact casing.
	for k, vals := range headers {
		if http.CanonicalHeaderKey(k) == http.CanonicalHeaderKey(name) && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}
