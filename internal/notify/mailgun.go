package notify

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/sweeney/fourbuttons/internal/activity"
)

// MailgunConfig configures the Mailgun HTTP API client.
type MailgunConfig struct {
	BaseURL string // default https://api.mailgun.net
	Domain  string
	APIKey  string
	From    string
	To      string
	Timeout time.Duration
}

// Mailgun sends escalations as email through the Mailgun HTTP API.
type Mailgun struct {
	cfg    MailgunConfig
	client *fasthttp.Client
	log    *zap.SugaredLogger
}

// NewMailgun returns a Mailgun notifier.
func NewMailgun(cfg MailgunConfig, log *zap.SugaredLogger) *Mailgun {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.mailgun.net"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Mailgun{
		cfg: cfg,
		client: &fasthttp.Client{
			Name:         "fourbuttons",
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		},
		log: log,
	}
}

func (m *Mailgun) endpoint() string {
	return strings.TrimSuffix(m.cfg.BaseURL, "/") + "/v3/" + m.cfg.Domain + "/messages"
}

func (m *Mailgun) Notify(ctx context.Context, e Escalation) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(m.endpoint())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("api:"+m.cfg.APIKey)))

	form := fasthttp.AcquireArgs()
	defer fasthttp.ReleaseArgs(form)
	form.Set("from", m.cfg.From)
	form.Set("to", m.cfg.To)
	form.Set("subject", e.Subject())
	form.Set("text", e.Body())
	req.SetBody(form.QueryString())

	deadline := time.Now().Add(m.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := m.client.DoDeadline(req, resp, deadline); err != nil {
		return activity.Notifier(errors.Wrapf(err, "mailgun: send escalation for %s", e.ActivityID))
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return activity.Notifier(errors.Newf("mailgun: escalation for %s rejected with status %d: %s",
			e.ActivityID, code, truncate(resp.Body(), 200)))
	}
	m.log.Infow("sent escalation email", "activity", e.ActivityID, "to", m.cfg.To)
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
