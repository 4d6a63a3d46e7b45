package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rendis/flowkit/internal/expressions"
	"github.com/rendis/flowkit/pkg/schema"
)

// MailConfig configures the mail relay the notification actions post to.
type MailConfig struct {
	Endpoint        string
	APIKey          string
	From            string
	AdminRecipients []string
	Timeout         time.Duration
	MaxResponseBody int64
}

const (
	defaultMailTimeout     = 15 * time.Second
	defaultMaxResponseBody = 1 << 20
)

// mailEnvelope is the JSON body sent to the relay.
type mailEnvelope struct {
	Kind           string         `json:"kind"`
	OrganizationID string         `json:"organizationId"`
	From           string         `json:"from,omitempty"`
	To             []string       `json:"to"`
	Subject        string         `json:"subject"`
	Body           string         `json:"body,omitempty"`
	TemplateID     string         `json:"templateId,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"`
}

// mailer posts envelopes to the relay.
type mailer struct {
	cfg    MailConfig
	client *http.Client
}

func newMailer(cfg MailConfig) *mailer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultMailTimeout
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	return &mailer{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

// send returns a failed result for relay rejections and an error only when
// the request could not be built.
func (m *mailer) send(ctx context.Context, env mailEnvelope) (*schema.BehaviorResult, error) {
	if m.cfg.Endpoint == "" {
		return fail("Mail relay not configured", "mail endpoint is not configured"), nil
	}
	if len(env.To) == 0 {
		return fail("No recipients", "no recipient address available"), nil
	}
	if env.From == "" {
		env.From = m.cfg.From
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "marshal mail envelope").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeExecution, "create mail request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	}

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return fail("Mail relay unreachable", err.Error()), nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, m.cfg.MaxResponseBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail("Mail relay rejected the message",
			fmt.Sprintf("mail relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))), nil
	}

	data := map[string]any{
		"emailSent":  true,
		"recipients": env.To,
		"durationMs": time.Since(start).Milliseconds(),
	}
	var parsed map[string]any
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") && json.Unmarshal(raw, &parsed) == nil {
		if id, ok := parsed["messageId"].(string); ok {
			data["messageId"] = id
		}
	}
	return succeed(fmt.Sprintf("Sent %s to %d recipients", env.Kind, len(env.To)), data), nil
}

// --- send-confirmation-email ---

// sendConfirmationAction emails the registrant using the resolved email
// template. Recipient: config.to, else context.email.
type sendConfirmationAction struct {
	mail     *mailer
	resolver TemplateResolver
}

func (a *sendConfirmationAction) Type() schema.BehaviorType {
	return schema.BehaviorSendConfirmationEmail
}

func (a *sendConfirmationAction) Description() string {
	return "Send the registration confirmation email through the mail relay"
}

func (a *sendConfirmationAction) Execute(ctx context.Context, in ActionInput) (*schema.BehaviorResult, error) {
	templateType := stringParam(in.Config, "templateType", schema.TemplateTypeEmail)
	templateID, err := a.resolver.ResolveIndividualTemplate(ctx, in.OrganizationID, templateType, resolveContextFor(in))
	if err != nil {
		return fail("Email template unavailable", err.Error()), nil
	}

	to := stringsParam(in.Config, "to")
	if len(to) == 0 {
		if email := stringParam(in.Context, "email", ""); email != "" {
			to = []string{email}
		}
	}
	subject, err := expressions.Interpolate(stringParam(in.Config, "subject", "Your registration is confirmed"), in.Context)
	if err != nil {
		return fail("Invalid subject", err.Error()), nil
	}

	res, err := a.mail.send(ctx, mailEnvelope{
		Kind:           "confirmation",
		OrganizationID: in.OrganizationID,
		From:           stringParam(in.Config, "from", ""),
		To:             to,
		Subject:        subject,
		TemplateID:     templateID,
		Variables:      in.Context,
	})
	if res != nil && res.Success {
		res.Data["emailTemplateId"] = templateID
	}
	return res, err
}

// --- send-admin-notification ---

// sendAdminNotificationAction notifies organization admins. Subject and
// message may contain ${{ path }} tokens.
type sendAdminNotificationAction struct {
	mail *mailer
}

func (a *sendAdminNotificationAction) Type() schema.BehaviorType {
	return schema.BehaviorSendAdminNotification
}

func (a *sendAdminNotificationAction) Description() string {
	return "Notify organization admins through the mail relay"
}

func (a *sendAdminNotificationAction) Execute(ctx context.Context, in ActionInput) (*schema.BehaviorResult, error) {
	to := stringsParam(in.Config, "recipients")
	if len(to) == 0 {
		to = a.mail.cfg.AdminRecipients
	}

	rendered, err := expressions.InterpolateMap(map[string]any{
		"subject": stringParam(in.Config, "subject", "New workflow activity"),
		"message": stringParam(in.Config, "message", ""),
	}, in.Context)
	if err != nil {
		return fail("Invalid notification text", err.Error()), nil
	}

	return a.mail.send(ctx, mailEnvelope{
		Kind:           "admin_notification",
		OrganizationID: in.OrganizationID,
		To:             to,
		Subject:        rendered["subject"].(string),
		Body:           rendered["message"].(string),
		Variables:      in.Context,
	})
}
