package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/risetaid/prima-sub012/internal/config"
)

// Provider sends one text message to a canonical international number and
// returns the gateway's opaque message identifier. That identifier is the
// correlation key for delivery-status callbacks, so implementations must
// return it verbatim.
type Provider interface {
	Name() string
	SendText(ctx context.Context, toE164, body string) (messageID string, err error)
}

// ErrGatewayRejected marks a definitive gateway failure (auth, bad request,
// rejected recipient) as opposed to a transport timeout.
var ErrGatewayRejected = errors.New("gateway rejected message")

// WhatsAppProvider sends through the WhatsApp Cloud API (Graph API).
type WhatsAppProvider struct {
	name    string
	token   string
	phoneID string
	base    string // overridable in tests
	client  *http.Client
}

// NewWhatsAppProvider builds a gateway client with its own bounded-timeout
// HTTP client so a slow gateway cannot hold a dispatch worker indefinitely.
func NewWhatsAppProvider(name string, gw config.GatewayConfig, timeout time.Duration) *WhatsAppProvider {
	return &WhatsAppProvider{
		name:    name,
		token:   gw.Token,
		phoneID: gw.PhoneNumberID,
		base:    "https://graph.facebook.com/v20.0",
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements Provider.
func (p *WhatsAppProvider) Name() string { return p.name }

// SetBaseURL redirects API calls, used by tests against httptest servers.
func (p *WhatsAppProvider) SetBaseURL(base string) { p.base = base }

// waSendResponse is the subset of the Cloud API send response we read.
type waSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText implements Provider against the Cloud API messages endpoint.
func (p *WhatsAppProvider) SendText(ctx context.Context, toE164, body string) (string, error) {
	if p.token == "" || p.phoneID == "" {
		return "", fmt.Errorf("%w: gateway %s not configured", ErrGatewayRejected, p.name)
	}

	url := fmt.Sprintf("%s/%s/messages", p.base, p.phoneID)
	reqBody := map[string]any{
		"messaging_product": "whatsapp",
		"to":                toE164,
		"type":              "text",
		"text":              map[string]any{"body": body},
	}
	raw, _ := json.Marshal(reqBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return "", fmt.Errorf("%w: status=%d body=%s", ErrGatewayRejected, resp.StatusCode, snippet)
		}
		return "", fmt.Errorf("gateway %s error: status=%d body=%s", p.name, resp.StatusCode, snippet)
	}

	var out waSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gateway %s: decode response: %w", p.name, err)
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", fmt.Errorf("gateway %s: response carried no message id", p.name)
	}
	return out.Messages[0].ID, nil
}

// FallbackProvider tries the primary gateway and, on any send error, the
// backup, so total delivery reliability does not hinge on a single third
// party. The per-call client timeouts already bound "slow"; by the time the
// primary returns an error the failure is definitive for this attempt.
type FallbackProvider struct {
	Primary Provider
	Backup  Provider
}

// Name implements Provider, reporting which leg would be tried first.
func (f *FallbackProvider) Name() string { return f.Primary.Name() }

// SendText implements Provider with primary-then-backup semantics.
func (f *FallbackProvider) SendText(ctx context.Context, toE164, body string) (string, error) {
	id, _, err := f.SendTextVia(ctx, toE164, body)
	return id, err
}

// SendTextVia reports the provider name actually used alongside the message
// id; dispatch persists both on the reminder row.
func (f *FallbackProvider) SendTextVia(ctx context.Context, toE164, body string) (messageID, providerName string, err error) {
	id, perr := f.Primary.SendText(ctx, toE164, body)
	if perr == nil {
		return id, f.Primary.Name(), nil
	}
	if f.Backup == nil {
		return "", "", perr
	}
	log.Warn().Err(perr).
		Str("primary", f.Primary.Name()).
		Str("backup", f.Backup.Name()).
		Msg("primary gateway failed; falling back")
	id, berr := f.Backup.SendText(ctx, toE164, body)
	if berr != nil {
		return "", "", fmt.Errorf("primary: %v; backup: %w", perr, berr)
	}
	return id, f.Backup.Name(), nil
}
