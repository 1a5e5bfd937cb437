// Package payment bridges asynchronous payment outcomes to the
// reservation ledger.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Payment statuses as reported by the processor.
const (
	StatusPaid    = "paid"
	StatusPending = "pending"
	StatusFailed  = "failed"
)

// Intent is a created payment intent/session.
type Intent struct {
	Ref         string `json:"ref"`
	CheckoutURL string `json:"checkout_url,omitempty"`
	Status      string `json:"status"`
}

// CreateIntentInput describes the charge to set up. AmountCents is the
// smallest currency unit; callers convert from whole units exactly once.
type CreateIntentInput struct {
	BookingID   string
	AmountCents int64
	Currency    string
	Description string
}

// Provider is the contract the core needs from the payment processor:
// create an intent, verify its status later.
type Provider interface {
	CreateIntent(ctx context.Context, in CreateIntentInput) (*Intent, error)
	VerifyStatus(ctx context.Context, ref string) (string, error)
}

// HTTPProvider is a JSON-over-HTTP payment processor client.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type createIntentRequest struct {
	BookingID   string `json:"booking_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Description string `json:"description,omitempty"`
}

func (p *HTTPProvider) CreateIntent(ctx context.Context, in CreateIntentInput) (*Intent, error) {
	endpoint := fmt.Sprintf("%s/v1/intents", p.baseURL)
	body := createIntentRequest{
		BookingID:   in.BookingID,
		AmountCents: in.AmountCents,
		Currency:    in.Currency,
		Description: in.Description,
	}

	var intent Intent
	if err := p.doPost(ctx, endpoint, body, &intent); err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}
	return &intent, nil
}

func (p *HTTPProvider) VerifyStatus(ctx context.Context, ref string) (string, error) {
	endpoint := fmt.Sprintf("%s/v1/intents/%s", p.baseURL, url.PathEscape(ref))

	var intent Intent
	if err := p.doGet(ctx, endpoint, &intent); err != nil {
		return "", fmt.Errorf("verify intent %s: %w", ref, err)
	}

	switch intent.Status {
	case StatusPaid, StatusPending, StatusFailed:
		return intent.Status, nil
	default:
		return "", fmt.Errorf("verify intent %s: unknown status %q", ref, intent.Status)
	}
}

func (p *HTTPProvider) doGet(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	p.addHeaders(req)
	return p.do(req, out)
}

func (p *HTTPProvider) doPost(ctx context.Context, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	p.addHeaders(req)
	return p.do(req, out)
}

func (p *HTTPProvider) do(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *HTTPProvider) addHeaders(req *http.Request) {
	if p.apiKey != "" {
		req.Header.Set("x-api-key", p.apiKey)
	}
}
