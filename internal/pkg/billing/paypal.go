package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MichaelBrandt/CourseGate/internal/pkg/env"
)

const (
	defaultPayPalAPIBaseURL = "https://api-m.paypal.com"
)

// PayPal webhook event types the engine acts on.
const (
	PayPalEventSubscriptionActivated   = "BILLING.SUBSCRIPTION.ACTIVATED"
	PayPalEventSubscriptionReActivated = "BILLING.SUBSCRIPTION.RE-ACTIVATED"
	PayPalEventSubscriptionSuspended   = "BILLING.SUBSCRIPTION.SUSPENDED"
	PayPalEventSubscriptionCancelled   = "BILLING.SUBSCRIPTION.CANCELLED"
	PayPalEventSubscriptionExpired     = "BILLING.SUBSCRIPTION.EXPIRED"
)

type PayPalClient struct {
	ClientID     string
	ClientSecret string
	WebhookID    string

	APIBaseURL string

	HTTPClient *http.Client
}

// PayPalWebhookHeaders carries the five transmission headers PayPal sends
// with every webhook delivery. All of them go into the out-of-band
// verification call.
type PayPalWebhookHeaders struct {
	TransmissionID   string
	TransmissionTime string
	TransmissionSig  string
	CertURL          string
	AuthAlgo         string
}

// PayPalWebhookEvent is the minimal parsed shape of a PayPal webhook body.
type PayPalWebhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"resource"`
}

// PayPalSubscriptionDetail is the live subscription state returned by the
// provider API.
type PayPalSubscriptionDetail struct {
	ID            string
	Status        string
	PlanRef       string
	Email         string
	NextBillingAt *time.Time
}

func NewPayPalClientFromEnv() *PayPalClient {
	return &PayPalClient{
		ClientID:     strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_ID", "")),
		ClientSecret: strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_SECRET", "")),
		WebhookID:    strings.TrimSpace(env.GetEnv("PAYPAL_WEBHOOK_ID", "")),
		APIBaseURL:   strings.TrimSpace(env.GetEnv("PAYPAL_API_BASE_URL", defaultPayPalAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *PayPalClient) getAccessToken(ctx context.Context) (string, error) {
	if strings.TrimSpace(c.ClientID) == "" || strings.TrimSpace(c.ClientSecret) == "" {
		return "", errors.New("PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET are not configured")
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	endpoint := strings.TrimRight(c.APIBaseURL, "/") + "/v1/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.ClientID, c.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("paypal token request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return "", errors.New("paypal token response missing access_token")
	}
	return out.AccessToken, nil
}

// VerifyWebhookSignature asks PayPal to verify a webhook delivery. PayPal has
// no offline verification scheme, so the provider's own verification endpoint
// is authoritative. Any transport or API error fails closed to unverified,
// and results are never reused across requests.
func (c *PayPalClient) VerifyWebhookSignature(ctx context.Context, headers PayPalWebhookHeaders, rawBody []byte) (bool, error) {
	if strings.TrimSpace(c.WebhookID) == "" {
		return false, errors.New("PAYPAL_WEBHOOK_ID is not configured")
	}
	if headers.TransmissionID == "" || headers.TransmissionSig == "" || headers.TransmissionTime == "" ||
		headers.CertURL == "" || headers.AuthAlgo == "" {
		return false, errors.New("paypal webhook transmission headers incomplete")
	}

	token, err := c.getAccessToken(ctx)
	if err != nil {
		return false, err
	}

	reqBody := map[string]interface{}{
		"transmission_id":   headers.TransmissionID,
		"transmission_time": headers.TransmissionTime,
		"transmission_sig":  headers.TransmissionSig,
		"cert_url":          headers.CertURL,
		"auth_algo":         headers.AuthAlgo,
		"webhook_id":        c.WebhookID,
		"webhook_event":     json.RawMessage(rawBody),
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return false, err
	}

	endpoint := strings.TrimRight(c.APIBaseURL, "/") + "/v1/notifications/verify-webhook-signature"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("paypal signature verification failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return false, err
	}
	return strings.EqualFold(out.VerificationStatus, "SUCCESS"), nil
}

// GetSubscription fetches live subscription state from the provider API.
func (c *PayPalClient) GetSubscription(ctx context.Context, subscriptionID string) (*PayPalSubscriptionDetail, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}

	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(c.APIBaseURL, "/") + "/v1/billing/subscriptions/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("paypal subscription lookup failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var raw struct {
		ID         string `json:"id"`
		Status     string `json:"status"`
		PlanID     string `json:"plan_id"`
		Subscriber struct {
			EmailAddress string `json:"email_address"`
		} `json:"subscriber"`
		BillingInfo struct {
			NextBillingTime string `json:"next_billing_time"`
		} `json:"billing_info"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, errors.New("paypal subscription response missing id")
	}

	detail := &PayPalSubscriptionDetail{
		ID:      strings.TrimSpace(raw.ID),
		Status:  strings.ToUpper(strings.TrimSpace(raw.Status)),
		PlanRef: strings.TrimSpace(raw.PlanID),
		Email:   strings.TrimSpace(raw.Subscriber.EmailAddress),
	}
	if raw.BillingInfo.NextBillingTime != "" {
		if t, err := time.Parse(time.RFC3339, raw.BillingInfo.NextBillingTime); err == nil {
			utc := t.UTC()
			detail.NextBillingAt = &utc
		}
	}
	return detail, nil
}

// ParsePayPalWebhookEvent decodes the minimal event envelope. Only called
// after the signature was verified.
func ParsePayPalWebhookEvent(payload []byte) (*PayPalWebhookEvent, error) {
	var ev PayPalWebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ev.EventType) == "" {
		return nil, errors.New("paypal webhook payload missing event_type")
	}
	return &ev, nil
}

// IsPayPalSubscriptionEvent reports whether the event type is one of the
// handled BILLING.SUBSCRIPTION.* lifecycle events.
func IsPayPalSubscriptionEvent(eventType string) bool {
	switch strings.ToUpper(strings.TrimSpace(eventType)) {
	case PayPalEventSubscriptionActivated,
		PayPalEventSubscriptionReActivated,
		PayPalEventSubscriptionSuspended,
		PayPalEventSubscriptionCancelled,
		PayPalEventSubscriptionExpired:
		return true
	default:
		return false
	}
}

// PayPalEventTypeToStatus maps a lifecycle event type to the raw provider
// status it implies, used when the event body lacks a resource status.
func PayPalEventTypeToStatus(eventType string) string {
	switch strings.ToUpper(strings.TrimSpace(eventType)) {
	case PayPalEventSubscriptionActivated, PayPalEventSubscriptionReActivated:
		return "ACTIVE"
	case PayPalEventSubscriptionSuspended:
		return "SUSPENDED"
	case PayPalEventSubscriptionCancelled:
		return "CANCELLED"
	case PayPalEventSubscriptionExpired:
		return "EXPIRED"
	default:
		return ""
	}
}
