package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"classifieds/internal/types"
)

const pushUserAgent = "Classifieds-Push/1.0"

// PushClientConfig configures either push provider client.
type PushClientConfig struct {
	Endpoint string
	APIKey   types.SecretString
	Timeout  time.Duration
}

func (c PushClientConfig) httpClient() *http.Client {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// ---------------------------------------------------------------------------
// Web push gateway
// ---------------------------------------------------------------------------

// WebPushClient delivers browser notifications through the web push gateway.
type WebPushClient struct {
	base     *BaseClient
	endpoint string
	apiKey   types.SecretString
}

// NewWebPushClient creates a WebPushClient.
func NewWebPushClient(cfg PushClientConfig, opts ...BaseClientOption) *WebPushClient {
	return &WebPushClient{
		base:     NewBaseClient(cfg.httpClient(), "webpush", DefaultRetryPolicy(), pushUserAgent, opts...),
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
	}
}

type webPushRequest struct {
	To           string            `json:"to"`
	Notification webPushContent    `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
}

type webPushContent struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	Icon        string `json:"icon,omitempty"`
	ClickAction string `json:"click_action,omitempty"`
}

// Deliver implements PushProvider. 404 and 410 mean the browser
// subscription is gone.
func (c *WebPushClient) Deliver(ctx context.Context, d PushDelivery) error {
	payload := webPushRequest{
		To: d.Token,
		Notification: webPushContent{
			Title:       d.Title,
			Body:        d.Body,
			Icon:        d.ImageURL,
			ClickAction: d.LinkURL,
		},
		Data: d.Data,
	}

	resp, err := postJSON(ctx, c.base, c.endpoint, "key="+c.apiKey.Unmask(), payload)
	if err != nil {
		return wrapPushError("webpush", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return types.NewAppError(types.ErrCodeUpstreamInvalidTarget, "web push subscription expired", nil)
	default:
		return pushStatusError("webpush", resp)
	}
}

// ---------------------------------------------------------------------------
// Mobile push relay
// ---------------------------------------------------------------------------

// MobileRelayClient delivers app notifications through the mobile push
// relay, which accepts a batch of messages and reports a ticket per message.
type MobileRelayClient struct {
	base     *BaseClient
	endpoint string
	token    types.SecretString
}

// NewMobileRelayClient creates a MobileRelayClient.
func NewMobileRelayClient(cfg PushClientConfig, opts ...BaseClientOption) *MobileRelayClient {
	return &MobileRelayClient{
		base:     NewBaseClient(cfg.httpClient(), "mobile-relay", DefaultRetryPolicy(), pushUserAgent, opts...),
		endpoint: cfg.Endpoint,
		token:    cfg.APIKey,
	}
}

type relayMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Sound string            `json:"sound"`
	Data  map[string]string `json:"data,omitempty"`
}

type relayResponse struct {
	Data []relayTicket `json:"data"`
}

type relayTicket struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

// relayDeviceNotRegistered is the ticket error for an uninstalled app.
const relayDeviceNotRegistered = "DeviceNotRegistered"

// Deliver implements PushProvider.
func (c *MobileRelayClient) Deliver(ctx context.Context, d PushDelivery) error {
	data := d.Data
	if d.LinkURL != "" {
		data = make(map[string]string, len(d.Data)+1)
		for k, v := range d.Data {
			data[k] = v
		}
		data["url"] = d.LinkURL
	}
	msgs := []relayMessage{{To: d.Token, Title: d.Title, Body: d.Body, Sound: "default", Data: data}}

	auth := ""
	if !c.token.IsEmpty() {
		auth = "Bearer " + c.token.Unmask()
	}
	resp, err := postJSON(ctx, c.base, c.endpoint, auth, msgs)
	if err != nil {
		return wrapPushError("mobile-relay", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pushStatusError("mobile-relay", resp)
	}

	var out relayResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamPushProvider, "mobile-relay: undecodable response", err)
	}
	if len(out.Data) == 0 {
		return types.NewAppError(types.ErrCodeUpstreamPushProvider, "mobile-relay: response carries no ticket", nil)
	}

	ticket := out.Data[0]
	if ticket.Status == "ok" {
		return nil
	}
	if ticket.Details.Error == relayDeviceNotRegistered {
		return types.NewAppError(types.ErrCodeUpstreamInvalidTarget, "mobile device not registered", nil)
	}
	return types.NewAppError(
		types.ErrCodeUpstreamPushProvider,
		fmt.Sprintf("mobile-relay: ticket %s: %s", ticket.Details.Error, ticket.Message),
		nil,
	)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func postJSON(ctx context.Context, base *BaseClient, endpoint, authorization string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	return base.Do(req)
}

func wrapPushError(provider string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamPushProvider, provider+": request failed", err)
}

func pushStatusError(provider string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return types.NewAppErrorWithDetails(
		types.ErrCodeUpstreamPushProvider,
		fmt.Sprintf("%s: unexpected status %d", provider, resp.StatusCode),
		nil,
		map[string]any{"body": string(snippet)},
	)
}

var (
	_ PushProvider = (*WebPushClient)(nil)
	_ PushProvider = (*MobileRelayClient)(nil)
)
