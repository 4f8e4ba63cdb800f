package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dcruzimoveis/leadmatch/internal/notify"
	"github.com/dcruzimoveis/leadmatch/internal/phone"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

var (
	errMissingTwilioAccount = errors.New("twilio account sid is required")
	errMissingTwilioToken   = errors.New("twilio auth token is required")
	errMissingTwilioFrom    = errors.New("twilio sender number is required")
)

// TwilioConfig configures the Twilio WhatsApp gateway.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	HTTPClient *http.Client
}

// TwilioGateway sends messages through the Twilio Messages API.
type TwilioGateway struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	client     *http.Client
}

// NewTwilioGateway validates the configuration.
func NewTwilioGateway(cfg TwilioConfig) (*TwilioGateway, error) {
	accountSID := strings.TrimSpace(cfg.AccountSID)
	if accountSID == "" {
		return nil, errMissingTwilioAccount
	}
	authToken := strings.TrimSpace(cfg.AuthToken)
	if authToken == "" {
		return nil, errMissingTwilioToken
	}
	from := phone.Digits(cfg.FromNumber)
	if from == "" {
		return nil, errMissingTwilioFrom
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultTwilioBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &TwilioGateway{accountSID: accountSID, authToken: authToken, from: from, baseURL: baseURL, client: client}, nil
}

type twilioResponse struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Send posts a form-encoded message. The image, when set, travels as MediaUrl.
func (g *TwilioGateway) Send(ctx context.Context, message notify.Message) (notify.Receipt, error) {
	form := url.Values{}
	form.Set("From", "whatsapp:+"+g.from)
	form.Set("To", "whatsapp:+"+message.Phone)
	form.Set("Body", message.Text)
	if strings.TrimSpace(message.ImageURL) != "" {
		form.Set("MediaUrl", message.ImageURL)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", g.baseURL, url.PathEscape(g.accountSID))
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return notify.Receipt{}, err
	}
	request.SetBasicAuth(g.accountSID, g.authToken)
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := g.client.Do(request)
	if err != nil {
		return notify.Receipt{}, err
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 64<<10))
	if err != nil {
		return notify.Receipt{}, err
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return notify.Receipt{}, &notify.GatewayError{Provider: "twilio", StatusCode: response.StatusCode, Body: truncate(string(raw))}
	}

	var decoded twilioResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return notify.Receipt{}, fmt.Errorf("twilio gateway: decode response: %w: %v", notify.ErrUnconfirmed, err)
	}
	if decoded.ErrorCode != nil || decoded.Status == "failed" || decoded.Status == "undelivered" {
		return notify.Receipt{Accepted: false, Detail: decoded.ErrorMessage}, nil
	}
	return notify.Receipt{Accepted: true, ProviderID: decoded.SID, Detail: decoded.Status}, nil
}
