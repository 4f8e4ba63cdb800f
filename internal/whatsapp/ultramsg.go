// Package whatsapp implements notify.Gateway for the WhatsApp providers the agency uses.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dcruzimoveis/leadmatch/internal/notify"
)

const (
	defaultUltraMsgBaseURL = "https://api.ultramsg.com"
	defaultHTTPTimeout     = 20 * time.Second
	maxErrorBody           = 512
)

var (
	errMissingUltraMsgInstance = errors.New("ultramsg instance id is required")
	errMissingUltraMsgToken    = errors.New("ultramsg token is required")
)

// UltraMsgConfig configures the UltraMsg gateway.
type UltraMsgConfig struct {
	InstanceID string
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// UltraMsgGateway sends messages through the UltraMsg REST API.
type UltraMsgGateway struct {
	instanceID string
	token      string
	baseURL    string
	client     *http.Client
}

// NewUltraMsgGateway validates the configuration.
func NewUltraMsgGateway(cfg UltraMsgConfig) (*UltraMsgGateway, error) {
	instanceID := strings.TrimSpace(cfg.InstanceID)
	if instanceID == "" {
		return nil, errMissingUltraMsgInstance
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errMissingUltraMsgToken
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultUltraMsgBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &UltraMsgGateway{instanceID: instanceID, token: token, baseURL: baseURL, client: client}, nil
}

type ultraMsgChatRequest struct {
	Token    string `json:"token"`
	To       string `json:"to"`
	Body     string `json:"body"`
	Priority string `json:"priority"`
}

type ultraMsgImageRequest struct {
	Token    string `json:"token"`
	To       string `json:"to"`
	Image    string `json:"image"`
	Caption  string `json:"caption"`
	Priority string `json:"priority"`
}

type ultraMsgResponse struct {
	Sent    json.RawMessage `json:"sent"`
	Message string          `json:"message"`
	ID      json.RawMessage `json:"id"`
	Error   json.RawMessage `json:"error"`
}

// Send posts a text message, or an image with the text as caption when an image is set.
func (g *UltraMsgGateway) Send(ctx context.Context, message notify.Message) (notify.Receipt, error) {
	var (
		endpoint string
		payload  any
	)
	if strings.TrimSpace(message.ImageURL) != "" {
		endpoint = fmt.Sprintf("%s/%s/messages/image", g.baseURL, g.instanceID)
		payload = ultraMsgImageRequest{Token: g.token, To: message.Phone, Image: message.ImageURL, Caption: message.Text, Priority: "high"}
	} else {
		endpoint = fmt.Sprintf("%s/%s/messages/chat", g.baseURL, g.instanceID)
		payload = ultraMsgChatRequest{Token: g.token, To: message.Phone, Body: message.Text, Priority: "high"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return notify.Receipt{}, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return notify.Receipt{}, err
	}
	request.Header.Set("Content-Type", "application/json")

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
		return notify.Receipt{}, &notify.GatewayError{Provider: "ultramsg", StatusCode: response.StatusCode, Body: truncate(string(raw))}
	}

	var decoded ultraMsgResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return notify.Receipt{}, fmt.Errorf("ultramsg gateway: decode response: %w: %v", notify.ErrUnconfirmed, err)
	}
	if !flagTrue(decoded.Sent) {
		detail := decoded.Message
		if detail == "" {
			detail = truncate(string(decoded.Error))
		}
		return notify.Receipt{Accepted: false, Detail: detail}, nil
	}
	return notify.Receipt{Accepted: true, ProviderID: scalarString(decoded.ID), Detail: decoded.Message}, nil
}

// flagTrue accepts the boolean and the "true" string forms UltraMsg returns.
func flagTrue(raw json.RawMessage) bool {
	value := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	return strings.EqualFold(value, "true")
}

func scalarString(raw json.RawMessage) string {
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}

func truncate(value string) string {
	if len(value) > maxErrorBody {
		return value[:maxErrorBody]
	}
	return value
}
