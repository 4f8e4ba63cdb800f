package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrRejected indicates that the gateway answered but refused the message.
var ErrRejected = errors.New("notify: message rejected by gateway")

// ErrUnconfirmed indicates that the gateway answered with success but the answer
// could not be read. The message may have gone out, so it is never sent again.
var ErrUnconfirmed = errors.New("notify: gateway accepted the message without a readable answer")

// Message is the payload handed to a messaging gateway.
type Message struct {
	Phone    string
	Text     string
	ImageURL string
}

// Receipt is the gateway's answer to an accepted request.
type Receipt struct {
	Accepted   bool
	ProviderID string
	Detail     string
}

// Gateway delivers WhatsApp messages.
type Gateway interface {
	Send(ctx context.Context, message Message) (Receipt, error)
}

// GatewayError reports a non-success HTTP answer from a gateway.
type GatewayError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s gateway: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether a later attempt may succeed.
func (e *GatewayError) Retryable() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrRejected) || errors.Is(err, ErrUnconfirmed) {
		return false
	}
	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Retryable()
	}
	return true
}
