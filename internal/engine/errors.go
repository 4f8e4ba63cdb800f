package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies errors caused by invalid caller input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound classifies errors caused by a missing lead or listing.
	ErrNotFound = errors.New("not found")
	// ErrPersistence classifies storage failures.
	ErrPersistence = errors.New("persistence failed")
	// ErrRecordNotFound is returned by repositories when a row does not exist.
	ErrRecordNotFound = errors.New("record not found")
)

type ServiceError struct {
	class error
	code  string
	err   error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Is matches the error class, so callers can test errors.Is(err, ErrNotFound).
func (e *ServiceError) Is(target error) bool {
	return e.class != nil && target == e.class
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew          = "engine.service.new"
	opRecordInterest      = "engine.record_interest"
	opUpsertProperty      = "engine.upsert_property"
	opRunMatch            = "engine.run_match"
	opSubscribePriceAlert = "engine.subscribe_price_alert"
	opUnsubscribeAlert    = "engine.unsubscribe_price_alert"
	opOptOut              = "engine.opt_out"
	opSuggestProperties   = "engine.suggest_properties"
	opRefreshPreferences  = "engine.refresh_preferences"
)

func newServiceError(class error, operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{class: class, code: code, err: cause}
}

// ErrorCode returns the operation.reason code of a service error, or "" for other errors.
func ErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.code
	}
	return ""
}
