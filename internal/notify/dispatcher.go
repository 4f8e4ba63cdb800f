package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dcruzimoveis/leadmatch/internal/phone"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency   = 5
	defaultAttempts      = 2
	defaultSendTimeout   = 15 * time.Second
	defaultRetryInterval = 500 * time.Millisecond
)

const (
	reasonAlreadySent    = "already_sent"
	reasonInFlight       = "in_flight"
	reasonNotLower       = "not_lower_than_last_sent"
	reasonCanceled       = "canceled"
	reasonMissingPhone   = "missing_phone"
	reasonLedgerFailure  = "ledger_unavailable"
	reasonGatewayFailure = "gateway_failed"
	reasonUnconfirmed    = "accepted_unconfirmed"
)

var (
	errMissingLedger  = errors.New("dispatcher ledger is required")
	errMissingGateway = errors.New("dispatcher gateway is required")
)

// Observer receives one call per finished notification.
type Observer interface {
	ObserveDispatch(kind string, status string, elapsed time.Duration)
}

// Config wires a Dispatcher.
type Config struct {
	Ledger        Ledger
	Gateway       Gateway
	Clock         func() time.Time
	Logger        *zap.Logger
	Observer      Observer
	Concurrency   int
	Attempts      int
	SendTimeout   time.Duration
	RetryInterval time.Duration
}

// Dispatcher sends notifications at most once per dedup key.
type Dispatcher struct {
	ledger        Ledger
	gateway       Gateway
	clock         func() time.Time
	logger        *zap.Logger
	observer      Observer
	concurrency   int
	attempts      int
	sendTimeout   time.Duration
	retryInterval time.Duration
}

// NewDispatcher validates the configuration and applies defaults.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Ledger == nil {
		return nil, errMissingLedger
	}
	if cfg.Gateway == nil {
		return nil, errMissingGateway
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	return &Dispatcher{
		ledger:        cfg.Ledger,
		gateway:       cfg.Gateway,
		clock:         clock,
		logger:        logger,
		observer:      cfg.Observer,
		concurrency:   concurrency,
		attempts:      attempts,
		sendTimeout:   sendTimeout,
		retryInterval: retryInterval,
	}, nil
}

// DispatchAll fans notifications out over a bounded pool. Outcomes keep the input
// order. Once ctx is canceled no further sends start; sends already running finish.
func (d *Dispatcher) DispatchAll(ctx context.Context, notifications []Notification) []Outcome {
	outcomes := make([]Outcome, len(notifications))
	var group errgroup.Group
	group.SetLimit(d.concurrency)
	for index, notification := range notifications {
		if ctx.Err() != nil {
			outcomes[index] = d.finish(d.clock(), d.skip(notification, DedupKey(notification), reasonCanceled))
			continue
		}
		group.Go(func() error {
			outcomes[index] = d.Dispatch(ctx, notification)
			return nil
		})
	}
	_ = group.Wait()
	return outcomes
}

// Dispatch sends one notification. Failures are logged and reported in the outcome,
// never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, notification Notification) Outcome {
	started := d.clock()
	dedupKey := DedupKey(notification)
	recipientKey := notification.Recipient.IdentityKey()

	if ctx.Err() != nil {
		return d.finish(started, d.skip(notification, dedupKey, reasonCanceled))
	}

	normalizedPhone := phone.Normalize(notification.Recipient.Phone)
	if normalizedPhone == "" {
		d.logger.Warn("notification recipient has no phone",
			zap.String("kind", string(notification.Kind)),
			zap.String("recipient", recipientKey),
		)
		return d.finish(started, Outcome{
			Kind:         notification.Kind,
			RecipientKey: recipientKey,
			DedupKey:     dedupKey,
			Status:       OutcomeFailed,
			Reason:       reasonMissingPhone,
		})
	}

	if notification.Kind == KindPriceReduction && notification.Price.Valid {
		lastPrice, err := d.ledger.LastSentPrice(ctx, recipientKey, notification.PropertyID, notification.Kind)
		if err != nil {
			d.logger.Warn("price history lookup failed", zap.String("recipient", recipientKey), zap.Error(err))
		} else if lastPrice.Valid && !notification.Price.Decimal.LessThan(lastPrice.Decimal) {
			return d.finish(started, d.skip(notification, dedupKey, reasonNotLower))
		}
	}

	message := Message{Phone: normalizedPhone, Text: notification.Text, ImageURL: notification.ImageURL}
	claim, err := d.ledger.Claim(ctx, ClaimRequest{
		DedupKey:      dedupKey,
		Kind:          notification.Kind,
		RecipientKey:  recipientKey,
		Phone:         normalizedPhone,
		PropertyID:    notification.PropertyID,
		Reference:     notification.Reference,
		Price:         notification.Price,
		PayloadDigest: payloadDigest(message),
	})
	if err != nil {
		d.logger.Error("notification claim failed",
			zap.String("kind", string(notification.Kind)),
			zap.String("recipient", recipientKey),
			zap.Error(err),
		)
		return d.finish(started, Outcome{
			Kind:         notification.Kind,
			RecipientKey: recipientKey,
			DedupKey:     dedupKey,
			Status:       OutcomeFailed,
			Reason:       reasonLedgerFailure,
		})
	}
	switch claim {
	case ClaimAlreadySent:
		return d.finish(started, d.skip(notification, dedupKey, reasonAlreadySent))
	case ClaimInFlight:
		return d.finish(started, d.skip(notification, dedupKey, reasonInFlight))
	}

	// The claim is ours: finish the send and its bookkeeping even if the caller goes away.
	sendCtx := context.WithoutCancel(ctx)
	receipt, attempts, sendErr := d.send(sendCtx, message)
	if errors.Is(sendErr, ErrUnconfirmed) {
		d.logger.Warn("notification accepted without confirmation",
			zap.String("kind", string(notification.Kind)),
			zap.String("recipient", recipientKey),
			zap.Error(sendErr),
		)
		if err := d.ledger.MarkSent(sendCtx, dedupKey, "", attempts); err != nil {
			d.logger.Error("notification delivery not recorded", zap.String("dedup_key", dedupKey), zap.Error(err))
		}
		return d.finish(started, Outcome{
			Kind:         notification.Kind,
			RecipientKey: recipientKey,
			DedupKey:     dedupKey,
			Status:       OutcomeSent,
			Reason:       reasonUnconfirmed,
			Attempts:     attempts,
		})
	}
	if sendErr != nil {
		d.logger.Warn("notification send failed",
			zap.String("kind", string(notification.Kind)),
			zap.String("recipient", recipientKey),
			zap.Int("attempts", attempts),
			zap.Error(sendErr),
		)
		if err := d.ledger.MarkFailed(sendCtx, dedupKey, attempts, sendErr); err != nil {
			d.logger.Error("notification failure not recorded", zap.String("dedup_key", dedupKey), zap.Error(err))
		}
		return d.finish(started, Outcome{
			Kind:         notification.Kind,
			RecipientKey: recipientKey,
			DedupKey:     dedupKey,
			Status:       OutcomeFailed,
			Reason:       reasonGatewayFailure,
			Attempts:     attempts,
		})
	}

	if err := d.ledger.MarkSent(sendCtx, dedupKey, receipt.ProviderID, attempts); err != nil {
		d.logger.Error("notification delivery not recorded", zap.String("dedup_key", dedupKey), zap.Error(err))
	}
	d.logger.Info("notification sent",
		zap.String("kind", string(notification.Kind)),
		zap.String("recipient", recipientKey),
		zap.String("provider_id", receipt.ProviderID),
	)
	return d.finish(started, Outcome{
		Kind:         notification.Kind,
		RecipientKey: recipientKey,
		DedupKey:     dedupKey,
		Status:       OutcomeSent,
		ProviderID:   receipt.ProviderID,
		Attempts:     attempts,
	})
}

func (d *Dispatcher) send(ctx context.Context, message Message) (Receipt, int, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.retryInterval
	policy.RandomizationFactor = 0.5
	policy.Multiplier = 2
	policy.MaxElapsedTime = 0

	attempts := 0
	var receipt Receipt
	operation := func() error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		defer cancel()

		result, err := d.gateway.Send(callCtx, message)
		if err != nil {
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if !result.Accepted {
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrRejected, result.Detail))
		}
		receipt = result
		return nil
	}

	retryPolicy := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(d.attempts-1)), ctx)
	err := backoff.Retry(operation, retryPolicy)
	return receipt, attempts, err
}

func (d *Dispatcher) skip(notification Notification, dedupKey, reason string) Outcome {
	d.logger.Debug("notification skipped",
		zap.String("kind", string(notification.Kind)),
		zap.String("recipient", notification.Recipient.IdentityKey()),
		zap.String("reason", reason),
	)
	return Outcome{
		Kind:         notification.Kind,
		RecipientKey: notification.Recipient.IdentityKey(),
		DedupKey:     dedupKey,
		Status:       OutcomeSkipped,
		Reason:       reason,
	}
}

func (d *Dispatcher) finish(started time.Time, outcome Outcome) Outcome {
	if d.observer != nil {
		d.observer.ObserveDispatch(string(outcome.Kind), string(outcome.Status), d.clock().Sub(started))
	}
	return outcome
}
