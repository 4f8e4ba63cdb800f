package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dcruzimoveis/leadmatch/internal/ids"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	// StatusPending marks a claimed key whose send is in progress.
	StatusPending = "pending"
	// StatusSent marks a delivered message. At most one row per key carries it.
	StatusSent = "sent"
	// StatusFailed marks a claim whose send failed; a later trigger may reclaim it.
	StatusFailed = "failed"

	defaultStaleClaimAfter  = 10 * time.Minute
	maxErrorLength          = 500
	postgresUniqueViolation = "23505"
)

var (
	errMissingLedgerDatabase = errors.New("ledger database handle is required")
	errMissingLedgerIDs      = errors.New("ledger id provider is required")
)

// OutboundMessage is a row of the dedup ledger.
type OutboundMessage struct {
	ID            string              `gorm:"column:id;primaryKey;size:64"`
	DedupKey      string              `gorm:"column:dedup_key;size:64;not null;uniqueIndex"`
	Kind          string              `gorm:"column:kind;size:32;not null;index:idx_outbound_recipient_history"`
	Recipient     string              `gorm:"column:recipient;size:128;not null;index:idx_outbound_recipient_history"`
	PropertyID    string              `gorm:"column:property_id;size:64;index:idx_outbound_recipient_history"`
	Phone         string              `gorm:"column:phone;size:32"`
	Reference     string              `gorm:"column:reference;size:64"`
	PriceAtSend   decimal.NullDecimal `gorm:"column:price_at_send;type:decimal(14,2)"`
	PayloadDigest string              `gorm:"column:payload_digest;size:64"`
	ProviderID    string              `gorm:"column:provider_id;size:128"`
	Status        string              `gorm:"column:status;size:16;not null;index"`
	Version       int64               `gorm:"column:version;not null"`
	Attempts      int                 `gorm:"column:attempts;not null"`
	LastError     string              `gorm:"column:last_error;size:500"`
	ClaimedAt     time.Time           `gorm:"column:claimed_at;not null"`
	SentAt        *time.Time          `gorm:"column:sent_at"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing the dedup ledger.
func (OutboundMessage) TableName() string {
	return "outbound_messages"
}

// ClaimRequest describes the message a dispatcher is about to send.
type ClaimRequest struct {
	DedupKey      string
	Kind          Kind
	RecipientKey  string
	Phone         string
	PropertyID    string
	Reference     string
	Price         decimal.NullDecimal
	PayloadDigest string
}

// ClaimResult tells the dispatcher whether it owns the send.
type ClaimResult int

const (
	// ClaimAcquired means the caller must send and then record the result.
	ClaimAcquired ClaimResult = iota
	// ClaimAlreadySent means a previous trigger delivered this message.
	ClaimAlreadySent
	// ClaimInFlight means a concurrent trigger holds the claim.
	ClaimInFlight
)

// Ledger records outbound messages keyed by dedup key.
type Ledger interface {
	Claim(ctx context.Context, request ClaimRequest) (ClaimResult, error)
	MarkSent(ctx context.Context, dedupKey, providerID string, attempts int) error
	MarkFailed(ctx context.Context, dedupKey string, attempts int, cause error) error
	LastSentPrice(ctx context.Context, recipientKey, propertyID string, kind Kind) (decimal.NullDecimal, error)
}

// GormLedgerConfig wires the SQL ledger.
type GormLedgerConfig struct {
	Database        *gorm.DB
	IDProvider      ids.Provider
	Clock           func() time.Time
	StaleClaimAfter time.Duration
}

// GormLedger stores the dedup ledger in the application database. The unique index
// on dedup_key arbitrates concurrent claims.
type GormLedger struct {
	db         *gorm.DB
	ids        ids.Provider
	clock      func() time.Time
	staleAfter time.Duration
}

// NewGormLedger constructs the SQL ledger.
func NewGormLedger(cfg GormLedgerConfig) (*GormLedger, error) {
	if cfg.Database == nil {
		return nil, errMissingLedgerDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingLedgerIDs
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	staleAfter := cfg.StaleClaimAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleClaimAfter
	}
	return &GormLedger{
		db:         cfg.Database,
		ids:        cfg.IDProvider,
		clock:      clock,
		staleAfter: staleAfter,
	}, nil
}

// Claim inserts a pending row for the key. When the key exists, a failed or stale
// pending row is taken over with a version-guarded update.
func (l *GormLedger) Claim(ctx context.Context, request ClaimRequest) (ClaimResult, error) {
	now := l.clock().UTC()
	id, err := l.ids.NewID()
	if err != nil {
		return ClaimInFlight, err
	}

	record := OutboundMessage{
		ID:            id,
		DedupKey:      request.DedupKey,
		Kind:          string(request.Kind),
		Recipient:     request.RecipientKey,
		PropertyID:    request.PropertyID,
		Phone:         request.Phone,
		Reference:     request.Reference,
		PriceAtSend:   request.Price,
		PayloadDigest: request.PayloadDigest,
		Status:        StatusPending,
		Version:       1,
		ClaimedAt:     now,
	}
	createErr := l.db.WithContext(ctx).Create(&record).Error
	if createErr == nil {
		return ClaimAcquired, nil
	}
	if !IsDuplicateKey(createErr) {
		return ClaimInFlight, createErr
	}

	var existing OutboundMessage
	if err := l.db.WithContext(ctx).Where("dedup_key = ?", request.DedupKey).Take(&existing).Error; err != nil {
		return ClaimInFlight, err
	}
	switch existing.Status {
	case StatusSent:
		return ClaimAlreadySent, nil
	case StatusPending:
		if now.Sub(existing.ClaimedAt.UTC()) < l.staleAfter {
			return ClaimInFlight, nil
		}
	}

	result := l.db.WithContext(ctx).
		Model(&OutboundMessage{}).
		Where("dedup_key = ? AND version = ?", request.DedupKey, existing.Version).
		Updates(map[string]any{
			"status":         StatusPending,
			"version":        existing.Version + 1,
			"claimed_at":     now,
			"phone":          request.Phone,
			"price_at_send":  request.Price,
			"payload_digest": request.PayloadDigest,
			"last_error":     "",
		})
	if result.Error != nil {
		return ClaimInFlight, result.Error
	}
	if result.RowsAffected == 0 {
		return ClaimInFlight, nil
	}
	return ClaimAcquired, nil
}

// MarkSent records a delivered message.
func (l *GormLedger) MarkSent(ctx context.Context, dedupKey, providerID string, attempts int) error {
	sentAt := l.clock().UTC()
	return l.db.WithContext(ctx).
		Model(&OutboundMessage{}).
		Where("dedup_key = ?", dedupKey).
		Updates(map[string]any{
			"status":      StatusSent,
			"provider_id": providerID,
			"attempts":    gorm.Expr("attempts + ?", attempts),
			"sent_at":     sentAt,
			"last_error":  "",
		}).Error
}

// MarkFailed records a failed send so that a later trigger may retry it.
func (l *GormLedger) MarkFailed(ctx context.Context, dedupKey string, attempts int, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
		if len(message) > maxErrorLength {
			message = message[:maxErrorLength]
		}
	}
	return l.db.WithContext(ctx).
		Model(&OutboundMessage{}).
		Where("dedup_key = ?", dedupKey).
		Updates(map[string]any{
			"status":     StatusFailed,
			"attempts":   gorm.Expr("attempts + ?", attempts),
			"last_error": message,
		}).Error
}

// LastSentPrice returns the price announced by the most recent delivered message of
// the kind for the recipient and listing.
func (l *GormLedger) LastSentPrice(ctx context.Context, recipientKey, propertyID string, kind Kind) (decimal.NullDecimal, error) {
	var records []OutboundMessage
	err := l.db.WithContext(ctx).
		Where("recipient = ? AND property_id = ? AND kind = ? AND status = ?", recipientKey, propertyID, string(kind), StatusSent).
		Order("sent_at DESC").
		Limit(1).
		Find(&records).Error
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if len(records) == 0 {
		return decimal.NullDecimal{}, nil
	}
	return records[0].PriceAtSend, nil
}

// IsDuplicateKey reports whether err is a unique constraint violation from any of
// the supported drivers.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == postgresUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
