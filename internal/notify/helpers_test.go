package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type sequenceIDs struct {
	counter atomic.Int64
}

func (s *sequenceIDs) NewID() (string, error) {
	return fmt.Sprintf("msg-%d", s.counter.Add(1)), nil
}

type gatewayResponse struct {
	receipt Receipt
	err     error
}

type fakeGateway struct {
	mu        sync.Mutex
	calls     []Message
	responses []gatewayResponse
	delay     time.Duration
	inFlight  atomic.Int32
	maxFlight atomic.Int32
}

func (g *fakeGateway) Send(ctx context.Context, message Message) (Receipt, error) {
	current := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		observed := g.maxFlight.Load()
		if current <= observed || g.maxFlight.CompareAndSwap(observed, current) {
			break
		}
	}
	if g.delay > 0 {
		time.Sleep(g.delay)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, message)
	if len(g.responses) == 0 {
		return Receipt{Accepted: true, ProviderID: fmt.Sprintf("provider-%d", len(g.calls))}, nil
	}
	response := g.responses[0]
	g.responses = g.responses[1:]
	return response.receipt, response.err
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses map[string]int
}

func (o *recordingObserver) ObserveDispatch(kind string, status string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.statuses == nil {
		o.statuses = map[string]int{}
	}
	o.statuses[kind+"/"+status]++
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:notify_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&OutboundMessage{}))
	return db
}

func newTestLedger(t *testing.T, db *gorm.DB, clock func() time.Time) *GormLedger {
	t.Helper()
	ledger, err := NewGormLedger(GormLedgerConfig{
		Database:   db,
		IDProvider: &sequenceIDs{},
		Clock:      clock,
	})
	require.NoError(t, err)
	return ledger
}

func newTestDispatcher(t *testing.T, ledger Ledger, gateway Gateway, observer Observer) *Dispatcher {
	t.Helper()
	dispatcher, err := NewDispatcher(Config{
		Ledger:        ledger,
		Gateway:       gateway,
		Observer:      observer,
		Concurrency:   3,
		RetryInterval: time.Millisecond,
		SendTimeout:   time.Second,
	})
	require.NoError(t, err)
	return dispatcher
}

func matchNotification(leadID string) Notification {
	return Notification{
		Kind:       KindPropertyMatch,
		Recipient:  Recipient{Key: "lead:" + leadID, Name: "Ana", Phone: "(61) 99690-0444"},
		PropertyID: "property-1",
		Text:       "Nova oportunidade",
		ImageURL:   "https://cdn.example.com/capa.jpg",
	}
}
