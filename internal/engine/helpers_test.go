package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dcruzimoveis/leadmatch/internal/geocode"
	"github.com/dcruzimoveis/leadmatch/internal/leads"
	"github.com/dcruzimoveis/leadmatch/internal/listings"
	"github.com/dcruzimoveis/leadmatch/internal/notify"
	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, time.March, 10, 14, 30, 0, 0, time.UTC)

type sequenceIDs struct {
	prefix  string
	counter atomic.Int64
}

func (s *sequenceIDs) NewID() (string, error) {
	return fmt.Sprintf("%s-%03d", s.prefix, s.counter.Add(1)), nil
}

type recordingGateway struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (g *recordingGateway) Send(_ context.Context, message notify.Message) (notify.Receipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, message)
	return notify.Receipt{Accepted: true, ProviderID: fmt.Sprintf("wamid-%d", len(g.messages))}, nil
}

func (g *recordingGateway) sent() []notify.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]notify.Message(nil), g.messages...)
}

type countingProvider struct {
	calls atomic.Int32
}

func (p *countingProvider) Resolve(_ context.Context, _ string) (geocode.Coordinates, error) {
	p.calls.Add(1)
	return geocode.Coordinates{Latitude: -15.8267, Longitude: -47.9218}, nil
}

type recordingObserver struct {
	mu         sync.Mutex
	reductions int
	matchRuns  []string
}

func (o *recordingObserver) ObservePriceReduction() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reductions++
}

func (o *recordingObserver) ObserveMatchRun(trigger string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.matchRuns = append(o.matchRuns, trigger)
}

type testEnv struct {
	service  *Service
	db       *gorm.DB
	gateway  *recordingGateway
	provider *countingProvider
	observer *recordingObserver
}

func openEngineDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:engine_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(
		&listings.Property{},
		&leads.Lead{},
		&leads.PriceAlertSubscription{},
		&notify.OutboundMessage{},
		&geocode.CacheEntry{},
	); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestEnv(t *testing.T, configure ...func(*ServiceConfig)) *testEnv {
	t.Helper()
	db := openEngineDatabase(t)
	clock := func() time.Time { return testNow }

	ledger, err := notify.NewGormLedger(notify.GormLedgerConfig{
		Database:   db,
		IDProvider: &sequenceIDs{prefix: "msg"},
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("failed to build ledger: %v", err)
	}
	gateway := &recordingGateway{}
	dispatcher, err := notify.NewDispatcher(notify.Config{
		Ledger:        ledger,
		Gateway:       gateway,
		Clock:         clock,
		Concurrency:   3,
		RetryInterval: time.Millisecond,
		SendTimeout:   time.Second,
	})
	if err != nil {
		t.Fatalf("failed to build dispatcher: %v", err)
	}

	provider := &countingProvider{}
	resolver, err := geocode.NewResolver(geocode.ResolverConfig{
		Store:    geocode.NewGormStore(db),
		Provider: provider,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("failed to build geocoder: %v", err)
	}

	observer := &recordingObserver{}
	cfg := ServiceConfig{
		Repository: NewGormRepository(db, clock),
		Dispatcher: dispatcher,
		Geocoder:   resolver,
		Observer:   observer,
		Clock:      clock,
		IDProvider: &sequenceIDs{prefix: "id"},
		SiteURL:    "https://dcruzimoveis.com.br/",
	}
	for _, apply := range configure {
		apply(&cfg)
	}
	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return &testEnv{service: service, db: db, gateway: gateway, provider: provider, observer: observer}
}

func (e *testEnv) createProperty(t *testing.T, input PropertyInput) listings.Property {
	t.Helper()
	result, err := e.service.UpsertProperty(context.Background(), input)
	if err != nil {
		t.Fatalf("unexpected property error: %v", err)
	}
	return result.Property
}

func (e *testEnv) seedLead(t *testing.T, lead leads.Lead) leads.Lead {
	t.Helper()
	if lead.Status == "" {
		lead.Status = leads.StatusNew
	}
	if lead.Name == "" {
		lead.Name = "Lead " + lead.ID
	}
	if err := e.db.Create(&lead).Error; err != nil {
		t.Fatalf("failed to seed lead: %v", err)
	}
	return lead
}

func (e *testEnv) ledgerRows(t *testing.T, kind notify.Kind) []notify.OutboundMessage {
	t.Helper()
	var rows []notify.OutboundMessage
	if err := e.db.Where("kind = ?", string(kind)).Order("recipient ASC").Find(&rows).Error; err != nil {
		t.Fatalf("failed to load ledger: %v", err)
	}
	return rows
}

func houseInput(price int64) PropertyInput {
	return PropertyInput{
		Title:       "Casa 3 quartos no Lago Sul",
		Category:    "casa",
		ListingType: string(listings.ListingTypeSale),
		Price:       decimal.NewFromInt(price),
		City:        "Brasília",
		State:       "DF",
		Bedrooms:    3,
		Bathrooms:   2,
		Images:      []string{"https://cdn.example.com/casa.jpg"},
	}
}

func decimalPtr(value int64) *decimal.Decimal {
	amount := decimal.NewFromInt(value)
	return &amount
}

func stringPtr(value string) *string {
	return &value
}

func floatPtr(value float64) *float64 {
	return &value
}

func containsText(messages []notify.Message, fragment string) int {
	count := 0
	for _, message := range messages {
		if strings.Contains(message.Text, fragment) {
			count++
		}
	}
	return count
}
