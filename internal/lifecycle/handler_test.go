package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skippy/island-grown/internal/ledgertest"
	"github.com/skippy/island-grown/internal/spending"
	"github.com/skippy/island-grown/pkg/benefits"
)

const testCardholderID = "ich_lifecycle"

var testNow = time.Date(2024, time.July, 19, 12, 0, 0, 0, time.UTC)

type recordingWelcome struct {
	mutex       sync.Mutex
	cardholders []benefits.Cardholder
}

func (welcome *recordingWelcome) SendWelcome(_ context.Context, cardholder benefits.Cardholder, _ bool) (bool, error) {
	welcome.mutex.Lock()
	defer welcome.mutex.Unlock()
	welcome.cardholders = append(welcome.cardholders, cardholder)
	return true, nil
}

type recordingOperations struct {
	mutex   sync.Mutex
	entries []benefits.OperationLog
}

func (operations *recordingOperations) LogOperation(_ context.Context, entry benefits.OperationLog) {
	operations.mutex.Lock()
	defer operations.mutex.Unlock()
	operations.entries = append(operations.entries, entry)
}

func testPlan() spending.Plan {
	return spending.Plan{
		BaseFundingAmount:    decimal.NewFromInt(150),
		Interval:             benefits.IntervalAllTime,
		RefillTriggerPercent: decimal.RequireFromString("0.75"),
		RefillAmounts:        []decimal.Decimal{decimal.NewFromInt(75), decimal.NewFromInt(50)},
	}
}

func newTestHandler(test *testing.T, fake *ledgertest.Fake, options ...Option) *Handler {
	test.Helper()
	clock := func() time.Time { return testNow }
	aggregator, err := spending.NewAggregator(fake, testPlan(), clock)
	if err != nil {
		test.Fatalf("aggregator: %v", err)
	}
	recomputer, err := spending.NewRecomputer(aggregator, testPlan(), clock)
	if err != nil {
		test.Fatalf("recomputer: %v", err)
	}
	handler, err := NewHandler(fake, fake, recomputer, options...)
	if err != nil {
		test.Fatalf("handler: %v", err)
	}
	return handler
}

func initializedCardholder() benefits.Cardholder {
	return benefits.Cardholder{
		ID:          testCardholderID,
		Email:       "farmer@example.com",
		PhoneNumber: "+13605550100",
		Metadata: map[string]string{
			benefits.MetadataNumRefills:        "0",
			benefits.MetadataBaseFundingAmount: "150",
			benefits.MetadataSMSEnabled:        "true",
		},
		SpendingControls: benefits.SpendingControls{SpendingLimits: []benefits.SpendingLimit{
			{Amount: 15000, Interval: benefits.IntervalAllTime},
		}},
	}
}

func TestCardholderCreatedInitializes(test *testing.T) {
	test.Parallel()
	fake := ledgertest.New()
	created := benefits.Cardholder{ID: testCardholderID, Email: "  Farmer@Example.com ", PhoneNumber: "+13605550100"}
	fake.AddCardholder(created)
	welcome := &recordingWelcome{}
	handler := newTestHandler(test, fake, WithWelcomeSender(welcome))

	if err := handler.Handle(context.Background(), benefits.Event{ID: "evt_1", Type: benefits.EventCardholderCreated, Cardholder: &created}); err != nil {
		test.Fatalf("handle: %v", err)
	}
	stored, _ := fake.Cardholder(testCardholderID)
	if stored.Email != "farmer@example.com" {
		test.Fatalf("expected normalized email, got %q", stored.Email)
	}
	if stored.Metadata[benefits.MetadataSMSEnabled] != "true" {
		test.Fatalf("expected opt-in default, got %v", stored.Metadata)
	}
	if stored.Metadata[benefits.MetadataNumRefills] != "0" || stored.Metadata[benefits.MetadataBaseFundingAmount] != "150" {
		test.Fatalf("expected funding defaults, got %v", stored.Metadata)
	}
	limit, ok := stored.SpendingControls.LimitFor(benefits.IntervalAllTime)
	if !ok || limit.Amount != 15000 {
		test.Fatalf("expected 150.00 limit, got %+v", stored.SpendingControls)
	}
	if updates := fake.Updates(); len(updates) != 2 {
		test.Fatalf("expected opt-in write then one merged update, got %d", len(updates))
	}
	if len(welcome.cardholders) != 1 || welcome.cardholders[0].Email != "farmer@example.com" {
		test.Fatalf("expected welcome with the stored cardholder, got %+v", welcome.cardholders)
	}
}

func TestCardholderCreatedKeepsExistingOptIn(test *testing.T) {
	test.Parallel()
	fake := ledgertest.New()
	created := initializedCardholder()
	created.Metadata[benefits.MetadataSMSEnabled] = "false"
	fake.AddCardholder(created)
	handler := newTestHandler(test, fake)
	if err := handler.CardholderCreated(context.Background(), created); err != nil {
		test.Fatalf("created: %v", err)
	}
	if len(fake.Updates()) != 0 {
		test.Fatalf("expected no writes, got %+v", fake.Updates())
	}
}

func TestCardholderUpdatedSkipsEmptyUpdate(test *testing.T) {
	test.Parallel()
	fake := ledgertest.New()
	cardholder := initializedCardholder()
	fake.AddCardholder(cardholder)
	fake.AddTransaction(testCardholderID, benefits.Transaction{ID: "ipi_1", Amount: 2000, Type: benefits.TransactionCapture, Created: testNow.Add(-time.Hour)})
	handler := newTestHandler(test, fake)

	if _, err := handler.CardholderUpdated(context.Background(), cardholder); err != nil {
		test.Fatalf("updated: %v", err)
	}
	if len(fake.Updates()) != 0 {
		test.Fatalf("expected no write below the trigger, got %+v", fake.Updates())
	}
}

func TestCardholderUpdatedGrantsRefill(test *testing.T) {
	test.Parallel()
	fake := ledgertest.New()
	cardholder := initializedCardholder()
	fake.AddCardholder(cardholder)
	fake.AddTransaction(testCardholderID, benefits.Transaction{ID: "ipi_1", Amount: 11250, Type: benefits.TransactionCapture, Created: testNow.Add(-time.Hour)})
	operations := &recordingOperations{}
	handler := newTestHandler(test, fake, WithOperationLogger(operations))

	stored, err := handler.CardholderUpdated(context.Background(), cardholder)
	if err != nil {
		test.Fatalf("updated: %v", err)
	}
	limit, _ := stored.SpendingControls.LimitFor(benefits.IntervalAllTime)
	if limit.Amount != 22500 {
		test.Fatalf("expected 225.00 limit, got %d", limit.Amount)
	}
	if stored.Metadata[benefits.MetadataNumRefills] != "1" || stored.Metadata[benefits.RefillAmountKey(0)] != "75" {
		test.Fatalf("unexpected refill metadata %v", stored.Metadata)
	}
	if len(fake.Updates()) != 1 {
		test.Fatalf("expected a single merged write, got %d", len(fake.Updates()))
	}
	if len(operations.entries) != 1 || operations.entries[0].Operation != benefits.OperationUpdateCardholder || operations.entries[0].Amount != 22500 {
		test.Fatalf("unexpected operation log %+v", operations.entries)
	}

	if _, err := handler.CardholderUpdated(context.Background(), stored); err != nil {
		test.Fatalf("second update: %v", err)
	}
	if len(fake.Updates()) != 1 {
		test.Fatalf("expected recompute to be idempotent below the new trigger, got %d writes", len(fake.Updates()))
	}
}

func TestCardholderUpdatedErrors(test *testing.T) {
	test.Parallel()
	fake := ledgertest.New()
	cardholder := initializedCardholder()
	cardholder.Email = "Upper@Example.com"
	fake.AddCardholder(cardholder)
	fake.UpdateErr = errors.New("rate limited")
	handler := newTestHandler(test, fake)
	if _, err := handler.CardholderUpdated(context.Background(), cardholder); err == nil {
		test.Fatalf("expected update error")
	}

	listFailure := ledgertest.New()
	listFailure.AddCardholder(initializedCardholder())
	listFailure.ListTransactionsErr = errors.New("ledger down")
	if _, err := newTestHandler(test, listFailure).CardholderUpdated(context.Background(), initializedCardholder()); err == nil {
		test.Fatalf("expected recompute error")
	}

	if _, err := handler.CardholderUpdated(context.Background(), benefits.Cardholder{}); !errors.Is(err, benefits.ErrInvalidCardholderID) {
		test.Fatalf("expected ErrInvalidCardholderID, got %v", err)
	}
}

func TestCardholderUpdatedKeepsLimitOnMalformedFunding(test *testing.T) {
	test.Parallel()
	fake := ledgertest.New()
	cardholder := initializedCardholder()
	cardholder.Metadata[benefits.MetadataNumRefills] = "1.0"
	cardholder.SpendingControls = benefits.SpendingControls{SpendingLimits: []benefits.SpendingLimit{
		{Amount: 22500, Interval: benefits.IntervalAllTime},
	}}
	fake.AddCardholder(cardholder)
	handler := newTestHandler(test, fake)

	_, err := handler.CardholderUpdated(context.Background(), cardholder)
	if !errors.Is(err, benefits.ErrInvalidFundingMetadata) {
		test.Fatalf("expected ErrInvalidFundingMetadata, got %v", err)
	}
	if len(fake.Updates()) != 0 {
		test.Fatalf("expected no write, got %+v", fake.Updates())
	}
}

func TestCardChanged(test *testing.T) {
	test.Parallel()
	fake := ledgertest.New()
	limited := benefits.Card{ID: "ic_limited", CardholderID: testCardholderID, SpendingControls: benefits.SpendingControls{
		SpendingLimits: []benefits.SpendingLimit{{Amount: 50000, Interval: benefits.LimitInterval("daily")}},
	}}
	clean := benefits.Card{ID: "ic_clean", CardholderID: testCardholderID}
	fake.AddCard(limited)
	fake.AddCard(clean)
	handler := newTestHandler(test, fake)

	if err := handler.Handle(context.Background(), benefits.Event{Type: benefits.EventCardCreated, Card: &limited}); err != nil {
		test.Fatalf("card created: %v", err)
	}
	if err := handler.Handle(context.Background(), benefits.Event{Type: benefits.EventCardUpdated, Card: &clean}); err != nil {
		test.Fatalf("card updated: %v", err)
	}
	cleared := fake.ClearedCards()
	if len(cleared) != 1 || cleared[0] != "ic_limited" {
		test.Fatalf("expected only the limited card to be cleared, got %v", cleared)
	}
}

func TestClearCardholderCards(test *testing.T) {
	test.Parallel()
	fake := ledgertest.New()
	limits := benefits.SpendingControls{SpendingLimits: []benefits.SpendingLimit{{Amount: 50000, Interval: benefits.LimitInterval("daily")}}}
	fake.AddCard(benefits.Card{ID: "ic_1", CardholderID: testCardholderID, SpendingControls: limits})
	fake.AddCard(benefits.Card{ID: "ic_2", CardholderID: testCardholderID})
	fake.AddCard(benefits.Card{ID: "ic_3", CardholderID: "ich_other", SpendingControls: limits})
	handler := newTestHandler(test, fake)

	cleared, err := handler.ClearCardholderCards(context.Background(), testCardholderID)
	if err != nil {
		test.Fatalf("clear: %v", err)
	}
	if cleared != 1 {
		test.Fatalf("expected one cleared card, got %d", cleared)
	}
}

func TestHandleIgnoresUnknownEvents(test *testing.T) {
	test.Parallel()
	handler := newTestHandler(test, ledgertest.New())
	if err := handler.Handle(context.Background(), benefits.Event{Type: benefits.EventUnhandled}); err != nil {
		test.Fatalf("expected unknown events to be ignored, got %v", err)
	}
	if err := handler.Handle(context.Background(), benefits.Event{Type: benefits.EventCardholderUpdated}); !errors.Is(err, benefits.ErrUnsupportedEvent) {
		test.Fatalf("expected ErrUnsupportedEvent for a missing payload, got %v", err)
	}
}
