package stripeledger

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/skippy/island-grown/pkg/benefits"
	"github.com/stripe/stripe-go/v76"
)

type capturedRequest struct {
	method string
	path   string
	query  url.Values
	form   url.Values
}

type stripeStub struct {
	mutex     sync.Mutex
	requests  []capturedRequest
	responses map[string]stubResponse
}

type stubResponse struct {
	status int
	body   string
}

func (stub *stripeStub) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	body, _ := io.ReadAll(request.Body)
	form, _ := url.ParseQuery(string(body))
	stub.mutex.Lock()
	stub.requests = append(stub.requests, capturedRequest{method: request.Method, path: request.URL.Path, query: request.URL.Query(), form: form})
	response, ok := stub.responses[request.Method+" "+request.URL.Path]
	stub.mutex.Unlock()
	if !ok {
		response = stubResponse{status: http.StatusNotFound, body: `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such object"}}`}
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(response.status)
	_, _ = writer.Write([]byte(response.body))
}

func (stub *stripeStub) last() capturedRequest {
	stub.mutex.Lock()
	defer stub.mutex.Unlock()
	return stub.requests[len(stub.requests)-1]
}

func newStubLedger(test *testing.T, responses map[string]stubResponse) (*Ledger, *stripeStub) {
	test.Helper()
	stub := &stripeStub{responses: responses}
	server := httptest.NewServer(stub)
	test.Cleanup(server.Close)
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(server.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	ledger, err := New(Config{
		APIKey:         "sk_test_123",
		WebhookSecrets: []string{testAuthSecret},
		Backends:       &stripe.Backends{API: backend, Connect: backend, Uploads: backend},
	})
	if err != nil {
		test.Fatalf("ledger: %v", err)
	}
	return ledger, stub
}

const cardholderJSON = `{"id":"ich_1","object":"issuing.cardholder","email":"farmer@example.com","phone_number":"+13605550100","status":"active","metadata":{"sms_enabled":"true"},"spending_controls":{"spending_limits":[{"amount":15000,"interval":"all_time"}]}}`

func TestFindCardholderByEmailNormalizesAndFiltersActive(test *testing.T) {
	test.Parallel()
	ledger, stub := newStubLedger(test, map[string]stubResponse{
		"GET /v1/issuing/cardholders": {status: http.StatusOK, body: `{"object":"list","url":"/v1/issuing/cardholders","has_more":false,"data":[` + cardholderJSON + `]}`},
	})
	cardholder, err := ledger.FindCardholderByEmail(context.Background(), " Farmer@Example.com ")
	if err != nil {
		test.Fatalf("find: %v", err)
	}
	if cardholder.ID != "ich_1" || cardholder.Metadata[benefits.MetadataSMSEnabled] != "true" {
		test.Fatalf("unexpected cardholder %+v", cardholder)
	}
	request := stub.last()
	if request.query.Get("email") != "farmer@example.com" || request.query.Get("status") != "active" || request.query.Get("limit") != "1" {
		test.Fatalf("unexpected query %v", request.query)
	}
}

func TestFindCardholderByPhoneNotFound(test *testing.T) {
	test.Parallel()
	ledger, _ := newStubLedger(test, map[string]stubResponse{
		"GET /v1/issuing/cardholders": {status: http.StatusOK, body: `{"object":"list","url":"/v1/issuing/cardholders","has_more":false,"data":[]}`},
	})
	if _, err := ledger.FindCardholderByPhone(context.Background(), "+13605550199"); !errors.Is(err, benefits.ErrCardholderNotFound) {
		test.Fatalf("expected ErrCardholderNotFound, got %v", err)
	}
	if _, err := ledger.FindCardholderByPhone(context.Background(), " "); !errors.Is(err, benefits.ErrCardholderNotFound) {
		test.Fatalf("expected blank phone to miss, got %v", err)
	}
}

func TestGetCardholderMissing(test *testing.T) {
	test.Parallel()
	ledger, _ := newStubLedger(test, map[string]stubResponse{})
	if _, err := ledger.GetCardholder(context.Background(), "ich_missing"); !errors.Is(err, benefits.ErrCardholderNotFound) {
		test.Fatalf("expected ErrCardholderNotFound, got %v", err)
	}
	if _, err := ledger.GetCardholder(context.Background(), ""); !errors.Is(err, benefits.ErrInvalidCardholderID) {
		test.Fatalf("expected ErrInvalidCardholderID, got %v", err)
	}
}

func TestFindCardholderByCardFetchesUnexpandedHolder(test *testing.T) {
	test.Parallel()
	ledger, stub := newStubLedger(test, map[string]stubResponse{
		"GET /v1/issuing/cards":            {status: http.StatusOK, body: `{"object":"list","url":"/v1/issuing/cards","has_more":false,"data":[{"id":"ic_1","object":"issuing.card","last4":"4242","exp_month":7,"exp_year":2027,"cardholder":"ich_1"}]}`},
		"GET /v1/issuing/cardholders/ich_1": {status: http.StatusOK, body: cardholderJSON},
	})
	cardholder, err := ledger.FindCardholderByCard(context.Background(), benefits.CardLookup{Last4: "4242", ExpMonth: 7, ExpYear: 2027})
	if err != nil {
		test.Fatalf("find by card: %v", err)
	}
	if cardholder.Email != "farmer@example.com" {
		test.Fatalf("unexpected cardholder %+v", cardholder)
	}
	if request := stub.last(); request.path != "/v1/issuing/cardholders/ich_1" {
		test.Fatalf("expected a follow-up cardholder fetch, got %s", request.path)
	}
}

func TestUpdateCardholderEncodesUpdate(test *testing.T) {
	test.Parallel()
	ledger, stub := newStubLedger(test, map[string]stubResponse{
		"POST /v1/issuing/cardholders/ich_1": {status: http.StatusOK, body: cardholderJSON},
	})
	email := "farmer@example.com"
	update := benefits.CardholderUpdate{
		Email:         &email,
		Metadata:      map[string]string{benefits.MetadataNumRefills: "1", "trial": ""},
		SpendingLimit: &benefits.SpendingLimit{Amount: 22500, Interval: benefits.IntervalAllTime},
	}
	if _, err := ledger.UpdateCardholder(context.Background(), "ich_1", update); err != nil {
		test.Fatalf("update: %v", err)
	}
	form := stub.last().form
	expected := map[string]string{
		"email":                                           "farmer@example.com",
		"metadata[numRefills]":                            "1",
		"metadata[trial]":                                 "",
		"spending_controls[spending_limits][0][amount]":   "22500",
		"spending_controls[spending_limits][0][interval]": "all_time",
	}
	for key, value := range expected {
		if got, ok := form[key]; !ok || got[0] != value {
			test.Fatalf("expected %s=%q, got %v", key, value, form)
		}
	}
}

func TestUpdateCardholderClearsLimits(test *testing.T) {
	test.Parallel()
	ledger, stub := newStubLedger(test, map[string]stubResponse{
		"POST /v1/issuing/cardholders/ich_1": {status: http.StatusOK, body: cardholderJSON},
	})
	if _, err := ledger.UpdateCardholder(context.Background(), "ich_1", benefits.CardholderUpdate{ClearSpendingLimits: true}); err != nil {
		test.Fatalf("update: %v", err)
	}
	if values, ok := stub.last().form[paramSpendingLimits]; !ok || values[0] != "" {
		test.Fatalf("expected an empty spending limits param, got %v", stub.last().form)
	}
}

func TestListTransactionsNormalizesAmounts(test *testing.T) {
	test.Parallel()
	ledger, stub := newStubLedger(test, map[string]stubResponse{
		"GET /v1/issuing/transactions": {status: http.StatusOK, body: `{"object":"list","url":"/v1/issuing/transactions","has_more":false,"data":[
			{"id":"ipi_1","object":"issuing.transaction","amount":-1250,"type":"capture","created":1721390400,"merchant_data":{"name":"SQ *LUM FARM LLC","postal_code":"98245"}},
			{"id":"ipi_2","object":"issuing.transaction","amount":500,"type":"refund","created":1721390500}
		]}`},
	})
	since := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	var transactions []benefits.Transaction
	err := ledger.ListTransactions(context.Background(), benefits.ActivityQuery{CardholderID: "ich_1", Since: since}, func(transaction benefits.Transaction) error {
		transactions = append(transactions, transaction)
		return nil
	})
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(transactions) != 2 || transactions[0].Amount != 1250 || transactions[1].SpendContribution() != -500 {
		test.Fatalf("unexpected transactions %+v", transactions)
	}
	if transactions[0].Merchant.PostalCode != "98245" || !transactions[0].Created.Equal(time.Unix(1721390400, 0)) {
		test.Fatalf("unexpected mapping %+v", transactions[0])
	}
	if got := stub.last().query.Get("created[gte]"); got != "1704067200" {
		test.Fatalf("expected created[gte] filter, got %q", got)
	}
}

func TestListPendingAuthorizations(test *testing.T) {
	test.Parallel()
	ledger, stub := newStubLedger(test, map[string]stubResponse{
		"GET /v1/issuing/authorizations": {status: http.StatusOK, body: `{"object":"list","url":"/v1/issuing/authorizations","has_more":false,"data":[
			{"id":"iauth_1","object":"issuing.authorization","amount":700,"status":"pending","cardholder":"ich_1","request_history":[{"approved":true,"reason":"webhook_approved"}]}
		]}`},
	})
	var pending []benefits.Authorization
	err := ledger.ListPendingAuthorizations(context.Background(), benefits.ActivityQuery{CardholderID: "ich_1"}, func(authorization benefits.Authorization) error {
		pending = append(pending, authorization)
		return nil
	})
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].Amount != 700 || pending[0].CardholderID != "ich_1" || len(pending[0].RequestHistory) != 1 {
		test.Fatalf("unexpected authorizations %+v", pending)
	}
	if stub.last().query.Get("status") != "pending" {
		test.Fatalf("expected status filter, got %v", stub.last().query)
	}
}

func TestClearCardSpendingLimits(test *testing.T) {
	test.Parallel()
	ledger, stub := newStubLedger(test, map[string]stubResponse{
		"POST /v1/issuing/cards/ic_1": {status: http.StatusOK, body: `{"id":"ic_1","object":"issuing.card"}`},
	})
	if err := ledger.ClearCardSpendingLimits(context.Background(), "ic_1"); err != nil {
		test.Fatalf("clear: %v", err)
	}
	if _, ok := stub.last().form[paramSpendingLimits]; !ok {
		test.Fatalf("expected spending limits param, got %v", stub.last().form)
	}
	if err := ledger.ClearCardSpendingLimits(context.Background(), "ic_missing"); err == nil {
		test.Fatalf("expected an error for a missing card")
	}
}
