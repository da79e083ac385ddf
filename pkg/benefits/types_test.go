package benefits

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseLimitInterval(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"all_time", "yearly", " monthly "} {
		if _, err := ParseLimitInterval(raw); err != nil {
			test.Fatalf("interval %q: %v", raw, err)
		}
	}
	if _, err := ParseLimitInterval("weekly"); !errors.Is(err, ErrInvalidInterval) {
		test.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestWindowStart(test *testing.T) {
	test.Parallel()
	now := time.Date(2024, time.July, 19, 13, 45, 0, 0, time.UTC)
	testCases := []struct {
		interval LimitInterval
		want     time.Time
	}{
		{interval: IntervalAllTime, want: time.Time{}},
		{interval: IntervalYearly, want: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)},
		{interval: IntervalMonthly, want: time.Date(2024, time.July, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, testCase := range testCases {
		if got := testCase.interval.WindowStart(now); !got.Equal(testCase.want) {
			test.Fatalf("%s: expected %v, got %v", testCase.interval, testCase.want, got)
		}
	}
}

func TestWindowStartFollowsClockLocation(test *testing.T) {
	test.Parallel()
	pacific := time.FixedZone("PST", -8*60*60)
	now := time.Date(2025, time.January, 1, 3, 0, 0, 0, time.UTC).In(pacific)
	if got, want := IntervalYearly.WindowStart(now), time.Date(2024, time.January, 1, 0, 0, 0, 0, pacific); !got.Equal(want) {
		test.Fatalf("yearly: expected %v, got %v", want, got)
	}
	if got, want := IntervalMonthly.WindowStart(now), time.Date(2024, time.December, 1, 0, 0, 0, 0, pacific); !got.Equal(want) {
		test.Fatalf("monthly: expected %v, got %v", want, got)
	}
	if date := RefillMetadata(0, decimal.NewFromInt(75), now)[RefillDateKey(0)]; date != "12/31/2024" {
		test.Fatalf("expected the local calendar date, got %q", date)
	}
}

func TestSpendContribution(test *testing.T) {
	test.Parallel()
	capture := Transaction{Amount: 2000, Type: TransactionCapture}
	refund := Transaction{Amount: 500, Type: TransactionRefund}
	other := Transaction{Amount: 900, Type: TransactionType("dispute")}
	if capture.SpendContribution() != 2000 || refund.SpendContribution() != -500 || other.SpendContribution() != 0 {
		test.Fatalf("unexpected contributions %d %d %d", capture.SpendContribution(), refund.SpendContribution(), other.SpendContribution())
	}
}

func TestAmountConversions(test *testing.T) {
	test.Parallel()
	if got := AmountFromDollars(decimal.RequireFromString("150")); got != 15000 {
		test.Fatalf("expected 15000, got %d", got)
	}
	if got := AmountFromDollars(decimal.RequireFromString("0.005")); got != 1 {
		test.Fatalf("expected half-up rounding to 1, got %d", got)
	}
	if got := AmountCents(12345).Dollars().String(); got != "123.45" {
		test.Fatalf("expected 123.45, got %s", got)
	}
	if _, err := ParseDollars("abc"); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestSnapshotBalance(test *testing.T) {
	test.Parallel()
	snapshot := SpendSnapshot{SpendingLimit: 15000, Spend: 2000 + 1000, PendingAmount: 1000, PendingCount: 1}
	if snapshot.Balance() != 12000 {
		test.Fatalf("expected balance 12000, got %d", snapshot.Balance())
	}
	if snapshot.BalanceDollars().String() != "120" {
		test.Fatalf("expected 120, got %s", snapshot.BalanceDollars())
	}
}

func TestNewEmail(test *testing.T) {
	test.Parallel()
	email, err := NewEmail("  Farmer@Example.COM ")
	if err != nil || email != "farmer@example.com" {
		test.Fatalf("expected normalized email, got %q (%v)", email, err)
	}
	if _, err := NewEmail("not-an-email"); !errors.Is(err, ErrInvalidEmail) {
		test.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestCardholderApply(test *testing.T) {
	test.Parallel()
	email := "new@example.com"
	cardholder := Cardholder{
		ID:       "ich_1",
		Email:    "Old@example.com",
		Metadata: map[string]string{"a": "1", "b": "2"},
		SpendingControls: SpendingControls{SpendingLimits: []SpendingLimit{
			{Amount: 100, Interval: IntervalMonthly},
		}},
	}
	update := CardholderUpdate{
		Email:         &email,
		Metadata:      map[string]string{"a": "", "c": "3"},
		SpendingLimit: &SpendingLimit{Amount: 15000, Interval: IntervalAllTime},
	}
	updated := cardholder.Apply(update)
	if updated.Email != email {
		test.Fatalf("expected email %q, got %q", email, updated.Email)
	}
	if _, present := updated.Metadata["a"]; present {
		test.Fatalf("expected key a to be unset")
	}
	if updated.Metadata["b"] != "2" || updated.Metadata["c"] != "3" {
		test.Fatalf("unexpected metadata %v", updated.Metadata)
	}
	limit, ok := updated.SpendingControls.LimitFor(IntervalAllTime)
	if !ok || limit.Amount != 15000 || len(updated.SpendingControls.SpendingLimits) != 1 {
		test.Fatalf("unexpected limits %+v", updated.SpendingControls)
	}
	if cardholder.Metadata["a"] != "1" {
		test.Fatalf("apply mutated the original cardholder")
	}
}

func TestCardholderUpdateMerge(test *testing.T) {
	test.Parallel()
	email := "x@example.com"
	first := CardholderUpdate{Metadata: map[string]string{MetadataNumRefills: "0"}}
	second := CardholderUpdate{Email: &email, Metadata: map[string]string{MetadataNumRefills: "1"}}
	merged := first.Merge(second)
	if merged.Email == nil || *merged.Email != email {
		test.Fatalf("expected merged email")
	}
	if merged.Metadata[MetadataNumRefills] != "1" {
		test.Fatalf("expected later metadata to win, got %q", merged.Metadata[MetadataNumRefills])
	}
	if (CardholderUpdate{}).Merge(CardholderUpdate{}).IsEmpty() != true {
		test.Fatalf("expected empty merge to stay empty")
	}
}
