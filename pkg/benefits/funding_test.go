package benefits

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseFundingStateUninitialized(test *testing.T) {
	test.Parallel()
	_, ok, err := ParseFundingState(map[string]string{MetadataBaseFundingAmount: "150"})
	if err != nil {
		test.Fatalf("unexpected error: %v", err)
	}
	if ok {
		test.Fatalf("expected uninitialized state without numRefills")
	}
}

func TestParseFundingStateRoundTrip(test *testing.T) {
	test.Parallel()
	metadata := map[string]string{
		MetadataNumRefills:        "2",
		MetadataBaseFundingAmount: "150",
		RefillAmountKey(0):        "75",
		RefillDateKey(0):          "3/4/2023",
		RefillAmountKey(1):        "50.5",
		RefillDateKey(1):          "4/1/2023",
		"sms_enabled":             "true",
	}
	state, ok, err := ParseFundingState(metadata)
	if err != nil || !ok {
		test.Fatalf("parse: ok=%v err=%v", ok, err)
	}
	if state.NumRefills != 2 || len(state.Refills) != 2 {
		test.Fatalf("unexpected refills: %+v", state)
	}
	if !state.BaseFundingAmount.Equal(decimal.NewFromInt(150)) {
		test.Fatalf("unexpected base funding amount %s", state.BaseFundingAmount)
	}
	if !state.Refills[1].Amount.Equal(decimal.RequireFromString("50.5")) {
		test.Fatalf("unexpected refill amount %s", state.Refills[1].Amount)
	}
	encoded := state.Metadata()
	for key, want := range metadata {
		if key == "sms_enabled" {
			if _, present := encoded[key]; present {
				test.Fatalf("non-funding key %q leaked into funding metadata", key)
			}
			continue
		}
		if encoded[key] != want {
			test.Fatalf("key %q: expected %q, got %q", key, want, encoded[key])
		}
	}
}

func TestParseFundingStateInvalid(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		metadata map[string]string
	}{
		{name: "non numeric refills", metadata: map[string]string{MetadataNumRefills: "many"}},
		{name: "negative refills", metadata: map[string]string{MetadataNumRefills: "-1"}},
		{name: "bad base amount", metadata: map[string]string{MetadataNumRefills: "0", MetadataBaseFundingAmount: "lots"}},
		{name: "bad refill amount", metadata: map[string]string{MetadataNumRefills: "1", RefillAmountKey(0): "x"}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			_, ok, err := ParseFundingState(testCase.metadata)
			if ok {
				test.Fatalf("expected invalid state")
			}
			if !errors.Is(err, ErrInvalidFundingMetadata) {
				test.Fatalf("expected ErrInvalidFundingMetadata, got %v", err)
			}
		})
	}
}

func TestRefillMetadata(test *testing.T) {
	test.Parallel()
	grantedAt := time.Date(2023, time.March, 4, 15, 0, 0, 0, time.UTC)
	metadata := RefillMetadata(1, decimal.NewFromInt(75), grantedAt)
	if metadata[MetadataNumRefills] != "2" {
		test.Fatalf("expected numRefills 2, got %q", metadata[MetadataNumRefills])
	}
	if metadata["refill_1_amt"] != "75" {
		test.Fatalf("expected refill_1_amt 75, got %q", metadata["refill_1_amt"])
	}
	if metadata["refill_1_date"] != "3/4/2023" {
		test.Fatalf("expected refill_1_date 3/4/2023, got %q", metadata["refill_1_date"])
	}
}

func TestClearedFundingMetadata(test *testing.T) {
	test.Parallel()
	cleared := ClearedFundingMetadata(map[string]string{
		MetadataNumRefills:        "1",
		MetadataBaseFundingAmount: "150",
		"refill_0_amt":            "75",
		"refill_0_date":           "1/2/2023",
		"funding_traunch_1":       "x",
		"trial":                   "true",
		"sms_enabled":             "true",
		"refill_notes":            "keep",
	})
	for _, key := range []string{MetadataNumRefills, MetadataBaseFundingAmount, "refill_0_amt", "refill_0_date", "funding_traunch_1", "trial"} {
		value, present := cleared[key]
		if !present || value != "" {
			test.Fatalf("expected %q to be unset, got %q (present=%v)", key, value, present)
		}
	}
	for _, key := range []string{"sms_enabled", "refill_notes"} {
		if _, present := cleared[key]; present {
			test.Fatalf("expected %q to be kept", key)
		}
	}
}
