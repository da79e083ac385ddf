package benefits

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Metadata keys persisted on the cardholder.
const (
	MetadataNumRefills        = "numRefills"
	MetadataBaseFundingAmount = "base_funding_amt"
	MetadataSMSEnabled        = "sms_enabled"
	MetadataSMSWelcomeSent    = "sms_welcome_sent"

	refillKeyPrefix       = "refill_"
	refillAmountKeySuffix = "_amt"
	refillDateKeySuffix   = "_date"

	// RefillDateLayout renders refill dates the way operators read them (M/D/YYYY).
	RefillDateLayout = "1/2/2006"
)

// Keys written by earlier funding schemes that a reset also clears.
var legacyFundingKeys = []string{"trial", "Trial"}

const legacyTranchePrefix = "funding_traunch_"

// Refill is one granted funding tranche.
type Refill struct {
	Amount decimal.Decimal
	Date   string
}

// FundingState is the typed view of the funding keys in cardholder metadata.
type FundingState struct {
	BaseFundingAmount decimal.Decimal
	NumRefills        int
	Refills           []Refill
}

// DefaultFundingState is the state of a freshly initialized cardholder.
func DefaultFundingState(baseFundingAmount decimal.Decimal) FundingState {
	return FundingState{BaseFundingAmount: baseFundingAmount}
}

// RefillAmountKey is the metadata key holding the amount of tranche index.
func RefillAmountKey(index int) string {
	return refillKeyPrefix + strconv.Itoa(index) + refillAmountKeySuffix
}

// RefillDateKey is the metadata key holding the grant date of tranche index.
func RefillDateKey(index int) string {
	return refillKeyPrefix + strconv.Itoa(index) + refillDateKeySuffix
}

// ParseFundingState decodes funding metadata. ok is false when the cardholder has
// never been initialized, which is signalled by a missing numRefills key.
func ParseFundingState(metadata map[string]string) (FundingState, bool, error) {
	rawNumRefills, present := metadata[MetadataNumRefills]
	if !present {
		return FundingState{}, false, nil
	}
	numRefills, err := strconv.Atoi(strings.TrimSpace(rawNumRefills))
	if err != nil || numRefills < 0 {
		return FundingState{}, false, fmt.Errorf("%w: %s=%q", ErrInvalidFundingMetadata, MetadataNumRefills, rawNumRefills)
	}
	state := FundingState{NumRefills: numRefills}
	if rawBase, ok := metadata[MetadataBaseFundingAmount]; ok && strings.TrimSpace(rawBase) != "" {
		baseFundingAmount, err := ParseDollars(rawBase)
		if err != nil {
			return FundingState{}, false, fmt.Errorf("%w: %s=%q", ErrInvalidFundingMetadata, MetadataBaseFundingAmount, rawBase)
		}
		state.BaseFundingAmount = baseFundingAmount
	}
	state.Refills = make([]Refill, 0, numRefills)
	for index := 0; index < numRefills; index++ {
		refill := Refill{Date: metadata[RefillDateKey(index)]}
		if rawAmount, ok := metadata[RefillAmountKey(index)]; ok {
			amount, err := ParseDollars(rawAmount)
			if err != nil {
				return FundingState{}, false, fmt.Errorf("%w: %s=%q", ErrInvalidFundingMetadata, RefillAmountKey(index), rawAmount)
			}
			refill.Amount = amount
		}
		state.Refills = append(state.Refills, refill)
	}
	return state, true, nil
}

// Metadata encodes the state into flat metadata keys.
func (state FundingState) Metadata() map[string]string {
	metadata := map[string]string{
		MetadataNumRefills:        strconv.Itoa(state.NumRefills),
		MetadataBaseFundingAmount: state.BaseFundingAmount.String(),
	}
	for index, refill := range state.Refills {
		metadata[RefillAmountKey(index)] = refill.Amount.String()
		metadata[RefillDateKey(index)] = refill.Date
	}
	return metadata
}

// RefillMetadata encodes only the keys that change when tranche index is granted.
func RefillMetadata(index int, amount decimal.Decimal, grantedAt time.Time) map[string]string {
	return map[string]string{
		MetadataNumRefills:     strconv.Itoa(index + 1),
		RefillAmountKey(index): amount.String(),
		RefillDateKey(index):   grantedAt.Format(RefillDateLayout),
	}
}

// ClearedFundingMetadata returns an update that unsets every funding key present in metadata.
func ClearedFundingMetadata(metadata map[string]string) map[string]string {
	cleared := map[string]string{}
	for key := range metadata {
		if isFundingKey(key) {
			cleared[key] = ""
		}
	}
	return cleared
}

func isFundingKey(key string) bool {
	if key == MetadataNumRefills || key == MetadataBaseFundingAmount {
		return true
	}
	for _, legacyKey := range legacyFundingKeys {
		if key == legacyKey {
			return true
		}
	}
	if strings.HasPrefix(key, legacyTranchePrefix) {
		return true
	}
	if strings.HasPrefix(key, refillKeyPrefix) {
		return strings.HasSuffix(key, refillAmountKeySuffix) || strings.HasSuffix(key, refillDateKeySuffix)
	}
	return false
}
