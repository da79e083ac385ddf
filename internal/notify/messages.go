package notify

import "strings"

// Template placeholders.
const (
	PlaceholderDeclinedMessage = "DECLINED_MSG"
	PlaceholderVendorName      = "VENDOR_NAME"
	PlaceholderAuthAmount      = "AUTH_AMT"
	PlaceholderCurrentBalance  = "CURRENT_BALANCE"
	PlaceholderSpendLimit      = "SPEND_LIMIT"
	PlaceholderVendorList      = "VENDOR_LIST"
)

// Templates holds the configured message text.
type Templates struct {
	Subject                string
	Welcome                string
	Help                   string
	Balance                string
	Vendors                string
	Declined               string
	DeclinedVendorNotFound string
	DeclinedOverBalance    string
}

// DefaultTemplates returns the stock program wording.
func DefaultTemplates() Templates {
	return Templates{
		Subject:                "Island Grown food benefit card",
		Welcome:                "Welcome to the Island Grown food benefit card! Text BAL for your balance, VENDORS for participating farms, or STOP to opt out.",
		Help:                   "Island Grown food benefit card: text BAL for your balance, VENDORS for participating farms, or STOP to opt out.",
		Balance:                "Your Island Grown card balance is $CURRENT_BALANCE of your $SPEND_LIMIT limit.",
		Vendors:                "Participating vendors: VENDOR_LIST",
		Declined:               "Your $AUTH_AMT purchase at VENDOR_NAME was declined: DECLINED_MSG Current balance: $CURRENT_BALANCE.",
		DeclinedVendorNotFound: "this vendor is not part of the program.",
		DeclinedOverBalance:    "the purchase is more than your remaining balance.",
	}
}

// WithDefaults fills empty templates from DefaultTemplates.
func (templates Templates) WithDefaults() Templates {
	defaults := DefaultTemplates()
	fill := func(value *string, fallback string) {
		if strings.TrimSpace(*value) == "" {
			*value = fallback
		}
	}
	fill(&templates.Subject, defaults.Subject)
	fill(&templates.Welcome, defaults.Welcome)
	fill(&templates.Help, defaults.Help)
	fill(&templates.Balance, defaults.Balance)
	fill(&templates.Vendors, defaults.Vendors)
	fill(&templates.Declined, defaults.Declined)
	fill(&templates.DeclinedVendorNotFound, defaults.DeclinedVendorNotFound)
	fill(&templates.DeclinedOverBalance, defaults.DeclinedOverBalance)
	return templates
}

func render(template string, replacements ...string) string {
	return strings.NewReplacer(replacements...).Replace(template)
}
