package benefits

// Authorization decision metadata keys, written by the vendor check and read back on decline.
const (
	MetadataVendorFound          = "vendor_found"
	MetadataVendorPostalCode     = "vendor_postal_code"
	MetadataMerchantPostalCode   = "merchant_postal_code"
	MetadataInApprovedPostalList = "in_approved_postal_code_list"
	MetadataValueFalse           = "false"
	MetadataValueTrue            = "true"
)

// Request history reasons reported by the ledger.
const (
	ReasonWebhookDeclined       = "webhook_declined"
	ReasonAuthorizationControls = "authorization_controls"
	ReasonSpendingControls      = "spending_controls"
)

// DeclineReason classifies why an authorization was declined.
type DeclineReason string

const (
	DeclineNone              DeclineReason = ""
	DeclineVendorNotVerified DeclineReason = "vendor_not_verified"
	DeclineOverBalance       DeclineReason = "over_balance"
	DeclineUnclassified      DeclineReason = "unclassified"
)

// ClassifyDecline explains a finalized authorization. Approved authorizations return DeclineNone.
func ClassifyDecline(authorization Authorization) DeclineReason {
	if authorization.Approved {
		return DeclineNone
	}
	if authorization.Metadata[MetadataVendorFound] == MetadataValueFalse || authorization.Metadata[MetadataVendorPostalCode] == MetadataValueFalse {
		return DeclineVendorNotVerified
	}
	if len(authorization.RequestHistory) == 0 {
		return DeclineUnclassified
	}
	first := authorization.RequestHistory[0]
	if first.Approved {
		return DeclineUnclassified
	}
	switch first.Reason {
	case ReasonAuthorizationControls, ReasonSpendingControls:
		return DeclineOverBalance
	case ReasonWebhookDeclined:
		return DeclineVendorNotVerified
	default:
		return DeclineUnclassified
	}
}
