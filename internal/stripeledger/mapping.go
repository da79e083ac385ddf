package stripeledger

import (
	"time"

	"github.com/skippy/island-grown/pkg/benefits"
	"github.com/stripe/stripe-go/v76"
)

func mapCardholder(source *stripe.IssuingCardholder) benefits.Cardholder {
	if source == nil {
		return benefits.Cardholder{}
	}
	cardholder := benefits.Cardholder{
		ID:          source.ID,
		Name:        source.Name,
		Email:       source.Email,
		PhoneNumber: source.PhoneNumber,
		Status:      benefits.CardholderStatus(source.Status),
		Livemode:    source.Livemode,
		Metadata:    make(map[string]string, len(source.Metadata)),
	}
	for key, value := range source.Metadata {
		cardholder.Metadata[key] = value
	}
	if source.SpendingControls != nil {
		for _, limit := range source.SpendingControls.SpendingLimits {
			if limit == nil {
				continue
			}
			cardholder.SpendingControls.SpendingLimits = append(cardholder.SpendingControls.SpendingLimits, benefits.SpendingLimit{
				Amount:   benefits.AmountCents(limit.Amount),
				Interval: benefits.LimitInterval(limit.Interval),
			})
		}
	}
	return cardholder
}

func mapCard(source *stripe.IssuingCard) benefits.Card {
	if source == nil {
		return benefits.Card{}
	}
	card := benefits.Card{
		ID:       source.ID,
		Last4:    source.Last4,
		ExpMonth: int(source.ExpMonth),
		ExpYear:  int(source.ExpYear),
		Status:   string(source.Status),
	}
	if source.Cardholder != nil {
		card.CardholderID = source.Cardholder.ID
	}
	if source.SpendingControls != nil {
		for _, limit := range source.SpendingControls.SpendingLimits {
			if limit == nil {
				continue
			}
			card.SpendingControls.SpendingLimits = append(card.SpendingControls.SpendingLimits, benefits.SpendingLimit{
				Amount:   benefits.AmountCents(limit.Amount),
				Interval: benefits.LimitInterval(limit.Interval),
			})
		}
	}
	return card
}

// mapTransaction normalizes the amount to its absolute value; captures arrive negative.
func mapTransaction(source *stripe.IssuingTransaction) benefits.Transaction {
	if source == nil {
		return benefits.Transaction{}
	}
	transaction := benefits.Transaction{
		ID:      source.ID,
		Amount:  benefits.AmountCents(source.Amount).Abs(),
		Type:    benefits.TransactionType(source.Type),
		Created: unixTime(source.Created),
	}
	if source.MerchantData != nil {
		transaction.Merchant = merchant(source.MerchantData.Name, source.MerchantData.City, source.MerchantData.State, source.MerchantData.PostalCode)
	}
	return transaction
}

func mapAuthorization(source *stripe.IssuingAuthorization) benefits.Authorization {
	if source == nil {
		return benefits.Authorization{}
	}
	authorization := benefits.Authorization{
		ID:             source.ID,
		Amount:         benefits.AmountCents(source.Amount),
		MerchantAmount: benefits.AmountCents(source.MerchantAmount),
		Approved:       source.Approved,
		Status:         benefits.AuthorizationStatus(source.Status),
		Metadata:       make(map[string]string, len(source.Metadata)),
		Created:        unixTime(source.Created),
	}
	for key, value := range source.Metadata {
		authorization.Metadata[key] = value
	}
	if source.PendingRequest != nil {
		authorization.PendingAmount = benefits.AmountCents(source.PendingRequest.Amount)
	}
	if source.Cardholder != nil {
		authorization.CardholderID = source.Cardholder.ID
		cardholder := mapCardholder(source.Cardholder)
		authorization.Cardholder = &cardholder
	}
	if source.MerchantData != nil {
		authorization.Merchant = merchant(source.MerchantData.Name, source.MerchantData.City, source.MerchantData.State, source.MerchantData.PostalCode)
	}
	for _, history := range source.RequestHistory {
		if history == nil {
			continue
		}
		authorization.RequestHistory = append(authorization.RequestHistory, benefits.RequestHistory{
			Approved: history.Approved,
			Reason:   string(history.Reason),
		})
	}
	return authorization
}

func merchant(name string, city string, state string, postalCode string) benefits.MerchantData {
	return benefits.MerchantData{Name: name, City: city, State: state, PostalCode: postalCode}
}

func unixTime(seconds int64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}
