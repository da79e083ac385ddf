package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/skippy/island-grown/pkg/benefits"
	"go.uber.org/zap"
)

const (
	queryPretty = "pretty"
	expiryYears = 10

	messageInvalidEmail     = "email is not valid"
	messageInvalidPhone     = "phone_number must be in E.164 format, such as +13605550100"
	messageInvalidLast4     = "last4 needs to be the last 4 digits of a credit card"
	messageInvalidExpMonth  = "exp_month must be between 1 and 12"
	messageInvalidExpYear   = "exp_year must be a 4 digit year, such as 2023, and this year or later"
	messageInvalidID        = "cardholder_id is not valid"
	messageMissingParams    = "email or the last4, exp_month, and exp_year of the credit card are expected"
	messagePartialCardQuery = "last4, exp_month, and exp_year of the credit card are expected"
)

type balanceQuery struct {
	Email        string `form:"email" validate:"omitempty,email"`
	PhoneNumber  string `form:"phone_number" validate:"omitempty,e164"`
	CardholderID string `form:"cardholder_id" validate:"omitempty,startswith=ich_,max=64"`
	Last4        string `form:"last4" validate:"omitempty,len=4,numeric"`
	ExpMonth     string `form:"exp_month" validate:"omitempty,numeric"`
	ExpYear      string `form:"exp_year" validate:"omitempty,numeric"`
}

func (query balanceQuery) hasCard() bool {
	return query.Last4 != "" || query.ExpMonth != "" || query.ExpYear != ""
}

func (query balanceQuery) hasCompleteCard() bool {
	return query.Last4 != "" && query.ExpMonth != "" && query.ExpYear != ""
}

type merchantPayload struct {
	Name       string `json:"name"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
}

type transactionPayload struct {
	Amount    float64         `json:"amount"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Merchant  merchantPayload `json:"merchant"`
}

type balanceResponse struct {
	SpendingLimit       float64              `json:"spending_limit"`
	Spend               float64              `json:"spend"`
	Balance             float64              `json:"balance"`
	PendingTransactions int                  `json:"pending_transactions"`
	PendingAmount       float64              `json:"pending_amt"`
	Transactions        []transactionPayload `json:"transactions"`
	TotalSpent          float64              `json:"total_spent"`
	RemainingAmount     float64              `json:"remaining_amt"`
	Authorizations      []transactionPayload `json:"authorizations"`
}

func (handler *Handler) handleBalance(ctx *gin.Context) {
	var query balanceQuery
	if err := ctx.ShouldBindQuery(&query); err != nil {
		ctx.String(http.StatusBadRequest, messageMissingParams)
		return
	}
	trimQuery(&query)
	if problems := handler.validateBalanceQuery(query); len(problems) > 0 {
		ctx.String(http.StatusBadRequest, strings.Join(problems, "; "))
		return
	}

	requestCtx := ctx.Request.Context()
	cardholder, err := handler.findCardholder(requestCtx, query)
	if errors.Is(err, benefits.ErrCardholderNotFound) {
		ctx.JSON(http.StatusOK, gin.H{})
		return
	}
	if err != nil {
		handler.logger.Error("balance lookup failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "cardholder lookup failed"))
		return
	}

	snapshot, err := handler.deps.Snapshots.SpendBalance(requestCtx, &cardholder, true)
	if err != nil {
		handler.logger.Error("balance snapshot failed", zap.String("cardholder_id", cardholder.ID), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "balance unavailable"))
		return
	}
	if snapshot == nil {
		ctx.JSON(http.StatusOK, gin.H{})
		return
	}
	response := newBalanceResponse(*snapshot)
	if _, pretty := ctx.GetQuery(queryPretty); pretty {
		ctx.IndentedJSON(http.StatusOK, response)
		return
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *Handler) validateBalanceQuery(query balanceQuery) []string {
	var problems []string
	if err := handler.validate.Struct(query); err != nil {
		var fieldErrors validator.ValidationErrors
		if !errors.As(err, &fieldErrors) {
			return []string{messageMissingParams}
		}
		for _, fieldError := range fieldErrors {
			problems = append(problems, fieldMessage(fieldError.Field()))
		}
	}
	if query.ExpMonth != "" && !containsField(problems, messageInvalidExpMonth) {
		if month, err := strconv.Atoi(query.ExpMonth); err != nil || month < 1 || month > 12 {
			problems = append(problems, messageInvalidExpMonth)
		}
	}
	if query.ExpYear != "" && !containsField(problems, messageInvalidExpYear) {
		currentYear := handler.nowFn().Year()
		if year, err := strconv.Atoi(query.ExpYear); err != nil || year < currentYear || year >= currentYear+expiryYears {
			problems = append(problems, messageInvalidExpYear)
		}
	}
	if len(problems) > 0 {
		return problems
	}
	if query.Email == "" && query.PhoneNumber == "" && query.CardholderID == "" {
		if !query.hasCard() {
			return []string{messageMissingParams}
		}
		if !query.hasCompleteCard() {
			return []string{messagePartialCardQuery}
		}
	}
	return nil
}

// findCardholder tries each supplied identifier in turn: email, phone number, cardholder id, card.
func (handler *Handler) findCardholder(ctx context.Context, query balanceQuery) (benefits.Cardholder, error) {
	directory := handler.deps.Directory
	lookups := make([]func() (benefits.Cardholder, error), 0, 4)
	if query.Email != "" {
		lookups = append(lookups, func() (benefits.Cardholder, error) { return directory.FindCardholderByEmail(ctx, query.Email) })
	}
	if query.PhoneNumber != "" {
		lookups = append(lookups, func() (benefits.Cardholder, error) { return directory.FindCardholderByPhone(ctx, query.PhoneNumber) })
	}
	if query.CardholderID != "" {
		lookups = append(lookups, func() (benefits.Cardholder, error) { return directory.GetCardholder(ctx, query.CardholderID) })
	}
	if query.hasCompleteCard() {
		month, _ := strconv.Atoi(query.ExpMonth)
		year, _ := strconv.Atoi(query.ExpYear)
		lookup := benefits.CardLookup{Last4: query.Last4, ExpMonth: month, ExpYear: year}
		lookups = append(lookups, func() (benefits.Cardholder, error) { return directory.FindCardholderByCard(ctx, lookup) })
	}
	for _, lookup := range lookups {
		cardholder, err := lookup()
		if err == nil {
			return cardholder, nil
		}
		if !errors.Is(err, benefits.ErrCardholderNotFound) {
			return benefits.Cardholder{}, err
		}
	}
	return benefits.Cardholder{}, benefits.ErrCardholderNotFound
}

func newBalanceResponse(snapshot benefits.SpendSnapshot) balanceResponse {
	transactions := make([]transactionPayload, 0, len(snapshot.Transactions))
	for _, transaction := range snapshot.Transactions {
		transactions = append(transactions, transactionPayload{
			Amount:    transaction.Amount.Dollars().Round(2).InexactFloat64(),
			Type:      string(transaction.Type),
			CreatedAt: transaction.Created,
			Merchant: merchantPayload{
				Name:       transaction.Merchant.Name,
				City:       transaction.Merchant.City,
				State:      transaction.Merchant.State,
				PostalCode: transaction.Merchant.PostalCode,
			},
		})
	}
	spend := snapshot.SpendDollars().InexactFloat64()
	balance := snapshot.BalanceDollars().InexactFloat64()
	return balanceResponse{
		SpendingLimit:       snapshot.SpendingLimitDollars().InexactFloat64(),
		Spend:               spend,
		Balance:             balance,
		PendingTransactions: snapshot.PendingCount,
		PendingAmount:       snapshot.PendingDollars().InexactFloat64(),
		Transactions:        transactions,
		TotalSpent:          spend,
		RemainingAmount:     balance,
		Authorizations:      transactions,
	}
}

func fieldMessage(field string) string {
	switch field {
	case "Email":
		return messageInvalidEmail
	case "PhoneNumber":
		return messageInvalidPhone
	case "CardholderID":
		return messageInvalidID
	case "Last4":
		return messageInvalidLast4
	case "ExpMonth":
		return messageInvalidExpMonth
	default:
		return messageInvalidExpYear
	}
}

func containsField(problems []string, message string) bool {
	for _, problem := range problems {
		if problem == message {
			return true
		}
	}
	return false
}

func trimQuery(query *balanceQuery) {
	query.Email = strings.TrimSpace(query.Email)
	query.PhoneNumber = strings.TrimSpace(query.PhoneNumber)
	// an unencoded leading "+" arrives as a space
	if query.PhoneNumber != "" && !strings.HasPrefix(query.PhoneNumber, "+") {
		query.PhoneNumber = "+" + query.PhoneNumber
	}
	query.CardholderID = strings.TrimSpace(query.CardholderID)
	query.Last4 = strings.TrimSpace(query.Last4)
	query.ExpMonth = strings.TrimSpace(query.ExpMonth)
	query.ExpYear = strings.TrimSpace(query.ExpYear)
}
