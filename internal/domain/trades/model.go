package trades

import (
	"strconv"

	"handytoknow/internal/infra/recordstore"
)

const SheetName = "Tradespeople"

const (
	ColTradeID        = "Trade ID"
	ColBusinessName   = "Business Name"
	ColContactName    = "Contact Name"
	ColEmail          = "Email"
	ColPhone          = "Phone"
	ColTrade          = "Trade"
	ColPostcode       = "Postcode"
	ColPasswordHash   = "Password Hash"
	ColPlan           = "Plan"
	ColStatus         = "Subscription Status"
	ColCredits        = "Credits"
	ColCustomerID     = "Stripe Customer ID"
	ColSubscriptionID = "Stripe Subscription ID"
	ColSessionID      = "Checkout Session ID"
	ColRegisteredAt   = "Registered At"
	ColLastUpdated    = "Last Updated"
)

var Header = []string{
	ColTradeID, ColBusinessName, ColContactName, ColEmail, ColPhone, ColTrade, ColPostcode,
	ColPasswordHash, ColPlan, ColStatus, ColCredits, ColCustomerID, ColSubscriptionID,
	ColSessionID, ColRegisteredAt, ColLastUpdated,
}

// Status values written by this service. Other Stripe statuses are stored
// normalized.
const (
	StatusRegistrationOnly = "Registration Only"
	StatusPaymentPending   = "Payment Pending"
	StatusActive           = "active"
	StatusPastDue          = "past_due"
	StatusCanceled         = "canceled"
)

// Account is the public view of a trade row. The password hash never leaves
// the record store.
type Account struct {
	TradeID        string `json:"tradeId"`
	BusinessName   string `json:"businessName"`
	ContactName    string `json:"contactName"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Trade          string `json:"trade"`
	Postcode       string `json:"postcode"`
	Plan           string `json:"plan"`
	Status         string `json:"subscriptionStatus"`
	Credits        int    `json:"credits"`
	CustomerID     string `json:"stripeCustomerId,omitempty"`
	SubscriptionID string `json:"stripeSubscriptionId,omitempty"`
	RegisteredAt   string `json:"registeredAt"`
	LastUpdated    string `json:"lastUpdated,omitempty"`
}

func AccountFromRow(r *recordstore.Row) Account {
	credits, _ := strconv.Atoi(r.Get(ColCredits))
	return Account{
		TradeID:        r.Get(ColTradeID),
		BusinessName:   r.Get(ColBusinessName),
		ContactName:    r.Get(ColContactName),
		Email:          r.Get(ColEmail),
		Phone:          r.Get(ColPhone),
		Trade:          r.Get(ColTrade),
		Postcode:       r.Get(ColPostcode),
		Plan:           r.Get(ColPlan),
		Status:         r.Get(ColStatus),
		Credits:        credits,
		CustomerID:     r.Get(ColCustomerID),
		SubscriptionID: r.Get(ColSubscriptionID),
		RegisteredAt:   r.Get(ColRegisteredAt),
		LastUpdated:    r.Get(ColLastUpdated),
	}
}
