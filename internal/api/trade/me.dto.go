package trade

type MeResponse struct {
	Success bool       `json:"success"`
	Account AccountDTO `json:"account"`
	Billing BillingDTO `json:"billing"`
	Access  AccessDTO  `json:"access"`
}

/* ---------- ACCOUNT ---------- */

type AccountDTO struct {
	TradeID      string `json:"tradeId"`
	BusinessName string `json:"businessName"`
	ContactName  string `json:"contactName"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Trade        string `json:"trade"`
	Postcode     string `json:"postcode"`
	RegisteredAt string `json:"registeredAt"`
}

/* ---------- BILLING ---------- */

type BillingDTO struct {
	Plan          *PlanDTO `json:"plan"`
	Status        string   `json:"subscriptionStatus"`
	Credits       int      `json:"credits"`
	HasCustomer   bool     `json:"hasBillingAccount"`
	LastUpdatedAt string   `json:"lastUpdated,omitempty"`
}

type PlanDTO struct {
	Key           string `json:"key"`
	Credits       int    `json:"credits"`
	StripePriceID string `json:"stripePriceId,omitempty"`
}

/* ---------- ACCESS ---------- */

type AccessDTO struct {
	State        string   `json:"state"` // full|limited|locked
	Capabilities []string `json:"capabilities"`
}
