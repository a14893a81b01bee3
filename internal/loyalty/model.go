package loyalty

import "time"

// Account is a customer's loyalty card. Its serial doubles as the pass serial number.
type Account struct {
	Serial         string
	TenantID       string
	Name           string
	Email          string
	Balance        int64
	LastActivityAt time.Time
	CreatedAt      time.Time
}

// Posting is one credit applied to an account, keyed by the caller's transaction id.
type Posting struct {
	Serial     string
	ClientTxID string
	Amount     int64
	At         time.Time
}
