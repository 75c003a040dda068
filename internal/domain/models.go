package domain

import "time"

// ContentRecord binds a creator-chosen content id to its creator and price.
// Records are write-once: neither creator nor price changes after registration.
type ContentRecord struct {
	ID           string    `json:"content_id"`
	Creator      string    `json:"creator"`
	Price        int64     `json:"price"`
	RegisteredAt time.Time `json:"registered_at"`
}

// PurchaseRecord marks a completed, permanent access grant for one
// (buyer, content) pair. Existence is the whole payload.
type PurchaseRecord struct {
	Buyer     string    `json:"buyer"`
	ContentID string    `json:"content_id"`
	PaidAt    time.Time `json:"paid_at"`
}

// RegisterRequest is the payload for content registration.
type RegisterRequest struct {
	Creator   string `json:"creator"`
	ContentID string `json:"content_id"`
	Price     int64  `json:"price"`
}

// PaymentRequest is the payload for a one-time content purchase. Amount
// is the value bundled with the call and must equal the registered price.
type PaymentRequest struct {
	Buyer     string `json:"buyer"`
	ContentID string `json:"content_id"`
	Amount    int64  `json:"amount"`
}

// PaymentReceipt reports the committed fee split for a successful payment.
type PaymentReceipt struct {
	Buyer        string `json:"buyer"`
	ContentID    string `json:"content_id"`
	Amount       int64  `json:"amount"`
	Creator      string `json:"creator"`
	CreatorShare int64  `json:"creator_share"`
	Platform     string `json:"platform"`
	PlatformFee  int64  `json:"platform_fee"`
}

// WithdrawRequest names the creator cashing out their accrued balance.
type WithdrawRequest struct {
	Creator string `json:"creator"`
}

// WithdrawReceipt reports the amount pushed out to the creator.
type WithdrawReceipt struct {
	Creator string `json:"creator"`
	Amount  int64  `json:"amount"`
}

// FeeRequest is the owner-gated platform fee update payload.
type FeeRequest struct {
	Caller     string `json:"caller"`
	FeePercent int    `json:"fee_percent"`
}

// BalanceResponse is the ledger balance for one identity.
type BalanceResponse struct {
	Identity string `json:"identity"`
	Balance  int64  `json:"balance"`
}

// AccessResponse answers an access check.
type AccessResponse struct {
	User      string `json:"user"`
	ContentID string `json:"content_id"`
	Access    bool   `json:"access"`
}
