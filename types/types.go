package types

import "time"

// VoucherState tracks where a voucher is in its redemption lifecycle.
type VoucherState string

const (
	VoucherPending     VoucherState = "pending"
	VoucherRedeeming   VoucherState = "redeeming"
	VoucherRedeemed    VoucherState = "redeemed"
	VoucherDoubleSpent VoucherState = "double-spend"
	VoucherError       VoucherState = "error"
)

// Voucher represents a payment voucher submitted for redemption.
type Voucher struct {
	Number         string       `json:"number"`
	Created        time.Time    `json:"created"`
	ExpectedTokens int          `json:"expected_tokens"`
	State          VoucherState `json:"state"`
	Finished       *time.Time   `json:"finished,omitempty"`
	Counter        int          `json:"counter"` // redemption groups completed so far
}

// RandomToken is a blinded token minted against a voucher, awaiting
// redemption.
type RandomToken struct {
	Token   string `json:"token"`
	Voucher string `json:"voucher"`
}

// UnblindedToken is a spendable token produced by a successful
// redemption.
type UnblindedToken struct {
	Token string `json:"token"`
}

// InvalidToken is an unblinded token the issuer rejected, kept for
// diagnosis.
type InvalidToken struct {
	Token  string `json:"token"`
	Reason string `json:"reason"`
}

// Redemption records one redemption attempt for a voucher.
type Redemption struct {
	ID      string    `json:"id"`
	Voucher string    `json:"voucher"`
	Counter int       `json:"counter"`
	Created time.Time `json:"created"`
}

// VoucherNumberLength is the length of a syntactically valid voucher
// number: 32 random bytes, urlsafe-base64 encoded.
const VoucherNumberLength = 44
