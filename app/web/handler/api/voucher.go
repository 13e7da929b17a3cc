package api

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"github.com/go-mizu/mizu"

	"github.com/litevault-dev/litevault/store"
	"github.com/litevault-dev/litevault/types"
)

// tokensPerVoucher is how many random tokens are minted for each
// redeemed voucher.
const tokensPerVoucher = 10

type VoucherHandler struct{ st store.Store }

func NewVoucherHandler(st store.Store) *VoucherHandler { return &VoucherHandler{st: st} }

// Redeem records a voucher and mints its random tokens.
func (h *VoucherHandler) Redeem(c *mizu.Ctx) error {
	var body struct {
		Voucher string `json:"voucher"`
	}
	if err := c.BindJSON(&body, 1<<20); err != nil {
		return c.JSON(400, map[string]string{"error": "json request body required"})
	}
	if !isSyntacticVoucher(body.Voucher) {
		return c.JSON(400, map[string]string{"error": "submitted voucher is syntactically invalid"})
	}

	_, err := h.st.Vouchers().Add(c.Context(), body.Voucher, tokensPerVoucher, func() []types.RandomToken {
		return mintRandomTokens(body.Voucher, tokensPerVoucher)
	})
	if err != nil {
		return c.JSON(500, map[string]string{"error": err.Error()})
	}
	return c.JSON(200, map[string]string{"status": "accepted"})
}

// List returns every known voucher with its redemption state.
func (h *VoucherHandler) List(c *mizu.Ctx) error {
	vouchers, err := h.st.Vouchers().List(c.Context())
	if err != nil {
		return c.JSON(500, map[string]string{"error": err.Error()})
	}
	if vouchers == nil {
		vouchers = []types.Voucher{}
	}
	return c.JSON(200, map[string]any{"vouchers": vouchers})
}

// Get returns one voucher by number.
func (h *VoucherHandler) Get(c *mizu.Ctx) error {
	number := c.Param("number")
	if !isSyntacticVoucher(number) {
		return c.JSON(400, map[string]string{"error": "voucher number is syntactically invalid"})
	}
	voucher, err := h.st.Vouchers().Get(c.Context(), number)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(404, map[string]string{"error": "unknown voucher"})
	}
	if err != nil {
		return c.JSON(500, map[string]string{"error": err.Error()})
	}
	return c.JSON(200, voucher)
}

// isSyntacticVoucher reports whether the string can be interpreted as a
// voucher number: 32 bytes, urlsafe-base64 encoded. It says nothing
// about the voucher's validity.
func isSyntacticVoucher(voucher string) bool {
	if len(voucher) != types.VoucherNumberLength {
		return false
	}
	raw, err := base64.URLEncoding.DecodeString(voucher)
	return err == nil && len(raw) == 32
}

// mintRandomTokens produces the blinded tokens for one voucher.
func mintRandomTokens(voucher string, n int) []types.RandomToken {
	tokens := make([]types.RandomToken, n)
	for i := range tokens {
		raw := make([]byte, 96)
		rand.Read(raw)
		tokens[i] = types.RandomToken{
			Token:   base64.StdEncoding.EncodeToString(raw),
			Voucher: voucher,
		}
	}
	return tokens
}
