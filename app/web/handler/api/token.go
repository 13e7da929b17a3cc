package api

import (
	"strconv"

	"github.com/go-mizu/mizu"

	"github.com/litevault-dev/litevault/store"
)

type TokenHandler struct{ st store.Store }

func NewTokenHandler(st store.Store) *TokenHandler { return &TokenHandler{st: st} }

// List returns the spendable token count and one page of tokens.
func (h *TokenHandler) List(c *mizu.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 {
		limit = 100
	}
	position := c.Query("position")

	total, err := h.st.Tokens().CountUnblinded(c.Context())
	if err != nil {
		return c.JSON(500, map[string]string{"error": err.Error()})
	}
	tokens, err := h.st.Tokens().ListUnblinded(c.Context(), position, limit)
	if err != nil {
		return c.JSON(500, map[string]string{"error": err.Error()})
	}
	if tokens == nil {
		tokens = []string{}
	}
	return c.JSON(200, map[string]any{
		"total":            total,
		"unblinded-tokens": tokens,
	})
}
