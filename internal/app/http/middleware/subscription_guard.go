package middleware

import (
	"errors"

	"handytoknow/internal/apperr"
	"handytoknow/internal/domain/trades"

	"github.com/gin-gonic/gin"
)

// KeyAccount holds the trades.Account loaded by RequireTradeAccess.
const KeyAccount = "account"

// RequireTradeAccess loads the signed-in trade and rejects accounts whose
// subscription no longer grants access. Tokens outlive status changes, so
// the record is checked on every request.
func RequireTradeAccess(repo *trades.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		tradeID := c.GetString(KeyTradeID)
		if tradeID == "" || c.GetString(KeyRole) != RoleTrade {
			apperr.Respond(c, apperr.Auth("Trade account required"))
			return
		}

		row, err := repo.FindByID(c.Request.Context(), tradeID)
		if errors.Is(err, trades.ErrNotFound) {
			apperr.Respond(c, apperr.Auth("Trade account not found"))
			return
		}
		if err != nil {
			apperr.Respond(c, apperr.Upstream("Failed to load trade account", err))
			return
		}

		acct := trades.AccountFromRow(row)
		if trades.ComputeAccessState(acct.Status) == trades.AccessLocked {
			apperr.Respond(c, apperr.Forbidden("Subscription is not active"))
			return
		}

		c.Set(KeyAccount, acct)
		c.Next()
	}
}

// Account returns the trade loaded by RequireTradeAccess.
func Account(c *gin.Context) (trades.Account, bool) {
	v, ok := c.Get(KeyAccount)
	if !ok {
		return trades.Account{}, false
	}
	acct, ok := v.(trades.Account)
	return acct, ok
}
