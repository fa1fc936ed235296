package ledgerservice

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/interfaces"
)

type Handler struct {
	ledger interfaces.LedgerRepository
}

func NewHandler(ledger interfaces.LedgerRepository) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/accounts/:id/balance", h.GetAccountBalance)
	r.GET("/accounts/:id/entries", h.GetAccountEntries)
	r.GET("/payments/:id/entries", h.GetPaymentEntries)
}

func (h *Handler) GetAccountBalance(c *gin.Context) {
	account, err := h.ledger.GetAccount(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch account"})
		return
	}

	c.JSON(http.StatusOK, account)
}

func (h *Handler) GetAccountEntries(c *gin.Context) {
	entries, err := h.ledger.EntriesByAccount(c.Request.Context(), c.Param("id"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch entries"})
		return
	}

	c.JSON(http.StatusOK, entries)
}

func (h *Handler) GetPaymentEntries(c *gin.Context) {
	entries, err := h.ledger.EntriesByPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch entries"})
		return
	}

	c.JSON(http.StatusOK, entries)
}
