package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/gateway"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/middleware"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/models"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/telemetry"
	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/paymentapi"
)

// PaymentReader is the read side of the payment repository.
type PaymentReader interface {
	GetByID(ctx context.Context, id string) (*models.Payment, error)
}

type PaymentHandler struct {
	approver  gateway.Approver
	completer gateway.Completer
	payments  PaymentReader
}

func NewPaymentHandler(approver gateway.Approver, completer gateway.Completer, payments PaymentReader) *PaymentHandler {
	return &PaymentHandler{approver: approver, completer: completer, payments: payments}
}

func callerContext(c *gin.Context) context.Context {
	return gateway.WithCaller(c.Request.Context(), gateway.Caller{
		ProfileID: c.GetString(middleware.ContextProfileID),
		PiUID:     c.GetString(middleware.ContextPiUID),
	})
}

func (h *PaymentHandler) ApprovePayment(c *gin.Context) {
	var req paymentapi.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		telemetry.Logger.Warn("Invalid approve request", zap.Error(err))
		c.JSON(http.StatusBadRequest, paymentapi.ApproveResponse{Error: "invalid request", Details: err.Error()})
		return
	}

	span := trace.SpanFromContext(c.Request.Context())
	telemetry.Logger.Info("Approving payment",
		zap.String("payment_id", req.PaymentID),
		zap.String("trace_id", span.SpanContext().TraceID().String()),
	)

	ok, err := h.approver.Approve(callerContext(c), req.PaymentID, req.Metadata)
	c.JSON(gateway.HTTPStatus(err), gateway.ApproveResponse(ok, err))
}

func (h *PaymentHandler) CompletePayment(c *gin.Context) {
	var req paymentapi.CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		telemetry.Logger.Warn("Invalid complete request", zap.Error(err))
		c.JSON(http.StatusBadRequest, paymentapi.CompleteResponse{Error: "invalid request", Details: err.Error()})
		return
	}

	span := trace.SpanFromContext(c.Request.Context())
	telemetry.Logger.Info("Completing payment",
		zap.String("payment_id", req.PaymentID),
		zap.String("txid", req.TxID),
		zap.String("trace_id", span.SpanContext().TraceID().String()),
	)

	ok, err := h.completer.Complete(callerContext(c), req.PaymentID, req.TxID, req.Metadata)
	c.JSON(gateway.HTTPStatus(err), gateway.CompleteResponse(ok, err))
}

// GetPayment returns a payment owned by the caller. Other users' payments are reported
// as missing.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	id := c.Param("id")

	payment, err := h.payments.GetByID(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && payment.ProfileID != c.GetString(middleware.ContextProfileID)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Payment not found"})
		return
	}
	if err != nil {
		telemetry.Logger.Error("Failed to fetch payment", zap.String("payment_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch payment"})
		return
	}

	c.JSON(http.StatusOK, payment)
}
