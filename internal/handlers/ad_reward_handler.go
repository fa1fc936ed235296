package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/adreward"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/middleware"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/telemetry"
	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/paymentapi"
)

type AdRewardVerifier interface {
	Verify(ctx context.Context, profileID, piUID, adID string) (adreward.Result, error)
}

type AdRewardHandler struct {
	verifier AdRewardVerifier
}

func NewAdRewardHandler(verifier AdRewardVerifier) *AdRewardHandler {
	return &AdRewardHandler{verifier: verifier}
}

func (h *AdRewardHandler) VerifyAdReward(c *gin.Context) {
	var req paymentapi.AdRewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, paymentapi.AdRewardResponse{Error: "invalid request", Details: err.Error()})
		return
	}

	result, err := h.verifier.Verify(c.Request.Context(),
		c.GetString(middleware.ContextProfileID),
		c.GetString(middleware.ContextPiUID),
		req.AdID,
	)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, adreward.ErrMissingAdID):
			status = http.StatusBadRequest
		case errors.Is(err, adreward.ErrNotGranted):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, adreward.ErrOtherUser):
			status = http.StatusConflict
		case errors.Is(err, adreward.ErrUnavailable):
			status = http.StatusBadGateway
		default:
			telemetry.Logger.Error("Ad reward verification failed", zap.String("ad_id", req.AdID), zap.Error(err))
		}
		resp := paymentapi.AdRewardResponse{Status: result.Status, Error: "ad reward not granted", Details: err.Error()}
		if status == http.StatusInternalServerError {
			resp.Error, resp.Details = "internal error", ""
		}
		c.JSON(status, resp)
		return
	}

	resp := paymentapi.AdRewardResponse{Success: result.Granted, Status: result.Status}
	if result.Granted {
		resp.Reward = result.Reward.String()
	}
	c.JSON(http.StatusOK, resp)
}
