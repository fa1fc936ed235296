package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/handlers"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/middleware"
	"github.com/playdroplink/droplink-testnet-35167-sub002/internal/telemetry"
	"github.com/playdroplink/droplink-testnet-35167-sub002/pkg/paymentapi"
)

// Deps are the collaborators the payment gateway routes are built from.
type Deps struct {
	Payments *handlers.PaymentHandler
	Auth     *handlers.AuthHandler
	AdReward *handlers.AdRewardHandler
	Tokens   middleware.TokenParser
	Cache    middleware.ResponseCache
	Limiter  *middleware.RateLimiter
}

func NewRouter(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "payment-gateway"})
	})

	if d.Limiter != nil {
		r.Use(d.Limiter.Middleware())
	}

	r.POST(paymentapi.PathAuthPi, d.Auth.AuthenticatePi)

	authed := r.Group("", middleware.AuthMiddleware(d.Tokens))
	{
		idempotent := middleware.IdempotencyMiddleware(d.Cache)
		authed.POST(paymentapi.PathApprovePayment, idempotent, d.Payments.ApprovePayment)
		authed.POST(paymentapi.PathCompletePayment, idempotent, d.Payments.CompletePayment)
		authed.POST(paymentapi.PathVerifyAdReward, d.AdReward.VerifyAdReward)
		authed.GET("/payments/:id", d.Payments.GetPayment)
	}

	return r
}
