package routes

import (
	"net/http"
	"time"

	adminapi "handytoknow/internal/api/admin"
	authapi "handytoknow/internal/api/auth"
	billingapi "handytoknow/internal/api/billing"
	plansapi "handytoknow/internal/api/plans"
	"handytoknow/internal/api/registration"
	stripewebhooks "handytoknow/internal/api/stripewebhook"
	tradeapi "handytoknow/internal/api/trade"
	"handytoknow/internal/app/http/middleware"
	"handytoknow/internal/apperr"
	"handytoknow/internal/domain/trades"
	"handytoknow/internal/logging"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Auth         *authapi.Handler
	Billing      *billingapi.Handler
	Webhook      *stripewebhooks.Handler
	Registration *registration.Handler
	Trade        *tradeapi.Handler
	Admin        *adminapi.Handler
	Plans        *plansapi.Handler
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(h Handlers, repo *trades.Repository, jwtSecret string) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(
		sentrygin.New(sentrygin.Options{Repanic: true}),
		gin.Recovery(),
		logging.RequestLogger(),
		cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", "Stripe-Signature", "Idempotency-Key"},
			ExposeHeaders:   []string{"Content-Length"},
			MaxAge:          12 * time.Hour,
		}),
	)

	r.NoMethod(func(c *gin.Context) {
		apperr.Respond(c, &apperr.Error{Kind: apperr.KindMethodNotAllowed, Message: "Method not allowed"})
	})
	r.NoRoute(func(c *gin.Context) {
		apperr.Respond(c, apperr.NotFound("Not found"))
	})

	RegisterRoutes(r, h, repo, jwtSecret)
	return r
}

func RegisterRoutes(r *gin.Engine, h Handlers, repo *trades.Repository, jwtSecret string) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Raw body: the signature covers the exact bytes.
	r.POST("/api/stripe-webhook", h.Webhook.StripeWebhook)

	r.GET("/auth/google", h.Auth.GoogleStart)
	r.GET("/auth/google/callback", h.Auth.GoogleCallback)

	api := r.Group("/api")
	api.GET("/plans", h.Plans.ListPlans)
	api.POST("/create-checkout-session", h.Billing.CreateCheckoutSession)
	api.POST("/verify-session", h.Billing.VerifySession)
	api.GET("/verify-session", h.Billing.VerifySession)

	// Form input is sanitized before any handler sees it.
	public := api.Group("/")
	public.Use(middleware.SanitizeAndCleanInputMiddleware())
	public.POST("/register-customer", h.Registration.RegisterCustomer)
	public.POST("/register-trade", h.Registration.RegisterTrade)
	public.POST("/post-job", h.Registration.PostJob)
	public.POST("/submit-review", h.Registration.SubmitReview)
	public.POST("/trade/login", h.Auth.TradeLogin)
	public.POST("/password-reset/request", h.Auth.RequestPasswordReset)
	public.POST("/password-reset/confirm", h.Auth.ConfirmPasswordReset)
	public.POST("/admin/login", h.Auth.AdminLogin)
	public.POST("/admin/verify-2fa", h.Auth.AdminVerify2FA)

	// Signed-in trades with a live subscription
	trade := api.Group("/trade")
	trade.Use(middleware.AuthMiddleware(jwtSecret), middleware.RequireTradeAccess(repo))
	trade.GET("/me", h.Trade.GetCurrentTrade)
	trade.GET("/payments", h.Billing.GetPaymentHistory)
	trade.POST("/billing-portal", h.Billing.CreateBillingPortal)

	// Admin routes
	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware(jwtSecret), middleware.RequireRole(middleware.RoleAdmin))
	admin.GET("/trades", h.Admin.ListAllTrades)
	admin.GET("/trades/:id", h.Admin.GetTradeDetails)
	admin.GET("/payments", h.Admin.ListAllPayments)
	admin.GET("/stats", h.Admin.GetAdminStats)
	admin.GET("/plans/check", h.Plans.CheckPlans)
}
