package router

import (
	"net/http"
	"time"

	"storagedesk/config"
	"storagedesk/internal/autopay"
	"storagedesk/internal/domain"
	"storagedesk/internal/events"
	"storagedesk/internal/handler"
	"storagedesk/internal/lock"
	"storagedesk/internal/middleware"
	"storagedesk/internal/repository"
	"storagedesk/internal/service"
	"storagedesk/internal/ws"
	"storagedesk/pkg/cloudinary"
	"storagedesk/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/spacemonkeygo/monkit/v3/present"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are the long-lived collaborators the HTTP layer is built from. Cloud,
// Publisher, Locker, Feed and Limiter may be nil.
type Deps struct {
	DB        *gorm.DB
	Log       *zap.Logger
	Gateway   payment.Gateway
	Runner    *autopay.Runner
	Publisher events.Publisher
	Locker    lock.Locker
	Feed      *ws.RunFeed
	Cloud     cloudinary.Client
	Limiter   *middleware.InMemoryRateLimiter
}

func Setup(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	limiter := d.Limiter
	if limiter == nil {
		limiter = middleware.NewInMemoryRateLimiter(cfg.Server.RateLimit, cfg.Server.RateLimitEvery)
	}
	feed := d.Feed
	if feed == nil {
		feed = ws.NewRunFeed()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log.Named("http")))
	r.Use(middleware.CORS(&cfg.Server))

	// Repositories
	unitRepo := repository.NewUnitRepository(d.DB)
	tenantRepo := repository.NewTenantRepository(d.DB)
	leaseRepo := repository.NewLeaseRepository(d.DB)
	invoiceRepo := repository.NewInvoiceRepository(d.DB)
	paymentRepo := repository.NewPaymentRepository(d.DB)
	staffRepo := repository.NewStaffRepository(d.DB)

	// Services
	authSvc := service.NewAuthService(cfg, staffRepo)
	leaseSvc := service.NewLeaseService(leaseRepo, unitRepo, tenantRepo, d.Gateway, d.Cloud, cfg.Cloudinary.Folder, log)
	paymentSvc := service.NewPaymentService(paymentRepo, leaseRepo, invoiceRepo, tenantRepo, d.Gateway,
		d.Publisher, d.Locker, cfg.Payment.Currency, cfg.Autopay.ChargeTimeout, log)

	// Handlers
	authHandler := handler.NewAuthHandler(authSvc, staffRepo)
	unitHandler := handler.NewUnitHandler(unitRepo)
	tenantHandler := handler.NewTenantHandler(tenantRepo, leaseSvc)
	leaseHandler := handler.NewLeaseHandler(leaseRepo, paymentRepo, leaseSvc)
	invoiceHandler := handler.NewInvoiceHandler(invoiceRepo, leaseRepo)
	paymentHandler := handler.NewPaymentHandler(paymentSvc, log)
	autopayHandler := handler.NewAutopayHandler(d.Runner)
	var gatewayCheck handler.Checker
	if d.Gateway != nil {
		gatewayCheck = d.Gateway
	}
	healthHandler := handler.NewHealthHandler(leaseRepo, gatewayCheck)

	authMw := middleware.AuthRequired(&cfg.JWT)
	managerMw := middleware.RequireRole(&cfg.JWT, domain.RoleAdmin, domain.RoleManager)

	r.GET("/health", healthHandler.Health)
	r.GET("/debug/monkit/*path", authMw, gin.WrapH(http.StripPrefix("/debug/monkit", present.HTTP(monkit.Default))))

	api := r.Group("/api")
	api.Use(middleware.RateLimit(limiter))
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.GET("/me", authMw, authHandler.Me)
		}

		units := api.Group("/units", authMw)
		{
			units.GET("", unitHandler.List)
			units.GET("/:id", unitHandler.Get)
			units.POST("", managerMw, unitHandler.Create)
			units.PUT("/:id", managerMw, unitHandler.Update)
			units.DELETE("/:id", managerMw, unitHandler.Delete)
		}

		tenants := api.Group("/tenants", authMw)
		{
			tenants.GET("", tenantHandler.List)
			tenants.GET("/:id", tenantHandler.Get)
			tenants.POST("", tenantHandler.Create)
			tenants.PUT("/:id", tenantHandler.Update)
			tenants.POST("/:id/customer", tenantHandler.CreateCustomer)
		}

		leases := api.Group("/leases", authMw)
		{
			leases.GET("", leaseHandler.List)
			leases.GET("/preview", leaseHandler.Preview)
			leases.GET("/:id", leaseHandler.Get)
			leases.GET("/:id/payments", leaseHandler.Payments)
			leases.POST("", leaseHandler.Create)
			leases.POST("/:id/card", leaseHandler.SaveCard)
			leases.POST("/:id/end", leaseHandler.End)
			leases.POST("/:id/agreement", leaseHandler.UploadAgreement)
		}

		invoices := api.Group("/invoices", authMw)
		{
			invoices.GET("", invoiceHandler.List)
			invoices.POST("", invoiceHandler.Create)
			invoices.POST("/:id/paid", invoiceHandler.MarkPaid)
			invoices.POST("/:id/void", managerMw, invoiceHandler.Void)
		}

		payments := api.Group("/payments", authMw)
		{
			payments.GET("", paymentHandler.List)
			payments.GET("/export.csv", paymentHandler.Export)
			payments.POST("/charge", paymentHandler.Charge)
			payments.POST("/:id/refund", managerMw, paymentHandler.Refund)
		}

		autopayGroup := api.Group("/autopay", authMw, managerMw)
		{
			autopayGroup.POST("/run", autopayHandler.Run)
			autopayGroup.GET("/run-test", autopayHandler.Run)
		}
	}

	r.GET("/ws/autopay", ws.UpgradeRunFeed(&cfg.JWT, feed))

	return r
}

// Server wraps the engine with the configured timeouts.
func Server(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
}
