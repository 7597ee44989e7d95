// Package app wires configuration into the long-lived collaborators shared
// by the HTTP server, the scheduler and the CLI.
package app

import (
	"context"
	"time"

	"storagedesk/config"
	"storagedesk/internal/apperr"
	"storagedesk/internal/autopay"
	"storagedesk/internal/database"
	"storagedesk/internal/domain"
	"storagedesk/internal/events"
	"storagedesk/internal/lock"
	"storagedesk/internal/middleware"
	"storagedesk/internal/repository"
	"storagedesk/internal/router"
	"storagedesk/internal/ws"
	"storagedesk/pkg/cloudinary"
	"storagedesk/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Cfg       *config.Config
	Log       *zap.Logger
	DB        *gorm.DB
	Gateway   payment.Gateway
	Redis     redis.UniversalClient
	Locker    lock.Locker
	Publisher events.Publisher
	Feed      *ws.RunFeed
	Cloud     cloudinary.Client
	Runner    *autopay.Runner
}

// New connects to the store and builds every collaborator. Optional
// integrations (Redis, Kafka, Cloudinary) are skipped when unconfigured.
func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Cfg: cfg, Log: log, Feed: ws.NewRunFeed(), Publisher: events.Nop{}}

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		return nil, err
	}
	a.DB = db

	if a.Gateway, err = NewGateway(cfg, log); err != nil {
		return nil, errs.Combine(err, a.Close())
	}

	a.Locker = lock.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := a.Redis.Ping(ctx).Err()
		cancel()
		if err != nil {
			return nil, errs.Combine(apperr.ConfigError.New("redis %s: %v", cfg.Redis.Addr, err), a.Close())
		}
		a.Locker = lock.NewRedisLocker(a.Redis, "storagedesk:lock:")
		log.Info("run lock backed by redis", zap.String("addr", cfg.Redis.Addr))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			return nil, errs.Combine(err, a.Close())
		}
		a.Publisher = pub
		log.Info("publishing payment events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	if cfg.CloudinaryEnabled() {
		if a.Cloud, err = cloudinary.NewClientFromParams(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret); err != nil {
			return nil, errs.Combine(err, a.Close())
		}
	}

	a.Runner = autopay.NewRunner(log, autopay.Config{
		Currency:      cfg.Payment.Currency,
		Concurrency:   cfg.Autopay.Concurrency,
		ChargeTimeout: cfg.Autopay.ChargeTimeout,
		LockTTL:       cfg.Autopay.LockTTL,
	}, autopay.Deps{
		Leases:    repository.NewLeaseRepository(db),
		Ledger:    repository.NewPaymentRepository(db),
		Gateway:   a.Gateway,
		Customers: repository.NewTenantRepository(db),
		Publisher: a.Publisher,
		Observer:  a.Feed,
		Locker:    a.Locker,
	})
	return a, nil
}

// NewGateway returns the processor selected by AUTOPAY_GATEWAY.
func NewGateway(cfg *config.Config, log *zap.Logger) (payment.Gateway, error) {
	switch cfg.Payment.Gateway {
	case domain.GatewaySquare:
		return payment.NewSquareGateway(cfg.Square.BaseURL, cfg.Square.AccessToken, cfg.Square.LocationID,
			cfg.Square.Version, cfg.Square.MaxRetries, log), nil
	case domain.GatewayStripe:
		return payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.BaseURL, log), nil
	case domain.GatewayStub:
		return payment.StubGateway{}, nil
	default:
		return nil, apperr.ConfigError.New("unknown gateway %q", cfg.Payment.Gateway)
	}
}

// Handler builds the HTTP engine over the app's collaborators. limiter may be
// nil for a fresh one.
func (a *App) Handler(limiter *middleware.InMemoryRateLimiter) *gin.Engine {
	return router.Setup(a.Cfg, router.Deps{
		DB:        a.DB,
		Log:       a.Log,
		Gateway:   a.Gateway,
		Runner:    a.Runner,
		Publisher: a.Publisher,
		Locker:    a.Locker,
		Feed:      a.Feed,
		Cloud:     a.Cloud,
		Limiter:   limiter,
	})
}

func (a *App) Close() error {
	var group errs.Group
	if a.Publisher != nil {
		group.Add(a.Publisher.Close())
	}
	if a.Redis != nil {
		group.Add(a.Redis.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			group.Add(sqlDB.Close())
		}
	}
	return group.Err()
}
