package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"account-api/internal/config"
	"account-api/internal/db"
	apihttp "account-api/internal/http"
	"account-api/internal/metrics"
	"account-api/internal/repository"
	"account-api/internal/service"
	"account-api/internal/slug"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var store repository.DocumentStore
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("using in-memory document store")
		store = repository.NewMemoryDocumentStore(service.UniqueIndexes()...)
	default:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if err := db.Ping(ctx, pool); err != nil {
			logger.Fatal("db ping", zap.Error(err))
		}
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx, pool); err != nil {
				logger.Fatal("db migrate", zap.Error(err))
			}
		}
		store = repository.NewPgDocumentStore(pool)
	}

	var verifier service.IdentityVerifier
	switch cfg.AuthMode {
	case config.AuthModeHMAC:
		logger.Warn("using shared-secret identity verification")
		verifier = service.NewHMACIdentityVerifier(cfg.AuthHMACSecret, cfg.AuthHMACIssuer)
	default:
		firebase, err := service.NewFirebaseIdentityVerifier(cfg.FirebaseJWKSURL, cfg.FirebaseProjectID, logger)
		if err != nil {
			logger.Fatal("jwks init", zap.Error(err))
		}
		defer firebase.Close()
		verifier = firebase
	}

	limiter := service.NewMemoryRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMax)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory rate limiter", zap.Error(err))
		} else {
			limiter = service.NewRedisRateLimiter(redisClient, cfg.RateLimitWindow, cfg.RateLimitMax)
		}
		cancel()
	}

	slugs := slug.NewGenerator(cfg.SlugMaxAttempts).WithObserver(metrics.ObserveSlugAttempts)
	userSvc := service.NewUserService(logger, store, slugs).WithPhoneRegion(cfg.PhoneRegion)
	userHandler := apihttp.NewUserHandler(logger, userSvc)
	router := apihttp.NewRouter(logger, apihttp.RouterOptions{
		RequestTimeout: cfg.RequestTimeout,
		MetricsEnabled: cfg.MetricsEnabled,
	}, verifier, limiter, userHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server",
		zap.String("port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
		zap.String("auth", cfg.AuthMode),
	)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
