package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"account-api/internal/metrics"
	"account-api/internal/service"
)

// RouterOptions agrupa los ajustes del router que vienen de config.
type RouterOptions struct {
	RequestTimeout time.Duration
	MetricsEnabled bool
}

// NewRouter configura el router de Gin con middlewares y rutas base.
func NewRouter(
	logger *zap.Logger,
	opts RouterOptions,
	verifier service.IdentityVerifier,
	limiter service.RequestRateLimiter,
	userH *UserHandler,
) *gin.Engine {
	r := gin.New()

	// Middlewares basicos: logging, recovery y JSON content-type.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery())
	if opts.MetricsEnabled {
		r.Use(metrics.GinMiddleware())
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	users := r.Group("/user", jsonContentTypeMiddleware(), timeoutMiddleware(opts.RequestTimeout), IdentityMiddleware(verifier))
	limited := rateLimitMiddleware(limiter)

	users.POST("", limited, userH.Create)
	users.GET("/find-all", userH.FindAll)
	users.GET("", userH.FindOne)
	users.PATCH("", limited, userH.Update)
	users.DELETE("", limited, userH.Remove)
	users.POST("/address", limited, userH.InsertUserAddress)
	users.GET("/address", userH.ListAddresses)

	return r
}
