// Package httpapi exposes the card program over HTTP: the issuing network's webhooks, the
// balance query, inbound SMS and the operator sweep trigger.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/skippy/island-grown/internal/authorization"
	"github.com/skippy/island-grown/internal/spending"
	"github.com/skippy/island-grown/pkg/benefits"
	"go.uber.org/zap"
)

const (
	allOrigins      = "*"
	shutdownTimeout = 5 * time.Second
)

// Authorizer decides authorization requests and follows up on finalized declines.
type Authorizer interface {
	Decide(authorization benefits.Authorization) authorization.Decision
	Finalize(ctx context.Context, event benefits.Event) (bool, error)
}

// LifecycleHandler applies cardholder and card events.
type LifecycleHandler interface {
	Handle(ctx context.Context, event benefits.Event) error
}

// Messenger composes SMS replies and stores the opt-in choice.
type Messenger interface {
	PersistEnabled(ctx context.Context, cardholder benefits.Cardholder) (benefits.Cardholder, error)
	PersistDisabled(ctx context.Context, cardholder benefits.Cardholder) (benefits.Cardholder, error)
	WelcomeMessage() string
	HelpMessage() string
	VendorsMessage() string
	BalanceMessage(ctx context.Context, cardholder benefits.Cardholder) (string, error)
}

// SweepRunner recomputes every cardholder.
type SweepRunner interface {
	RecomputeAll(ctx context.Context, filter benefits.CardholderFilter, dryRun bool) (benefits.SweepSummary, error)
}

// SignatureValidator authenticates inbound SMS webhooks.
type SignatureValidator interface {
	Validate(requestURL string, params map[string]string, signature string) bool
}

// Dependencies are the services the handlers call.
type Dependencies struct {
	Directory      benefits.CardholderDirectory
	Snapshots      spending.SnapshotSource
	Events         benefits.EventVerifier
	Authorizations Authorizer
	Lifecycle      LifecycleHandler
	Messenger      Messenger
	Sweeps         SweepRunner
	// InboundValidator is optional; without it inbound SMS is accepted unsigned.
	InboundValidator SignatureValidator
	// InboundURL is the public URL inbound SMS signatures are computed over. Defaults to the
	// request URL.
	InboundURL string
	// Operator is optional; without it the sweep trigger is not routed.
	Operator *OperatorAuth
	Logger   *zap.Logger
	Now      func() time.Time
}

// Handler serves every route.
type Handler struct {
	deps     Dependencies
	validate *validator.Validate
	logger   *zap.Logger
	nowFn    func() time.Time
}

// NewHandler validates deps.
func NewHandler(deps Dependencies) (*Handler, error) {
	switch {
	case deps.Directory == nil:
		return nil, fmt.Errorf("%w: cardholder directory is nil", benefits.ErrInvalidServiceConfig)
	case deps.Snapshots == nil:
		return nil, fmt.Errorf("%w: snapshot source is nil", benefits.ErrInvalidServiceConfig)
	case deps.Events == nil:
		return nil, fmt.Errorf("%w: event verifier is nil", benefits.ErrInvalidServiceConfig)
	case deps.Authorizations == nil:
		return nil, fmt.Errorf("%w: authorizer is nil", benefits.ErrInvalidServiceConfig)
	case deps.Lifecycle == nil:
		return nil, fmt.Errorf("%w: lifecycle handler is nil", benefits.ErrInvalidServiceConfig)
	case deps.Messenger == nil:
		return nil, fmt.Errorf("%w: messenger is nil", benefits.ErrInvalidServiceConfig)
	case deps.Sweeps == nil:
		return nil, fmt.Errorf("%w: sweep runner is nil", benefits.ErrInvalidServiceConfig)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	nowFn := deps.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{deps: deps, validate: validator.New(), logger: logger, nowFn: nowFn}, nil
}

// Config holds listener settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func Run(ctx context.Context, cfg Config, handler *Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewRouter(cfg, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter builds the gin engine.
func NewRouter(cfg Config, handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/balance", handler.handleBalance)
	router.POST("/authorization-webhook", handler.handleAuthorizationWebhook)
	router.POST("/cardholder-webhook", handler.handleCardholderWebhook)
	router.POST("/sms-inbound", handler.handleInboundSMS)
	if handler.deps.Operator != nil {
		router.POST("/recompute-spending-rules", handler.deps.Operator.Middleware(), handler.handleRecompute)
	}
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Origin", "Accept", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == allOrigins {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
