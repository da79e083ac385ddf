package main

import (
	"context"
	"fmt"
	"time"

	"github.com/skippy/island-grown/internal/authorization"
	"github.com/skippy/island-grown/internal/config"
	"github.com/skippy/island-grown/internal/httpapi"
	"github.com/skippy/island-grown/internal/lifecycle"
	"github.com/skippy/island-grown/internal/notify"
	"github.com/skippy/island-grown/internal/oplog"
	"github.com/skippy/island-grown/internal/spending"
	"github.com/skippy/island-grown/internal/store/gormstore"
	"github.com/skippy/island-grown/internal/stripeledger"
	"github.com/skippy/island-grown/internal/sweep"
	"github.com/skippy/island-grown/internal/vendormatch"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// application holds the wired services shared by every subcommand.
type application struct {
	cfg        config.Config
	logger     *zap.Logger
	ledger     *stripeledger.Ledger
	journal    *gormstore.Store
	closeDB    func() error
	matcher    *vendormatch.Matcher
	aggregator *spending.Aggregator
	notifier   *notify.Notifier
	authorizer *authorization.Handler
	lifecycle  *lifecycle.Handler
	sweeper    *sweep.Sweeper
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: log_level %q", errInvalidFlag, cfg.LogLevel)
	}
	zapConfig := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zapConfig = zap.NewProductionConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	return zapConfig.Build()
}

func newSender(cfg config.Config, logger *zap.Logger) (notify.Sender, error) {
	switch cfg.Notifications.Channel {
	case config.ChannelTwilio:
		return notify.NewTwilioSender(cfg.TwilioConfig(), logger)
	case config.ChannelSMTP:
		return notify.NewEmailSender(cfg.SMTPConfig(), logger)
	default:
		return notify.NewLogSender(logger), nil
	}
}

func newApplication(ctx context.Context, cfg config.Config, logger *zap.Logger) (*application, error) {
	clock := cfg.Clock()
	operations := oplog.New(logger)

	ledger, err := stripeledger.New(stripeledger.Config{APIKey: cfg.StripeAPIKey, WebhookSecrets: cfg.WebhookSecrets()})
	if err != nil {
		return nil, fmt.Errorf("ledger init: %w", err)
	}

	db, closeDB, driver, err := gormstore.Open(ctx, cfg.Journal.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	if err := gormstore.Migrate(db); err != nil {
		_ = closeDB()
		return nil, fmt.Errorf("journal migrate: %w", err)
	}
	logger.Debug("journal ready", zap.String("driver", driver))
	journal := gormstore.New(db)

	app, err := wireServices(cfg, logger, ledger, journal, clock, operations)
	if err != nil {
		_ = closeDB()
		return nil, err
	}
	app.closeDB = closeDB
	return app, nil
}

func wireServices(cfg config.Config, logger *zap.Logger, ledger *stripeledger.Ledger, journal *gormstore.Store, clock func() time.Time, operations *oplog.ZapLogger) (*application, error) {
	plan := cfg.Plan()
	matcher, err := vendormatch.New(cfg.VendorEntries(), cfg.ApprovedPostalCodes)
	if err != nil {
		return nil, fmt.Errorf("vendor matcher init: %w", err)
	}
	aggregator, err := spending.NewAggregator(ledger, plan, clock)
	if err != nil {
		return nil, fmt.Errorf("aggregator init: %w", err)
	}
	recomputer, err := spending.NewRecomputer(aggregator, plan, clock, spending.WithOperationLogger(operations))
	if err != nil {
		return nil, fmt.Errorf("recomputer init: %w", err)
	}

	sender, err := newSender(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("notification sender init: %w", err)
	}
	notifier, err := notify.NewNotifier(sender, ledger, aggregator, cfg.Templates(), matcher.Vendors(),
		notify.WithLogger(logger),
		notify.WithOperationLogger(operations),
	)
	if err != nil {
		return nil, fmt.Errorf("notifier init: %w", err)
	}

	authorizer, err := authorization.NewHandler(matcher, ledger, notifier,
		authorization.WithLogger(logger),
		authorization.WithNotificationClaims(journal),
	)
	if err != nil {
		return nil, fmt.Errorf("authorization handler init: %w", err)
	}
	lifecycleHandler, err := lifecycle.NewHandler(ledger, ledger, recomputer,
		lifecycle.WithLogger(logger),
		lifecycle.WithOperationLogger(operations),
		lifecycle.WithWelcomeSender(notifier),
	)
	if err != nil {
		return nil, fmt.Errorf("lifecycle handler init: %w", err)
	}
	sweeper, err := sweep.NewSweeper(ledger, ledger, recomputer, lifecycleHandler, cfg.SweepSettings(), clock,
		sweep.WithLogger(logger),
		sweep.WithOperationLogger(operations),
		sweep.WithRecorder(journal),
	)
	if err != nil {
		return nil, fmt.Errorf("sweeper init: %w", err)
	}

	return &application{
		cfg:        cfg,
		logger:     logger,
		ledger:     ledger,
		journal:    journal,
		matcher:    matcher,
		aggregator: aggregator,
		notifier:   notifier,
		authorizer: authorizer,
		lifecycle:  lifecycleHandler,
		sweeper:    sweeper,
	}, nil
}

func (app *application) Close() {
	if app.closeDB == nil {
		return
	}
	if err := app.closeDB(); err != nil {
		app.logger.Warn("journal close failed", zap.Error(err))
	}
}

func (app *application) operatorAuth() (*httpapi.OperatorAuth, error) {
	return httpapi.NewOperatorAuth(app.cfg.Operator.JWTSigningKey, app.cfg.Operator.JWTIssuer, time.Now)
}

func (app *application) httpHandler() (*httpapi.Handler, error) {
	deps := httpapi.Dependencies{
		Directory:      app.ledger,
		Snapshots:      app.aggregator,
		Events:         app.ledger,
		Authorizations: app.authorizer,
		Lifecycle:      app.lifecycle,
		Messenger:      app.notifier,
		Sweeps:         app.sweeper,
		InboundURL:     app.cfg.Notifications.Twilio.InboundURL,
		Logger:         app.logger,
	}
	if app.cfg.Notifications.Twilio.ValidateInbound {
		deps.InboundValidator = notify.NewInboundValidator(app.cfg.Notifications.Twilio.AuthToken)
	}
	if app.cfg.Operator.JWTSigningKey != "" {
		auth, err := app.operatorAuth()
		if err != nil {
			return nil, err
		}
		deps.Operator = auth
	} else {
		app.logger.Info("operator signing key not set; /recompute-spending-rules disabled")
	}
	return httpapi.NewHandler(deps)
}
