// Package config loads and validates the runtime configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/shopspring/decimal"
	"github.com/skippy/island-grown/internal/notify"
	"github.com/skippy/island-grown/internal/spending"
	"github.com/skippy/island-grown/internal/sweep"
	"github.com/skippy/island-grown/internal/vendormatch"
	"github.com/skippy/island-grown/pkg/benefits"
	"github.com/spf13/viper"
)

// Notification channels.
const (
	ChannelLog    = "log"
	ChannelTwilio = "twilio"
	ChannelSMTP   = "smtp"
)

const (
	// DefaultConfigPath is read when --config is not given.
	DefaultConfigPath = "config/app_configs.yml"
	// EnvPrefix prefixes environment overrides, e.g. IG_STRIPE_API_KEY.
	EnvPrefix = "IG"

	EnvProduction  = "production"
	envDevelopment = "development"

	defaultListenAddr    = ":8080"
	defaultLogLevel      = "info"
	defaultAllowedOrigin = "*"
	defaultDatabaseURL   = "sqlite://islandgrown.db"
	defaultJWTIssuer     = "island-grown"
	defaultTimezone      = "America/Los_Angeles"
	minSigningKeyLength  = 32
)

var postalCodePattern = regexp.MustCompile(`^\d{5}$`)

// Config is the validated process configuration. It is not modified after Load returns.
type Config struct {
	Env                           string        `mapstructure:"env"`
	LogLevel                      string        `mapstructure:"log_level"`
	ListenAddr                    string        `mapstructure:"listen_addr"`
	AllowedOrigins                []string      `mapstructure:"allowed_origins"`
	StripeAPIKey                  string        `mapstructure:"stripe_api_key"`
	StripeWebhookSecret           string        `mapstructure:"stripe_webhook_secret"`
	StripeCardholderWebhookSecret string        `mapstructure:"stripe_cardholder_webhook_secret"`
	BaseFundingAmount             string        `mapstructure:"base_funding_amt"`
	SpendingLimitInterval         string        `mapstructure:"spending_limit_interval"`
	RefillTriggerPercent          string        `mapstructure:"refill_trigger_percent"`
	RefillAmounts                 []string      `mapstructure:"refill_amts"`
	ApprovedPostalCodes           []string      `mapstructure:"approved_postal_codes"`
	ApprovedVendors               []Vendor      `mapstructure:"approved_vendors"`
	Notifications                 Notifications `mapstructure:"notifications"`
	Journal                       Journal       `mapstructure:"journal"`
	Sweep                         Sweep         `mapstructure:"sweep"`
	Operator                      Operator      `mapstructure:"operator"`
	// Timezone names the calendar refill dates and yearly/monthly windows follow.
	Timezone                      string        `mapstructure:"timezone"`

	plan     spending.Plan
	vendors  []vendormatch.Entry
	location *time.Location
}

// Vendor is one approved merchant.
type Vendor struct {
	Name       string `mapstructure:"name"`
	PostalCode string `mapstructure:"postal_code"`
	Pattern    bool   `mapstructure:"pattern"`
	Label      string `mapstructure:"label"`
}

// Notifications selects the outbound channel and its wording.
type Notifications struct {
	Channel   string            `mapstructure:"channel"`
	Twilio    Twilio            `mapstructure:"twilio"`
	SMTP      SMTP              `mapstructure:"smtp"`
	Templates map[string]string `mapstructure:"templates"`
}

// Twilio holds SMS credentials.
type Twilio struct {
	AccountSID      string `mapstructure:"account_sid"`
	AuthToken       string `mapstructure:"auth_token"`
	APIKey          string `mapstructure:"api_key"`
	APISecret       string `mapstructure:"api_secret"`
	FromNumber      string `mapstructure:"from_number"`
	ValidateInbound bool   `mapstructure:"validate_inbound"`
	// InboundURL is the public URL Twilio signs inbound requests against.
	InboundURL string `mapstructure:"inbound_url"`
}

// SMTP holds mail settings.
type SMTP struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// Journal points at the notification journal database.
type Journal struct {
	DatabaseURL string `mapstructure:"database_url"`
}

// Sweep tunes batch recomputes.
type Sweep struct {
	BatchSize   int           `mapstructure:"batch_size"`
	MaxPause    time.Duration `mapstructure:"max_pause"`
	Concurrency int           `mapstructure:"concurrency"`
	// Schedule is a standard cron expression; empty disables scheduled sweeps.
	Schedule string `mapstructure:"schedule"`
}

// Operator authenticates administrative HTTP calls.
type Operator struct {
	JWTSigningKey string `mapstructure:"jwt_signing_key"`
	JWTIssuer     string `mapstructure:"jwt_issuer"`
}

// Load reads path (when it exists or was given explicitly), applies IG_ environment overrides
// and validates the result.
func Load(v *viper.Viper, path string, explicit bool) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if strings.TrimSpace(path) == "" {
		path = DefaultConfigPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if explicit || !missing {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", envDevelopment)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("allowed_origins", []string{defaultAllowedOrigin})
	v.SetDefault("stripe_api_key", "")
	v.SetDefault("stripe_webhook_secret", "")
	v.SetDefault("stripe_cardholder_webhook_secret", "")
	v.SetDefault("base_funding_amt", "")
	v.SetDefault("spending_limit_interval", benefits.IntervalAllTime.String())
	v.SetDefault("refill_trigger_percent", "0")
	v.SetDefault("refill_amts", []string{})
	v.SetDefault("approved_postal_codes", []string{})
	v.SetDefault("notifications.channel", ChannelLog)
	v.SetDefault("notifications.twilio.account_sid", "")
	v.SetDefault("notifications.twilio.auth_token", "")
	v.SetDefault("notifications.twilio.api_key", "")
	v.SetDefault("notifications.twilio.api_secret", "")
	v.SetDefault("notifications.twilio.from_number", "")
	v.SetDefault("notifications.twilio.validate_inbound", false)
	v.SetDefault("notifications.twilio.inbound_url", "")
	v.SetDefault("notifications.smtp.host", "")
	v.SetDefault("notifications.smtp.port", "587")
	v.SetDefault("notifications.smtp.username", "")
	v.SetDefault("notifications.smtp.password", "")
	v.SetDefault("notifications.smtp.from", "")
	v.SetDefault("journal.database_url", defaultDatabaseURL)
	v.SetDefault("sweep.batch_size", 10)
	v.SetDefault("sweep.max_pause", time.Second)
	v.SetDefault("sweep.concurrency", 4)
	v.SetDefault("sweep.schedule", "")
	v.SetDefault("operator.jwt_signing_key", "")
	v.SetDefault("operator.jwt_issuer", defaultJWTIssuer)
	v.SetDefault("timezone", defaultTimezone)
}

// Validate normalizes the configuration and rejects anything the process cannot run with.
func (cfg *Config) Validate() error {
	var problems []string
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}
	invalidPostalCode := false
	failPostalCode := func(format string, args ...any) {
		invalidPostalCode = true
		fail(format, args...)
	}

	cfg.Env = defaultIfEmpty(strings.ToLower(cfg.Env), envDevelopment)
	cfg.LogLevel = defaultIfEmpty(strings.ToLower(cfg.LogLevel), defaultLogLevel)
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.AllowedOrigins = trimAll(cfg.AllowedOrigins)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.Journal.DatabaseURL = defaultIfEmpty(cfg.Journal.DatabaseURL, defaultDatabaseURL)
	cfg.Operator.JWTIssuer = defaultIfEmpty(cfg.Operator.JWTIssuer, defaultJWTIssuer)
	cfg.Notifications.Channel = defaultIfEmpty(strings.ToLower(cfg.Notifications.Channel), ChannelLog)
	cfg.Timezone = defaultIfEmpty(cfg.Timezone, defaultTimezone)

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		fail("timezone %q: %v", cfg.Timezone, err)
		location = time.UTC
	}
	cfg.location = location

	if strings.TrimSpace(cfg.StripeAPIKey) == "" {
		fail("stripe_api_key is required")
	}
	if strings.TrimSpace(cfg.StripeWebhookSecret) == "" {
		fail("stripe_webhook_secret is required")
	}

	plan, err := cfg.buildPlan()
	if err != nil {
		fail("%v", err)
	}
	cfg.plan = plan

	cfg.ApprovedPostalCodes = trimAll(cfg.ApprovedPostalCodes)
	for _, postalCode := range cfg.ApprovedPostalCodes {
		if !postalCodePattern.MatchString(postalCode) {
			failPostalCode("approved postal code %q must be five digits", postalCode)
		}
	}
	cfg.vendors = make([]vendormatch.Entry, 0, len(cfg.ApprovedVendors))
	for index, vendor := range cfg.ApprovedVendors {
		if strings.TrimSpace(vendor.Name) == "" {
			fail("approved vendor %d has no name", index)
			continue
		}
		if !postalCodePattern.MatchString(strings.TrimSpace(vendor.PostalCode)) {
			failPostalCode("approved vendor %q postal code %q must be five digits", vendor.Name, vendor.PostalCode)
			continue
		}
		cfg.vendors = append(cfg.vendors, vendormatch.Entry{
			Name:       strings.TrimSpace(vendor.Name),
			PostalCode: strings.TrimSpace(vendor.PostalCode),
			Pattern:    vendor.Pattern,
			Label:      strings.TrimSpace(vendor.Label),
		})
	}
	if _, err := vendormatch.New(cfg.vendors, cfg.ApprovedPostalCodes); err != nil {
		fail("%v", err)
	}

	switch cfg.Notifications.Channel {
	case ChannelLog:
	case ChannelTwilio:
		twilio := cfg.Notifications.Twilio
		if strings.TrimSpace(twilio.AccountSID) == "" || strings.TrimSpace(twilio.FromNumber) == "" {
			fail("notifications.twilio requires account_sid and from_number")
		}
		if strings.TrimSpace(twilio.AuthToken) == "" && (strings.TrimSpace(twilio.APIKey) == "" || strings.TrimSpace(twilio.APISecret) == "") {
			fail("notifications.twilio requires auth_token or api_key and api_secret")
		}
	case ChannelSMTP:
		smtp := cfg.Notifications.SMTP
		if strings.TrimSpace(smtp.Host) == "" || strings.TrimSpace(smtp.Port) == "" {
			fail("notifications.smtp requires host and port")
		}
		from, err := benefits.NewEmail(smtp.From)
		if err != nil {
			fail("notifications.smtp.from: %v", err)
		}
		cfg.Notifications.SMTP.From = from
	default:
		fail("notifications.channel %q must be one of log, twilio, smtp", cfg.Notifications.Channel)
	}
	if cfg.Notifications.Twilio.ValidateInbound && strings.TrimSpace(cfg.Notifications.Twilio.AuthToken) == "" {
		fail("notifications.twilio.validate_inbound requires auth_token")
	}

	if key := cfg.Operator.JWTSigningKey; key != "" && len(key) < minSigningKeyLength {
		fail("operator.jwt_signing_key must be at least %d bytes", minSigningKeyLength)
	}
	if cfg.Sweep.BatchSize < 0 || cfg.Sweep.Concurrency < 0 || cfg.Sweep.MaxPause < 0 {
		fail("sweep settings must not be negative")
	}
	if schedule := strings.TrimSpace(cfg.Sweep.Schedule); schedule != "" {
		if err := sweep.ValidateSchedule(schedule); err != nil {
			fail("%v", err)
		}
	}

	if len(problems) > 0 {
		joined := strings.Join(problems, "; ")
		if invalidPostalCode {
			return fmt.Errorf("%w: %w: %s", benefits.ErrInvalidServiceConfig, benefits.ErrInvalidPostalCode, joined)
		}
		return fmt.Errorf("%w: %s", benefits.ErrInvalidServiceConfig, joined)
	}
	return nil
}

func (cfg *Config) buildPlan() (spending.Plan, error) {
	base, err := benefits.ParseDollars(cfg.BaseFundingAmount)
	if err != nil {
		return spending.Plan{}, fmt.Errorf("base_funding_amt: %w", err)
	}
	interval, err := benefits.ParseLimitInterval(cfg.SpendingLimitInterval)
	if err != nil {
		return spending.Plan{}, fmt.Errorf("spending_limit_interval: %w", err)
	}
	trigger, err := decimal.NewFromString(defaultIfEmpty(cfg.RefillTriggerPercent, "0"))
	if err != nil {
		return spending.Plan{}, fmt.Errorf("refill_trigger_percent: %w", err)
	}
	refills := make([]decimal.Decimal, 0, len(cfg.RefillAmounts))
	for index, raw := range cfg.RefillAmounts {
		amount, err := benefits.ParseDollars(raw)
		if err != nil {
			return spending.Plan{}, fmt.Errorf("refill_amts[%d]: %w", index, err)
		}
		refills = append(refills, amount)
	}
	plan := spending.Plan{BaseFundingAmount: base, Interval: interval, RefillTriggerPercent: trigger, RefillAmounts: refills}
	if err := plan.Validate(); err != nil {
		return spending.Plan{}, err
	}
	return plan, nil
}

// Plan returns the funding schedule. Valid only after Validate.
func (cfg Config) Plan() spending.Plan {
	return cfg.plan
}

// Location returns the configured time zone. Valid only after Validate.
func (cfg Config) Location() *time.Location {
	if cfg.location == nil {
		return time.UTC
	}
	return cfg.location
}

// Clock returns a clock reading the current time in the configured time zone.
func (cfg Config) Clock() func() time.Time {
	location := cfg.Location()
	return func() time.Time { return time.Now().In(location) }
}

// VendorEntries returns the allow-list in declared order. Valid only after Validate.
func (cfg Config) VendorEntries() []vendormatch.Entry {
	entries := make([]vendormatch.Entry, len(cfg.vendors))
	copy(entries, cfg.vendors)
	return entries
}

// WebhookSecrets returns every configured Stripe endpoint secret.
func (cfg Config) WebhookSecrets() []string {
	secrets := []string{cfg.StripeWebhookSecret}
	if strings.TrimSpace(cfg.StripeCardholderWebhookSecret) != "" {
		secrets = append(secrets, cfg.StripeCardholderWebhookSecret)
	}
	return secrets
}

// IsProduction reports whether the process runs in production.
func (cfg Config) IsProduction() bool {
	return cfg.Env == EnvProduction
}

// Templates returns message templates with unset entries filled from the defaults.
func (cfg Config) Templates() notify.Templates {
	configured := cfg.Notifications.Templates
	templates := notify.Templates{
		Subject:                configured["subject"],
		Welcome:                configured["welcome"],
		Help:                   configured["help"],
		Balance:                configured["balance"],
		Vendors:                configured["vendors"],
		Declined:               configured["declined"],
		DeclinedVendorNotFound: configured["declined_vendor_not_found"],
		DeclinedOverBalance:    configured["declined_over_balance"],
	}
	return templates.WithDefaults()
}

// TwilioConfig converts the SMS credentials.
func (cfg Config) TwilioConfig() notify.TwilioConfig {
	twilio := cfg.Notifications.Twilio
	return notify.TwilioConfig{
		AccountSID: twilio.AccountSID,
		AuthToken:  twilio.AuthToken,
		APIKey:     twilio.APIKey,
		APISecret:  twilio.APISecret,
		FromNumber: twilio.FromNumber,
	}
}

// SMTPConfig converts the mail settings.
func (cfg Config) SMTPConfig() notify.SMTPConfig {
	smtp := cfg.Notifications.SMTP
	return notify.SMTPConfig{Host: smtp.Host, Port: smtp.Port, Username: smtp.Username, Password: smtp.Password, From: smtp.From}
}

// SweepSettings converts the sweep pacing.
func (cfg Config) SweepSettings() sweep.Settings {
	return sweep.Settings{BatchSize: cfg.Sweep.BatchSize, MaxPause: cfg.Sweep.MaxPause, Concurrency: cfg.Sweep.Concurrency}
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

func trimAll(values []string) []string {
	trimmed := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				trimmed = append(trimmed, part)
			}
		}
	}
	return trimmed
}
