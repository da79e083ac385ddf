package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/skippy/island-grown/internal/config"
	"github.com/skippy/island-grown/internal/httpapi"
	"github.com/skippy/island-grown/pkg/benefits"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const (
	flagConfig  = "config"
	flagForce   = "force"
	flagEmail   = "email"
	flagKind    = "kind"
	flagLimit   = "limit"
	flagSubject = "subject"
	flagTTL     = "ttl"

	defaultHistoryLimit = 10
	defaultTokenTTL     = time.Hour
)

var errInvalidFlag = errors.New("invalid flag")

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "islandgrown: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "islandgrown",
		Short:         "Food benefit card authorization and funding service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
	}
	cmd.PersistentFlags().String(flagConfig, "", "path to the YAML configuration (default "+config.DefaultConfigPath+")")

	cmd.AddCommand(
		newServeCommand(cfg),
		newRecomputeCommand(cfg),
		newResetCommand(cfg),
		newHistoryCommand(cfg),
		newOperatorTokenCommand(cfg),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	path, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return err
	}
	loaded, err := config.Load(viper.New(), path, cmd.Flags().Changed(flagConfig))
	if err != nil {
		return err
	}
	*cfg = loaded
	return nil
}

// withApplication wires the services, runs fn and tears everything down.
func withApplication(cmd *cobra.Command, cfg *config.Config, fn func(ctx context.Context, app *application) error) error {
	logger, err := newLogger(*cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, *cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func newServeCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the webhooks, balance query and inbound SMS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, cfg, runServer)
		},
	}
}

func runServer(ctx context.Context, app *application) error {
	handler, err := app.httpHandler()
	if err != nil {
		return err
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpapi.Run(groupCtx, httpapi.Config{
			ListenAddr:     app.cfg.ListenAddr,
			AllowedOrigins: app.cfg.AllowedOrigins,
		}, handler, app.logger)
	})
	if schedule := strings.TrimSpace(app.cfg.Sweep.Schedule); schedule != "" {
		group.Go(func() error {
			return app.sweeper.Schedule(groupCtx, schedule)
		})
	}
	return group.Wait()
}

func newRecomputeCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute spending limits for every cardholder (dry run unless --force)",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool(flagForce)
			email, _ := cmd.Flags().GetString(flagEmail)
			filter := benefits.CardholderFilter{}
			if strings.TrimSpace(email) != "" {
				normalized, err := benefits.NewEmail(email)
				if err != nil {
					return fmt.Errorf("%w: --%s: %v", errInvalidFlag, flagEmail, err)
				}
				filter.Email = normalized
			}
			return withApplication(cmd, cfg, func(ctx context.Context, app *application) error {
				summary, err := app.sweeper.RecomputeAll(ctx, filter, !force)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
	cmd.Flags().Bool(flagForce, false, "write changes to the ledger")
	cmd.Flags().String(flagEmail, "", "only recompute the cardholder with this e-mail")
	return cmd
}

func newResetCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset every cardholder to the base funding amount (dry run unless --force)",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool(flagForce)
			return withApplication(cmd, cfg, func(ctx context.Context, app *application) error {
				summary, err := app.sweeper.ResetAll(ctx, !force)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
	cmd.Flags().Bool(flagForce, false, "write changes to the ledger")
	return cmd
}

func newHistoryCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sweep runs from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString(flagKind)
			limit, _ := cmd.Flags().GetInt(flagLimit)
			if limit <= 0 {
				return fmt.Errorf("%w: --%s must be positive", errInvalidFlag, flagLimit)
			}
			return withApplication(cmd, cfg, func(ctx context.Context, app *application) error {
				runs, err := app.journal.RecentSweeps(ctx, kind, limit)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), runs)
			})
		},
	}
	cmd.Flags().String(flagKind, "", "filter by sweep kind (recompute or reset)")
	cmd.Flags().Int(flagLimit, defaultHistoryLimit, "maximum number of runs")
	return cmd
}

func newOperatorTokenCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator-token",
		Short: "Issue a bearer token for /recompute-spending-rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString(flagSubject)
			ttl, _ := cmd.Flags().GetDuration(flagTTL)
			auth, err := httpapi.NewOperatorAuth(cfg.Operator.JWTSigningKey, cfg.Operator.JWTIssuer, time.Now)
			if err != nil {
				return err
			}
			token, err := auth.IssueToken(subject, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().String(flagSubject, "operator", "token subject, usually the operator's e-mail")
	cmd.Flags().Duration(flagTTL, defaultTokenTTL, "token lifetime")
	return cmd
}

func writeJSON(writer io.Writer, value any) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
