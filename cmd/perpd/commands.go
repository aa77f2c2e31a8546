package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"flash.com/pkg/api"
	"flash.com/pkg/auth"
	"flash.com/pkg/custody"
	"flash.com/pkg/journal"
	"flash.com/pkg/store"
)

const (
	shutdownTimeout     = 10 * time.Second
	staticOracleRefresh = 30 * time.Second
)

// =============================================================================
// serve
// =============================================================================

func serveCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and keepers",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			var verifier api.TokenVerifier
			if a.verifier != nil {
				verifier = a.verifier
			}
			srv := api.NewServer(a.engine, verifier, a.metrics, logger).HTTPServer(cfg.App.Listen)

			a.Start(ctx)
			if a.static != nil {
				go refreshLoop(ctx, a)
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server listening", zap.String("addr", cfg.App.Listen))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case err = <-errCh:
				logger.Error("http server failed", zap.Error(err))
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("http shutdown", zap.Error(serr))
			}
			a.Stop()
			return err
		},
	}
}

func refreshLoop(ctx context.Context, a *app) {
	ticker := time.NewTicker(staticOracleRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.refreshStatic()
		}
	}
}

// =============================================================================
// migrate
// =============================================================================

func migrateCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create mysql tables for state, custody ledger and event journal",
		RunE: func(*cobra.Command, []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := openMySQL(cfg.MySQL)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			steps := []struct {
				name string
				fn   func() error
			}{
				{"state", store.NewGormStore(db).AutoMigrate},
				{"custody", custody.NewLedger(db, custody.DefaultVault).AutoMigrate},
				{"journal", journal.NewRepo(db).AutoMigrate},
			}
			for _, s := range steps {
				if err := s.fn(); err != nil {
					return fmt.Errorf("migrate %s: %w", s.name, err)
				}
				logger.Info("migrated", zap.String("schema", s.name))
			}
			return nil
		},
	}
}

// =============================================================================
// token
// =============================================================================

func tokenCommand(load loader) *cobra.Command {
	var ttl time.Duration
	c := &cobra.Command{
		Use:   "token <principal>",
		Short: "Sign a bearer token for a principal",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, _, err := load()
			if err != nil {
				return err
			}
			v, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			tok, err := v.Sign(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.OutOrStdout(), tok)
			return nil
		},
	}
	c.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	return c
}

// =============================================================================
// credit
// =============================================================================

func creditCommand(load loader) *cobra.Command {
	var (
		token  string
		amount int64
	)
	c := &cobra.Command{
		Use:   "credit <owner>",
		Short: "Credit an external balance in the mysql custody ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			if cfg.Custody.Backend != "mysql" {
				return errors.New("credit requires custody.backend=mysql")
			}
			if token == "" {
				token = cfg.Perp.CollateralToken
			}

			db, err := openMySQL(cfg.MySQL)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			ledger := custody.NewLedger(db, custody.DefaultVault)
			if err := ledger.Credit(c.Context(), token, args[0], amount); err != nil {
				return err
			}
			bal, err := ledger.Balance(c.Context(), token, args[0])
			if err != nil {
				return err
			}
			logger.Info("credited",
				zap.String("owner", args[0]),
				zap.String("token", token),
				zap.Int64("amount", amount),
				zap.Int64("balance", bal))
			return nil
		},
	}
	c.Flags().StringVar(&token, "token", "", "token id (defaults to perp.collateral_token)")
	c.Flags().Int64Var(&amount, "amount", 0, "amount in 6-decimal fixed point")
	return c
}
