package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/plumeworks/plume/backend/internal/auth"
	"github.com/plumeworks/plume/backend/internal/autosave"
	"github.com/plumeworks/plume/backend/internal/config"
	"github.com/plumeworks/plume/backend/internal/database"
	"github.com/plumeworks/plume/backend/internal/drafts"
	"github.com/plumeworks/plume/backend/internal/logging"
	"github.com/plumeworks/plume/backend/internal/relay"
	"github.com/plumeworks/plume/backend/internal/server"
	"github.com/plumeworks/plume/backend/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "plume-api",
		Short: "Plume drafts backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Access token signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("identity-audience", defaults.GetString("identity.audience"), "Identity provider audience")
	cmd.PersistentFlags().String("identity-jwks-url", defaults.GetString("identity.jwks_url"), "Identity provider JWKS URL")
	cmd.PersistentFlags().StringSlice("identity-issuers", defaults.GetStringSlice("identity.issuers"), "Allowed identity token issuers")
	cmd.PersistentFlags().Int("autosave-debounce-ms", defaults.GetInt("autosave.debounce_ms"), "Autosave quiescence window in milliseconds")
	cmd.PersistentFlags().Int("autosave-save-timeout-ms", defaults.GetInt("autosave.save_timeout_ms"), "Autosave store timeout in milliseconds")
	cmd.PersistentFlags().Int("autosave-retry-backoff-ms", defaults.GetInt("autosave.retry_backoff_ms"), "Autosave retry backoff in milliseconds")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "identity.audience", "identity-audience")
	bindFlag(cmd, "identity.jwks_url", "identity-jwks-url")
	bindFlag(cmd, "identity.issuers", "identity-issuers")
	bindFlag(cmd, "autosave.debounce_ms", "autosave-debounce-ms")
	bindFlag(cmd, "autosave.save_timeout_ms", "autosave-save-timeout-ms")
	bindFlag(cmd, "autosave.retry_backoff_ms", "autosave-retry-backoff-ms")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger("plume-api", appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        "plume-auth",
		Audience:      "plume-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	identityVerifier, err := auth.NewOIDCVerifier(auth.OIDCVerifierConfig{
		Audience:       appConfig.IdentityAudience,
		JWKSURL:        appConfig.IdentityJWKSURL,
		AllowedIssuers: appConfig.IdentityIssuers,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	identityService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	draftsService, err := drafts.NewService(drafts.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: drafts.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	autosaveManager, err := autosave.NewManager(autosave.ManagerConfig{
		Saver:        draftsService,
		Quiescence:   appConfig.AutosaveDebounce,
		SaveTimeout:  appConfig.AutosaveSaveTimeout,
		RetryBackoff: appConfig.AutosaveRetryBackoff,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer autosaveManager.CloseAll()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		IdentityVerifier: identityVerifier,
		TokenManager:     tokenManager,
		Identities:       identityService,
		DraftsService:    draftsService,
		Autosave:         autosaveManager,
		Relay:            relay.NewDispatcher(),
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
