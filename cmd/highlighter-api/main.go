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

	"github.com/MarcoPoloResearchLab/highlighter/internal/auth"
	"github.com/MarcoPoloResearchLab/highlighter/internal/config"
	"github.com/MarcoPoloResearchLab/highlighter/internal/database"
	"github.com/MarcoPoloResearchLab/highlighter/internal/highlights"
	"github.com/MarcoPoloResearchLab/highlighter/internal/logging"
	"github.com/MarcoPoloResearchLab/highlighter/internal/pages"
	"github.com/MarcoPoloResearchLab/highlighter/internal/server"
	"github.com/MarcoPoloResearchLab/highlighter/internal/session"
	"github.com/MarcoPoloResearchLab/highlighter/internal/users"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "highlighter-api",
		Short: "Highlight anchoring and document session service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newListCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-address", defaults.GetString(config.KeyHTTPAddress), "HTTP listen address")
	flags.String("database-path", defaults.GetString(config.KeyDatabasePath), "SQLite database path")
	flags.String("log-level", defaults.GetString(config.KeyLogLevel), "Log level (debug, info, warn, error)")
	flags.String("signing-secret", "", "TAuth session signing secret (overrides env)")
	flags.String("cookie-name", defaults.GetString(config.KeyCookieName), "Session cookie name")
	flags.String("issuer", defaults.GetString(config.KeyIssuer), "Expected session token issuer")
	flags.Duration("autosave-interval", defaults.GetDuration(config.KeyAutosaveInterval), "Debounce delay before highlights are written")
	flags.Int("max-highlights", defaults.GetInt(config.KeyMaxHighlights), "Highlights allowed per page (0 is unlimited)")
	flags.Bool("sanitize", defaults.GetBool(config.KeySanitize), "Sanitize opened documents")
	flags.Float64("rate-per-second", defaults.GetFloat64(config.KeyRatePerSecond), "Requests per second allowed per user (0 disables limiting)")
	flags.Int("rate-burst", defaults.GetInt(config.KeyRateBurst), "Request burst allowed per user")

	bindFlag(cmd, config.KeyHTTPAddress, "http-address")
	bindFlag(cmd, config.KeyDatabasePath, "database-path")
	bindFlag(cmd, config.KeyLogLevel, "log-level")
	bindFlag(cmd, config.KeySigningSecret, "signing-secret")
	bindFlag(cmd, config.KeyCookieName, "cookie-name")
	bindFlag(cmd, config.KeyIssuer, "issuer")
	bindFlag(cmd, config.KeyAutosaveInterval, "autosave-interval")
	bindFlag(cmd, config.KeyMaxHighlights, "max-highlights")
	bindFlag(cmd, config.KeySanitize, "sanitize")
	bindFlag(cmd, config.KeyRatePerSecond, "rate-per-second")
	bindFlag(cmd, config.KeyRateBurst, "rate-burst")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile == "" {
		return nil
	}
	viper.SetConfigFile(cfgFile)
	return viper.ReadInConfig()
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
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

	repository, err := pages.NewRepository(pages.RepositoryConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.TAuthSigningKey),
		Issuer:        appConfig.TAuthIssuer,
		CookieName:    appConfig.TAuthCookieName,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	dispatcher := server.NewRealtimeDispatcher()
	sessions, err := session.NewManager(session.ManagerConfig{
		Persistence: func(userID, pageURL string) highlights.Persistence {
			return repository.Scope(userID, pageURL)
		},
		Publisher:     dispatcher.SessionPublisher(),
		Logger:        logger,
		Clock:         time.Now,
		SaveDelay:     appConfig.AutosaveInterval,
		MaxHighlights: appConfig.MaxHighlights,
		Sanitize:      appConfig.SanitizeDocument,
	})
	if err != nil {
		return err
	}
	defer sessions.CloseAll()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		SessionValidator: validator,
		Users:            userService,
		Sessions:         sessions,
		Pages:            repository,
		Realtime:         dispatcher,
		RateLimit: server.RateLimitConfig{
			PerSecond: appConfig.RatePerSecond,
			Burst:     appConfig.RateBurst,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
