package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gonotes/collabd/internal/auth"
	"github.com/gonotes/collabd/internal/bootstrap"
	"github.com/gonotes/collabd/internal/collab"
	"github.com/gonotes/collabd/internal/config"
	"github.com/gonotes/collabd/internal/crdt"
	"github.com/gonotes/collabd/internal/database"
	"github.com/gonotes/collabd/internal/logging"
	"github.com/gonotes/collabd/internal/server"
	"github.com/gonotes/collabd/internal/storage"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "collabd",
		Short: "Real-time collaborative document service",
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
	cmd.PersistentFlags().String("auth-endpoint", defaults.GetString("auth.endpoint"), "Token validation endpoint of the auth service")
	cmd.PersistentFlags().Int("auth-timeout-seconds", defaults.GetInt("auth.timeout_seconds"), "Token validation timeout in seconds")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("flush-quiet-seconds", defaults.GetInt("flush.quiet_seconds"), "Quiet period before a dirty document is persisted")
	cmd.PersistentFlags().Int("flush-max-interval-seconds", defaults.GetInt("flush.max_interval_seconds"), "Upper bound on persistence deferral under sustained editing")
	cmd.PersistentFlags().Int("idle-eviction-seconds", defaults.GetInt("room.idle_eviction_seconds"), "How long an empty room stays in memory")
	cmd.PersistentFlags().Int("shutdown-grace-seconds", defaults.GetInt("shutdown.grace_seconds"), "Grace period for draining rooms on shutdown")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "auth.endpoint", "auth-endpoint")
	bindFlag(cmd, "auth.timeout_seconds", "auth-timeout-seconds")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "flush.quiet_seconds", "flush-quiet-seconds")
	bindFlag(cmd, "flush.max_interval_seconds", "flush-max-interval-seconds")
	bindFlag(cmd, "room.idle_eviction_seconds", "idle-eviction-seconds")
	bindFlag(cmd, "shutdown.grace_seconds", "shutdown-grace-seconds")
	bindFlag(cmd, "log.level", "log-level")
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

	store, err := storage.NewStore(storage.StoreConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	engine := crdt.NewUpdateSetEngine()

	registry, err := collab.NewRegistry(collab.RegistryConfig{
		Store:             store,
		Engine:            engine,
		FlushQuietPeriod:  appConfig.FlushQuietPeriod,
		FlushMaxInterval:  appConfig.FlushMaxInterval,
		IdleEvictionDelay: appConfig.IdleEvictionDelay,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	gate, err := auth.NewGate(auth.GateConfig{
		AuthorityURL: appConfig.AuthEndpoint,
		Timeout:      appConfig.AuthTimeout,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	seeder, err := bootstrap.NewSeeder(bootstrap.SeederConfig{
		Store:  store,
		Engine: engine,
		Rooms:  registry,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Gate:     gate,
		Registry: registry,
		Seeder:   seeder,
		Logger:   logger,
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.ShutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", zap.Error(err))
		}
		// Rooms flush their dirty documents before the process exits.
		return registry.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
