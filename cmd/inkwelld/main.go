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

	"github.com/inkwell-notes/inkwell/internal/config"
	"github.com/inkwell-notes/inkwell/internal/database"
	"github.com/inkwell-notes/inkwell/internal/exchange"
	"github.com/inkwell-notes/inkwell/internal/logging"
	"github.com/inkwell-notes/inkwell/internal/records"
	"github.com/inkwell-notes/inkwell/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "inkwelld",
		Short: "Inkwell note sync server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync exchange against a remote server using the local database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncOnce(cmd.Context())
		},
	}
	rootCmd.AddCommand(syncCmd)

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := viper.GetViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("sync-key", "", "Shared sync secret (overrides env)")
	cmd.PersistentFlags().String("server-url", defaults.GetString("sync.server_url"), "Remote server URL for the sync command")
	cmd.PersistentFlags().String("version-mode", defaults.GetString("store.version_mode"), "Merge version semantics (compat, strict)")
	cmd.PersistentFlags().Bool("serialize-writes", defaults.GetBool("store.serialize_writes"), "Serialize concurrent writes per record id")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "sync.key", "sync-key")
	bindFlag(cmd, "sync.server_url", "server-url")
	bindFlag(cmd, "store.version_mode", "version-mode")
	bindFlag(cmd, "store.serialize_writes", "serialize-writes")
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
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func buildStore(appConfig config.AppConfig, logger *zap.Logger) (*records.Store, func() error, error) {
	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}

	store, err := records.NewStore(records.StoreConfig{
		Database:        db,
		Clock:           time.Now,
		IDProvider:      records.NewUUIDProvider(),
		Logger:          logger,
		VersionMode:     appConfig.VersionMode,
		SerializeWrites: appConfig.SerializeWrites,
	})
	if err != nil {
		sqlDB.Close() //nolint:errcheck
		return nil, nil, err
	}

	return store, sqlDB.Close, nil
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

	store, closeDB, err := buildStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeDB() //nolint:errcheck

	exchangeService, err := exchange.NewService(exchange.ServiceConfig{
		Store:  store,
		Clock:  time.Now,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Exchange: exchangeService,
		SyncKey:  appConfig.SyncKey,
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runSyncOnce(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if appConfig.SyncServerURL == "" {
		return errors.New("sync.server_url is required for the sync command")
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	store, closeDB, err := buildStore(appConfig, logger)
	if err != nil {
		return err
	}
	defer closeDB() //nolint:errcheck

	client, err := exchange.NewClient(exchange.ClientConfig{
		ServerURL: appConfig.SyncServerURL,
		SyncKey:   appConfig.SyncKey,
		Store:     store,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	outcome, err := client.SyncOnce(ctx)
	if err != nil {
		return err
	}

	logger.Info("sync finished",
		zap.Int("pushed", outcome.Pushed),
		zap.Int("received", outcome.Received),
		zap.Int("applied", outcome.Applied),
		zap.Int64("server_time", outcome.ServerTime))
	return nil
}
