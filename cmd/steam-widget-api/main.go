package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/steam-widget/internal/auth"
	"github.com/MarcoPoloResearchLab/steam-widget/internal/config"
	"github.com/MarcoPoloResearchLab/steam-widget/internal/database"
	"github.com/MarcoPoloResearchLab/steam-widget/internal/hits"
	"github.com/MarcoPoloResearchLab/steam-widget/internal/logging"
	"github.com/MarcoPoloResearchLab/steam-widget/internal/server"
	"github.com/MarcoPoloResearchLab/steam-widget/internal/steam"
	"github.com/MarcoPoloResearchLab/steam-widget/internal/widget"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "steam-widget-api",
		Short: "Steam profile widget backend service",
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
	cmd.PersistentFlags().String("steam-api-key", "", "Steam Web API key (overrides env)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("base-url", defaults.GetString("server.base_url"), "Public base URL of this service")
	cmd.PersistentFlags().String("home-url", defaults.GetString("server.home_url"), "Redirect target after login")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "steam.api_key", "steam-api-key")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "server.base_url", "base-url")
	bindFlag(cmd, "server.home_url", "home-url")
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

	steamClient, err := steam.NewClient(steam.ClientConfig{
		APIKey: appConfig.SteamAPIKey,
	})
	if err != nil {
		return err
	}

	assets := widget.NewAssetLoader(widget.AssetLoaderConfig{
		LogoURL: appConfig.LogoURL,
		Timeout: time.Duration(appConfig.AssetTimeoutSecs) * time.Second,
		Logger:  logger,
	})

	renderer, err := widget.NewRenderer(widget.RendererConfig{
		Assets:  assets,
		IconURL: steamClient.GameIconURL,
	})
	if err != nil {
		return err
	}

	tracker, err := hits.NewTracker(hits.TrackerConfig{
		Database:  db,
		Logger:    logger,
		QueueSize: appConfig.HitQueueSize,
	})
	if err != nil {
		return err
	}
	defer tracker.Close()

	widgetService, err := widget.NewService(widget.ServiceConfig{
		Gateway:  steamClient,
		Tracker:  tracker,
		Renderer: renderer,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handshake := auth.NewHandshake(auth.HandshakeConfig{
		ProviderURL: appConfig.OpenIDProvider,
		Realm:       appConfig.BaseURL,
		CallbackURL: appConfig.BaseURL + "/steam/login/callback",
		Logger:      logger,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		WidgetService: widgetService,
		HitTracker:    tracker,
		Handshake:     handshake,
		BaseURL:       appConfig.BaseURL,
		HomeURL:       appConfig.HomeURL,
		Logger:        logger,
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
