package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "STEAMWIDGET"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "steam-widget.db"
	defaultLogLevel       = "info"
	defaultOpenIDProvider = "https://steamcommunity.com/openid"
	defaultLogoURL        = "https://store.cloudflare.steamstatic.com/public/shared/images/header/logo_steam.png"
	defaultHitQueueSize   = 256
	defaultAssetTimeout   = 10
)

// AppConfig captures runtime configuration for the widget API server.
type AppConfig struct {
	HTTPAddress      string
	SteamAPIKey      string
	DatabasePath     string
	LogLevel         string
	BaseURL          string
	HomeURL          string
	OpenIDProvider   string
	LogoURL          string
	HitQueueSize     int
	AssetTimeoutSecs int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("openid.provider", defaultOpenIDProvider)
	configViper.SetDefault("widget.logo_url", defaultLogoURL)
	configViper.SetDefault("hits.queue_size", defaultHitQueueSize)
	configViper.SetDefault("widget.asset_timeout_s", defaultAssetTimeout)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		SteamAPIKey:      configViper.GetString("steam.api_key"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		BaseURL:          strings.TrimRight(configViper.GetString("server.base_url"), "/"),
		HomeURL:          configViper.GetString("server.home_url"),
		OpenIDProvider:   configViper.GetString("openid.provider"),
		LogoURL:          configViper.GetString("widget.logo_url"),
		HitQueueSize:     configViper.GetInt("hits.queue_size"),
		AssetTimeoutSecs: configViper.GetInt("widget.asset_timeout_s"),
	}

	if cfg.HomeURL == "" {
		cfg.HomeURL = cfg.BaseURL + "/"
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SteamAPIKey) == "" {
		return fmt.Errorf("steam.api_key is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if strings.TrimSpace(c.OpenIDProvider) == "" {
		return fmt.Errorf("openid.provider is required")
	}
	return nil
}
