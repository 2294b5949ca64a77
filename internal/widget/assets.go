package widget

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultAssetTimeout = 10 * time.Second

// AssetLoaderConfig bundles configuration for remote image loading.
type AssetLoaderConfig struct {
	LogoURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *zap.Logger
}

// AssetLoader fetches remote images (avatars, game icons, the provider logo)
// for the renderer. Every failure degrades to a transparent placeholder; a
// missing asset must never abort a render.
type AssetLoader struct {
	httpClient *http.Client
	logger     *zap.Logger
	logoURL    string

	logoMu sync.Mutex
	logo   image.Image
}

// NewAssetLoader constructs an AssetLoader. A zero Timeout falls back to 10s;
// slow fetches past that deadline count as failures.
func NewAssetLoader(cfg AssetLoaderConfig) *AssetLoader {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultAssetTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &AssetLoader{
		httpClient: httpClient,
		logger:     logger,
		logoURL:    cfg.LogoURL,
	}
}

// Fetch loads and decodes a remote image, returning nil on any failure.
func (l *AssetLoader) Fetch(ctx context.Context, rawURL string) image.Image {
	if rawURL == "" {
		return nil
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		l.logger.Debug("asset request invalid", zap.String("url", rawURL), zap.Error(err))
		return nil
	}

	response, err := l.httpClient.Do(request)
	if err != nil {
		l.logger.Debug("asset fetch failed", zap.String("url", rawURL), zap.Error(err))
		return nil
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		l.logger.Debug("asset fetch returned non-ok status",
			zap.String("url", rawURL),
			zap.Int("status", response.StatusCode))
		return nil
	}

	img, _, err := image.Decode(response.Body)
	if err != nil {
		l.logger.Debug("asset decode failed", zap.String("url", rawURL), zap.Error(err))
		return nil
	}
	return img
}

// Logo returns the provider logo, cached after the first successful fetch.
// Failed fetches are retried on the next render.
func (l *AssetLoader) Logo(ctx context.Context) image.Image {
	if l.logoURL == "" {
		return nil
	}

	l.logoMu.Lock()
	defer l.logoMu.Unlock()

	if l.logo == nil {
		l.logo = l.Fetch(ctx, l.logoURL)
	}
	return l.logo
}
