package auth

import (
	"net/url"
	"regexp"

	openid "github.com/yohcop/openid-go"
	"go.uber.org/zap"
)

// Claimed ids look like https://steamcommunity.com/openid/id/76561197960435530.
var claimedIDPattern = regexp.MustCompile(`(\d+)$`)

// HandshakeConfig bundles configuration required to instantiate a Handshake.
type HandshakeConfig struct {
	ProviderURL string
	Realm       string
	CallbackURL string
	Logger      *zap.Logger

	// RedirectURL and VerifyURL default to the openid-go implementations;
	// tests substitute fakes.
	RedirectURL func(id, callbackURL, realm string) (string, error)
	VerifyURL   func(uri string, cache openid.DiscoveryCache, nonces openid.NonceStore) (string, error)
}

// Handshake holds the relying-party state for the provider login flow. All
// fields are immutable after construction, so concurrent Login and Verify
// calls share the discovery state safely.
type Handshake struct {
	providerURL string
	realm       string
	ready       bool
	redirectURL func(id, callbackURL, realm string) (string, error)
	verifyURL   func(uri string, cache openid.DiscoveryCache, nonces openid.NonceStore) (string, error)
	cache       openid.DiscoveryCache
	nonces      openid.NonceStore
	logger      *zap.Logger
}

// NewHandshake probes provider discovery once. When the probe fails the
// handshake stays unavailable for the process lifetime: every Login and
// Verify call returns absent until a restart, and no retry is attempted.
func NewHandshake(cfg HandshakeConfig) *Handshake {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	redirectURL := cfg.RedirectURL
	if redirectURL == nil {
		redirectURL = openid.RedirectURL
	}
	verifyURL := cfg.VerifyURL
	if verifyURL == nil {
		verifyURL = openid.Verify
	}

	handshake := &Handshake{
		providerURL: cfg.ProviderURL,
		realm:       cfg.Realm,
		redirectURL: redirectURL,
		verifyURL:   verifyURL,
		cache:       openid.NewSimpleDiscoveryCache(),
		nonces:      openid.NewSimpleNonceStore(),
		logger:      logger,
	}

	if _, err := redirectURL(cfg.ProviderURL, cfg.CallbackURL, cfg.Realm); err != nil {
		logger.Error("openid discovery failed, login stays disabled",
			zap.String("provider", cfg.ProviderURL),
			zap.Error(err))
		return handshake
	}

	handshake.ready = true
	logger.Info("openid discovery established", zap.String("provider", cfg.ProviderURL))
	return handshake
}

// Ready reports whether discovery succeeded at startup.
func (h *Handshake) Ready() bool {
	return h.ready
}

// Login builds the provider login URL the user should be redirected to.
// Returns false when the handshake is unavailable or the request cannot be
// built.
func (h *Handshake) Login(callbackURL string) (string, bool) {
	if !h.ready {
		return "", false
	}

	destination, err := h.redirectURL(h.providerURL, callbackURL, h.realm)
	if err != nil {
		h.logger.Warn("failed to build login url", zap.Error(err))
		return "", false
	}
	return destination, true
}

// Verify validates the provider's callback response and extracts the
// canonical identity from the claimed id. Signature and binding checks are
// delegated to the protocol library. Any validation or parse failure yields
// absent; verification never surfaces an error to the caller.
func (h *Handshake) Verify(receivingURL string, params url.Values) (string, bool) {
	if !h.ready {
		return "", false
	}

	fullURL := receivingURL
	if encoded := params.Encode(); encoded != "" {
		fullURL = receivingURL + "?" + encoded
	}

	claimedID, err := h.verifyURL(fullURL, h.cache, h.nonces)
	if err != nil {
		h.logger.Warn("login verification failed", zap.Error(err))
		return "", false
	}

	match := claimedIDPattern.FindString(claimedID)
	if match == "" {
		return "", false
	}
	return match, true
}
