package auth

import (
	"errors"
	"net/url"
	"testing"

	openid "github.com/yohcop/openid-go"
)

func okRedirect(id, callbackURL, realm string) (string, error) {
	return "https://provider.example/login?return_to=" + url.QueryEscape(callbackURL), nil
}

func TestNewHandshakeDiscoveryFailureDisablesLogin(t *testing.T) {
	handshake := NewHandshake(HandshakeConfig{
		ProviderURL: "https://provider.example/openid",
		RedirectURL: func(id, callbackURL, realm string) (string, error) {
			return "", errors.New("provider unreachable")
		},
	})

	if handshake.Ready() {
		t.Fatal("expected handshake to stay unavailable after failed discovery")
	}
	if _, ok := handshake.Login("https://widget.example/steam/login/callback"); ok {
		t.Error("expected login to be unavailable")
	}
	if _, ok := handshake.Verify("https://widget.example/steam/login/callback", url.Values{}); ok {
		t.Error("expected verification to be unavailable")
	}
}

func TestLoginReturnsProviderDestination(t *testing.T) {
	handshake := NewHandshake(HandshakeConfig{
		ProviderURL: "https://provider.example/openid",
		Realm:       "https://widget.example",
		RedirectURL: okRedirect,
	})
	if !handshake.Ready() {
		t.Fatal("expected handshake to be ready")
	}

	destination, ok := handshake.Login("https://widget.example/steam/login/callback")
	if !ok {
		t.Fatal("expected login destination")
	}
	want := "https://provider.example/login?return_to=" + url.QueryEscape("https://widget.example/steam/login/callback")
	if destination != want {
		t.Errorf("unexpected destination %q", destination)
	}
}

func TestVerifyExtractsCanonicalIdentity(t *testing.T) {
	var verifiedURL string
	handshake := NewHandshake(HandshakeConfig{
		ProviderURL: "https://provider.example/openid",
		RedirectURL: okRedirect,
		VerifyURL: func(uri string, cache openid.DiscoveryCache, nonces openid.NonceStore) (string, error) {
			verifiedURL = uri
			return "https://steamcommunity.com/openid/id/76561197960287930", nil
		},
	})

	params := url.Values{}
	params.Set("openid.mode", "id_res")
	id, ok := handshake.Verify("https://widget.example/steam/login/callback", params)
	if !ok {
		t.Fatal("expected verified identity")
	}
	if id != "76561197960287930" {
		t.Errorf("unexpected identity %q", id)
	}
	want := "https://widget.example/steam/login/callback?" + params.Encode()
	if verifiedURL != want {
		t.Errorf("expected callback parameters on verified url, got %q", verifiedURL)
	}
}

func TestVerifyFailureIsAbsent(t *testing.T) {
	handshake := NewHandshake(HandshakeConfig{
		ProviderURL: "https://provider.example/openid",
		RedirectURL: okRedirect,
		VerifyURL: func(uri string, cache openid.DiscoveryCache, nonces openid.NonceStore) (string, error) {
			return "", errors.New("signature mismatch")
		},
	})

	if _, ok := handshake.Verify("https://widget.example/steam/login/callback", url.Values{}); ok {
		t.Error("expected failed verification to yield absent")
	}
}

func TestVerifyRejectsNonNumericClaimedID(t *testing.T) {
	handshake := NewHandshake(HandshakeConfig{
		ProviderURL: "https://provider.example/openid",
		RedirectURL: okRedirect,
		VerifyURL: func(uri string, cache openid.DiscoveryCache, nonces openid.NonceStore) (string, error) {
			return "https://steamcommunity.com/openid/id/not-an-identity", nil
		},
	})

	if _, ok := handshake.Verify("https://widget.example/steam/login/callback", url.Values{}); ok {
		t.Error("expected claimed id without trailing digits to be rejected")
	}
}
