package steam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	defaultBaseURL     = "https://api.steampowered.com"
	defaultIconBaseURL = "https://media.steampowered.com/steamcommunity/public/images/apps"
	defaultTimeout     = 15 * time.Second

	vanityResolveSuccess = 1
)

var (
	// ErrNoMatch indicates the provider reported no account for the input.
	// Callers must treat this as "not found", not as an upstream failure.
	ErrNoMatch = errors.New("steam: no matching account")

	errMissingAPIKey = errors.New("steam: api key is required")
)

// ClientConfig bundles configuration required to instantiate a Client.
type ClientConfig struct {
	APIKey      string
	BaseURL     string
	IconBaseURL string
	HTTPClient  *http.Client
}

// Client talks to the Steam Web API. It performs a single attempt per call;
// retrying is left to the caller.
type Client struct {
	apiKey      string
	baseURL     string
	iconBaseURL string
	httpClient  *http.Client
}

// NewClient constructs a Client with validated configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errMissingAPIKey
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	iconBaseURL := strings.TrimRight(cfg.IconBaseURL, "/")
	if iconBaseURL == "" {
		iconBaseURL = defaultIconBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}

	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		iconBaseURL: iconBaseURL,
		httpClient:  httpClient,
	}, nil
}

// PlayerSummary is one entry of an ISteamUser/GetPlayerSummaries response.
type PlayerSummary struct {
	SteamID       string `json:"steamid"`
	PersonaName   string `json:"personaname"`
	ProfileURL    string `json:"profileurl"`
	Avatar        string `json:"avatar"`
	AvatarMedium  string `json:"avatarmedium"`
	AvatarFull    string `json:"avatarfull"`
	PersonaState  int    `json:"personastate"`
	GameExtraInfo string `json:"gameextrainfo"`
}

// Playing reports whether the account is currently in a game.
func (p PlayerSummary) Playing() bool {
	return p.GameExtraInfo != ""
}

// Game is one entry of an IPlayerService/GetRecentlyPlayedGames response.
type Game struct {
	AppID           int64  `json:"appid"`
	Name            string `json:"name"`
	Playtime2Weeks  int64  `json:"playtime_2weeks"`
	PlaytimeForever int64  `json:"playtime_forever"`
	IconHash        string `json:"img_icon_url"`
	LogoHash        string `json:"img_logo_url"`
}

// GetPlayerSummaries fetches profile summaries for the given canonical ids.
func (c *Client) GetPlayerSummaries(ctx context.Context, ids []string) ([]PlayerSummary, error) {
	query := url.Values{}
	query.Set("steamids", strings.Join(ids, ","))

	var payload struct {
		Response struct {
			Players []PlayerSummary `json:"players"`
		} `json:"response"`
	}
	if err := c.getJSON(ctx, "/ISteamUser/GetPlayerSummaries/v2/", query, &payload); err != nil {
		return nil, err
	}
	return payload.Response.Players, nil
}

// GetRecentlyPlayedGames fetches the two-week game list for the given id,
// sorted descending by recent playtime. The sort is stable so ties keep the
// provider's order.
func (c *Client) GetRecentlyPlayedGames(ctx context.Context, id string) ([]Game, error) {
	query := url.Values{}
	query.Set("steamid", id)

	var payload struct {
		Response struct {
			Games []Game `json:"games"`
		} `json:"response"`
	}
	if err := c.getJSON(ctx, "/IPlayerService/GetRecentlyPlayedGames/v1/", query, &payload); err != nil {
		return nil, err
	}

	games := payload.Response.Games
	sort.SliceStable(games, func(i, j int) bool {
		return games[i].Playtime2Weeks > games[j].Playtime2Weeks
	})
	return games, nil
}

// ResolveVanityURL maps a vanity name to its canonical id. Returns ErrNoMatch
// when the provider knows no such account.
func (c *Client) ResolveVanityURL(ctx context.Context, name string) (string, error) {
	query := url.Values{}
	query.Set("vanityurl", name)

	var payload struct {
		Response struct {
			Success int    `json:"success"`
			SteamID string `json:"steamid"`
		} `json:"response"`
	}
	if err := c.getJSON(ctx, "/ISteamUser/ResolveVanityURL/v1/", query, &payload); err != nil {
		return "", err
	}
	if payload.Response.Success != vanityResolveSuccess || payload.Response.SteamID == "" {
		return "", ErrNoMatch
	}
	return payload.Response.SteamID, nil
}

// GameIconURL builds the community CDN address of a game's icon, falling back
// to the logo hash when the icon hash is empty.
func (c *Client) GameIconURL(game Game) string {
	hash := game.IconHash
	if hash == "" {
		hash = game.LogoHash
	}
	return fmt.Sprintf("%s/%d/%s.jpg", c.iconBaseURL, game.AppID, hash)
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, target interface{}) error {
	query.Set("key", c.apiKey)
	endpoint := c.baseURL + path + "?" + query.Encode()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("steam: request %s failed: %w", path, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("steam: %s returned status %d", path, response.StatusCode)
	}

	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("steam: decoding %s response failed: %w", path, err)
	}
	return nil
}
