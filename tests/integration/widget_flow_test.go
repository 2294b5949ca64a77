package integration

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/steam-widget/internal/auth"
	"github.com/MarcoPoloResearchLab/steam-widget/internal/database"
	"github.com/MarcoPoloResearchLab/steam-widget/internal/hits"
	"github.com/MarcoPoloResearchLab/steam-widget/internal/server"
	"github.com/MarcoPoloResearchLab/steam-widget/internal/steam"
	"github.com/MarcoPoloResearchLab/steam-widget/internal/widget"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const knownID = "76561197960287930"

// pngBytes renders a solid square so the upstream stub can serve decodable
// avatars and icons.
func pngBytes(t *testing.T, fill color.RGBA, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, fill)
		}
	}
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		t.Fatalf("failed to encode fixture image: %v", err)
	}
	return buffer.Bytes()
}

// newUpstream serves the slice of the Steam Web API the service consumes,
// including the image assets the renderer fetches.
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	var upstreamURL string

	mux.HandleFunc("/ISteamUser/ResolveVanityURL/v1/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("vanityurl") == "rabscuttle" {
			fmt.Fprintf(w, `{"response":{"success":1,"steamid":"%s"}}`, knownID)
			return
		}
		fmt.Fprint(w, `{"response":{"success":42,"message":"No match"}}`)
	})
	mux.HandleFunc("/ISteamUser/GetPlayerSummaries/v2/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"response":{"players":[{
			"steamid":"%s",
			"personaname":"Rabscuttle",
			"profileurl":"https://steamcommunity.com/id/rabscuttle/",
			"avatarfull":"%s/assets/avatar.png",
			"personastate":1,
			"gameextrainfo":"Half-Life 3"
		}]}}`, knownID, upstreamURL)
	})
	mux.HandleFunc("/IPlayerService/GetRecentlyPlayedGames/v1/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response":{"total_count":2,"games":[
			{"appid":10,"name":"Low Rotation","playtime_2weeks":30,"playtime_forever":100,"img_icon_url":"aaaa"},
			{"appid":20,"name":"Heavy Rotation","playtime_2weeks":500,"playtime_forever":900,"img_icon_url":"bbbb"}
		]}}`)
	})

	avatar := pngBytes(t, color.RGBA{R: 0x33, G: 0x66, B: 0x99, A: 0xff}, 64)
	mux.HandleFunc("/assets/avatar.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(avatar) //nolint:errcheck
	})
	icon := pngBytes(t, color.RGBA{R: 0x99, G: 0x33, B: 0x33, A: 0xff}, 32)
	mux.HandleFunc("/icons/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(icon) //nolint:errcheck
	})

	upstream := httptest.NewServer(mux)
	upstreamURL = upstream.URL
	t.Cleanup(upstream.Close)
	return upstream
}

type stack struct {
	handler http.Handler
	tracker *hits.Tracker
}

func newStack(t *testing.T, upstream *httptest.Server) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "widget.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	steamClient, err := steam.NewClient(steam.ClientConfig{
		APIKey:      "test-key",
		BaseURL:     upstream.URL,
		IconBaseURL: upstream.URL + "/icons",
	})
	if err != nil {
		t.Fatalf("failed to create steam client: %v", err)
	}

	renderer, err := widget.NewRenderer(widget.RendererConfig{
		Assets:  widget.NewAssetLoader(widget.AssetLoaderConfig{}),
		IconURL: steamClient.GameIconURL,
	})
	if err != nil {
		t.Fatalf("failed to create renderer: %v", err)
	}

	tracker, err := hits.NewTracker(hits.TrackerConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create tracker: %v", err)
	}
	t.Cleanup(tracker.Close)

	service, err := widget.NewService(widget.ServiceConfig{
		Gateway:  steamClient,
		Tracker:  tracker,
		Renderer: renderer,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	handshake := auth.NewHandshake(auth.HandshakeConfig{
		ProviderURL: "https://provider.example/openid",
		Realm:       "https://widget.example",
		CallbackURL: "https://widget.example/steam/login/callback",
		RedirectURL: func(id, callbackURL, realm string) (string, error) {
			return "https://provider.example/login", nil
		},
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		WidgetService: service,
		HitTracker:    tracker,
		Handshake:     handshake,
		BaseURL:       "https://widget.example",
	})
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}

	return &stack{handler: handler, tracker: tracker}
}

func (s *stack) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
	return recorder
}

func (s *stack) waitForHits(t *testing.T, purpose string, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		count, err := s.tracker.CountHits(knownID, purpose)
		if err != nil {
			t.Fatalf("failed to count hits: %v", err)
		}
		if count >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("hit count never reached %d", want)
}

func TestWidgetFlowVanityNameToImageAndMetrics(t *testing.T) {
	stack := newStack(t, newUpstream(t))

	recorder := stack.get(t, "/widget/img?id=rabscuttle&gameList=recent&gameListSize=2&purpose=generator")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	img, err := png.Decode(recorder.Body)
	if err != nil {
		t.Fatalf("response is not a png: %v", err)
	}
	if got, want := img.Bounds().Dy(), 750+2*500; got != want {
		t.Errorf("expected two game rows (height %d), got %d", want, got)
	}

	// hit recording is asynchronous; the response never waits on it
	stack.waitForHits(t, "generator", 1)

	metric := stack.get(t, "/metric?id=rabscuttle")
	if metric.Code != http.StatusOK {
		t.Fatalf("expected 200 from metric, got %d: %s", metric.Code, metric.Body.String())
	}
	if body := metric.Body.String(); !strings.Contains(body, `"name":"Rabscuttle"`) {
		t.Errorf("expected persona name in metric body, got %s", body)
	}

	counted := stack.get(t, "/metric/hits?id="+knownID+"&purpose=generator")
	if counted.Code != http.StatusOK {
		t.Fatalf("expected 200 from hit count, got %d", counted.Code)
	}
	if got := strings.TrimSpace(counted.Body.String()); got != "1" {
		t.Errorf("expected one recorded hit, got %s", got)
	}
}

func TestWidgetFlowUnknownVanityNameRendersBareFrame(t *testing.T) {
	stack := newStack(t, newUpstream(t))

	recorder := stack.get(t, "/widget/img?id=nobody")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	img, err := png.Decode(recorder.Body)
	if err != nil {
		t.Fatalf("response is not a png: %v", err)
	}
	if img.Bounds().Dx() != 3500 || img.Bounds().Dy() != 750 {
		t.Errorf("expected bare base frame, got %v", img.Bounds())
	}

	if metric := stack.get(t, "/metric?id=nobody"); metric.Code != http.StatusNotFound {
		t.Errorf("expected 404 from metric for unknown identity, got %d", metric.Code)
	}
}

func TestWidgetFlowLoginRoundTrip(t *testing.T) {
	stack := newStack(t, newUpstream(t))

	recorder := stack.get(t, "/steam/login")
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Location"); got != "https://provider.example/login" {
		t.Errorf("expected provider redirect, got %q", got)
	}
}
