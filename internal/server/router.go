package server

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"image/png"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/steam-widget/internal/hits"
	"github.com/MarcoPoloResearchLab/steam-widget/internal/widget"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

//go:embed templates/widget.html
var templateFS embed.FS

const (
	loginCallbackPath  = "/steam/login/callback"
	widgetCacheControl = "max-age=60, must-revalidate"
	defaultGameList    = "none"
	defaultGameCount   = 5
)

var (
	errMissingWidgetService = errors.New("widget service dependency required")
	errMissingHitTracker    = errors.New("hit tracker dependency required")
	errMissingHandshake     = errors.New("login handshake dependency required")
	errMissingBaseURL       = errors.New("base url required")
)

// LoginHandshake is the delegated-login surface the router depends on.
type LoginHandshake interface {
	Login(callbackURL string) (string, bool)
	Verify(receivingURL string, params url.Values) (string, bool)
}

type Dependencies struct {
	WidgetService *widget.Service
	HitTracker    *hits.Tracker
	Handshake     LoginHandshake
	BaseURL       string
	HomeURL       string
	Logger        *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.WidgetService == nil {
		return nil, errMissingWidgetService
	}
	if deps.HitTracker == nil {
		return nil, errMissingHitTracker
	}
	if deps.Handshake == nil {
		return nil, errMissingHandshake
	}
	if deps.BaseURL == "" {
		return nil, errMissingBaseURL
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	homeURL := deps.HomeURL
	if homeURL == "" {
		homeURL = deps.BaseURL + "/"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	// widgets are embedded cross-origin, so reads are open to every origin
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	router.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/widget.html")))

	handler := &httpHandler{
		widgetService: deps.WidgetService,
		hitTracker:    deps.HitTracker,
		handshake:     deps.Handshake,
		baseURL:       deps.BaseURL,
		homeURL:       homeURL,
		logger:        logger,
	}

	router.GET("/metric", handler.handleMetricProfile)
	router.GET("/metric/hits", handler.handleMetricHits)
	router.GET("/widget/html", handler.handleWidgetHTML)
	router.GET("/widget/img", handler.handleWidgetImage)
	router.GET("/steam/login", handler.handleLogin)
	router.GET(loginCallbackPath, handler.handleLoginCallback)

	return router, nil
}

type httpHandler struct {
	widgetService *widget.Service
	hitTracker    *hits.Tracker
	handshake     LoginHandshake
	baseURL       string
	homeURL       string
	logger        *zap.Logger
}

func (h *httpHandler) handleMetricProfile(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	resolved, ok, err := h.widgetService.Resolve(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("identity resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upstream_failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	profile, err := h.hitTracker.GetProfile(resolved)
	if err != nil {
		h.logger.Error("profile lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failed"})
		return
	}
	if profile.Steam64ID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	c.JSON(http.StatusOK, profile)
}

func (h *httpHandler) handleMetricHits(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	purpose := c.DefaultQuery("purpose", hits.DefaultPurpose)

	resolved, ok, err := h.widgetService.Resolve(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("identity resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upstream_failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	count, err := h.hitTracker.CountHits(resolved, purpose)
	if err != nil {
		h.logger.Error("hit count failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_failed"})
		return
	}
	if count == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}

	c.JSON(http.StatusOK, count)
}

func (h *httpHandler) handleWidgetHTML(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	purpose := c.DefaultQuery("purpose", hits.DefaultPurpose)

	view, _, err := h.widgetService.ProfileView(c.Request.Context(), id, purpose, h.clientAddress(c))
	if err != nil {
		h.logger.Error("widget view failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upstream_failed"})
		return
	}

	c.HTML(http.StatusOK, "widget.html", view)
}

func (h *httpHandler) handleWidgetImage(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	request := widget.ImageRequest{
		ID: id,
		Spec: widget.RenderSpec{
			GameList:     widget.ParseGameListMode(c.DefaultQuery("gameList", defaultGameList)),
			GameListSize: intQuery(c, "gameListSize", defaultGameCount),
			ShowActivity: boolQuery(c, "playingRightNow", true),
			Width:        intQuery(c, "width", 0),
		},
		Purpose: c.DefaultQuery("purpose", hits.DefaultPurpose),
		Address: h.clientAddress(c),
	}

	img, err := h.widgetService.WidgetImage(c.Request.Context(), request)
	if err != nil {
		h.logger.Error("widget render failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "widget_failed"})
		return
	}

	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		h.logger.Error("widget encoding failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "widget_failed"})
		return
	}

	// keep caches from pinning a stale presence state
	c.Header("Cache-Control", widgetCacheControl)
	c.Data(http.StatusOK, "image/png", buffer.Bytes())
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	destination, ok := h.handshake.Login(h.baseURL + loginCallbackPath)
	if !ok {
		c.Redirect(http.StatusFound, h.homeURL)
		return
	}
	c.Redirect(http.StatusFound, destination)
}

func (h *httpHandler) handleLoginCallback(c *gin.Context) {
	id, ok := h.handshake.Verify(h.baseURL+loginCallbackPath, c.Request.URL.Query())
	if !ok {
		c.Redirect(http.StatusFound, h.homeURL)
		return
	}
	c.Redirect(http.StatusFound, h.homeURL+"?steamId="+url.QueryEscape(id))
}

// clientAddress prefers the forwarded header so hits recorded behind a proxy
// carry the caller's address.
func (h *httpHandler) clientAddress(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return c.ClientIP()
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func boolQuery(c *gin.Context, name string, fallback bool) bool {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
