package widget

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/MarcoPoloResearchLab/steam-widget/internal/steam"
	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
)

// Layout constants form the widget's pixel-space contract. Embedders size
// their pages around the produced bitmap, so these values must stay put.
const (
	canvasWidth   = 3500
	baseHeight    = 750
	gameRowHeight = 500

	frameCornerRadius     = 50
	separatorCornerRadius = 5

	logoX      = canvasWidth - 500
	logoY      = 100
	logoWidth  = 400
	logoHeight = 120

	avatarX    = 125
	avatarY    = 125
	avatarSize = 500

	nameFontSize      = 200
	activityFontSize  = 150
	gameTitleFontSize = 100
	playtimeFontSize  = 75

	textX                    = 725
	nameBaselineWithActivity = 350
	nameBaselineCentered     = 450
	activityBaseline         = 550

	dotCenterX = 3400
	dotCenterY = 650
	dotRadius  = 50

	separatorX      = 25
	separatorY      = 745
	separatorHeight = 10

	gameIconX        = 225
	gameIconSize     = 300
	gameIconOffsetY  = 100
	gameTitleOffsetY = 250
	playtimeOffsetY  = 350
	recentPlaytimeX  = 1725
)

const (
	personaStateOnline = 1
	personaStateBusy   = 2
	personaStateAway   = 3
)

var (
	backgroundColor  = color.RGBA{R: 0x17, G: 0x1d, B: 0x25, A: 0xff}
	borderColor      = color.RGBA{R: 0x1b, G: 0x28, B: 0x38, A: 0xff}
	textPrimaryColor = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	textMutedColor   = color.RGBA{R: 0xc7, G: 0xd5, B: 0xe0, A: 0xff}

	stateInGameColor  = color.RGBA{R: 0x00, G: 0xff, B: 0x00, A: 0xff}
	stateBusyColor    = color.RGBA{R: 0xff, G: 0x00, B: 0x00, A: 0xff}
	stateAwayColor    = color.RGBA{R: 0xff, G: 0xff, B: 0x00, A: 0xff}
	stateOnlineColor  = color.RGBA{R: 0x00, G: 0xb7, B: 0xff, A: 0xff}
	stateOfflineColor = color.RGBA{R: 0x89, G: 0x89, B: 0x89, A: 0xff}
)

var errMissingAssets = errors.New("widget: asset loader is required")

// GameListMode selects which game section, if any, the widget shows.
type GameListMode string

const (
	GameListNone   GameListMode = "none"
	GameListRecent GameListMode = "recent"
)

// ParseGameListMode maps a query value onto a mode, defaulting to none.
func ParseGameListMode(value string) GameListMode {
	if strings.EqualFold(strings.TrimSpace(value), string(GameListRecent)) {
		return GameListRecent
	}
	return GameListNone
}

// MaxGameListSize bounds the game section regardless of what was requested.
const MaxGameListSize = 10

// RenderSpec describes the optional parts of a widget render.
type RenderSpec struct {
	GameList     GameListMode
	GameListSize int
	ShowActivity bool
	Width        int
}

// Normalized clamps the requested game count. Applied before any game data is
// fetched so an oversized request never causes extra work.
func (s RenderSpec) Normalized() RenderSpec {
	if s.GameListSize < 0 {
		s.GameListSize = 0
	}
	if s.GameListSize > MaxGameListSize {
		s.GameListSize = MaxGameListSize
	}
	return s
}

// RendererConfig bundles renderer dependencies.
type RendererConfig struct {
	Assets *AssetLoader
	// IconURL builds the icon address for a game row, typically
	// (*steam.Client).GameIconURL.
	IconURL func(steam.Game) string
}

// Renderer composes widget bitmaps. Parsed fonts are shared and immutable;
// faces are created per render because they carry mutable glyph state.
type Renderer struct {
	assets  *AssetLoader
	iconURL func(steam.Game) string
	bold    *sfnt.Font
	regular *sfnt.Font
}

// NewRenderer constructs a Renderer with validated configuration.
func NewRenderer(cfg RendererConfig) (*Renderer, error) {
	if cfg.Assets == nil {
		return nil, errMissingAssets
	}

	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("widget: parsing bold font: %w", err)
	}
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("widget: parsing regular font: %w", err)
	}

	iconURL := cfg.IconURL
	if iconURL == nil {
		iconURL = func(steam.Game) string { return "" }
	}

	return &Renderer{
		assets:  cfg.Assets,
		iconURL: iconURL,
		bold:    bold,
		regular: regular,
	}, nil
}

type faceSet struct {
	name      font.Face
	activity  font.Face
	gameTitle font.Face
	playtime  font.Face
}

func (r *Renderer) newFaces() (faceSet, error) {
	var faces faceSet
	var err error
	if faces.name, err = newFace(r.bold, nameFontSize); err != nil {
		return faceSet{}, err
	}
	if faces.activity, err = newFace(r.regular, activityFontSize); err != nil {
		return faceSet{}, err
	}
	if faces.gameTitle, err = newFace(r.bold, gameTitleFontSize); err != nil {
		return faceSet{}, err
	}
	if faces.playtime, err = newFace(r.regular, playtimeFontSize); err != nil {
		return faceSet{}, err
	}
	return faces, nil
}

func newFace(parsed *sfnt.Font, size float64) (font.Face, error) {
	return opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

// Render composes the widget bitmap. An absent profile produces only the
// empty base frame. Each call owns its canvas, so renders may run
// concurrently.
func (r *Renderer) Render(ctx context.Context, profile *steam.PlayerSummary, games []steam.Game, spec RenderSpec) (image.Image, error) {
	spec = spec.Normalized()
	if profile == nil {
		games = nil
	}
	if len(games) > spec.GameListSize {
		games = games[:spec.GameListSize]
	}

	faces, err := r.newFaces()
	if err != nil {
		return nil, err
	}

	dc := gg.NewContext(canvasWidth, baseHeight+len(games)*gameRowHeight)
	r.drawBaseFrame(ctx, dc)
	if profile != nil {
		r.drawRoundImage(ctx, dc, profile.AvatarFull, avatarX, avatarY, avatarSize, avatarSize)
		drawIdentity(dc, faces, *profile, spec.ShowActivity)
		drawStatusDot(dc, *profile)
		r.drawGameRows(ctx, dc, faces, games)
	}

	img := dc.Image()
	if spec.Width > 0 && spec.Width != canvasWidth {
		img = scaleToWidth(img, spec.Width)
	}
	return img, nil
}

func (r *Renderer) drawBaseFrame(ctx context.Context, dc *gg.Context) {
	width := float64(dc.Width())
	height := float64(dc.Height())

	dc.DrawRoundedRectangle(0, 0, width, height, frameCornerRadius)
	dc.SetColor(backgroundColor)
	dc.Fill()

	dc.DrawRoundedRectangle(0, 0, width, height, frameCornerRadius)
	dc.SetColor(borderColor)
	dc.SetLineWidth(2)
	dc.Stroke()

	// The logo PNG carries alpha, so drawing it straight over the filled
	// background blends its corners into the theme color.
	if logo := r.assets.Logo(ctx); logo != nil {
		drawImageScaled(dc, logo, logoX, logoY, logoWidth, logoHeight)
	}
}

// drawRoundImage fetches a remote image and composites it through a circular
// mask. A failed fetch leaves the slot transparent.
func (r *Renderer) drawRoundImage(ctx context.Context, dc *gg.Context, url string, x, y, width, height float64) {
	img := r.assets.Fetch(ctx, url)
	if img == nil || img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		return
	}

	dc.Push()
	dc.DrawEllipse(x+width/2, y+height/2, width/2, height/2)
	dc.Clip()
	drawImageScaled(dc, img, x, y, width, height)
	dc.ResetClip()
	dc.Pop()
}

func drawIdentity(dc *gg.Context, faces faceSet, profile steam.PlayerSummary, showActivity bool) {
	dc.SetFontFace(faces.name)
	dc.SetColor(textPrimaryColor)
	if showActivity && profile.Playing() {
		dc.DrawString(profile.PersonaName, textX, nameBaselineWithActivity)
		dc.SetFontFace(faces.activity)
		dc.SetColor(textMutedColor)
		dc.DrawString(profile.GameExtraInfo, textX, activityBaseline)
		return
	}
	// without an activity line the name re-centers into the freed space
	dc.DrawString(profile.PersonaName, textX, nameBaselineCentered)
}

func drawStatusDot(dc *gg.Context, profile steam.PlayerSummary) {
	dc.SetColor(statusColor(profile))
	dc.DrawCircle(dotCenterX, dotCenterY, dotRadius)
	dc.Fill()
}

// statusColor picks the dot color by priority; current activity always wins
// over the presence state.
func statusColor(profile steam.PlayerSummary) color.Color {
	switch {
	case profile.Playing():
		return stateInGameColor
	case profile.PersonaState == personaStateBusy:
		return stateBusyColor
	case profile.PersonaState == personaStateAway:
		return stateAwayColor
	case profile.PersonaState == personaStateOnline:
		return stateOnlineColor
	default:
		return stateOfflineColor
	}
}

// statusCSSColor is the HTML widget's rendition of the same priority rule.
func statusCSSColor(profile steam.PlayerSummary) string {
	switch {
	case profile.Playing():
		return "green"
	case profile.PersonaState == personaStateBusy:
		return "red"
	case profile.PersonaState == personaStateAway:
		return "yellow"
	case profile.PersonaState == personaStateOnline:
		return "#00b7ff"
	default:
		return "#898989"
	}
}

func (r *Renderer) drawGameRows(ctx context.Context, dc *gg.Context, faces faceSet, games []steam.Game) {
	if len(games) == 0 {
		return
	}

	dc.DrawRoundedRectangle(separatorX, separatorY, float64(dc.Width())-2*separatorX, separatorHeight, separatorCornerRadius)
	dc.SetColor(textPrimaryColor)
	dc.Fill()

	for i, game := range games {
		rowTop := float64(baseHeight + i*gameRowHeight)
		r.drawRoundImage(ctx, dc, r.iconURL(game), gameIconX, rowTop+gameIconOffsetY, gameIconSize, gameIconSize)

		dc.SetFontFace(faces.gameTitle)
		dc.SetColor(textPrimaryColor)
		dc.DrawString(game.Name, textX, rowTop+gameTitleOffsetY)

		dc.SetFontFace(faces.playtime)
		dc.SetColor(textMutedColor)
		dc.DrawString(formatPlaytime("Total Playtime", game.PlaytimeForever), textX, rowTop+playtimeOffsetY)
		dc.DrawString(formatPlaytime("Recent Playtime", game.Playtime2Weeks), recentPlaytimeX, rowTop+playtimeOffsetY)
	}
}

func formatPlaytime(label string, minutes int64) string {
	return fmt.Sprintf("%s: %dh %dm", label, minutes/60, minutes%60)
}

func drawImageScaled(dc *gg.Context, img image.Image, x, y, width, height float64) {
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return
	}
	dc.Push()
	dc.Translate(x, y)
	dc.Scale(width/float64(bounds.Dx()), height/float64(bounds.Dy()))
	dc.DrawImage(img, 0, 0)
	dc.Pop()
}

// scaleToWidth applies the uniform scale-to-width transform, preserving the
// aspect ratio. A non-positive or native width is a no-op.
func scaleToWidth(src image.Image, width int) image.Image {
	bounds := src.Bounds()
	if width <= 0 || width == bounds.Dx() {
		return src
	}

	height := int(math.Round(float64(bounds.Dy()) * float64(width) / float64(bounds.Dx())))
	if height < 1 {
		height = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}
