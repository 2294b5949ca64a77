package widget

import (
	"context"
	"errors"
	"image"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/steam-widget/internal/hits"
	"github.com/MarcoPoloResearchLab/steam-widget/internal/steam"
	"go.uber.org/zap"
)

const (
	canonicalIDLength = 17
	vanityURLPrefix   = "https://steamcommunity.com/id/"
)

var (
	errMissingGateway  = errors.New("widget: gateway dependency required")
	errMissingTracker  = errors.New("widget: hit tracker dependency required")
	errMissingRenderer = errors.New("widget: renderer dependency required")
)

// Gateway is the slice of the Steam Web API the widget pipeline needs.
type Gateway interface {
	GetPlayerSummaries(ctx context.Context, ids []string) ([]steam.PlayerSummary, error)
	GetRecentlyPlayedGames(ctx context.Context, id string) ([]steam.Game, error)
	ResolveVanityURL(ctx context.Context, name string) (string, error)
}

// HitRecorder accepts usage samples without blocking the caller.
type HitRecorder interface {
	Record(sample hits.Sample)
}

// ServiceConfig describes the dependencies required by the widget service.
type ServiceConfig struct {
	Gateway  Gateway
	Tracker  HitRecorder
	Renderer *Renderer
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service runs the widget pipeline: identity resolution, profile fetch,
// fire-and-forget hit recording, and bitmap composition.
type Service struct {
	gateway  Gateway
	tracker  HitRecorder
	renderer *Renderer
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService constructs the widget service with validated dependencies.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Gateway == nil {
		return nil, errMissingGateway
	}
	if cfg.Tracker == nil {
		return nil, errMissingTracker
	}
	if cfg.Renderer == nil {
		return nil, errMissingRenderer
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		gateway:  cfg.Gateway,
		tracker:  cfg.Tracker,
		renderer: cfg.Renderer,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Resolve normalizes raw input into the canonical 17-digit identity. A value
// that already is canonical passes through without a lookup; anything else is
// treated as a vanity name, with the community profile URL prefix stripped
// first. The boolean is false when the provider knows no such account; that
// is "not found", not an error.
func (s *Service) Resolve(ctx context.Context, input string) (string, bool, error) {
	trimmed := strings.TrimSpace(input)
	if isCanonicalID(trimmed) {
		return trimmed, true, nil
	}

	name := trimmed
	if strings.Contains(name, vanityURLPrefix) {
		name = strings.ReplaceAll(name, vanityURLPrefix, "")
		name = strings.ReplaceAll(name, "/", "")
	}

	id, err := s.gateway.ResolveVanityURL(ctx, name)
	if errors.Is(err, steam.ErrNoMatch) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func isCanonicalID(value string) bool {
	if len(value) != canonicalIDLength {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ImageRequest describes one widget image render.
type ImageRequest struct {
	ID      string
	Spec    RenderSpec
	Purpose string
	Address string
}

// WidgetImage runs the full pipeline for one request. An unresolvable
// identity still renders, producing only the empty base frame; gateway
// failures are fatal for the request.
func (s *Service) WidgetImage(ctx context.Context, req ImageRequest) (image.Image, error) {
	spec := req.Spec.Normalized()

	var profile *steam.PlayerSummary
	var games []steam.Game

	id, ok, err := s.Resolve(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if ok {
		summaries, err := s.gateway.GetPlayerSummaries(ctx, []string{id})
		if err != nil {
			return nil, err
		}
		if len(summaries) > 0 {
			profile = &summaries[0]
			s.recordHit(id, profile.PersonaName, req.Purpose, req.Address)

			if spec.GameList == GameListRecent && spec.GameListSize > 0 {
				games, err = s.gateway.GetRecentlyPlayedGames(ctx, id)
				if err != nil {
					return nil, err
				}
			}
		}
	}

	return s.renderer.Render(ctx, profile, games, spec)
}

// ViewModel carries the fields the HTML widget template renders.
type ViewModel struct {
	ProfileLink  string
	AvatarMedium string
	Name         string
	Activity     string
	StateColor   string
}

// ProfileView resolves the identity and fetches the presentation fields for
// the HTML widget, recording the hit on success. The boolean is false when
// the identity cannot be resolved or the provider returns no summary.
func (s *Service) ProfileView(ctx context.Context, id, purpose, address string) (ViewModel, bool, error) {
	resolved, ok, err := s.Resolve(ctx, id)
	if err != nil || !ok {
		return ViewModel{}, false, err
	}

	summaries, err := s.gateway.GetPlayerSummaries(ctx, []string{resolved})
	if err != nil {
		return ViewModel{}, false, err
	}
	if len(summaries) == 0 {
		return ViewModel{}, false, nil
	}

	profile := summaries[0]
	s.recordHit(resolved, profile.PersonaName, purpose, address)

	return ViewModel{
		ProfileLink:  profile.ProfileURL,
		AvatarMedium: profile.AvatarMedium,
		Name:         profile.PersonaName,
		Activity:     profile.GameExtraInfo,
		StateColor:   statusCSSColor(profile),
	}, true, nil
}

// recordHit hands the sample to the tracker; the response never waits on it.
func (s *Service) recordHit(id, name, purpose, address string) {
	s.tracker.Record(hits.Sample{
		Steam64ID:  id,
		Name:       name,
		Purpose:    purpose,
		Address:    address,
		RecordedAt: s.clock(),
	})
}
