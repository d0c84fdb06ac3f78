package shortener

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/sundayezeilo/urlshortener/internal/errx"
	"github.com/sundayezeilo/urlshortener/internal/idgen"
	"github.com/sundayezeilo/urlshortener/sluggen"
)

const (
	DefaultCodeLength     = sluggen.DefaultLength
	DefaultCodeMaxRetries = 20
	DefaultTTL            = 24 * time.Hour
	DefaultMaxClicks      = 10
	DefaultBaseURL        = "http://localhost/"
	MaxURLLength          = 2048
)

// CreateLinkRequest represents the parameters for creating a new link.
type CreateLinkRequest struct {
	OriginalURL string
	MaxClicks   *int // Optional: nil means the configured default
}

// Opener hands a URL to the local environment, e.g. a browser.
type Opener interface {
	Open(rawURL string) error
}

// Service defines the link lifecycle operations for the current local user.
type Service interface {
	Create(ctx context.Context, req CreateLinkRequest) (Link, error)
	Open(ctx context.Context, code string) (Link, error)
	ListMine(ctx context.Context) ([]Link, error)
	DeleteMine(ctx context.Context, code string) error
	UpdateLimitMine(ctx context.Context, code string, newLimit int) (Link, error)
	SwitchUser(id string) error
	NewUser() (string, error)
	CurrentUser() (string, bool)
}

// ServiceConfig holds configuration for the service.
type ServiceConfig struct {
	TTL              time.Duration
	DefaultMaxClicks int
	BaseURL          string
	IdentityFile     string // empty keeps the current user in memory only

	SlugGenerator  sluggen.Generator
	IDGenerator    idgen.Generator
	Clock          clock.PassiveClock
	Opener         Opener // optional
	Logger         zerolog.Logger
	CodeLength     int
	CodeMaxRetries int // attempts when drawing a unique code (default: 20)
}

// service implements the Service interface.
type service struct {
	repo           Repository
	slugGenerator  sluggen.Generator
	idGenerator    idgen.Generator
	clock          clock.PassiveClock
	opener         Opener
	logger         zerolog.Logger
	identity       identityFile
	ttl            time.Duration
	maxClicks      int
	baseURL        string
	codeLength     int
	codeMaxRetries int

	// mu serializes operations so read-modify-write cycles on a link and the
	// current user id are never interleaved.
	mu          sync.Mutex
	currentUser string
}

// NewService creates a new service instance and restores the current user from
// the identity file, if any.
func NewService(repo Repository, config *ServiceConfig) Service {
	if config == nil {
		config = &ServiceConfig{Logger: zerolog.Nop()}
	}

	s := &service{
		repo:           repo,
		slugGenerator:  config.SlugGenerator,
		idGenerator:    config.IDGenerator,
		clock:          config.Clock,
		opener:         config.Opener,
		logger:         config.Logger.With().Str("component", "shortener").Logger(),
		ttl:            config.TTL,
		maxClicks:      config.DefaultMaxClicks,
		baseURL:        config.BaseURL,
		codeLength:     config.CodeLength,
		codeMaxRetries: config.CodeMaxRetries,
	}
	if s.slugGenerator == nil {
		s.slugGenerator = sluggen.NewBase62()
	}
	if s.idGenerator == nil {
		s.idGenerator = idgen.NewV4()
	}
	if s.clock == nil {
		s.clock = clock.RealClock{}
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.maxClicks <= 0 {
		s.maxClicks = DefaultMaxClicks
	}
	if s.baseURL == "" {
		s.baseURL = DefaultBaseURL
	}
	if s.codeLength <= 0 {
		s.codeLength = DefaultCodeLength
	}
	if s.codeMaxRetries <= 0 {
		s.codeMaxRetries = DefaultCodeMaxRetries
	}

	s.identity = identityFile{path: config.IdentityFile, logger: s.logger}
	if id, ok := s.identity.load(); ok {
		s.currentUser = id
		s.logger.Debug().Str("user_id", id).Msg("restored current user")
	}

	return s
}

// Create creates a new short link owned by the current user, minting a user
// id first if there is none yet.
func (s *service) Create(ctx context.Context, req CreateLinkRequest) (Link, error) {
	const op = "shortener.service.Create"

	if err := validateURL(req.OriginalURL); err != nil {
		return Link{}, errx.E(op, errx.Invalid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owner, err := s.ensureUserLocked()
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}

	limit := s.maxClicks
	if req.MaxClicks != nil {
		limit = *req.MaxClicks
	}
	if limit <= 0 {
		return Link{}, errx.E(op, errx.Invalid, errors.New("click limit must be greater than zero"))
	}

	code, err := s.generateUniqueCode(ctx)
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}

	now := s.clock.Now().UTC()
	link := Link{
		Code:        code,
		OwnerID:     owner,
		OriginalURL: req.OriginalURL,
		ShortURL:    ComposeShortURL(s.baseURL, code),
		MaxClicks:   limit,
		ClicksDone:  0,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.repo.Save(ctx, link); err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}

	s.logger.Info().
		Str("code", link.Code).
		Str("owner_id", owner).
		Int("max_clicks", limit).
		Time("expires_at", link.ExpiresAt).
		Msg("link created")

	return link, nil
}

// Open records one click and hands the target URL to the Opener. Expired links
// are deleted on the spot.
func (s *service) Open(ctx context.Context, code string) (Link, error) {
	const op = "shortener.service.Open"

	if code == "" {
		return Link{}, errx.E(op, errx.Invalid, errors.New("code cannot be empty"))
	}

	link, err := s.recordClick(ctx, code)
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}

	// The click is committed; a failing opener only degrades the experience.
	if s.opener != nil {
		if err := s.opener.Open(link.OriginalURL); err != nil {
			s.logger.Warn().Err(err).Str("code", code).Msg("failed to open url")
		}
	}
	return link, nil
}

func (s *service) recordClick(ctx context.Context, code string) (Link, error) {
	const op = "shortener.service.recordClick"

	s.mu.Lock()
	defer s.mu.Unlock()

	link, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}

	if link.ExpiredAt(s.clock.Now()) {
		if err := s.repo.DeleteByCode(ctx, code); err != nil {
			return Link{}, errx.E(op, errx.KindOf(err), err)
		}
		s.logger.Info().Str("code", code).Time("expired_at", link.ExpiresAt).Msg("link expired and was removed")
		return Link{}, errx.E(op, errx.Expired, fmt.Errorf("link %q expired at %s", code, link.ExpiresAt.Format(time.RFC3339)))
	}

	if link.QuotaReached() {
		s.logger.Info().Str("code", code).Int("max_clicks", link.MaxClicks).Msg("click limit reached")
		return Link{}, errx.E(op, errx.QuotaExceeded, fmt.Errorf("link %q used %d of %d clicks", code, link.ClicksDone, link.MaxClicks))
	}

	link.ClicksDone++
	if err := s.repo.Save(ctx, link); err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}

	s.logger.Debug().Str("code", code).Int("clicks_done", link.ClicksDone).Int("max_clicks", link.MaxClicks).Msg("click recorded")
	return link, nil
}

func (s *service) ListMine(ctx context.Context) ([]Link, error) {
	const op = "shortener.service.ListMine"

	s.mu.Lock()
	defer s.mu.Unlock()

	owner, err := s.requireUserLocked()
	if err != nil {
		return nil, errx.E(op, errx.KindOf(err), err)
	}

	links, err := s.repo.FindByOwner(ctx, owner)
	if err != nil {
		return nil, errx.E(op, errx.KindOf(err), err)
	}
	return links, nil
}

func (s *service) DeleteMine(ctx context.Context, code string) error {
	const op = "shortener.service.DeleteMine"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ownedLinkLocked(ctx, code); err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}
	if err := s.repo.DeleteByCode(ctx, code); err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}

	s.logger.Info().Str("code", code).Msg("link deleted by owner")
	return nil
}

// UpdateLimitMine replaces the click limit. ClicksDone is left as is, so a
// lower limit can leave the link already exhausted.
func (s *service) UpdateLimitMine(ctx context.Context, code string, newLimit int) (Link, error) {
	const op = "shortener.service.UpdateLimitMine"

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.requireUserLocked(); err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}
	if newLimit <= 0 {
		return Link{}, errx.E(op, errx.Invalid, errors.New("click limit must be greater than zero"))
	}

	link, err := s.ownedLinkLocked(ctx, code)
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}

	link.MaxClicks = newLimit
	if err := s.repo.Save(ctx, link); err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}

	s.logger.Info().Str("code", code).Int("max_clicks", newLimit).Int("clicks_done", link.ClicksDone).Msg("click limit updated")
	return link, nil
}

// SwitchUser makes id the current user. Whether id owns any link is not checked.
func (s *service) SwitchUser(id string) error {
	const op = "shortener.service.SwitchUser"

	canonical, err := idgen.Parse(id)
	if err != nil {
		return errx.E(op, errx.Invalid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.setUserLocked(canonical); err != nil {
		return errx.E(op, errx.KindOf(err), err)
	}
	return nil
}

func (s *service) NewUser() (string, error) {
	const op = "shortener.service.NewUser"

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.mintUserLocked()
	if err != nil {
		return "", errx.E(op, errx.KindOf(err), err)
	}
	return id, nil
}

func (s *service) CurrentUser() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentUser, s.currentUser != ""
}

func (s *service) ensureUserLocked() (string, error) {
	if s.currentUser != "" {
		return s.currentUser, nil
	}
	return s.mintUserLocked()
}

func (s *service) mintUserLocked() (string, error) {
	const op = "shortener.service.mintUser"

	id, err := s.idGenerator.Generate()
	if err != nil {
		return "", errx.E(op, errx.Unavailable, err)
	}
	if err := s.setUserLocked(id.String()); err != nil {
		return "", errx.E(op, errx.KindOf(err), err)
	}
	return id.String(), nil
}

// setUserLocked persists id before adopting it, so a failed write leaves the
// current user unchanged.
func (s *service) setUserLocked(id string) error {
	const op = "shortener.service.setUser"

	if err := s.identity.store(id); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist user id")
		return errx.E(op, errx.IO, err)
	}
	s.currentUser = id
	s.logger.Info().Str("user_id", id).Msg("current user set")
	return nil
}

func (s *service) requireUserLocked() (string, error) {
	const op = "shortener.service.requireUser"

	if s.currentUser == "" {
		return "", errx.E(op, errx.NoIdentity, errors.New("no user yet: create a link or switch to a user first"))
	}
	return s.currentUser, nil
}

func (s *service) ownedLinkLocked(ctx context.Context, code string) (Link, error) {
	const op = "shortener.service.ownedLink"

	owner, err := s.requireUserLocked()
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}

	link, err := s.repo.FindByCode(ctx, code)
	if err != nil {
		return Link{}, errx.E(op, errx.KindOf(err), err)
	}
	if link.OwnerID != owner {
		return Link{}, errx.E(op, errx.Forbidden, fmt.Errorf("link %q belongs to another user", code))
	}
	return link, nil
}

func (s *service) generateUniqueCode(ctx context.Context) (string, error) {
	const op = "shortener.service.generateUniqueCode"

	for attempt := 1; attempt <= s.codeMaxRetries; attempt++ {
		code, err := s.slugGenerator.Generate(s.codeLength)
		if err != nil {
			return "", errx.E(op, errx.Unavailable, err)
		}

		_, err = s.repo.FindByCode(ctx, code)
		if errx.Is(err, errx.NotFound) {
			return code, nil
		}
		if err != nil {
			return "", errx.E(op, errx.KindOf(err), err)
		}

		s.logger.Debug().Str("code", code).Int("attempt", attempt).Msg("code collision, retrying")
	}

	return "", errx.E(op, errx.Exhausted,
		fmt.Errorf("could not generate a unique code after %d attempts", s.codeMaxRetries))
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("url cannot be empty")
	}
	if len(rawURL) > MaxURLLength {
		return errors.New("url too long (max 2048 characters)")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid url format")
	}
	if parsedURL.Scheme == "" {
		return errors.New("url must include scheme (http or https)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.New("url scheme must be http or https")
	}
	if parsedURL.Hostname() == "" {
		return errors.New("url must include host")
	}
	return nil
}
