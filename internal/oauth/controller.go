// Package oauth drives the authorization-code flow for calendar providers and
// keeps their access tokens usable.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"calsync/internal/credentials"
	"calsync/internal/metrics"
	"calsync/internal/models"
	"calsync/internal/network"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// State is where a provider sits in the token lifecycle.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthorizing     State = "authorizing"
	StateAuthenticated   State = "authenticated"
	StateRefreshing      State = "refreshing"
)

var (
	// ErrNotAuthenticated means there is no usable credential; run the consent flow.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrAuthenticationFailed is terminal: the provider rejected us even after a refresh.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrProviderNotConfigured means no OAuth client is registered for the provider.
	ErrProviderNotConfigured = errors.New("oauth provider not configured")
)

// IsAuthError reports whether err should send the user back through consent.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrAuthenticationFailed)
}

type providerConfig struct {
	config *oauth2.Config
	opts   []oauth2.AuthCodeOption
}

// Controller owns the OAuth lifecycle for every registered provider. All
// token material goes through the credential store as soon as it is issued.
type Controller struct {
	logger     *slog.Logger
	store      credentials.Store
	surface    ConsentSurface
	httpClient *http.Client
	metrics    *metrics.Recorder
	now        func() time.Time

	mu        sync.Mutex
	providers map[models.Provider]providerConfig
	states    map[models.Provider]State

	// refreshMu serialises refresh-token exchanges so two callers hitting a
	// 401 at once do not both spend the refresh token.
	refreshMu sync.Mutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithHTTPClient routes code and refresh exchanges through hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Controller) {
		c.httpClient = hc
	}
}

func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Controller) {
		c.metrics = r
	}
}

// WithClock sets the time source used to judge estimated expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController creates a controller that persists tokens in store and asks
// surface for user consent.
func NewController(logger *slog.Logger, store credentials.Store, surface ConsentSurface, opts ...Option) *Controller {
	c := &Controller{
		logger:    logger,
		store:     store,
		surface:   surface,
		now:       time.Now,
		providers: make(map[models.Provider]providerConfig),
		states:    make(map[models.Provider]State),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds the OAuth client for a provider. opts are appended to the
// authorization URL.
func (c *Controller) Register(p models.Provider, cfg *oauth2.Config, opts ...oauth2.AuthCodeOption) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[p] = providerConfig{config: cfg, opts: opts}
}

// Providers lists the registered providers in name order.
func (c *Controller) Providers() []models.Provider {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Provider, 0, len(c.providers))
	for p := range c.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// State reports the provider's lifecycle state. Before any operation in this
// process it is derived from whether a credential is stored.
func (c *Controller) State(ctx context.Context, p models.Provider) State {
	c.mu.Lock()
	s, ok := c.states[p]
	c.mu.Unlock()
	if ok {
		return s
	}
	if _, err := c.store.Load(ctx, p); err == nil {
		return StateAuthenticated
	}
	return StateUnauthenticated
}

// AuthCodeURL builds the consent URL for p with the given anti-forgery state.
func (c *Controller) AuthCodeURL(p models.Provider, state string) (string, error) {
	pc, err := c.provider(p)
	if err != nil {
		return "", err
	}
	return pc.config.AuthCodeURL(state, pc.opts...), nil
}

// Authenticate runs the consent flow and stores the resulting tokens. It
// blocks until the consent surface reports a code, an error, or that it was
// closed; ctx cancellation counts as closed.
func (c *Controller) Authenticate(ctx context.Context, p models.Provider) error {
	pc, err := c.provider(p)
	if err != nil {
		return err
	}

	c.setState(p, StateAuthorizing)
	state := uuid.NewString()
	authURL := pc.config.AuthCodeURL(state, pc.opts...)

	c.logger.Info("Waiting for user consent.", "provider", p)
	code, err := c.surface.Await(ctx, authURL, state)
	if err != nil {
		c.settle(ctx, p)
		return fmt.Errorf("consent for %s did not complete: %w", p, err)
	}

	tok, err := pc.config.Exchange(c.exchangeContext(ctx), code)
	if err != nil {
		c.settle(ctx, p)
		return fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	if err := c.store.Save(ctx, models.CredentialFromToken(p, tok)); err != nil {
		c.settle(ctx, p)
		return fmt.Errorf("failed to save credential: %w", err)
	}

	c.setState(p, StateAuthenticated)
	c.logger.Info("Authenticated provider.", "provider", p)
	return nil
}

// EnsureValidToken returns the stored access token. An estimated expiry in
// the past triggers a refresh up front; otherwise the token is trusted until
// the provider answers 401.
func (c *Controller) EnsureValidToken(ctx context.Context, p models.Provider) (string, error) {
	cred, err := c.store.Load(ctx, p)
	if errors.Is(err, credentials.ErrNotFound) {
		c.setState(p, StateUnauthenticated)
		return "", fmt.Errorf("%s: %w", p, ErrNotAuthenticated)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}

	if cred.Expired(c.now()) && cred.RefreshToken != "" {
		c.logger.Debug("Access token past its estimated expiry, refreshing.", "provider", p)
		return c.Refresh(ctx, p)
	}

	c.setState(p, StateAuthenticated)
	return cred.AccessToken, nil
}

// Refresh exchanges the stored refresh token for a new access token. If the
// provider rejects the refresh token the credential is destroyed.
func (c *Controller) Refresh(ctx context.Context, p models.Provider) (string, error) {
	pc, err := c.provider(p)
	if err != nil {
		return "", err
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	cred, err := c.store.Load(ctx, p)
	if errors.Is(err, credentials.ErrNotFound) {
		c.setState(p, StateUnauthenticated)
		return "", fmt.Errorf("%s: %w", p, ErrNotAuthenticated)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load credential: %w", err)
	}
	if cred.RefreshToken == "" {
		c.drop(ctx, p)
		return "", fmt.Errorf("%s has no refresh token: %w", p, ErrNotAuthenticated)
	}

	c.setState(p, StateRefreshing)
	src := pc.config.TokenSource(c.exchangeContext(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		c.metrics.ObserveRefresh(string(p), false)
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
			c.logger.Warn("Refresh token rejected, dropping credential.", "provider", p, "error", err)
			c.drop(ctx, p)
			return "", fmt.Errorf("%w: %s refresh rejected: %v", ErrAuthenticationFailed, p, err)
		}
		c.setState(p, StateAuthenticated)
		if re == nil && ctx.Err() == nil {
			err = &network.TransportError{Method: http.MethodPost, URL: pc.config.Endpoint.TokenURL, Err: err}
		}
		return "", fmt.Errorf("failed to refresh %s token: %w", p, err)
	}

	if tok.RefreshToken == "" {
		tok.RefreshToken = cred.RefreshToken
	}
	if err := c.store.Save(ctx, models.CredentialFromToken(p, tok)); err != nil {
		c.setState(p, StateAuthenticated)
		return "", fmt.Errorf("failed to save refreshed credential: %w", err)
	}

	c.metrics.ObserveRefresh(string(p), true)
	c.setState(p, StateAuthenticated)
	c.logger.Info("Refreshed access token.", "provider", p)
	return tok.AccessToken, nil
}

// WithToken calls fn with a valid access token. If fn fails with a 401 the
// token is refreshed once and fn is retried once; a second 401 is returned
// as ErrAuthenticationFailed and never retried again.
func (c *Controller) WithToken(ctx context.Context, p models.Provider, fn func(ctx context.Context, token string) error) error {
	token, err := c.EnsureValidToken(ctx, p)
	if err != nil {
		return err
	}

	err = fn(ctx, token)
	if !network.IsUnauthorized(err) {
		return err
	}

	c.logger.Info("Access token rejected, refreshing.", "provider", p)
	token, err = c.Refresh(ctx, p)
	if err != nil {
		return err
	}

	err = fn(ctx, token)
	if network.IsUnauthorized(err) {
		c.setState(p, StateUnauthenticated)
		return fmt.Errorf("%w: %s rejected a freshly refreshed token: %v", ErrAuthenticationFailed, p, err)
	}
	return err
}

// Disconnect forgets the provider's credential.
func (c *Controller) Disconnect(ctx context.Context, p models.Provider) error {
	if err := c.store.Delete(ctx, p); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	c.setState(p, StateUnauthenticated)
	c.logger.Info("Disconnected provider.", "provider", p)
	return nil
}

func (c *Controller) provider(p models.Provider) (providerConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pc, ok := c.providers[p]
	if !ok {
		return providerConfig{}, fmt.Errorf("%s: %w", p, ErrProviderNotConfigured)
	}
	return pc, nil
}

func (c *Controller) setState(p models.Provider, s State) {
	c.mu.Lock()
	c.states[p] = s
	c.mu.Unlock()
}

// settle puts p back into the state its stored credential implies after a
// failed consent attempt.
func (c *Controller) settle(ctx context.Context, p models.Provider) {
	if _, err := c.store.Load(ctx, p); err == nil {
		c.setState(p, StateAuthenticated)
		return
	}
	c.setState(p, StateUnauthenticated)
}

func (c *Controller) drop(ctx context.Context, p models.Provider) {
	if err := c.store.Delete(ctx, p); err != nil {
		c.logger.Error("Failed to delete credential", "provider", p, "error", err)
	}
	c.setState(p, StateUnauthenticated)
}

func (c *Controller) exchangeContext(ctx context.Context) context.Context {
	if c.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}
