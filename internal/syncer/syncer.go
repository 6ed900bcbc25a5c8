// Package syncer reconciles local schedule events with external calendars.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"calsync/internal/ics"
	"calsync/internal/lock"
	"calsync/internal/metrics"
	"calsync/internal/models"
	"calsync/internal/network"
	"calsync/internal/oauth"
)

var (
	// ErrSyncInProgress means another sync for the same integration is running.
	ErrSyncInProgress = errors.New("sync already in progress")
	// ErrIntegrationDisabled means the integration exists but is switched off.
	ErrIntegrationDisabled = errors.New("integration is disabled")
	// ErrNoAdapter means no adapter is registered for the provider.
	ErrNoAdapter = errors.New("no adapter registered for provider")
)

// Adapter is the per-provider capability the reconciler drives. It performs
// one call per method and never retries; a rejected token surfaces as an
// error for the Authorizer to handle.
type Adapter interface {
	List(ctx context.Context, token, sinceToken string) (*models.RemoteList, error)
	Create(ctx context.Context, token string, ev *models.ScheduleEvent) (*models.RemoteEvent, error)
	Update(ctx context.Context, token, externalID string, ev *models.ScheduleEvent) (*models.RemoteEvent, error)
}

// Authorizer runs fn with a usable access token for the provider.
type Authorizer interface {
	WithToken(ctx context.Context, p models.Provider, fn func(ctx context.Context, token string) error) error
}

// NoAuth is an Authorizer for adapters that carry their own credentials.
type NoAuth struct{}

func (NoAuth) WithToken(ctx context.Context, _ models.Provider, fn func(ctx context.Context, token string) error) error {
	return fn(ctx, "")
}

// EventStore is the local event persistence the reconciler needs. It must
// offer read-your-writes within a process and report missing rows with
// store.ErrNotFound.
type EventStore interface {
	Get(ctx context.Context, id string) (*models.ScheduleEvent, error)
	FindByExternalID(ctx context.Context, p models.Provider, externalID string) (*models.ScheduleEvent, error)
	Insert(ctx context.Context, ev *models.ScheduleEvent) error
	Update(ctx context.Context, id string, patch models.EventPatch) (*models.ScheduleEvent, error)
	List(ctx context.Context, filter models.EventFilter) ([]models.ScheduleEvent, error)
}

// IntegrationStore loads integrations and records sync outcomes.
type IntegrationStore interface {
	Get(ctx context.Context, id string) (*models.CalendarIntegration, error)
	RecordSync(ctx context.Context, id string, status models.SyncStatus, at time.Time, syncToken string) error
}

type registration struct {
	adapter Adapter
	auth    Authorizer
}

// Reconciler orchestrates imports and exports for registered providers.
type Reconciler struct {
	logger       *slog.Logger
	events       EventStore
	integrations IntegrationStore
	locker       lock.Locker
	metrics      *metrics.Recorder
	encoder      *ics.Encoder
	now          func() time.Time
	providers    map[models.Provider]registration
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLocker replaces the in-process sync lock.
func WithLocker(l lock.Locker) Option {
	return func(r *Reconciler) {
		r.locker = l
	}
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// WithEncoder sets the ICS encoder used by file import and export.
func WithEncoder(enc *ics.Encoder) Option {
	return func(r *Reconciler) {
		r.encoder = enc
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// NewReconciler creates a reconciler over the given stores.
func NewReconciler(logger *slog.Logger, events EventStore, integrations IntegrationStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		logger:       logger,
		events:       events,
		integrations: integrations,
		locker:       lock.NewLocal(),
		encoder:      ics.NewEncoder(""),
		now:          time.Now,
		providers:    make(map[models.Provider]registration),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register makes a provider available to sync operations.
func (r *Reconciler) Register(p models.Provider, adapter Adapter, auth Authorizer) {
	r.providers[p] = registration{adapter: adapter, auth: auth}
}

func (r *Reconciler) lookup(p models.Provider) (registration, error) {
	reg, ok := r.providers[p]
	if !ok {
		return registration{}, fmt.Errorf("%s: %w", p, ErrNoAdapter)
	}
	return reg, nil
}

// Sync runs the integration's declared direction: import, export of pending
// local events, or import followed by export. Only one sync per integration
// may be in flight.
func (r *Reconciler) Sync(ctx context.Context, integrationID string) (*models.SyncResult, error) {
	in, err := r.integrations.Get(ctx, integrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load integration: %w", err)
	}
	if !in.Enabled {
		return nil, fmt.Errorf("%s: %w", integrationID, ErrIntegrationDisabled)
	}

	release, err := r.locker.Acquire(ctx, fmt.Sprintf("sync:%s:%s", in.Provider, in.ID))
	if errors.Is(err, lock.ErrHeld) {
		return nil, fmt.Errorf("%s: %w", integrationID, ErrSyncInProgress)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	defer release()

	started := r.now()
	r.logger.Info("Starting sync.", "integration", in.ID, "provider", in.Provider, "direction", in.SyncDirection)

	res := &models.SyncResult{}
	var (
		nextToken string
		runErr    error
	)
	if in.SyncDirection.Imports() {
		var imported *models.SyncResult
		imported, nextToken, runErr = r.importFrom(ctx, in.Provider, in.SyncToken)
		res.Merge(imported)
	}
	if runErr == nil && in.SyncDirection.Exports() {
		var exported *models.SyncResult
		exported, runErr = r.ExportPending(ctx, in.Provider)
		res.Merge(exported)
	}

	status := models.SyncSynced
	if runErr != nil {
		status, nextToken = models.SyncFailed, ""
	}
	if err := r.integrations.RecordSync(context.WithoutCancel(ctx), in.ID, status, started, nextToken); err != nil {
		r.logger.Error("Failed to record sync outcome", "integration", in.ID, "error", err)
	}
	r.metrics.ObserveSync(string(in.Provider), string(in.SyncDirection), res.SyncedEvents, len(res.Errors), runErr != nil, r.now().Sub(started))

	if runErr != nil {
		res.Success = false
		res.Message = fmt.Sprintf("Sync failed: %v", runErr)
		r.logger.Error("Sync failed.", "integration", in.ID, "error", runErr)
		return res, runErr
	}
	res.Success = true
	res.Summarize("Synced")
	r.logger.Info("Sync finished.", "integration", in.ID, "synced", res.SyncedEvents, "skipped", res.Skipped, "errors", len(res.Errors))
	return res, nil
}

// abortsRun reports whether err means no further item can succeed.
func abortsRun(err error) bool {
	return oauth.IsAuthError(err) ||
		network.IsTransport(err) ||
		errors.Is(err, ErrNoAdapter) ||
		errors.Is(err, oauth.ErrProviderNotConfigured) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func failed(res *models.SyncResult, err error) (*models.SyncResult, error) {
	if res == nil {
		res = &models.SyncResult{}
	}
	res.Success = false
	res.Message = err.Error()
	return res, err
}
