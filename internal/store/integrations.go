package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"calsync/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const integrationColumns = `id, provider, name, enabled, sync_direction, sync_status, last_sync, sync_token, created_at`

// IntegrationRepository persists calendar integrations. At most one enabled
// integration may exist per provider.
type IntegrationRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

func NewIntegrationRepository(db *sqlx.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db, now: time.Now}
}

// Create inserts an integration.
func (r *IntegrationRepository) Create(ctx context.Context, in *models.CalendarIntegration) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.SyncStatus == "" {
		in.SyncStatus = models.SyncLocal
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = r.now().UTC()
	}

	query := `INSERT INTO calendar_integrations (id, provider, name, enabled, sync_direction, sync_status, last_sync, sync_token, created_at)
VALUES (:id, :provider, :name, :enabled, :sync_direction, :sync_status, :last_sync, :sync_token, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, in); err != nil {
		if isConstraint(err) {
			return fmt.Errorf("create integration: an enabled %s integration already exists: %w", in.Provider, ErrConflict)
		}
		return fmt.Errorf("create integration: %w", err)
	}
	return nil
}

// Get fetches an integration by id.
func (r *IntegrationRepository) Get(ctx context.Context, id string) (*models.CalendarIntegration, error) {
	var in models.CalendarIntegration
	err := r.db.GetContext(ctx, &in, "SELECT "+integrationColumns+" FROM calendar_integrations WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("integration %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get integration: %w", err)
	}
	return &in, nil
}

// List returns all integrations, oldest first.
func (r *IntegrationRepository) List(ctx context.Context) ([]models.CalendarIntegration, error) {
	var out []models.CalendarIntegration
	if err := r.db.SelectContext(ctx, &out, "SELECT "+integrationColumns+" FROM calendar_integrations ORDER BY created_at ASC, id ASC"); err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	return out, nil
}

// SetEnabled switches an integration on or off.
func (r *IntegrationRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, "UPDATE calendar_integrations SET enabled = ? WHERE id = ?", enabled, id)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("enable integration: another integration for this provider is enabled: %w", ErrConflict)
		}
		return fmt.Errorf("set integration enabled: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("integration %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordSync stores the outcome of a sync run. An empty syncToken keeps the
// previous one.
func (r *IntegrationRepository) RecordSync(ctx context.Context, id string, status models.SyncStatus, at time.Time, syncToken string) error {
	res, err := r.db.ExecContext(ctx,
		"UPDATE calendar_integrations SET sync_status = ?, last_sync = ?, sync_token = COALESCE(NULLIF(?, ''), sync_token) WHERE id = ?",
		status, at.UTC(), syncToken, id)
	if err != nil {
		return fmt.Errorf("record sync: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("integration %s: %w", id, ErrNotFound)
	}
	return nil
}
