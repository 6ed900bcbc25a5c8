package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"calsync/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// External ids are stored as NULL when absent so the partial unique index
// only covers linked events.
const eventColumns = `id, title, description, location, start_time, end_time, all_day, event_type, status, priority,
external_provider, COALESCE(external_calendar_id, '') AS external_calendar_id, sync_status, created_at, updated_at`

// EventRepository persists schedule events.
type EventRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewEventRepository constructs an event repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db, now: time.Now}
}

// Get fetches an event by local id.
func (r *EventRepository) Get(ctx context.Context, id string) (*models.ScheduleEvent, error) {
	return r.get(ctx, r.db, id)
}

func (r *EventRepository) get(ctx context.Context, q sqlx.QueryerContext, id string) (*models.ScheduleEvent, error) {
	var ev models.ScheduleEvent
	err := sqlx.GetContext(ctx, q, &ev, "SELECT "+eventColumns+" FROM schedule_events WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &ev, nil
}

// FindByExternalID looks an event up by the id a provider assigned to it.
func (r *EventRepository) FindByExternalID(ctx context.Context, provider models.Provider, externalID string) (*models.ScheduleEvent, error) {
	var ev models.ScheduleEvent
	err := r.db.GetContext(ctx, &ev,
		"SELECT "+eventColumns+" FROM schedule_events WHERE external_provider = ? AND external_calendar_id = ?",
		provider, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s/%s: %w", provider, externalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find event by external id: %w", err)
	}
	return &ev, nil
}

// Insert stores a new event, assigning an id and timestamps when unset.
func (r *EventRepository) Insert(ctx context.Context, ev *models.ScheduleEvent) error {
	ev.Normalize()
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	now := r.now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now
	utc(ev)

	query := `INSERT INTO schedule_events (id, title, description, location, start_time, end_time, all_day, event_type, status, priority,
external_provider, external_calendar_id, sync_status, created_at, updated_at)
VALUES (:id, :title, :description, :location, :start_time, :end_time, :all_day, :event_type, :status, :priority,
:external_provider, NULLIF(:external_calendar_id, ''), :sync_status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, ev); err != nil {
		if isConstraint(err) {
			return fmt.Errorf("insert event: %w", ErrConflict)
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Update applies patch to the event with the given id and returns the result.
func (r *EventRepository) Update(ctx context.Context, id string, patch models.EventPatch) (*models.ScheduleEvent, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ev, err := r.get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(ev)
	ev.Normalize()
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	ev.UpdatedAt = r.now().UTC()
	utc(ev)

	query := `UPDATE schedule_events SET title = :title, description = :description, location = :location,
start_time = :start_time, end_time = :end_time, all_day = :all_day, event_type = :event_type, status = :status,
priority = :priority, external_provider = :external_provider, external_calendar_id = NULLIF(:external_calendar_id, ''),
sync_status = :sync_status, updated_at = :updated_at
WHERE id = :id`
	if _, err := tx.NamedExecContext(ctx, query, ev); err != nil {
		if isConstraint(err) {
			return nil, fmt.Errorf("update event: %w", ErrConflict)
		}
		return nil, fmt.Errorf("update event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return ev, nil
}

// List returns events matching filter ordered by start time.
func (r *EventRepository) List(ctx context.Context, filter models.EventFilter) ([]models.ScheduleEvent, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.From != nil {
		where = append(where, "end_time >= ?")
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		where = append(where, "start_time <= ?")
		args = append(args, filter.To.UTC())
	}
	if len(filter.SyncStatuses) > 0 {
		where = append(where, "sync_status IN (?)")
		args = append(args, filter.SyncStatuses)
	}

	query := "SELECT " + eventColumns + " FROM schedule_events WHERE " + strings.Join(where, " AND ") + " ORDER BY start_time ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	var events []models.ScheduleEvent
	if err := r.db.SelectContext(ctx, &events, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// Delete removes an event locally. Provider copies are left alone.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM schedule_events WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	return nil
}

func utc(ev *models.ScheduleEvent) {
	ev.StartTime = ev.StartTime.UTC()
	ev.EndTime = ev.EndTime.UTC()
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.UpdatedAt = ev.UpdatedAt.UTC()
}
