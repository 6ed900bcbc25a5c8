package syncer

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"calsync/internal/models"
)

// pendingStatuses are the sync states ExportPending picks up.
var pendingStatuses = []models.SyncStatus{models.SyncLocal, models.SyncPending, models.SyncFailed}

// ExportTo pushes one local event to provider p. An event already linked to
// p is updated in place; otherwise it is created and the returned remote id
// is stored on the event.
func (r *Reconciler) ExportTo(ctx context.Context, p models.Provider, eventID string) (*models.SyncResult, error) {
	reg, err := r.lookup(p)
	if err != nil {
		return failed(nil, err)
	}
	ev, err := r.events.Get(ctx, eventID)
	if err != nil {
		return failed(nil, fmt.Errorf("failed to load event: %w", err))
	}

	res := &models.SyncResult{}
	if err := r.exportOne(ctx, p, reg, ev, res); err != nil {
		return failed(res, err)
	}
	res.Success = len(res.Errors) == 0
	res.Summarize("Exported")
	return res, nil
}

// ExportPending exports every local event that has not been synced yet, or
// whose last export failed. Events linked to another provider are left alone.
func (r *Reconciler) ExportPending(ctx context.Context, p models.Provider) (*models.SyncResult, error) {
	reg, err := r.lookup(p)
	if err != nil {
		return failed(nil, err)
	}
	events, err := r.events.List(ctx, models.EventFilter{SyncStatuses: pendingStatuses})
	if err != nil {
		return failed(nil, fmt.Errorf("failed to list pending events: %w", err))
	}

	res := &models.SyncResult{}
	for i := range events {
		ev := &events[i]
		if ev.ExternalCalendarID != "" && ev.ExternalProvider != p {
			continue
		}
		if err := ctx.Err(); err != nil {
			r.logger.Warn("Export stopped early.", "provider", p, "processed", i, "remaining", len(events)-i)
			return failed(res, err)
		}
		if err := r.exportOne(ctx, p, reg, ev, res); err != nil {
			return failed(res, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return failed(res, err)
	}
	res.Success = true
	res.Summarize("Exported")
	return res, nil
}

// exportOne sends ev to the provider. Per-item failures are recorded in res;
// the returned error is reserved for failures that end the run.
//
// The provider call and the link write run to completion even if ctx is
// cancelled, so a created remote event is never left without its local link.
func (r *Reconciler) exportOne(ctx context.Context, p models.Provider, reg registration, ev *models.ScheduleEvent, res *models.SyncResult) error {
	ctx = context.WithoutCancel(ctx)
	if ev.ExternalCalendarID != "" && ev.ExternalProvider != p {
		res.AddError(ev.ID, fmt.Errorf("already linked to %s as %s", ev.ExternalProvider, ev.ExternalCalendarID))
		return nil
	}
	if limit := p.MaxTitleLength(); limit > 0 && utf8.RuneCountInString(ev.Title) > limit {
		r.markFailed(ctx, ev.ID)
		res.AddError(ev.ID, fmt.Errorf("title longer than %d characters", limit))
		return nil
	}

	linked := ev.LinkedTo(p)
	var remote *models.RemoteEvent
	err := reg.auth.WithToken(ctx, p, func(ctx context.Context, token string) error {
		var err error
		if linked {
			remote, err = reg.adapter.Update(ctx, token, ev.ExternalCalendarID, ev)
		} else {
			remote, err = reg.adapter.Create(ctx, token, ev)
		}
		return err
	})
	if err != nil {
		r.markFailed(ctx, ev.ID)
		if abortsRun(err) {
			return fmt.Errorf("failed to export %s: %w", ev.ID, err)
		}
		r.logger.Warn("Failed to export event.", "provider", p, "id", ev.ID, "error", err)
		res.AddError(ev.ID, err)
		return nil
	}

	externalID := ev.ExternalCalendarID
	if !linked {
		if remote == nil || remote.ID == "" {
			r.markFailed(ctx, ev.ID)
			res.AddError(ev.ID, errors.New("provider returned no event id"))
			return nil
		}
		externalID = remote.ID
	}

	if _, err := r.events.Update(ctx, ev.ID, models.LinkPatch(p, externalID)); err != nil {
		r.markFailed(ctx, ev.ID)
		r.logger.Error("Exported event but failed to record link.", "provider", p, "id", ev.ID, "externalID", externalID, "error", err)
		res.AddError(ev.ID, fmt.Errorf("exported as %s but failed to record link: %w", externalID, err))
		return nil
	}
	r.logger.Debug("Exported event.", "provider", p, "id", ev.ID, "externalID", externalID, "update", linked)
	res.SyncedEvents++
	return nil
}

func (r *Reconciler) markFailed(ctx context.Context, id string) {
	if _, err := r.events.Update(context.WithoutCancel(ctx), id, models.StatusPatch(models.SyncFailed)); err != nil {
		r.logger.Error("Failed to mark event as sync_failed", "id", id, "error", err)
	}
}
