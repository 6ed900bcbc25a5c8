package syncer

import (
	"context"
	"errors"
	"fmt"

	"calsync/internal/models"
	"calsync/internal/store"
)

// ImportFrom pulls every remote event of provider p into the local store.
// The provider wins for content fields. Item failures are collected in the
// result; only failures that affect the whole run are returned as errors.
func (r *Reconciler) ImportFrom(ctx context.Context, p models.Provider) (*models.SyncResult, error) {
	res, _, err := r.importFrom(ctx, p, "")
	if err != nil {
		return failed(res, err)
	}
	res.Success = true
	res.Summarize("Imported")
	return res, nil
}

// importFrom lists remote events changed since sinceToken and applies them.
// It returns the token to pass on the next run.
func (r *Reconciler) importFrom(ctx context.Context, p models.Provider, sinceToken string) (*models.SyncResult, string, error) {
	reg, err := r.lookup(p)
	if err != nil {
		return nil, "", err
	}

	var list *models.RemoteList
	err = reg.auth.WithToken(ctx, p, func(ctx context.Context, token string) error {
		var err error
		list, err = reg.adapter.List(ctx, token, sinceToken)
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to list %s events: %w", p, err)
	}
	if list == nil {
		list = &models.RemoteList{}
	}

	r.logger.Info("Fetched remote events.", "provider", p, "count", len(list.Events), "incremental", sinceToken != "")

	res := &models.SyncResult{}
	for i := range list.Events {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("Import stopped early.", "provider", p, "processed", i, "remaining", len(list.Events)-i)
			return res, "", err
		}
		r.importOne(context.WithoutCancel(ctx), p, &list.Events[i], res)
	}
	if err := ctx.Err(); err != nil {
		return res, "", err
	}
	return res, list.NextSyncToken, nil
}

// importOne applies a single remote event. It never returns an error; failures
// land in res.
func (r *Reconciler) importOne(ctx context.Context, p models.Provider, re *models.RemoteEvent, res *models.SyncResult) {
	id := re.ID
	if id == "" {
		id = "(no id)"
	}
	if re.Err != nil {
		r.logger.Warn("Skipping malformed remote event.", "provider", p, "externalID", id, "error", re.Err)
		res.AddError(id, re.Err)
		return
	}
	if re.ID == "" {
		res.AddError(id, errors.New("remote event has no id"))
		return
	}

	existing, err := r.events.FindByExternalID(ctx, p, re.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		res.AddError(re.ID, err)
		return
	}

	if re.Cancelled {
		if existing == nil {
			res.Skipped++
			return
		}
		status, synced := models.StatusCancelled, models.SyncSynced
		if _, err := r.events.Update(ctx, existing.ID, models.EventPatch{Status: &status, SyncStatus: &synced}); err != nil {
			res.AddError(re.ID, err)
			return
		}
		r.logger.Debug("Cancelled event.", "provider", p, "externalID", re.ID, "id", existing.ID)
		res.SyncedEvents++
		return
	}

	ev := re.Event
	ev.ExternalProvider = p
	ev.ExternalCalendarID = re.ID

	if existing != nil {
		patch := models.ContentPatch(&ev)
		synced := models.SyncSynced
		patch.SyncStatus = &synced
		if _, err := r.events.Update(ctx, existing.ID, patch); err != nil {
			res.AddError(re.ID, err)
			return
		}
		r.logger.Debug("Updated event.", "provider", p, "externalID", re.ID, "id", existing.ID)
		res.SyncedEvents++
		return
	}

	ev.ID = ""
	ev.SyncStatus = models.SyncSynced
	if err := r.events.Insert(ctx, &ev); err != nil {
		res.AddError(re.ID, err)
		return
	}
	r.logger.Debug("Imported event.", "provider", p, "externalID", re.ID, "id", ev.ID)
	res.SyncedEvents++
}
