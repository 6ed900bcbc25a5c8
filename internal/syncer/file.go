package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"calsync/internal/ics"
	"calsync/internal/models"
	"calsync/internal/store"

	"github.com/google/uuid"
)

// ExportToFile writes the events matching filter to w as one iCalendar
// document. Local state is not changed.
func (r *Reconciler) ExportToFile(ctx context.Context, w io.Writer, filter models.EventFilter) (*models.SyncResult, error) {
	events, err := r.events.List(ctx, filter)
	if err != nil {
		return failed(nil, fmt.Errorf("failed to list events: %w", err))
	}
	if err := r.encoder.Encode(w, events); err != nil {
		return failed(nil, fmt.Errorf("failed to write calendar: %w", err))
	}
	res := &models.SyncResult{Success: true, SyncedEvents: len(events)}
	res.Summarize("Exported")
	return res, nil
}

// ImportFromFile reads an iCalendar document and merges its events into the
// local store. Events are keyed by UID in the ical namespace, except for UIDs
// this engine generated itself, which map back onto the original local event.
// Records the decoder dropped are reported as item errors.
func (r *Reconciler) ImportFromFile(ctx context.Context, rd io.Reader) (*models.SyncResult, error) {
	doc, err := ics.Decode(rd)
	if err != nil {
		return failed(nil, err)
	}

	res := &models.SyncResult{}
	for _, d := range doc.Dropped {
		id := d.UID
		if id == "" {
			id = fmt.Sprintf("line %d", d.Line)
		}
		res.AddError(id, errors.New(d.Reason))
	}

	for i := range doc.Events {
		if err := ctx.Err(); err != nil {
			return failed(res, err)
		}
		ev := doc.Events[i]
		uid := ev.ExternalCalendarID
		if uid == "" {
			uid = uuid.NewString()
			r.logger.Warn("Calendar entry has no UID, assigning one.", "title", ev.Title, "uid", uid)
		}

		if localID, ok := r.encoder.LocalID(uid); ok {
			handled, err := r.reimport(ctx, localID, &ev)
			if err != nil {
				res.AddError(uid, err)
				continue
			}
			if handled {
				res.SyncedEvents++
				continue
			}
		}

		r.importOne(ctx, models.ProviderICal, &models.RemoteEvent{ID: uid, Event: ev}, res)
	}

	res.Success = true
	res.Summarize("Imported")
	return res, nil
}

// reimport overwrites the content of a local event from a copy that was
// previously exported to a file. It reports false when the event no longer
// exists locally.
func (r *Reconciler) reimport(ctx context.Context, localID string, ev *models.ScheduleEvent) (bool, error) {
	if _, err := r.events.Get(ctx, localID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if _, err := r.events.Update(ctx, localID, models.ContentPatch(ev)); err != nil {
		return false, err
	}
	r.logger.Debug("Matched exported event.", "id", localID)
	return true, nil
}
