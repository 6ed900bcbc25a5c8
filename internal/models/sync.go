package models

import "fmt"

// SyncResult summarises one sync operation. It is never persisted.
type SyncResult struct {
	Success      bool     `json:"success"`
	Message      string   `json:"message"`
	SyncedEvents int      `json:"synced_events"`
	Skipped      int      `json:"skipped"`
	Errors       []string `json:"errors"`
}

// AddError records a per-item failure.
func (r *SyncResult) AddError(id string, err error) {
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", id, err))
}

// Merge folds the counts and errors of other into r.
func (r *SyncResult) Merge(other *SyncResult) {
	if other == nil {
		return
	}
	r.SyncedEvents += other.SyncedEvents
	r.Skipped += other.Skipped
	r.Errors = append(r.Errors, other.Errors...)
}

// Summarize sets Message from the counts.
func (r *SyncResult) Summarize(verb string) {
	r.Message = fmt.Sprintf("%s %d events", verb, r.SyncedEvents)
	if r.Skipped > 0 {
		r.Message += fmt.Sprintf(", skipped %d", r.Skipped)
	}
	if len(r.Errors) > 0 {
		r.Message += fmt.Sprintf(", %d errors", len(r.Errors))
	}
}

// RemoteEvent is one provider-side event as seen by an adapter.
// Err is set when the provider payload could not be mapped; Event is then
// only partially filled. Cancelled marks a remote deletion or cancellation.
type RemoteEvent struct {
	ID        string
	Event     ScheduleEvent
	Cancelled bool
	Err       error
}

// RemoteList is the result of listing a provider calendar.
// NextSyncToken, when non-empty, may be passed back to list only changes.
type RemoteList struct {
	Events        []RemoteEvent
	NextSyncToken string
}
