package models

import (
	"errors"
	"fmt"
	"time"
)

// EventType classifies a schedule event.
type EventType string

const (
	EventTypeProject     EventType = "project"
	EventTypeMeeting     EventType = "meeting"
	EventTypeAppointment EventType = "appointment"
	EventTypeReminder    EventType = "reminder"
	EventTypeTask        EventType = "task"
	EventTypeOther       EventType = "other"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeProject, EventTypeMeeting, EventTypeAppointment, EventTypeReminder, EventTypeTask, EventTypeOther:
		return true
	}
	return false
}

// EventStatus is the work status of a schedule event.
type EventStatus string

const (
	StatusScheduled  EventStatus = "scheduled"
	StatusInProgress EventStatus = "in_progress"
	StatusCompleted  EventStatus = "completed"
	StatusCancelled  EventStatus = "cancelled"
)

func (s EventStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Priority is the four-level urgency of an event.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// SyncStatus tracks where a local record stands relative to its external copy.
type SyncStatus string

const (
	SyncLocal   SyncStatus = "local"
	SyncPending SyncStatus = "pending_sync"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "sync_failed"
)

func (s SyncStatus) Valid() bool {
	switch s {
	case SyncLocal, SyncPending, SyncSynced, SyncFailed:
		return true
	}
	return false
}

// ScheduleEvent is the canonical unit of scheduling data.
// ExternalCalendarID is scoped by ExternalProvider; both are empty until the
// event is first exported or matched by an import.
type ScheduleEvent struct {
	ID                 string      `db:"id" json:"id"`
	Title              string      `db:"title" json:"title"`
	Description        string      `db:"description" json:"description,omitempty"`
	Location           string      `db:"location" json:"location,omitempty"`
	StartTime          time.Time   `db:"start_time" json:"start_time"`
	EndTime            time.Time   `db:"end_time" json:"end_time"`
	AllDay             bool        `db:"all_day" json:"all_day"`
	EventType          EventType   `db:"event_type" json:"event_type"`
	Status             EventStatus `db:"status" json:"status"`
	Priority           Priority    `db:"priority" json:"priority"`
	ExternalProvider   Provider    `db:"external_provider" json:"external_provider,omitempty"`
	ExternalCalendarID string      `db:"external_calendar_id" json:"external_calendar_id,omitempty"`
	SyncStatus         SyncStatus  `db:"sync_status" json:"sync_status"`
	CreatedAt          time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at" json:"updated_at"`
}

var (
	ErrTitleRequired  = errors.New("title is required")
	ErrEndBeforeStart = errors.New("end time is before start time")
)

// Normalize fills unset enumerations with their defaults.
func (e *ScheduleEvent) Normalize() {
	if e.EventType == "" {
		e.EventType = EventTypeOther
	}
	if e.Status == "" {
		e.Status = StatusScheduled
	}
	if e.Priority == "" {
		e.Priority = PriorityMedium
	}
	if e.SyncStatus == "" {
		e.SyncStatus = SyncLocal
	}
}

// Validate checks the invariants every stored event must satisfy.
func (e *ScheduleEvent) Validate() error {
	if e.Title == "" {
		return ErrTitleRequired
	}
	if e.EndTime.Before(e.StartTime) {
		return ErrEndBeforeStart
	}
	if e.EventType != "" && !e.EventType.Valid() {
		return fmt.Errorf("invalid event type %q", e.EventType)
	}
	if e.Status != "" && !e.Status.Valid() {
		return fmt.Errorf("invalid status %q", e.Status)
	}
	if e.Priority != "" && !e.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", e.Priority)
	}
	if e.SyncStatus == SyncSynced && e.ExternalCalendarID == "" {
		return errors.New("synced event has no external calendar id")
	}
	return nil
}

// LinkedTo reports whether the event carries an external id in p's namespace.
func (e *ScheduleEvent) LinkedTo(p Provider) bool {
	return e.ExternalCalendarID != "" && e.ExternalProvider == p
}

// EventPatch is a partial update; nil fields are left untouched.
type EventPatch struct {
	Title              *string
	Description        *string
	Location           *string
	StartTime          *time.Time
	EndTime            *time.Time
	AllDay             *bool
	EventType          *EventType
	Status             *EventStatus
	Priority           *Priority
	ExternalProvider   *Provider
	ExternalCalendarID *string
	SyncStatus         *SyncStatus
}

// ContentPatch copies the content fields of src into a patch. Enumerations the
// source did not carry are left out so a provider without a notion of, say,
// event type does not reset the local value.
func ContentPatch(src *ScheduleEvent) EventPatch {
	title, desc, loc := src.Title, src.Description, src.Location
	start, end, allDay := src.StartTime, src.EndTime, src.AllDay
	p := EventPatch{
		Title:       &title,
		Description: &desc,
		Location:    &loc,
		StartTime:   &start,
		EndTime:     &end,
		AllDay:      &allDay,
	}
	if src.EventType != "" {
		t := src.EventType
		p.EventType = &t
	}
	if src.Status != "" {
		s := src.Status
		p.Status = &s
	}
	if src.Priority != "" {
		pr := src.Priority
		p.Priority = &pr
	}
	return p
}

// Apply writes the patch onto e.
func (p EventPatch) Apply(e *ScheduleEvent) {
	if p.Title != nil {
		e.Title = *p.Title
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Location != nil {
		e.Location = *p.Location
	}
	if p.StartTime != nil {
		e.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		e.EndTime = *p.EndTime
	}
	if p.AllDay != nil {
		e.AllDay = *p.AllDay
	}
	if p.EventType != nil {
		e.EventType = *p.EventType
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.Priority != nil {
		e.Priority = *p.Priority
	}
	if p.ExternalProvider != nil {
		e.ExternalProvider = *p.ExternalProvider
	}
	if p.ExternalCalendarID != nil {
		e.ExternalCalendarID = *p.ExternalCalendarID
	}
	if p.SyncStatus != nil {
		e.SyncStatus = *p.SyncStatus
	}
}

// LinkPatch records an external id and marks the event synced.
func LinkPatch(p Provider, externalID string) EventPatch {
	status := SyncSynced
	return EventPatch{ExternalProvider: &p, ExternalCalendarID: &externalID, SyncStatus: &status}
}

// StatusPatch changes only the sync status.
func StatusPatch(s SyncStatus) EventPatch {
	return EventPatch{SyncStatus: &s}
}

// EventFilter narrows a store query. Zero values match everything.
type EventFilter struct {
	From         *time.Time
	To           *time.Time
	SyncStatuses []SyncStatus
	Limit        int
}
