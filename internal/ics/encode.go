// Package ics converts schedule events to and from iCalendar text.
package ics

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"calsync/internal/models"

	"github.com/emersion/go-ical"
)

const (
	// DefaultDomain is appended to local event ids to form stable UIDs.
	DefaultDomain = "calsync.local"

	productID = "-//calsync//EN"

	propEventType = "X-CALSYNC-EVENT-TYPE"

	dateFormat     = "20060102"
	dateTimeFormat = "20060102T150405"
)

// textEscaper applies the RFC 5545 TEXT escapes. Backslash must come first so
// the escapes it introduces are not escaped again.
var textEscaper = []struct{ from, to string }{
	{`\`, `\\`},
	{`;`, `\;`},
	{`,`, `\,`},
	{"\n", `\n`},
}

// EscapeText escapes a value for use in a TEXT property.
func EscapeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, r := range textEscaper {
		s = strings.ReplaceAll(s, r.from, r.to)
	}
	return s
}

// Encoder renders schedule events as VEVENT components.
type Encoder struct {
	Domain string
	Now    func() time.Time
}

// NewEncoder returns an encoder that derives UIDs with the given domain.
func NewEncoder(domain string) *Encoder {
	if domain == "" {
		domain = DefaultDomain
	}
	return &Encoder{Domain: domain, Now: time.Now}
}

// UID returns the iCalendar UID for an event. Events that came from an ICS
// file keep their original UID; everything else gets <id>@<domain>.
func (e *Encoder) UID(ev *models.ScheduleEvent) string {
	if ev.LinkedTo(models.ProviderICal) {
		return ev.ExternalCalendarID
	}
	return ev.ID + "@" + e.Domain
}

// LocalID extracts the local event id from a UID produced by this encoder.
func (e *Encoder) LocalID(uid string) (string, bool) {
	suffix := "@" + e.Domain
	if !strings.HasSuffix(uid, suffix) || len(uid) == len(suffix) {
		return "", false
	}
	return strings.TrimSuffix(uid, suffix), true
}

// Component converts an event into a VEVENT. The UID is passed in so callers
// that store objects under a provider-assigned UID can override it.
func (e *Encoder) Component(ev *models.ScheduleEvent, uid string) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	setText(ve, ical.PropUID, uid)
	setDateTime(ve, ical.PropDateTimeStamp, e.stamp(ev))

	if ev.AllDay {
		setDate(ve, ical.PropDateTimeStart, ev.StartTime)
		// DTEND is exclusive for date values.
		setDate(ve, ical.PropDateTimeEnd, ev.EndTime.AddDate(0, 0, 1))
	} else {
		setDateTime(ve, ical.PropDateTimeStart, ev.StartTime)
		setDateTime(ve, ical.PropDateTimeEnd, ev.EndTime)
	}

	setText(ve, ical.PropSummary, ev.Title)
	if ev.Description != "" {
		setText(ve, ical.PropDescription, ev.Description)
	}
	if ev.Location != "" {
		setText(ve, ical.PropLocation, ev.Location)
	}
	if ev.Status != "" {
		setRaw(ve, ical.PropStatus, strings.ToUpper(string(ev.Status)))
	}
	if n := priorityNumber(ev.Priority); n > 0 {
		setRaw(ve, ical.PropPriority, fmt.Sprint(n))
	}
	if ev.EventType != "" {
		setText(ve, propEventType, string(ev.EventType))
	}
	if !ev.CreatedAt.IsZero() {
		setDateTime(ve, ical.PropCreated, ev.CreatedAt)
	}
	if !ev.UpdatedAt.IsZero() {
		setDateTime(ve, ical.PropLastModified, ev.UpdatedAt)
	}
	return ve
}

// Calendar wraps events in a VCALENDAR.
func (e *Encoder) Calendar(events []models.ScheduleEvent) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	for i := range events {
		ev := &events[i]
		cal.Children = append(cal.Children, e.Component(ev, e.UID(ev)))
	}
	return cal
}

// Encode writes events as an iCalendar stream.
func (e *Encoder) Encode(w io.Writer, events []models.ScheduleEvent) error {
	if err := ical.NewEncoder(w).Encode(e.Calendar(events)); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

// Encode renders events with the default domain.
func Encode(events []models.ScheduleEvent) (string, error) {
	var buf bytes.Buffer
	if err := NewEncoder(DefaultDomain).Encode(&buf, events); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// stamp picks a DTSTAMP that does not change between encodings of the same
// unmodified event.
func (e *Encoder) stamp(ev *models.ScheduleEvent) time.Time {
	switch {
	case !ev.UpdatedAt.IsZero():
		return ev.UpdatedAt
	case !ev.CreatedAt.IsZero():
		return ev.CreatedAt
	}
	return e.Now()
}

func priorityNumber(p models.Priority) int {
	switch p {
	case models.PriorityUrgent:
		return 1
	case models.PriorityHigh:
		return 3
	case models.PriorityMedium:
		return 5
	case models.PriorityLow:
		return 7
	}
	return 0
}

func setRaw(c *ical.Component, name, value string) {
	prop := ical.NewProp(name)
	prop.Value = value
	c.Props.Set(prop)
}

func setText(c *ical.Component, name, value string) {
	setRaw(c, name, EscapeText(value))
}

func setDateTime(c *ical.Component, name string, t time.Time) {
	setRaw(c, name, t.UTC().Format(dateTimeFormat)+"Z")
}

func setDate(c *ical.Component, name string, t time.Time) {
	prop := ical.NewProp(name)
	prop.Params.Set(ical.ParamValue, string(ical.ValueDate))
	prop.Value = t.Format(dateFormat)
	c.Props.Set(prop)
}
