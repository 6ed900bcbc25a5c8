package ics

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"calsync/internal/models"

	"github.com/emersion/go-ical"
)

// DroppedRecord describes a VEVENT the decoder could not turn into an event.
type DroppedRecord struct {
	Line   int
	UID    string
	Reason string
}

// Document is the outcome of decoding an iCalendar stream.
type Document struct {
	Events  []models.ScheduleEvent
	Dropped []DroppedRecord
}

var errMissingStart = errors.New("missing DTSTART")

// UnescapeText reverses EscapeText.
func UnescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// Decode reads VEVENT records from r. Records without a usable DTSTART, or cut
// off before END:VEVENT, are reported in Dropped rather than failing the
// whole stream. Unknown properties are ignored. Instances carrying a
// RECURRENCE-ID are skipped so they never shadow their series' master.
func Decode(r io.Reader) (*Document, error) {
	doc := &Document{}
	var (
		cur    *record
		nested int
	)

	drop := func(rec *record, reason string) {
		doc.Dropped = append(doc.Dropped, DroppedRecord{Line: rec.line, UID: rec.uid, Reason: reason})
	}

	err := scanLines(r, func(lineNo int, line string) {
		name, params, value, ok := parseContentLine(line)
		if !ok {
			return
		}
		switch name {
		case "BEGIN":
			comp := strings.ToUpper(value)
			switch {
			case comp == ical.CompEvent && cur != nil && nested == 0:
				drop(cur, "truncated record")
				cur = &record{line: lineNo}
			case comp == ical.CompEvent && cur == nil:
				cur = &record{line: lineNo}
			case cur != nil:
				nested++
			}
			return
		case "END":
			comp := strings.ToUpper(value)
			switch {
			case cur == nil:
			case nested > 0:
				nested--
			case comp == ical.CompEvent && cur.override:
				cur = nil
			case comp == ical.CompEvent:
				ev, err := cur.event()
				if err != nil {
					drop(cur, err.Error())
				} else {
					doc.Events = append(doc.Events, ev)
				}
				cur = nil
			default:
				drop(cur, "truncated record")
				cur = nil
			}
			return
		}
		if cur != nil && nested == 0 {
			cur.set(name, params, value)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar: %w", err)
	}
	if cur != nil {
		drop(cur, "truncated record")
	}
	return doc, nil
}

// DecodeString decodes text and returns only the usable events.
func DecodeString(s string) ([]models.ScheduleEvent, error) {
	doc, err := Decode(strings.NewReader(s))
	if err != nil {
		return nil, err
	}
	return doc.Events, nil
}

// FromComponent maps an already parsed VEVENT, such as one fetched over
// CalDAV, into a schedule event.
func FromComponent(comp *ical.Component) (models.ScheduleEvent, error) {
	rec := &record{}
	for name, props := range comp.Props {
		if len(props) == 0 {
			continue
		}
		rec.set(name, props[0].Params, props[0].Value)
	}
	return rec.event()
}

// scanLines feeds unfolded logical lines to fn. A physical line starting with
// a space or tab continues the previous one.
func scanLines(r io.Reader, fn func(lineNo int, line string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		pending  strings.Builder
		startNo  int
		physical int
	)
	flush := func() {
		if pending.Len() > 0 {
			fn(startNo, pending.String())
			pending.Reset()
		}
	}
	for sc.Scan() {
		physical++
		line := strings.TrimRight(sc.Text(), "\r")
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			pending.WriteString(line[1:])
			continue
		}
		flush()
		if line == "" {
			continue
		}
		startNo = physical
		pending.WriteString(line)
	}
	flush()
	return sc.Err()
}

// parseContentLine splits NAME;PARAM=VALUE:VALUE. Colons inside quoted
// parameter values do not end the name part.
func parseContentLine(line string) (string, ical.Params, string, bool) {
	quoted := false
	colon := -1
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			quoted = !quoted
		case ':':
			if !quoted {
				colon = i
			}
		}
		if colon >= 0 {
			break
		}
	}
	if colon <= 0 {
		return "", nil, "", false
	}

	head, value := line[:colon], line[colon+1:]
	parts := strings.Split(head, ";")
	params := make(ical.Params)
	for _, p := range parts[1:] {
		k, v, found := strings.Cut(p, "=")
		if !found {
			continue
		}
		params.Set(strings.ToUpper(k), strings.Trim(v, `"`))
	}
	return strings.ToUpper(parts[0]), params, value, true
}

type rawValue struct {
	params ical.Params
	value  string
	set    bool
}

// record accumulates the recognised properties of one VEVENT.
type record struct {
	line         int
	uid          string
	summary      string
	description  string
	location     string
	status       string
	priority     string
	eventType    string
	start        rawValue
	end          rawValue
	created      rawValue
	lastModified rawValue
	override     bool
}

func (r *record) set(name string, params ical.Params, value string) {
	switch strings.ToUpper(name) {
	case ical.PropUID:
		r.uid = UnescapeText(value)
	case ical.PropSummary:
		r.summary = UnescapeText(value)
	case ical.PropDescription:
		r.description = UnescapeText(value)
	case ical.PropLocation:
		r.location = UnescapeText(value)
	case ical.PropStatus:
		r.status = value
	case ical.PropPriority:
		r.priority = value
	case propEventType:
		r.eventType = UnescapeText(value)
	case ical.PropDateTimeStart:
		r.start = rawValue{params: params, value: value, set: true}
	case ical.PropDateTimeEnd:
		r.end = rawValue{params: params, value: value, set: true}
	case ical.PropCreated:
		r.created = rawValue{params: params, value: value, set: true}
	case ical.PropLastModified:
		r.lastModified = rawValue{params: params, value: value, set: true}
	case ical.PropRecurrenceID:
		r.override = true
	}
}

func (r *record) event() (models.ScheduleEvent, error) {
	if !r.start.set {
		return models.ScheduleEvent{}, errMissingStart
	}
	start, allDay, err := parseTime(r.start)
	if err != nil {
		return models.ScheduleEvent{}, fmt.Errorf("invalid DTSTART: %w", err)
	}

	end := start
	if r.end.set {
		e, endDateOnly, err := parseTime(r.end)
		if err != nil {
			return models.ScheduleEvent{}, fmt.Errorf("invalid DTEND: %w", err)
		}
		if allDay && endDateOnly {
			e = e.AddDate(0, 0, -1)
		}
		if e.After(start) {
			end = e
		}
	}

	ev := models.ScheduleEvent{
		Title:       r.summary,
		Description: r.description,
		Location:    r.location,
		StartTime:   start,
		EndTime:     end,
		AllDay:      allDay,
		EventType:   parseEventType(r.eventType),
		Status:      parseStatus(r.status),
		Priority:    parsePriority(r.priority),
	}
	if r.uid != "" {
		ev.ExternalProvider = models.ProviderICal
		ev.ExternalCalendarID = r.uid
	}
	if r.created.set {
		ev.CreatedAt, _, _ = parseTime(r.created)
	}
	if r.lastModified.set {
		ev.UpdatedAt, _, _ = parseTime(r.lastModified)
	}
	return ev, nil
}

// parseTime tells date values from date-time values by their shape:
// 8 characters is a date, 16 ending in Z is UTC, 15 is local to TZID
// (or UTC when the zone is unknown).
func parseTime(v rawValue) (time.Time, bool, error) {
	s := strings.TrimSpace(v.value)
	switch {
	case len(s) == len(dateFormat):
		t, err := time.ParseInLocation(dateFormat, s, time.UTC)
		return t, true, err
	case len(s) == len(dateTimeFormat)+1 && (s[len(s)-1] == 'Z' || s[len(s)-1] == 'z'):
		t, err := time.ParseInLocation(dateTimeFormat, s[:len(s)-1], time.UTC)
		return t, false, err
	case len(s) == len(dateTimeFormat):
		loc := time.UTC
		if tzid := v.params.Get(ical.ParamTimezoneID); tzid != "" {
			if l, err := time.LoadLocation(tzid); err == nil {
				loc = l
			}
		}
		t, err := time.ParseInLocation(dateTimeFormat, s, loc)
		return t, false, err
	}
	return time.Time{}, false, fmt.Errorf("unrecognised time value %q", s)
}

func parseStatus(s string) models.EventStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN_PROGRESS", "IN-PROCESS":
		return models.StatusInProgress
	case "COMPLETED":
		return models.StatusCompleted
	case "CANCELLED":
		return models.StatusCancelled
	}
	return models.StatusScheduled
}

func parsePriority(s string) models.Priority {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return models.PriorityMedium
	}
	switch {
	case n >= 1 && n <= 2:
		return models.PriorityUrgent
	case n >= 3 && n <= 4:
		return models.PriorityHigh
	case n >= 6 && n <= 9:
		return models.PriorityLow
	}
	return models.PriorityMedium
}

func parseEventType(s string) models.EventType {
	t := models.EventType(strings.ToLower(strings.TrimSpace(s)))
	if t.Valid() {
		return t
	}
	return models.EventTypeOther
}
