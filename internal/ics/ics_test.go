package ics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"calsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() models.ScheduleEvent {
	start := time.Date(2024, 5, 14, 9, 30, 0, 0, time.FixedZone("EDT", -4*3600))
	return models.ScheduleEvent{
		ID:          "evt-1",
		Title:       "Boiler inspection",
		Description: "Bring the pressure gauge",
		Location:    "12 Harbour Rd",
		StartTime:   start,
		EndTime:     start.Add(90 * time.Minute),
		EventType:   models.EventTypeAppointment,
		Status:      models.StatusScheduled,
		Priority:    models.PriorityHigh,
		CreatedAt:   time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC),
	}
}

func encodeOne(t *testing.T, ev models.ScheduleEvent) string {
	t.Helper()
	out, err := Encode([]models.ScheduleEvent{ev})
	require.NoError(t, err)
	return out
}

// unfold joins folded continuation lines so assertions can look at whole properties.
func unfold(s string) string {
	s = strings.ReplaceAll(s, "\r\n ", "")
	s = strings.ReplaceAll(s, "\r\n\t", "")
	return s
}

func TestEncodeStructure(t *testing.T) {
	out := unfold(encodeOne(t, sampleEvent()))

	assert.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR"))
	assert.Contains(t, out, "END:VCALENDAR")
	assert.Contains(t, out, "BEGIN:VEVENT")
	assert.Contains(t, out, "END:VEVENT")
	assert.Contains(t, out, "UID:evt-1@calsync.local")
	assert.Contains(t, out, "DTSTART:20240514T133000Z")
	assert.Contains(t, out, "DTEND:20240514T150000Z")
	assert.Contains(t, out, "SUMMARY:Boiler inspection")
	assert.Contains(t, out, "LOCATION:12 Harbour Rd")
	assert.Contains(t, out, "STATUS:SCHEDULED")
	assert.Contains(t, out, "PRIORITY:3")
	assert.Contains(t, out, "CREATED:20240501T080000Z")
	assert.Contains(t, out, "LAST-MODIFIED:20240502T080000Z")
}

func TestEncodeIsIdempotent(t *testing.T) {
	ev := sampleEvent()
	assert.Equal(t, encodeOne(t, ev), encodeOne(t, ev))
}

func TestEncodeOmitsEmptyOptionalFields(t *testing.T) {
	ev := sampleEvent()
	ev.Description = ""
	ev.Location = ""
	out := encodeOne(t, ev)

	assert.NotContains(t, out, "DESCRIPTION")
	assert.NotContains(t, out, "LOCATION")
}

func TestRoundTrip(t *testing.T) {
	ev := sampleEvent()

	events, err := DecodeString(encodeOne(t, ev))
	require.NoError(t, err)
	require.Len(t, events, 1)

	got := events[0]
	assert.Equal(t, ev.Title, got.Title)
	assert.Equal(t, ev.Description, got.Description)
	assert.Equal(t, ev.Location, got.Location)
	assert.True(t, ev.StartTime.Equal(got.StartTime), "start %v != %v", ev.StartTime, got.StartTime)
	assert.True(t, ev.EndTime.Equal(got.EndTime), "end %v != %v", ev.EndTime, got.EndTime)
	assert.False(t, got.AllDay)
	assert.Equal(t, models.EventTypeAppointment, got.EventType)
	assert.Equal(t, models.StatusScheduled, got.Status)
	assert.Equal(t, models.ProviderICal, got.ExternalProvider)
	assert.Equal(t, "evt-1@calsync.local", got.ExternalCalendarID)
}

func TestEscaping(t *testing.T) {
	title := `Pipes; valves, and \ fittings` + "\nsecond line"
	ev := sampleEvent()
	ev.Title = title

	out := unfold(encodeOne(t, ev))

	var summary string
	for _, line := range strings.Split(out, "\r\n") {
		if strings.HasPrefix(line, "SUMMARY:") {
			summary = strings.TrimPrefix(line, "SUMMARY:")
		}
	}
	require.NotEmpty(t, summary)
	assert.Equal(t, `Pipes\; valves\, and \\ fittings\nsecond line`, summary)
	assert.NotContains(t, summary, "\n")

	events, err := DecodeString(out)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, title, events[0].Title)
}

func TestEscapeTextOrder(t *testing.T) {
	assert.Equal(t, `a\\\;b`, EscapeText(`a\;b`))
	assert.Equal(t, `a\;b`, UnescapeText(EscapeText(`a;b`)))
	assert.Equal(t, `x\n`, UnescapeText(`x\\n`))
	assert.Equal(t, "trailing\\", UnescapeText("trailing\\"))
}

func TestUnicodePassesThrough(t *testing.T) {
	ev := sampleEvent()
	ev.Title = "Réunion équipe – café ☕"
	out := encodeOne(t, ev)
	assert.Contains(t, unfold(out), "Réunion")

	events, err := DecodeString(out)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ev.Title, events[0].Title)
}

func TestPriorityMapping(t *testing.T) {
	cases := []struct {
		priority models.Priority
		line     string
	}{
		{models.PriorityUrgent, "PRIORITY:1"},
		{models.PriorityHigh, "PRIORITY:3"},
		{models.PriorityMedium, "PRIORITY:5"},
		{models.PriorityLow, "PRIORITY:7"},
	}
	for _, tc := range cases {
		t.Run(string(tc.priority), func(t *testing.T) {
			ev := sampleEvent()
			ev.Priority = tc.priority
			out := encodeOne(t, ev)
			assert.Contains(t, out, tc.line)

			events, err := DecodeString(out)
			require.NoError(t, err)
			require.Len(t, events, 1)
			assert.True(t, events[0].Priority.Valid())
		})
	}
}

func TestAllDayUsesDateValues(t *testing.T) {
	ev := sampleEvent()
	ev.AllDay = true
	ev.StartTime = time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC)
	ev.EndTime = time.Date(2024, 7, 5, 0, 0, 0, 0, time.UTC)

	out := unfold(encodeOne(t, ev))
	assert.Contains(t, out, "DTSTART;VALUE=DATE:20240704")
	assert.Contains(t, out, "DTEND;VALUE=DATE:20240706")

	events, err := DecodeString(out)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].AllDay)
	assert.True(t, ev.StartTime.Equal(events[0].StartTime))
	assert.True(t, ev.EndTime.Equal(events[0].EndTime))
}

func TestDecodeDistinguishesDateByLength(t *testing.T) {
	text := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"BEGIN:VEVENT",
		"UID:a",
		"SUMMARY:Holiday",
		"DTSTART:20241225",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:b",
		"SUMMARY:Call",
		"DTSTART:20241226T100000Z",
		"DTEND:20241226T103000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n")

	events, err := DecodeString(text)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.True(t, events[0].AllDay)
	assert.Equal(t, time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC), events[0].StartTime)
	assert.Equal(t, events[0].StartTime, events[0].EndTime)

	assert.False(t, events[1].AllDay)
	assert.Equal(t, 30*time.Minute, events[1].EndTime.Sub(events[1].StartTime))
}

func TestDecodeDropsMalformedRecords(t *testing.T) {
	text := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"BEGIN:VEVENT",
		"UID:no-start",
		"SUMMARY:Missing start",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:good",
		"SUMMARY:Good",
		"X-UNKNOWN-THING;FOO=bar:whatever",
		"DTSTART:20240101T090000Z",
		"DTEND:20240101T100000Z",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:truncated",
		"SUMMARY:Cut off",
		"DTSTART:20240102T090000Z",
	}, "\n")

	doc, err := Decode(strings.NewReader(text))
	require.NoError(t, err)
	require.Len(t, doc.Events, 1)
	assert.Equal(t, "Good", doc.Events[0].Title)

	require.Len(t, doc.Dropped, 2)
	assert.Equal(t, "no-start", doc.Dropped[0].UID)
	assert.Equal(t, "missing DTSTART", doc.Dropped[0].Reason)
	assert.Equal(t, "truncated", doc.Dropped[1].UID)
	assert.Equal(t, "truncated record", doc.Dropped[1].Reason)
}

func TestDecodeUnfoldsAndIgnoresNestedComponents(t *testing.T) {
	text := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"BEGIN:VEVENT",
		"UID:folded",
		"SUMMARY:A very long summary that a",
		"  producer decided to fold",
		"DESCRIPTION:Event body",
		"DTSTART;TZID=\"Europe/Berlin\":20240301T100000",
		"BEGIN:VALARM",
		"DESCRIPTION:Alarm text",
		"END:VALARM",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n")

	events, err := DecodeString(text)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "A very long summary that a producer decided to fold", events[0].Title)
	assert.Equal(t, "Event body", events[0].Description)
	assert.False(t, events[0].StartTime.IsZero())
}

func TestDecodeSkipsRecurrenceOverrides(t *testing.T) {
	text := strings.Join([]string{
		"BEGIN:VCALENDAR",
		"BEGIN:VEVENT",
		"UID:weekly",
		"SUMMARY:Standup",
		"DTSTART:20240304T090000Z",
		"RRULE:FREQ=WEEKLY",
		"END:VEVENT",
		"BEGIN:VEVENT",
		"UID:weekly",
		"RECURRENCE-ID:20240311T090000Z",
		"SUMMARY:Standup (moved)",
		"DTSTART:20240311T100000Z",
		"END:VEVENT",
		"END:VCALENDAR",
	}, "\r\n")

	doc, err := Decode(strings.NewReader(text))
	require.NoError(t, err)
	require.Len(t, doc.Events, 1)
	assert.Empty(t, doc.Dropped)
	assert.Equal(t, "Standup", doc.Events[0].Title)
	assert.Equal(t, time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC), doc.Events[0].StartTime.UTC())
}

func TestDecodeMapsStatus(t *testing.T) {
	ev := sampleEvent()
	ev.Status = models.StatusInProgress
	events, err := DecodeString(encodeOne(t, ev))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.StatusInProgress, events[0].Status)
}

func TestUIDKeepsImportedIdentity(t *testing.T) {
	enc := NewEncoder("example.org")
	ev := sampleEvent()
	assert.Equal(t, "evt-1@example.org", enc.UID(&ev))

	ev.ExternalProvider = models.ProviderICal
	ev.ExternalCalendarID = "abc-123@elsewhere"
	assert.Equal(t, "abc-123@elsewhere", enc.UID(&ev))

	ev.ExternalProvider = models.ProviderGoogle
	assert.Equal(t, "evt-1@example.org", enc.UID(&ev))

	id, ok := enc.LocalID("evt-9@example.org")
	assert.True(t, ok)
	assert.Equal(t, "evt-9", id)
	_, ok = enc.LocalID("evt-9@other.org")
	assert.False(t, ok)
}

func TestEncoderWritesToWriter(t *testing.T) {
	enc := NewEncoder("")
	var buf bytes.Buffer
	require.NoError(t, enc.Encode(&buf, []models.ScheduleEvent{sampleEvent(), sampleEvent()}))
	assert.Equal(t, 2, strings.Count(buf.String(), "BEGIN:VEVENT"))
}
