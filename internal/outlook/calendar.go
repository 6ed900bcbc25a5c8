// Package outlook maps schedule events onto Microsoft Graph calendar events.
package outlook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"calsync/internal/models"
	"calsync/internal/network"

	"github.com/goccy/go-json"
)

const (
	// DefaultBaseURL is the Graph v1.0 root.
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	DefaultPageSize = 250
	maxPageSize     = 1000

	graphTimeFormat = "2006-01-02T15:04:05"

	// Graph returns times in the event's own zone and HTML bodies unless asked otherwise.
	preferHeader = `outlook.timezone="UTC", outlook.body-content-type="text"`
)

type dateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type location struct {
	DisplayName string `json:"displayName"`
}

type graphEvent struct {
	ID                   string            `json:"id,omitempty"`
	Subject              string            `json:"subject"`
	Body                 *itemBody         `json:"body,omitempty"`
	Location             *location         `json:"location,omitempty"`
	Start                *dateTimeTimeZone `json:"start,omitempty"`
	End                  *dateTimeTimeZone `json:"end,omitempty"`
	IsAllDay             bool              `json:"isAllDay"`
	IsCancelled          bool              `json:"isCancelled,omitempty"`
	Importance           string            `json:"importance,omitempty"`
	CreatedDateTime      string            `json:"createdDateTime,omitempty"`
	LastModifiedDateTime string            `json:"lastModifiedDateTime,omitempty"`
}

type eventPage struct {
	Value    []json.RawMessage `json:"value"`
	NextLink string            `json:"@odata.nextLink"`
}

// Adapter talks to the signed-in user's default Outlook calendar.
type Adapter struct {
	logger   *slog.Logger
	client   *network.Client
	baseURL  string
	pageSize int
	now      func() time.Time
}

type Option func(*Adapter)

// WithBaseURL points the adapter at another Graph root.
func WithBaseURL(u string) Option {
	return func(a *Adapter) {
		a.baseURL = strings.TrimRight(u, "/")
	}
}

// WithPageSize sets $top. Values outside 1..1000 are ignored.
func WithPageSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 && n <= maxPageSize {
			a.pageSize = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

// NewAdapter creates an adapter that sends requests through client.
func NewAdapter(logger *slog.Logger, client *network.Client, opts ...Option) *Adapter {
	a := &Adapter{
		logger:   logger,
		client:   client.WithHeader("Prefer", preferHeader),
		baseURL:  DefaultBaseURL,
		pageSize: DefaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// List follows @odata.nextLink until the last page. sinceToken is an RFC 3339
// instant; when set only events modified since then are returned. The next
// token is the time this listing started.
func (a *Adapter) List(ctx context.Context, token, sinceToken string) (*models.RemoteList, error) {
	started := a.now().UTC()

	params := url.Values{}
	params.Set("$top", strconv.Itoa(a.pageSize))
	if sinceToken != "" {
		since, err := time.Parse(time.RFC3339, sinceToken)
		if err != nil {
			a.logger.Warn("Ignoring unreadable sync token, listing everything.", "token", sinceToken)
		} else {
			params.Set("$filter", "lastModifiedDateTime ge "+since.UTC().Format(time.RFC3339))
		}
	}

	out := &models.RemoteList{}
	next := a.baseURL + "/me/events?" + params.Encode()
	for next != "" {
		var page eventPage
		if err := a.client.GetJSON(ctx, next, token, &page); err != nil {
			return nil, err
		}
		for _, raw := range page.Value {
			out.Events = append(out.Events, decodeRemote(raw))
		}
		a.logger.Debug("Fetched events page", "count", len(page.Value))
		next = page.NextLink
	}

	out.NextSyncToken = started.Format(time.RFC3339)
	a.logger.Info("Successfully fetched events from Outlook", "count", len(out.Events))
	return out, nil
}

// Create posts a new event.
func (a *Adapter) Create(ctx context.Context, token string, ev *models.ScheduleEvent) (*models.RemoteEvent, error) {
	var created graphEvent
	if err := a.client.PostJSON(ctx, a.baseURL+"/me/events", token, fromEvent(ev), &created); err != nil {
		return nil, err
	}
	re := toRemote(&created)
	return &re, nil
}

// Update patches the content fields of an existing event.
func (a *Adapter) Update(ctx context.Context, token, externalID string, ev *models.ScheduleEvent) (*models.RemoteEvent, error) {
	var updated graphEvent
	u := a.baseURL + "/me/events/" + url.PathEscape(externalID)
	if err := a.client.PatchJSON(ctx, u, token, fromEvent(ev), &updated); err != nil {
		return nil, err
	}
	re := toRemote(&updated)
	return &re, nil
}

// decodeRemote maps one list item. Items that do not decode are still
// reported, under whatever id can be recovered, so the caller can name them.
func decodeRemote(raw json.RawMessage) models.RemoteEvent {
	var ge graphEvent
	if err := json.Unmarshal(raw, &ge); err != nil {
		var idOnly struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(raw, &idOnly)
		return models.RemoteEvent{ID: idOnly.ID, Err: fmt.Errorf("unexpected event payload: %w", err)}
	}
	return toRemote(&ge)
}

func toRemote(ge *graphEvent) models.RemoteEvent {
	re := models.RemoteEvent{ID: ge.ID}
	if ge.IsCancelled {
		re.Cancelled = true
		return re
	}
	re.Event, re.Err = toEvent(ge)
	return re
}

func toEvent(ge *graphEvent) (models.ScheduleEvent, error) {
	if ge.Start == nil || ge.Start.DateTime == "" {
		return models.ScheduleEvent{}, errors.New("missing start time")
	}
	start, err := parseGraphTime(ge.Start)
	if err != nil {
		return models.ScheduleEvent{}, fmt.Errorf("invalid start time: %w", err)
	}
	end := start
	if ge.End != nil && ge.End.DateTime != "" {
		if end, err = parseGraphTime(ge.End); err != nil {
			return models.ScheduleEvent{}, fmt.Errorf("invalid end time: %w", err)
		}
	}
	if ge.IsAllDay {
		// All-day events end at midnight of the following day.
		if last := end.AddDate(0, 0, -1); !last.Before(start) {
			end = last
		} else {
			end = start
		}
	}

	ev := models.ScheduleEvent{
		Title:              ge.Subject,
		StartTime:          start,
		EndTime:            end,
		AllDay:             ge.IsAllDay,
		Priority:           priorityFromImportance(ge.Importance),
		ExternalProvider:   models.ProviderOutlook,
		ExternalCalendarID: ge.ID,
	}
	if ge.Body != nil {
		ev.Description = ge.Body.Content
	}
	if ge.Location != nil {
		ev.Location = ge.Location.DisplayName
	}
	if t, err := time.Parse(time.RFC3339, ge.CreatedDateTime); err == nil {
		ev.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, ge.LastModifiedDateTime); err == nil {
		ev.UpdatedAt = t
	}
	return ev, nil
}

func fromEvent(ev *models.ScheduleEvent) *graphEvent {
	ge := &graphEvent{
		Subject:    ev.Title,
		Body:       &itemBody{ContentType: "text", Content: ev.Description},
		Location:   &location{DisplayName: ev.Location},
		IsAllDay:   ev.AllDay,
		Importance: importanceFromPriority(ev.Priority),
	}
	start, end := ev.StartTime.UTC(), ev.EndTime.UTC()
	if ev.AllDay {
		start = time.Date(ev.StartTime.Year(), ev.StartTime.Month(), ev.StartTime.Day(), 0, 0, 0, 0, time.UTC)
		end = time.Date(ev.EndTime.Year(), ev.EndTime.Month(), ev.EndTime.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	}
	ge.Start = &dateTimeTimeZone{DateTime: start.Format(graphTimeFormat), TimeZone: "UTC"}
	ge.End = &dateTimeTimeZone{DateTime: end.Format(graphTimeFormat), TimeZone: "UTC"}
	return ge
}

// parseGraphTime reads a dateTimeTimeZone. Fractional seconds are accepted.
func parseGraphTime(v *dateTimeTimeZone) (time.Time, error) {
	loc := time.UTC
	if v.TimeZone != "" && !strings.EqualFold(v.TimeZone, "UTC") {
		if l, err := time.LoadLocation(v.TimeZone); err == nil {
			loc = l
		}
	}
	return time.ParseInLocation(graphTimeFormat, v.DateTime, loc)
}

func importanceFromPriority(p models.Priority) string {
	switch p {
	case models.PriorityUrgent, models.PriorityHigh:
		return "high"
	case models.PriorityLow:
		return "low"
	case models.PriorityMedium:
		return "normal"
	}
	return ""
}

func priorityFromImportance(s string) models.Priority {
	switch strings.ToLower(s) {
	case "high":
		return models.PriorityHigh
	case "low":
		return models.PriorityLow
	case "normal":
		return models.PriorityMedium
	}
	return ""
}
