// Package google maps schedule events onto the Google Calendar API.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"calsync/internal/models"
	"calsync/internal/network"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// DefaultPageSize is the Calendar API's own default and the pagen importer's choice.
	DefaultPageSize = 250
	maxPageSize     = 2500

	// DefaultLookback bounds a full list when there is no usable sync token.
	DefaultLookback = 6 * 30 * 24 * time.Hour

	privateEventType = "calsyncEventType"
	privatePriority  = "calsyncPriority"

	dateLayout = "2006-01-02"
)

// Adapter talks to one Google calendar with a caller-supplied access token.
// It never refreshes tokens itself; a 401 comes back as *network.HTTPError.
type Adapter struct {
	logger     *slog.Logger
	httpClient *http.Client
	endpoint   string
	calendarID string
	pageSize   int64
	lookback   time.Duration
	now        func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient sets the client whose transport carries API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *Adapter) {
		a.httpClient = hc
	}
}

// WithEndpoint overrides the API base URL.
func WithEndpoint(endpoint string) Option {
	return func(a *Adapter) {
		a.endpoint = endpoint
	}
}

func WithCalendarID(id string) Option {
	return func(a *Adapter) {
		a.calendarID = id
	}
}

// WithPageSize sets maxResults per list page. Values outside 1..2500 are ignored.
func WithPageSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 && n <= maxPageSize {
			a.pageSize = int64(n)
		}
	}
}

func WithLookback(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.lookback = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		a.now = now
	}
}

// NewAdapter creates an adapter for the primary calendar unless configured otherwise.
func NewAdapter(logger *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		logger:     logger,
		httpClient: http.DefaultClient,
		calendarID: "primary",
		pageSize:   DefaultPageSize,
		lookback:   DefaultLookback,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// service builds a Calendar client that sends token on every request.
func (a *Adapter) service(ctx context.Context, token string) (*calendar.Service, error) {
	hc := &http.Client{
		Timeout: a.httpClient.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   a.httpClient.Transport,
		},
	}
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if a.endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.endpoint))
	}
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return service, nil
}

// List returns every event page by page. With a sinceToken only changes are
// listed; an expired token (HTTP 410) falls back to a full list bounded by
// the lookback window.
func (a *Adapter) List(ctx context.Context, token, sinceToken string) (*models.RemoteList, error) {
	service, err := a.service(ctx, token)
	if err != nil {
		return nil, err
	}

	out := &models.RemoteList{}
	call := a.listCall(service, sinceToken)
	pageToken := ""
	for {
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Context(ctx).Do()
		if err != nil {
			var apiErr *googleapi.Error
			if sinceToken != "" && errors.As(err, &apiErr) && apiErr.Code == http.StatusGone {
				a.logger.Warn("Sync token invalid, falling back to time-based sync.", "calendarID", a.calendarID)
				sinceToken, pageToken = "", ""
				out.Events = nil
				call = a.listCall(service, "")
				continue
			}
			return nil, translate(http.MethodGet, a.calendarID, err)
		}

		for _, item := range page.Items {
			out.Events = append(out.Events, toRemote(item))
		}
		a.logger.Debug("Fetched events page", "calendarID", a.calendarID, "count", len(page.Items))

		pageToken = page.NextPageToken
		if pageToken == "" {
			out.NextSyncToken = page.NextSyncToken
			break
		}
	}

	a.logger.Info("Successfully fetched events from Google Calendar", "count", len(out.Events), "calendarID", a.calendarID)
	return out, nil
}

func (a *Adapter) listCall(service *calendar.Service, sinceToken string) *calendar.EventsListCall {
	call := service.Events.List(a.calendarID).
		MaxResults(a.pageSize).
		SingleEvents(true)
	if sinceToken != "" {
		// timeMin and orderBy are rejected together with a sync token.
		return call.SyncToken(sinceToken)
	}
	return call.ShowDeleted(false).
		TimeMin(a.now().Add(-a.lookback).UTC().Format(time.RFC3339))
}

// Create inserts ev and returns the provider's copy.
func (a *Adapter) Create(ctx context.Context, token string, ev *models.ScheduleEvent) (*models.RemoteEvent, error) {
	service, err := a.service(ctx, token)
	if err != nil {
		return nil, err
	}
	created, err := service.Events.Insert(a.calendarID, fromEvent(ev)).Context(ctx).Do()
	if err != nil {
		return nil, translate(http.MethodPost, a.calendarID, err)
	}
	re := toRemote(created)
	return &re, nil
}

// Update replaces the remote event externalID with ev's content.
func (a *Adapter) Update(ctx context.Context, token, externalID string, ev *models.ScheduleEvent) (*models.RemoteEvent, error) {
	service, err := a.service(ctx, token)
	if err != nil {
		return nil, err
	}
	updated, err := service.Events.Update(a.calendarID, externalID, fromEvent(ev)).Context(ctx).Do()
	if err != nil {
		return nil, translate(http.MethodPut, a.calendarID+"/"+externalID, err)
	}
	re := toRemote(updated)
	return &re, nil
}

// translate maps client library errors onto the network error types so
// retry policy sees one vocabulary.
func translate(method, resource string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &network.HTTPError{Method: method, URL: resource, StatusCode: apiErr.Code, Body: apiErr.Message}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &network.TransportError{Method: method, URL: resource, Err: err}
	}
	return err
}

func toRemote(item *calendar.Event) models.RemoteEvent {
	re := models.RemoteEvent{ID: item.Id}
	if item.Status == "cancelled" {
		re.Cancelled = true
		return re
	}
	re.Event, re.Err = toEvent(item)
	return re
}

// toEvent converts a Google event to the local model. Status is left unset
// since Google's confirmed/tentative is not a work status.
func toEvent(item *calendar.Event) (models.ScheduleEvent, error) {
	if item.Start == nil {
		return models.ScheduleEvent{}, errors.New("missing start time")
	}
	ev := models.ScheduleEvent{
		Title:              item.Summary,
		Description:        item.Description,
		Location:           item.Location,
		ExternalProvider:   models.ProviderGoogle,
		ExternalCalendarID: item.Id,
	}

	if item.Start.Date != "" {
		start, err := time.Parse(dateLayout, item.Start.Date)
		if err != nil {
			return ev, fmt.Errorf("invalid start date %q: %w", item.Start.Date, err)
		}
		ev.AllDay = true
		ev.StartTime, ev.EndTime = start, start
		if item.End != nil && item.End.Date != "" {
			end, err := time.Parse(dateLayout, item.End.Date)
			if err != nil {
				return ev, fmt.Errorf("invalid end date %q: %w", item.End.Date, err)
			}
			// end.date is exclusive.
			if end = end.AddDate(0, 0, -1); end.After(start) {
				ev.EndTime = end
			}
		}
	} else {
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return ev, fmt.Errorf("invalid start time %q: %w", item.Start.DateTime, err)
		}
		ev.StartTime, ev.EndTime = start, start
		if item.End != nil && item.End.DateTime != "" {
			end, err := time.Parse(time.RFC3339, item.End.DateTime)
			if err != nil {
				return ev, fmt.Errorf("invalid end time %q: %w", item.End.DateTime, err)
			}
			ev.EndTime = end
		}
	}

	if item.ExtendedProperties != nil {
		if t := models.EventType(item.ExtendedProperties.Private[privateEventType]); t.Valid() {
			ev.EventType = t
		}
		if p := models.Priority(item.ExtendedProperties.Private[privatePriority]); p.Valid() {
			ev.Priority = p
		}
	}
	if created, err := time.Parse(time.RFC3339, item.Created); err == nil {
		ev.CreatedAt = created
	}
	if updated, err := time.Parse(time.RFC3339, item.Updated); err == nil {
		ev.UpdatedAt = updated
	}
	return ev, nil
}

func fromEvent(ev *models.ScheduleEvent) *calendar.Event {
	item := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Location:    ev.Location,
	}
	if ev.AllDay {
		item.Start = &calendar.EventDateTime{Date: ev.StartTime.Format(dateLayout)}
		item.End = &calendar.EventDateTime{Date: ev.EndTime.AddDate(0, 0, 1).Format(dateLayout)}
	} else {
		item.Start = &calendar.EventDateTime{DateTime: ev.StartTime.Format(time.RFC3339)}
		item.End = &calendar.EventDateTime{DateTime: ev.EndTime.Format(time.RFC3339)}
	}

	private := map[string]string{}
	if ev.EventType != "" {
		private[privateEventType] = string(ev.EventType)
	}
	if ev.Priority != "" {
		private[privatePriority] = string(ev.Priority)
	}
	if len(private) > 0 {
		item.ExtendedProperties = &calendar.EventExtendedProperties{Private: private}
	}
	return item
}
