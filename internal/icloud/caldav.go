// Package icloud syncs schedule events with an iCloud calendar over CalDAV.
package icloud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"calsync/internal/ics"
	"calsync/internal/models"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
)

const (
	iCloudCalDAVEndpoint = "https://caldav.icloud.com/"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "calsync/1.0")
	return t.Transport.RoundTrip(req)
}

// Adapter reads and writes VEVENTs in one named calendar. iCloud uses an
// app-specific password, so the access token passed to each call is ignored.
type Adapter struct {
	client       *caldav.Client
	logger       *slog.Logger
	encoder      *ics.Encoder
	calendarPath string
	now          func() time.Time
}

// Option configures an Adapter.
type Option func(*options)

type options struct {
	endpoint  string
	transport http.RoundTripper
	timeout   time.Duration
	encoder   *ics.Encoder
}

// WithEndpoint points the adapter at another CalDAV server.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithEncoder sets the encoder used to derive UIDs and build VEVENTs.
func WithEncoder(enc *ics.Encoder) Option {
	return func(o *options) {
		o.encoder = enc
	}
}

// NewAdapter logs in and locates the calendar called calendarName.
func NewAdapter(ctx context.Context, logger *slog.Logger, username, password, calendarName string, opts ...Option) (*Adapter, error) {
	o := &options{endpoint: iCloudCalDAVEndpoint, transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(o)
	}
	if o.encoder == nil {
		o.encoder = ics.NewEncoder("")
	}

	httpClient := &http.Client{
		Timeout: o.timeout,
		Transport: &customTransport{
			Username:  username,
			Password:  password,
			Transport: o.transport,
		},
	}

	caldavClient, err := caldav.NewClient(httpClient, o.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	a := &Adapter{
		client:  caldavClient,
		logger:  logger,
		encoder: o.encoder,
		now:     time.Now,
	}

	logger.Info("Finding iCloud calendar", "calendarName", calendarName)
	calendarPath, err := a.findCalendar(ctx, calendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", calendarName, err)
	}
	a.calendarPath = calendarPath
	logger.Info("Successfully found iCloud calendar", "path", calendarPath)

	return a, nil
}

// List fetches every VEVENT in the calendar. sinceToken is the RFC 3339 start
// time of the previous listing; objects the server reports as unmodified
// since then are left out.
func (a *Adapter) List(ctx context.Context, _ string, sinceToken string) (*models.RemoteList, error) {
	started := a.now().UTC()

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{{Name: ical.CompEvent}},
		},
	}
	objects, err := a.client.QueryCalendar(ctx, a.calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}

	var since time.Time
	if sinceToken != "" {
		if since, err = time.Parse(time.RFC3339, sinceToken); err != nil {
			a.logger.Warn("Ignoring unreadable sync token, listing everything.", "token", sinceToken)
		}
	}

	out := &models.RemoteList{
		Events:        remoteEvents(objects, since),
		NextSyncToken: started.Format(time.RFC3339),
	}
	a.logger.Info("Successfully fetched events from iCloud", "count", len(out.Events))
	return out, nil
}

// Create stores ev as a new object named after a UID derived from its local
// id. The returned id is the object path.
func (a *Adapter) Create(ctx context.Context, _ string, ev *models.ScheduleEvent) (*models.RemoteEvent, error) {
	uid := a.encoder.UID(ev)
	return a.put(ctx, a.objectPath(uid), uid, ev)
}

// Update overwrites the object at externalID, keeping the UID it already
// carries. Objects created by other clients rarely live at <uid>.ics, so the
// path is never derived from the UID.
func (a *Adapter) Update(ctx context.Context, _ string, externalID string, ev *models.ScheduleEvent) (*models.RemoteEvent, error) {
	objectPath := a.objectPath(externalID)
	obj, err := a.client.GetCalendarObject(ctx, objectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch event from CalDAV server: %w", err)
	}
	uid := masterUID(obj.Data)
	if uid == "" {
		uid = strings.TrimSuffix(path.Base(objectPath), ".ics")
	}
	return a.put(ctx, objectPath, uid, ev)
}

// objectPath accepts either an object path or a bare UID from an older link.
func (a *Adapter) objectPath(externalID string) string {
	if strings.Contains(externalID, "/") {
		return externalID
	}
	return path.Join(a.calendarPath, externalID+".ics")
}

func (a *Adapter) put(ctx context.Context, objectPath, uid string, ev *models.ScheduleEvent) (*models.RemoteEvent, error) {
	a.logger.Debug("Syncing event to iCloud", "eventTitle", ev.Title, "uid", uid, "path", objectPath)

	cal := a.encoder.Calendar(nil)
	cal.Children = append(cal.Children, a.encoder.Component(ev, uid))

	// The event path is relative to the endpoint for the webdav client.
	if _, err := a.client.PutCalendarObject(ctx, objectPath, cal); err != nil {
		return nil, fmt.Errorf("failed to put event on CalDAV server: %w", err)
	}

	a.logger.Info("Successfully synced event to iCloud", "eventTitle", ev.Title)
	out := *ev
	out.ExternalProvider = models.ProviderApple
	out.ExternalCalendarID = objectPath
	return &models.RemoteEvent{ID: objectPath, Event: out}, nil
}

// remoteEvents maps calendar objects onto remote events, one per object.
// Recurrence overrides (VEVENTs carrying RECURRENCE-ID) are folded into
// their master.
func remoteEvents(objects []caldav.CalendarObject, since time.Time) []models.RemoteEvent {
	var out []models.RemoteEvent
	for _, obj := range objects {
		if !since.IsZero() && !obj.ModTime.IsZero() && obj.ModTime.Before(since) {
			continue
		}
		if obj.Data == nil {
			continue
		}
		for _, comp := range obj.Data.Children {
			if comp.Name != ical.CompEvent || comp.Props.Get(ical.PropRecurrenceID) != nil {
				continue
			}
			out = append(out, toRemote(obj.Path, comp))
			break
		}
	}
	return out
}

// masterUID returns the UID of the first non-override VEVENT in cal.
func masterUID(cal *ical.Calendar) string {
	if cal == nil {
		return ""
	}
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent || comp.Props.Get(ical.PropRecurrenceID) != nil {
			continue
		}
		if p := comp.Props.Get(ical.PropUID); p != nil {
			return p.Value
		}
		return ""
	}
	return ""
}

// toRemote keys the event by its object path, which is the only identifier
// a later PUT can address.
func toRemote(objectPath string, comp *ical.Component) models.RemoteEvent {
	re := models.RemoteEvent{ID: objectPath}
	if objectPath == "" {
		re.Err = errors.New("event has no object path")
		return re
	}

	ev, err := ics.FromComponent(comp)
	if err != nil {
		re.Err = err
		return re
	}
	if ev.Status == models.StatusCancelled {
		re.Cancelled = true
	}
	ev.ExternalProvider = models.ProviderApple
	ev.ExternalCalendarID = objectPath
	re.Event = ev
	return re
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (a *Adapter) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := a.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := a.client.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := a.client.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}
