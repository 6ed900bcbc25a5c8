package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"calsync/internal/ics"
	"calsync/internal/lock"
	"calsync/internal/metrics"
	"calsync/internal/models"
	"calsync/internal/network"
	"calsync/internal/oauth"
	"calsync/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

type fakeAdapter struct {
	mu        sync.Mutex
	list      *models.RemoteList
	listErr   error
	createErr error
	onCreate  func()
	since     []string
	created   []string
	updated   []string
	nextID    int
}

func (a *fakeAdapter) List(_ context.Context, _ string, sinceToken string) (*models.RemoteList, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.since = append(a.since, sinceToken)
	if a.listErr != nil {
		return nil, a.listErr
	}
	if a.list == nil {
		return &models.RemoteList{}, nil
	}
	return a.list, nil
}

func (a *fakeAdapter) Create(_ context.Context, _ string, ev *models.ScheduleEvent) (*models.RemoteEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.created = append(a.created, ev.ID)
	if a.onCreate != nil {
		a.onCreate()
	}
	if a.createErr != nil {
		return nil, a.createErr
	}
	a.nextID++
	return &models.RemoteEvent{ID: fmt.Sprintf("r-%d", a.nextID), Event: *ev}, nil
}

func (a *fakeAdapter) Update(_ context.Context, _ string, externalID string, ev *models.ScheduleEvent) (*models.RemoteEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updated = append(a.updated, externalID)
	return &models.RemoteEvent{ID: externalID, Event: *ev}, nil
}

type fixture struct {
	events       *store.EventRepository
	integrations *store.IntegrationRepository
	adapter      *fakeAdapter
	locker       *lock.Local
	metrics      *metrics.Recorder
	rec          *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{
		events:       store.NewEventRepository(db),
		integrations: store.NewIntegrationRepository(db),
		adapter:      &fakeAdapter{},
		locker:       lock.NewLocal(),
		metrics:      metrics.NewRecorder(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.rec = NewReconciler(logger, f.events, f.integrations,
		WithLocker(f.locker),
		WithMetrics(f.metrics),
		WithEncoder(ics.NewEncoder("test.local")),
	)
	f.rec.Register(models.ProviderGoogle, f.adapter, NoAuth{})
	return f
}

func (f *fixture) local(t *testing.T, title string, start time.Time) *models.ScheduleEvent {
	t.Helper()
	ev := &models.ScheduleEvent{Title: title, StartTime: start, EndTime: start.Add(time.Hour)}
	require.NoError(t, f.events.Insert(context.Background(), ev))
	return ev
}

func (f *fixture) all(t *testing.T) []models.ScheduleEvent {
	t.Helper()
	events, err := f.events.List(context.Background(), models.EventFilter{})
	require.NoError(t, err)
	return events
}

func (f *fixture) integration(t *testing.T, dir models.SyncDirection) *models.CalendarIntegration {
	t.Helper()
	in := &models.CalendarIntegration{Provider: models.ProviderGoogle, Name: "Work", Enabled: true, SyncDirection: dir}
	require.NoError(t, f.integrations.Create(context.Background(), in))
	return in
}

func remote(id, title string, start time.Time) models.RemoteEvent {
	return models.RemoteEvent{ID: id, Event: models.ScheduleEvent{Title: title, StartTime: start, EndTime: start.Add(time.Hour)}}
}

func TestImportFromInsertsAndDedups(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// Same title and time as a remote event, but unlinked: never a duplicate.
	f.local(t, "Site visit", base)

	f.adapter.list = &models.RemoteList{Events: []models.RemoteEvent{
		remote("g-1", "Site visit", base),
		remote("g-2", "Quote review", base.Add(2*time.Hour)),
		remote("g-1", "Site visit", base),
	}}

	res, err := f.rec.ImportFrom(ctx, models.ProviderGoogle)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, res.Errors)
	assert.Equal(t, 3, res.SyncedEvents)
	assert.Len(t, f.all(t), 3)

	got, err := f.events.FindByExternalID(ctx, models.ProviderGoogle, "g-2")
	require.NoError(t, err)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)

	// Second run: remote wins for content, still no new rows.
	f.adapter.list.Events[1].Event.Title = "Quote review (moved)"
	_, err = f.rec.ImportFrom(ctx, models.ProviderGoogle)
	require.NoError(t, err)
	assert.Len(t, f.all(t), 3)

	got, err = f.events.FindByExternalID(ctx, models.ProviderGoogle, "g-2")
	require.NoError(t, err)
	assert.Equal(t, "Quote review (moved)", got.Title)
}

func TestImportFromOverwritesLocalEdits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.adapter.list = &models.RemoteList{Events: []models.RemoteEvent{remote("g-1", "Remote title", base)}}

	_, err := f.rec.ImportFrom(ctx, models.ProviderGoogle)
	require.NoError(t, err)
	got, err := f.events.FindByExternalID(ctx, models.ProviderGoogle, "g-1")
	require.NoError(t, err)

	title, pending := "Local edit", models.SyncPending
	_, err = f.events.Update(ctx, got.ID, models.EventPatch{Title: &title, SyncStatus: &pending})
	require.NoError(t, err)

	_, err = f.rec.ImportFrom(ctx, models.ProviderGoogle)
	require.NoError(t, err)
	got, err = f.events.Get(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, "Remote title", got.Title)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)
}

func TestImportFromPartialFailure(t *testing.T) {
	f := newFixture(t)
	events := make([]models.RemoteEvent, 5)
	for i := range events {
		events[i] = remote(fmt.Sprintf("g-%d", i+1), fmt.Sprintf("Job %d", i+1), base.Add(time.Duration(i)*time.Hour))
	}
	events[2].Err = errors.New("unexpected payload shape")
	f.adapter.list = &models.RemoteList{Events: events}

	res, err := f.rec.ImportFrom(context.Background(), models.ProviderGoogle)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 4, res.SyncedEvents)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "g-3")
	assert.Len(t, f.all(t), 4)
}

func TestImportFromInvalidRemoteEventIsItemError(t *testing.T) {
	f := newFixture(t)
	bad := remote("g-1", "", base)
	f.adapter.list = &models.RemoteList{Events: []models.RemoteEvent{bad, remote("g-2", "Ok", base)}}

	res, err := f.rec.ImportFrom(context.Background(), models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SyncedEvents)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "g-1")
}

func TestImportFromCancellations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.adapter.list = &models.RemoteList{Events: []models.RemoteEvent{remote("g-1", "Walkthrough", base)}}
	_, err := f.rec.ImportFrom(ctx, models.ProviderGoogle)
	require.NoError(t, err)

	f.adapter.list = &models.RemoteList{Events: []models.RemoteEvent{
		{ID: "g-1", Cancelled: true},
		{ID: "g-unknown", Cancelled: true},
	}}
	res, err := f.rec.ImportFrom(ctx, models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SyncedEvents)
	assert.Equal(t, 1, res.Skipped)

	got, err := f.events.FindByExternalID(ctx, models.ProviderGoogle, "g-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, "Walkthrough", got.Title)
	assert.Len(t, f.all(t), 1)
}

func TestImportFromStopsWhenCancelled(t *testing.T) {
	f := newFixture(t)
	f.adapter.list = &models.RemoteList{Events: []models.RemoteEvent{remote("g-1", "A", base)}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := f.rec.ImportFrom(ctx, models.ProviderGoogle)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Success)
	assert.Empty(t, f.all(t))
}

func TestUnregisteredProvider(t *testing.T) {
	f := newFixture(t)
	res, err := f.rec.ImportFrom(context.Background(), models.ProviderOutlook)
	require.ErrorIs(t, err, ErrNoAdapter)
	assert.False(t, res.Success)
}

func TestExportToCreatesOnceThenUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ev := f.local(t, "Roof inspection", base)

	res, err := f.rec.ExportTo(ctx, models.ProviderGoogle, ev.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.SyncedEvents)

	got, err := f.events.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProviderGoogle, got.ExternalProvider)
	assert.Equal(t, "r-1", got.ExternalCalendarID)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)

	_, err = f.rec.ExportTo(ctx, models.ProviderGoogle, ev.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{ev.ID}, f.adapter.created)
	assert.Equal(t, []string{"r-1"}, f.adapter.updated)
}

func TestExportToRejectsEventLinkedElsewhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ev := f.local(t, "From Outlook", base)
	_, err := f.events.Update(ctx, ev.ID, models.LinkPatch(models.ProviderOutlook, "AAMk"))
	require.NoError(t, err)

	res, err := f.rec.ExportTo(ctx, models.ProviderGoogle, ev.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "outlook")
	assert.Empty(t, f.adapter.created)
	assert.Empty(t, f.adapter.updated)
}

func TestExportToMissingEvent(t *testing.T) {
	f := newFixture(t)
	res, err := f.rec.ExportTo(context.Background(), models.ProviderGoogle, "nope")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, res.Success)
}

func TestExportTitleTooLong(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.rec.Register(models.ProviderOutlook, f.adapter, NoAuth{})
	ev := f.local(t, strings.Repeat("x", models.ProviderOutlook.MaxTitleLength()+1), base)

	res, err := f.rec.ExportTo(ctx, models.ProviderOutlook, ev.ID)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Empty(t, f.adapter.created)

	got, err := f.events.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, got.SyncStatus)
}

func TestExportPendingSelection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	fresh := f.local(t, "Fresh", base)

	synced := f.local(t, "Already synced", base.Add(time.Hour))
	_, err := f.events.Update(ctx, synced.ID, models.LinkPatch(models.ProviderGoogle, "g-5"))
	require.NoError(t, err)

	foreign := f.local(t, "Outlook pending", base.Add(2*time.Hour))
	pending := models.SyncPending
	outlook, id := models.ProviderOutlook, "AAMk"
	_, err = f.events.Update(ctx, foreign.ID, models.EventPatch{ExternalProvider: &outlook, ExternalCalendarID: &id, SyncStatus: &pending})
	require.NoError(t, err)

	edited := f.local(t, "Edited after export", base.Add(3*time.Hour))
	google, gid := models.ProviderGoogle, "g-7"
	_, err = f.events.Update(ctx, edited.ID, models.EventPatch{ExternalProvider: &google, ExternalCalendarID: &gid, SyncStatus: &pending})
	require.NoError(t, err)

	res, err := f.rec.ExportPending(ctx, models.ProviderGoogle)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.SyncedEvents)
	assert.Equal(t, []string{fresh.ID}, f.adapter.created)
	assert.Equal(t, []string{"g-7"}, f.adapter.updated)

	// Nothing left to do.
	res, err = f.rec.ExportPending(ctx, models.ProviderGoogle)
	require.NoError(t, err)
	assert.Zero(t, res.SyncedEvents)
	assert.Len(t, f.adapter.created, 1)
}

func TestExportPendingItemFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ev := f.local(t, "Flaky", base)
	f.adapter.createErr = &network.HTTPError{Method: "POST", URL: "/events", StatusCode: 400, Body: "bad request"}

	res, err := f.rec.ExportPending(ctx, models.ProviderGoogle)
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], ev.ID)

	got, err := f.events.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, got.SyncStatus)
	assert.Empty(t, got.ExternalCalendarID)

	f.adapter.createErr = nil
	res, err = f.rec.ExportPending(ctx, models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SyncedEvents)
	assert.Len(t, f.adapter.created, 2)
}

func TestExportPendingAbortsOnTransportError(t *testing.T) {
	f := newFixture(t)
	f.local(t, "One", base)
	f.local(t, "Two", base.Add(time.Hour))
	f.adapter.createErr = &network.TransportError{Method: "POST", URL: "/events", Err: errors.New("connection refused")}

	res, err := f.rec.ExportPending(context.Background(), models.ProviderGoogle)
	require.Error(t, err)
	assert.True(t, network.IsTransport(err))
	assert.False(t, res.Success)
	assert.Len(t, f.adapter.created, 1)
}

func TestExportPendingCancelledDuringCreateKeepsLink(t *testing.T) {
	f := newFixture(t)
	first := f.local(t, "One", base)
	second := f.local(t, "Two", base.Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	f.adapter.onCreate = cancel
	res, err := f.rec.ExportPending(ctx, models.ProviderGoogle)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.SyncedEvents)

	got, err := f.events.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.True(t, got.LinkedTo(models.ProviderGoogle))
	assert.Equal(t, "r-1", got.ExternalCalendarID)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)

	f.adapter.onCreate = nil
	res, err = f.rec.ExportPending(context.Background(), models.ProviderGoogle)
	require.NoError(t, err)
	assert.Equal(t, 1, res.SyncedEvents)
	assert.Equal(t, []string{first.ID, second.ID}, f.adapter.created)
}

func TestExportLinkWriteFailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := f.local(t, "Already linked", base)
	_, err := f.events.Update(ctx, owner.ID, models.LinkPatch(models.ProviderGoogle, "r-1"))
	require.NoError(t, err)
	ev := f.local(t, "Collides", base.Add(time.Hour))

	res, err := f.rec.ExportTo(ctx, models.ProviderGoogle, ev.ID)
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "failed to record link")

	got, err := f.events.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, got.SyncStatus)
	assert.Empty(t, got.ExternalCalendarID)
}

func TestSyncDirections(t *testing.T) {
	tests := []struct {
		dir     models.SyncDirection
		lists   int
		creates int
	}{
		{models.DirectionImport, 1, 0},
		{models.DirectionExport, 0, 1},
		{models.DirectionBidirectional, 1, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.dir), func(t *testing.T) {
			f := newFixture(t)
			f.local(t, "Local job", base)
			f.adapter.list = &models.RemoteList{Events: []models.RemoteEvent{remote("g-1", "Remote job", base)}}
			in := f.integration(t, tt.dir)

			res, err := f.rec.Sync(context.Background(), in.ID)
			require.NoError(t, err)
			assert.True(t, res.Success)
			assert.Equal(t, tt.lists+tt.creates, res.SyncedEvents)
			assert.Len(t, f.adapter.since, tt.lists)
			assert.Len(t, f.adapter.created, tt.creates)
		})
	}
}

func TestSyncRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := base.Add(48 * time.Hour)
	f.rec.now = func() time.Time { return now }
	f.adapter.list = &models.RemoteList{Events: []models.RemoteEvent{remote("g-1", "A", base)}, NextSyncToken: "tok-1"}
	in := f.integration(t, models.DirectionImport)

	_, err := f.rec.Sync(ctx, in.ID)
	require.NoError(t, err)

	got, err := f.integrations.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncSynced, got.SyncStatus)
	assert.Equal(t, "tok-1", got.SyncToken)
	require.NotNil(t, got.LastSync)
	assert.True(t, got.LastSync.Equal(now))

	f.adapter.list.NextSyncToken = "tok-2"
	_, err = f.rec.Sync(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "tok-1"}, f.adapter.since)

	rr := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rr.Body.String(), `calsync_sync_runs_total{direction="import",outcome="success",provider="google"} 2`)
}

func TestSyncAbortsOnAuthError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.adapter.list = &models.RemoteList{NextSyncToken: "tok-1"}
	in := f.integration(t, models.DirectionBidirectional)
	_, err := f.rec.Sync(ctx, in.ID)
	require.NoError(t, err)

	f.local(t, "Not exported", base)
	f.adapter.listErr = fmt.Errorf("refresh rejected: %w", oauth.ErrAuthenticationFailed)
	res, err := f.rec.Sync(ctx, in.ID)
	require.ErrorIs(t, err, oauth.ErrAuthenticationFailed)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "Sync failed")
	assert.Empty(t, f.adapter.created)

	got, err := f.integrations.Get(ctx, in.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, got.SyncStatus)
	assert.Equal(t, "tok-1", got.SyncToken)
}

func TestSyncDisabled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	in := f.integration(t, models.DirectionImport)
	require.NoError(t, f.integrations.SetEnabled(ctx, in.ID, false))

	_, err := f.rec.Sync(ctx, in.ID)
	require.ErrorIs(t, err, ErrIntegrationDisabled)
	assert.Empty(t, f.adapter.since)
}

func TestSyncInProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	in := f.integration(t, models.DirectionImport)

	release, err := f.locker.Acquire(ctx, "sync:google:"+in.ID)
	require.NoError(t, err)

	_, err = f.rec.Sync(ctx, in.ID)
	require.ErrorIs(t, err, ErrSyncInProgress)
	assert.Empty(t, f.adapter.since)

	release()
	_, err = f.rec.Sync(ctx, in.ID)
	require.NoError(t, err)
}

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//Example//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:abc-123@example.com\r\n" +
	"SUMMARY:Boiler service\r\n" +
	"DTSTART:20240610T080000Z\r\n" +
	"DTEND:20240610T090000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:broken@example.com\r\n" +
	"SUMMARY:No start\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"SUMMARY:No uid\r\n" +
	"DTSTART:20240611T080000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestImportFromFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.rec.ImportFromFile(ctx, strings.NewReader(sampleICS))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.SyncedEvents)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "broken@example.com")

	got, err := f.events.FindByExternalID(ctx, models.ProviderICal, "abc-123@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Boiler service", got.Title)

	// The UID-keyed entry is deduplicated on a second import.
	_, err = f.rec.ImportFromFile(ctx, strings.NewReader(sampleICS))
	require.NoError(t, err)
	titles := map[string]int{}
	for _, ev := range f.all(t) {
		titles[ev.Title]++
	}
	assert.Equal(t, 1, titles["Boiler service"])
}

func TestExportToFileAndReimport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.local(t, "Fit kitchen; phase 1, day 2", base)
	f.local(t, "Snag list", base.Add(24*time.Hour))

	var buf bytes.Buffer
	res, err := f.rec.ExportToFile(ctx, &buf, models.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SyncedEvents)
	assert.Contains(t, buf.String(), "UID:"+a.ID+"@test.local")

	before := f.all(t)
	res, err = f.rec.ImportFromFile(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, res.SyncedEvents)
	assert.Empty(t, res.Errors)

	after := f.all(t)
	require.Len(t, after, 2)
	for i := range after {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].Title, after[i].Title)
		assert.Empty(t, after[i].ExternalCalendarID)
		assert.Equal(t, models.SyncLocal, after[i].SyncStatus)
	}
}

func TestImportFromFileUnknownSelfUID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := "BEGIN:VCALENDAR\r\nBEGIN:VEVENT\r\nUID:gone@test.local\r\nSUMMARY:Deleted locally\r\nDTSTART:20240610T080000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

	res, err := f.rec.ImportFromFile(ctx, strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 1, res.SyncedEvents)

	got, err := f.events.FindByExternalID(ctx, models.ProviderICal, "gone@test.local")
	require.NoError(t, err)
	assert.Equal(t, "Deleted locally", got.Title)
}
