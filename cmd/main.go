package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"calsync/internal/config"
	"calsync/internal/credentials"
	"calsync/internal/google"
	"calsync/internal/icloud"
	"calsync/internal/ics"
	"calsync/internal/lock"
	"calsync/internal/metrics"
	"calsync/internal/models"
	"calsync/internal/network"
	"calsync/internal/oauth"
	"calsync/internal/outlook"
	"calsync/internal/store"
	"calsync/internal/syncer"

	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "calsync",
		Usage: "Synchronise schedule events with Google, Outlook and iCloud calendars.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "Optional dotenv file with settings."},
		},
		Commands: []*cli.Command{
			authCommand(),
			disconnectCommand(),
			integrationsCommand(),
			syncCommand(),
			exportCommand(),
			importCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

// env holds everything a command needs. Build it with setup and release it
// with Close.
type env struct {
	cfg          *config.Config
	logger       *slog.Logger
	db           *sqlx.DB
	events       *store.EventRepository
	integrations *store.IntegrationRepository
	metrics      *metrics.Recorder
	httpClient   *http.Client
	oauth        *oauth.Controller
	closers      []func() error
}

func setup(c *cli.Context, surface oauth.ConsentSurface) (*env, error) {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := setupLogger(cfg.LogLevel)

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	e := &env{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		events:       store.NewEventRepository(db),
		integrations: store.NewIntegrationRepository(db),
		metrics:      metrics.NewRecorder(),
		httpClient:   &http.Client{Timeout: cfg.Sync.HTTPTimeout},
		closers:      []func() error{db.Close},
	}

	e.oauth = oauth.NewController(logger, credentials.NewFileStore(cfg.CredentialsDir), surface,
		oauth.WithHTTPClient(e.httpClient),
		oauth.WithMetrics(e.metrics),
	)
	if cfg.Google.Configured() {
		e.oauth.Register(models.ProviderGoogle, google.OAuthConfig(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.RedirectURL), google.AuthCodeOptions()...)
	}
	if cfg.Outlook.Configured() {
		e.oauth.Register(models.ProviderOutlook, outlook.OAuthConfig(cfg.Outlook.ClientID, cfg.Outlook.ClientSecret, cfg.Tenant, cfg.RedirectURL))
	}
	return e, nil
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Warn("Failed to close resource", "error", err)
		}
	}
}

// reconciler wires a provider adapter for every configured provider. The
// iCloud adapter looks its calendar up on construction, so it is only built
// here and not in setup.
func (e *env) reconciler(ctx context.Context) (*syncer.Reconciler, error) {
	enc := ics.NewEncoder(e.cfg.Sync.UIDDomain)

	var locker lock.Locker = lock.NewLocal()
	if e.cfg.Redis.Addr != "" {
		client, err := lock.Dial(ctx, e.cfg.Redis.Addr, e.cfg.Redis.Password, e.cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, client.Close)
		locker = lock.NewRedis(client, e.cfg.Sync.LockTTL)
	}

	rec := syncer.NewReconciler(e.logger, e.events, e.integrations,
		syncer.WithLocker(locker),
		syncer.WithMetrics(e.metrics),
		syncer.WithEncoder(enc),
	)

	if e.cfg.Google.Configured() {
		rec.Register(models.ProviderGoogle, google.NewAdapter(e.logger,
			google.WithHTTPClient(e.httpClient),
			google.WithPageSize(e.cfg.Sync.PageSize),
			google.WithLookback(e.cfg.Sync.Lookback),
		), e.oauth)
	}
	if e.cfg.Outlook.Configured() {
		rec.Register(models.ProviderOutlook, outlook.NewAdapter(e.logger,
			network.NewClient(e.httpClient, e.cfg.Sync.HTTPTimeout),
			outlook.WithPageSize(e.cfg.Sync.PageSize),
		), e.oauth)
	}
	if e.cfg.ICloud.Configured() {
		adapter, err := icloud.NewAdapter(ctx, e.logger, e.cfg.ICloud.Username, e.cfg.ICloud.Password, e.cfg.ICloud.CalendarName,
			icloud.WithTimeout(e.cfg.Sync.HTTPTimeout),
			icloud.WithEncoder(enc),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create icloud adapter: %w", err)
		}
		rec.Register(models.ProviderApple, adapter, syncer.NoAuth{})
	}
	return rec, nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func printResult(res *models.SyncResult) {
	if res == nil {
		return
	}
	fmt.Println(res.Message)
	for _, e := range res.Errors {
		fmt.Printf("  - %s\n", e)
	}
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return &t, nil
}
