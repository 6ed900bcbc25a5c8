package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"calsync/internal/models"
	"calsync/internal/oauth"
	"calsync/internal/syncer"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v2"
)

func providerFlag() cli.Flag {
	return &cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Usage: "google, outlook or apple."}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Connect a Google or Outlook account.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Required: true, Usage: "google or outlook."},
			&cli.BoolFlag{Name: "manual", Usage: "Paste the code instead of listening for the redirect."},
		},
		Action: func(c *cli.Context) error {
			p, err := models.ParseProvider(c.String("provider"))
			if err != nil {
				return err
			}
			if !p.UsesOAuth() {
				return fmt.Errorf("%s does not use OAuth; set its credentials in the environment", p)
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if c.Bool("manual") {
				e, err := setup(c, oauth.NewPromptSurface(os.Stdin, os.Stdout))
				if err != nil {
					return err
				}
				defer e.Close()
				return authenticate(ctx, e, p)
			}

			surface := oauth.NewCallbackSurface(func(authURL string) error {
				fmt.Printf("Open the following link in your browser to grant access:\n%v\n", authURL)
				return nil
			})
			e, err := setup(c, surface)
			if err != nil {
				return err
			}
			defer e.Close()

			redirect, err := url.Parse(e.cfg.RedirectURL)
			if err != nil {
				return fmt.Errorf("invalid redirect URL: %w", err)
			}
			path := redirect.Path
			if path == "" {
				path = "/"
			}
			mux := http.NewServeMux()
			mux.Handle(path, surface)

			ln, err := net.Listen("tcp", redirect.Host)
			if err != nil {
				return fmt.Errorf("failed to listen for the OAuth redirect: %w", err)
			}
			srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					e.logger.Error("Callback server stopped", "error", err)
				}
			}()
			defer func() { _ = srv.Shutdown(context.Background()) }()
			e.logger.Debug("Waiting for OAuth redirect.", "addr", ln.Addr().String(), "path", path)

			return authenticate(ctx, e, p)
		},
	}
}

func authenticate(ctx context.Context, e *env, p models.Provider) error {
	e.logger.Info("Starting authentication flow.", "provider", p)
	if err := e.oauth.Authenticate(ctx, p); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	e.logger.Info("Successfully authenticated and saved token.", "provider", p)
	return nil
}

func disconnectCommand() *cli.Command {
	return &cli.Command{
		Name:  "disconnect",
		Usage: "Forget the stored tokens for a provider.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Required: true},
		},
		Action: func(c *cli.Context) error {
			p, err := models.ParseProvider(c.String("provider"))
			if err != nil {
				return err
			}
			e, err := setup(c, oauth.NewPromptSurface(os.Stdin, os.Stdout))
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.oauth.Disconnect(c.Context, p); err != nil {
				return fmt.Errorf("failed to disconnect: %w", err)
			}
			e.logger.Info("Disconnected.", "provider", p)
			return nil
		},
	}
}

func integrationsCommand() *cli.Command {
	return &cli.Command{
		Name:  "integrations",
		Usage: "Manage calendar integrations.",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "Show configured integrations.",
				Flags: []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "Print JSON instead of a table."}},
				Action: func(c *cli.Context) error {
					e, err := setup(c, nil)
					if err != nil {
						return err
					}
					defer e.Close()

					list, err := e.integrations.List(c.Context)
					if err != nil {
						return err
					}
					if c.Bool("json") {
						enc := json.NewEncoder(os.Stdout)
						enc.SetIndent("", "  ")
						return enc.Encode(list)
					}
					return writeIntegrations(os.Stdout, list)
				},
			},
			{
				Name:  "add",
				Usage: "Create an integration.",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Required: true},
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "direction", Value: string(models.DirectionBidirectional), Usage: "import, export or bidirectional."},
					&cli.BoolFlag{Name: "disabled", Usage: "Create it switched off."},
				},
				Action: func(c *cli.Context) error {
					p, err := models.ParseProvider(c.String("provider"))
					if err != nil {
						return err
					}
					dir, err := models.ParseSyncDirection(c.String("direction"))
					if err != nil {
						return err
					}
					e, err := setup(c, nil)
					if err != nil {
						return err
					}
					defer e.Close()

					in := &models.CalendarIntegration{Provider: p, Name: c.String("name"), Enabled: !c.Bool("disabled"), SyncDirection: dir}
					if err := e.integrations.Create(c.Context, in); err != nil {
						return err
					}
					fmt.Println(in.ID)
					return nil
				},
			},
			{
				Name:      "enable",
				Usage:     "Switch an integration on.",
				ArgsUsage: "<integration id>",
				Action:    setEnabled(true),
			},
			{
				Name:      "disable",
				Usage:     "Switch an integration off.",
				ArgsUsage: "<integration id>",
				Action:    setEnabled(false),
			},
		},
	}
}

func setEnabled(enabled bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		id := c.Args().First()
		if id == "" {
			return errors.New("integration id is required")
		}
		e, err := setup(c, nil)
		if err != nil {
			return err
		}
		defer e.Close()
		return e.integrations.SetEnabled(c.Context, id, enabled)
	}
}

func writeIntegrations(w io.Writer, list []models.CalendarIntegration) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROVIDER\tNAME\tDIRECTION\tENABLED\tSTATUS\tLAST SYNC")
	for _, in := range list {
		last := "never"
		if in.LastSync != nil {
			last = in.LastSync.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n", in.ID, in.Provider, in.Name, in.SyncDirection, in.Enabled, in.SyncStatus, last)
	}
	return tw.Flush()
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Run the calendar synchronization process.",
		ArgsUsage: "[integration id...]",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "watch", Usage: "Run sync every interval until interrupted."},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on this address, e.g. :9090."},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := setup(c, oauth.NewPromptSurface(os.Stdin, os.Stdout))
			if err != nil {
				return err
			}
			defer e.Close()

			rec, err := e.reconciler(ctx)
			if err != nil {
				return err
			}

			if addr := c.String("metrics-addr"); addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", e.metrics.Handler())
				srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						e.logger.Error("Metrics server stopped", "error", err)
					}
				}()
				defer func() { _ = srv.Shutdown(context.Background()) }()
				e.logger.Info("Serving metrics.", "addr", addr)
			}

			runOnce := func() error {
				ids := c.Args().Slice()
				if len(ids) == 0 {
					list, err := e.integrations.List(ctx)
					if err != nil {
						return err
					}
					for _, in := range list {
						if in.Enabled {
							ids = append(ids, in.ID)
						}
					}
					if len(ids) == 0 {
						return errors.New("no enabled integrations. Add one with 'integrations add'")
					}
				}
				var errs []error
				for _, id := range ids {
					res, err := rec.Sync(ctx, id)
					printResult(res)
					if err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", id, err))
					}
				}
				return errors.Join(errs...)
			}

			interval := c.Duration("watch")
			if interval <= 0 {
				e.logger.Info("Running a single sync cycle.")
				if err := runOnce(); err != nil {
					return fmt.Errorf("single sync cycle failed: %w", err)
				}
				return nil
			}

			e.logger.Info("Starting watcher.", "interval", interval)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				if err := runOnce(); err != nil {
					e.logger.Error("Sync cycle failed", "error", err)
				}
				select {
				case <-ctx.Done():
					e.logger.Info("Watcher stopped.")
					return nil
				case <-ticker.C:
				}
			}
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export events to an .ics file or push them to a provider.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "-", Usage: "File to write; - for stdout."},
			&cli.StringFlag{Name: "from", Usage: "Only events ending on or after this date (YYYY-MM-DD)."},
			&cli.StringFlag{Name: "to", Usage: "Only events starting on or before this date (YYYY-MM-DD)."},
			providerFlag(),
			&cli.StringFlag{Name: "event", Usage: "With --provider, export only this event id."},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c, oauth.NewPromptSurface(os.Stdin, os.Stdout))
			if err != nil {
				return err
			}
			defer e.Close()
			rec, err := e.reconciler(c.Context)
			if err != nil {
				return err
			}

			if c.IsSet("provider") {
				p, err := models.ParseProvider(c.String("provider"))
				if err != nil {
					return err
				}
				if err := e.requireDirection(c.Context, p, false); err != nil {
					return err
				}
				var res *models.SyncResult
				if id := c.String("event"); id != "" {
					res, err = rec.ExportTo(c.Context, p, id)
				} else {
					res, err = rec.ExportPending(c.Context, p)
				}
				printResult(res)
				return err
			}

			from, err := parseDate(c.String("from"))
			if err != nil {
				return err
			}
			to, err := parseDate(c.String("to"))
			if err != nil {
				return err
			}
			if to != nil {
				end := to.AddDate(0, 0, 1).Add(-time.Nanosecond)
				to = &end
			}

			out := io.Writer(os.Stdout)
			if path := c.String("output"); path != "-" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				out = f
			}

			res, err := rec.ExportToFile(c.Context, out, models.EventFilter{From: from, To: to})
			if err != nil {
				return err
			}
			e.logger.Info(res.Message)
			return nil
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import events from an .ics file or pull them from a provider.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "File to read; - for stdin."},
			providerFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.IsSet("input") == c.IsSet("provider") {
				return errors.New("exactly one of --input or --provider is required")
			}
			e, err := setup(c, oauth.NewPromptSurface(os.Stdin, os.Stdout))
			if err != nil {
				return err
			}
			defer e.Close()
			rec, err := e.reconciler(c.Context)
			if err != nil {
				return err
			}

			if c.IsSet("provider") {
				p, err := models.ParseProvider(c.String("provider"))
				if err != nil {
					return err
				}
				if err := e.requireDirection(c.Context, p, true); err != nil {
					return err
				}
				res, err := rec.ImportFrom(c.Context, p)
				printResult(res)
				return err
			}

			in := io.Reader(os.Stdin)
			if path := c.String("input"); path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("failed to open input file: %w", err)
				}
				defer f.Close()
				in = f
			}
			res, err := rec.ImportFromFile(c.Context, in)
			printResult(res)
			return err
		},
	}
}

// requireDirection refuses a provider transfer unless an enabled integration
// for p declares that direction.
func (e *env) requireDirection(ctx context.Context, p models.Provider, imports bool) error {
	list, err := e.integrations.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list integrations: %w", err)
	}
	_, err = enabledIntegration(list, p, imports)
	return err
}

func enabledIntegration(list []models.CalendarIntegration, p models.Provider, imports bool) (*models.CalendarIntegration, error) {
	var disabled bool
	for i := range list {
		in := &list[i]
		if in.Provider != p {
			continue
		}
		if !in.Enabled {
			disabled = true
			continue
		}
		if imports && !in.SyncDirection.Imports() {
			return nil, fmt.Errorf("%s integration %s is %s and does not import", p, in.Name, in.SyncDirection)
		}
		if !imports && !in.SyncDirection.Exports() {
			return nil, fmt.Errorf("%s integration %s is %s and does not export", p, in.Name, in.SyncDirection)
		}
		return in, nil
	}
	if disabled {
		return nil, fmt.Errorf("%s: %w", p, syncer.ErrIntegrationDisabled)
	}
	return nil, fmt.Errorf("no %s integration; add one with 'calsync integrations add'", p)
}
