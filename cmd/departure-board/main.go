package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"
	_ "time/tzdata"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	departureboard "github.com/theoremus-urban-solutions/departure-board"
	"github.com/theoremus-urban-solutions/departure-board/cachesync"
	"github.com/theoremus-urban-solutions/departure-board/config"
	"github.com/theoremus-urban-solutions/departure-board/credentials"
	"github.com/theoremus-urban-solutions/departure-board/realtime"
	"github.com/theoremus-urban-solutions/departure-board/schedule"
)

func main() {
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	app := &cli.App{
		Name:  "departure-board",
		Usage: "live train departure board for a configured line and stop",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config.yml",
				Usage:   "path to the configuration file",
				EnvVars: []string{"DEPARTURE_BOARD_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "slot",
				Usage: "override the active route slot by id",
			},
			&cli.BoolFlag{
				Name:  "json-logs",
				Usage: "emit logs as JSON instead of console format",
			},
		},
		Before: func(c *cli.Context) error {
			if !c.Bool("json-logs") {
				log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "board",
				Usage:  "print the current departure list once",
				Action: runBoard,
			},
			{
				Name:   "watch",
				Usage:  "keep the departure list refreshed until interrupted",
				Action: runWatch,
			},
			{
				Name:   "lines",
				Usage:  "list the lines available in the cached dataset",
				Action: runLines,
			},
			{
				Name:  "stops",
				Usage: "list the stops served by a line",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "line", Usage: "line id (defaults to the configured line)"},
				},
				Action: runStops,
			},
			{
				Name:  "token",
				Usage: "manage the realtime feed credential",
				Subcommands: []*cli.Command{
					{
						Name:      "set",
						Usage:     "store the realtime feed token",
						ArgsUsage: "<token>",
						Action:    runTokenSet,
					},
					{
						Name:   "delete",
						Usage:  "remove the stored token",
						Action: runTokenDelete,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("departure-board failed")
	}
}

// env bundles the wired components a command works with.
type env struct {
	cfg   *config.AppConfig
	loc   *time.Location
	store *schedule.Store
	sync  *cachesync.Syncer
	creds credentials.Store
	rec   *departureboard.Reconciler
}

func setup(c *cli.Context) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("resolving timezone %q: %w", cfg.Timezone, err)
	}

	store := schedule.New(loc, log.Logger)
	syncer := cachesync.New(cachesync.Config{
		VersionURL: cfg.Endpoints.VersionURL,
		ArchiveURL: cfg.Endpoints.ArchiveURL,
		CacheDir:   cfg.CacheDir,
	}, cachesync.NewHTTPFetcher(cfg.Timeout()), log.Logger)
	live := realtime.New(cfg.Endpoints.FeedURL, cfg.Timeout(), log.Logger)
	creds := credentials.NewFileStore(filepath.Join(cfg.CacheDir, "token"))

	rec := departureboard.New(cfg, loc, store, syncer, live, creds, log.Logger)
	if slot := c.String("slot"); slot != "" {
		rec.SetOverride(slot)
	}
	return &env{cfg: cfg, loc: loc, store: store, sync: syncer, creds: creds, rec: rec}, nil
}

func runBoard(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	snap := e.rec.Refresh(c.Context)
	printSnapshot(snap, e.loc)
	return nil
}

func runWatch(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	updates := e.rec.Subscribe()
	go e.rec.Run(ctx, e.cfg.RefreshInterval())

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-updates:
			printSnapshot(snap, e.loc)
		}
	}
}

func runLines(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	if err := loadSchedule(c.Context, e); err != nil {
		return err
	}
	lines, err := e.store.AvailableLines()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, l := range lines {
		fmt.Fprintf(w, "%s\t%s\n", l.ID, l.Name)
	}
	return w.Flush()
}

func runStops(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	lineID := c.String("line")
	if lineID == "" {
		lineID = e.cfg.Route.LineID
	}
	if err := loadSchedule(c.Context, e); err != nil {
		return err
	}
	stops, err := e.store.StopsForLine(lineID)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME")
	for _, s := range stops {
		fmt.Fprintf(w, "%s\t%s\n", s.ID, s.Name)
	}
	return w.Flush()
}

func runTokenSet(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	token := c.Args().First()
	if token == "" {
		return fmt.Errorf("usage: token set <token>")
	}
	if err := e.creds.Save(token); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	log.Info().Msg("token stored")
	return nil
}

func runTokenDelete(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	if err := e.creds.Delete(); err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	log.Info().Msg("token deleted")
	return nil
}

func loadSchedule(ctx context.Context, e *env) error {
	dir, _, err := e.sync.Ensure(ctx)
	if err != nil {
		return fmt.Errorf("preparing dataset: %w", err)
	}
	if err := e.store.Load(dir); err != nil {
		return fmt.Errorf("loading dataset: %w", err)
	}
	return nil
}

func printSnapshot(snap departureboard.Snapshot, loc *time.Location) {
	source := "schedule"
	if snap.IsLive {
		source = "live"
	}
	fmt.Printf("\n%s  slot=%s  source=%s\n", snap.LastUpdate.In(loc).Format("15:04:05"), snap.SlotID, source)
	if snap.Err != "" {
		fmt.Printf("  degraded: %s\n", snap.Err)
	}
	if len(snap.Departures) == 0 {
		fmt.Println("  no departures")
		return
	}
	now := snap.LastUpdate
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, d := range snap.Departures {
		tag := " "
		if d.IsRealTime {
			tag = "*"
		}
		fmt.Fprintf(w, "  %s\t%s\t%d min\t%s\n",
			tag, d.EffectiveTime().In(loc).Format("15:04"), d.MinutesUntil(now), d.TripID)
	}
	w.Flush()
}
