package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/beaglenote/wikidex/internal/activity"
	"github.com/beaglenote/wikidex/internal/aicontext"
	"github.com/beaglenote/wikidex/internal/config"
	"github.com/beaglenote/wikidex/internal/coordinator"
	"github.com/beaglenote/wikidex/internal/datastore"
	"github.com/beaglenote/wikidex/internal/debug"
	"github.com/beaglenote/wikidex/internal/extract"
	"github.com/beaglenote/wikidex/internal/index"
	"github.com/beaglenote/wikidex/internal/registry"
	"github.com/beaglenote/wikidex/internal/search"
	"github.com/beaglenote/wikidex/internal/server"
	"github.com/beaglenote/wikidex/internal/suggest"
	"github.com/beaglenote/wikidex/internal/walker"
)

var version = "dev"

// services is everything a command needs, assembled once per invocation.
type services struct {
	cfg       *config.Config
	data      *datastore.Store
	reg       *registry.Registry
	coord     *coordinator.Coordinator
	engine    *search.Engine
	suggester *suggest.Suggester
	users     *activity.Store
	generator *aicontext.Generator
}

func (s *services) Close() {
	if err := s.data.Close(); err != nil {
		debug.LogStore("close failed: %v", err)
	}
}

func buildServices(c *cli.Context) (*services, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if dataDir := c.String("data-dir"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	data, err := datastore.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(data)
	if err != nil {
		data.Close() //nolint:errcheck // already failing
		return nil, err
	}

	extractor := extract.New(cfg.Index.MaxFileSize)

	// The index walk descends into .aicontext so generated summaries become
	// searchable; the generator's walk must not, or its fingerprints would
	// include its own output.
	indexWalk := walker.New(walker.Options{
		Workers:          cfg.Walker.Workers,
		Exclude:          cfg.Walker.Exclude,
		FollowSymlinks:   cfg.Walker.FollowSymlinks,
		IncludeAIContext: true,
	}, extractor)
	genWalk := walker.New(walker.Options{
		Workers:        cfg.Walker.Workers,
		Exclude:        cfg.Walker.Exclude,
		FollowSymlinks: cfg.Walker.FollowSymlinks,
	}, extractor)

	ix := index.New()
	suggester := suggest.New(cfg.Index.SuggestionMin, cfg.Index.SuggestionMax)
	coord := coordinator.New(reg, ix, suggester, data, indexWalk, extractor)

	return &services{
		cfg:       cfg,
		data:      data,
		reg:       reg,
		coord:     coord,
		engine:    search.New(ix, reg),
		suggester: suggester,
		users:     activity.New(data),
		generator: aicontext.New(reg, data, genWalk, cfg.AI.ContextDirName, cfg.AITimeout()),
	}, nil
}

func main() {
	app := &cli.App{
		Name:    "wikidex",
		Usage:   "Filesystem-backed wiki search and content indexing",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path",
				Value:   "wikidex.toml",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides config)",
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Data directory for the collection database (overrides config)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the wiki API daemon",
				Action: runServe,
			},
			{
				Name:   "rebuild",
				Usage:  "Rebuild the search index once and exit",
				Action: runRebuild,
			},
			{
				Name:      "search",
				Usage:     "Query the index from the command line",
				ArgsUsage: "<query terms>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "User identity for visibility checks", Value: "cli"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum results", Value: search.DefaultMaxResults},
					&cli.BoolFlag{Name: "json", Usage: "Emit results as JSON"},
				},
				Action: runSearch,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "wikidex: %v\n", err)
		os.Exit(1)
	}
}

func runServe(c *cli.Context) error {
	svc, err := buildServices(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	if debug.IsEnabled() {
		if logPath, err := debug.InitLogFile(); err != nil {
			fmt.Fprintf(os.Stderr, "debug log unavailable: %v\n", err)
		} else {
			defer debug.CloseLogFile() //nolint:errcheck // shutdown path
			fmt.Printf("debug log: %s\n", logPath)
		}
	}

	if err := svc.coord.Hydrate(); err != nil {
		debug.LogIndex("mirror hydration failed, starting cold: %v", err)
	}
	if err := svc.coord.RebuildAsync(context.Background()); err != nil {
		debug.LogIndex("initial rebuild not started: %v", err)
	}

	schedCtx, stopSched := context.WithCancel(context.Background())
	defer stopSched()
	aicontext.NewScheduler(svc.generator, svc.users, svc.cfg.ScheduleInterval()).Start(schedCtx)

	srv := server.New(svc.cfg, svc.coord, svc.engine, svc.suggester, svc.users, svc.generator)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		debug.LogServer("received %v, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

func runRebuild(c *cli.Context) error {
	svc, err := buildServices(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.coord.Rebuild(c.Context); err != nil {
		return err
	}
	stats := svc.coord.Stats()
	fmt.Printf("indexed %d documents (%d tokens) across %d spaces in %v\n",
		stats.DocumentCount, stats.TokenCount, stats.SpaceCount, stats.BuildDuration)
	return nil
}

func runSearch(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return cli.Exit("usage: wikidex search <query terms>", 1)
	}

	svc, err := buildServices(c)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.coord.Rebuild(c.Context); err != nil {
		return err
	}

	results, err := svc.engine.Search(c.Context, search.Options{
		Query:      query,
		UserID:     c.String("user"),
		MaxResults: c.Int("limit"),
	})
	if err != nil {
		return err
	}

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("no results")
		for _, hint := range svc.suggester.Corrections(query, 3) {
			fmt.Printf("did you mean: %s\n", hint)
		}
		return nil
	}
	for _, res := range results {
		fmt.Printf("%6.2f  %s  (%s/%s)\n", res.Relevance, res.Title, res.SpaceName, res.Path)
		if res.Excerpt != "" {
			fmt.Printf("        %s\n", res.Excerpt)
		}
	}
	return nil
}
