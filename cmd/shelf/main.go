package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/mmcdole/shelf/internal/config"
	"github.com/mmcdole/shelf/internal/library"
	"github.com/mmcdole/shelf/internal/logging"
	"github.com/mmcdole/shelf/internal/mediaserver"
	"github.com/mmcdole/shelf/internal/storage"
	"github.com/mmcdole/shelf/internal/storage/boltdb"
	"github.com/mmcdole/shelf/internal/storage/sqlite"
	"github.com/mmcdole/shelf/internal/ui"
)

// Version is set at build time via -ldflags
var Version = "dev"

const usage = `usage: shelf [-version] <command> [flags] [args]

commands:
  login                 sign in to an Audiobookshelf server
  logout                forget the server, token and local cache
  libraries             list libraries
  items                 list items of a library
  authors               list authors of a library
  series                list series of a library
  collections           list collections of a library
  continue              list items in progress
  search <query>        search a library on the server
  find <query>          fuzzy-find in cached items, offline
  progress <itemID>     show (or -set) listening progress
  sync                  bring every list of a library up to date
  clear-cache           delete the local database
`

func main() {
	var showVersion bool
	flag.BoolVar(&showVersion, "v", false, "print version")
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if showVersion {
		fmt.Printf("shelf %s\n", Version)
		return
	}
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is everything a command needs.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	out      io.Writer
	theme    *ui.Theme
	db       storage.Backend
	registry *library.Registry
}

func run(ctx context.Context, cmd string, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = logging.Null()
	} else {
		defer closer.Close()
	}
	logger = logging.ForCommand(logger, cmd)
	slog.SetDefault(logger)
	logger.Info("starting shelf", "version", Version)

	a := &app{cfg: cfg, logger: logger, out: os.Stdout, theme: ui.NewTheme(os.Stdout, cfg.UI.Color)}

	switch cmd {
	case "login":
		return a.login(ctx)
	case "logout":
		return a.logout(ctx)
	}

	if !cfg.IsConfigured() {
		return errors.New("not signed in, run `shelf login` first")
	}
	if err := a.open(); err != nil {
		return err
	}
	defer a.db.Close()

	switch cmd {
	case "libraries":
		return a.libraries(ctx, args)
	case "items":
		return a.items(ctx, args)
	case "authors":
		return a.authors(ctx, args)
	case "series":
		return a.series(ctx, args)
	case "collections":
		return a.collections(ctx, args)
	case "continue":
		return a.inProgress(ctx, args)
	case "search":
		return a.search(ctx, args)
	case "find":
		return a.find(ctx, args)
	case "progress":
		return a.progress(ctx, args)
	case "sync":
		return a.sync(ctx, args)
	case "clear-cache":
		return a.clearCache(ctx)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// open opens the local database and builds the registry.
func (a *app) open() error {
	var (
		db  storage.Backend
		err error
	)
	switch a.cfg.Storage.Driver {
	case config.DriverSQLite:
		db, err = sqlite.OpenDir(a.cfg.Storage.CacheDir, a.cfg.Server.URL)
	default:
		db, err = boltdb.Open(a.cfg.Storage.CacheDir, a.cfg.Server.URL)
	}
	if err != nil {
		return fmt.Errorf("failed to open local database: %w", err)
	}

	client, err := mediaserver.NewClient(a.cfg, a.logger)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create media client: %w", err)
	}
	registry, err := library.New(library.Deps{
		Client: client,
		DB:     db,
		Config: a.cfg,
		Logger: a.logger,
	})
	if err != nil {
		db.Close()
		return err
	}
	a.db = db
	a.registry = registry
	return nil
}
