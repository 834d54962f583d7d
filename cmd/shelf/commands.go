package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/mmcdole/shelf/internal/domain"
	"github.com/mmcdole/shelf/internal/paging"
	"github.com/mmcdole/shelf/internal/search"
)

const titleWidth = 40

// listOpts are the flags shared by every list command.
type listOpts struct {
	library string
	sort    string
	desc    bool
	filter  string
	all     bool
	refresh bool
	more    bool
}

func parseList(name string, args []string) (listOpts, []string, error) {
	var o listOpts
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&o.library, "library", "", "library id (defaults to server.library_id or the first library)")
	fs.StringVar(&o.sort, "sort", "", "sort field, e.g. media.metadata.title")
	fs.BoolVar(&o.desc, "desc", false, "sort descending")
	fs.StringVar(&o.filter, "filter", "", "filter as group=value, e.g. authors=<authorID>")
	fs.BoolVar(&o.all, "all", false, "fetch every page")
	fs.BoolVar(&o.refresh, "refresh", false, "refetch even if the cached list is fresh")
	fs.BoolVar(&o.more, "more", false, "fetch the next page after the cached ones")
	if err := fs.Parse(args); err != nil {
		return o, nil, err
	}
	return o, fs.Args(), nil
}

func (a *app) query(ctx context.Context, o listOpts) (domain.QueryKey, error) {
	libID, err := a.libraryID(ctx, o.library)
	if err != nil {
		return domain.QueryKey{}, err
	}
	q := domain.QueryKey{LibraryID: libID, Sort: o.sort, Desc: o.desc}
	if o.filter != "" {
		q.Filter = domain.ParseFilter(o.filter)
	}
	return q, nil
}

// libraryID resolves the library to list: the flag, the configured default,
// or the first library of the user.
func (a *app) libraryID(ctx context.Context, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if a.cfg.Server.LibraryID != "" {
		return a.cfg.Server.LibraryID, nil
	}
	libs, err := a.registry.LibrariesStore().Get(ctx, a.registry.UserID())
	if err != nil {
		return "", fmt.Errorf("failed to resolve library: %w", err)
	}
	if len(libs) == 0 {
		return "", errors.New("no libraries on this server")
	}
	return libs[0].ID, nil
}

func (a *app) warn(format string, args ...any) {
	fmt.Fprintln(a.out, a.theme.Error.Render(fmt.Sprintf(format, args...)))
}

func (a *app) progressPrinter() domain.ProgressFunc {
	return func(loaded, total int) {
		fmt.Fprintf(a.out, "\r%s %d/%d", a.theme.Dim.Render("loading"), loaded, total)
		if loaded >= total {
			fmt.Fprint(a.out, clearSpinnerLine)
		}
	}
}

// loadList brings m up to date the way a list view does: the cached list is
// shown when fresh, otherwise the first page is refetched. If loading fails
// the cached list is still shown.
func loadList[T domain.Entity](ctx context.Context, a *app, m *paging.Mediator[T], o listOpts) (paging.Listing[T], error) {
	var err error
	switch {
	case o.all:
		_, err = m.LoadAll(ctx, a.progressPrinter())
	case o.refresh:
		err = m.Load(ctx, paging.LoadRefresh, paging.PagingState{}).Err
	default:
		var action paging.InitializeAction
		action, err = m.Initialize(ctx)
		if err == nil && action == paging.LaunchInitialRefresh {
			err = m.Load(ctx, paging.LoadRefresh, paging.PagingState{}).Err
		}
	}
	if err == nil && o.more && !o.all {
		err = m.Load(ctx, paging.LoadAppend, paging.PagingState{}).Err
	}

	l, snapErr := m.Snapshot(ctx)
	if snapErr != nil {
		return l, snapErr
	}
	if err != nil {
		if len(l.Items) == 0 {
			return l, err
		}
		a.warn("showing cached list: %v", err)
	}
	return l, nil
}

func (a *app) footer(shown, total int, end bool) {
	line := fmt.Sprintf("%d of %d", shown, total)
	if !end {
		line += " (use -more or -all for the rest)"
	}
	fmt.Fprintln(a.out, a.theme.Dim.Render(line))
}

func (a *app) libraries(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("libraries", flag.ContinueOnError)
	refresh := fs.Bool("refresh", false, "refetch the library list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		libs []domain.Library
		err  error
	)
	if *refresh {
		libs, err = a.registry.FetchLibraries(ctx)
	} else {
		libs, err = a.registry.LibrariesStore().Get(ctx, a.registry.UserID())
	}
	if err != nil {
		cached, ok, cacheErr := a.registry.CachedLibraries(ctx)
		if cacheErr != nil || !ok {
			return err
		}
		a.warn("showing cached libraries: %v", err)
		libs = cached
	}

	fmt.Fprintln(a.out, a.theme.Header.Render("Libraries"))
	for _, lib := range libs {
		marker := " "
		if lib.ID == a.cfg.Server.LibraryID {
			marker = a.theme.Accent.Render("*")
		}
		fmt.Fprintf(a.out, "%s %s  %s  %s\n", marker,
			a.theme.Title.Render(lib.Name),
			a.theme.Badge.Render(string(lib.MediaType)),
			a.theme.Dim.Render(lib.ID))
	}
	return nil
}

func (a *app) items(ctx context.Context, args []string) error {
	o, _, err := parseList("items", args)
	if err != nil {
		return err
	}
	q, err := a.query(ctx, o)
	if err != nil {
		return err
	}
	l, err := loadList(ctx, a, a.registry.Items(q), o)
	if err != nil {
		return err
	}
	a.printItems("Items", l.Items)
	a.footer(len(l.Items), l.Total, l.EndOfPagination)
	return nil
}

func (a *app) printItems(title string, items []domain.LibraryItem) {
	fmt.Fprintln(a.out, a.theme.Header.Render(title))
	for _, it := range items {
		fmt.Fprintln(a.out, a.theme.ItemRow(it, titleWidth))
	}
}

func (a *app) authors(ctx context.Context, args []string) error {
	o, _, err := parseList("authors", args)
	if err != nil {
		return err
	}
	q, err := a.query(ctx, o)
	if err != nil {
		return err
	}
	l, err := loadList(ctx, a, a.registry.Authors(q), o)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, a.theme.Header.Render("Authors"))
	for _, au := range l.Items {
		fmt.Fprintf(a.out, "%s  %s\n", a.theme.Title.Render(au.Name), a.theme.Dim.Render(fmt.Sprintf("%d books", au.NumBooks)))
	}
	a.footer(len(l.Items), l.Total, l.EndOfPagination)
	return nil
}

func (a *app) series(ctx context.Context, args []string) error {
	o, _, err := parseList("series", args)
	if err != nil {
		return err
	}
	q, err := a.query(ctx, o)
	if err != nil {
		return err
	}
	l, err := loadList(ctx, a, a.registry.Series(q), o)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, a.theme.Header.Render("Series"))
	for _, s := range l.Items {
		fmt.Fprintf(a.out, "%s  %s\n", a.theme.Title.Render(s.Name), a.theme.Dim.Render(fmt.Sprintf("%d books", s.NumBooks)))
	}
	a.footer(len(l.Items), l.Total, l.EndOfPagination)
	return nil
}

func (a *app) collections(ctx context.Context, args []string) error {
	o, _, err := parseList("collections", args)
	if err != nil {
		return err
	}
	q, err := a.query(ctx, o)
	if err != nil {
		return err
	}
	l, err := loadList(ctx, a, a.registry.Collections(q), o)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, a.theme.Header.Render("Collections"))
	for _, c := range l.Items {
		fmt.Fprintf(a.out, "%s  %s\n", a.theme.Title.Render(c.Name), a.theme.Dim.Render(fmt.Sprintf("%d books", len(c.BookIDs))))
	}
	a.footer(len(l.Items), l.Total, l.EndOfPagination)
	return nil
}

func (a *app) inProgress(ctx context.Context, args []string) error {
	o, _, err := parseList("continue", args)
	if err != nil {
		return err
	}
	l, err := loadList(ctx, a, a.registry.InProgress(""), o)
	if err != nil {
		return err
	}
	a.printItems("Continue Listening", l.Items)
	return nil
}

func (a *app) search(ctx context.Context, args []string) error {
	o, rest, err := parseList("search", args)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(rest, " "))
	if text == "" {
		return errors.New("usage: shelf search [-library id] <query>")
	}
	q, err := a.query(ctx, o)
	if err != nil {
		return err
	}
	q.Search = text

	m := a.registry.Search(q)
	if _, err := m.LoadAll(ctx, nil); err != nil {
		// Server unreachable: match cached titles instead.
		cached, cacheErr := a.registry.CachedItems(ctx, q.LibraryID)
		if cacheErr != nil || len(cached) == 0 {
			return err
		}
		a.warn("server search failed, matching cached titles: %v", err)
		a.printItems("Results (offline)", search.Offline(text, cached))
		return nil
	}
	l, err := m.Snapshot(ctx)
	if err != nil {
		return err
	}
	a.printItems("Results", l.Items)
	return nil
}

func (a *app) find(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("find", flag.ContinueOnError)
	libFlag := fs.String("library", "", "library id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return errors.New("usage: shelf find [-library id] <query>")
	}
	libID, err := a.libraryID(ctx, *libFlag)
	if err != nil {
		return err
	}
	results, err := a.registry.Find(ctx, libID, text)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, a.theme.Header.Render("Matches"))
	for _, r := range results {
		fmt.Fprintf(a.out, "%s %s  %s\n",
			a.theme.Status(r.Item),
			a.theme.Highlight(r.Item.Title, r.MatchedIndexes),
			a.theme.Subtitle.Render(r.Item.AuthorName))
	}
	if len(results) == 0 {
		fmt.Fprintln(a.out, a.theme.Dim.Render("no cached matches, run `shelf items -all` to cache the library"))
	}
	return nil
}

func (a *app) progress(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("progress", flag.ContinueOnError)
	set := fs.Float64("set", -1, "record progress locally as a fraction between 0 and 1")
	finished := fs.Bool("finished", false, "mark the item finished")
	episode := fs.String("episode", "", "podcast episode id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: shelf progress [-set f] [-finished] [-episode id] <itemID>")
	}
	itemID := fs.Arg(0)

	item, err := a.registry.ItemStore().Get(ctx, itemID)
	if err != nil {
		return err
	}
	key := domain.ProgressKey{LibraryItemID: itemID, EpisodeID: *episode}

	if *set >= 0 || *finished {
		fraction := *set
		if *finished {
			fraction = 1
		}
		if fraction > 1 {
			return fmt.Errorf("progress must be between 0 and 1, got %v", fraction)
		}
		p := domain.MediaProgress{
			LibraryItemID: itemID,
			EpisodeID:     *episode,
			Duration:      item.Duration,
			Progress:      fraction,
			CurrentTime:   fraction * item.Duration,
			IsFinished:    *finished,
		}
		if err := a.registry.UpdateProgress(ctx, p); err != nil {
			return err
		}
	}

	p, err := a.registry.RefreshProgress(ctx, key)
	if err != nil {
		cached, cacheErr := a.registry.ProgressStore().Get(ctx, key)
		if cacheErr != nil {
			if errors.Is(err, domain.ErrNotFound) {
				fmt.Fprintf(a.out, "%s  %s\n", a.theme.Title.Render(item.Title), a.theme.Dim.Render("not started"))
				return nil
			}
			return err
		}
		a.warn("showing cached progress: %v", err)
		p = cached
	}

	status := fmt.Sprintf("%3.0f%%", p.Progress*100)
	if p.IsFinished {
		status = "finished"
	}
	fmt.Fprintf(a.out, "%s\n%s %s\n", a.theme.Title.Render(item.Title), a.theme.ProgressBar(p.Progress, 30), status)
	return nil
}

func (a *app) sync(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	libFlag := fs.String("library", "", "library id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	libID, err := a.libraryID(ctx, *libFlag)
	if err != nil {
		return err
	}
	results, err := a.registry.SyncLibrary(ctx, libID, a.progressPrinter())
	for _, r := range results {
		source := "fetched"
		if r.FromCache {
			source = "cached"
		}
		fmt.Fprintf(a.out, "%s  %d  %s\n", a.theme.Title.Render(r.QueryKey), r.Count, a.theme.Dim.Render(source))
	}
	return err
}

func (a *app) clearCache(ctx context.Context) error {
	if err := a.registry.Purge(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, a.theme.Success.Render("✓ Local cache cleared"))
	return nil
}
