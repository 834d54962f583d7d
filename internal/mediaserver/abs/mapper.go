package abs

import (
	"strings"

	"github.com/mmcdole/shelf/internal/domain"
)

// MapLibraries converts server libraries to domain libraries
func MapLibraries(libs []Library) []domain.Library {
	out := make([]domain.Library, 0, len(libs))
	for _, l := range libs {
		out = append(out, domain.Library{
			ID:        l.ID,
			Name:      l.Name,
			MediaType: domain.MediaType(l.MediaType),
			UpdatedAt: l.LastUpdate,
		})
	}
	return out
}

// MapItems converts library items, skipping entries without an id.
func MapItems(items []LibraryItem) []domain.LibraryItem {
	out := make([]domain.LibraryItem, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			continue
		}
		out = append(out, MapItem(it))
	}
	return out
}

// MapItem converts one item. Expanded fields win over their minified
// counterparts when both are present.
func MapItem(it LibraryItem) domain.LibraryItem {
	md := it.Media.Metadata
	item := domain.LibraryItem{
		ID:           it.ID,
		LibraryID:    it.LibraryID,
		MediaType:    domain.MediaType(it.MediaType),
		Title:        md.Title,
		Subtitle:     md.Subtitle,
		AuthorName:   md.AuthorName,
		NarratorName: md.NarratorName,
		SeriesName:   md.SeriesName,
		Description:  md.Description,
		Genres:       md.Genres,
		PublishedAt:  md.PublishedYear,
		Duration:     it.Media.Duration,
		NumTracks:    it.Media.NumTracks,
		AddedAt:      it.AddedAt,
		UpdatedAt:    it.UpdatedAt,
	}

	if len(md.Authors) > 0 {
		names := make([]string, 0, len(md.Authors))
		for _, a := range md.Authors {
			names = append(names, a.Name)
		}
		item.AuthorName = domain.JoinNames(names)
	}
	if item.AuthorName == "" && md.Author != "" {
		item.AuthorName = md.Author
	}
	if len(md.Narrators) > 0 {
		item.NarratorName = domain.JoinNames(md.Narrators)
	}
	if len(md.Series) > 0 {
		labels := make([]string, 0, len(md.Series))
		for _, s := range md.Series {
			labels = append(labels, seriesLabel(s))
		}
		item.SeriesName = domain.JoinNames(labels)
	}

	if item.MediaType == domain.MediaTypePodcast {
		item.NumTracks = it.Media.NumEpisodes
	} else if item.NumTracks == 0 && len(it.Media.Tracks) > 0 {
		item.NumTracks = len(it.Media.Tracks)
	}
	if item.Duration == 0 {
		for _, t := range it.Media.Tracks {
			item.Duration += t.Duration
		}
	}

	if it.UserMediaProgress != nil {
		p := MapProgress(*it.UserMediaProgress)
		item.Progress = &p
	}
	return item
}

func seriesLabel(s SeriesSeqRef) string {
	if strings.TrimSpace(s.Sequence) == "" {
		return s.Name
	}
	return s.Name + " #" + s.Sequence
}

// MapAuthors converts library authors
func MapAuthors(authors []Author) []domain.Author {
	out := make([]domain.Author, 0, len(authors))
	for _, a := range authors {
		out = append(out, domain.Author{
			ID:        a.ID,
			LibraryID: a.LibraryID,
			Name:      a.Name,
			NumBooks:  a.NumBooks,
			ImagePath: a.ImagePath,
			AddedAt:   a.AddedAt,
			UpdatedAt: a.UpdatedAt,
		})
	}
	return out
}

// MapSeries converts series, keeping book ids in the server's sequence order.
func MapSeries(series []Series) []domain.Series {
	out := make([]domain.Series, 0, len(series))
	for _, s := range series {
		ids := make([]string, 0, len(s.Books))
		for _, b := range s.Books {
			ids = append(ids, b.ID)
		}
		out = append(out, domain.Series{
			ID:        s.ID,
			LibraryID: s.LibraryID,
			Name:      s.Name,
			NumBooks:  len(s.Books),
			BookIDs:   ids,
			AddedAt:   s.AddedAt,
			UpdatedAt: s.UpdatedAt,
		})
	}
	return out
}

// MapCollections converts collections. Member books are kept on the
// collection so storage can persist them as items.
func MapCollections(cols []Collection) []domain.Collection {
	out := make([]domain.Collection, 0, len(cols))
	for _, c := range cols {
		books := MapItems(c.Books)
		ids := make([]string, 0, len(books))
		for _, b := range books {
			ids = append(ids, b.ID)
		}
		out = append(out, domain.Collection{
			ID:          c.ID,
			LibraryID:   c.LibraryID,
			Name:        c.Name,
			Description: c.Description,
			BookIDs:     ids,
			UpdatedAt:   c.LastUpdate,
			Books:       books,
		})
	}
	return out
}

// MapSearch flattens book and podcast hits, books first.
func MapSearch(resp SearchResponse) []domain.LibraryItem {
	hits := make([]LibraryItem, 0, len(resp.Book)+len(resp.Podcast))
	for _, h := range resp.Book {
		hits = append(hits, h.LibraryItem)
	}
	for _, h := range resp.Podcast {
		hits = append(hits, h.LibraryItem)
	}
	return MapItems(hits)
}

// MapProgress converts media progress
func MapProgress(p MediaProgress) domain.MediaProgress {
	return domain.MediaProgress{
		ID:            p.ID,
		LibraryItemID: p.LibraryItemID,
		EpisodeID:     p.EpisodeID,
		Duration:      p.Duration,
		Progress:      p.Progress,
		CurrentTime:   p.CurrentTime,
		IsFinished:    p.IsFinished,
		LastUpdate:    p.LastUpdate,
		StartedAt:     p.StartedAt,
		FinishedAt:    p.FinishedAt,
	}
}
