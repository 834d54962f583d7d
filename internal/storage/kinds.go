package storage

import "github.com/mmcdole/shelf/internal/domain"

// Entity kinds persisted by the client.
var (
	Items = Kind[domain.LibraryItem]{
		Name: domain.KindItems,
		Merge: func(kept, other domain.LibraryItem) domain.LibraryItem {
			// Ties go to kept.
			kept.Progress = domain.MergeProgress(other.Progress, kept.Progress)
			return kept
		},
	}

	Authors = Kind[domain.Author]{Name: domain.KindAuthors}

	Series = Kind[domain.Series]{Name: domain.KindSeries}

	Collections = Kind[domain.Collection]{
		Name: domain.KindCollections,
		Related: func(c domain.Collection) []Related {
			related := make([]Related, 0, len(c.Books))
			for _, b := range c.Books {
				related = append(related, Related{Kind: domain.KindItems, Entity: b})
			}
			return related
		},
	}

	Progress = Kind[domain.MediaProgress]{
		Name: "progress",
		Merge: func(kept, other domain.MediaProgress) domain.MediaProgress {
			if other.LastUpdate > kept.LastUpdate {
				return other
			}
			return kept
		},
	}

	Libraries = Kind[domain.LibraryList]{Name: "libraries"}
)
