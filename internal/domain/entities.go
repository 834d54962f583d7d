package domain

import (
	"fmt"
	"strings"
	"time"
)

// MediaType distinguishes content types
type MediaType string

const (
	MediaTypeBook    MediaType = "book"
	MediaTypePodcast MediaType = "podcast"
)

// Entity is a server-identified record persisted by the local database.
type Entity interface {
	GetID() string
}

// LibraryItem represents a book or podcast in a library
type LibraryItem struct {
	ID           string    `json:"id"`           // Server-assigned identifier
	LibraryID    string    `json:"libraryId"`    // Parent library ID
	MediaType    MediaType `json:"mediaType"`    // book or podcast
	Title        string    `json:"title"`        // Display title
	Subtitle     string    `json:"subtitle"`     // Optional subtitle
	AuthorName   string    `json:"authorName"`   // Comma separated author names
	NarratorName string    `json:"narratorName"` // Comma separated narrator names
	SeriesName   string    `json:"seriesName"`   // "Series #N" style label
	Description  string    `json:"description"`  // Blurb (detail fetch only)
	Genres       []string  `json:"genres"`
	PublishedAt  string    `json:"publishedYear"`
	Duration     float64   `json:"duration"`  // Seconds
	NumTracks    int       `json:"numTracks"` // Audio files (books) or episodes (podcasts)
	AddedAt      int64     `json:"addedAt"`   // Unix millis when added to library
	UpdatedAt    int64     `json:"updatedAt"` // Unix millis when last updated on the server

	// Progress is the user's listening progress, if any. It races with
	// local mutations and is reconciled by LastUpdate, not by origin.
	Progress *MediaProgress `json:"progress,omitempty"`
}

func (i LibraryItem) GetID() string { return i.ID }

// FormattedDuration returns the duration in a human-readable format
func (i LibraryItem) FormattedDuration() string {
	d := time.Duration(i.Duration * float64(time.Second))
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

// ListenStatus returns the listening status of the item
func (i LibraryItem) ListenStatus() ListenStatus {
	if i.Progress == nil {
		return ListenStatusUnstarted
	}
	if i.Progress.IsFinished {
		return ListenStatusFinished
	}
	if i.Progress.CurrentTime > 0 {
		return ListenStatusInProgress
	}
	return ListenStatusUnstarted
}

// MergeProgress keeps the fresher of two progress records, judged by LastUpdate.
func MergeProgress(stored, incoming *MediaProgress) *MediaProgress {
	switch {
	case stored == nil:
		return incoming
	case incoming == nil:
		return stored
	case incoming.LastUpdate >= stored.LastUpdate:
		return incoming
	default:
		return stored
	}
}

// Author represents a book author
type Author struct {
	ID        string `json:"id"`
	LibraryID string `json:"libraryId"`
	Name      string `json:"name"`
	NumBooks  int    `json:"numBooks"`
	ImagePath string `json:"imagePath"`
	AddedAt   int64  `json:"addedAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

func (a Author) GetID() string { return a.ID }

// Series represents a book series
type Series struct {
	ID        string   `json:"id"`
	LibraryID string   `json:"libraryId"`
	Name      string   `json:"name"`
	NumBooks  int      `json:"numBooks"`
	BookIDs   []string `json:"bookIds"` // Ordered by sequence
	AddedAt   int64    `json:"addedAt"`
	UpdatedAt int64    `json:"updatedAt"`
}

func (s Series) GetID() string { return s.ID }

// Collection is a user-curated list of books.
type Collection struct {
	ID          string   `json:"id"`
	LibraryID   string   `json:"libraryId"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	BookIDs     []string `json:"bookIds"`
	UpdatedAt   int64    `json:"lastUpdate"`

	// Books are the expanded members as returned by the server. They are
	// persisted as separate library items, not inside the collection.
	Books []LibraryItem `json:"-"`
}

func (c Collection) GetID() string { return c.ID }

// MediaProgress is a user's position within a library item (or podcast episode).
type MediaProgress struct {
	ID            string  `json:"id"`
	LibraryItemID string  `json:"libraryItemId"`
	EpisodeID     string  `json:"episodeId,omitempty"`
	Duration      float64 `json:"duration"`    // Seconds
	Progress      float64 `json:"progress"`    // 0..1
	CurrentTime   float64 `json:"currentTime"` // Seconds
	IsFinished    bool    `json:"isFinished"`
	LastUpdate    int64   `json:"lastUpdate"` // Unix millis, monotonic per record
	StartedAt     int64   `json:"startedAt"`
	FinishedAt    int64   `json:"finishedAt"`
}

// GetID returns the storage identity, which is the progress key rather than
// the server's progress id so that local writes can precede the first sync.
func (p MediaProgress) GetID() string { return p.Key().String() }

// Key returns the lookup key for this progress record.
func (p MediaProgress) Key() ProgressKey {
	return ProgressKey{LibraryItemID: p.LibraryItemID, EpisodeID: p.EpisodeID}
}

// ProgressKey identifies media progress for an item or one podcast episode.
type ProgressKey struct {
	LibraryItemID string
	EpisodeID     string
}

func (k ProgressKey) String() string {
	if k.EpisodeID == "" {
		return k.LibraryItemID
	}
	return k.LibraryItemID + "-" + k.EpisodeID
}

// Library represents a media server library
type Library struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	MediaType MediaType `json:"mediaType"`
	UpdatedAt int64     `json:"lastUpdate"`
}

func (l Library) GetID() string { return l.ID }

// User is the authenticated account.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// ListenStatus represents the listening state of an item
type ListenStatus int

const (
	ListenStatusUnstarted ListenStatus = iota
	ListenStatusInProgress
	ListenStatusFinished
)

// String returns a human-readable representation of the listen status
func (s ListenStatus) String() string {
	switch s {
	case ListenStatusUnstarted:
		return "Not Started"
	case ListenStatusInProgress:
		return "In Progress"
	case ListenStatusFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// JoinNames renders a list of names the way the server's *Name fields do.
func JoinNames(names []string) string {
	return strings.Join(names, ", ")
}

// LibraryList is the set of libraries visible to one user.
type LibraryList struct {
	UserID    string    `json:"userId"`
	Libraries []Library `json:"libraries"`
}

func (l LibraryList) GetID() string { return l.UserID }
