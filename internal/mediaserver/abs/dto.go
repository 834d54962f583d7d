package abs

// PagedResponse is the envelope of paged library endpoints.
type PagedResponse[T any] struct {
	Results []T `json:"results"`
	Total   int `json:"total"`
	Limit   int `json:"limit"`
	Page    int `json:"page"`
}

// LibrariesResponse is returned by /api/libraries.
type LibrariesResponse struct {
	Libraries []Library `json:"libraries"`
}

// Library is a server library.
type Library struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MediaType  string `json:"mediaType"`
	LastUpdate int64  `json:"lastUpdate"`
}

// LibraryItem is a book or podcast, minified or expanded.
type LibraryItem struct {
	ID        string `json:"id"`
	LibraryID string `json:"libraryId"`
	MediaType string `json:"mediaType"`
	AddedAt   int64  `json:"addedAt"`
	UpdatedAt int64  `json:"updatedAt"`
	Media     Media  `json:"media"`

	// Present when requested with include=progress.
	UserMediaProgress *MediaProgress `json:"userMediaProgress,omitempty"`
}

// Media holds the book or podcast payload of an item.
type Media struct {
	Metadata    Metadata `json:"metadata"`
	Duration    float64  `json:"duration"`
	NumTracks   int      `json:"numTracks"`
	NumEpisodes int      `json:"numEpisodes"`
	Tracks      []Track  `json:"tracks,omitempty"`
}

// Track is an audio track of an expanded book.
type Track struct {
	Index    int     `json:"index"`
	Duration float64 `json:"duration"`
}

// Metadata is the descriptive part of an item.
type Metadata struct {
	Title         string         `json:"title"`
	Subtitle      string         `json:"subtitle"`
	AuthorName    string         `json:"authorName"`
	NarratorName  string         `json:"narratorName"`
	SeriesName    string         `json:"seriesName"`
	Description   string         `json:"description"`
	Genres        []string       `json:"genres"`
	PublishedYear string         `json:"publishedYear"`
	Authors       []NamedRef     `json:"authors,omitempty"`
	Narrators     []string       `json:"narrators,omitempty"`
	Series        []SeriesSeqRef `json:"series,omitempty"`
	Author        string         `json:"author,omitempty"` // podcasts
}

// NamedRef is an {id, name} reference.
type NamedRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SeriesSeqRef is a series reference with the item's sequence in it.
type SeriesSeqRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Sequence string `json:"sequence"`
}

// Author is a library author.
type Author struct {
	ID        string `json:"id"`
	LibraryID string `json:"libraryId"`
	Name      string `json:"name"`
	NumBooks  int    `json:"numBooks"`
	ImagePath string `json:"imagePath"`
	AddedAt   int64  `json:"addedAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// AuthorsResponse is returned by /authors. Older servers return the list
// unpaged under "authors".
type AuthorsResponse struct {
	PagedResponse[Author]
	Authors []Author `json:"authors"`
}

// Series is a library series with its books in sequence order.
type Series struct {
	ID        string        `json:"id"`
	LibraryID string        `json:"libraryId"`
	Name      string        `json:"name"`
	AddedAt   int64         `json:"addedAt"`
	UpdatedAt int64         `json:"updatedAt"`
	Books     []LibraryItem `json:"books"`
}

// Collection is a user collection with its books expanded.
type Collection struct {
	ID          string        `json:"id"`
	LibraryID   string        `json:"libraryId"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	LastUpdate  int64         `json:"lastUpdate"`
	Books       []LibraryItem `json:"books"`
}

// SearchResponse is returned by /api/libraries/:id/search.
type SearchResponse struct {
	Book    []SearchHit `json:"book"`
	Podcast []SearchHit `json:"podcast"`
}

// SearchHit wraps one matching item.
type SearchHit struct {
	LibraryItem LibraryItem `json:"libraryItem"`
	MatchKey    string      `json:"matchKey"`
	MatchText   string      `json:"matchText"`
}

// MediaProgress is the user's progress on an item or episode.
type MediaProgress struct {
	ID            string  `json:"id"`
	LibraryItemID string  `json:"libraryItemId"`
	EpisodeID     string  `json:"episodeId"`
	Duration      float64 `json:"duration"`
	Progress      float64 `json:"progress"`
	CurrentTime   float64 `json:"currentTime"`
	IsFinished    bool    `json:"isFinished"`
	LastUpdate    int64   `json:"lastUpdate"`
	StartedAt     int64   `json:"startedAt"`
	FinishedAt    int64   `json:"finishedAt"`
}

// ItemsInProgressResponse is returned by /api/me/items-in-progress.
type ItemsInProgressResponse struct {
	LibraryItems []LibraryItem `json:"libraryItems"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by POST /login.
type LoginResponse struct {
	User                 User   `json:"user"`
	UserDefaultLibraryID string `json:"userDefaultLibraryId"`
}

// User is the authenticated account.
type User struct {
	ID            string          `json:"id"`
	Username      string          `json:"username"`
	Token         string          `json:"token"`
	MediaProgress []MediaProgress `json:"mediaProgress"`
}

// StatusResponse is returned by the unauthenticated /status endpoint.
type StatusResponse struct {
	IsInit        bool     `json:"isInit"`
	ServerVersion string   `json:"serverVersion"`
	AuthMethods   []string `json:"authMethods"`
}
