// Package abs is the Audiobookshelf API client.
package abs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/shelf/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "Shelf/1.0"
)

// Client implements domain.LibraryRepository, domain.SearchRepository and
// domain.MetadataRepository for Audiobookshelf. Every call performs exactly
// one request and never retries.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

var (
	_ domain.LibraryRepository  = (*Client)(nil)
	_ domain.SearchRepository   = (*Client)(nil)
	_ domain.MetadataRepository = (*Client)(nil)
)

// NewClient creates a new Audiobookshelf API client
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger,
	}
}

// doRequest performs an authenticated HTTP request and returns the body of a
// 2xx response.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("abs request", "method", method, "path", path, "query", query.Encode())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error("abs request failed", "path", path, "error", err)
		return nil, fmt.Errorf("%w: %s %s: %w", domain.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrNetwork, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.ErrAuthFailed
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.logger.Error("abs request error", "status", resp.StatusCode, "path", path, "body", truncate(data, 256))
		return nil, fmt.Errorf("%w: %s %s: unexpected status code: %d", domain.ErrNetwork, method, path, resp.StatusCode)
	}
	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// get performs a GET and decodes the JSON body into T.
func get[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	var out T
	body, err := c.doRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		c.logger.Error("JSON parse error", "path", path, "error", err, "bodyLen", len(body))
		return out, fmt.Errorf("%w: %s: %w", domain.ErrDecode, path, err)
	}
	return out, nil
}

func libraryPath(libID, endpoint string) string {
	return "/api/libraries/" + url.PathEscape(libID) + "/" + endpoint
}

// libraryErr reports a missing library as ErrLibraryNotFound.
func libraryErr(err error, libID string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrLibraryNotFound, libID)
	}
	return err
}

func pageResult[T any](data []T, page, limit, total int) domain.PageResult[T] {
	return domain.PageResult[T]{
		Data:     data,
		Page:     page,
		NextPage: domain.NextPageFor(page, limit, total),
		Total:    total,
	}
}

// GetLibraries returns all libraries visible to the user
func (c *Client) GetLibraries(ctx context.Context) ([]domain.Library, error) {
	resp, err := get[LibrariesResponse](ctx, c, "/api/libraries", nil)
	if err != nil {
		return nil, err
	}
	return MapLibraries(resp.Libraries), nil
}

// GetItems returns one page of library items
func (c *Client) GetItems(ctx context.Context, q domain.QueryKey, page, limit int) (domain.PageResult[domain.LibraryItem], error) {
	params := q.Params(page, limit)
	params.Set("minified", "1")
	resp, err := get[PagedResponse[LibraryItem]](ctx, c, libraryPath(q.LibraryID, "items"), params)
	if err != nil {
		return domain.PageResult[domain.LibraryItem]{}, libraryErr(err, q.LibraryID)
	}
	return pageResult(MapItems(resp.Results), page, limit, resp.Total), nil
}

// GetAuthors returns one page of authors
func (c *Client) GetAuthors(ctx context.Context, q domain.QueryKey, page, limit int) (domain.PageResult[domain.Author], error) {
	resp, err := get[AuthorsResponse](ctx, c, libraryPath(q.LibraryID, "authors"), q.Params(page, limit))
	if err != nil {
		return domain.PageResult[domain.Author]{}, libraryErr(err, q.LibraryID)
	}
	if resp.Results == nil && resp.Authors != nil {
		// Unpaged response: everything arrives as page 0.
		authors := MapAuthors(resp.Authors)
		return domain.PageResult[domain.Author]{Data: authors, Page: page, Total: len(authors)}, nil
	}
	return pageResult(MapAuthors(resp.Results), page, limit, resp.Total), nil
}

// GetSeries returns one page of series
func (c *Client) GetSeries(ctx context.Context, q domain.QueryKey, page, limit int) (domain.PageResult[domain.Series], error) {
	resp, err := get[PagedResponse[Series]](ctx, c, libraryPath(q.LibraryID, "series"), q.Params(page, limit))
	if err != nil {
		return domain.PageResult[domain.Series]{}, libraryErr(err, q.LibraryID)
	}
	return pageResult(MapSeries(resp.Results), page, limit, resp.Total), nil
}

// GetCollections returns one page of collections with their books expanded
func (c *Client) GetCollections(ctx context.Context, q domain.QueryKey, page, limit int) (domain.PageResult[domain.Collection], error) {
	resp, err := get[PagedResponse[Collection]](ctx, c, libraryPath(q.LibraryID, "collections"), q.Params(page, limit))
	if err != nil {
		return domain.PageResult[domain.Collection]{}, libraryErr(err, q.LibraryID)
	}
	return pageResult(MapCollections(resp.Results), page, limit, resp.Total), nil
}

// Search returns matching items of one library as a single page
func (c *Client) Search(ctx context.Context, q domain.QueryKey, limit int) (domain.PageResult[domain.LibraryItem], error) {
	params := url.Values{}
	params.Set("q", q.Search)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	resp, err := get[SearchResponse](ctx, c, libraryPath(q.LibraryID, "search"), params)
	if err != nil {
		return domain.PageResult[domain.LibraryItem]{}, libraryErr(err, q.LibraryID)
	}
	items := MapSearch(resp)
	return domain.PageResult[domain.LibraryItem]{Data: items, Total: len(items)}, nil
}

// GetItem returns the expanded item with the user's progress
func (c *Client) GetItem(ctx context.Context, itemID string) (domain.LibraryItem, error) {
	params := url.Values{}
	params.Set("expanded", "1")
	params.Set("include", "progress")
	resp, err := get[LibraryItem](ctx, c, "/api/items/"+url.PathEscape(itemID), params)
	if err != nil {
		return domain.LibraryItem{}, err
	}
	if resp.ID == "" {
		return domain.LibraryItem{}, fmt.Errorf("%w: item %s has no id", domain.ErrDecode, itemID)
	}
	return MapItem(resp), nil
}

// GetProgress returns the user's progress. A 404 means nothing was recorded
// yet and is reported as domain.ErrNotFound.
func (c *Client) GetProgress(ctx context.Context, key domain.ProgressKey) (domain.MediaProgress, error) {
	path := "/api/me/progress/" + url.PathEscape(key.LibraryItemID)
	if key.EpisodeID != "" {
		path += "/" + url.PathEscape(key.EpisodeID)
	}
	resp, err := get[MediaProgress](ctx, c, path, nil)
	if err != nil {
		return domain.MediaProgress{}, err
	}
	p := MapProgress(resp)
	// The key is authoritative for identity.
	p.LibraryItemID, p.EpisodeID = key.LibraryItemID, key.EpisodeID
	return p, nil
}

// GetItemsInProgress returns the continue-listening list
func (c *Client) GetItemsInProgress(ctx context.Context) ([]domain.LibraryItem, error) {
	resp, err := get[ItemsInProgressResponse](ctx, c, "/api/me/items-in-progress", nil)
	if err != nil {
		return nil, err
	}
	return MapItems(resp.LibraryItems), nil
}

// Status probes the unauthenticated /status endpoint.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	return get[StatusResponse](ctx, c, "/status", nil)
}
