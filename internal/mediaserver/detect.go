package mediaserver

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const detectTimeout = 10 * time.Second

// ServerType is the kind of media server found at a URL.
type ServerType string

const (
	ServerAudiobookshelf ServerType = "audiobookshelf"
	ServerJellyfin       ServerType = "jellyfin"
	ServerPlex           ServerType = "plex"
)

// ErrUnsupportedServer indicates a reachable media server that is not Audiobookshelf
var ErrUnsupportedServer = errors.New("unsupported media server")

// absStatus represents the Audiobookshelf /status response
type absStatus struct {
	App           string `json:"app"`
	IsInit        bool   `json:"isInit"`
	ServerVersion string `json:"serverVersion"`
}

// jellyfinSystemInfo represents the Jellyfin /System/Info/Public response
type jellyfinSystemInfo struct {
	ProductName string `json:"ProductName"`
	Version     string `json:"Version"`
}

// plexIdentity represents the Plex /identity response
type plexIdentity struct {
	XMLName           xml.Name `xml:"MediaContainer"`
	MachineIdentifier string   `xml:"machineIdentifier,attr"`
}

// DetectServerType probes serverURL's unauthenticated endpoints to find out
// what kind of media server it is.
func DetectServerType(ctx context.Context, serverURL string) (ServerType, error) {
	serverURL = strings.TrimRight(serverURL, "/")
	client := &http.Client{Timeout: detectTimeout}

	absErr := tryAudiobookshelf(ctx, client, serverURL)
	if absErr == nil {
		return ServerAudiobookshelf, nil
	}
	if err := tryJellyfin(ctx, client, serverURL); err == nil {
		return ServerJellyfin, nil
	}
	if err := tryPlex(ctx, client, serverURL); err == nil {
		return ServerPlex, nil
	}
	return "", fmt.Errorf("could not detect server at %s: %w", serverURL, absErr)
}

// RequireAudiobookshelf returns ErrUnsupportedServer for anything else.
func RequireAudiobookshelf(t ServerType) error {
	if t == ServerAudiobookshelf {
		return nil
	}
	return fmt.Errorf("%w: found %s, expected audiobookshelf", ErrUnsupportedServer, t)
}

func probe(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func tryAudiobookshelf(ctx context.Context, client *http.Client, serverURL string) error {
	body, err := probe(ctx, client, serverURL+"/status")
	if err != nil {
		return err
	}
	var status absStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if status.App == "audiobookshelf" || status.ServerVersion != "" {
		return nil
	}
	return fmt.Errorf("not an Audiobookshelf server")
}

func tryJellyfin(ctx context.Context, client *http.Client, serverURL string) error {
	body, err := probe(ctx, client, serverURL+"/System/Info/Public")
	if err != nil {
		return err
	}
	var info jellyfinSystemInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if strings.Contains(strings.ToLower(info.ProductName), "jellyfin") {
		return nil
	}
	return fmt.Errorf("not a Jellyfin server (ProductName: %s)", info.ProductName)
}

func tryPlex(ctx context.Context, client *http.Client, serverURL string) error {
	body, err := probe(ctx, client, serverURL+"/identity")
	if err != nil {
		return err
	}
	var identity plexIdentity
	if err := xml.Unmarshal(body, &identity); err == nil && identity.MachineIdentifier != "" {
		return nil
	}
	return fmt.Errorf("not a Plex server")
}
