package mediaserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/shelf/internal/config"
	"github.com/mmcdole/shelf/internal/domain"
)

func serve(t *testing.T, routes map[string]string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestDetectServerType(t *testing.T) {
	tests := []struct {
		name   string
		routes map[string]string
		want   ServerType
	}{
		{
			name:   "audiobookshelf",
			routes: map[string]string{"/status": `{"app":"audiobookshelf","serverVersion":"2.17.0","isInit":true}`},
			want:   ServerAudiobookshelf,
		},
		{
			name:   "jellyfin",
			routes: map[string]string{"/System/Info/Public": `{"ProductName":"Jellyfin Server","Version":"10.9"}`},
			want:   ServerJellyfin,
		},
		{
			name:   "plex",
			routes: map[string]string{"/identity": `<MediaContainer machineIdentifier="abc" version="1.40"/>`},
			want:   ServerPlex,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectServerType(context.Background(), serve(t, tt.routes)+"/")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectServerTypeUnknown(t *testing.T) {
	_, err := DetectServerType(context.Background(), serve(t, nil))
	assert.Error(t, err)
}

func TestAuthFlowRejectsOtherServers(t *testing.T) {
	url := serve(t, map[string]string{"/System/Info/Public": `{"ProductName":"Jellyfin Server"}`})
	asked := false
	flow := NewAuthFlow(func() (string, string, error) {
		asked = true
		return "u", "p", nil
	}, nil)

	_, err := flow.Run(context.Background(), url)
	require.ErrorIs(t, err, ErrUnsupportedServer)
	assert.False(t, asked, "credentials must not be requested")
}

func TestAuthFlowLogsIntoAudiobookshelf(t *testing.T) {
	url := serve(t, map[string]string{
		"/status": `{"app":"audiobookshelf","serverVersion":"2.17.0","isInit":true}`,
		"/login":  `{"user":{"id":"u1","username":"root","token":"tok"}}`,
	})
	flow := NewAuthFlow(func() (string, string, error) { return "root", "pw", nil }, nil)

	res, err := flow.Run(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, &domain.AuthResult{Token: "tok", UserID: "u1", Username: "root"}, res)
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := NewClient(nil, nil)
	assert.Error(t, err)

	cfg := config.DefaultConfig()
	_, err = NewClient(cfg, nil)
	assert.Error(t, err)

	cfg.Server.URL = "http://abs.local"
	_, err = NewClient(cfg, nil)
	assert.Error(t, err)

	cfg.Server.Token = "tok"
	client, err := NewClient(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, client)
}
