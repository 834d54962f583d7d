package mediaserver

import (
	"context"
	"log/slog"

	"github.com/mmcdole/shelf/internal/domain"
	"github.com/mmcdole/shelf/internal/mediaserver/abs"
)

// NewAuthFlow creates the login flow. The returned flow first checks that
// the URL points at an Audiobookshelf server, so pointing it at another
// kind of media server fails with a clear error before any password is asked.
func NewAuthFlow(creds abs.Credentials, logger *slog.Logger) domain.AuthFlow {
	if logger == nil {
		logger = slog.Default()
	}
	return &detectingAuthFlow{inner: abs.NewAuthFlow(creds, logger), logger: logger}
}

// detectingAuthFlow wraps abs.AuthFlow with server detection
type detectingAuthFlow struct {
	inner  *abs.AuthFlow
	logger *slog.Logger
}

func (a *detectingAuthFlow) Run(ctx context.Context, serverURL string) (*domain.AuthResult, error) {
	serverType, err := DetectServerType(ctx, serverURL)
	if err != nil {
		return nil, err
	}
	if err := RequireAudiobookshelf(serverType); err != nil {
		return nil, err
	}
	a.logger.Debug("detected server", "type", serverType, "url", serverURL)
	return a.inner.Run(ctx, serverURL)
}
