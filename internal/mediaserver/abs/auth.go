package abs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mmcdole/shelf/internal/domain"
)

// ErrNotInitialized indicates the server has not been set up yet
var ErrNotInitialized = errors.New("audiobookshelf server is not initialized")

// Credentials supplies a username and password, typically by prompting.
type Credentials func() (username, password string, err error)

// Login exchanges a username and password for an API token.
func (c *Client) Login(ctx context.Context, username, password string) (*domain.AuthResult, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/login", nil, LoginRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, err
	}

	var resp LoginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: login: %w", domain.ErrDecode, err)
	}
	if resp.User.Token == "" {
		return nil, fmt.Errorf("%w: login response has no token", domain.ErrDecode)
	}

	c.logger.Info("logged in", "user", resp.User.Username)
	return &domain.AuthResult{
		Token:    resp.User.Token,
		UserID:   resp.User.ID,
		Username: resp.User.Username,
	}, nil
}

// AuthFlow handles username/password authentication
type AuthFlow struct {
	creds  Credentials
	logger *slog.Logger
}

var _ domain.AuthFlow = (*AuthFlow)(nil)

// NewAuthFlow creates a new authentication flow
func NewAuthFlow(creds Credentials, logger *slog.Logger) *AuthFlow {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthFlow{creds: creds, logger: logger}
}

// Run checks the server is reachable and initialized, asks for credentials
// and logs in.
func (f *AuthFlow) Run(ctx context.Context, serverURL string) (*domain.AuthResult, error) {
	client := NewClient(serverURL, "", f.logger)

	status, err := client.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not reach server: %w", err)
	}
	if !status.IsInit {
		return nil, ErrNotInitialized
	}
	f.logger.Debug("server detected", "version", status.ServerVersion)

	username, password, err := f.creds()
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	result, err := client.Login(ctx, username, password)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return result, nil
}
