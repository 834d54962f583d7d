package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/mmcdole/shelf/internal/config"
	"github.com/mmcdole/shelf/internal/mediaserver"
	"github.com/mmcdole/shelf/internal/ui"
)

// clearSpinnerLine clears the spinner line from the terminal
const clearSpinnerLine = "\r                                    \r"

func (a *app) login(ctx context.Context) error {
	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, a.theme.Title.Render("Welcome to Shelf!"))
	fmt.Fprintln(a.out)

	reader := bufio.NewReader(os.Stdin)
	prompt := func(label string) (string, error) {
		fmt.Fprint(a.out, label)
		input, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return strings.TrimSpace(input), nil
	}

	var serverURL string
	for serverURL == "" {
		input, err := prompt("Enter your Audiobookshelf URL (e.g., http://192.168.1.100:13378): ")
		if err != nil {
			return err
		}
		if input == "" {
			fmt.Fprintln(a.out, "Server URL cannot be empty. Please try again.")
		}
		serverURL = input
	}

	creds := func() (string, string, error) {
		username, err := prompt("Username: ")
		if err != nil {
			return "", "", err
		}
		fmt.Fprint(a.out, "Password: ")
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(a.out)
		if err != nil {
			return "", "", fmt.Errorf("failed to read password: %w", err)
		}
		return username, string(password), nil
	}

	serverType, err := a.detectServerWithSpinner(ctx, serverURL)
	if err != nil {
		return fmt.Errorf("could not detect server: %w", err)
	}
	if err := mediaserver.RequireAudiobookshelf(serverType); err != nil {
		return err
	}

	result, err := mediaserver.NewAuthFlow(creds, a.logger).Run(ctx, serverURL)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	a.cfg.Server.URL = serverURL
	if err := config.SaveToken(a.cfg, config.DefaultConfigDir(), result.Token, result.UserID, result.Username); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, a.theme.Success.Render("✓ Signed in as "+result.Username))
	return nil
}

func (a *app) logout(context.Context) error {
	if err := config.ClearServerConfig(a.cfg, config.DefaultConfigDir()); err != nil {
		return err
	}
	if err := config.ClearCache(a.cfg); err != nil {
		return err
	}
	fmt.Fprintln(a.out, a.theme.Success.Render("✓ Signed out"))
	return nil
}

// detectServerWithSpinner detects the server type with a visual spinner
func (a *app) detectServerWithSpinner(ctx context.Context, serverURL string) (mediaserver.ServerType, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	type result struct {
		serverType mediaserver.ServerType
		err        error
	}
	resultCh := make(chan result, 1)
	go func() {
		serverType, err := mediaserver.DetectServerType(ctx, serverURL)
		resultCh <- result{serverType, err}
	}()

	frame := 0
	fmt.Fprintf(a.out, "\r%s Detecting server...", a.theme.Accent.Render(ui.SpinnerFrames[frame]))

	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case res := <-resultCh:
			fmt.Fprint(a.out, clearSpinnerLine)
			if res.err != nil {
				return "", res.err
			}
			fmt.Fprintf(a.out, "✓ Detected: %s\n", res.serverType)
			return res.serverType, nil

		case <-ticker.C:
			frame++
			fmt.Fprintf(a.out, "\r%s Detecting server...", a.theme.Accent.Render(ui.SpinnerFrames[frame%len(ui.SpinnerFrames)]))

		case <-ctx.Done():
			fmt.Fprint(a.out, clearSpinnerLine)
			return "", fmt.Errorf("detection timed out")
		}
	}
}
