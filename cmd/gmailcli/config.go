package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/wesnick/gmailcli/pkg/gmailcli"
)

const consentTimeout = 5 * time.Minute

// getConfigDir returns the config directory path, expanding ~ if needed
func getConfigDir(configFlag string) (string, error) {
	if configFlag == "" {
		configFlag = "~/.config/gmailcli"
	}

	// Expand ~
	if len(configFlag) > 0 && configFlag[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		configFlag = filepath.Join(home, configFlag[1:])
	}

	return configFlag, nil
}

// credentialsPath resolves the client credentials file. The
// GMAIL_CREDENTIALS_FILE environment variable overrides the default
// location under the config directory.
func credentialsPath(configDir string) string {
	if p := os.Getenv("GMAIL_CREDENTIALS_FILE"); p != "" {
		return p
	}
	return filepath.Join(configDir, "credentials.json")
}

// tokenPath resolves the stored token file. GMAIL_TOKEN_FILE overrides
// the default location under the config directory.
func tokenPath(configDir string) string {
	if p := os.Getenv("GMAIL_TOKEN_FILE"); p != "" {
		return p
	}
	return filepath.Join(configDir, "token.json")
}

// loadClientConfig reads the OAuth client config from credentials.json.
func loadClientConfig(configDir string) (gmailcli.ClientConfig, error) {
	path := credentialsPath(configDir)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return gmailcli.ClientConfig{}, fmt.Errorf("credentials file not found: %s\nRun 'gmailcli configure' to set up authentication", path)
		}
		return gmailcli.ClientConfig{}, fmt.Errorf("failed to open credentials file: %w", err)
	}
	defer f.Close()

	cfg, err := gmailcli.ParseClientConfig(f)
	if err != nil {
		return gmailcli.ClientConfig{}, err
	}
	return cfg, nil
}

// newConsent picks the consent mechanism from the client redirect URL.
// A localhost redirect gets the one-shot callback listener; anything
// else falls back to the paste-a-code prompt.
func newConsent(cfg gmailcli.ClientConfig) gmailcli.Consent {
	u, err := url.Parse(cfg.RedirectURL)
	if err == nil && u.Hostname() == "localhost" {
		addr := u.Host
		if u.Port() == "" {
			addr = u.Hostname() + ":8080"
		}
		return &gmailcli.LocalServerConsent{Addr: addr}
	}
	return &gmailcli.PromptConsent{}
}

// newAuthorizer builds the credential lifecycle driver from a client
// config.
func newAuthorizer(cfg gmailcli.ClientConfig) *gmailcli.Authorizer {
	return &gmailcli.Authorizer{
		Config:  cfg,
		Consent: newConsent(cfg),
		Timeout: consentTimeout,
	}
}

// writeClientConfig persists a prompted client config in the same
// "installed" shape Google's console produces, so later runs can load
// it back through ParseClientConfig.
func writeClientConfig(path string, cfg gmailcli.ClientConfig) error {
	blob := map[string]map[string]interface{}{
		"installed": {
			"client_id":     cfg.ClientID,
			"client_secret": cfg.ClientSecret,
			"auth_uri":      cfg.AuthEndpoint,
			"token_uri":     cfg.TokenEndpoint,
			"redirect_uris": []string{cfg.RedirectURL},
		},
	}
	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	return nil
}

// getConnection creates an authenticated Gmail connection
func getConnection(configFlag string) (*gmailcli.Connector, error) {
	configDir, err := getConfigDir(configFlag)
	if err != nil {
		return nil, err
	}

	cfg, err := loadClientConfig(configDir)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	store := gmailcli.NewTokenStore(tokenPath(configDir))
	conn, err := gmailcli.Connect(ctx, newAuthorizer(cfg), store)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail connection: %w", err)
	}

	return conn, nil
}

// runConfigure runs the OAuth configuration flow
func runConfigure(configFlag string) error {
	configDir, err := getConfigDir(configFlag)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	credPath := credentialsPath(configDir)
	fmt.Printf("Configuring OAuth authentication...\n")
	fmt.Printf("Config will be saved to: %s\n\n", configDir)

	var cfg gmailcli.ClientConfig
	if f, err := os.Open(credPath); err == nil {
		cfg, err = gmailcli.ParseClientConfig(f)
		f.Close()
		if err != nil {
			return err
		}
	} else {
		cfg, err = gmailcli.PromptClientConfig(os.Stdin, os.Stdout)
		if err != nil {
			return err
		}
		if err := writeClientConfig(credPath, cfg); err != nil {
			return err
		}
	}

	ctx := context.Background()
	store := gmailcli.NewTokenStore(tokenPath(configDir))
	if _, err := newAuthorizer(cfg).Obtain(ctx, store); err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	fmt.Printf("\nConfiguration complete! Token saved to %s\n", tokenPath(configDir))
	return nil
}
