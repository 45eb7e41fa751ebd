package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	berrors "github.com/p-blackswan/handoff-bridge/internal/errors"
)

// OAuthConfig holds the password-grant credentials for the backend's token
// endpoint.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	RedirectURI  string
	HTTPTimeout  time.Duration
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url,omitempty"`
	TokenType   string `json:"token_type,omitempty"`
}

// NewPasswordGrantFetcher returns a FetchFunc that exchanges the configured
// credentials for a bearer token.
func NewPasswordGrantFetcher(cfg OAuthConfig) FetchFunc {
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.HTTPTimeout == 0 {
		client.Timeout = 15 * time.Second
	}

	return func(ctx context.Context) (string, error) {
		form := url.Values{
			"grant_type":    {"password"},
			"username":      {cfg.Username},
			"password":      {cfg.Password},
			"client_id":     {cfg.ClientID},
			"client_secret": {cfg.ClientSecret},
			"redirect_uri":  {cfg.RedirectURI},
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("oauth token request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("oauth reading response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return "", berrors.NewAPIError("oauth", resp.StatusCode, "token fetch failed")
		}

		var tr tokenResponse
		if err := json.Unmarshal(body, &tr); err != nil {
			return "", fmt.Errorf("oauth decoding token: %w", err)
		}
		if tr.AccessToken == "" {
			return "", fmt.Errorf("oauth response carried no access token")
		}
		return tr.AccessToken, nil
	}
}
