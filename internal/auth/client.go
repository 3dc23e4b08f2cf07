// Package auth talks to the external authentication service that issues
// bearer tokens and answers role checks.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

type Principal struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (p Principal) Admin() bool {
	return p.Role == "admin"
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: &http.Client{}}
}

// Verify resolves a bearer token to a principal. Any non-200 answer means
// the token is not valid; there is no anonymous principal.
func (c *Client) Verify(ctx context.Context, token string) (Principal, error) {
	if c.baseURL == "" {
		return Principal{}, fmt.Errorf("auth service not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/verify", nil)
	if err != nil {
		return Principal{}, fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Principal{}, fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Principal{}, fmt.Errorf("verify token: auth service status %d", resp.StatusCode)
	}
	var p Principal
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Principal{}, fmt.Errorf("decode auth response: %w", err)
	}
	if p.UserID == "" {
		return Principal{}, fmt.Errorf("auth service returned empty principal")
	}
	return p, nil
}
