// Package sessionclient reads finished sessions from the session-of-record
// service and maps them into domain records.
package sessionclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// maxErrorBody bounds how much of an error response is kept for logs.
const maxErrorBody = 512

type Fetcher interface {
	Fetch(ctx context.Context, sessionID, userID string) (*SessionResponse, error)
}

// Client calls the session service. It never retries; redelivery of the
// completion signal is the retry mechanism.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Fetch(ctx context.Context, sessionID, userID string) (*SessionResponse, error) {
	endpoint := fmt.Sprintf("%s/sessions/%s?userId=%s", c.baseURL, url.PathEscape(sessionID), url.QueryEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	log.Debug().
		Str("session_id", sessionID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("Fetched session snapshot")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp, sessionID, userID)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	var out SessionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to decode response body: %w", err)}
	}

	if out.Session.UserID != "" && out.Session.UserID != userID {
		return nil, &NotFoundError{SessionID: sessionID, UserID: userID}
	}

	return &out, nil
}

func statusError(resp *http.Response, sessionID, userID string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	body := strings.TrimSpace(string(snippet))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{SessionID: sessionID, UserID: userID}
	case resp.StatusCode >= 500:
		return &RemoteServerError{StatusCode: resp.StatusCode, Body: body}
	default:
		return &RemoteClientError{StatusCode: resp.StatusCode, Body: body}
	}
}
