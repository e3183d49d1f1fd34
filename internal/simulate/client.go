package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/websocket"
)

// Frame is one server push as seen by a player.
type Frame struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Entry is one leaderboard row.
type Entry struct {
	UserID string `json:"userId"`
	Score  int64  `json:"score"`
	Rank   int    `json:"rank"`
}

// client wraps http.Client for the leaderboard routes.
type client struct {
	base string
	http *http.Client
}

func newClient(base string, timeout time.Duration) *client {
	return &client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: timeout}}
}

func (c *client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// health checks GET /health/health.
func (c *client) health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health/health", nil)
}

// setScore submits score and returns the reported rank.
func (c *client) setScore(ctx context.Context, userID string, score int64) (int, error) {
	var body struct {
		Rank int `json:"rank"`
	}
	path := "/score/user/" + userID + "/" + strconv.FormatInt(score, 10)
	if err := c.do(ctx, http.MethodPut, path, &body); err != nil {
		return 0, err
	}
	return body.Rank, nil
}

// page fetches one leaderboard page.
func (c *client) page(ctx context.Context, n int) ([]Entry, error) {
	var entries []Entry
	if err := c.do(ctx, http.MethodGet, "/score/rank/"+strconv.Itoa(n), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// dial opens the push connection for userID.
func (c *client) dial(userID string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(c.base, "http") + "/ws?userId=" + userID
	return websocket.Dial(wsURL, "", c.base+"/")
}
