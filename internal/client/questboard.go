package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Teresaloving/PlantQuest/internal/models"
)

const questboardTimeout = 15 * time.Second

var httpClient = &http.Client{Timeout: questboardTimeout}

// FetchLeaderboard reads the ranked board from questboard. stale is set
// when the service could not refresh it lately. limit <= 0 fetches all.
func FetchLeaderboard(ctx context.Context, serverURL string, limit int) (board models.Leaderboard, stale bool, err error) {
	u := strings.TrimRight(serverURL, "/") + "/api/leaderboard"
	if limit > 0 {
		u += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return board, false, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return board, false, fmt.Errorf("failed to fetch leaderboard: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return board, false, fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&board); err != nil {
		return board, false, fmt.Errorf("failed to decode leaderboard: %w", err)
	}
	return board, resp.Header.Get("X-Leaderboard-Stale") == "true", nil
}

// Ping checks questboard is reachable and returns the round-trip time.
func Ping(ctx context.Context, serverURL string) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(serverURL, "/")+"/ping", nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to ping server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("server returned status: %s", resp.Status)
	}
	return time.Since(start), nil
}
