package ctl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/okian/standings/internal/domain/model"
	"github.com/okian/standings/internal/domain/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const apiPrefix = "/api/v1"

// APIError is a non-2xx answer of the control surface.
type APIError struct {
	Status  int                `json:"-"`
	Code    string             `json:"code"`
	Message string             `json:"message"`
	Errors  []types.FieldError `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d %s: %s", e.Status, e.Code, e.Message)
}

// SnapshotSummary is a snapshot listing row.
type SnapshotSummary struct {
	ID          string `json:"id"`
	LeagueID    string `json:"league_id"`
	SeasonID    string `json:"season_id"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
	Entries     int    `json:"entries"`
}

// Client talks to the standings HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func keyPath(k model.Key) string {
	return apiPrefix + "/leagues/" + url.PathEscape(k.LeagueID) + "/seasons/" + url.PathEscape(k.SeasonID)
}

// do sends body as JSON and decodes a 2xx answer into out when out is set.
func (c *Client) do(ctx context.Context, method, path string, body, out any, header ...string) (int, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return resp.StatusCode, apiErr
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Health checks the liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	return err
}

// SaveMatch creates a match. idempotencyKey may be empty.
func (c *Client) SaveMatch(ctx context.Context, m *model.Match, idempotencyKey string) (types.SaveResult, error) {
	var res types.SaveResult
	var header []string
	if idempotencyKey != "" {
		header = []string{"Idempotency-Key", idempotencyKey}
	}
	_, err := c.do(ctx, http.MethodPost, apiPrefix+"/matches", m, &res, header...)
	return res, err
}

// Trigger requests a recalculation. An empty priority uses the server default.
func (c *Client) Trigger(ctx context.Context, key model.Key, priority, description string) (types.TriggerResult, error) {
	var res types.TriggerResult
	body := map[string]string{"priority": priority, "description": description}
	_, err := c.do(ctx, http.MethodPost, keyPath(key)+"/recalculate", body, &res)
	return res, err
}

// Pause stops job dispatch.
func (c *Client) Pause(ctx context.Context) (types.QueueStatus, error) {
	var st types.QueueStatus
	_, err := c.do(ctx, http.MethodPost, apiPrefix+"/queue/pause", nil, &st)
	return st, err
}

// Resume restarts job dispatch.
func (c *Client) Resume(ctx context.Context) (types.QueueStatus, error) {
	var st types.QueueStatus
	_, err := c.do(ctx, http.MethodPost, apiPrefix+"/queue/resume", nil, &st)
	return st, err
}

// Status returns the queue status.
func (c *Client) Status(ctx context.Context) (types.QueueStatus, error) {
	var st types.QueueStatus
	_, err := c.do(ctx, http.MethodGet, apiPrefix+"/queue", nil, &st)
	return st, err
}

// History lists jobs newest first. limit <= 0 uses the server default.
func (c *Client) History(ctx context.Context, leagueID string, limit int) ([]model.Job, error) {
	q := url.Values{}
	if leagueID != "" {
		q.Set("league", leagueID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := apiPrefix + "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var jobs []model.Job
	_, err := c.do(ctx, http.MethodGet, path, nil, &jobs)
	return jobs, err
}

// Job returns one job by id.
func (c *Client) Job(ctx context.Context, id string) (*model.Job, error) {
	var j model.Job
	if _, err := c.do(ctx, http.MethodGet, apiPrefix+"/jobs/"+url.PathEscape(id), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Table returns the current table of key.
func (c *Client) Table(ctx context.Context, key model.Key) ([]model.TableEntry, error) {
	var rows []model.TableEntry
	_, err := c.do(ctx, http.MethodGet, keyPath(key)+"/table", nil, &rows)
	return rows, err
}

// CreateMissingEntries adds zeroed rows for teams of key that have none.
func (c *Client) CreateMissingEntries(ctx context.Context, key model.Key) (types.EntriesResult, error) {
	var res types.EntriesResult
	_, err := c.do(ctx, http.MethodPost, keyPath(key)+"/table/entries", nil, &res)
	return res, err
}

// Snapshots lists snapshots; a zero key lists all of them.
func (c *Client) Snapshots(ctx context.Context, key model.Key) ([]SnapshotSummary, error) {
	path := apiPrefix + "/snapshots"
	if key.Valid() {
		path = keyPath(key) + "/snapshots"
	}
	var list []SnapshotSummary
	_, err := c.do(ctx, http.MethodGet, path, nil, &list)
	return list, err
}

// CreateSnapshot captures the current table of key.
func (c *Client) CreateSnapshot(ctx context.Context, key model.Key, description, createdBy string) (*model.Snapshot, error) {
	var snap model.Snapshot
	body := map[string]string{"description": description, "created_by": createdBy}
	if _, err := c.do(ctx, http.MethodPost, keyPath(key)+"/snapshots", body, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// RestoreSnapshot rolls the table back to snapshot id.
func (c *Client) RestoreSnapshot(ctx context.Context, id string, confirm bool, actor string) (types.RestoreResult, error) {
	var res types.RestoreResult
	body := map[string]any{"confirm": confirm, "actor": actor}
	_, err := c.do(ctx, http.MethodPost, apiPrefix+"/snapshots/"+url.PathEscape(id)+"/restore", body, &res)
	return res, err
}

// DeleteSnapshot removes snapshot id.
func (c *Client) DeleteSnapshot(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, apiPrefix+"/snapshots/"+url.PathEscape(id), nil, nil)
	return err
}

// PruneSnapshots applies the retention policy. maxAgeDays <= 0 uses the
// server's configured retention.
func (c *Client) PruneSnapshots(ctx context.Context, maxAgeDays int) (int, error) {
	var res struct {
		Pruned int `json:"pruned"`
	}
	_, err := c.do(ctx, http.MethodPost, apiPrefix+"/snapshots/prune", map[string]int{"max_age_days": maxAgeDays}, &res)
	return res.Pruned, err
}

// WaitIdle polls the queue until nothing is pending or processing.
func (c *Client) WaitIdle(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if st.Pending == 0 && st.Processing == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
