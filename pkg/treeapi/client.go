// Package treeapi talks to the tree endpoints of a Specify-style server:
// children and ancestor-path queries for one hierarchy, tree-definition ranks,
// and the generic record resource used to persist a new parent.
package treeapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/Dicklesworthstone/treenav/pkg/model"
)

// DefaultTimeout bounds every request when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// maxErrorBody limits how much of an error response is kept for display.
const maxErrorBody = 4096

// APIError is returned for any non-2xx response. Message carries the reason
// the server gave, suitable for showing to the user.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s %s: %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Tree       model.TreeRef
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client issues tree requests for one hierarchy.
type Client struct {
	base *url.URL
	tree model.TreeRef
	http *http.Client
}

// NewClient validates cfg and returns a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("treeapi: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("treeapi: parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("treeapi: base URL %q must be absolute", cfg.BaseURL)
	}
	if cfg.Tree.Table == "" {
		return nil, errors.New("treeapi: tree table is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, tree: cfg.Tree, http: hc}, nil
}

func (c *Client) table() string {
	return strings.ToLower(c.tree.Table)
}

// endpoint joins path segments under the base URL, keeping a trailing slash
// as the server's routes expect.
func (c *Client) endpoint(query url.Values, segments ...string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(segments, "/") + "/"
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Children returns the ordered immediate children of parentID. Pass
// model.TopOfTree for the root-level rows.
func (c *Client) Children(ctx context.Context, parentID int) ([]model.Row, error) {
	parent := "null"
	if parentID != model.TopOfTree {
		parent = strconv.Itoa(parentID)
	}
	var rows []model.Row
	u := c.endpoint(nil, "api", "specify_tree", c.table(), strconv.Itoa(c.tree.TreeDef), parent)
	if err := c.do(ctx, http.MethodGet, u, nil, &rows); err != nil {
		return nil, fmt.Errorf("fetch children of %s: %w", parent, err)
	}
	return rows, nil
}

// Path returns the ancestors of id (including id itself) in no particular
// order. Entries that are not objects or lack an id are skipped.
func (c *Client) Path(ctx context.Context, id int) ([]model.PathEntry, error) {
	var raw map[string]json.RawMessage
	u := c.endpoint(nil, "api", "specify_tree", c.table(), strconv.Itoa(id), "path")
	if err := c.do(ctx, http.MethodGet, u, nil, &raw); err != nil {
		return nil, fmt.Errorf("fetch path of %d: %w", id, err)
	}
	entries := make([]model.PathEntry, 0, len(raw))
	for _, msg := range raw {
		if len(msg) == 0 || msg[0] != '{' {
			continue
		}
		var e model.PathEntry
		if err := json.Unmarshal(msg, &e); err != nil || e.ID == 0 {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Ranks fetches the tree definition items and returns them as a schema.
func (c *Client) Ranks(ctx context.Context) (model.RankSchema, error) {
	var page struct {
		Objects []model.Rank `json:"objects"`
	}
	q := url.Values{}
	q.Set("treedef", strconv.Itoa(c.tree.TreeDef))
	q.Set("limit", "0")
	u := c.endpoint(q, "api", "specify", c.table()+"treedefitem")
	if err := c.do(ctx, http.MethodGet, u, nil, &page); err != nil {
		return nil, fmt.Errorf("fetch ranks: %w", err)
	}
	return model.NewRankSchema(page.Objects), nil
}

// Record fetches the full record for id.
func (c *Client) Record(ctx context.Context, id int) (model.Record, error) {
	var rec model.Record
	if err := c.do(ctx, http.MethodGet, c.recordURL(id), nil, &rec); err != nil {
		return nil, fmt.Errorf("fetch record %d: %w", id, err)
	}
	return rec, nil
}

// SaveRecord persists rec with PUT. The record must carry its id.
func (c *Client) SaveRecord(ctx context.Context, rec model.Record) error {
	id := rec.ID()
	if id == 0 {
		return errors.New("save record: record has no id")
	}
	if err := c.do(ctx, http.MethodPut, c.recordURL(id), rec, nil); err != nil {
		return fmt.Errorf("save record %d: %w", id, err)
	}
	return nil
}

// CreateRecord posts a new record and returns what the server stored.
func (c *Client) CreateRecord(ctx context.Context, rec model.Record) (model.Record, error) {
	var created model.Record
	u := c.endpoint(nil, "api", "specify", c.table())
	if err := c.do(ctx, http.MethodPost, u, rec, &created); err != nil {
		return nil, fmt.Errorf("create record: %w", err)
	}
	return created, nil
}

func (c *Client) recordURL(id int) string {
	return c.endpoint(nil, "api", "specify", c.table(), strconv.Itoa(id))
}

// RecordURI is the server-relative resource URI used in reference fields.
func (c *Client) RecordURI(id int) string {
	return fmt.Sprintf("/api/specify/%s/%d/", c.table(), id)
}

// RankURI is the resource URI of a tree definition item.
func (c *Client) RankURI(rank model.Rank) string {
	return fmt.Sprintf("/api/specify/%streedefitem/%d/", c.table(), rank.ID)
}

// RecordViewURL is the page showing the record form for id.
func (c *Client) RecordViewURL(id int) string {
	return c.endpoint(nil, "specify", "view", c.table(), strconv.Itoa(id))
}

// QueryURL is the query builder prefiltered to the subtree under id.
func (c *Client) QueryURL(id int) string {
	return c.endpoint(nil, "specify", "query", "fromtree", c.table(), strconv.Itoa(id))
}

func (c *Client) do(ctx context.Context, method, u string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(method, u, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

func newAPIError(method, u string, resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Method: method, URL: u, StatusCode: resp.StatusCode}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		apiErr.Message = payload.Error
		if apiErr.Message == "" {
			apiErr.Message = payload.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

// Reason extracts the user-facing reason from err: the server's message for
// an APIError, otherwise the error text.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
