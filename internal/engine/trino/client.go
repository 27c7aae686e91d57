// Package trino implements engine.Engine over the Trino REST protocol.
package trino

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/time/rate"

	"github.com/user/skyq/internal/engine"
	"github.com/user/skyq/internal/query"
)

// DefaultBaseURL is the OpenSky Trino endpoint.
const DefaultBaseURL = "https://trino.opensky-network.org"

const maxErrorBody = 2000

// Config configures the Trino client.
type Config struct {
	BaseURL      string
	User         string
	Token        string
	Catalog      string
	Schema       string
	Source       string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

// Engine connects to a Trino coordinator.
type Engine struct {
	cfg Config
}

// New creates a Trino engine, filling unset fields with OpenSky defaults.
func New(cfg Config) *Engine {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.User == "" {
		cfg.User = "skyq"
	}
	if cfg.Catalog == "" {
		cfg.Catalog = "minio"
	}
	if cfg.Schema == "" {
		cfg.Schema = "osky"
	}
	if cfg.Source == "" {
		cfg.Source = "skyq"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Engine{cfg: cfg}
}

// Connect verifies the coordinator is reachable and returns a connection.
func (e *Engine) Connect(ctx context.Context) (engine.Conn, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.BaseURL+"/v1/info", nil)
	if err != nil {
		return nil, &engine.ConnectionError{Err: fmt.Errorf("create request: %w", err)}
	}
	setHeaders(req, e.cfg)

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &engine.ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &engine.ConnectionError{Err: fmt.Errorf("coordinator returned status %d: %s", resp.StatusCode, readError(resp))}
	}
	return &conn{cfg: e.cfg}, nil
}

type conn struct {
	cfg Config
}

type column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type stats struct {
	State              string  `json:"state"`
	ProgressPercentage float64 `json:"progressPercentage"`
	ProcessedRows      int64   `json:"processedRows"`
}

type queryError struct {
	Message   string `json:"message"`
	ErrorName string `json:"errorName"`
	ErrorCode int    `json:"errorCode"`
}

type queryResults struct {
	ID      string      `json:"id"`
	NextURI string      `json:"nextUri"`
	Columns []column    `json:"columns"`
	Data    [][]any     `json:"data"`
	Stats   stats       `json:"stats"`
	Error   *queryError `json:"error"`
}

// RunWithProgress submits the SQL for params and follows nextUri until the
// query finishes, reporting progress after every page.
func (c *conn) RunWithProgress(ctx context.Context, params query.Params, t query.Type, fn engine.ProgressFunc) (*engine.ResultSet, error) {
	sql, err := query.BuildSQL(params, t)
	if err != nil {
		return nil, &engine.QueryError{Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/statement", bytes.NewBufferString(sql))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	setHeaders(req, c.cfg)

	page, err := c.fetch(req)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Every(c.cfg.PollInterval), 1)
	result := &engine.ResultSet{}
	for {
		if len(result.Columns) == 0 && len(page.Columns) > 0 {
			for _, col := range page.Columns {
				result.Columns = append(result.Columns, col.Name)
			}
		}
		result.Rows = append(result.Rows, page.Data...)

		if fn != nil {
			fn(engine.Progress{
				State:    page.Stats.State,
				Percent:  page.Stats.ProgressPercentage,
				RowCount: len(result.Rows),
				QueryID:  page.ID,
			})
		}

		if page.Error != nil {
			return nil, &engine.QueryError{QueryID: page.ID, Message: page.Error.Message}
		}
		if page.NextURI == "" {
			break
		}

		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		next, err := c.next(ctx, page.NextURI)
		if err != nil {
			return nil, err
		}
		page = next
	}

	slog.Debug("trino query finished", "query_id", page.ID, "rows", len(result.Rows))
	return result, nil
}

// next fetches a nextUri page, retrying while the coordinator is busy.
func (c *conn) next(ctx context.Context, uri string) (*queryResults, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		setHeaders(req, c.cfg)

		page, err := c.fetch(req)
		var busy *busyError
		if errors.As(err, &busy) && attempt < 5 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.PollInterval):
			}
			continue
		}
		return page, err
	}
}

type busyError struct {
	status int
}

func (e *busyError) Error() string {
	return fmt.Sprintf("coordinator busy (status %d)", e.status)
}

func (c *conn) fetch(req *http.Request) (*queryResults, error) {
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		return nil, &engine.ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		io.Copy(io.Discard, resp.Body)
		return nil, &busyError{status: resp.StatusCode}
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, &engine.ConnectionError{Err: fmt.Errorf("authentication failed (status %d): %s", resp.StatusCode, readError(resp))}
	default:
		return nil, &engine.QueryError{Message: fmt.Sprintf("status %d: %s", resp.StatusCode, readError(resp))}
	}

	var page queryResults
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &page, nil
}

// Cancel kills a running query. A query the coordinator no longer knows
// about counts as cancelled.
func (c *conn) Cancel(ctx context.Context, queryID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.cfg.BaseURL+"/v1/query/"+queryID, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	setHeaders(req, c.cfg)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return &engine.ConnectionError{Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("cancel returned status %d: %s", resp.StatusCode, readError(resp))
	}
}

func (c *conn) Close() error {
	c.cfg.HTTPClient.CloseIdleConnections()
	return nil
}

func setHeaders(req *http.Request, cfg Config) {
	req.Header.Set("X-Trino-User", cfg.User)
	req.Header.Set("X-Trino-Catalog", cfg.Catalog)
	req.Header.Set("X-Trino-Schema", cfg.Schema)
	req.Header.Set("X-Trino-Source", cfg.Source)
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}
}

// readError returns a readable excerpt of an error body. Gateways in front
// of the coordinator answer with HTML pages, which are converted to text.
func readError(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return ""
	}
	text := string(body)
	if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		if md, err := htmltomarkdown.ConvertString(text); err == nil {
			text = md
		}
	}
	text = strings.TrimSpace(text)
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	return text
}
