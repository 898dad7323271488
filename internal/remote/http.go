package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/liftsync/internal/entity"
)

// RestPrefix is the path prefix of the table API.
const RestPrefix = "/rest/v1/"

// maxErrorBody bounds how much of an error response is read for the message.
const maxErrorBody = 4 << 10

// TokenSource returns the bearer token for a request. An empty token sends
// no Authorization header.
type TokenSource func(ctx context.Context) (string, error)

// HTTPGateway is a Gateway over a PostgREST-style table API:
//
//	POST   /rest/v1/{table}?on_conflict=id                  upsert
//	DELETE /rest/v1/{table}?id=eq.{id}                      delete
//	GET    /rest/v1/{table}?owner_id=eq.{owner}
//	           &updated_at=gt.{since}&order=updated_at.asc,id.asc
//	           &offset={n}&limit={m}                        range query
//
// Each call is made once; retry happens on the next sync cycle.
type HTTPGateway struct {
	base   *url.URL
	client *http.Client
	token  TokenSource
}

// HTTPOption configures an HTTPGateway.
type HTTPOption func(*HTTPGateway)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(g *HTTPGateway) {
		g.client = c
	}
}

// WithTokenSource sets where bearer tokens come from.
func WithTokenSource(ts TokenSource) HTTPOption {
	return func(g *HTTPGateway) {
		g.token = ts
	}
}

// WithStaticToken sends the same bearer token on every request.
func WithStaticToken(token string) HTTPOption {
	return WithTokenSource(func(context.Context) (string, error) {
		return token, nil
	})
}

// NewHTTPGateway creates a client for the table API rooted at baseURL.
func NewHTTPGateway(baseURL string, opts ...HTTPOption) (*HTTPGateway, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("parse remote url: unsupported scheme %q", u.Scheme)
	}

	g := &HTTPGateway{
		base:   u,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Upsert implements Gateway.
func (g *HTTPGateway) Upsert(ctx context.Context, table string, row entity.Row) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row %s: %w", row.ID, err)
	}

	q := url.Values{}
	q.Set("on_conflict", "id")
	req, err := g.newRequest(ctx, http.MethodPost, table, q, body)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "resolution=merge-duplicates")

	resp, err := g.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Delete implements Gateway.
func (g *HTTPGateway) Delete(ctx context.Context, table, id string) error {
	q := url.Values{}
	q.Set("id", "eq."+id)
	req, err := g.newRequest(ctx, http.MethodDelete, table, q, nil)
	if err != nil {
		return err
	}

	resp, err := g.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// QueryRange implements Gateway.
func (g *HTTPGateway) QueryRange(ctx context.Context, table, ownerID, since string, offset, limit int) ([]entity.Row, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("owner_id", "eq."+ownerID)
	if since != "" {
		q.Set("updated_at", "gt."+since)
	}
	q.Set("order", "updated_at.asc,id.asc")
	q.Set("offset", strconv.Itoa(offset))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	req, err := g.newRequest(ctx, http.MethodGet, table, q, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	rows := []entity.Row{}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, &Error{Kind: KindTransient, Status: resp.StatusCode, Message: "decode rows: " + err.Error(), Err: err}
	}
	return rows, nil
}

func (g *HTTPGateway) newRequest(ctx context.Context, method, table string, q url.Values, body []byte) (*http.Request, error) {
	u := *g.base
	u.Path = strings.TrimSuffix(u.Path, "/") + RestPrefix + url.PathEscape(table)
	u.RawQuery = q.Encode()

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if g.token != nil {
		tok, err := g.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("get auth token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return req, nil
}

// do sends req and classifies failures. On success the caller owns the body.
func (g *HTTPGateway) do(req *http.Request) (*http.Response, error) {
	resp, err := g.client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &Error{Kind: KindTransient, Message: err.Error(), Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, StatusError(resp.StatusCode, errorMessage(resp))
}

// errorMessage extracts the "message" field of a JSON error body, falling
// back to the raw body or the status text.
func errorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return http.StatusText(resp.StatusCode)
}
