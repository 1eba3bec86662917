// Package timed is the typed resource client for the backend. It turns
// list/get/create/update/delete calls into authenticated JSON:API
// requests, caches read responses by fingerprint, and decodes compound
// documents into the typed entities in models.go.
package timed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/alexjbarnes/timed-cli/internal/apierrors"
	"github.com/alexjbarnes/timed-cli/internal/cache"
	"github.com/alexjbarnes/timed-cli/internal/jsonapi"
)

const (
	// contentType is the JSON:API media type, sent on every request.
	contentType = "application/vnd.api+json"

	// maxRedirects matches the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client used
	// when no custom client is provided.
	httpClientTimeout = 30 * time.Second

	// maxResponseBytes caps response body reads to prevent a misbehaving
	// server from consuming unbounded memory.
	maxResponseBytes = 1024 * 1024
)

// TokenSource supplies bearer tokens for outgoing requests.
// *auth.Manager satisfies it.
type TokenSource interface {
	// Token returns a currently valid access token.
	Token(ctx context.Context) (string, error)

	// Refresh forces a token exchange after the backend rejected the
	// current token.
	Refresh(ctx context.Context) (string, error)

	// Subject identifies the credential owner for cache keying.
	Subject() string
}

// Config assembles a Client.
type Config struct {
	// BaseURL is the API root including the namespace, with a trailing
	// slash (config.BaseURL()).
	BaseURL string

	Tokens TokenSource
	Cache  *cache.Cache

	// CacheTTL bounds the lifetime of cached read responses. A
	// non-positive TTL disables caching.
	CacheTTL time.Duration

	Logger *slog.Logger

	// HTTPClient is optional; a 30-second-timeout client with a
	// same-host redirect policy is used when nil.
	HTTPClient *http.Client
}

// Client talks JSON:API to the backend. All typed operations go through
// the package-level generic functions; Client carries the shared
// transport, token, and cache state.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
	cache      *cache.Cache
	cacheTTL   time.Duration
	logger     *slog.Logger
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so the bearer token never leaks to
// a third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates a resource client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := cfg.Cache
	if c == nil {
		c = cache.New()
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/") + "/",
		tokens:     cfg.Tokens,
		cache:      c,
		cacheTTL:   cfg.CacheTTL,
		logger:     logger,
	}
}

// send performs one HTTP exchange and returns status plus capped body.
func (c *Client) send(ctx context.Context, method, rawURL, token string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &apierrors.TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}

// do runs an authenticated request. On a 401 it forces exactly one
// token refresh and retries once; a second 401 surfaces as
// ErrAuthRequired. Transport failures are never retried here.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload []byte) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	rawURL := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		rawURL += "?" + encoded
	}

	status, body, err := c.send(ctx, method, rawURL, token, payload)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		c.logger.Debug("request rejected, refreshing token",
			slog.String("method", method),
			slog.String("path", path),
		)

		token, err = c.tokens.Refresh(ctx)
		if err != nil {
			return nil, err
		}

		status, body, err = c.send(ctx, method, rawURL, token, payload)
		if err != nil {
			return nil, err
		}

		if status == http.StatusUnauthorized {
			return nil, fmt.Errorf("backend rejected a freshly refreshed token: %w", apierrors.ErrAuthRequired)
		}
	}

	if status >= http.StatusBadRequest {
		return nil, apiError(status, body)
	}

	return body, nil
}

// apiError builds an APIError from a rejection, pulling title and
// detail out of the backend's first error object when the body parses.
func apiError(status int, body []byte) error {
	apiErr := &apierrors.APIError{Status: status}

	if gjson.ValidBytes(body) {
		first := gjson.GetBytes(body, "errors.0")
		apiErr.Title = first.Get("title").String()
		apiErr.Detail = first.Get("detail").String()
	}

	return apiErr
}

// getDocument is the cached read path shared by List and Get.
func (c *Client) getDocument(ctx context.Context, path string, query url.Values) (*jsonapi.Document, error) {
	fp := cache.Fingerprint(http.MethodGet, path, query, c.tokens.Subject())

	body, hit := c.cache.Get(fp)
	if hit {
		c.logger.Debug("cache hit", slog.String("path", path))
	} else {
		var err error

		body, err = c.do(ctx, http.MethodGet, path, query, nil)
		if err != nil {
			return nil, err
		}

		c.cache.Put(fp, path, body, c.cacheTTL)
	}

	doc, err := jsonapi.ParseDocument(body)
	if err != nil {
		return nil, &apierrors.DecodeError{Err: err}
	}

	return doc, nil
}

// List fetches the collection of T matching the filters.
func List[T Entity](ctx context.Context, c *Client, filters Filters) ([]T, error) {
	var zero T

	path := zero.ResourceType()
	query := filters.Values(c.tokens.Subject())

	doc, err := c.getDocument(ctx, path, query)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", path, err)
	}

	out := make([]T, 0, len(doc.Data))

	for i := range doc.Data {
		var v T
		if err := decodeEntity(&v, &doc.Data[i], doc); err != nil {
			return nil, &apierrors.DecodeError{Err: err}
		}

		out = append(out, v)
	}

	return out, nil
}

// Get fetches a single T by id. Filters are limited to include and
// passthrough parameters on single-resource endpoints.
func Get[T Entity](ctx context.Context, c *Client, id string, filters Filters) (T, error) {
	var zero T

	path := zero.ResourceType() + "/" + id
	query := filters.Values(c.tokens.Subject())

	doc, err := c.getDocument(ctx, path, query)
	if err != nil {
		return zero, fmt.Errorf("fetching %s: %w", path, err)
	}

	if len(doc.Data) == 0 {
		return zero, &apierrors.DecodeError{Err: fmt.Errorf("%s: document has null data", path)}
	}

	var v T
	if err := decodeEntity(&v, &doc.Data[0], doc); err != nil {
		return zero, &apierrors.DecodeError{Err: err}
	}

	return v, nil
}

// Create posts a new entity and returns the decoded result. The cache
// drops every entry for the entity's resource type.
func Create[T Entity](ctx context.Context, c *Client, entity T) (T, error) {
	return mutate(ctx, c, http.MethodPost, entity.ResourceType(), entity)
}

// Update patches an existing entity by its ID and returns the decoded
// result, invalidating the resource type in the cache.
func Update[T Entity](ctx context.Context, c *Client, entity T) (T, error) {
	var zero T

	res, err := encodeEntity(entity)
	if err != nil {
		return zero, err
	}

	if res.ID == "" {
		return zero, fmt.Errorf("updating %s: entity has no id", entity.ResourceType())
	}

	return mutate(ctx, c, http.MethodPatch, entity.ResourceType()+"/"+res.ID, entity)
}

// Delete removes an entity by id and invalidates its resource type.
func Delete[T Entity](ctx context.Context, c *Client, id string) error {
	var zero T

	typ := zero.ResourceType()

	if _, err := c.do(ctx, http.MethodDelete, typ+"/"+id, nil, nil); err != nil {
		return fmt.Errorf("deleting %s/%s: %w", typ, id, err)
	}

	c.cache.InvalidateType(typ)

	return nil
}

func mutate[T Entity](ctx context.Context, c *Client, method, path string, entity T) (T, error) {
	var zero T

	typ := entity.ResourceType()

	res, err := encodeEntity(entity)
	if err != nil {
		return zero, err
	}

	payload, err := jsonapi.MarshalDocument(res)
	if err != nil {
		return zero, fmt.Errorf("encoding %s: %w", typ, err)
	}

	body, err := c.do(ctx, method, path, nil, payload)
	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", strings.ToLower(method), path, err)
	}

	c.cache.InvalidateType(typ)

	doc, err := jsonapi.ParseDocument(body)
	if err != nil {
		return zero, &apierrors.DecodeError{Err: err}
	}

	if len(doc.Data) == 0 {
		return zero, &apierrors.DecodeError{Err: fmt.Errorf("%s: mutation response has null data", path)}
	}

	var v T
	if err := decodeEntity(&v, &doc.Data[0], doc); err != nil {
		return zero, &apierrors.DecodeError{Err: err}
	}

	return v, nil
}

func decodeEntity(v any, res *jsonapi.Resource, doc *jsonapi.Document) error {
	dec, ok := v.(resourceDecoder)
	if !ok {
		return fmt.Errorf("type %T cannot be decoded from a resource", v)
	}

	return dec.fromResource(res, doc)
}

func encodeEntity(entity Entity) (jsonapi.Resource, error) {
	enc, ok := any(entity).(resourceEncoder)
	if !ok {
		return jsonapi.Resource{}, fmt.Errorf("%s is read-only", entity.ResourceType())
	}

	return enc.toResource()
}
