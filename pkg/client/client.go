// Package client is the HTTP persistence adapter used by editing sessions and
// the CLI to load, save and activate flows on the leadflow API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/leadflow/pkg/graph"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/wire"
)

const (
	DefaultTimeout = 30 * time.Second
	apiPrefix      = "/api/v1"
)

// Client talks to the leadflow API. Every request runs under a fixed timeout.
type Client struct {
	baseURL   string
	http      *http.Client
	codec     *wire.Codec
	timeout   time.Duration
	tokens    TokenStore
	onExpired func()
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client. Its transport is wrapped
// by the auth transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

func WithTokens(tokens TokenStore) Option {
	return func(c *Client) {
		c.tokens = tokens
	}
}

// WithSessionExpired registers the teardown hook run when a token refresh fails.
func WithSessionExpired(fn func()) Option {
	return func(c *Client) {
		c.onExpired = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New returns a client for the API at baseURL.
func New(baseURL string, codec *wire.Codec, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		codec:   codec,
		timeout: DefaultTimeout,
		tokens:  NewMemoryTokens(""),
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	base := c.http.Transport
	c.http = &http.Client{
		Transport:     NewAuthTransport(base, c.tokens, c.refreshToken, c.onExpired, c.logger),
		CheckRedirect: c.http.CheckRedirect,
		Jar:           c.http.Jar,
	}

	return c
}

// List returns the summaries of every stored flow.
func (c *Client) List(ctx context.Context) ([]models.FlowSummary, error) {
	var summaries []models.FlowSummary

	err := c.do(ctx, "list flows", http.MethodGet, "/flows", nil, &summaries)
	if err != nil {
		return nil, err
	}

	return summaries, nil
}

// Load fetches a flow by id.
func (c *Client) Load(ctx context.Context, id string) (models.Flow, error) {
	return c.flowRequest(ctx, "load flow", http.MethodGet, "/flows/"+url.PathEscape(id), nil)
}

// Save creates the flow when it has no id and fully replaces it otherwise. The
// returned flow is the backend's canonical version.
func (c *Client) Save(ctx context.Context, flow models.Flow) (models.Flow, error) {
	doc, err := c.codec.EncodeFlow(flow)
	if err != nil {
		return models.Flow{}, fmt.Errorf("failed to encode flow: %w", err)
	}

	if flow.IsNew() {
		return c.flowRequest(ctx, "create flow", http.MethodPost, "/flows", doc)
	}

	return c.flowRequest(ctx, "update flow", http.MethodPut, "/flows/"+url.PathEscape(flow.ID), doc)
}

// Delete removes a flow.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "delete flow", http.MethodDelete, "/flows/"+url.PathEscape(id), nil, nil)
}

// Duplicate copies a flow and returns the id of the copy.
func (c *Client) Duplicate(ctx context.Context, id string) (string, error) {
	flow, err := c.flowRequest(ctx, "duplicate flow", http.MethodPost, "/flows/"+url.PathEscape(id)+"/duplicate", nil)
	if err != nil {
		return "", err
	}

	return flow.ID, nil
}

// Activate asks the backend to activate a stored flow. A refusal is returned
// as *ActivationRejectedError.
func (c *Client) Activate(ctx context.Context, id string) (models.Flow, error) {
	return c.flowRequest(ctx, "activate flow", http.MethodPost, "/flows/"+url.PathEscape(id)+"/activate", nil)
}

func (c *Client) Deactivate(ctx context.Context, id string) (models.Flow, error) {
	return c.flowRequest(ctx, "deactivate flow", http.MethodPost, "/flows/"+url.PathEscape(id)+"/deactivate", nil)
}

type validationResult struct {
	Valid      bool              `json:"valid"`
	Violations []graph.Violation `json:"violations"`
}

// ValidateRemote runs the backend validator on flow without storing it.
func (c *Client) ValidateRemote(ctx context.Context, flow models.Flow) ([]graph.Violation, error) {
	doc, err := c.codec.EncodeFlow(flow)
	if err != nil {
		return nil, fmt.Errorf("failed to encode flow: %w", err)
	}

	var result validationResult

	err = c.do(ctx, "validate flow", http.MethodPost, "/flows/validate", doc, &result)
	if err != nil {
		return nil, err
	}

	return result.Violations, nil
}

func (c *Client) Fields(ctx context.Context) ([]models.CRMField, error) {
	var fields []models.CRMField

	return fields, c.do(ctx, "list crm fields", http.MethodGet, "/amocrm/fields", nil, &fields)
}

func (c *Client) Pipelines(ctx context.Context) ([]models.Pipeline, error) {
	var pipelines []models.Pipeline

	return pipelines, c.do(ctx, "list pipelines", http.MethodGet, "/amocrm/pipelines", nil, &pipelines)
}

func (c *Client) Schedulers(ctx context.Context) ([]models.Scheduler, error) {
	var schedulers []models.Scheduler

	return schedulers, c.do(ctx, "list schedulers", http.MethodGet, "/dialer/schedulers", nil, &schedulers)
}

func (c *Client) Campaigns(ctx context.Context) ([]models.Campaign, error) {
	var campaigns []models.Campaign

	return campaigns, c.do(ctx, "list campaigns", http.MethodGet, "/dialer/campaigns", nil, &campaigns)
}

func (c *Client) Buckets(ctx context.Context) ([]models.Bucket, error) {
	var buckets []models.Bucket

	return buckets, c.do(ctx, "list buckets", http.MethodGet, "/dialer/buckets", nil, &buckets)
}

func (c *Client) flowRequest(ctx context.Context, op, method, path string, body any) (models.Flow, error) {
	var doc wire.Flow

	err := c.do(ctx, op, method, path, body, &doc)
	if err != nil {
		return models.Flow{}, err
	}

	flow, err := c.codec.DecodeFlow(doc)
	if err != nil {
		return models.Flow{}, fmt.Errorf("%s: %w", op, err)
	}

	return flow, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return authErr
		}

		return &TransportError{Op: op, Err: err}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var body problem

		_ = json.Unmarshal(data, &body)

		c.logger.DebugContext(ctx, "request failed", "op", op, "status", resp.StatusCode, "title", body.Title)

		return statusError(op, resp.StatusCode, body)
	}

	if out == nil || len(data) == 0 {
		return nil
	}

	err = json.Unmarshal(data, out)
	if err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}

	return nil
}

type tokenResponse struct {
	Token string `json:"token"`
}

// refreshToken calls the refresh endpoint with the expired token. It bypasses
// the auth transport.
func (c *Client) refreshToken(ctx context.Context, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPrefix+"/auth/refresh", nil)
	if err != nil {
		return "", err
	}

	req.Header.Set("Authorization", "Bearer "+token)

	transport := http.DefaultTransport
	if auth, ok := c.http.Transport.(*AuthTransport); ok {
		transport = auth.base
	}

	resp, err := transport.RoundTrip(req)
	if err != nil {
		return "", err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refresh responded %d", resp.StatusCode)
	}

	var body tokenResponse

	err = json.NewDecoder(resp.Body).Decode(&body)
	if err != nil {
		return "", fmt.Errorf("failed to decode refresh response: %w", err)
	}

	if body.Token == "" {
		return "", errors.New("refresh returned an empty token")
	}

	return body.Token, nil
}
