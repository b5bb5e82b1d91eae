package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"calview/internal/apierr"
	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/normalize"
)

// isoMillis matches the ISO-8601 form the REST API expects for query dates.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// RESTClient talks to the calendar/task REST API.
type RESTClient struct {
	baseURL    string
	http       *http.Client
	token      string
	normalizer *normalize.Normalizer
	debug      bool
}

// Option configures a RESTClient.
type Option func(*RESTClient) error

// WithHTTPClient replaces the default client (no client-side timeout; the
// retry policy bounds each attempt).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *RESTClient) error {
		if hc == nil {
			return errors.New("http client is nil")
		}
		c.http = hc
		return nil
	}
}

// WithToken sends "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(c *RESTClient) error {
		c.token = token
		return nil
	}
}

// WithNormalizer sets the zone and clock used to normalize events.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(c *RESTClient) error {
		c.normalizer = n
		return nil
	}
}

// WithDebugLogging logs every request and response status.
func WithDebugLogging(on bool) Option {
	return func(c *RESTClient) error {
		c.debug = on
		return nil
	}
}

// NewREST builds a client for baseURL.
func NewREST(baseURL string, opts ...Option) (*RESTClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("rest: base URL is empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("rest: base URL: %w", err)
	}
	c := &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.normalizer == nil {
		c.normalizer = normalize.New(time.Local)
	}

	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if c.debug {
		base = &debugTransport{base: base}
	}
	if c.token != "" {
		base = &tokenTransport{base: base, token: c.token}
	}
	cp := *c.http
	cp.Transport = base
	c.http = &cp
	return c, nil
}

type tokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(cloned)
}

type debugTransport struct{ base http.RoundTripper }

func (dt *debugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := dt.base.RoundTrip(req)
	if err != nil {
		appLog.Debug("rest request failed", "method", req.Method, "path", req.URL.Path, "err", err.Error())
		return nil, err
	}
	appLog.Debug("rest request", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode, "took", time.Since(start).String())
	return resp, nil
}

// itemsEnvelope accepts {"items": [...]} bodies next to bare arrays.
type itemsEnvelope[T any] struct {
	Items []T `json:"items"`
}

func decodeList[T any](body []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var out []T
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var env itemsEnvelope[T]
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, err
	}
	return env.Items, nil
}

// do sends one request. in is JSON-encoded when non-nil; the raw response
// body is returned for 2xx answers.
func (c *RESTClient) do(ctx context.Context, op, method, path string, query url.Values, in any) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, apierr.Validation("%s: encode body: %v", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apierr.Network(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Network(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apierr.Classify(resp.StatusCode, data, op)
	}
	return data, nil
}

// ListEvents calls GET /calendar/events?startDate&endDate.
func (c *RESTClient) ListEvents(ctx context.Context, r model.Range) ([]model.CalendarEvent, error) {
	q := url.Values{}
	q.Set("startDate", r.Start.UTC().Format(isoMillis))
	q.Set("endDate", r.End.UTC().Format(isoMillis))

	data, err := c.do(ctx, "list events", http.MethodGet, "/calendar/events", q, nil)
	if err != nil {
		return nil, err
	}
	raws, err := decodeList[normalize.RawEvent](data)
	if err != nil {
		return nil, fmt.Errorf("list events: decode: %w", err)
	}
	return c.normalizer.NormalizeAll(raws), nil
}

func (c *RESTClient) CreateEvent(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	return c.writeEvent(ctx, "create event", http.MethodPost, "/calendar/events", ev)
}

func (c *RESTClient) UpdateEvent(ctx context.Context, ev model.CalendarEvent) (model.CalendarEvent, error) {
	if ev.ID == "" {
		return model.CalendarEvent{}, apierr.Validation("update event: id is required")
	}
	return c.writeEvent(ctx, "update event", http.MethodPut, "/calendar/events/"+url.PathEscape(ev.ID), ev)
}

func (c *RESTClient) writeEvent(ctx context.Context, op, method, path string, ev model.CalendarEvent) (model.CalendarEvent, error) {
	data, err := c.do(ctx, op, method, path, nil, normalize.FromEvent(ev))
	if err != nil {
		return model.CalendarEvent{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return ev, nil
	}
	var raw normalize.RawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return model.CalendarEvent{}, fmt.Errorf("%s: decode: %w", op, err)
	}
	out, _ := c.normalizer.Normalize(raw)
	return out, nil
}

func (c *RESTClient) DeleteEvent(ctx context.Context, id string) error {
	if id == "" {
		return apierr.Validation("delete event: id is required")
	}
	_, err := c.do(ctx, "delete event", http.MethodDelete, "/calendar/events/"+url.PathEscape(id), nil, nil)
	return err
}

// ListTaskLists calls GET /tasks/lists?dueMin&dueMax.
func (c *RESTClient) ListTaskLists(ctx context.Context, r model.Range) ([]model.TaskList, error) {
	q := url.Values{}
	if !r.Start.IsZero() {
		from, to := DueWindow(r)
		q.Set("dueMin", from.Format(isoMillis))
		q.Set("dueMax", to.Format(isoMillis))
	}
	data, err := c.do(ctx, "list tasks", http.MethodGet, "/tasks/lists", q, nil)
	if err != nil {
		return nil, err
	}
	lists, err := decodeList[model.TaskList](data)
	if err != nil {
		return nil, fmt.Errorf("list tasks: decode: %w", err)
	}
	return lists, nil
}

func (c *RESTClient) CreateTask(ctx context.Context, listID string, t model.Task) (model.Task, error) {
	if listID == "" {
		return model.Task{}, apierr.Validation("create task: list id is required")
	}
	return c.writeTask(ctx, "create task", http.MethodPost, taskPath(listID, ""), t)
}

func (c *RESTClient) UpdateTask(ctx context.Context, listID string, t model.Task) (model.Task, error) {
	if listID == "" || t.ID == "" {
		return model.Task{}, apierr.Validation("update task: list id and task id are required")
	}
	return c.writeTask(ctx, "update task", http.MethodPut, taskPath(listID, t.ID), t)
}

func (c *RESTClient) writeTask(ctx context.Context, op, method, path string, t model.Task) (model.Task, error) {
	data, err := c.do(ctx, op, method, path, nil, t)
	if err != nil {
		return model.Task{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return t, nil
	}
	var out model.Task
	if err := json.Unmarshal(data, &out); err != nil {
		return model.Task{}, fmt.Errorf("%s: decode: %w", op, err)
	}
	return out, nil
}

func (c *RESTClient) DeleteTask(ctx context.Context, listID, taskID string) error {
	if listID == "" || taskID == "" {
		return apierr.Validation("delete task: list id and task id are required")
	}
	_, err := c.do(ctx, "delete task", http.MethodDelete, taskPath(listID, taskID), nil, nil)
	return err
}

func taskPath(listID, taskID string) string {
	p := "/tasks/lists/" + url.PathEscape(listID) + "/tasks"
	if taskID != "" {
		p += "/" + url.PathEscape(taskID)
	}
	return p
}
