package api

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
	"unicode/utf8"

	"github.com/jasrulete/AI-Scheduler/internal/auth"
)

var ErrUnauthorized = errors.New("api: unauthorized")

const (
	bookingsPath  = "/calendar_mgmt/bookings/"
	eventsPath    = "/calendar_mgmt/events/"
	customersPath = "/customer_mgmt/"
	servicesPath  = "/service_catalog/services/"
)

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Body)
}

// Client reads the collections the assistant can change from the backend
// REST API.
type Client struct {
	BaseURL string
	Tokens  auth.TokenSource
	HTTP    *http.Client

	now func() time.Time
}

func NewClient(baseURL string, tokens auth.TokenSource) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000/api/v1"
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Tokens:  tokens,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
}

// Fetch loads a collection by name: bookings, calendar, customers or services.
func (c *Client) Fetch(ctx context.Context, collection string) (json.RawMessage, error) {
	switch collection {
	case "bookings":
		return c.Bookings(ctx)
	case "calendar":
		return c.CalendarEvents(ctx, "", "")
	case "customers":
		return c.Customers(ctx)
	case "services":
		return c.Services(ctx)
	default:
		return nil, fmt.Errorf("api: unknown collection %q", collection)
	}
}

func (c *Client) Bookings(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, bookingsPath, nil)
}

// CalendarEvents lists events between start and end (YYYY-MM-DD). Empty
// bounds default to the first day of this month and the last day of the next.
func (c *Client) CalendarEvents(ctx context.Context, start, end string) (json.RawMessage, error) {
	now := c.now()
	if start == "" {
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).Format(time.DateOnly)
	}
	if end == "" {
		end = time.Date(now.Year(), now.Month()+2, 0, 0, 0, 0, 0, now.Location()).Format(time.DateOnly)
	}
	q := url.Values{}
	q.Set("start", start)
	q.Set("end", end)

	raw, err := c.get(ctx, eventsPath, q)
	if err != nil {
		return nil, err
	}
	return unwrap(raw, "events"), nil
}

func (c *Client) Customers(ctx context.Context) (json.RawMessage, error) {
	raw, err := c.get(ctx, customersPath, nil)
	if err != nil {
		return nil, err
	}
	return unwrap(raw, "customers"), nil
}

func (c *Client) Services(ctx context.Context) (json.RawMessage, error) {
	raw, err := c.get(ctx, servicesPath, nil)
	if err != nil {
		return nil, err
	}
	return unwrap(raw, "services"), nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (json.RawMessage, error) {
	if c.HTTP == nil {
		return nil, errors.New("api: http client is nil")
	}
	u := c.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.Tokens != nil {
		tok, err := c.Tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("api: token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Status: resp.StatusCode, Body: excerpt(body)}
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("api: %s: response is not json", path)
	}
	return json.RawMessage(body), nil
}

// unwrap returns raw[key] when the backend wrapped the list in an object,
// otherwise raw itself. A null answer becomes an empty list.
func unwrap(raw json.RawMessage, key string) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("[]")
	}
	if trimmed[0] != '{' {
		return raw
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return raw
	}
	if v, ok := obj[key]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return v
	}
	return raw
}

const maxExcerpt = 200

// excerpt shortens a response body for error messages without splitting a
// UTF-8 sequence.
func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= maxExcerpt {
		return s
	}
	cut := maxExcerpt
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
