package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jasrulete/AI-Scheduler/internal/auth"
)

func newBackend(t *testing.T) (*httptest.Server, *[]*http.Request) {
	t.Helper()
	var seen []*http.Request
	mux := http.NewServeMux()
	mux.HandleFunc(bookingsPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"b1","title":"Studio Shoot"}]`))
	})
	mux.HandleFunc(eventsPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"events":[{"id":"e1"}],"categories":[],"visible_categories":[]}`))
	})
	mux.HandleFunc(customersPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"customers":[{"id":"c1"}],"count":1}`))
	})
	mux.HandleFunc(servicesPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"s1"}]`))
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r)
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.StripPrefix("/api/v1", mux).ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestFetch_UnwrapsCollections(t *testing.T) {
	srv, _ := newBackend(t)
	c := NewClient(srv.URL+"/api/v1/", auth.StaticToken("tok"))

	cases := map[string]string{
		"bookings":  `[{"id":"b1","title":"Studio Shoot"}]`,
		"calendar":  `[{"id":"e1"}]`,
		"customers": `[{"id":"c1"}]`,
		"services":  `[{"id":"s1"}]`,
	}
	for col, want := range cases {
		got, err := c.Fetch(context.Background(), col)
		if err != nil {
			t.Fatalf("%s: %v", col, err)
		}
		if string(got) != want {
			t.Errorf("%s: got %s, want %s", col, got, want)
		}
	}

	if _, err := c.Fetch(context.Background(), "invoices"); err == nil {
		t.Fatalf("expected error for unknown collection")
	}
}

func TestCalendarEvents_DefaultRange(t *testing.T) {
	srv, seen := newBackend(t)
	c := NewClient(srv.URL+"/api/v1", auth.StaticToken("tok"))
	c.now = func() time.Time { return time.Date(2025, time.December, 15, 12, 0, 0, 0, time.UTC) }

	if _, err := c.CalendarEvents(context.Background(), "", ""); err != nil {
		t.Fatalf("events: %v", err)
	}
	q := (*seen)[len(*seen)-1].URL.Query()
	if q.Get("start") != "2025-12-01" || q.Get("end") != "2026-01-31" {
		t.Fatalf("unexpected range: start=%s end=%s", q.Get("start"), q.Get("end"))
	}
}

func TestFetch_Unauthorized(t *testing.T) {
	srv, _ := newBackend(t)
	c := NewClient(srv.URL+"/api/v1", auth.StaticToken("wrong"))

	if _, err := c.Bookings(context.Background()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestFetch_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"boom"}`, http.StatusBadGateway)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, nil)

	_, err := c.Services(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusBadGateway {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
}

func TestUnwrap(t *testing.T) {
	cases := []struct{ in, want string }{
		{`null`, `[]`},
		{``, `[]`},
		{`[1,2]`, `[1,2]`},
		{`{"services":[1]}`, `[1]`},
		{`{"services":null,"count":0}`, `{"services":null,"count":0}`},
		{`{"other":[1]}`, `{"other":[1]}`},
	}
	for _, tc := range cases {
		if got := string(unwrap([]byte(tc.in), "services")); got != tc.want {
			t.Errorf("unwrap(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestExcerptKeepsRunesWhole(t *testing.T) {
	// 199 ASCII bytes then a 3-byte rune straddling the cut
	body := strings.Repeat("a", 199) + "日本語"
	got := excerpt([]byte(body))
	if !utf8.ValidString(got) {
		t.Fatalf("excerpt split a rune: %q", got)
	}
	if got != strings.Repeat("a", 199)+"..." {
		t.Fatalf("unexpected excerpt: %q", got)
	}
	if short := excerpt([]byte("  ok  ")); short != "ok" {
		t.Fatalf("short body: %q", short)
	}
}
