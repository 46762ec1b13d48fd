package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func newBraveTestProvider(handler http.HandlerFunc) (*braveProvider, *httptest.Server) {
	srv := httptest.NewServer(handler)
	p := &braveProvider{
		apiKey:   "test-token",
		endpoint: srv.URL,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
	return p, srv
}

func TestBraveSearch(t *testing.T) {
	var gotQuery url.Values
	var gotToken string
	p, srv := newBraveTestProvider(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotToken = r.Header.Get("X-Subscription-Token")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"web":{"results":[
			{"title":"One","url":"https://one.test","description":"first"},
			{"title":"Two","url":"https://two.test","description":"second"},
			{"title":"Three","url":"https://three.test","description":"third"}
		]}}`))
	})
	defer srv.Close()

	results, err := p.Search(context.Background(), searchParams{
		Query:      "golang sqlite",
		Count:      2,
		Country:    "DE",
		SearchLang: "de",
		Freshness:  "PW",
	})
	if err != nil {
		t.Fatal(err)
	}

	if gotToken != "test-token" {
		t.Errorf("subscription token = %q", gotToken)
	}
	for key, want := range map[string]string{
		"q":           "golang sqlite",
		"count":       "2",
		"country":     "DE",
		"search_lang": "de",
		"freshness":   "pw",
	} {
		if got := gotQuery.Get(key); got != want {
			t.Errorf("query %s = %q, want %q", key, got, want)
		}
	}
	if gotQuery.Has("ui_lang") {
		t.Error("ui_lang must not be sent")
	}

	if len(results) != 2 {
		t.Fatalf("results = %d, want count-capped 2", len(results))
	}
	if results[0].Title != "One" || results[0].URL != "https://one.test" || results[0].Description != "first" {
		t.Fatalf("first result = %+v", results[0])
	}
}

func TestBraveSearchOmitsEmptyParams(t *testing.T) {
	var gotQuery url.Values
	p, srv := newBraveTestProvider(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"web":{"results":[]}}`))
	})
	defer srv.Close()

	if _, err := p.Search(context.Background(), searchParams{Query: "q"}); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"count", "country", "search_lang", "freshness"} {
		if gotQuery.Has(key) {
			t.Errorf("%s must be omitted when unset, got %q", key, gotQuery.Get(key))
		}
	}
}

func TestBraveSearchAPIError(t *testing.T) {
	p, srv := newBraveTestProvider(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	})
	defer srv.Close()

	if _, err := p.Search(context.Background(), searchParams{Query: "q"}); err == nil {
		t.Fatal("non-200 status must surface as an error")
	}
}
