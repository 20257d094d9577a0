package npmsio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/package/mget" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var names []string
		if err := json.NewDecoder(r.Body).Decode(&names); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(names) != 2 {
			t.Errorf("names = %v", names)
		}
		w.Write([]byte(`{
			"leftpad": {"score": {"final": 0.42, "detail": {"quality": 0.5, "popularity": 0.3, "maintenance": 0.4}}}
		}`))
	}))
	defer srv.Close()

	c := NewClient(nil)
	c.BaseURL = srv.URL

	scores, err := c.Scores(context.Background(), []string{"leftpad", "ghost-pkg"})
	if err != nil {
		t.Fatalf("Scores: %v", err)
	}

	s, ok := scores["leftpad"]
	if !ok {
		t.Fatal("leftpad missing from scores")
	}
	if s.Final != 0.42 || s.Quality != 0.5 || s.Popularity != 0.3 || s.Maintenance != 0.4 {
		t.Errorf("score = %+v", s)
	}

	// Unknown packages are absent, not errors.
	if _, ok := scores["ghost-pkg"]; ok {
		t.Error("unknown package should be absent")
	}
}

func TestScoresBatching(t *testing.T) {
	var batches []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var names []string
		json.NewDecoder(r.Body).Decode(&names)
		batches = append(batches, len(names))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(nil)
	c.BaseURL = srv.URL

	names := make([]string, 260)
	for i := range names {
		names[i] = "pkg"
	}
	if _, err := c.Scores(context.Background(), names); err != nil {
		t.Fatalf("Scores: %v", err)
	}
	if len(batches) != 2 || batches[0] != 250 || batches[1] != 10 {
		t.Errorf("batches = %v, want [250 10]", batches)
	}
}

func TestScoresEmpty(t *testing.T) {
	c := NewClient(nil)
	c.BaseURL = "http://127.0.0.1:0" // must never be contacted

	scores, err := c.Scores(context.Background(), nil)
	if err != nil {
		t.Fatalf("Scores: %v", err)
	}
	if len(scores) != 0 {
		t.Errorf("scores = %v", scores)
	}
}
