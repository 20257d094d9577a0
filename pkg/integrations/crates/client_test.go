package crates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matzehuels/depvet/pkg/errors"
)

func TestFetchCrate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/crates/serde":
			w.Write([]byte(`{"crate": {
				"name": "serde",
				"max_version": "1.0.193",
				"description": "serialization framework",
				"license": "MIT OR Apache-2.0",
				"repository": "https://github.com/serde-rs/serde",
				"downloads": 99
			}}`))
		case "/crates/serde/1.0.193/dependencies":
			w.Write([]byte(`{"dependencies": [
				{"crate_id": "serde_derive", "kind": "normal", "optional": true},
				{"crate_id": "serde_core", "kind": "normal", "optional": false},
				{"crate_id": "serde_test", "kind": "dev", "optional": false}
			]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient()
	c.BaseURL = srv.URL

	info, err := c.FetchCrate(context.Background(), "serde", "")
	if err != nil {
		t.Fatalf("FetchCrate: %v", err)
	}
	if info.Name != "serde" || info.Version != "1.0.193" || info.Downloads != 99 {
		t.Errorf("info = %+v", info)
	}
	if len(info.Dependencies) != 1 || info.Dependencies[0] != "serde_core" {
		t.Errorf("dependencies = %v, want only normal non-optional", info.Dependencies)
	}
}

func TestFetchCrateNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient()
	c.BaseURL = srv.URL

	if _, err := c.FetchCrate(context.Background(), "nope", ""); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("error = %v, want NOT_FOUND", err)
	}
}
