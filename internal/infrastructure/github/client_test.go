package github

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"repo-source-web/pkg/config"
)

func TestParseRepoURL(t *testing.T) {
	testCases := []struct {
		URL   string
		Owner string
		Repo  string
	}{
		{"https://github.com/octo/demo", "octo", "demo"},
		{"https://github.com/octo/demo.git", "octo", "demo"},
		{"git@github.com:octo/demo.git", "octo", "demo"},
		{"https://github.com/octo/demo/tree/main/src", "octo", "demo"},
	}
	for _, tc := range testCases {
		owner, repo, err := ParseRepoURL(tc.URL)
		if err != nil || owner != tc.Owner || repo != tc.Repo {
			t.Errorf("ParseRepoURL(%q) = %q, %q, %v", tc.URL, owner, repo, err)
		}
	}
	if _, _, err := ParseRepoURL("https://gitlab.com/octo/demo"); !errors.Is(err, ErrInvalidRepoURL) {
		t.Errorf("non-GitHub URL: got %v", err)
	}
}

func TestFetchArchiveFallsBackToMaster(t *testing.T) {
	var paths []string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		auth = r.Header.Get("Authorization")
		if r.URL.Path == "/repos/octo/demo/zipball/master" {
			w.Write([]byte("PK-bytes"))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.GitHub.APIBaseURL = srv.URL
	cfg.GitHub.Token = "from-config"

	got, err := NewClient(cfg).FetchArchive(context.Background(), "octo", "demo", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if want := base64.StdEncoding.EncodeToString([]byte("PK-bytes")); got != want {
		t.Errorf("archive = %q, want %q", got, want)
	}
	if len(paths) != 2 || paths[0] != "/repos/octo/demo/zipball/main" {
		t.Errorf("requested %v", paths)
	}
	if auth != "token from-config" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestFetchArchiveErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/octo/broken/zipball/main":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.GitHub.APIBaseURL = srv.URL
	client := NewClient(cfg)

	if _, err := client.FetchArchive(context.Background(), "octo", "missing", "", ""); !errors.Is(err, ErrRepoNotFound) {
		t.Errorf("missing repo: got %v", err)
	}
	_, err := client.FetchArchive(context.Background(), "octo", "broken", "", "")
	if err == nil || errors.Is(err, ErrRepoNotFound) {
		t.Errorf("server error: got %v", err)
	}
}
