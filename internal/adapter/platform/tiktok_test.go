package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"clipcast/internal/domain"
)

func newTikTokServer(t *testing.T, commitHandler http.HandlerFunc) (*httptest.Server, *[]string) {
	t.Helper()
	var requests []string
	mux := http.NewServeMux()
	var srvURL string

	mux.HandleFunc("/v2/post/publish/video/init/", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, "init")
		if r.Header.Get("Authorization") == "" {
			t.Error("init request missing Authorization header")
		}
		fmt.Fprintf(w, `{"data":{"publish_id":"pub-1","upload_url":%q},"error":{"code":"ok"}}`,
			srvURL+"/upload")
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, "transfer")
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			t.Error("transfer request carried no bytes")
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/v2/post/publish/commit/", func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, "commit")
		commitHandler(w, r)
	})

	srv := httptest.NewServer(mux)
	srvURL = srv.URL
	t.Cleanup(srv.Close)
	return srv, &requests
}

func testTikTok(srv *httptest.Server) *TikTok {
	tk := NewTikTok()
	tk.BaseURL = srv.URL
	tk.client = srv.Client()
	return tk
}

func TestTikTok_Upload_Success(t *testing.T) {
	srv, requests := newTikTokServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PublishID string `json:"publish_id"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.PublishID != "pub-1" {
			t.Errorf("commit publish_id = %q, want pub-1", body.PublishID)
		}
		io.WriteString(w, `{"data":{"post_id":"post-42"},"error":{"code":"ok"}}`)
	})

	tk := testTikTok(srv)
	postID, err := tk.Upload(context.Background(), writeTestVideo(t, 1024), "hello", domain.Credentials{AccessToken: "tok"})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if postID != "post-42" {
		t.Errorf("Upload() = %q, want post-42", postID)
	}
	want := []string{"init", "transfer", "commit"}
	if len(*requests) != len(want) {
		t.Fatalf("requests = %v, want %v", *requests, want)
	}
	for i, step := range want {
		if (*requests)[i] != step {
			t.Errorf("request %d = %q, want %q", i, (*requests)[i], step)
		}
	}
}

func TestTikTok_Upload_FinalizeRetriedAlone(t *testing.T) {
	var commits int
	srv, requests := newTikTokServer(t, func(w http.ResponseWriter, r *http.Request) {
		commits++
		if commits == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"data":{"post_id":"post-42"},"error":{"code":"ok"}}`)
	})

	tk := testTikTok(srv)
	postID, err := tk.Upload(context.Background(), writeTestVideo(t, 1024), "hello", domain.Credentials{AccessToken: "tok"})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if postID != "post-42" {
		t.Errorf("Upload() = %q, want post-42", postID)
	}
	if commits != 2 {
		t.Errorf("commit attempts = %d, want 2", commits)
	}
	// The bytes were not re-uploaded for the finalize retry.
	var transfers int
	for _, step := range *requests {
		if step == "transfer" {
			transfers++
		}
	}
	if transfers != 1 {
		t.Errorf("transfer requests = %d, want 1", transfers)
	}
}

func TestTikTok_Upload_FinalizeGivesUp(t *testing.T) {
	var commits int
	srv, _ := newTikTokServer(t, func(w http.ResponseWriter, r *http.Request) {
		commits++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	tk := testTikTok(srv)
	_, err := tk.Upload(context.Background(), writeTestVideo(t, 1024), "hello", domain.Credentials{AccessToken: "tok"})
	if err == nil {
		t.Fatal("Upload() error = nil, want transient error")
	}
	if kind := domain.KindOf(err); kind != domain.KindTransient {
		t.Errorf("KindOf() = %q, want %q", kind, domain.KindTransient)
	}
	if commits != 3 {
		t.Errorf("commit attempts = %d, want 3 (initial + 2 retries)", commits)
	}
}

func TestTikTok_Upload_AuthError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/post/publish/video/init/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{},"error":{"code":"access_token_invalid","message":"token expired"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tk := testTikTok(srv)
	_, err := tk.Upload(context.Background(), writeTestVideo(t, 64), "hello", domain.Credentials{AccessToken: "bad"})
	if kind := domain.KindOf(err); kind != domain.KindAuth {
		t.Errorf("KindOf() = %q, want %q", kind, domain.KindAuth)
	}
}

func TestTikTok_Upload_RateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/post/publish/video/init/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":{},"error":{"code":"rate_limit_exceeded","message":"try later"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	tk := testTikTok(srv)
	_, err := tk.Upload(context.Background(), writeTestVideo(t, 64), "hello", domain.Credentials{AccessToken: "tok"})
	if kind := domain.KindOf(err); kind != domain.KindRateLimit {
		t.Errorf("KindOf() = %q, want %q", kind, domain.KindRateLimit)
	}
}
