package history

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestUploadImage(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "pic.png")
	if err := os.WriteFile(imgPath, []byte("not-really-a-png"), 0o600); err != nil {
		t.Fatalf("write image: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/posts" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}

		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("image form field: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		defer file.Close()
		if header.Filename != "pic.png" {
			t.Errorf("filename = %q", header.Filename)
		}
		if ct := header.Header.Get("Content-Type"); ct != "image/png" {
			t.Errorf("part content type = %q", ct)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "not-really-a-png" {
			t.Errorf("body = %q", data)
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(`{"imageUrl":"https://cdn/stored/pic.png"}`)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, "u1", "tok-1")
	url, err := f.UploadImage(context.Background(), imgPath)
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	if url != "https://cdn/stored/pic.png" {
		t.Fatalf("url = %q", url)
	}
}

func TestUploadImageMissingFile(t *testing.T) {
	f := NewHTTPFetcher("http://unused", "u1", "tok-1")
	if _, err := f.UploadImage(context.Background(), filepath.Join(t.TempDir(), "gone.png")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
