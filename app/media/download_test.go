package media

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/semaphore"
	e "nuclight.org/xmedia-tg-bot/pkg/entities"
	"nuclight.org/xmedia-tg-bot/pkg/logger"
)

func newTestDownloader(client HTTPClient, limit int64) *Downloader {
	return &Downloader{
		Log:        logger.Discard(),
		Client:     client,
		Limiter:    semaphore.NewWeighted(limit),
		Retries:    3,
		RetryDelay: 5 * time.Millisecond,
		UserAgent:  "test-agent",
	}
}

func TestDownloader_Download_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "test-agent" {
			t.Errorf("User-Agent = %q, want %q", ua, "test-agent")
		}
		_, _ = w.Write([]byte("image bytes"))
	}))
	defer server.Close()

	dst := filepath.Join(t.TempDir(), "a.jpg")
	size, err := newTestDownloader(server.Client(), 1).Download(context.Background(), server.URL+"/a.jpg", dst)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}

	if size != int64(len("image bytes")) {
		t.Errorf("size = %d", size)
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "image bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestDownloader_Download_Retries(t *testing.T) {
	tests := []struct {
		name      string
		failures  int32
		status    int
		wantCalls int32
		wantErr   bool
	}{
		{name: "recovers after server errors", failures: 2, status: http.StatusBadGateway, wantCalls: 3},
		{name: "gives up after all attempts", failures: 10, status: http.StatusServiceUnavailable, wantCalls: 3, wantErr: true},
		{name: "rate limit is retried", failures: 1, status: http.StatusTooManyRequests, wantCalls: 2},
		{name: "not found is permanent", failures: 10, status: http.StatusNotFound, wantCalls: 1, wantErr: true},
		{name: "forbidden is permanent", failures: 10, status: http.StatusForbidden, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) <= tt.failures {
					w.WriteHeader(tt.status)
					return
				}
				_, _ = w.Write([]byte("ok"))
			}))
			defer server.Close()

			dst := filepath.Join(t.TempDir(), "file")
			_, err := newTestDownloader(server.Client(), 1).Download(context.Background(), server.URL, dst)

			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
			if tt.wantErr {
				if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
					t.Errorf("failed download left a file behind")
				}
			}
		})
	}
}

func TestDownloader_DownloadAll_KeepsOrderAndSkipsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer server.Close()

	items := []e.MediaItem{
		{Kind: e.MediaKindImage, URL: server.URL + "/media/pic.jpg?name=orig"},
		{Kind: e.MediaKindImage, URL: server.URL + "/media/missing.jpg"},
		{Kind: e.MediaKindVideo, URL: server.URL + "/video/pic.jpg"},
	}

	dir := t.TempDir()
	got := newTestDownloader(server.Client(), 2).DownloadAll(context.Background(), items, dir)

	if len(got) != 2 {
		t.Fatalf("downloaded %d items, want 2", len(got))
	}
	if got[0].Kind != e.MediaKindImage || got[1].Kind != e.MediaKindVideo {
		t.Errorf("order = %s, %s, want image, video", got[0].Kind, got[1].Kind)
	}
	if got[0].Path == got[1].Path {
		t.Errorf("items with equal basenames share path %q", got[0].Path)
	}
	for _, item := range got {
		if filepath.Dir(item.Path) != dir {
			t.Errorf("path %q is outside the workspace", item.Path)
		}
		if item.Size == 0 {
			t.Errorf("size of %q is zero", item.Path)
		}
	}
}

func TestDownloader_LimiterBoundsInFlight(t *testing.T) {
	const limit = 2

	var inFlight, maxSeen atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			cur := maxSeen.Load()
			if n <= cur || maxSeen.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		_, _ = w.Write([]byte("x"))
	}))
	defer server.Close()

	d := newTestDownloader(server.Client(), limit)

	// two callers share the limiter like two chats would
	done := make(chan int, 2)
	for c := 0; c < 2; c++ {
		go func() {
			items := make([]e.MediaItem, 5)
			for i := range items {
				items[i] = e.MediaItem{Kind: e.MediaKindImage, URL: fmt.Sprintf("%s/%d/%d.jpg", server.URL, c, i)}
			}
			done <- len(d.DownloadAll(context.Background(), items, t.TempDir()))
		}()
	}

	for c := 0; c < 2; c++ {
		if n := <-done; n != 5 {
			t.Errorf("downloaded %d items, want 5", n)
		}
	}

	if got := maxSeen.Load(); got > limit {
		t.Errorf("max in flight = %d, want at most %d", got, limit)
	}
}

func TestDownloader_CanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestDownloader(server.Client(), 1).Download(ctx, server.URL, filepath.Join(t.TempDir(), "f"))
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		index int
		url   string
		want  string
	}{
		{0, "https://pbs.twimg.com/media/abc.jpg?name=orig", "0_abc.jpg"},
		{3, "https://video.twimg.com/ext_tw_video/1/pu/vid/720x1280/x%20y.mp4?tag=12", "3_x_y.mp4"},
		{1, "https://example.com/", "1_media"},
		{2, "https://example.com/ünï.png", "2__n_.png"},
	}

	for _, tt := range tests {
		if got := FileName(tt.index, tt.url); got != tt.want {
			t.Errorf("FileName(%d, %q) = %q, want %q", tt.index, tt.url, got, tt.want)
		}
	}
}
